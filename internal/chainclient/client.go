package chainclient

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
)

// Options parameterise one chain's client.
type Options struct {
	Chain       string
	RPCURL      string
	Timeout     time.Duration
	LensAddress string
	LensKind    LensKind
	DynamicFees bool
	// PrivateKeyHex may be empty for read-only use; write actions then
	// return an error.
	PrivateKeyHex string
}

// Client is the explicit per-chain handle constructed once and passed by
// reference into every stage. It owns the RPC connection, the lens binding,
// and the hot wallet key for its chain; there is no ambient global state.
type Client struct {
	opts    Options
	logger  zerolog.Logger
	eth     *ethclient.Client
	lens    common.Address
	chainID *big.Int
	signer  types.Signer
	key     *ecdsa.PrivateKey
	wallet  common.Address
}

// Dial connects the client and resolves the chain ID.
func Dial(ctx context.Context, opts Options, logger zerolog.Logger) (*Client, error) {
	if opts.RPCURL == "" {
		return nil, errors.New("chain rpc url not configured")
	}
	if opts.LensAddress == "" {
		return nil, errors.New("harvest lens address not configured")
	}

	eth, err := ethclient.DialContext(ctx, opts.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial %s rpc: %w", opts.Chain, err)
	}

	chainID, err := eth.ChainID(ctx)
	if err != nil {
		eth.Close()
		return nil, fmt.Errorf("fetch %s chain id: %w", opts.Chain, err)
	}

	c := &Client{
		opts:    opts,
		logger:  logger.With().Str("component", "chain_client").Str("chain", opts.Chain).Logger(),
		eth:     eth,
		lens:    common.HexToAddress(opts.LensAddress),
		chainID: chainID,
		signer:  types.LatestSignerForChainID(chainID),
	}

	if keyHex := strings.TrimPrefix(opts.PrivateKeyHex, "0x"); keyHex != "" {
		key, err := crypto.HexToECDSA(keyHex)
		if err != nil {
			eth.Close()
			return nil, fmt.Errorf("parse %s wallet key: %w", opts.Chain, err)
		}
		c.key = key
		c.wallet = crypto.PubkeyToAddress(key.PublicKey)
	}

	return c, nil
}

// Close releases the RPC connection.
func (c *Client) Close() {
	c.eth.Close()
}

// Chain returns the chain name the client serves.
func (c *Client) Chain() string {
	return c.opts.Chain
}

// WalletAddress returns the hot wallet address, zero when running read-only.
func (c *Client) WalletAddress() common.Address {
	return c.wallet
}

// SupportsNoParamsHarvest reports whether the configured lens exposes the
// no-arguments harvest variant.
func (c *Client) SupportsNoParamsHarvest() bool {
	return c.opts.LensKind.supportsNoParams()
}

// GasPrice fetches the current suggested gas price.
func (c *Client) GasPrice(ctx context.Context) (*big.Int, error) {
	ctx, cancel := c.callContext(ctx)
	defer cancel()
	return c.eth.SuggestGasPrice(ctx)
}

// BalanceAt fetches the latest native balance of an account.
func (c *Client) BalanceAt(ctx context.Context, account common.Address) (*big.Int, error) {
	ctx, cancel := c.callContext(ctx)
	defer cancel()
	return c.eth.BalanceAt(ctx, account, nil)
}

// PendingNonce fetches the wallet's next pending nonce.
func (c *Client) PendingNonce(ctx context.Context) (uint64, error) {
	ctx, cancel := c.callContext(ctx)
	defer cancel()
	return c.eth.PendingNonceAt(ctx, c.wallet)
}

// BlockNumber fetches the latest known block height.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	ctx, cancel := c.callContext(ctx)
	defer cancel()
	return c.eth.BlockNumber(ctx)
}

// TransactionReceipt fetches a receipt by hash.
func (c *Client) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	ctx, cancel := c.callContext(ctx)
	defer cancel()
	return c.eth.TransactionReceipt(ctx, txHash)
}

// FetchFees reads the current fee parameters according to the chain's fee
// market, flooring every component at 1 wei.
func (c *Client) FetchFees(ctx context.Context) (Fees, error) {
	ctx, cancel := c.callContext(ctx)
	defer cancel()

	if !c.opts.DynamicFees {
		price, err := c.eth.SuggestGasPrice(ctx)
		if err != nil {
			return Fees{}, fmt.Errorf("suggest gas price: %w", err)
		}
		return Fees{GasPrice: price}.Floored(), nil
	}

	tip, err := c.eth.SuggestGasTipCap(ctx)
	if err != nil {
		return Fees{}, fmt.Errorf("suggest gas tip cap: %w", err)
	}
	head, err := c.eth.HeaderByNumber(ctx, nil)
	if err != nil {
		return Fees{}, fmt.Errorf("fetch head for base fee: %w", err)
	}
	baseFee := head.BaseFee
	if baseFee == nil {
		baseFee = new(big.Int)
	}

	// feeCap = 2*baseFee + tip; room for two max-increase blocks.
	feeCap := new(big.Int).Mul(baseFee, big.NewInt(2))
	feeCap.Add(feeCap, tip)

	return Fees{TipCap: tip, FeeCap: feeCap, Dynamic: true}.Floored(), nil
}

// SimulateHarvest runs the lens simulation for one strategy.
func (c *Client) SimulateHarvest(ctx context.Context, strategy common.Address) (SimulationResult, error) {
	ctx, cancel := c.callContext(ctx)
	defer cancel()

	payload, err := c.opts.LensKind.abi().Pack("simulateHarvest", strategy)
	if err != nil {
		return SimulationResult{}, fmt.Errorf("pack simulateHarvest: %w", err)
	}

	raw, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &c.lens, Data: payload}, nil)
	if err != nil {
		return SimulationResult{}, err
	}

	return decodeSimulation(c.opts.LensKind, raw)
}

func (c *Client) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := c.opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return context.WithTimeout(ctx, timeout)
}

var _ ReadWriter = (*Client)(nil)

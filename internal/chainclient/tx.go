package chainclient

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// ErrNoWallet indicates the client was built without a signing key.
var ErrNoWallet = errors.New("chain client has no wallet key; write actions unavailable")

// HarvestTxRequest describes one harvest submission candidate.
type HarvestTxRequest struct {
	Strategy common.Address
	// NoParams selects the harvestNoParams lens variant.
	NoParams bool
	Nonce    uint64
	Fees     Fees
	// GasLimit of zero defers to node estimation.
	GasLimit uint64
}

func (c *Client) harvestCalldata(strategy common.Address, noParams bool) ([]byte, error) {
	lensABI := c.opts.LensKind.abi()
	if noParams {
		if !c.opts.LensKind.supportsNoParams() {
			return nil, fmt.Errorf("lens kind %s does not support no-params harvest", c.opts.LensKind)
		}
		return lensABI.Pack("harvestNoParams", strategy)
	}
	return lensABI.Pack("harvest", strategy, c.wallet)
}

// SimulateHarvestCall eth_calls the write payload from the wallet, returning
// the expected return data. A revert here surfaces before any gas is spent.
func (c *Client) SimulateHarvestCall(ctx context.Context, strategy common.Address, noParams bool) ([]byte, error) {
	data, err := c.harvestCalldata(strategy, noParams)
	if err != nil {
		return nil, err
	}

	ctx, cancel := c.callContext(ctx)
	defer cancel()

	return c.eth.CallContract(ctx, ethereum.CallMsg{
		From: c.wallet,
		To:   &c.lens,
		Data: data,
	}, nil)
}

// EstimateHarvestGas asks the node for a gas estimate of the write call.
func (c *Client) EstimateHarvestGas(ctx context.Context, strategy common.Address, noParams bool) (uint64, error) {
	data, err := c.harvestCalldata(strategy, noParams)
	if err != nil {
		return 0, err
	}

	ctx, cancel := c.callContext(ctx)
	defer cancel()

	return c.eth.EstimateGas(ctx, ethereum.CallMsg{
		From: c.wallet,
		To:   &c.lens,
		Data: data,
	})
}

// SendHarvest signs and broadcasts one harvest candidate at the requested
// nonce and fee parameters.
func (c *Client) SendHarvest(ctx context.Context, req HarvestTxRequest) (*types.Transaction, error) {
	if c.key == nil {
		return nil, ErrNoWallet
	}

	data, err := c.harvestCalldata(req.Strategy, req.NoParams)
	if err != nil {
		return nil, err
	}

	gasLimit := req.GasLimit
	if gasLimit == 0 {
		gasLimit, err = c.EstimateHarvestGas(ctx, req.Strategy, req.NoParams)
		if err != nil {
			return nil, fmt.Errorf("estimate harvest gas: %w", err)
		}
	}

	fees := req.Fees.Floored()
	var txData types.TxData
	if fees.Dynamic {
		txData = &types.DynamicFeeTx{
			ChainID:   c.chainID,
			Nonce:     req.Nonce,
			GasTipCap: fees.TipCap,
			GasFeeCap: fees.FeeCap,
			Gas:       gasLimit,
			To:        &c.lens,
			Data:      data,
		}
	} else {
		txData = &types.LegacyTx{
			Nonce:    req.Nonce,
			GasPrice: fees.GasPrice,
			Gas:      gasLimit,
			To:       &c.lens,
			Data:     data,
		}
	}

	signed, err := types.SignNewTx(c.key, c.signer, txData)
	if err != nil {
		return nil, fmt.Errorf("sign harvest tx: %w", err)
	}

	ctx, cancel := c.callContext(ctx)
	defer cancel()
	if err := c.eth.SendTransaction(ctx, signed); err != nil {
		return nil, err
	}

	c.logger.Info().
		Str("strategy", req.Strategy.Hex()).
		Str("tx", signed.Hash().Hex()).
		Uint64("nonce", req.Nonce).
		Str("effective_price", bigString(fees.EffectivePrice())).
		Msg("harvest transaction submitted")

	return signed, nil
}

func bigString(i *big.Int) string {
	if i == nil {
		return "0"
	}
	return i.String()
}

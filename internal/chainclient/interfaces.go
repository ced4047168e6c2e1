package chainclient

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Reader covers the read-only chain actions the pipeline needs.
type Reader interface {
	GasPrice(ctx context.Context) (*big.Int, error)
	BalanceAt(ctx context.Context, account common.Address) (*big.Int, error)
	PendingNonce(ctx context.Context) (uint64, error)
	SimulateHarvest(ctx context.Context, strategy common.Address) (SimulationResult, error)
	FetchFees(ctx context.Context) (Fees, error)
}

// Writer covers transaction submission and receipt retrieval.
type Writer interface {
	SimulateHarvestCall(ctx context.Context, strategy common.Address, noParams bool) ([]byte, error)
	SendHarvest(ctx context.Context, req HarvestTxRequest) (*types.Transaction, error)
	EstimateHarvestGas(ctx context.Context, strategy common.Address, noParams bool) (uint64, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

// ReadWriter composes the full capability set of a chain client.
type ReadWriter interface {
	Reader
	Writer
	WalletAddress() common.Address
	SupportsNoParamsHarvest() bool
}

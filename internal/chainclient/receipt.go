package chainclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"

	"vault-harvester/internal/outcome"
)

// ReceiptWaitOptions tune one waiter.
type ReceiptWaitOptions struct {
	Confirmations uint64
	Timeout       time.Duration
	PollInterval  time.Duration
	// NotFoundRetries bounds re-attempts of the whole wait when a lagging
	// node in a load-balanced cluster answers with a block-not-found class
	// error. Any other failure is raised immediately.
	NotFoundRetries int
	NotFoundDelay   time.Duration
}

// ReceiptSource is the read surface the waiter polls.
type ReceiptSource interface {
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

// ReceiptWaiter polls for a transaction receipt with a bounded retry around
// node-lag errors.
type ReceiptWaiter struct {
	source ReceiptSource
	opts   ReceiptWaitOptions
	logger zerolog.Logger
}

// NewReceiptWaiter builds a waiter over a receipt source.
func NewReceiptWaiter(source ReceiptSource, opts ReceiptWaitOptions, logger zerolog.Logger) *ReceiptWaiter {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Minute
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 3 * time.Second
	}
	if opts.Confirmations == 0 {
		opts.Confirmations = 1
	}
	if opts.NotFoundDelay <= 0 {
		opts.NotFoundDelay = 5 * time.Second
	}
	return &ReceiptWaiter{
		source: source,
		opts:   opts,
		logger: logger.With().Str("component", "receipt_waiter").Logger(),
	}
}

// Wait blocks until the transaction is mined and confirmed, the wait times
// out, or a non-transient error occurs.
func (w *ReceiptWaiter) Wait(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	var receipt *types.Receipt

	operation := func() error {
		var err error
		receipt, err = w.waitMined(ctx, txHash)
		if err == nil {
			return nil
		}
		if outcome.IsBlockNotFound(err) {
			w.logger.Warn().Str("tx", txHash.Hex()).Err(err).Msg("node lag while waiting for receipt, retrying")
			return err
		}
		return backoff.Permanent(err)
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(w.opts.NotFoundDelay), uint64(w.opts.NotFoundRetries)),
		ctx,
	)
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, err
	}
	return receipt, nil
}

func (w *ReceiptWaiter) waitMined(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, w.opts.Timeout)
	defer cancel()

	ticker := time.NewTicker(w.opts.PollInterval)
	defer ticker.Stop()

	for {
		receipt, err := w.source.TransactionReceipt(ctx, txHash)
		switch {
		case err == nil:
			if err := w.awaitConfirmations(ctx, receipt, ticker); err != nil {
				return nil, err
			}
			return receipt, nil
		case errors.Is(err, ethereum.NotFound):
			// Not mined yet; keep polling until the deadline.
		default:
			return nil, err
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("receipt wait for %s: %w", txHash.Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}

func (w *ReceiptWaiter) awaitConfirmations(ctx context.Context, receipt *types.Receipt, ticker *time.Ticker) error {
	if w.opts.Confirmations <= 1 {
		return nil
	}
	target := receipt.BlockNumber.Uint64() + w.opts.Confirmations - 1
	for {
		head, err := w.source.BlockNumber(ctx)
		if err != nil {
			return err
		}
		if head >= target {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("confirmation wait: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

package harvest

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"vault-harvester/internal/chainclient"
	"vault-harvester/internal/config"
	"vault-harvester/internal/vaults"
	"vault-harvester/internal/wei"
)

// ErrInsufficientGas is returned when the wallet cannot safely fund the
// estimated transaction cost.
var ErrInsufficientGas = errors.New("wallet balance below estimated transaction cost safety margin")

const (
	defaultMaxTries           = 3
	defaultBalanceSafetyMult  = 1.2
	defaultGasLimitHeadroom   = 1.3
	defaultRetryFeeMultiplier = 1.2
)

// Submitter lands harvest transactions using the gas-escalating nonce-reuse
// protocol. It must run strictly sequentially across vaults: every
// transaction for a chain shares one wallet and nonces must be consumed in
// order.
type Submitter struct {
	client chainclient.ReadWriter
	waiter *chainclient.ReceiptWaiter
	cfg    config.ChainConfig
	logger zerolog.Logger
}

// NewSubmitter builds a submission engine for one chain.
func NewSubmitter(client chainclient.ReadWriter, waiter *chainclient.ReceiptWaiter, cfg config.ChainConfig, logger zerolog.Logger) *Submitter {
	return &Submitter{
		client: client,
		waiter: waiter,
		cfg:    cfg,
		logger: logger.With().Str("component", "submitter").Logger(),
	}
}

// Submit executes one vault's harvest. Blind decisions take the simpler
// single-shot path; everything else goes through the escalation protocol.
func (s *Submitter) Submit(ctx context.Context, vault vaults.Vault, sim Simulation, decision HarvestDecision) (TransactionOutcome, error) {
	if decision.Blind {
		return s.submitBlind(ctx, vault, decision)
	}
	return s.submitEscalating(ctx, vault, sim, decision)
}

// submitEscalating races same-nonce candidates at increasing fees until one
// of them is mined or the attempt budget is spent.
func (s *Submitter) submitEscalating(ctx context.Context, vault vaults.Vault, sim Simulation, decision HarvestDecision) (TransactionOutcome, error) {
	strategy := common.HexToAddress(vault.StrategyAddress)

	if err := s.checkBalance(ctx, sim); err != nil {
		return TransactionOutcome{}, err
	}

	// The nonce is fetched once and held fixed for the whole attempt
	// sequence; every candidate competes for the same slot so at most one
	// can ever be mined.
	nonce, err := s.client.PendingNonce(ctx)
	if err != nil {
		return TransactionOutcome{}, fmt.Errorf("fetch pending nonce: %w", err)
	}

	fees, err := s.client.FetchFees(ctx)
	if err != nil {
		return TransactionOutcome{}, fmt.Errorf("fetch fees: %w", err)
	}

	gasLimit := s.gasLimit(sim)

	maxTries := s.cfg.Submission.MaxTries
	if maxTries <= 0 {
		maxTries = defaultMaxTries
	}

	var outstanding []common.Hash
	var lastErr error

	for attempt := 1; attempt <= maxTries; attempt++ {
		fees = fees.Floored()

		// Dry-run the exact call first; a revert here costs nothing.
		if _, err := s.client.SimulateHarvestCall(ctx, strategy, decision.NoParams); err != nil {
			lastErr = fmt.Errorf("attempt %d call simulation: %w", attempt, err)
			s.logger.Warn().Str("vault", vault.ID).Int("attempt", attempt).Err(err).Msg("harvest call simulation failed")
			fees = s.escalate(fees)
			continue
		}

		tx, err := s.client.SendHarvest(ctx, chainclient.HarvestTxRequest{
			Strategy: strategy,
			NoParams: decision.NoParams,
			Nonce:    nonce,
			Fees:     fees,
			GasLimit: gasLimit,
		})
		if err != nil {
			lastErr = fmt.Errorf("attempt %d submit: %w", attempt, err)
			s.logger.Warn().Str("vault", vault.ID).Int("attempt", attempt).Err(err).Msg("harvest submission failed")
			fees = s.escalate(fees)
			continue
		}
		outstanding = append(outstanding, tx.Hash())

		// Earlier candidates stay outstanding; any of them could still be
		// the one that gets mined, so the race covers them all.
		receipt, err := s.raceReceipts(ctx, outstanding)
		if err == nil {
			return s.buildOutcome(vault, decision, receipt, attempt, outstanding)
		}
		lastErr = err
		s.logger.Warn().
			Str("vault", vault.ID).
			Int("attempt", attempt).
			Int("outstanding", len(outstanding)).
			Err(err).
			Msg("no candidate confirmed, escalating fees")
		fees = s.escalate(fees)
	}

	// The nonce may now be consumed by any outstanding candidate; the next
	// run reconciles it from the chain.
	return TransactionOutcome{Attempts: maxTries, Candidates: hashStrings(outstanding)},
		fmt.Errorf("harvest of %s exhausted %d attempts: %w", vault.ID, maxTries, lastErr)
}

// submitBlind sends a single transaction with node-estimated defaults and
// waits for its receipt. No balance gate, no racing, no escalation: the
// simulation for these vaults cannot be trusted, so neither can its gas
// numbers.
func (s *Submitter) submitBlind(ctx context.Context, vault vaults.Vault, decision HarvestDecision) (TransactionOutcome, error) {
	strategy := common.HexToAddress(vault.StrategyAddress)

	nonce, err := s.client.PendingNonce(ctx)
	if err != nil {
		return TransactionOutcome{}, fmt.Errorf("fetch pending nonce: %w", err)
	}
	fees, err := s.client.FetchFees(ctx)
	if err != nil {
		return TransactionOutcome{}, fmt.Errorf("fetch fees: %w", err)
	}

	tx, err := s.client.SendHarvest(ctx, chainclient.HarvestTxRequest{
		Strategy: strategy,
		NoParams: decision.NoParams,
		Nonce:    nonce,
		Fees:     fees,
	})
	if err != nil {
		return TransactionOutcome{}, fmt.Errorf("blind harvest submit: %w", err)
	}

	receipt, err := s.waiter.Wait(ctx, tx.Hash())
	if err != nil {
		return TransactionOutcome{Attempts: 1, Candidates: []string{tx.Hash().Hex()}}, err
	}
	return s.buildOutcome(vault, decision, receipt, 1, []common.Hash{tx.Hash()})
}

func (s *Submitter) checkBalance(ctx context.Context, sim Simulation) error {
	cost := sim.Gas.TransactionCost.ToInt()
	if cost == nil || cost.Sign() <= 0 {
		return nil
	}

	balance, err := s.client.BalanceAt(ctx, s.client.WalletAddress())
	if err != nil {
		return fmt.Errorf("fetch wallet balance: %w", err)
	}

	multiplier := s.cfg.BalanceSafetyMultiplier
	if multiplier <= 0 {
		multiplier = defaultBalanceSafetyMult
	}
	need := decimal.NewFromBigInt(cost, 0).Mul(decimal.NewFromFloat(multiplier)).Round(0).BigInt()

	if balance.Cmp(need) < 0 {
		return fmt.Errorf("%w: balance %s, need %s", ErrInsufficientGas, balance, need)
	}
	return nil
}

func (s *Submitter) gasLimit(sim Simulation) uint64 {
	raw := sim.Gas.RawGasAmount.ToInt()
	if raw == nil || raw.Sign() <= 0 {
		return 0
	}
	withHeadroom := decimal.NewFromBigInt(raw, 0).Mul(decimal.NewFromFloat(defaultGasLimitHeadroom)).Round(0).BigInt()
	return withHeadroom.Uint64()
}

func (s *Submitter) escalate(fees chainclient.Fees) chainclient.Fees {
	priceMult := s.cfg.Submission.GasPriceMultiplier
	if priceMult <= 0 {
		priceMult = defaultRetryFeeMultiplier
	}
	tipMult := s.cfg.Submission.TipMultiplier
	if tipMult <= 0 {
		tipMult = priceMult
	}
	return fees.Escalated(priceMult, tipMult)
}

// raceReceipts waits on every outstanding candidate simultaneously and
// returns the first receipt to arrive. Losing candidates are not cancelled
// on chain; only our waits stop once a winner is known.
func (s *Submitter) raceReceipts(ctx context.Context, candidates []common.Hash) (*types.Receipt, error) {
	raceCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	type result struct {
		receipt *types.Receipt
		err     error
	}
	results := make(chan result, len(candidates))

	for _, hash := range candidates {
		go func() {
			receipt, err := s.waiter.Wait(raceCtx, hash)
			results <- result{receipt: receipt, err: err}
		}()
	}

	var lastErr error
	for range candidates {
		res := <-results
		if res.err == nil {
			return res.receipt, nil
		}
		lastErr = res.err
	}
	return nil, lastErr
}

func (s *Submitter) buildOutcome(vault vaults.Vault, decision HarvestDecision, receipt *types.Receipt, attempts int, candidates []common.Hash) (TransactionOutcome, error) {
	out := TransactionOutcome{
		Hash:        receipt.TxHash.Hex(),
		BlockNumber: receipt.BlockNumber.Uint64(),
		GasUsed:     receipt.GasUsed,
		Attempts:    attempts,
		Candidates:  hashStrings(candidates),
	}

	effectivePrice := receipt.EffectiveGasPrice
	if effectivePrice == nil {
		effectivePrice = new(big.Int)
	}
	out.EffectiveGasPrice = wei.FromInt(effectivePrice)

	cost := new(big.Int).Mul(new(big.Int).SetUint64(receipt.GasUsed), effectivePrice)
	reward := decision.EstimatedReward.ToInt()
	if reward == nil {
		reward = new(big.Int)
	}
	out.Profit = wei.FromInt(new(big.Int).Sub(reward, cost))

	if receipt.Status != types.ReceiptStatusSuccessful {
		// The nonce is spent either way; escalating further is pointless.
		return out, fmt.Errorf("harvest transaction %s reverted on-chain", receipt.TxHash.Hex())
	}

	s.logger.Info().
		Str("vault", vault.ID).
		Str("tx", out.Hash).
		Int("attempts", attempts).
		Str("profit", out.Profit.String()).
		Msg("harvest confirmed")
	return out, nil
}

func hashStrings(hashes []common.Hash) []string {
	out := make([]string, len(hashes))
	for i, h := range hashes {
		out[i] = h.Hex()
	}
	return out
}

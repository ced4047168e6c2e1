package harvest

import (
	"context"
	"fmt"
	"math/big"
	"slices"
	"time"

	"github.com/rs/zerolog"

	"vault-harvester/internal/chainclient"
	"vault-harvester/internal/config"
	"vault-harvester/internal/outcome"
	"vault-harvester/internal/severity"
	"vault-harvester/internal/vaults"
	"vault-harvester/internal/wei"
)

// Orchestrator drives one chain's full harvest pass: simulate, decide,
// submit, summarize. A hard failure in one stage still returns the partial
// report collected so far.
type Orchestrator struct {
	chain     string
	cfg       config.ChainConfig
	client    chainclient.ReadWriter
	source    vaults.Source
	waiter    *chainclient.ReceiptWaiter
	submitter *Submitter
	logger    zerolog.Logger
	// DryRun stops the pipeline after the decision stage.
	DryRun bool
}

// NewOrchestrator wires the per-chain pipeline.
func NewOrchestrator(chain string, cfg config.ChainConfig, client chainclient.ReadWriter, source vaults.Source, waiter *chainclient.ReceiptWaiter, logger zerolog.Logger) *Orchestrator {
	chainLogger := logger.With().Str("component", "orchestrator").Str("chain", chain).Logger()
	return &Orchestrator{
		chain:     chain,
		cfg:       cfg,
		client:    client,
		source:    source,
		waiter:    waiter,
		submitter: NewSubmitter(client, waiter, cfg, chainLogger),
		logger:    chainLogger,
	}
}

// Run executes the pass. The returned report is always non-nil and reflects
// everything that settled before any error.
func (o *Orchestrator) Run(ctx context.Context) (*ChainReport, error) {
	vaultList, err := o.source.ListVaults(ctx, o.chain)
	if err != nil {
		report := NewChainReport(o.chain, nil)
		o.finalize(report)
		return report, fmt.Errorf("list vaults for %s: %w", o.chain, err)
	}

	report := NewChainReport(o.chain, vaultList)
	o.logger.Info().Int("vaults", len(vaultList)).Msg("starting harvest pass")

	gasPrice, err := outcome.Run(ctx, &report.GasPrice, func(ctx context.Context) (*wei.Big, error) {
		price, err := o.client.GasPrice(ctx)
		if err != nil {
			return nil, err
		}
		return wei.FromInt(price), nil
	})
	if err != nil {
		o.finalize(report)
		return report, fmt.Errorf("fetch gas price for %s: %w", o.chain, err)
	}

	// Balance reads are best-effort bookends; their failure must not
	// abort the run.
	o.recordBalance(ctx, &report.CollectorBalanceBefore)

	simStage, err := NewSimulationStage(o.client, o.cfg, o.logger)
	if err != nil {
		o.finalize(report)
		return report, fmt.Errorf("chain %s: %w", o.chain, err)
	}

	simulated := simStage.Run(ctx, gasPrice.ToInt(), report.Items)
	o.logger.Debug().Int("simulated", len(simulated)).Msg("simulation stage settled")

	decided := RunDecisions(ctx, o.logger, simulated, PolicyInputs{
		Chain:                o.chain,
		Cfg:                  o.cfg,
		LensSupportsNoParams: o.client.SupportsNoParamsHarvest(),
		Now:                  time.Now().UTC(),
	})

	harvestable := make([]*VaultReportItem, 0, len(decided))
	for _, item := range decided {
		if item.Decision.Value.WillHarvest() {
			harvestable = append(harvestable, item)
		}
	}
	o.logger.Info().Int("harvestable", len(harvestable)).Int("decided", len(decided)).Msg("decision stage settled")

	if !o.DryRun && o.cfg.HarvestEnabled {
		o.submitAll(ctx, harvestable)
	}

	o.recordBalance(ctx, &report.CollectorBalanceAfter)
	o.finalize(report)
	return report, nil
}

// submitAll runs strictly sequentially: all transactions share one wallet
// and must consume nonces in order.
func (o *Orchestrator) submitAll(ctx context.Context, items []*VaultReportItem) {
	for _, item := range items {
		decision, ok := item.Decision.Value.(HarvestDecision)
		if !ok {
			continue
		}
		_, err := outcome.Run(ctx, &item.Transaction, func(ctx context.Context) (TransactionOutcome, error) {
			return o.submitter.Submit(ctx, item.Vault, item.Simulation.Value, decision)
		})
		if err != nil {
			// Recorded in the item; one vault's failure never aborts
			// the rest of the chain.
			o.logger.Error().Str("vault", item.Vault.ID).Err(err).Msg("harvest submission failed")
		}
	}
}

func (o *Orchestrator) recordBalance(ctx context.Context, slot *outcome.Outcome[*wei.Big]) {
	_, err := outcome.Run(ctx, slot, func(ctx context.Context) (*wei.Big, error) {
		balance, err := o.client.BalanceAt(ctx, o.client.WalletAddress())
		if err != nil {
			return nil, err
		}
		return wei.FromInt(balance), nil
	})
	if err != nil {
		o.logger.Warn().Err(err).Msg("collector balance read failed")
	}
}

// finalize derives per-item and chain-level summaries.
func (o *Orchestrator) finalize(report *ChainReport) {
	report.FinishedAt = time.Now().UTC()

	chainCtx := severity.Context{BenignRPCError: o.cfg.BenignRPCError}
	itemLevels := make([]severity.Level, 0, len(report.Items))
	profit := new(big.Int)
	harvested, skipped, errored := 0, 0, 0

	for _, item := range report.Items {
		itemCtx := severity.Context{
			BenignRPCError:  o.cfg.BenignRPCError,
			OkNotHarvesting: slices.Contains(o.cfg.Vaults.OkNotHarvesting, item.Vault.ID),
		}

		level := severity.MergeAll(
			severity.Classify(item.Simulation, itemCtx),
			severity.Classify(item.Decision, itemCtx),
			severity.Classify(item.Transaction, itemCtx),
		)

		item.Summary.Level = level
		item.Summary.Harvested = item.Transaction.Ok()
		item.Summary.Skipped = item.Decision.Settled() && item.Decision.Ok() && !item.Decision.Value.WillHarvest()
		if item.Transaction.Ok() {
			item.Summary.Profit = item.Transaction.Value.Profit
			if p := item.Transaction.Value.Profit.ToInt(); p != nil {
				profit.Add(profit, p)
			}
			harvested++
		}
		if item.Summary.Skipped {
			skipped++
		}
		if level == severity.Error {
			errored++
		}

		itemLevels = append(itemLevels, level)
	}

	contextLevel := severity.MergeAll(
		severity.Classify(report.GasPrice, chainCtx),
		severity.Classify(report.CollectorBalanceBefore, chainCtx),
		severity.Classify(report.CollectorBalanceAfter, chainCtx),
	)

	counts := make(map[string]int)
	for level, n := range severity.Count(itemLevels) {
		counts[level.String()] = n
	}

	report.Summary = ChainSummary{
		Level:            severity.Merge(severity.MergeAll(itemLevels...), contextLevel),
		Counts:           counts,
		Harvested:        harvested,
		Skipped:          skipped,
		Errors:           errored,
		AggregatedProfit: wei.FromInt(profit),
	}
}

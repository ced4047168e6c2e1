package harvest

import (
	"context"
	"math/big"
	"slices"
	"strings"
	"time"
	"unicode"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"vault-harvester/internal/buckets"
	"vault-harvester/internal/chainclient"
	"vault-harvester/internal/config"
	"vault-harvester/internal/gas"
	"vault-harvester/internal/outcome"
	"vault-harvester/internal/vaults"
	"vault-harvester/internal/wei"
)

const defaultBatchSize = 10

// SimulationStage runs the batched read-only harvest simulation for every
// vault and derives the per-vault decision inputs.
type SimulationStage struct {
	client      chainclient.Reader
	cfg         config.ChainConfig
	normalTable buckets.Table
	clmTable    buckets.Table
	logger      zerolog.Logger
}

// NewSimulationStage validates the TVL bucket tables up front; a malformed
// table is a configuration error and fails here, not mid-run.
func NewSimulationStage(client chainclient.Reader, cfg config.ChainConfig, logger zerolog.Logger) (*SimulationStage, error) {
	normal, err := cfg.HarvestBucketTable()
	if err != nil {
		return nil, err
	}
	clm, err := cfg.CLMBucketTable()
	if err != nil {
		return nil, err
	}
	return &SimulationStage{
		client:      client,
		cfg:         cfg,
		normalTable: normal,
		clmTable:    clm,
		logger:      logger.With().Str("component", "simulation_stage").Logger(),
	}, nil
}

// Run simulates every item under bounded parallelism, recording each outcome
// into the item's simulation slot, and returns the items whose simulation
// settled successfully.
func (s *SimulationStage) Run(ctx context.Context, gasPrice *big.Int, items []*VaultReportItem) []*VaultReportItem {
	batchSize := s.cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	now := time.Now().UTC()
	return outcome.RunForEach(ctx, s.logger, outcome.ParallelBatched(batchSize), items,
		func(item *VaultReportItem) *outcome.Outcome[Simulation] { return &item.Simulation },
		func(ctx context.Context, item *VaultReportItem) (Simulation, error) {
			return s.simulateOne(ctx, item.Vault, gasPrice, now)
		},
	)
}

func (s *SimulationStage) simulateOne(ctx context.Context, vault vaults.Vault, gasPrice *big.Int, now time.Time) (Simulation, error) {
	if s.isBlind(vault) {
		// Some underlying contracts cannot be simulated at all; those
		// vaults harvest blindly on a fixed schedule and get a synthetic
		// zero-reward success here.
		return s.derive(vault, chainclient.SimulationResult{Success: true, CallReward: new(big.Int), GasUsed: new(big.Int)}, gasPrice, now, true), nil
	}

	raw, err := s.client.SimulateHarvest(ctx, common.HexToAddress(vault.StrategyAddress))
	if err != nil {
		return Simulation{}, err
	}
	return s.derive(vault, raw, gasPrice, now, false), nil
}

func (s *SimulationStage) isBlind(vault vaults.Vault) bool {
	return s.cfg.BlindHarvestAll || slices.Contains(s.cfg.Vaults.BlindHarvest, vault.ID)
}

func (s *SimulationStage) derive(vault vaults.Vault, raw chainclient.SimulationResult, gasPrice *big.Int, now time.Time, blind bool) Simulation {
	table := s.normalTable
	if vault.IsCLM() {
		table = s.clmTable
	}
	bucket, found := table.Resolve(vault.TVLUSD)

	lastHarvest := vault.LastHarvest
	if !raw.LastHarvest.IsZero() {
		onChain := raw.LastHarvest
		lastHarvest = &onChain
	}

	var hoursSince float64
	recent := true
	if lastHarvest != nil {
		since := now.Sub(*lastHarvest)
		hoursSince = since.Hours()
		if found {
			recent = since < bucket.TargetInterval
		}
	} else if found {
		// Never harvested and big enough to matter.
		hoursSince = now.Sub(time.Time{}).Hours()
		recent = false
	}

	sim := Simulation{
		EstimatedReward:       wei.FromInt(raw.CallReward),
		Success:               raw.Success,
		Paused:                raw.Paused,
		LastHarvest:           lastHarvest,
		HoursSinceLastHarvest: hoursSince,
		LastHarvestRecent:     recent,
		TVLBucketFound:        found,
		TargetInterval:        bucket.TargetInterval,
		Blind:                 blind,
		HarvestResult:         printableRevertText(raw.HarvestResult),
		Calm:                  raw.Calm,
		Gas: gas.New(gas.Inputs{
			RawGasPrice:       gasPrice,
			RawGasAmount:      raw.GasUsed,
			RewardWei:         raw.CallReward,
			PriceMultiplier:   s.gasMultiplier(),
			MinExpectedReward: s.cfg.MinExpectedReward(),
		}),
	}
	return sim
}

func (s *SimulationStage) gasMultiplier() float64 {
	if s.cfg.GasPriceMultiplier > 0 {
		return s.cfg.GasPriceMultiplier
	}
	return 1
}

// printableRevertText extracts the readable runs from raw revert bytes so
// reports stay diagnosable without carrying opaque blobs.
func printableRevertText(raw []byte) string {
	if len(raw) == 0 {
		return ""
	}
	var b strings.Builder
	run := 0
	for _, c := range string(raw) {
		if unicode.IsPrint(c) && c < 128 {
			b.WriteRune(c)
			run++
		} else if run > 0 {
			b.WriteByte(' ')
			run = 0
		}
	}
	return strings.TrimSpace(b.String())
}

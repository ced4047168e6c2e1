package harvest

import (
	"time"

	"vault-harvester/internal/gas"
	"vault-harvester/internal/outcome"
	"vault-harvester/internal/severity"
	"vault-harvester/internal/vaults"
	"vault-harvester/internal/wei"
)

// Simulation is the derived result of one vault's read-only harvest
// simulation.
type Simulation struct {
	EstimatedReward       *wei.Big     `json:"estimatedReward"`
	Success               bool         `json:"success"`
	Paused                bool         `json:"paused"`
	LastHarvest           *time.Time   `json:"lastHarvest,omitempty"`
	HoursSinceLastHarvest float64      `json:"hoursSinceLastHarvest"`
	LastHarvestRecent     bool         `json:"lastHarvestRecent"`
	TVLBucketFound        bool         `json:"tvlBucketFound"`
	TargetInterval        time.Duration `json:"targetIntervalMs"`
	// Blind marks the synthetic always-succeeds simulation used for vaults
	// whose contracts cannot be simulated.
	Blind         bool         `json:"blind,omitempty"`
	HarvestResult string       `json:"harvestResult,omitempty"`
	Calm          *bool        `json:"calm,omitempty"`
	Gas           gas.Estimate `json:"gas"`
}

// TransactionOutcome records the landed (or failed) harvest transaction.
type TransactionOutcome struct {
	Hash              string   `json:"hash"`
	BlockNumber       uint64   `json:"blockNumber"`
	GasUsed           uint64   `json:"gasUsed"`
	EffectiveGasPrice *wei.Big `json:"effectiveGasPrice"`
	// Profit is estimated reward minus realised transaction cost.
	Profit     *wei.Big `json:"profit"`
	Attempts   int      `json:"attempts"`
	Candidates []string `json:"candidates,omitempty"`
}

// ItemSummary is derived once all stages for a vault have settled.
type ItemSummary struct {
	Harvested bool           `json:"harvested"`
	Skipped   bool           `json:"skipped"`
	Level     severity.Level `json:"level"`
	Profit    *wei.Big       `json:"profit,omitempty"`
}

// VaultReportItem accumulates one vault's outcomes across the pipeline.
// Each stage owns exactly one slot; no two stages write the same field.
type VaultReportItem struct {
	Vault       vaults.Vault                         `json:"vault"`
	Simulation  outcome.Outcome[Simulation]          `json:"simulation"`
	Decision    outcome.Outcome[Decision]            `json:"decision"`
	Transaction outcome.Outcome[TransactionOutcome]  `json:"transaction"`
	Summary     ItemSummary                          `json:"summary"`
}

// ChainSummary aggregates a finished chain run.
type ChainSummary struct {
	Level            severity.Level `json:"level"`
	Counts           map[string]int `json:"counts"`
	Harvested        int            `json:"harvested"`
	Skipped          int            `json:"skipped"`
	Errors           int            `json:"errors"`
	AggregatedProfit *wei.Big       `json:"aggregatedProfit"`
}

// ChainReport is created once per chain run, mutated in place by each stage,
// finalized by the orchestrator, then handed off read-only.
type ChainReport struct {
	Chain                  string                       `json:"chain"`
	StartedAt              time.Time                    `json:"startedAt"`
	FinishedAt             time.Time                    `json:"finishedAt"`
	GasPrice               outcome.Outcome[*wei.Big]    `json:"gasPrice"`
	CollectorBalanceBefore outcome.Outcome[*wei.Big]    `json:"collectorBalanceBefore"`
	CollectorBalanceAfter  outcome.Outcome[*wei.Big]    `json:"collectorBalanceAfter"`
	Items                  []*VaultReportItem           `json:"items"`
	Summary                ChainSummary                 `json:"summary"`
}

// NewChainReport seeds a report with one item per vault, in input order.
func NewChainReport(chain string, vaultList []vaults.Vault) *ChainReport {
	items := make([]*VaultReportItem, len(vaultList))
	for i, v := range vaultList {
		items[i] = &VaultReportItem{Vault: v}
	}
	return &ChainReport{
		Chain:     chain,
		StartedAt: time.Now().UTC(),
		Items:     items,
	}
}

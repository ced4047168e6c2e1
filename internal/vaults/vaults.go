package vaults

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Vault is an immutable per-run snapshot of one yield position.
type Vault struct {
	ID              string          `json:"id"`
	Chain           string          `json:"chain"`
	StrategyAddress string          `json:"strategyAddress"`
	PlatformID      string          `json:"platformId"`
	TVLUSD          decimal.Decimal `json:"tvlUsd"`
	EOL             bool            `json:"eol"`
	IsCLMManager    bool            `json:"isClmManager"`
	IsCLMVault      bool            `json:"isClmVault"`
	StrategyTypeID  string          `json:"strategyTypeId,omitempty"`
	LastHarvest     *time.Time      `json:"lastHarvest,omitempty"`
}

// IsCLM reports whether either CLM classification applies; CLM vaults use
// the dedicated TVL bucket table.
func (v Vault) IsCLM() bool {
	return v.IsCLMManager || v.IsCLMVault
}

// Source retrieves the vault set for one chain.
type Source interface {
	ListVaults(ctx context.Context, chain string) ([]Vault, error)
}

package harvest

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"vault-harvester/internal/config"
	"vault-harvester/internal/outcome"
	"vault-harvester/internal/severity"
	"vault-harvester/internal/vaults"
	"vault-harvester/internal/wei"
)

// Reason is the closed set of not-harvesting explanations.
type Reason string

const (
	ReasonVaultEOL                 Reason = "vault-is-eol"
	ReasonStrategyPaused           Reason = "strategy-paused"
	ReasonNoTVLBucket              Reason = "no-tvl-bucket"
	ReasonBlindHarvestNotDue       Reason = "blind-harvest-not-due"
	ReasonCalmContradiction        Reason = "not-calm-revert-but-calm-probe-agrees"
	ReasonPositionNotCalm          Reason = "position-not-calm"
	ReasonHarvestRecent            Reason = "last-harvest-recent"
	ReasonLensIncompatible         Reason = "lens-incompatible"
	ReasonPlatformSpuriousFailure  Reason = "platform-spurious-failure"
	ReasonPlatformRewardsExhausted Reason = "platform-rewards-exhausted"
	ReasonAcceptableSkip           Reason = "acceptable-skip"
	ReasonSimulationFailed         Reason = "simulation-failed"
	ReasonOkWithNoRewards          Reason = "ok-with-no-rewards"
	ReasonRewardsRefillPending     Reason = "rewards-refill-pending"
	ReasonCLMManagerNoRewards      Reason = "clm-manager-no-rewards"
	ReasonNoRewards                Reason = "no-rewards"
	ReasonTxCostTooHigh            Reason = "tx-cost-too-high"
	ReasonGasPriceTooHigh          Reason = "gas-price-too-high"
	ReasonNoParamsUnsupported      Reason = "no-params-harvest-unsupported"
)

// Decision is the tagged verdict for one vault. Exactly one variant instance
// exists per vault per run.
type Decision interface {
	WillHarvest() bool
	SeverityLevel() severity.Level
}

// HarvestDecision carries the reward/profitability context of a go verdict.
type HarvestDecision struct {
	ShouldHarvest     bool           `json:"shouldHarvest"`
	EstimatedReward   *wei.Big       `json:"estimatedReward"`
	EstimatedGain     *wei.Big       `json:"estimatedGain"`
	WouldBeProfitable bool           `json:"wouldBeProfitable"`
	// Blind marks fixed-schedule harvests submitted without a trusted
	// simulation.
	Blind    bool           `json:"blind,omitempty"`
	NoParams bool           `json:"noParams,omitempty"`
	Level    severity.Level `json:"level"`
}

func (d HarvestDecision) WillHarvest() bool               { return true }
func (d HarvestDecision) SeverityLevel() severity.Level   { return d.Level }

// SkipDecision carries the reason and severity of a no-go verdict.
type SkipDecision struct {
	ShouldHarvest       bool           `json:"shouldHarvest"`
	NotHarvestingReason Reason         `json:"notHarvestingReason"`
	Level               severity.Level `json:"level"`
	// NeedsEOLReview flags vaults that may deserve retirement.
	NeedsEOLReview bool `json:"needsEolReview,omitempty"`
}

func (d SkipDecision) WillHarvest() bool             { return false }
func (d SkipDecision) SeverityLevel() severity.Level { return d.Level }

func skip(reason Reason, level severity.Level) SkipDecision {
	return SkipDecision{NotHarvestingReason: reason, Level: level}
}

func skipEOLReview(reason Reason, level severity.Level) SkipDecision {
	d := skip(reason, level)
	d.NeedsEOLReview = true
	return d
}

// RunDecisions evaluates the policy for every simulated item in parallel,
// recording each verdict into the item's decision slot. The policy is pure;
// the recorder only exists so failed-to-even-evaluate items (which should
// not happen) remain observable like every other stage.
func RunDecisions(ctx context.Context, logger zerolog.Logger, items []*VaultReportItem, in PolicyInputs) []*VaultReportItem {
	return outcome.RunForEach(ctx, logger, outcome.Parallel(), items,
		func(item *VaultReportItem) *outcome.Outcome[Decision] { return &item.Decision },
		func(_ context.Context, item *VaultReportItem) (Decision, error) {
			return Decide(item.Vault, item.Simulation.Value, in), nil
		},
	)
}

// PolicyInputs gathers everything Decide consumes besides the vault and its
// simulation.
type PolicyInputs struct {
	Chain                string
	Cfg                  config.ChainConfig
	LensSupportsNoParams bool
	Now                  time.Time
}

// Decide maps one vault's simulation to a Decision. Pure, deterministic,
// and total: the rules below are evaluated in strict priority order and the
// first match wins. Reordering them changes alerting behaviour; do not.
func Decide(vault vaults.Vault, sim Simulation, in PolicyInputs) Decision {
	lists := in.Cfg.Vaults

	// 1. Retired vaults never harvest.
	if vault.EOL {
		return skip(ReasonVaultEOL, severity.Info)
	}

	// 2. Paused strategies never harvest.
	if sim.Paused {
		return skip(ReasonStrategyPaused, severity.Info)
	}

	// 3. TVL below every bucket threshold.
	if !sim.TVLBucketFound {
		return skip(ReasonNoTVLBucket, severity.Info)
	}

	// 4. Blind harvesting runs on a fixed wall-clock schedule.
	if interval := blindIntervalHours(vault, in.Cfg); interval > 0 {
		if hourMultiple(in.Now, interval) {
			return HarvestDecision{
				ShouldHarvest:   true,
				EstimatedReward: sim.EstimatedReward,
				EstimatedGain:   sim.Gas.EstimatedGain,
				Blind:           true,
				NoParams:        needsNoParams(vault, lists),
				Level:           severity.Info,
			}
		}
		return skip(ReasonBlindHarvestNotDue, severity.Info)
	}

	// 5. The lens predicts the harvest would fail.
	if !sim.Success {
		notCalm := isNotCalmRevert(sim.HarvestResult)
		switch {
		case notCalm && sim.Calm != nil && *sim.Calm:
			// The revert says "not calm" while the probe says calm.
			// Contradictory by construction; kept as its own branch so
			// it stays separately alertable.
			return skip(ReasonCalmContradiction, severity.Error)
		case notCalm:
			if staleBeyond(sim, in.Cfg.StaleHarvestSilence) {
				return skip(ReasonPositionNotCalm, severity.Error)
			}
			return skip(ReasonPositionNotCalm, severity.Info)
		case sim.LastHarvestRecent:
			return skip(ReasonHarvestRecent, severity.Info)
		case slices.Contains(lists.LensIncompatible, vault.ID):
			return skip(ReasonLensIncompatible, severity.Info)
		case slices.Contains(lists.SpuriousFailurePlatforms, vault.PlatformID):
			return skip(ReasonPlatformSpuriousFailure, severity.Info)
		case slices.Contains(lists.RewardsExhaustedPlatforms, vault.PlatformID):
			return skip(ReasonPlatformRewardsExhausted, severity.Error)
		case slices.Contains(lists.AcceptableSkip, vault.ID):
			return skip(ReasonAcceptableSkip, severity.Notice)
		default:
			return skip(ReasonSimulationFailed, severity.Error)
		}
	}

	// 6. The lens predicts success but no reward.
	if sim.EstimatedReward.Sign() == 0 && !slices.Contains(lists.UnderReportsRewards, vault.ID) {
		switch {
		case sim.LastHarvestRecent:
			return skip(ReasonHarvestRecent, severity.Info)
		case in.Cfg.Gasless:
			return HarvestDecision{
				ShouldHarvest:   true,
				EstimatedReward: sim.EstimatedReward,
				EstimatedGain:   sim.Gas.EstimatedGain,
				NoParams:        needsNoParams(vault, lists),
				Level:           severity.Info,
			}
		case slices.Contains(lists.OkZeroRewards, vault.ID):
			return skip(ReasonOkWithNoRewards, severity.Info)
		case slowRewardRefill(vault, lists) && !refillOverdue(sim):
			return skipEOLReview(ReasonRewardsRefillPending, severity.Notice)
		case slices.Contains(lists.AcceptableSkip, vault.ID):
			return skip(ReasonAcceptableSkip, severity.Notice)
		case vault.IsCLMManager:
			// Users still earn through the underlying position.
			return skip(ReasonCLMManagerNoRewards, severity.Notice)
		default:
			return skipEOLReview(ReasonNoRewards, severity.Error)
		}
	}

	// 7. Transaction cost above the configured native spend ceiling.
	if max := in.Cfg.MaxNativePerTx(); max != nil && sim.Gas.TransactionCost.ToInt().Cmp(max) > 0 {
		return skip(ReasonTxCostTooHigh, congestionLevel(sim, in.Cfg))
	}

	// 8. Effective gas price above the configured ceiling.
	if max := in.Cfg.MaxGasPrice(); max != nil && sim.Gas.EffectiveGasPrice.ToInt().Cmp(max) > 0 {
		return skip(ReasonGasPriceTooHigh, congestionLevel(sim, in.Cfg))
	}

	// 9. Profitability gate, when the chain opts into it.
	if in.Cfg.ProfitabilityCheck && sim.Gas.WouldBeProfitable && sim.Gas.MeetsRewardFloor() {
		return HarvestDecision{
			ShouldHarvest:     true,
			EstimatedReward:   sim.EstimatedReward,
			EstimatedGain:     sim.Gas.EstimatedGain,
			WouldBeProfitable: true,
			NoParams:          needsNoParams(vault, lists),
			Level:             severity.Info,
		}
	}

	// 10. Nothing urgent; the last harvest is still fresh.
	if sim.LastHarvestRecent {
		return skip(ReasonHarvestRecent, severity.Info)
	}

	// 11. The vault needs the no-params call variant the lens lacks.
	if needsNoParams(vault, lists) && !in.LensSupportsNoParams {
		return skip(ReasonNoParamsUnsupported, severity.Error)
	}

	// 12. Default: harvest.
	return HarvestDecision{
		ShouldHarvest:     true,
		EstimatedReward:   sim.EstimatedReward,
		EstimatedGain:     sim.Gas.EstimatedGain,
		WouldBeProfitable: sim.Gas.WouldBeProfitable,
		NoParams:          needsNoParams(vault, lists),
		Level:             severity.Info,
	}
}

func blindIntervalHours(vault vaults.Vault, cfg config.ChainConfig) int {
	if cfg.BlindHarvestAll || slices.Contains(cfg.Vaults.BlindHarvest, vault.ID) {
		if cfg.BlindHarvestIntervalHours > 0 {
			return cfg.BlindHarvestIntervalHours
		}
		return 24
	}
	return 0
}

// hourMultiple reports whether the current time, truncated to the hour, is
// an exact multiple of the interval.
func hourMultiple(now time.Time, intervalHours int) bool {
	hour := now.UTC().Truncate(time.Hour)
	return (hour.Unix()/3600)%int64(intervalHours) == 0
}

// isNotCalmRevert matches the concentrated-liquidity "not calm" revert
// signature in the opaque harvest result bytes.
func isNotCalmRevert(harvestResult string) bool {
	lowered := strings.ToLower(harvestResult)
	return strings.Contains(lowered, "notcalm") || strings.Contains(lowered, "not calm")
}

func staleBeyond(sim Simulation, silence time.Duration) bool {
	if silence <= 0 {
		return false
	}
	return sim.HoursSinceLastHarvest > silence.Hours()
}

func slowRewardRefill(vault vaults.Vault, lists config.VaultListsConfig) bool {
	return slices.Contains(lists.SlowRewardRefillPlatforms, vault.PlatformID) ||
		(vault.StrategyTypeID != "" && slices.Contains(lists.SlowRewardRefillStrategyTypes, vault.StrategyTypeID))
}

// refillOverdue gives slow-refill platforms twice the normal cadence before
// their empty harvests escalate.
func refillOverdue(sim Simulation) bool {
	if sim.TargetInterval <= 0 {
		return false
	}
	return sim.HoursSinceLastHarvest > 2*sim.TargetInterval.Hours()
}

func congestionLevel(sim Simulation, cfg config.ChainConfig) severity.Level {
	if staleBeyond(sim, cfg.CongestionGracePeriod) {
		return severity.Error
	}
	return severity.Warning
}

func needsNoParams(vault vaults.Vault, lists config.VaultListsConfig) bool {
	return slices.Contains(lists.NoParamsHarvest, vault.ID)
}

package harvest

import (
	"math/big"
	"reflect"
	"testing"
	"time"

	"vault-harvester/internal/config"
	"vault-harvester/internal/gas"
	"vault-harvester/internal/severity"
	"vault-harvester/internal/vaults"
	"vault-harvester/internal/wei"
)

func policyVault() vaults.Vault {
	return vaults.Vault{
		ID:              "platform-token-token",
		Chain:           "testchain",
		StrategyAddress: "0x00000000000000000000000000000000000000aa",
		PlatformID:      "platform",
	}
}

func policySim(reward int64) Simulation {
	return Simulation{
		EstimatedReward:       wei.FromInt64(reward),
		Success:               true,
		TVLBucketFound:        true,
		TargetInterval:        time.Hour,
		HoursSinceLastHarvest: 48,
		Gas: gas.New(gas.Inputs{
			RawGasPrice:     big.NewInt(10),
			RawGasAmount:    big.NewInt(100_000),
			RewardWei:       big.NewInt(reward),
			PriceMultiplier: 1.5,
		}),
	}
}

func policyInputs() PolicyInputs {
	return PolicyInputs{
		Chain:                "testchain",
		Cfg:                  config.ChainConfig{},
		LensSupportsNoParams: true,
		// 01:00 UTC: 对 24 小时盲收间隔而言未到期
		Now: time.Date(2025, 3, 1, 1, 0, 0, 0, time.UTC),
	}
}

func wantSkip(t *testing.T, d Decision, reason Reason, level severity.Level) SkipDecision {
	t.Helper()
	skip, ok := d.(SkipDecision)
	if !ok {
		t.Fatalf("期望 SkipDecision, 实际 %T", d)
	}
	if skip.NotHarvestingReason != reason {
		t.Fatalf("期望原因 %s, 实际 %s", reason, skip.NotHarvestingReason)
	}
	if skip.Level != level {
		t.Fatalf("原因 %s: 期望级别 %s, 实际 %s", reason, level, skip.Level)
	}
	if skip.WillHarvest() {
		t.Fatal("SkipDecision 不应收割")
	}
	return skip
}

func wantHarvest(t *testing.T, d Decision) HarvestDecision {
	t.Helper()
	h, ok := d.(HarvestDecision)
	if !ok {
		t.Fatalf("期望 HarvestDecision, 实际 %T", d)
	}
	if !h.WillHarvest() {
		t.Fatal("HarvestDecision 应收割")
	}
	return h
}

func TestDecideEOL(t *testing.T) {
	vault := policyVault()
	vault.EOL = true
	wantSkip(t, Decide(vault, policySim(1000), policyInputs()), ReasonVaultEOL, severity.Info)
}

func TestDecidePaused(t *testing.T) {
	sim := policySim(1000)
	sim.Paused = true
	wantSkip(t, Decide(policyVault(), sim, policyInputs()), ReasonStrategyPaused, severity.Info)
}

func TestDecideNoTVLBucket(t *testing.T) {
	sim := policySim(1000)
	sim.TVLBucketFound = false
	wantSkip(t, Decide(policyVault(), sim, policyInputs()), ReasonNoTVLBucket, severity.Info)
}

func TestDecideBlindHarvestSchedule(t *testing.T) {
	vault := policyVault()
	in := policyInputs()
	in.Cfg.Vaults.BlindHarvest = []string{vault.ID}

	// 00:xx UTC 对 24 小时间隔到期
	in.Now = time.Date(2025, 3, 1, 0, 30, 0, 0, time.UTC)
	h := wantHarvest(t, Decide(vault, policySim(0), in))
	if !h.Blind {
		t.Fatal("盲收决定应带 Blind 标记")
	}

	in.Now = time.Date(2025, 3, 1, 1, 30, 0, 0, time.UTC)
	wantSkip(t, Decide(vault, policySim(0), in), ReasonBlindHarvestNotDue, severity.Info)
}

func TestDecideBlindHarvestChainWide(t *testing.T) {
	in := policyInputs()
	in.Cfg.BlindHarvestAll = true
	in.Cfg.BlindHarvestIntervalHours = 2
	// 02:00 UTC 是 2 小时间隔的整数倍
	in.Now = time.Date(2025, 3, 1, 2, 5, 0, 0, time.UTC)
	h := wantHarvest(t, Decide(policyVault(), policySim(0), in))
	if !h.Blind {
		t.Fatal("链级盲收应带 Blind 标记")
	}
}

func TestDecideCalmContradiction(t *testing.T) {
	sim := policySim(1000)
	sim.Success = false
	sim.HarvestResult = "execution reverted: NotCalm()"
	calm := true
	sim.Calm = &calm
	wantSkip(t, Decide(policyVault(), sim, policyInputs()), ReasonCalmContradiction, severity.Error)
}

func TestDecidePositionNotCalm(t *testing.T) {
	sim := policySim(1000)
	sim.Success = false
	sim.HarvestResult = "not calm"

	wantSkip(t, Decide(policyVault(), sim, policyInputs()), ReasonPositionNotCalm, severity.Info)

	in := policyInputs()
	in.Cfg.StaleHarvestSilence = 24 * time.Hour
	// 48 小时未收割, 超过 24 小时静默期
	wantSkip(t, Decide(policyVault(), sim, in), ReasonPositionNotCalm, severity.Error)
}

func TestDecideSimulationFailureBranches(t *testing.T) {
	base := policySim(1000)
	base.Success = false

	recent := base
	recent.HoursSinceLastHarvest = 0.2
	recent.LastHarvestRecent = true
	wantSkip(t, Decide(policyVault(), recent, policyInputs()), ReasonHarvestRecent, severity.Info)

	in := policyInputs()
	in.Cfg.Vaults.LensIncompatible = []string{policyVault().ID}
	wantSkip(t, Decide(policyVault(), base, in), ReasonLensIncompatible, severity.Info)

	in = policyInputs()
	in.Cfg.Vaults.SpuriousFailurePlatforms = []string{"platform"}
	wantSkip(t, Decide(policyVault(), base, in), ReasonPlatformSpuriousFailure, severity.Info)

	in = policyInputs()
	in.Cfg.Vaults.RewardsExhaustedPlatforms = []string{"platform"}
	wantSkip(t, Decide(policyVault(), base, in), ReasonPlatformRewardsExhausted, severity.Error)

	in = policyInputs()
	in.Cfg.Vaults.AcceptableSkip = []string{policyVault().ID}
	wantSkip(t, Decide(policyVault(), base, in), ReasonAcceptableSkip, severity.Notice)

	wantSkip(t, Decide(policyVault(), base, policyInputs()), ReasonSimulationFailed, severity.Error)
}

func TestDecideZeroRewardBranches(t *testing.T) {
	sim := policySim(0)

	recent := sim
	recent.LastHarvestRecent = true
	wantSkip(t, Decide(policyVault(), recent, policyInputs()), ReasonHarvestRecent, severity.Info)

	in := policyInputs()
	in.Cfg.Gasless = true
	wantHarvest(t, Decide(policyVault(), sim, in))

	in = policyInputs()
	in.Cfg.Vaults.OkZeroRewards = []string{policyVault().ID}
	wantSkip(t, Decide(policyVault(), sim, in), ReasonOkWithNoRewards, severity.Info)

	in = policyInputs()
	in.Cfg.Vaults.SlowRewardRefillPlatforms = []string{"platform"}
	slow := sim
	slow.HoursSinceLastHarvest = 1.5
	skip := wantSkip(t, Decide(policyVault(), slow, in), ReasonRewardsRefillPending, severity.Notice)
	if !skip.NeedsEOLReview {
		t.Fatal("补充等待应标记 EOL 复核")
	}
	// 超过 2 倍目标间隔后不再宽限
	wantSkip(t, Decide(policyVault(), sim, in), ReasonNoRewards, severity.Error)

	manager := policyVault()
	manager.IsCLMManager = true
	wantSkip(t, Decide(manager, sim, policyInputs()), ReasonCLMManagerNoRewards, severity.Notice)

	skip = wantSkip(t, Decide(policyVault(), sim, policyInputs()), ReasonNoRewards, severity.Error)
	if !skip.NeedsEOLReview {
		t.Fatal("无奖励应标记 EOL 复核")
	}
}

func TestDecideUnderReportsRewardsBypassesZeroCheck(t *testing.T) {
	in := policyInputs()
	in.Cfg.Vaults.UnderReportsRewards = []string{policyVault().ID}
	wantHarvest(t, Decide(policyVault(), policySim(0), in))
}

func TestDecideCostCeilings(t *testing.T) {
	sim := policySim(10_000_000)
	// 成本 = 100000 * 15 = 1500000

	in := policyInputs()
	in.Cfg.MaxNativePerTxWei = "1000000"
	wantSkip(t, Decide(policyVault(), sim, in), ReasonTxCostTooHigh, severity.Warning)

	// 拥堵宽限期已过则升级为 Error
	in.Cfg.CongestionGracePeriod = 24 * time.Hour
	wantSkip(t, Decide(policyVault(), sim, in), ReasonTxCostTooHigh, severity.Error)

	in = policyInputs()
	in.Cfg.MaxGasPriceWei = "10"
	wantSkip(t, Decide(policyVault(), sim, in), ReasonGasPriceTooHigh, severity.Warning)
}

func TestDecideProfitabilityGate(t *testing.T) {
	in := policyInputs()
	in.Cfg.ProfitabilityCheck = true
	h := wantHarvest(t, Decide(policyVault(), policySim(10_000_000), in))
	if !h.WouldBeProfitable {
		t.Fatal("盈利门通过应标记可盈利")
	}

	// 不可盈利但也不在其他拒绝分支: 落到新鲜度检查
	sim := policySim(1000)
	sim.LastHarvestRecent = true
	wantSkip(t, Decide(policyVault(), sim, in), ReasonHarvestRecent, severity.Info)
}

func TestDecideNoParamsUnsupported(t *testing.T) {
	in := policyInputs()
	in.Cfg.Vaults.NoParamsHarvest = []string{policyVault().ID}
	in.LensSupportsNoParams = false
	wantSkip(t, Decide(policyVault(), policySim(1000), in), ReasonNoParamsUnsupported, severity.Error)

	in.LensSupportsNoParams = true
	h := wantHarvest(t, Decide(policyVault(), policySim(1000), in))
	if !h.NoParams {
		t.Fatal("应选择无参收割变体")
	}
}

func TestDecideDefaultHarvest(t *testing.T) {
	h := wantHarvest(t, Decide(policyVault(), policySim(1000), policyInputs()))
	if h.Blind || h.NoParams {
		t.Fatalf("默认收割不应带特殊标记: %+v", h)
	}
	if h.SeverityLevel() != severity.Info {
		t.Fatalf("收割决定应为 Info, 实际 %s", h.SeverityLevel())
	}
}

func TestDecideDeterministic(t *testing.T) {
	vault := policyVault()
	sim := policySim(1000)
	in := policyInputs()
	first := Decide(vault, sim, in)
	second := Decide(vault, sim, in)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("相同输入应得到相同决定: %+v vs %+v", first, second)
	}
}

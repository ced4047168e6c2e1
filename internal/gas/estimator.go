// Package gas derives harvest transaction cost and profitability from raw
// chain readings. All arithmetic is integer wei; the price multiplier is the
// single floating-point input and is rounded, never truncated, to avoid
// systematic underestimation.
package gas

import (
	"math/big"

	"github.com/shopspring/decimal"

	"vault-harvester/internal/wei"
)

// DefaultMultiplierPrecision bounds the decimal places kept when applying
// the price multiplier.
const DefaultMultiplierPrecision = 4

// Inputs parameterise one estimation.
type Inputs struct {
	RawGasPrice       *big.Int
	RawGasAmount      *big.Int
	RewardWei         *big.Int
	PriceMultiplier   float64
	MinExpectedReward *big.Int
	// MultiplierPrecision overrides DefaultMultiplierPrecision when > 0.
	MultiplierPrecision int32
}

// Estimate is the derived cost/profitability report for one vault.
type Estimate struct {
	RawGasPrice       *wei.Big `json:"rawGasPrice"`
	RawGasAmount      *wei.Big `json:"rawGasAmount"`
	EstimatedReward   *wei.Big `json:"estimatedReward"`
	PriceMultiplier   float64  `json:"priceMultiplier"`
	MinExpectedReward *wei.Big `json:"minExpectedReward"`
	EffectiveGasPrice *wei.Big `json:"effectiveGasPrice"`
	TransactionCost   *wei.Big `json:"transactionCost"`
	EstimatedGain     *wei.Big `json:"estimatedGain"`
	WouldBeProfitable bool     `json:"wouldBeProfitable"`
}

// New computes the estimation report. Pure and deterministic.
//
// effectivePrice = round(rawGasPrice * multiplier)
// cost           = rawGasAmount * effectivePrice
// gain           = reward - cost (may be negative)
// profitable     = gain > 0
//
// The minimum-expected-reward floor is carried through for the caller; it is
// deliberately not part of the profitability flag.
func New(in Inputs) Estimate {
	precision := in.MultiplierPrecision
	if precision <= 0 {
		precision = DefaultMultiplierPrecision
	}

	rawPrice := orZero(in.RawGasPrice)
	rawAmount := orZero(in.RawGasAmount)
	reward := orZero(in.RewardWei)

	multiplier := decimal.NewFromFloat(in.PriceMultiplier).Round(precision)
	effectivePrice := decimal.NewFromBigInt(rawPrice, 0).Mul(multiplier).Round(0).BigInt()

	cost := new(big.Int).Mul(rawAmount, effectivePrice)
	gain := new(big.Int).Sub(reward, cost)

	return Estimate{
		RawGasPrice:       wei.FromInt(rawPrice),
		RawGasAmount:      wei.FromInt(rawAmount),
		EstimatedReward:   wei.FromInt(reward),
		PriceMultiplier:   in.PriceMultiplier,
		MinExpectedReward: wei.FromInt(orZero(in.MinExpectedReward)),
		EffectiveGasPrice: wei.FromInt(effectivePrice),
		TransactionCost:   wei.FromInt(cost),
		EstimatedGain:     wei.FromInt(gain),
		WouldBeProfitable: gain.Sign() > 0,
	}
}

// MeetsRewardFloor reports whether the estimated reward clears the
// minimum-expected-reward floor.
func (e Estimate) MeetsRewardFloor() bool {
	if e.MinExpectedReward == nil || e.MinExpectedReward.Sign() <= 0 {
		return true
	}
	return e.EstimatedReward.ToInt().Cmp(e.MinExpectedReward.ToInt()) >= 0
}

func orZero(i *big.Int) *big.Int {
	if i == nil {
		return new(big.Int)
	}
	return i
}

package chainclient

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// Fees holds the fee components for one submission attempt. Legacy chains
// populate GasPrice; dynamic-fee chains populate TipCap and FeeCap.
type Fees struct {
	GasPrice *big.Int
	TipCap   *big.Int
	FeeCap   *big.Int
	Dynamic  bool
}

var oneWei = big.NewInt(1)

// Floored returns a copy with every present fee component raised to at least
// 1 wei. Most networks reject a zero fee outright, and an aggressive
// multiplier sequence must never drive a component back to zero, so the
// floor applies on every attempt rather than only the first.
func (f Fees) Floored() Fees {
	out := Fees{Dynamic: f.Dynamic}
	out.GasPrice = floorComponent(f.GasPrice)
	out.TipCap = floorComponent(f.TipCap)
	out.FeeCap = floorComponent(f.FeeCap)
	return out
}

func floorComponent(c *big.Int) *big.Int {
	if c == nil {
		return nil
	}
	if c.Sign() <= 0 {
		return new(big.Int).Set(oneWei)
	}
	return new(big.Int).Set(c)
}

// Escalated multiplies each fee component by its configured retry
// multiplier and re-applies the floor. Price-bearing components (gas price,
// fee cap) use priceMultiplier; the tip uses tipMultiplier.
func (f Fees) Escalated(priceMultiplier, tipMultiplier float64) Fees {
	out := Fees{Dynamic: f.Dynamic}
	out.GasPrice = scaleComponent(f.GasPrice, priceMultiplier)
	out.TipCap = scaleComponent(f.TipCap, tipMultiplier)
	out.FeeCap = scaleComponent(f.FeeCap, priceMultiplier)
	return out.Floored()
}

func scaleComponent(c *big.Int, multiplier float64) *big.Int {
	if c == nil {
		return nil
	}
	if multiplier <= 0 {
		multiplier = 1
	}
	scaled := decimal.NewFromBigInt(c, 0).Mul(decimal.NewFromFloat(multiplier)).Round(0)
	return scaled.BigInt()
}

// EffectivePrice returns the component that bounds per-gas spend: the gas
// price on legacy chains, the fee cap on dynamic chains.
func (f Fees) EffectivePrice() *big.Int {
	if f.Dynamic {
		return f.FeeCap
	}
	return f.GasPrice
}

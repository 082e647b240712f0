package risk

// greeks.go implements Black-76 option pricing (the standard model for
// options on futures, which is what NSE index/stock options are —
// European-exercise, cash-settled against a futures-like forward) to
// compute the portfolio Greek envelope the risk gate's derivatives check
// enforces (spec §4.9 check 6).

import (
	"math"
)

// OptionKind distinguishes a call from a put for Greek computation.
type OptionKind int

const (
	CallOption OptionKind = iota
	PutOption
)

// GreekInputs are the Black-76 parameters for a single option position.
type GreekInputs struct {
	Forward      float64 // underlying forward/futures price
	Strike       float64
	TimeToExpiry float64 // in years
	RiskFreeRate float64
	Volatility   float64
	Kind         OptionKind
}

// Greeks holds a position's per-unit delta, gamma, and vega.
type Greeks struct {
	Delta float64
	Gamma float64
	Vega  float64
}

func normCDF(x float64) float64 {
	return 0.5 * (1 + math.Erf(x/math.Sqrt2))
}

func normPDF(x float64) float64 {
	return math.Exp(-0.5*x*x) / math.Sqrt(2*math.Pi)
}

// Compute returns the Black-76 Greeks for a single option contract. A
// zero or negative TimeToExpiry/Volatility returns zero Greeks rather
// than dividing by zero — an expired or malformed input contributes
// nothing to the portfolio envelope instead of poisoning it with NaN.
func Compute(in GreekInputs) Greeks {
	if in.TimeToExpiry <= 0 || in.Volatility <= 0 || in.Forward <= 0 || in.Strike <= 0 {
		return Greeks{}
	}

	sqrtT := math.Sqrt(in.TimeToExpiry)
	d1 := (math.Log(in.Forward/in.Strike) + 0.5*in.Volatility*in.Volatility*in.TimeToExpiry) / (in.Volatility * sqrtT)
	d2 := d1 - in.Volatility*sqrtT
	discount := math.Exp(-in.RiskFreeRate * in.TimeToExpiry)
	_ = d2

	gamma := discount * normPDF(d1) / (in.Forward * in.Volatility * sqrtT)
	vega := in.Forward * discount * normPDF(d1) * sqrtT

	var delta float64
	switch in.Kind {
	case CallOption:
		delta = discount * normCDF(d1)
	case PutOption:
		delta = -discount * normCDF(-d1)
	}

	return Greeks{Delta: delta, Gamma: gamma, Vega: vega}
}

// PortfolioLeg is one derivative position's contribution to the envelope:
// per-unit Greeks scaled by signed quantity and the contract multiplier.
type PortfolioLeg struct {
	Inputs     GreekInputs
	SignedQty  float64 // positive for long, negative for short
	Multiplier float64
}

// AggregatePortfolio sums each leg's Greeks, scaled by its signed
// quantity and multiplier, into a single net portfolio exposure.
func AggregatePortfolio(legs []PortfolioLeg) Greeks {
	var total Greeks
	for _, leg := range legs {
		g := Compute(leg.Inputs)
		scale := leg.SignedQty * leg.Multiplier
		total.Delta += g.Delta * scale
		total.Gamma += g.Gamma * scale
		total.Vega += g.Vega * scale
	}
	return total
}

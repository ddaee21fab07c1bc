// Package risk holds position sizing and the global lockout guard.
package risk

import (
	"math"

	"github.com/rs/zerolog/log"
)

// SizerConfig holds position sizing parameters
type SizerConfig struct {
	RiskPerTrade   float64 // fraction of balance risked per trade
	MaxPositionPct float64 // max notional as fraction of balance
	StepSize       float64 // exchange quantity step
	MinNotional    float64 // exchange minimum order value
}

// DefaultSizerConfig returns the default sizing parameters
func DefaultSizerConfig() SizerConfig {
	return SizerConfig{
		RiskPerTrade:   0.01,
		MaxPositionPct: 0.20,
		StepSize:       0.001,
		MinNotional:    5.0,
	}
}

// PositionSizer computes order quantities from account balance and
// stop distance, capped by maximum exposure.
type PositionSizer struct {
	config SizerConfig
}

// NewPositionSizer creates a position sizer
func NewPositionSizer(config SizerConfig) *PositionSizer {
	if config.RiskPerTrade <= 0 {
		config = DefaultSizerConfig()
	}
	return &PositionSizer{config: config}
}

// CalculateSize returns the quantity for an entry: the smaller of the
// risk-derived size (risk budget / stop distance) and the exposure cap
// (max notional / entry). Returns 0 when inputs are unusable.
func (ps *PositionSizer) CalculateSize(balance, entryPrice, stopLoss float64) float64 {
	if entryPrice <= 0 || stopLoss <= 0 {
		return 0
	}

	riskAmount := balance * ps.config.RiskPerTrade
	slDistance := math.Abs(entryPrice - stopLoss)

	var qtyRisk float64
	if slDistance > 0 {
		qtyRisk = riskAmount / slDistance
	}

	maxInvest := balance * ps.config.MaxPositionPct
	qtyCap := maxInvest / entryPrice

	qty := math.Min(qtyRisk, qtyCap)

	log.Debug().
		Float64("balance", balance).
		Float64("qtyRisk", qtyRisk).
		Float64("qtyCap", qtyCap).
		Float64("qty", qty).
		Msg("Position sized")

	return qty
}

// RoundToStep rounds a quantity down to the exchange step size
func (ps *PositionSizer) RoundToStep(qty float64) float64 {
	step := ps.config.StepSize
	if step <= 0 {
		return qty
	}
	steps := math.Floor(qty/step + 1e-9)
	rounded := steps * step

	// Avoid float dust from the multiplication
	precision := int(math.Round(-math.Log10(step)))
	mult := math.Pow(10, float64(precision))
	return math.Round(rounded*mult) / mult
}

// CheckMinNotional reports whether price*qty clears the exchange floor
func (ps *PositionSizer) CheckMinNotional(price, qty float64) bool {
	return price*qty >= ps.config.MinNotional
}

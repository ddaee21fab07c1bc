package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func newTestSizer() *PositionSizer {
	return NewPositionSizer(SizerConfig{
		RiskPerTrade:   0.01,
		MaxPositionPct: 0.20,
		StepSize:       0.001,
		MinNotional:    5.0,
	})
}

func TestCalculateSize_MinOfTwoRule(t *testing.T) {
	sizer := newTestSizer()

	// Risk budget 100 over a 2.4 stop distance allows 41.67 units, but
	// the 20% exposure cap (2000/120) binds first.
	qty := sizer.CalculateSize(10000, 120, 117.6)
	assert.InDelta(t, 2000.0/120.0, qty, 1e-9)

	// Stop far from entry: risk leg binds
	qty = sizer.CalculateSize(10000, 100, 50)
	assert.InDelta(t, 2.0, qty, 1e-9) // 100 risk / 50 distance
}

func TestCalculateSize_InvalidInputs(t *testing.T) {
	sizer := newTestSizer()

	assert.Equal(t, 0.0, sizer.CalculateSize(10000, 0, 95))
	assert.Equal(t, 0.0, sizer.CalculateSize(10000, 100, 0))
	assert.Equal(t, 0.0, sizer.CalculateSize(10000, 100, 100)) // zero stop distance
}

func TestRoundToStep(t *testing.T) {
	sizer := newTestSizer()

	assert.InDelta(t, 16.666, sizer.RoundToStep(16.66666), 1e-12)
	assert.InDelta(t, 0.001, sizer.RoundToStep(0.0019), 1e-12)
	assert.InDelta(t, 0.0, sizer.RoundToStep(0.0004), 1e-12)
	// An exact multiple survives untouched
	assert.InDelta(t, 2.5, sizer.RoundToStep(2.5), 1e-12)
}

func TestCheckMinNotional_Boundary(t *testing.T) {
	sizer := newTestSizer()

	assert.True(t, sizer.CheckMinNotional(5.0, 1))
	assert.True(t, sizer.CheckMinNotional(100, 0.05))
	assert.False(t, sizer.CheckMinNotional(100, 0.0499))
}

func TestGuard_Lockout(t *testing.T) {
	guard := NewGuard()
	assert.False(t, guard.Locked())

	guard.Lock("test")
	assert.True(t, guard.Locked())

	guard.Unlock()
	assert.False(t, guard.Locked())
}

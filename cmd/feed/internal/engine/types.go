package engine

import (
	"math/rand"
	"time"
)

// for deterministic testing
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

// for deterministic values
type Rand interface {
	Intn(n int) int
	Float64() float64
}

type RealClock struct{}

func (RealClock) Now() time.Time        { return time.Now() }
func (RealClock) Sleep(d time.Duration) { time.Sleep(d) }

type RealRand struct{ *rand.Rand }

func (r RealRand) Intn(n int) int   { return r.Rand.Intn(n) }
func (r RealRand) Float64() float64 { return r.Rand.Float64() }

// Params are the simulation coefficients. They appear in config so
// deployments can tune regime behaviour; the defaults match the
// production values.
type Params struct {
	BaseVolatility    float64 // std-dev scale of the per-tick shock
	MomentumFactor    float64 // fraction of the last move carried forward
	ReversionStrength float64 // pull toward base price, per unit deviation
	VolatilityStep    float64 // max per-tick drift of the volatility multiplier
	VolatilityMin     float64
	VolatilityMax     float64
	SideBias          float64 // maps pct change to buy probability
	VolumeSpike       float64 // extra volume per unit |pct change|
}

func DefaultParams() Params {
	return Params{
		BaseVolatility:    0.002,
		MomentumFactor:    0.3,
		ReversionStrength: 0.05,
		VolatilityStep:    0.025,
		VolatilityMin:     0.4,
		VolatilityMax:     2.5,
		SideBias:          30,
		VolumeSpike:       5000,
	}
}

// symbolState is the per-ticker walk state. Owned exclusively by the
// engine and mutated only inside NextTrade.
type symbolState struct {
	symbol    string
	price     float64
	basePrice float64
	momentum  float64
	volMult   float64
}

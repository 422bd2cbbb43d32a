package engine

import (
	"fmt"
	"math"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/tradewire/tradewire/pkg/models"
)

// Engine advances a bounded random walk per symbol and mints trades.
// Price moves are the sum of three terms: a normally distributed shock
// (scaled by a slow-varying volatility multiplier), a momentum carry of
// the previous move, and a mean-reversion pull toward the base price.
// Prices are hard-clamped to [0.5*base, 2*base] so consumers never see
// negative or runaway values.
type Engine struct {
	logger *zap.Logger
	params Params
	rand   Rand
	clock  Clock

	mu      sync.Mutex
	symbols map[string]*symbolState
	order   []string // stable symbol list for random picks
	nextID  int64
}

func New(logger *zap.Logger, params Params, basePrices map[string]float64, rnd Rand, clock Clock) *Engine {
	symbols := make(map[string]*symbolState, len(basePrices))
	order := make([]string, 0, len(basePrices))
	for sym, base := range basePrices {
		symbols[sym] = &symbolState{
			symbol:    sym,
			price:     base,
			basePrice: base,
			volMult:   1,
		}
		order = append(order, sym)
	}
	sort.Strings(order)

	return &Engine{
		logger:  logger,
		params:  params,
		rand:    rnd,
		clock:   clock,
		symbols: symbols,
		order:   order,
	}
}

// NextTrade advances the walk for one symbol and returns the resulting trade.
func (e *Engine) NextTrade(symbol string) (models.Trade, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	st, ok := e.symbols[symbol]
	if !ok {
		return models.Trade{}, fmt.Errorf("unknown symbol %q", symbol)
	}
	return e.nextTradeLocked(st), nil
}

// GenerateBatch produces n trades, each for a uniformly random symbol
// from the tracked set (repeats allowed).
func (e *Engine) GenerateBatch(n int) []models.Trade {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.order) == 0 || n <= 0 {
		return nil
	}

	trades := make([]models.Trade, 0, n)
	for i := 0; i < n; i++ {
		sym := e.order[e.rand.Intn(len(e.order))]
		trades = append(trades, e.nextTradeLocked(e.symbols[sym]))
	}
	return trades
}

// PriceSnapshot returns the current price per tracked symbol.
func (e *Engine) PriceSnapshot() map[string]float64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	snap := make(map[string]float64, len(e.symbols))
	for sym, st := range e.symbols {
		snap[sym] = st.price
	}
	return snap
}

// Reset restores every symbol to its base price with neutral momentum
// and volatility, and rewinds the trade id counter.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, st := range e.symbols {
		st.price = st.basePrice
		st.momentum = 0
		st.volMult = 1
	}
	e.nextID = 0
	e.logger.Debug("Engine reset", zap.Int("symbols", len(e.symbols)))
}

func (e *Engine) nextTradeLocked(st *symbolState) models.Trade {
	p := e.params

	// Volatility clustering: the multiplier drifts, it does not jump.
	st.volMult += (e.rand.Float64()*2 - 1) * p.VolatilityStep
	st.volMult = clamp(st.volMult, p.VolatilityMin, p.VolatilityMax)

	shock := e.normFloat() * p.BaseVolatility * st.volMult
	carry := st.momentum * p.MomentumFactor
	reversion := -((st.price - st.basePrice) / st.basePrice) * p.ReversionStrength

	pctChange := shock + carry + reversion
	st.momentum = pctChange

	price := st.price * (1 + pctChange)
	price = clamp(price, 0.5*st.basePrice, 2*st.basePrice)
	price = math.Round(price*100) / 100
	st.price = price

	// Volume spikes with the size of the move.
	volume := 50 + e.rand.Intn(201) + int(math.Abs(pctChange)*p.VolumeSpike) + e.rand.Intn(10)
	if volume < 1 {
		volume = 1
	}

	// Buy pressure follows price direction.
	buyProb := 0.5 + pctChange*p.SideBias + (e.rand.Float64()-0.5)*0.05
	buyProb = clamp(buyProb, 0.25, 0.75)
	side := models.SideSell
	if e.rand.Float64() < buyProb {
		side = models.SideBuy
	}

	e.nextID++
	return models.Trade{
		ID:        e.nextID,
		Timestamp: e.clock.Now().UnixMilli(),
		Symbol:    st.symbol,
		Price:     price,
		Volume:    volume,
		Side:      side,
	}
}

// normFloat draws a standard normal via the Box-Muller transform, using
// only the Rand interface so tests can substitute a fixed source.
func (e *Engine) normFloat() float64 {
	u1 := e.rand.Float64()
	for u1 <= 1e-12 {
		u1 = e.rand.Float64()
	}
	u2 := e.rand.Float64()
	return math.Sqrt(-2*math.Log(u1)) * math.Cos(2*math.Pi*u2)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

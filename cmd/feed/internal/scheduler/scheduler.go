package scheduler

import (
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/tradewire/tradewire/pkg/models"
)

// Source produces trades on demand. Satisfied by engine.Engine.
type Source interface {
	GenerateBatch(n int) []models.Trade
}

// BatchSink receives every emitted batch.
type BatchSink func(trades []models.Trade)

// TradeSink receives emitted trades one at a time.
type TradeSink func(trade models.Trade)

// StatsFunc is reported at the stats cadence with the running total and
// the throughput measured over the window since the previous report.
type StatsFunc func(total int64, perSecond float64)

type Config struct {
	Rate          int           // target trades per second
	BatchSize     int           // trades per tick
	TotalTrades   int64         // 0 = unbounded
	StatsInterval time.Duration // 0 = stats disabled
	StatsFunc     StatsFunc
}

// Scheduler drives a Source at a target rate, delivering one batch per
// tick to every registered sink. Emission and stats run on independent
// timers; Stop cancels both synchronously.
type Scheduler struct {
	logger *zap.Logger
	cfg    Config
	source Source

	batchSinks []BatchSink
	tradeSinks []TradeSink

	emitted int64 // atomic
	running int32 // atomic

	mu       sync.Mutex
	started  bool
	stopping bool
	stopCh   chan struct{}
	done     chan struct{}
}

func New(logger *zap.Logger, cfg Config, source Source) *Scheduler {
	return &Scheduler{
		logger: logger,
		cfg:    cfg,
		source: source,
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// OnBatch registers a sink receiving each emitted batch. Must be called
// before Start.
func (s *Scheduler) OnBatch(fn BatchSink) { s.batchSinks = append(s.batchSinks, fn) }

// OnTrade registers a sink receiving each emitted trade individually.
// Must be called before Start.
func (s *Scheduler) OnTrade(fn TradeSink) { s.tradeSinks = append(s.tradeSinks, fn) }

// TickInterval is the emission period derived from rate and batch size.
func (s *Scheduler) TickInterval() time.Duration {
	ticksPerSec := math.Ceil(float64(s.cfg.Rate) / float64(s.cfg.BatchSize))
	return time.Duration(float64(time.Second) / ticksPerSec)
}

// Start begins emission. The returned channel closes when the scheduler
// finishes, either by reaching its trade cap or via Stop.
func (s *Scheduler) Start() (<-chan struct{}, error) {
	if s.cfg.Rate <= 0 || s.cfg.BatchSize <= 0 {
		return nil, errors.New("scheduler: rate and batch size must be positive")
	}

	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil, errors.New("scheduler: already started")
	}
	s.started = true
	s.mu.Unlock()

	atomic.StoreInt32(&s.running, 1)
	go s.run()

	return s.done, nil
}

// Stop halts emission and waits for the run loop to exit, so no sink or
// stats callback fires after it returns. Safe to call repeatedly.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started || s.stopping {
		s.mu.Unlock()
		return
	}
	s.stopping = true
	s.mu.Unlock()

	close(s.stopCh)
	<-s.done
}

func (s *Scheduler) IsRunning() bool { return atomic.LoadInt32(&s.running) == 1 }

func (s *Scheduler) TotalEmitted() int64 { return atomic.LoadInt64(&s.emitted) }

func (s *Scheduler) run() {
	defer func() {
		atomic.StoreInt32(&s.running, 0)
		close(s.done)
	}()

	interval := s.TickInterval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var statsC <-chan time.Time
	if s.cfg.StatsInterval > 0 && s.cfg.StatsFunc != nil {
		statsTicker := time.NewTicker(s.cfg.StatsInterval)
		defer statsTicker.Stop()
		statsC = statsTicker.C
	}

	s.logger.Info("Scheduler started",
		zap.Int("rate", s.cfg.Rate),
		zap.Int("batch_size", s.cfg.BatchSize),
		zap.Int64("total_trades", s.cfg.TotalTrades),
		zap.Duration("tick_interval", interval))

	windowStart := time.Now()
	var windowCount int64

	for {
		select {
		case <-s.stopCh:
			s.logger.Info("Scheduler stopped", zap.Int64("emitted", s.TotalEmitted()))
			return

		case <-ticker.C:
			n := s.cfg.BatchSize
			if s.cfg.TotalTrades > 0 {
				remaining := s.cfg.TotalTrades - s.TotalEmitted()
				if remaining <= 0 {
					s.logger.Info("Scheduler completed", zap.Int64("emitted", s.TotalEmitted()))
					return
				}
				if remaining < int64(n) {
					n = int(remaining)
				}
			}

			trades := s.source.GenerateBatch(n)
			if len(trades) == 0 {
				continue
			}
			atomic.AddInt64(&s.emitted, int64(len(trades)))

			for _, sink := range s.batchSinks {
				sink(trades)
			}
			for _, sink := range s.tradeSinks {
				for _, tr := range trades {
					sink(tr)
				}
			}

			if s.cfg.TotalTrades > 0 && s.TotalEmitted() >= s.cfg.TotalTrades {
				s.logger.Info("Scheduler completed", zap.Int64("emitted", s.TotalEmitted()))
				return
			}

		case <-statsC:
			total := s.TotalEmitted()
			elapsed := time.Since(windowStart).Seconds()
			perSec := 0.0
			if elapsed > 0 {
				perSec = float64(total-windowCount) / elapsed
			}
			s.cfg.StatsFunc(total, perSec)
			windowStart = time.Now()
			windowCount = total
		}
	}
}

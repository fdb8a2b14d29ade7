// Package scheduler owns the process-wide job queue and worker pool
// that runs every (DAO, indexer) tuple on its own adaptive cadence
// (spec §4.12).
package scheduler

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/google/uuid"
	"github.com/govindex/engine/internal/logging"
	"github.com/govindex/engine/internal/store"
)

const (
	defaultQueueSize         = 100
	defaultConcurrency       = 5
	defaultProduceInterval   = time.Second
	speedGrowthFactor        = 1.2
	speedShrinkFactor        = 0.5
	defaultLightIndexTimeout = 30 * time.Second
)

// Indexer is anything the scheduler can run on its own adjustable
// cadence: every job carries the speed bounds and deadline the
// scheduler enforces around one Run call.
type Indexer interface {
	Run(ctx context.Context) error
	MinSpeed() int64
	MaxSpeed() int64
	Timeout() time.Duration
}

// job binds one Indexer to the governor whose persisted (index, speed)
// state it reads and writes.
type job struct {
	id         string
	governorID uuid.UUID
	indexer    Indexer
}

// Config tunes the scheduler's queue depth, worker count, and produce
// cadence.
type Config struct {
	QueueSize       int
	Concurrency     int
	ProduceInterval time.Duration
	BetterStackKey  string
}

// Scheduler runs a fixed pool of workers draining a bounded queue,
// refilled once per ProduceInterval with every not-currently-in-flight
// job.
type Scheduler struct {
	cfg    Config
	store  *store.Store
	logger *logging.Logger

	queue chan job
	http  *http.Client

	mu       sync.Mutex
	jobs     []job
	inFlight map[string]struct{}
}

// New builds a Scheduler. Jobs are registered with Register before Run
// starts the worker pool.
func New(cfg Config, st *store.Store, logger *logging.Logger) *Scheduler {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.ProduceInterval <= 0 {
		cfg.ProduceInterval = defaultProduceInterval
	}

	return &Scheduler{
		cfg:      cfg,
		store:    st,
		logger:   logger.Named("scheduler"),
		queue:    make(chan job, cfg.QueueSize),
		http:     &http.Client{Timeout: 10 * time.Second},
		inFlight: make(map[string]struct{}),
	}
}

// Register adds one (governor, indexer) tuple to the scheduler's job
// list. Call before Run.
func (s *Scheduler) Register(governorID uuid.UUID, label string, indexer Indexer) {
	s.jobs = append(s.jobs, job{
		id:         fmt.Sprintf("%s:%s", governorID, label),
		governorID: governorID,
		indexer:    indexer,
	})
}

// Run starts the worker pool and the produce loop; blocks until ctx is
// canceled.
func (s *Scheduler) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for i := 0; i < s.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.worker(ctx)
		}()
	}

	ticker := time.NewTicker(s.cfg.ProduceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return ctx.Err()
		case <-ticker.C:
			s.produce(ctx)
			s.pingHeartbeat(ctx)
		}
	}
}

// produce enqueues every registered job not currently in flight.
func (s *Scheduler) produce(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, j := range s.jobs {
		if _, busy := s.inFlight[j.id]; busy {
			continue
		}
		select {
		case s.queue <- j:
			s.inFlight[j.id] = struct{}{}
		default:
			s.logger.Warn("scheduler queue full, dropping tick", zap.String("job", j.id))
		}
	}
}

func (s *Scheduler) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-s.queue:
			s.runJob(ctx, j)
			s.mu.Lock()
			delete(s.inFlight, j.id)
			s.mu.Unlock()
		}
	}
}

// runJob loads persisted (index, speed), bounds the run by the
// indexer's declared timeout, and adjusts speed per spec §4.5 step 6:
// grow ~1.2x on success (capped at max), shrink ~0.5x on failure
// (floored at min). The indexer itself is the sole owner of `index`
// advancement through the store calls it makes mid-run; the scheduler
// only persists `speed`.
func (s *Scheduler) runJob(ctx context.Context, j job) {
	st, err := s.store.LoadIndexerState(ctx, j.governorID, j.indexer.MinSpeed())
	if err != nil {
		s.logger.Error("failed to load indexer state", zap.Error(err), zap.String("job", j.id))
		return
	}

	timeout := j.indexer.Timeout()
	if timeout <= 0 {
		timeout = defaultLightIndexTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	runErr := j.indexer.Run(runCtx)
	duration := time.Since(start)

	// Re-read so the index the indexer persisted mid-run is kept.
	if fresh, err := s.store.LoadIndexerState(ctx, j.governorID, j.indexer.MinSpeed()); err == nil {
		st = fresh
	}

	if runErr != nil {
		s.logger.Error("indexer run failed", zap.Error(runErr), zap.String("job", j.id), zap.Duration("duration", duration))
		st.Speed = shrinkSpeed(st.Speed, j.indexer.MinSpeed())
	} else {
		s.logger.Info("indexer run completed", zap.String("job", j.id), zap.Duration("duration", duration))
		st.Speed = growSpeed(st.Speed, j.indexer.MaxSpeed())
	}

	if err := s.store.SaveIndexerState(ctx, st); err != nil {
		s.logger.Error("failed to persist indexer state", zap.Error(err), zap.String("job", j.id))
	}
}

func growSpeed(speed, max int64) int64 {
	grown := int64(float64(speed) * speedGrowthFactor)
	if grown <= speed {
		grown = speed + 1
	}
	if max > 0 && grown > max {
		grown = max
	}
	return grown
}

func shrinkSpeed(speed, min int64) int64 {
	shrunk := int64(float64(speed) * speedShrinkFactor)
	if shrunk < min {
		shrunk = min
	}
	return shrunk
}

// pingHeartbeat best-effort notifies BetterStack once per scheduler
// produce tick, whatever the outcome of the jobs (spec §4.12).
func (s *Scheduler) pingHeartbeat(ctx context.Context) {
	if s.cfg.BetterStackKey == "" {
		return
	}
	url := fmt.Sprintf("https://uptime.betterstack.com/api/v1/heartbeat/%s", s.cfg.BetterStackKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return
	}
	resp, err := s.http.Do(req)
	if err != nil {
		s.logger.Warn("heartbeat ping failed", zap.Error(err))
		return
	}
	resp.Body.Close()
}

package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Prometheus metrics for request pacing.
var (
	reservoirGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "apaas_ratelimit_reservoir",
		Help: "Permits remaining in the current rate limit window",
	})

	queueDepthGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "apaas_ratelimit_queue_depth",
		Help: "Operations waiting for a rate limit permit",
	})

	dispatchesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "apaas_ratelimit_dispatches_total",
		Help: "Total number of operations dispatched by the rate limiter",
	})

	waitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "apaas_ratelimit_wait_seconds",
		Help:    "Time an operation spent waiting for dispatch",
		Buckets: []float64{0.01, 0.05, 0.2, 0.5, 1, 2, 5, 10},
	})
)

// Operation is a unit of work run once a permit is granted.
type Operation func(ctx context.Context) error

type job struct {
	ctx      context.Context
	op       Operation
	done     chan error
	enqueued time.Time
	state    atomic.Int32
}

// Job states. A job moves from queued to either running or abandoned, once.
const (
	jobQueued int32 = iota
	jobRunning
	jobAbandoned
)

// abandon marks a job that has not started so the dispatcher skips it. It
// reports false when the operation is already running.
func (j *job) abandon() bool {
	return j.state.CompareAndSwap(jobQueued, jobAbandoned)
}

// Limiter dispatches scheduled operations in FIFO order, never faster than
// MinTime apart and never more than the reservoir allows per refill window.
type Limiter struct {
	cfg     Config
	spacing *rate.Limiter
	logger  zerolog.Logger

	mu         sync.Mutex
	started    time.Time
	window     int64
	reservoir  int
	lastRefill time.Time
	queued     int

	queue  chan *job
	ctx    context.Context
	cancel context.CancelFunc
	exited chan struct{}
	once   sync.Once
}

// New creates a limiter and starts its dispatcher.
func New(cfg Config, logger zerolog.Logger) (*Limiter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}

	limit := rate.Inf
	if cfg.MinTime > 0 {
		limit = rate.Every(cfg.MinTime)
	}

	ctx, cancel := context.WithCancel(context.Background())
	now := time.Now()
	l := &Limiter{
		cfg:        cfg,
		spacing:    rate.NewLimiter(limit, 1),
		logger:     logger,
		started:    now,
		reservoir:  cfg.Reservoir,
		lastRefill: now,
		queue:      make(chan *job, cfg.QueueSize),
		ctx:        ctx,
		cancel:     cancel,
		exited:     make(chan struct{}),
	}
	reservoirGauge.Set(float64(cfg.Reservoir))

	go l.run()

	l.logger.Debug().
		Dur("min_time", cfg.MinTime).
		Int("reservoir", cfg.Reservoir).
		Dur("refill_interval", cfg.RefillInterval).
		Msg("Rate limiter started")

	return l, nil
}

// Schedule queues op and blocks until it has been dispatched and has returned.
// The operation's error is returned unchanged. If ctx ends before dispatch the
// operation never runs and ctx.Err() is returned. Once dispatched, Schedule
// always waits for the operation's own result.
func (l *Limiter) Schedule(ctx context.Context, op Operation) error {
	if l.ctx.Err() != nil {
		return ErrLimiterClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	j := &job{ctx: ctx, op: op, done: make(chan error, 1), enqueued: time.Now()}

	l.adjustQueued(1)
	select {
	case l.queue <- j:
	case <-ctx.Done():
		l.adjustQueued(-1)
		return ctx.Err()
	case <-l.ctx.Done():
		l.adjustQueued(-1)
		return ErrLimiterClosed
	}

	select {
	case err := <-j.done:
		return err
	case <-ctx.Done():
		if j.abandon() {
			return ctx.Err()
		}
		return <-j.done
	case <-l.exited:
		if j.abandon() {
			return ErrLimiterClosed
		}
		return <-j.done
	}
}

// State returns a snapshot of the limiter.
func (l *Limiter) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refillLocked(time.Now())

	return State{
		Reservoir:  l.reservoir,
		LastRefill: l.lastRefill,
		MinSpacing: l.cfg.MinTime,
		Queued:     l.queued,
	}
}

// Started returns the instant refill windows are measured from.
func (l *Limiter) Started() time.Time {
	return l.started
}

// Config returns the limiter configuration.
func (l *Limiter) Config() Config {
	return l.cfg
}

// Close stops the dispatcher. Operations still queued fail with ErrLimiterClosed;
// operations already dispatched run to completion.
func (l *Limiter) Close() error {
	l.once.Do(func() {
		l.cancel()
		<-l.exited
		l.logger.Debug().Msg("Rate limiter stopped")
	})
	return nil
}

func (l *Limiter) run() {
	defer close(l.exited)

	for {
		select {
		case <-l.ctx.Done():
			l.drain()
			return
		case j := <-l.queue:
			l.adjustQueued(-1)
			l.dispatch(j)
		}
	}
}

func (l *Limiter) drain() {
	for {
		select {
		case j := <-l.queue:
			l.adjustQueued(-1)
			j.done <- ErrLimiterClosed
		default:
			return
		}
	}
}

func (l *Limiter) dispatch(j *job) {
	if err := j.ctx.Err(); err != nil {
		j.done <- err
		return
	}

	if err := l.acquire(j.ctx); err != nil {
		if l.ctx.Err() != nil {
			err = ErrLimiterClosed
		}
		j.done <- err
		return
	}

	waited := time.Since(j.enqueued)
	waitSeconds.Observe(waited.Seconds())
	dispatchesTotal.Inc()

	l.logger.Debug().
		Dur("waited", waited).
		Msg("Operation dispatched")

	if !j.state.CompareAndSwap(jobQueued, jobRunning) {
		j.done <- j.ctx.Err()
		return
	}
	go func() {
		j.done <- j.op(j.ctx)
	}()
}

// acquire blocks until a permit is available and MinTime has elapsed since the
// previous dispatch, then consumes the permit.
func (l *Limiter) acquire(jobCtx context.Context) error {
	ctx, cancel := context.WithCancel(jobCtx)
	defer cancel()
	stop := context.AfterFunc(l.ctx, cancel)
	defer stop()

	for {
		wait := l.untilPermit(time.Now())
		if wait <= 0 {
			break
		}

		l.logger.Debug().
			Dur("wait", wait).
			Msg("Reservoir empty, waiting for refill")

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}

	if err := l.spacing.Wait(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("wait for dispatch slot: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.refillLocked(time.Now())
	// Only the dispatcher consumes permits and a refill never lowers the
	// reservoir below one, so a permit seen in untilPermit is still there.
	l.reservoir--
	reservoirGauge.Set(float64(l.reservoir))

	return nil
}

// untilPermit returns zero when a permit is available, otherwise the time
// left until the next refill.
func (l *Limiter) untilPermit(now time.Time) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refillLocked(now)

	if l.reservoir > 0 {
		return 0
	}

	next := l.started.Add(time.Duration(l.window+1) * l.cfg.RefillInterval)
	return next.Sub(now)
}

// refillLocked resets the reservoir when now has entered a later window.
func (l *Limiter) refillLocked(now time.Time) {
	window := int64(now.Sub(l.started) / l.cfg.RefillInterval)
	if window <= l.window {
		return
	}

	l.window = window
	l.reservoir = l.cfg.refillLevel()
	l.lastRefill = l.started.Add(time.Duration(window) * l.cfg.RefillInterval)
	reservoirGauge.Set(float64(l.reservoir))
}

func (l *Limiter) adjustQueued(delta int) {
	l.mu.Lock()
	l.queued += delta
	queued := l.queued
	l.mu.Unlock()
	queueDepthGauge.Set(float64(queued))
}

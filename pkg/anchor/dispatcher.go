package anchor

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/DrSkyle/agenttrace/pkg/trace"
)

// ErrQueueFull is returned by Enqueue when the buffer is exhausted. The
// record stays pending and can be anchored later.
var ErrQueueFull = errors.New("anchor: queue full")

// ErrDispatcherClosed is returned by Enqueue after Wait.
var ErrDispatcherClosed = errors.New("anchor: dispatcher closed")

// Amender records the outcome of an anchoring attempt.
type Amender interface {
	AmendAnchor(ctx context.Context, key, anchoredHash string, next trace.AnchorStatus) (*trace.Record, error)
}

// Job is one persisted record awaiting anchoring.
type Job struct {
	Key  string
	Hash string
}

// Result is the outcome of one job.
type Result struct {
	Job    Job
	Status trace.AnchorStatus
	Err    error
}

// DispatcherConfig configures a Dispatcher.
type DispatcherConfig struct {
	Client    Client
	Store     Amender
	Logger    *slog.Logger
	Workers   int
	QueueSize int
}

// Dispatcher anchors persisted records in the background. Enqueue never
// blocks the caller.
type Dispatcher struct {
	client Client
	store  Amender
	logger *slog.Logger

	queue chan Job
	g     *errgroup.Group

	mu      sync.Mutex
	closed  bool
	results []Result
}

// NewDispatcher starts the workers. They stop when Wait is called or ctx ends.
func NewDispatcher(ctx context.Context, cfg DispatcherConfig) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	d := &Dispatcher{
		client: cfg.Client,
		store:  cfg.Store,
		logger: cfg.Logger,
		queue:  make(chan Job, cfg.QueueSize),
		g:      &errgroup.Group{},
	}
	for i := 0; i < cfg.Workers; i++ {
		d.g.Go(func() error {
			for job := range d.queue {
				d.record(d.process(ctx, job))
			}
			return nil
		})
	}
	return d
}

// Enqueue hands a job to the workers without waiting.
func (d *Dispatcher) Enqueue(job Job) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrDispatcherClosed
	}
	select {
	case d.queue <- job:
		return nil
	default:
		d.logger.Warn("Anchor queue full, record left pending", "key", job.Key)
		return ErrQueueFull
	}
}

// Wait drains the queue and returns every result.
func (d *Dispatcher) Wait() []Result {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	_ = d.g.Wait()

	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Result(nil), d.results...)
}

func (d *Dispatcher) record(r Result) {
	d.mu.Lock()
	d.results = append(d.results, r)
	d.mu.Unlock()
}

func (d *Dispatcher) process(ctx context.Context, job Job) Result {
	res := Result{Job: job}
	if err := ctx.Err(); err != nil {
		res.Err = err
		return res
	}

	receipt, err := d.client.Submit(ctx, job.Hash)
	switch {
	case err == nil:
		res.Status = trace.AnchorStatus{Status: trace.AnchorAnchored, Reference: receipt.Reference}
	case errors.Is(err, ErrConfigIncomplete), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		// Nothing was attempted; the record stays pending.
		res.Err = err
		d.logger.Warn("Anchor not attempted", "key", job.Key, "error", err)
		return res
	default:
		res.Err = err
		res.Status = trace.AnchorStatus{Status: trace.AnchorFailed, Note: err.Error()}
		d.logger.Error("Anchor submission failed", "key", job.Key, "error", err)
	}

	if _, err := d.store.AmendAnchor(ctx, job.Key, job.Hash, res.Status); err != nil {
		d.logger.Error("Failed to record anchor status", "key", job.Key, "error", err)
		res.Err = errors.Join(res.Err, err)
		return res
	}
	d.logger.Info("Anchor status recorded", "key", job.Key, "status", res.Status.Status, "reference", res.Status.Reference)
	return res
}

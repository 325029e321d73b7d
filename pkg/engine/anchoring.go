package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/DrSkyle/agenttrace/pkg/anchor"
	"github.com/DrSkyle/agenttrace/pkg/store"
	agenttrace "github.com/DrSkyle/agenttrace/pkg/trace"
)

func (e *Engine) newDispatcher(ctx context.Context) *anchor.Dispatcher {
	return anchor.NewDispatcher(ctx, anchor.DispatcherConfig{
		Client:  e.Anchor,
		Store:   e.Store,
		Logger:  e.Logger,
		Workers: e.config.AnchorWorkers,
	})
}

// AnchorPending submits stored records that are not yet anchored. With no
// revisions every pending or failed record is submitted.
func (e *Engine) AnchorPending(ctx context.Context, revisions []string) (results []anchor.Result, err error) {
	ctx, span := e.Tracer.Start(ctx, "Engine.Anchor")
	defer span.End()
	defer e.recoverPanic(ctx, &err)

	if e.Store == nil {
		return nil, fmt.Errorf("%w: store", ErrNotConfigured)
	}
	if e.Anchor == nil {
		return nil, fmt.Errorf("%w: anchor client", ErrNotConfigured)
	}

	jobs, err := e.pendingJobs(ctx, revisions)
	if err != nil {
		return nil, err
	}
	if len(jobs) == 0 {
		e.Logger.Info("Nothing to anchor")
		return nil, nil
	}

	d := anchor.NewDispatcher(ctx, anchor.DispatcherConfig{
		Client:    e.Anchor,
		Store:     e.Store,
		Logger:    e.Logger,
		Workers:   e.config.AnchorWorkers,
		QueueSize: len(jobs),
	})
	for _, j := range jobs {
		if err := d.Enqueue(j); err != nil {
			results = append(results, anchor.Result{Job: j, Err: err})
		}
	}
	results = append(results, d.Wait()...)

	var errs []error
	for _, r := range results {
		if r.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", r.Job.Key, r.Err))
		}
	}
	return results, errors.Join(errs...)
}

func (e *Engine) pendingJobs(ctx context.Context, revisions []string) ([]anchor.Job, error) {
	var jobs []anchor.Job
	if len(revisions) == 0 {
		sums, err := e.Store.List(ctx)
		if err != nil {
			return nil, err
		}
		for _, s := range sums {
			if s.AnchorStatus != agenttrace.AnchorAnchored && s.TraceHash != "" {
				jobs = append(jobs, anchor.Job{Key: s.Key, Hash: s.TraceHash})
			}
		}
		return jobs, nil
	}

	for _, rev := range revisions {
		key, rec, err := e.Store.Find(ctx, rev)
		if err != nil {
			return nil, err
		}
		if rec.Anchored() {
			e.Logger.Info("Already anchored", "key", key, "reference", rec.Metadata.AnchorStatus.Reference)
			continue
		}
		jobs = append(jobs, anchor.Job{Key: key, Hash: rec.Metadata.TraceHash})
	}
	return jobs, nil
}

// List returns stored record summaries, newest first, with anchor counts.
func (e *Engine) List(ctx context.Context) ([]store.Summary, store.Analytics, error) {
	ctx, span := e.Tracer.Start(ctx, "Engine.List")
	defer span.End()

	if e.Store == nil {
		return nil, store.Analytics{}, fmt.Errorf("%w: store", ErrNotConfigured)
	}
	sums, err := e.Store.List(ctx)
	if err != nil {
		return nil, store.Analytics{}, err
	}
	return sums, store.Analyze(sums), nil
}

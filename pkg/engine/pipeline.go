package engine

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/DrSkyle/agenttrace/pkg/anchor"
	"github.com/DrSkyle/agenttrace/pkg/config"
	"github.com/DrSkyle/agenttrace/pkg/extract"
	"github.com/DrSkyle/agenttrace/pkg/seal"
	"github.com/DrSkyle/agenttrace/pkg/store"
	agenttrace "github.com/DrSkyle/agenttrace/pkg/trace"
)

// Outcome classifies what happened to one commit.
type Outcome string

const (
	OutcomeWritten   Outcome = "written"
	OutcomeExists    Outcome = "exists"
	OutcomeNoChanges Outcome = "no-changes"
	OutcomeFailed    Outcome = "failed"
)

// CommitResult reports one traced commit.
type CommitResult struct {
	Ref       string
	Revision  string
	Key       string
	TraceHash string
	Outcome   Outcome
	Skipped   []extract.Skip
	Err       error
}

// Report summarizes a backfill run.
type Report struct {
	Commits []CommitResult
	Anchors []anchor.Result
}

// Count returns how many commits ended with outcome o.
func (r *Report) Count(o Outcome) int {
	n := 0
	for _, c := range r.Commits {
		if c.Outcome == o {
			n++
		}
	}
	return n
}

// Backfill traces each ref in order. A failing commit does not stop the
// run; the report carries every outcome and the error is ErrPartialResult
// when any commit failed.
func (e *Engine) Backfill(ctx context.Context, refs []string) (rep *Report, err error) {
	ctx, span := e.Tracer.Start(ctx, "Engine.Backfill")
	defer span.End()
	defer e.recoverPanic(ctx, &err)

	if err := e.requirePipeline(); err != nil {
		return nil, err
	}

	e.Logger.Info("Starting backfill", "commits", len(refs), "pow", e.config.PoW)

	var dispatcher *anchor.Dispatcher
	if e.config.AnchorOnWrite && e.Anchor != nil {
		dispatcher = e.newDispatcher(ctx)
	}

	rep = &Report{}
	b := e.builder(agenttrace.Backfill, e.Identity)
	opts := seal.Options{PoW: e.config.PoW, Search: e.config.Search}
	for _, ref := range refs {
		res := e.traceCommit(ctx, ref, b, opts, agenttrace.BuildInput{})
		if dispatcher != nil && res.Outcome == OutcomeWritten {
			if err := dispatcher.Enqueue(anchor.Job{Key: res.Key, Hash: res.TraceHash}); err != nil {
				e.Logger.Warn("Anchor not queued, record stays pending", "key", res.Key, "error", err)
			}
		}
		rep.Commits = append(rep.Commits, res)
	}
	if dispatcher != nil {
		rep.Anchors = dispatcher.Wait()
	}

	failed := rep.Count(OutcomeFailed)
	span.SetAttributes(
		attribute.Int("backfill.written", rep.Count(OutcomeWritten)),
		attribute.Int("backfill.failed", failed),
	)
	e.Logger.Info("Backfill finished",
		"written", rep.Count(OutcomeWritten),
		"exists", rep.Count(OutcomeExists),
		"no_changes", rep.Count(OutcomeNoChanges),
		"failed", failed,
	)
	if failed > 0 {
		span.SetStatus(codes.Error, "partial")
		return rep, fmt.Errorf("%w: %d of %d commits", ErrPartialResult, failed, len(refs))
	}
	return rep, nil
}

// LiveInput parameterizes one live logging run.
type LiveInput struct {
	// Ref is the commit to record; empty means HEAD.
	Ref string
	Env config.LiveEnv
}

// Log records the current commit with a wall-clock timestamp, the trace
// ids from the environment and a proof of work at the requested difficulty.
func (e *Engine) Log(ctx context.Context, in LiveInput) (res CommitResult, err error) {
	ctx, span := e.Tracer.Start(ctx, "Engine.Log")
	defer span.End()
	defer e.recoverPanic(ctx, &err)

	if err := e.requirePipeline(); err != nil {
		return CommitResult{}, err
	}
	ref := in.Ref
	if ref == "" {
		ref = "HEAD"
	}

	id := e.Identity
	if in.Env.ModelName != "" {
		id.ModelID = in.Env.ModelName
	}
	search := e.config.Search
	search.Difficulty = in.Env.PoW

	res = e.traceCommit(ctx, ref, e.builder(agenttrace.Live, id), seal.Options{PoW: true, Search: search},
		agenttrace.BuildInput{TraceID: in.Env.TraceID, ParentTraceID: in.Env.ParentTrace})
	if res.Outcome == OutcomeWritten && e.config.AnchorOnWrite && e.Anchor != nil {
		d := e.newDispatcher(ctx)
		if err := d.Enqueue(anchor.Job{Key: res.Key, Hash: res.TraceHash}); err != nil {
			e.Logger.Warn("Anchor not queued, record stays pending", "key", res.Key, "error", err)
		}
		d.Wait()
	}
	return res, res.Err
}

// traceCommit runs extract, build, seal and save for one ref. extra carries
// the trace ids; its Commit and Files are filled in here.
func (e *Engine) traceCommit(ctx context.Context, ref string, b *agenttrace.Builder, opts seal.Options, extra agenttrace.BuildInput) CommitResult {
	ctx, span := e.Tracer.Start(ctx, "Engine.Commit")
	defer span.End()
	span.SetAttributes(attribute.String("commit.ref", ref))

	res := CommitResult{Ref: ref}
	log := e.Logger.With("ref", ref)

	fail := func(err error) CommitResult {
		res.Outcome = OutcomeFailed
		res.Err = err
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Error("Failed to trace commit", "error", err)
		return res
	}

	ex, err := e.Extractor.Extract(ctx, ref)
	if ex != nil {
		res.Revision = ex.Commit.Revision
		res.Skipped = ex.Skipped
	}
	if errors.Is(err, extract.ErrNoQualifyingChanges) {
		res.Outcome = OutcomeNoChanges
		res.Err = err
		log.Info("No qualifying changes", "revision", res.Revision, "skipped", len(res.Skipped))
		return res
	}
	if err != nil {
		return fail(err)
	}

	in := extra
	in.Commit = ex.Commit
	in.Files = ex.Files
	rec, err := b.Build(in)
	if err != nil {
		return fail(err)
	}

	sealed, err := seal.Seal(ctx, rec, opts)
	if err != nil {
		return fail(err)
	}
	res.TraceHash = sealed.Metadata.TraceHash
	span.SetAttributes(attribute.String("trace.hash", res.TraceHash))

	key, err := e.Store.Save(ctx, sealed, b.Mode)
	res.Key = key
	if errors.Is(err, store.ErrAlreadyExists) {
		res.Outcome = OutcomeExists
		res.Err = err
		log.Info("Trace already recorded", "key", key)
		return res
	}
	if err != nil {
		return fail(err)
	}

	res.Outcome = OutcomeWritten
	log.Info("Trace recorded", "revision", res.Revision, "key", key, "files", len(sealed.Files), "trace_hash", res.TraceHash)
	return res
}

package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/DrSkyle/agenttrace/pkg/anchor"
	"github.com/DrSkyle/agenttrace/pkg/extract"
	"github.com/DrSkyle/agenttrace/pkg/seal"
	"github.com/DrSkyle/agenttrace/pkg/store"
	"github.com/DrSkyle/agenttrace/pkg/telemetry"
	agenttrace "github.com/DrSkyle/agenttrace/pkg/trace"
	"github.com/DrSkyle/agenttrace/pkg/version"
)

var (
	// ErrPartialResult indicates some commits could not be traced.
	ErrPartialResult = errors.New("backfill completed with failures")
	// ErrNotConfigured is returned when an operation lacks a required collaborator.
	ErrNotConfigured = errors.New("engine: missing collaborator")
	// ErrPanic wraps a recovered panic.
	ErrPanic = errors.New("engine: recovered from panic")
)

// Config holds engine settings.
type Config struct {
	// PoW seals backfilled records with a proof of work.
	PoW    bool
	Search seal.SearchOptions

	// AnchorOnWrite queues each newly written record for anchoring.
	AnchorOnWrite bool
	AnchorWorkers int

	// Telemetry config.
	OtelEndpoint  string
	SkipTelemetry bool

	Logger *slog.Logger
}

// Engine runs the extract, build, seal and persist pipeline.
type Engine struct {
	Logger *slog.Logger
	Tracer trace.Tracer

	Extractor *extract.Extractor
	Store     *store.Store
	Anchor    anchor.Client
	Identity  agenttrace.Identity

	// Clock and NewID feed the record builder.
	Clock func() time.Time
	NewID func() string

	config   Config
	shutdown telemetry.Shutdown
}

// Option defines a functional configuration override.
type Option func(*Engine)

// New initializes the Engine.
func New(ctx context.Context, opts ...Option) (*Engine, error) {
	e := &Engine{
		Logger:   NewLogger(os.Stdout, "json", false),
		Tracer:   otel.Tracer("agenttrace/engine"),
		Identity: agenttrace.DefaultIdentity(),
		Clock:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}

	slog.SetDefault(e.Logger)

	if !e.config.SkipTelemetry {
		shutdown, err := telemetry.Init(ctx, telemetry.Settings{
			ServiceName:    version.AppName,
			ServiceVersion: version.Current,
			Endpoint:       e.config.OtelEndpoint,
		})
		if err != nil {
			e.Logger.Warn("Telemetry failed", "error", err)
		} else {
			e.shutdown = shutdown
			e.Tracer = telemetry.Tracer("agenttrace/engine")
		}
	}
	return e, nil
}

// EnableAnchorOnWrite queues every newly written record for anchoring.
func (e *Engine) EnableAnchorOnWrite() {
	e.config.AnchorOnWrite = true
}

// Close flushes telemetry.
func (e *Engine) Close(ctx context.Context) error {
	if e.shutdown == nil {
		return nil
	}
	return e.shutdown(ctx)
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.Logger = l
		}
	}
}

// WithConfig sets raw config.
func WithConfig(cfg Config) Option {
	return func(e *Engine) {
		e.config = cfg
		if cfg.Logger != nil {
			e.Logger = cfg.Logger
		}
	}
}

// WithExtractor sets the commit extractor.
func WithExtractor(x *extract.Extractor) Option {
	return func(e *Engine) {
		e.Extractor = x
	}
}

// WithStore sets the trace store.
func WithStore(s *store.Store) Option {
	return func(e *Engine) {
		e.Store = s
	}
}

// WithAnchor sets the anchoring client.
func WithAnchor(c anchor.Client) Option {
	return func(e *Engine) {
		e.Anchor = c
	}
}

// WithIdentity sets the attribution applied to every range.
func WithIdentity(id agenttrace.Identity) Option {
	return func(e *Engine) {
		e.Identity = id
	}
}

// WithClock fixes the wall clock and id source, for reproducible records.
func WithClock(now func() time.Time, newID func() string) Option {
	return func(e *Engine) {
		e.Clock = now
		e.NewID = newID
	}
}

func (e *Engine) builder(mode agenttrace.Mode, id agenttrace.Identity) *agenttrace.Builder {
	b := agenttrace.NewBuilder(id, mode)
	if e.Clock != nil {
		b.Clock = e.Clock
	}
	if e.NewID != nil {
		b.NewID = e.NewID
	}
	return b
}

func (e *Engine) requirePipeline() error {
	if e.Extractor == nil {
		return fmt.Errorf("%w: extractor", ErrNotConfigured)
	}
	if e.Store == nil {
		return fmt.Errorf("%w: store", ErrNotConfigured)
	}
	return nil
}

// recoverPanic converts a panic into an error on the span and in *errp.
func (e *Engine) recoverPanic(ctx context.Context, errp *error) {
	if r := recover(); r != nil {
		_, span := e.Tracer.Start(ctx, "CriticalPanic")
		stack := debug.Stack()

		span.RecordError(fmt.Errorf("%v", r), trace.WithStackTrace(true))
		span.SetStatus(codes.Error, "panic")
		span.SetAttributes(
			attribute.String("crash.stack", string(stack)),
			attribute.String("crash.reason", fmt.Sprintf("%v", r)),
		)
		span.End()

		e.Logger.Error("CRITICAL FAILURE", "error", r, "stack", string(stack))
		*errp = fmt.Errorf("%w: %v", ErrPanic, r)
	}
}

package extract

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/DrSkyle/agenttrace/pkg/trace"
)

// Filter excludes changes by user-defined rule. It returns the matching rule id.
type Filter interface {
	Excludes(path string, added, removed int, binary bool) (string, bool)
}

// Skip records why a changed path produced no provenance.
type Skip struct {
	Path   string
	Reason string
}

// Result is the provenance extracted from one commit.
type Result struct {
	Commit  trace.Commit
	Files   []trace.FileRanges
	Skipped []Skip
}

// Extractor walks one commit at a time, file by file, in change-summary order.
type Extractor struct {
	VCS VCS
	// TraceDir is the trace storage location relative to the repository root.
	TraceDir string
	Filter   Filter
	Logger   *slog.Logger
	// MaxRanges caps ranges per file; zero means trace.MaxRangesPerConversation.
	MaxRanges int
}

func NewExtractor(vcs VCS, traceDir string) *Extractor {
	return &Extractor{VCS: vcs, TraceDir: traceDir, Logger: slog.Default()}
}

// Extract resolves ref and returns its per-file ranges. When nothing
// qualifies it returns the partial result together with ErrNoQualifyingChanges.
func (e *Extractor) Extract(ctx context.Context, ref string) (*Result, error) {
	log := e.logger()

	rev, err := e.VCS.ResolveRevision(ctx, ref)
	if err != nil {
		return nil, err
	}

	info, err := e.VCS.CommitInfo(ctx, rev)
	if err != nil {
		return nil, fmt.Errorf("commit metadata %s: %w", rev, err)
	}
	changes, err := e.VCS.ChangeSummary(ctx, rev)
	if err != nil {
		return nil, fmt.Errorf("change summary %s: %w", rev, err)
	}

	res := &Result{Commit: trace.Commit{
		Revision:  rev,
		Subject:   info.Subject,
		Parent:    info.Parent,
		Timestamp: info.Timestamp,
	}}

	for _, c := range changes {
		if reason, skip := e.excluded(c); skip {
			log.Debug("Skipping path", "path", c.Path, "reason", reason)
			res.Skipped = append(res.Skipped, Skip{Path: c.Path, Reason: reason})
			continue
		}

		ranges, err := e.fileRanges(ctx, info.Parent, rev, c.Path)
		if err != nil {
			log.Warn("Could not parse diff", "revision", rev, "path", c.Path, "error", err)
			res.Skipped = append(res.Skipped, Skip{Path: c.Path, Reason: err.Error()})
			continue
		}
		if len(ranges) == 0 {
			res.Skipped = append(res.Skipped, Skip{Path: c.Path, Reason: "no inserted lines"})
			continue
		}
		res.Files = append(res.Files, trace.FileRanges{Path: c.Path, Ranges: ranges})
	}

	if len(res.Files) == 0 {
		return res, fmt.Errorf("%w: %s", ErrNoQualifyingChanges, rev)
	}
	return res, nil
}

func (e *Extractor) fileRanges(ctx context.Context, parent, rev, p string) ([]trace.LineRange, error) {
	diff, err := e.VCS.Diff(ctx, parent, rev, p)
	if err != nil {
		return nil, &FileExtractionError{Path: p, Err: err}
	}
	hunks, err := ParseHunks(diff)
	if err != nil {
		return nil, &FileExtractionError{Path: p, Err: err}
	}
	limit := e.MaxRanges
	if limit <= 0 {
		limit = trace.MaxRangesPerConversation
	}
	ranges, err := Ranges(hunks, limit)
	if err != nil {
		return nil, &FileExtractionError{Path: p, Err: err}
	}
	return ranges, nil
}

func (e *Extractor) excluded(c Change) (string, bool) {
	if c.Binary {
		return "binary", true
	}
	if e.underTraceDir(c.Path) {
		return "trace storage", true
	}
	if e.Filter != nil {
		if id, ok := e.Filter.Excludes(c.Path, c.Added, c.Removed, c.Binary); ok {
			return "rule " + id, true
		}
	}
	return "", false
}

func (e *Extractor) underTraceDir(p string) bool {
	dir := strings.Trim(path.Clean("/"+e.TraceDir), "/")
	if dir == "" {
		return false
	}
	p = strings.TrimPrefix(path.Clean("/"+p), "/")
	return p == dir || strings.HasPrefix(p, dir+"/")
}

func (e *Extractor) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

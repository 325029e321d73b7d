// Package extract turns one commit's changes into per-file line-range provenance.
package extract

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrRevisionNotFound is returned when a commit id is absent or ambiguous.
	ErrRevisionNotFound = errors.New("revision not found")
	// ErrNoQualifyingChanges is returned when no file yields a provenance range.
	ErrNoQualifyingChanges = errors.New("no qualifying changes")
)

// FileExtractionError is a diff retrieval or parse failure for one path.
// The path is dropped; the commit continues.
type FileExtractionError struct {
	Path string
	Err  error
}

func (e *FileExtractionError) Error() string {
	return fmt.Sprintf("extract %s: %v", e.Path, e.Err)
}

func (e *FileExtractionError) Unwrap() error { return e.Err }

// CommitInfo is the metadata needed to attribute a commit.
type CommitInfo struct {
	Subject   string
	Parent    string // first parent, empty for root commits
	Timestamp time.Time
}

// Change is one entry of a commit's change summary.
type Change struct {
	Added   int
	Removed int
	// Binary is set when the summary carries the "-" sentinel instead of counts.
	Binary bool
	Path   string
}

// VCS is the version-control collaborator.
type VCS interface {
	ResolveRevision(ctx context.Context, ref string) (string, error)
	CommitInfo(ctx context.Context, rev string) (CommitInfo, error)
	ChangeSummary(ctx context.Context, rev string) ([]Change, error)
	Diff(ctx context.Context, parent, rev, path string) (string, error)
}

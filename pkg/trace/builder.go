package trace

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Mode selects where the record timestamp comes from.
type Mode int

const (
	// Backfill stamps records with the commit's own timestamp.
	Backfill Mode = iota
	// Live stamps records with the wall clock at build time.
	Live
)

func (m Mode) String() string {
	if m == Live {
		return "live"
	}
	return "backfill"
}

// Identity is the fixed contributor and tool attribution applied to every range.
type Identity struct {
	ContributorType string
	ModelID         string
	ToolName        string
	ToolVersion     string
}

// DefaultIdentity matches the agent the ledger was started with.
func DefaultIdentity() Identity {
	return Identity{
		ContributorType: ContributorAI,
		ModelID:         "github-copilot/claude-sonnet-4.5",
		ToolName:        "github-copilot",
		ToolVersion:     "claude-sonnet-4.5",
	}
}

// FileRanges is the extractor output for one path before attribution.
type FileRanges struct {
	Path   string
	Ranges []LineRange
}

// Commit is the metadata of the revision being traced.
type Commit struct {
	Revision  string
	Subject   string
	Parent    string
	Timestamp time.Time
}

// BuildInput is everything needed to assemble one record.
type BuildInput struct {
	Commit        Commit
	Files         []FileRanges
	TraceID       string
	ParentTraceID string
}

// Builder assembles unsealed records.
type Builder struct {
	Identity Identity
	Mode     Mode
	Clock    func() time.Time
	NewID    func() string
}

// NewBuilder returns a builder using the wall clock and random UUIDs.
func NewBuilder(id Identity, mode Mode) *Builder {
	return &Builder{
		Identity: id,
		Mode:     mode,
		Clock:    time.Now,
		NewID:    func() string { return uuid.NewString() },
	}
}

// Build assembles a record for one commit. The input is not modified.
func (b *Builder) Build(in BuildInput) (*Record, error) {
	if in.Commit.Revision == "" {
		return nil, fmt.Errorf("%w: revision is required", ErrInvalidRecord)
	}
	if b.Mode == Backfill && in.Commit.Timestamp.IsZero() {
		return nil, fmt.Errorf("%w: commit timestamp is required in backfill mode", ErrInvalidRecord)
	}

	contributor := Contributor{Type: b.Identity.ContributorType, ModelID: b.Identity.ModelID}
	files := make([]FileProvenance, 0, len(in.Files))
	for _, f := range in.Files {
		conv, err := NewConversation(contributor, f.Ranges)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", f.Path, err)
		}
		files = append(files, FileProvenance{Path: f.Path, Conversations: []Conversation{conv}})
	}

	rec := &Record{
		Version:   SchemaVersion,
		ID:        b.newID(),
		Timestamp: b.timestamp(in.Commit),
		VCS:       VCS{Type: "git", Revision: in.Commit.Revision},
		Tool:      Tool{Name: b.Identity.ToolName, Version: b.Identity.ToolVersion},
		Files:     files,
		Metadata: Metadata{
			CommitMessage: in.Commit.Subject,
			ParentCommit:  in.Commit.Parent,
			TraceID:       in.TraceID,
			ParentTraceID: in.ParentTraceID,
		},
	}
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	return rec, nil
}

func (b *Builder) newID() string {
	if b.NewID != nil {
		return b.NewID()
	}
	return uuid.NewString()
}

func (b *Builder) timestamp(c Commit) string {
	if b.Mode == Backfill {
		return c.Timestamp.Format(time.RFC3339)
	}
	now := time.Now
	if b.Clock != nil {
		now = b.Clock
	}
	return now().UTC().Format(time.RFC3339)
}

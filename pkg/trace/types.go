// Package trace defines the trace record schema and the builder that
// assembles records from extracted commit provenance.
package trace

import (
	"errors"
	"fmt"
	"time"
)

// SchemaVersion is the record format version written by this tool.
const SchemaVersion = "1.0"

// MaxRangesPerConversation caps the line ranges kept per contributor entry.
const MaxRangesPerConversation = 5

// Contributor types.
const (
	ContributorAI    = "ai"
	ContributorHuman = "human"
)

// Anchor states.
const (
	AnchorPending  = "pending"
	AnchorAnchored = "anchored"
	AnchorFailed   = "failed"
)

var (
	// ErrInvalidRange is returned for ranges that are not 1-based or end before they start.
	ErrInvalidRange = errors.New("invalid line range")
	// ErrInvalidRecord is returned when a record fails schema validation.
	ErrInvalidRecord = errors.New("invalid trace record")
	// ErrInvalidTransition is returned for anchor status changes outside pending -> anchored|failed.
	ErrInvalidTransition = errors.New("invalid anchor status transition")
)

// Record is one sealed trace document for a single commit.
type Record struct {
	Version   string           `json:"version"`
	ID        string           `json:"id"`
	Timestamp string           `json:"timestamp"`
	VCS       VCS              `json:"vcs"`
	Tool      Tool             `json:"tool"`
	Files     []FileProvenance `json:"files"`
	Metadata  Metadata         `json:"metadata"`
	PoW       *ProofOfWork     `json:"pow,omitempty"`
}

// VCS identifies the revision a record describes.
type VCS struct {
	Type     string `json:"type"`
	Revision string `json:"revision"`
}

// Tool identifies the agent that produced the attributed lines.
type Tool struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// FileProvenance attributes line ranges of one path.
type FileProvenance struct {
	Path          string         `json:"path"`
	Conversations []Conversation `json:"conversations"`
}

// Conversation groups ranges written by one contributor.
type Conversation struct {
	Contributor Contributor `json:"contributor"`
	Ranges      []LineRange `json:"ranges"`
}

// Contributor is the author class and model of a conversation.
type Contributor struct {
	Type    string `json:"type"`
	ModelID string `json:"model_id,omitempty"`
}

// LineRange is a 1-based inclusive interval of post-change lines.
type LineRange struct {
	StartLine int `json:"start_line"`
	EndLine   int `json:"end_line"`
}

// Metadata holds commit context and the seal.
type Metadata struct {
	CommitMessage  string        `json:"commit_message"`
	ParentCommit   string        `json:"parent_commit"`
	TraceID        string        `json:"trace_id,omitempty"`
	ParentTraceID  string        `json:"parent_trace_id,omitempty"`
	TraceHash      string        `json:"trace_hash,omitempty"`
	TraceHashScope string        `json:"trace_hash_scope,omitempty"`
	AnchorStatus   *AnchorStatus `json:"anchor_status,omitempty"`
}

// AnchorStatus tracks external anchoring of the trace hash.
type AnchorStatus struct {
	Status    string `json:"status"`
	Note      string `json:"note,omitempty"`
	Reference string `json:"reference,omitempty"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

// ProofOfWork is the nonce seal over the content hash.
type ProofOfWork struct {
	Nonce      uint64 `json:"nonce"`
	Difficulty int    `json:"difficulty"`
	Digest     string `json:"digest"`
}

// NewLineRange returns a validated range.
func NewLineRange(start, end int) (LineRange, error) {
	r := LineRange{StartLine: start, EndLine: end}
	if err := r.Validate(); err != nil {
		return LineRange{}, err
	}
	return r, nil
}

func (r LineRange) Validate() error {
	if r.StartLine < 1 || r.EndLine < r.StartLine {
		return fmt.Errorf("%w: %d-%d", ErrInvalidRange, r.StartLine, r.EndLine)
	}
	return nil
}

// Len is the number of lines covered.
func (r LineRange) Len() int {
	return r.EndLine - r.StartLine + 1
}

// NewConversation validates ranges and keeps at most MaxRangesPerConversation
// of them in the given order.
func NewConversation(c Contributor, ranges []LineRange) (Conversation, error) {
	if c.Type == "" {
		return Conversation{}, fmt.Errorf("%w: contributor type is required", ErrInvalidRecord)
	}
	if len(ranges) == 0 {
		return Conversation{}, fmt.Errorf("%w: conversation without ranges", ErrInvalidRecord)
	}
	if len(ranges) > MaxRangesPerConversation {
		ranges = ranges[:MaxRangesPerConversation]
	}
	kept := make([]LineRange, len(ranges))
	for i, r := range ranges {
		if err := r.Validate(); err != nil {
			return Conversation{}, err
		}
		kept[i] = r
	}
	return Conversation{Contributor: c, Ranges: kept}, nil
}

// Validate checks the schema invariants that hold before sealing.
func (r *Record) Validate() error {
	if r == nil {
		return fmt.Errorf("%w: nil record", ErrInvalidRecord)
	}
	if r.Version != SchemaVersion {
		return fmt.Errorf("%w: unsupported version %q", ErrInvalidRecord, r.Version)
	}
	if r.ID == "" || r.VCS.Revision == "" || r.Tool.Name == "" {
		return fmt.Errorf("%w: missing id, vcs.revision or tool.name", ErrInvalidRecord)
	}
	if _, err := time.Parse(time.RFC3339, r.Timestamp); err != nil {
		return fmt.Errorf("%w: timestamp %q: %v", ErrInvalidRecord, r.Timestamp, err)
	}
	if len(r.Files) == 0 {
		return fmt.Errorf("%w: no files", ErrInvalidRecord)
	}
	for _, f := range r.Files {
		if f.Path == "" {
			return fmt.Errorf("%w: file without path", ErrInvalidRecord)
		}
		if len(f.Conversations) == 0 {
			return fmt.Errorf("%w: %s has no conversations", ErrInvalidRecord, f.Path)
		}
		for _, c := range f.Conversations {
			if len(c.Ranges) == 0 || len(c.Ranges) > MaxRangesPerConversation {
				return fmt.Errorf("%w: %s has %d ranges", ErrInvalidRecord, f.Path, len(c.Ranges))
			}
			for _, rg := range c.Ranges {
				if err := rg.Validate(); err != nil {
					return fmt.Errorf("%s: %w", f.Path, err)
				}
			}
		}
	}
	return nil
}

// Anchored reports whether the record carries an anchored status.
func (r *Record) Anchored() bool {
	return r.Metadata.AnchorStatus != nil && r.Metadata.AnchorStatus.Status == AnchorAnchored
}

// Transition moves the anchor status. Only pending and failed records can
// change; a failed attempt may be retried, anchored is terminal.
func (s *AnchorStatus) Transition(next AnchorStatus) error {
	from := AnchorPending
	if s != nil && s.Status != "" {
		from = s.Status
	}
	fromOK := from == AnchorPending || from == AnchorFailed
	toOK := next.Status == AnchorAnchored || next.Status == AnchorFailed
	if !fromOK || !toOK {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, next.Status)
	}
	return nil
}

// Clone returns a deep copy.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	out := *r
	out.Files = CloneFiles(r.Files)
	if r.Metadata.AnchorStatus != nil {
		st := *r.Metadata.AnchorStatus
		out.Metadata.AnchorStatus = &st
	}
	if r.PoW != nil {
		p := *r.PoW
		out.PoW = &p
	}
	return &out
}

// CloneFiles deep-copies a file provenance slice.
func CloneFiles(files []FileProvenance) []FileProvenance {
	if files == nil {
		return nil
	}
	out := make([]FileProvenance, len(files))
	for i, f := range files {
		out[i].Path = f.Path
		out[i].Conversations = make([]Conversation, len(f.Conversations))
		for j, c := range f.Conversations {
			out[i].Conversations[j].Contributor = c.Contributor
			out[i].Conversations[j].Ranges = append([]LineRange(nil), c.Ranges...)
		}
	}
	return out
}

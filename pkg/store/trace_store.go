// Package store persists sealed trace records as one pretty-printed JSON
// document per commit on top of a storage.BlobStore.
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/DrSkyle/agenttrace/pkg/seal"
	"github.com/DrSkyle/agenttrace/pkg/storage"
	"github.com/DrSkyle/agenttrace/pkg/trace"
)

// ExistingPolicy decides what Save does when the key is already present.
type ExistingPolicy int

const (
	// SkipExisting refuses the write with ErrAlreadyExists.
	SkipExisting ExistingPolicy = iota
	// Overwrite replaces the stored record.
	Overwrite
)

const fileExt = ".json"

var (
	ErrAlreadyExists = errors.New("trace record already exists")
	ErrNotFound      = errors.New("trace record not found")
	ErrAmbiguous     = errors.New("revision prefix matches more than one record")
)

// Config configures a Store.
type Config struct {
	Backend    storage.BlobStore
	Prefix     string
	OnExisting ExistingPolicy
	Logger     *slog.Logger
	// Clock stamps anchor status updates. Defaults to time.Now.
	Clock func() time.Time
}

// Store reads and writes trace records.
type Store struct {
	backend    storage.BlobStore
	prefix     string
	onExisting ExistingPolicy
	logger     *slog.Logger
	clock      func() time.Time

	// mu serializes read-modify-write amendments.
	mu sync.Mutex
}

// Summary is the listing view of one stored record.
type Summary struct {
	Key             string
	ID              string
	Timestamp       string
	Revision        string
	Files           int
	TraceHash       string
	AnchorStatus    string
	AnchorReference string
}

// Analytics counts stored records by anchor state.
type Analytics struct {
	Total      int
	Anchored   int
	Unanchored int
}

func New(cfg Config) (*Store, error) {
	if cfg.Backend == nil {
		return nil, errors.New("store: backend is required")
	}
	s := &Store{
		backend:    cfg.Backend,
		prefix:     strings.Trim(cfg.Prefix, "/"),
		onExisting: cfg.OnExisting,
		logger:     cfg.Logger,
		clock:      cfg.Clock,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.clock == nil {
		s.clock = time.Now
	}
	return s, nil
}

// Key returns the storage key of a record: the revision for backfilled
// commits, the sanitized timestamp for live records.
func Key(rec *trace.Record, mode trace.Mode) string {
	if mode == trace.Live {
		return strings.ReplaceAll(rec.Timestamp, ":", "-") + fileExt
	}
	return rec.VCS.Revision + fileExt
}

func (s *Store) fullKey(key string) string {
	if s.prefix == "" {
		return key
	}
	return path.Join(s.prefix, key)
}

// Encode renders a record as 2-space indented JSON with a trailing newline.
func Encode(rec *trace.Record) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rec); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode parses a stored record.
func Decode(data []byte) (*trace.Record, error) {
	var rec trace.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode trace record: %w", err)
	}
	return &rec, nil
}

// Save writes a sealed record and returns its key. Records that fail
// validation or whose seal does not verify are refused.
func (s *Store) Save(ctx context.Context, rec *trace.Record, mode trace.Mode) (string, error) {
	if err := rec.Validate(); err != nil {
		return "", err
	}
	if err := seal.Verify(rec); err != nil {
		return "", err
	}
	key := Key(rec, mode)

	if s.onExisting == SkipExisting {
		ok, err := s.backend.Exists(ctx, s.fullKey(key))
		if err != nil {
			return "", fmt.Errorf("check %s: %w", key, err)
		}
		if ok {
			return key, fmt.Errorf("%w: %s", ErrAlreadyExists, key)
		}
	}
	if err := s.put(ctx, key, rec); err != nil {
		return "", err
	}
	s.logger.Info("Trace record saved", "key", key, "trace_hash", rec.Metadata.TraceHash)
	return key, nil
}

func (s *Store) put(ctx context.Context, key string, rec *trace.Record) error {
	data, err := Encode(rec)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := s.backend.Put(ctx, s.fullKey(key), data); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}

// Load reads the record stored under key.
func (s *Store) Load(ctx context.Context, key string) (*trace.Record, error) {
	data, err := s.backend.Get(ctx, s.fullKey(key))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return nil, err
	}
	return Decode(data)
}

// Keys lists the stored record keys, sorted.
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	listPrefix := ""
	if s.prefix != "" {
		listPrefix = s.prefix + "/"
	}
	all, err := s.backend.List(ctx, listPrefix)
	if err != nil {
		return nil, err
	}
	var keys []string
	for _, k := range all {
		k = strings.TrimPrefix(k, listPrefix)
		if strings.HasSuffix(k, fileExt) && !strings.Contains(k, "/") {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Find resolves a revision prefix to a stored record. Keys are matched
// first, then the vcs.revision of every record.
func (s *Store) Find(ctx context.Context, prefix string) (string, *trace.Record, error) {
	if prefix == "" {
		return "", nil, fmt.Errorf("%w: empty revision", ErrNotFound)
	}
	keys, err := s.Keys(ctx)
	if err != nil {
		return "", nil, err
	}

	var matches []string
	for _, k := range keys {
		if strings.HasPrefix(k, prefix) {
			matches = append(matches, k)
		}
	}
	switch len(matches) {
	case 1:
		rec, err := s.Load(ctx, matches[0])
		return matches[0], rec, err
	case 0:
	default:
		return "", nil, fmt.Errorf("%w: %s", ErrAmbiguous, prefix)
	}

	var (
		foundKey string
		found    *trace.Record
	)
	for _, k := range keys {
		rec, err := s.Load(ctx, k)
		if err != nil {
			continue
		}
		if !strings.HasPrefix(rec.VCS.Revision, prefix) {
			continue
		}
		if found != nil {
			return "", nil, fmt.Errorf("%w: %s", ErrAmbiguous, prefix)
		}
		foundKey, found = k, rec
	}
	if found == nil {
		return "", nil, fmt.Errorf("%w: %s", ErrNotFound, prefix)
	}
	return foundKey, found, nil
}

// List returns summaries of every readable record, newest first.
// Unreadable documents are logged and skipped.
func (s *Store) List(ctx context.Context) ([]Summary, error) {
	keys, err := s.Keys(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Summary, 0, len(keys))
	for _, k := range keys {
		rec, err := s.Load(ctx, k)
		if err != nil {
			s.logger.Warn("Skipping unreadable trace record", "key", k, "error", err)
			continue
		}
		out = append(out, summarize(k, rec))
	}
	sort.SliceStable(out, func(i, j int) bool {
		return newer(out[i].Timestamp, out[j].Timestamp)
	})
	return out, nil
}

// Analyze counts summaries by anchor state.
func Analyze(sums []Summary) Analytics {
	a := Analytics{Total: len(sums)}
	for _, s := range sums {
		if s.AnchorStatus == trace.AnchorAnchored {
			a.Anchored++
		}
	}
	a.Unanchored = a.Total - a.Anchored
	return a
}

func summarize(key string, rec *trace.Record) Summary {
	s := Summary{
		Key:       key,
		ID:        rec.ID,
		Timestamp: rec.Timestamp,
		Revision:  rec.VCS.Revision,
		Files:     len(rec.Files),
		TraceHash: rec.Metadata.TraceHash,
	}
	if st := rec.Metadata.AnchorStatus; st != nil {
		s.AnchorStatus = st.Status
		s.AnchorReference = st.Reference
	}
	return s
}

func newer(a, b string) bool {
	ta, errA := time.Parse(time.RFC3339, a)
	tb, errB := time.Parse(time.RFC3339, b)
	if errA != nil || errB != nil {
		return a > b
	}
	return ta.After(tb)
}

// AmendAnchor updates the anchor status of a stored record. The stored
// trace_hash is recomputed first, and must equal anchoredHash, the hash the
// status refers to. The amendment is refused on either mismatch.
func (s *Store) AmendAnchor(ctx context.Context, key, anchoredHash string, next trace.AnchorStatus) (*trace.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.Load(ctx, key)
	if err != nil {
		return nil, err
	}
	if err := seal.Verify(rec); err != nil {
		return nil, fmt.Errorf("amend %s: %w", key, err)
	}
	if rec.Metadata.TraceHash != anchoredHash {
		return nil, fmt.Errorf("amend %s: %w: stored %s, anchored %s", key, seal.ErrHashMismatch, rec.Metadata.TraceHash, anchoredHash)
	}
	if err := rec.Metadata.AnchorStatus.Transition(next); err != nil {
		return nil, fmt.Errorf("amend %s: %w", key, err)
	}
	if next.UpdatedAt == "" {
		next.UpdatedAt = s.clock().UTC().Format(time.RFC3339)
	}
	rec.Metadata.AnchorStatus = &next

	if err := s.put(ctx, key, rec); err != nil {
		return nil, err
	}
	s.logger.Info("Anchor status amended", "key", key, "status", next.Status, "reference", next.Reference)
	return rec, nil
}

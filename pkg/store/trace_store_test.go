package store

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DrSkyle/agenttrace/pkg/seal"
	"github.com/DrSkyle/agenttrace/pkg/storage"
	"github.com/DrSkyle/agenttrace/pkg/trace"
)

var fixedNow = time.Date(2026, 3, 1, 12, 30, 45, 0, time.UTC)

func sealedRecord(t *testing.T, rev string, at time.Time) *trace.Record {
	t.Helper()
	b := trace.NewBuilder(trace.DefaultIdentity(), trace.Backfill)
	b.NewID = func() string { return "id-" + rev }
	rec, err := b.Build(trace.BuildInput{
		Commit: trace.Commit{Revision: rev, Subject: "feat: " + rev, Parent: "p" + rev, Timestamp: at},
		Files:  []trace.FileRanges{{Path: "main.go", Ranges: []trace.LineRange{{StartLine: 1, EndLine: 3}}}},
	})
	require.NoError(t, err)
	sealed, err := seal.Seal(context.Background(), rec, seal.Options{})
	require.NoError(t, err)
	return sealed
}

func newStore(t *testing.T, backend storage.BlobStore, policy ExistingPolicy) *Store {
	t.Helper()
	s, err := New(Config{
		Backend:    backend,
		OnExisting: policy,
		Clock:      func() time.Time { return fixedNow },
	})
	require.NoError(t, err)
	return s
}

func TestKey(t *testing.T) {
	rec := &trace.Record{Timestamp: "2026-03-01T12:30:45Z", VCS: trace.VCS{Revision: "abc123"}}
	assert.Equal(t, "abc123.json", Key(rec, trace.Backfill))
	assert.Equal(t, "2026-03-01T12-30-45Z.json", Key(rec, trace.Live))
}

func TestSaveLoad_PrettyJSON(t *testing.T) {
	ctx := context.Background()
	backend := storage.NewMemoryStore()
	s := newStore(t, backend, SkipExisting)
	rec := sealedRecord(t, "abc123", fixedNow)

	key, err := s.Save(ctx, rec, trace.Backfill)
	require.NoError(t, err)
	assert.Equal(t, "abc123.json", key)

	raw, err := backend.Get(ctx, key)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(raw), "{\n  \"version\": \"1.0\","), string(raw))
	assert.True(t, strings.HasSuffix(string(raw), "}\n"))

	got, err := s.Load(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, rec, got)
	assert.NoError(t, seal.Verify(got))
}

func TestSave_ExistingPolicy(t *testing.T) {
	ctx := context.Background()
	backend := storage.NewMemoryStore()
	rec := sealedRecord(t, "abc123", fixedNow)

	skip := newStore(t, backend, SkipExisting)
	_, err := skip.Save(ctx, rec, trace.Backfill)
	require.NoError(t, err)
	_, err = skip.Save(ctx, rec, trace.Backfill)
	assert.True(t, errors.Is(err, ErrAlreadyExists), "got %v", err)

	over := newStore(t, backend, Overwrite)
	_, err = over.Save(ctx, rec, trace.Backfill)
	assert.NoError(t, err)
}

func TestSave_RefusesBadRecords(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, storage.NewMemoryStore(), SkipExisting)

	unsealed := sealedRecord(t, "abc", fixedNow)
	unsealed.Metadata.TraceHash = ""
	_, err := s.Save(ctx, unsealed, trace.Backfill)
	assert.True(t, errors.Is(err, seal.ErrUnsealed), "got %v", err)

	tampered := sealedRecord(t, "abc", fixedNow)
	tampered.Metadata.CommitMessage = "edited"
	_, err = s.Save(ctx, tampered, trace.Backfill)
	assert.True(t, errors.Is(err, seal.ErrHashMismatch), "got %v", err)

	empty := sealedRecord(t, "abc", fixedNow)
	empty.Files = nil
	_, err = s.Save(ctx, empty, trace.Backfill)
	assert.True(t, errors.Is(err, trace.ErrInvalidRecord), "got %v", err)

	keys, err := s.Keys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestFind(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, storage.NewMemoryStore(), SkipExisting)
	for _, rev := range []string{"abc111", "abc222", "def333"} {
		_, err := s.Save(ctx, sealedRecord(t, rev, fixedNow), trace.Backfill)
		require.NoError(t, err)
	}
	live := sealedRecord(t, "fed999", fixedNow.Add(time.Hour))
	_, err := s.Save(ctx, live, trace.Live)
	require.NoError(t, err)

	key, rec, err := s.Find(ctx, "def")
	require.NoError(t, err)
	assert.Equal(t, "def333.json", key)
	assert.Equal(t, "def333", rec.VCS.Revision)

	_, _, err = s.Find(ctx, "abc")
	assert.True(t, errors.Is(err, ErrAmbiguous), "got %v", err)

	key, rec, err = s.Find(ctx, "fed9")
	require.NoError(t, err)
	assert.Equal(t, "2026-03-01T13-30-45Z.json", key)
	assert.Equal(t, "fed999", rec.VCS.Revision)

	_, _, err = s.Find(ctx, "zzz")
	assert.True(t, errors.Is(err, ErrNotFound), "got %v", err)
}

func TestListAndAnalyze(t *testing.T) {
	ctx := context.Background()
	backend := storage.NewMemoryStore()
	s := newStore(t, backend, SkipExisting)

	old := sealedRecord(t, "old", fixedNow.Add(-time.Hour))
	_, err := s.Save(ctx, old, trace.Backfill)
	require.NoError(t, err)
	_, err = s.Save(ctx, sealedRecord(t, "new", fixedNow), trace.Backfill)
	require.NoError(t, err)
	require.NoError(t, backend.Put(ctx, "broken.json", []byte("{not json")))

	_, err = s.AmendAnchor(ctx, "old.json", old.Metadata.TraceHash, trace.AnchorStatus{Status: trace.AnchorAnchored, Reference: "sig-1"})
	require.NoError(t, err)

	sums, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, sums, 2)
	assert.Equal(t, "new", sums[0].Revision)
	assert.Equal(t, "old", sums[1].Revision)
	assert.Equal(t, "sig-1", sums[1].AnchorReference)
	assert.Equal(t, 1, sums[0].Files)

	assert.Equal(t, Analytics{Total: 2, Anchored: 1, Unanchored: 1}, Analyze(sums))
}

func TestAmendAnchor(t *testing.T) {
	ctx := context.Background()
	backend := storage.NewMemoryStore()
	s := newStore(t, backend, SkipExisting)
	rec := sealedRecord(t, "abc", fixedNow)
	key, err := s.Save(ctx, rec, trace.Backfill)
	require.NoError(t, err)

	failed, err := s.AmendAnchor(ctx, key, rec.Metadata.TraceHash, trace.AnchorStatus{Status: trace.AnchorFailed, Note: "503"})
	require.NoError(t, err)
	assert.Equal(t, "2026-03-01T12:30:45Z", failed.Metadata.AnchorStatus.UpdatedAt)

	anchored, err := s.AmendAnchor(ctx, key, rec.Metadata.TraceHash, trace.AnchorStatus{Status: trace.AnchorAnchored, Reference: "sig"})
	require.NoError(t, err)
	assert.Equal(t, rec.Metadata.TraceHash, anchored.Metadata.TraceHash, "amending must not change the hash")
	assert.NoError(t, seal.Verify(anchored))

	_, err = s.AmendAnchor(ctx, key, rec.Metadata.TraceHash, trace.AnchorStatus{Status: trace.AnchorFailed})
	assert.True(t, errors.Is(err, trace.ErrInvalidTransition), "got %v", err)

	_, err = s.AmendAnchor(ctx, "missing.json", rec.Metadata.TraceHash, trace.AnchorStatus{Status: trace.AnchorAnchored})
	assert.True(t, errors.Is(err, ErrNotFound), "got %v", err)
}

func TestAmendAnchor_RefusesTamperedRecord(t *testing.T) {
	ctx := context.Background()
	backend := storage.NewMemoryStore()
	s := newStore(t, backend, SkipExisting)
	rec := sealedRecord(t, "abc", fixedNow)
	key, err := s.Save(ctx, rec, trace.Backfill)
	require.NoError(t, err)

	raw, err := backend.Get(ctx, key)
	require.NoError(t, err)
	edited := strings.Replace(string(raw), `"feat: abc"`, `"feat: xyz"`, 1)
	require.NoError(t, backend.Put(ctx, key, []byte(edited)))

	_, err = s.AmendAnchor(ctx, key, rec.Metadata.TraceHash, trace.AnchorStatus{Status: trace.AnchorAnchored})
	assert.True(t, errors.Is(err, seal.ErrHashMismatch), "got %v", err)
}

func TestAmendAnchor_RefusesReceiptForReplacedRecord(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, storage.NewMemoryStore(), Overwrite)

	first := sealedRecord(t, "abc", fixedNow)
	key, err := s.Save(ctx, first, trace.Backfill)
	require.NoError(t, err)

	second := sealedRecord(t, "abc", fixedNow.Add(time.Minute))
	require.NotEqual(t, first.Metadata.TraceHash, second.Metadata.TraceHash)
	_, err = s.Save(ctx, second, trace.Backfill)
	require.NoError(t, err)

	_, err = s.AmendAnchor(ctx, key, first.Metadata.TraceHash, trace.AnchorStatus{Status: trace.AnchorAnchored, Reference: "sig-old"})
	assert.True(t, errors.Is(err, seal.ErrHashMismatch), "got %v", err)

	stored, err := s.Load(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, trace.AnchorPending, stored.Metadata.AnchorStatus.Status)
	assert.Empty(t, stored.Metadata.AnchorStatus.Reference)
}

func TestStore_LocalPrefix(t *testing.T) {
	ctx := context.Background()
	s, err := New(Config{Backend: storage.NewLocalStore(t.TempDir()), Prefix: "/ledger/"})
	require.NoError(t, err)

	key, err := s.Save(ctx, sealedRecord(t, "abc", fixedNow), trace.Backfill)
	require.NoError(t, err)

	keys, err := s.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{key}, keys)
}

package anchor

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DrSkyle/agenttrace/pkg/seal"
	"github.com/DrSkyle/agenttrace/pkg/storage"
	"github.com/DrSkyle/agenttrace/pkg/store"
	"github.com/DrSkyle/agenttrace/pkg/trace"
)

const testHash = "9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08"

func TestHTTPClient_Submit(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/wallets/alice/actions/memo", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"success":true,"signature":"5xSig"}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL+"/", "alice", "tok")
	receipt, err := c.Submit(context.Background(), testHash)
	require.NoError(t, err)
	assert.Equal(t, "5xSig", receipt.Reference)
	assert.Equal(t, map[string]string{"memo": "TRACE:" + testHash, "trace_hash": testHash}, got)
}

func TestHTTPClient_ReferenceFallbacks(t *testing.T) {
	tests := []struct {
		body string
		want string
	}{
		{`{"success":true,"tx_id":"tx-1"}`, "tx-1"},
		{`{"success":true,"reference":"ref-1"}`, "ref-1"},
		{`{"success":true,"signature":"s","tx_id":"t"}`, "s"},
	}
	for _, tt := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(tt.body))
		}))
		receipt, err := NewHTTPClient(srv.URL, "u", "t").Submit(context.Background(), testHash)
		srv.Close()
		require.NoError(t, err, tt.body)
		assert.Equal(t, tt.want, receipt.Reference, tt.body)
	}
}

func TestHTTPClient_Failures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"server error", http.StatusServiceUnavailable, "down"},
		{"success false", http.StatusOK, `{"success":false,"error":"insufficient funds"}`},
		{"not json", http.StatusOK, "ok"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewHTTPClient(srv.URL, "u", "t").Submit(context.Background(), testHash)
			var se *ServiceError
			require.True(t, errors.As(err, &se), "got %v", err)
			assert.Equal(t, tt.status, se.Status)
			assert.Equal(t, tt.body, se.Body)
		})
	}
}

func TestHTTPClient_ConfigIncomplete(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	for _, c := range []*HTTPClient{
		NewHTTPClient("", "u", "t"),
		NewHTTPClient(srv.URL, "", "t"),
		NewHTTPClient(srv.URL, "u", ""),
	} {
		_, err := c.Submit(context.Background(), testHash)
		assert.True(t, errors.Is(err, ErrConfigIncomplete), "got %v", err)
	}
	assert.Zero(t, calls.Load())
}

func newSealedStore(t *testing.T, revs ...string) (*store.Store, map[string]string) {
	t.Helper()
	ctx := context.Background()
	s, err := store.New(store.Config{Backend: storage.NewMemoryStore()})
	require.NoError(t, err)

	hashes := map[string]string{}
	for _, rev := range revs {
		rec, err := trace.NewBuilder(trace.DefaultIdentity(), trace.Backfill).Build(trace.BuildInput{
			Commit: trace.Commit{Revision: rev, Subject: rev, Timestamp: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)},
			Files:  []trace.FileRanges{{Path: "a.go", Ranges: []trace.LineRange{{StartLine: 1, EndLine: 1}}}},
		})
		require.NoError(t, err)
		sealed, err := seal.Seal(ctx, rec, seal.Options{})
		require.NoError(t, err)
		key, err := s.Save(ctx, sealed, trace.Backfill)
		require.NoError(t, err)
		hashes[key] = sealed.Metadata.TraceHash
	}
	return s, hashes
}

func TestDispatcher_AnchorsAndAmends(t *testing.T) {
	ctx := context.Background()
	s, hashes := newSealedStore(t, "aaa", "bbb", "ccc")
	fake := &Fake{}

	d := NewDispatcher(ctx, DispatcherConfig{Client: fake, Store: s, Workers: 3})
	for key, hash := range hashes {
		require.NoError(t, d.Enqueue(Job{Key: key, Hash: hash}))
	}
	results := d.Wait()
	require.Len(t, results, 3)
	for _, r := range results {
		assert.NoError(t, r.Err)
		rec, err := s.Load(ctx, r.Job.Key)
		require.NoError(t, err)
		assert.True(t, rec.Anchored())
		assert.Equal(t, "fake-"+r.Job.Hash[:8], rec.Metadata.AnchorStatus.Reference)
	}
	assert.ElementsMatch(t, []string{hashes["aaa.json"], hashes["bbb.json"], hashes["ccc.json"]}, fake.Hashes())

	assert.True(t, errors.Is(d.Enqueue(Job{Key: "aaa.json"}), ErrDispatcherClosed))
}

func TestDispatcher_FailureIsRecorded(t *testing.T) {
	ctx := context.Background()
	s, hashes := newSealedStore(t, "aaa")
	fake := &Fake{Err: &ServiceError{Status: 500, Body: "boom"}}

	d := NewDispatcher(ctx, DispatcherConfig{Client: fake, Store: s})
	require.NoError(t, d.Enqueue(Job{Key: "aaa.json", Hash: hashes["aaa.json"]}))
	results := d.Wait()
	require.Len(t, results, 1)

	var se *ServiceError
	assert.True(t, errors.As(results[0].Err, &se))

	rec, err := s.Load(ctx, "aaa.json")
	require.NoError(t, err)
	assert.Equal(t, trace.AnchorFailed, rec.Metadata.AnchorStatus.Status)
	assert.Contains(t, rec.Metadata.AnchorStatus.Note, "boom")
	assert.NoError(t, seal.Verify(rec), "the persisted record stays valid")
}

func TestDispatcher_IncompleteConfigLeavesPending(t *testing.T) {
	ctx := context.Background()
	s, hashes := newSealedStore(t, "aaa")

	d := NewDispatcher(ctx, DispatcherConfig{Client: NewHTTPClient("", "", ""), Store: s})
	require.NoError(t, d.Enqueue(Job{Key: "aaa.json", Hash: hashes["aaa.json"]}))
	results := d.Wait()
	require.Len(t, results, 1)
	assert.True(t, errors.Is(results[0].Err, ErrConfigIncomplete))

	rec, err := s.Load(ctx, "aaa.json")
	require.NoError(t, err)
	assert.Equal(t, trace.AnchorPending, rec.Metadata.AnchorStatus.Status)
}

func TestDispatcher_ReceiptForReplacedRecordIsRefused(t *testing.T) {
	ctx := context.Background()
	s, err := store.New(store.Config{Backend: storage.NewMemoryStore(), OnExisting: store.Overwrite})
	require.NoError(t, err)

	build := func(at time.Time) *trace.Record {
		rec, err := trace.NewBuilder(trace.DefaultIdentity(), trace.Backfill).Build(trace.BuildInput{
			Commit: trace.Commit{Revision: "aaa", Subject: "aaa", Timestamp: at},
			Files:  []trace.FileRanges{{Path: "a.go", Ranges: []trace.LineRange{{StartLine: 1, EndLine: 1}}}},
		})
		require.NoError(t, err)
		sealed, err := seal.Seal(ctx, rec, seal.Options{})
		require.NoError(t, err)
		return sealed
	}
	first := build(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	second := build(time.Date(2026, 1, 2, 3, 9, 5, 0, time.UTC))

	key, err := s.Save(ctx, first, trace.Backfill)
	require.NoError(t, err)
	_, err = s.Save(ctx, second, trace.Backfill)
	require.NoError(t, err)

	fake := &Fake{}
	d := NewDispatcher(ctx, DispatcherConfig{Client: fake, Store: s})
	require.NoError(t, d.Enqueue(Job{Key: key, Hash: first.Metadata.TraceHash}))
	results := d.Wait()
	require.Len(t, results, 1)
	assert.True(t, errors.Is(results[0].Err, seal.ErrHashMismatch), "got %v", results[0].Err)

	rec, err := s.Load(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, second.Metadata.TraceHash, rec.Metadata.TraceHash)
	assert.Equal(t, trace.AnchorPending, rec.Metadata.AnchorStatus.Status)
	assert.Empty(t, rec.Metadata.AnchorStatus.Reference)
}

// blockingClient holds every Submit until release is closed.
type blockingClient struct{ release chan struct{} }

func (b *blockingClient) Submit(ctx context.Context, hash string) (Receipt, error) {
	<-b.release
	return Receipt{Reference: "late"}, nil
}

func TestDispatcher_EnqueueNeverBlocks(t *testing.T) {
	ctx := context.Background()
	s, _ := newSealedStore(t)
	client := &blockingClient{release: make(chan struct{})}

	d := NewDispatcher(ctx, DispatcherConfig{Client: client, Store: s, Workers: 1, QueueSize: 1})
	var full bool
	for i := 0; i < 5; i++ {
		if errors.Is(d.Enqueue(Job{Key: "missing.json", Hash: testHash}), ErrQueueFull) {
			full = true
		}
	}
	assert.True(t, full)
	close(client.release)
	d.Wait()
}

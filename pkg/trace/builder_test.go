package trace

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedBuilder(mode Mode) *Builder {
	b := NewBuilder(DefaultIdentity(), mode)
	b.Clock = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }
	b.NewID = func() string { return "00000000-0000-4000-8000-000000000001" }
	return b
}

func sampleInput() BuildInput {
	return BuildInput{
		Commit: Commit{
			Revision:  "2d7b4c0f5fb40784071aeaa5d52a8d9ef4339b0a",
			Subject:   "Add trace logger",
			Parent:    "9e6626f0000000000000000000000000000000aa",
			Timestamp: time.Date(2025, 11, 3, 10, 0, 0, 0, time.FixedZone("CET", 3600)),
		},
		Files: []FileRanges{
			{Path: "logger.go", Ranges: []LineRange{{1, 10}, {20, 20}}},
		},
	}
}

func TestBuild_BackfillUsesCommitTimestamp(t *testing.T) {
	rec, err := fixedBuilder(Backfill).Build(sampleInput())
	require.NoError(t, err)

	assert.Equal(t, "2025-11-03T10:00:00+01:00", rec.Timestamp)
	assert.Equal(t, SchemaVersion, rec.Version)
	assert.Equal(t, "git", rec.VCS.Type)
	assert.Equal(t, "github-copilot", rec.Tool.Name)
	assert.Equal(t, "Add trace logger", rec.Metadata.CommitMessage)
	require.Len(t, rec.Files, 1)
	require.Len(t, rec.Files[0].Conversations, 1)
	assert.Equal(t, ContributorAI, rec.Files[0].Conversations[0].Contributor.Type)
	assert.Equal(t, []LineRange{{1, 10}, {20, 20}}, rec.Files[0].Conversations[0].Ranges)
	assert.Empty(t, rec.Metadata.TraceHash)
}

func TestBuild_LiveUsesClock(t *testing.T) {
	rec, err := fixedBuilder(Live).Build(sampleInput())
	require.NoError(t, err)
	assert.Equal(t, "2026-01-02T03:04:05Z", rec.Timestamp)

	in := sampleInput()
	in.Commit.Timestamp = time.Time{}
	rec, err = fixedBuilder(Live).Build(in)
	require.NoError(t, err, "live records do not need a commit timestamp")
	assert.Equal(t, "2026-01-02T03:04:05Z", rec.Timestamp)
}

func TestBuild_FreshIDPerCall(t *testing.T) {
	b := NewBuilder(DefaultIdentity(), Backfill)
	a, err := b.Build(sampleInput())
	require.NoError(t, err)
	c, err := b.Build(sampleInput())
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, c.ID)
	assert.Len(t, a.ID, 36)
}

func TestBuild_DoesNotMutateInput(t *testing.T) {
	in := sampleInput()
	in.Files[0].Ranges = []LineRange{{1, 1}, {2, 2}, {3, 3}, {4, 4}, {5, 5}, {6, 6}, {7, 7}}

	rec, err := fixedBuilder(Backfill).Build(in)
	require.NoError(t, err)

	assert.Len(t, in.Files[0].Ranges, 7)
	assert.Len(t, rec.Files[0].Conversations[0].Ranges, MaxRangesPerConversation)

	rec.Files[0].Conversations[0].Ranges[0].StartLine = 99
	assert.Equal(t, 1, in.Files[0].Ranges[0].StartLine)
}

func TestBuild_RejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		mut  func(*BuildInput)
		want error
	}{
		{"no revision", func(in *BuildInput) { in.Commit.Revision = "" }, ErrInvalidRecord},
		{"no files", func(in *BuildInput) { in.Files = nil }, ErrInvalidRecord},
		{"no commit timestamp", func(in *BuildInput) { in.Commit.Timestamp = time.Time{} }, ErrInvalidRecord},
		{"inverted range", func(in *BuildInput) { in.Files[0].Ranges = []LineRange{{5, 4}} }, ErrInvalidRange},
		{"zero line", func(in *BuildInput) { in.Files[0].Ranges = []LineRange{{0, 4}} }, ErrInvalidRange},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := sampleInput()
			tt.mut(&in)
			_, err := fixedBuilder(Backfill).Build(in)
			if !errors.Is(err, tt.want) {
				t.Errorf("Build() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestAnchorStatusTransition(t *testing.T) {
	tests := []struct {
		from    *AnchorStatus
		to      string
		wantErr bool
	}{
		{&AnchorStatus{Status: AnchorPending}, AnchorAnchored, false},
		{&AnchorStatus{Status: AnchorPending}, AnchorFailed, false},
		{&AnchorStatus{Status: AnchorFailed}, AnchorAnchored, false},
		{nil, AnchorAnchored, false},
		{&AnchorStatus{Status: AnchorAnchored}, AnchorFailed, true},
		{&AnchorStatus{Status: AnchorPending}, AnchorPending, true},
	}
	for _, tt := range tests {
		err := tt.from.Transition(AnchorStatus{Status: tt.to})
		if (err != nil) != tt.wantErr {
			t.Errorf("Transition(%v -> %s) error = %v, wantErr %v", tt.from, tt.to, err, tt.wantErr)
		}
	}
}

func TestClone_IsDeep(t *testing.T) {
	rec, err := fixedBuilder(Backfill).Build(sampleInput())
	require.NoError(t, err)
	rec.Metadata.AnchorStatus = &AnchorStatus{Status: AnchorPending}
	rec.PoW = &ProofOfWork{Nonce: 3, Difficulty: 1, Digest: "0abc"}

	cp := rec.Clone()
	cp.Files[0].Path = "other.go"
	cp.Metadata.AnchorStatus.Status = AnchorAnchored
	cp.PoW.Nonce = 9

	assert.Equal(t, "logger.go", rec.Files[0].Path)
	assert.Equal(t, AnchorPending, rec.Metadata.AnchorStatus.Status)
	assert.Equal(t, uint64(3), rec.PoW.Nonce)
}

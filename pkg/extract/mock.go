package extract

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// MockCommit is a canned commit served by MockVCS.
type MockCommit struct {
	Info    CommitInfo
	Changes []Change
	// Diffs maps path to unified diff text.
	Diffs map[string]string
	// DiffErrors maps path to a retrieval failure.
	DiffErrors map[string]error
}

// MockVCS is an in-memory VCS for tests and dry runs. Abbreviated ids
// resolve by unique prefix.
type MockVCS struct {
	// ResolveErr, when set, is returned by every ResolveRevision call.
	ResolveErr error

	mu      sync.Mutex
	commits map[string]MockCommit
	calls   []string
}

func NewMockVCS() *MockVCS {
	return &MockVCS{commits: make(map[string]MockCommit)}
}

// Add registers a commit under its full revision id.
func (m *MockVCS) Add(rev string, c MockCommit) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commits[rev] = c
}

// Calls returns the recorded call log ("diff <path>", ...).
func (m *MockVCS) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

func (m *MockVCS) record(call string) {
	m.mu.Lock()
	m.calls = append(m.calls, call)
	m.mu.Unlock()
}

func (m *MockVCS) ResolveRevision(ctx context.Context, ref string) (string, error) {
	m.record("resolve " + ref)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ResolveErr != nil {
		return "", m.ResolveErr
	}

	var match string
	for rev := range m.commits {
		if ref != "" && strings.HasPrefix(rev, ref) {
			if match != "" {
				return "", fmt.Errorf("%w: %s is ambiguous", ErrRevisionNotFound, ref)
			}
			match = rev
		}
	}
	if match == "" {
		return "", fmt.Errorf("%w: %s", ErrRevisionNotFound, ref)
	}
	return match, nil
}

func (m *MockVCS) get(rev string) (MockCommit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.commits[rev]
	if !ok {
		return MockCommit{}, fmt.Errorf("%w: %s", ErrRevisionNotFound, rev)
	}
	return c, nil
}

func (m *MockVCS) CommitInfo(ctx context.Context, rev string) (CommitInfo, error) {
	m.record("info " + rev)
	c, err := m.get(rev)
	return c.Info, err
}

func (m *MockVCS) ChangeSummary(ctx context.Context, rev string) ([]Change, error) {
	m.record("summary " + rev)
	c, err := m.get(rev)
	return append([]Change(nil), c.Changes...), err
}

func (m *MockVCS) Diff(ctx context.Context, parent, rev, path string) (string, error) {
	m.record("diff " + path)
	c, err := m.get(rev)
	if err != nil {
		return "", err
	}
	if err := c.DiffErrors[path]; err != nil {
		return "", err
	}
	d, ok := c.Diffs[path]
	if !ok {
		return "", fmt.Errorf("no diff for %s", path)
	}
	return d, nil
}

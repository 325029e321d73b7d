package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// emptyTree is git's well-known empty tree object, used as the parent of root commits.
const emptyTree = "4b825dc642cb6eb9a060e54bf8d69288fbee4904"

// execCommand allows mocking exec.CommandContext for testing
var execCommand = exec.CommandContext

// Git implements VCS by running the git binary in Dir.
type Git struct {
	Dir string
}

func NewGit(dir string) *Git {
	return &Git{Dir: dir}
}

func (g *Git) run(ctx context.Context, args ...string) (string, error) {
	cmd := execCommand(ctx, "git", args...)
	cmd.Dir = g.Dir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("git %s: %w: %s", args[0], err, strings.TrimSpace(stderr.String()))
	}
	return string(out), nil
}

// ResolveRevision expands a possibly abbreviated id to the full commit hash.
func (g *Git) ResolveRevision(ctx context.Context, ref string) (string, error) {
	if ref == "" || strings.HasPrefix(ref, "-") {
		return "", fmt.Errorf("%w: %q", ErrRevisionNotFound, ref)
	}
	out, err := g.run(ctx, "rev-parse", "--verify", "--quiet", ref+"^{commit}")
	if err != nil {
		if unknownRevision(err) {
			return "", fmt.Errorf("%w: %s: %v", ErrRevisionNotFound, ref, err)
		}
		return "", fmt.Errorf("resolve %s: %w", ref, err)
	}
	rev := strings.TrimSpace(out)
	if rev == "" {
		return "", fmt.Errorf("%w: %s", ErrRevisionNotFound, ref)
	}
	return rev, nil
}

// unknownRevision reports whether rev-parse ran and rejected the revision.
// A missing binary, a directory outside any repository and a cancelled
// context are environment faults, not unknown revisions.
func unknownRevision(err error) bool {
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return false
	}
	switch exitErr.ExitCode() {
	case 1:
		return true
	case 128:
		return !strings.Contains(err.Error(), "not a git repository")
	}
	return false
}

// CommitInfo reads subject, first parent and committer date.
func (g *Git) CommitInfo(ctx context.Context, rev string) (CommitInfo, error) {
	out, err := g.run(ctx, "log", "-1", "--format=%s%x00%P%x00%cI", rev)
	if err != nil {
		return CommitInfo{}, err
	}
	parts := strings.SplitN(strings.TrimRight(out, "\n"), "\x00", 3)
	if len(parts) != 3 {
		return CommitInfo{}, fmt.Errorf("unexpected git log output for %s: %q", rev, out)
	}

	info := CommitInfo{Subject: parts[0]}
	if parents := strings.Fields(parts[1]); len(parents) > 0 {
		info.Parent = parents[0]
	}
	info.Timestamp, err = time.Parse(time.RFC3339, strings.TrimSpace(parts[2]))
	if err != nil {
		return CommitInfo{}, fmt.Errorf("parse commit date of %s: %w", rev, err)
	}
	return info, nil
}

// ChangeSummary lists added/removed counts per path against the first parent.
func (g *Git) ChangeSummary(ctx context.Context, rev string) ([]Change, error) {
	out, err := g.run(ctx, "show", "--numstat", "-z", "--no-renames", "--format=", rev)
	if err != nil {
		return nil, err
	}
	return ParseNumstat(out)
}

// Diff returns the unified diff of one path between parent and rev.
func (g *Git) Diff(ctx context.Context, parent, rev, path string) (string, error) {
	if parent == "" {
		parent = emptyTree
	}
	return g.run(ctx, "diff", "--no-color", "--no-ext-diff", parent, rev, "--", path)
}

// ParseNumstat parses NUL-separated `--numstat -z` output.
func ParseNumstat(out string) ([]Change, error) {
	var changes []Change
	for _, entry := range strings.Split(out, "\x00") {
		entry = strings.TrimLeft(entry, "\n")
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, "\t", 3)
		if len(parts) != 3 {
			return nil, fmt.Errorf("malformed numstat entry %q", entry)
		}
		c := Change{Path: parts[2]}
		if parts[0] == "-" {
			c.Binary = true
		} else {
			n, err := strconv.Atoi(parts[0])
			if err != nil {
				return nil, fmt.Errorf("numstat added count %q: %w", parts[0], err)
			}
			c.Added = n
		}
		if parts[1] != "-" {
			n, err := strconv.Atoi(parts[1])
			if err != nil {
				return nil, fmt.Errorf("numstat removed count %q: %w", parts[1], err)
			}
			c.Removed = n
		}
		changes = append(changes, c)
	}
	return changes, nil
}

package extract

import (
	"bufio"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/DrSkyle/agenttrace/pkg/trace"
)

var hunkHeader = regexp.MustCompile(`^@@ -(\d+)(?:,(\d+))? \+(\d+)(?:,(\d+))? @@`)

// Hunk is a parsed unified diff hunk header.
type Hunk struct {
	OldStart, OldCount int
	NewStart, NewCount int
}

// ParseHunkHeader parses "@@ -a[,b] +c[,d] @@". Omitted counts default to 1.
func ParseHunkHeader(line string) (Hunk, error) {
	m := hunkHeader.FindStringSubmatch(line)
	if m == nil {
		return Hunk{}, fmt.Errorf("malformed hunk header %q", line)
	}
	var h Hunk
	var err error
	if h.OldStart, err = atoiDefault(m[1], 0); err != nil {
		return Hunk{}, err
	}
	if h.OldCount, err = atoiDefault(m[2], 1); err != nil {
		return Hunk{}, err
	}
	if h.NewStart, err = atoiDefault(m[3], 0); err != nil {
		return Hunk{}, err
	}
	if h.NewCount, err = atoiDefault(m[4], 1); err != nil {
		return Hunk{}, err
	}
	return h, nil
}

func atoiDefault(s string, def int) (int, error) {
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("hunk number %q: %w", s, err)
	}
	return n, nil
}

// ParseHunks returns every hunk header of a unified diff in order.
func ParseHunks(diff string) ([]Hunk, error) {
	var hunks []Hunk
	sc := bufio.NewScanner(strings.NewReader(diff))
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "@@ ") {
			continue
		}
		h, err := ParseHunkHeader(line)
		if err != nil {
			return nil, err
		}
		hunks = append(hunks, h)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return hunks, nil
}

// Ranges converts hunks to post-change line ranges, dropping hunks that
// insert nothing, and keeps at most limit of them (limit <= 0 keeps all).
func Ranges(hunks []Hunk, limit int) ([]trace.LineRange, error) {
	var out []trace.LineRange
	for _, h := range hunks {
		if h.NewCount <= 0 {
			continue
		}
		r, err := trace.NewLineRange(h.NewStart, h.NewStart+h.NewCount-1)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

package extract

import (
	"fmt"
	"strings"
	"testing"

	"github.com/DrSkyle/agenttrace/pkg/trace"
)

func TestParseHunkHeader(t *testing.T) {
	tests := []struct {
		line    string
		want    Hunk
		wantErr bool
	}{
		{"@@ -10,3 +20,5 @@", Hunk{10, 3, 20, 5}, false},
		{"@@ -10 +20 @@", Hunk{10, 1, 20, 1}, false},
		{"@@ -1,0 +2,4 @@ func main() {", Hunk{1, 0, 2, 4}, false},
		{"@@ -5,2 +4,0 @@", Hunk{5, 2, 4, 0}, false},
		{"@@ -x +1 @@", Hunk{}, true},
		{"@@ -1 +99999999999999999999999 @@", Hunk{}, true},
	}
	for _, tt := range tests {
		got, err := ParseHunkHeader(tt.line)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseHunkHeader(%q) error = %v, wantErr %v", tt.line, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseHunkHeader(%q) = %+v, want %+v", tt.line, got, tt.want)
		}
	}
}

func TestRanges_FromHeaders(t *testing.T) {
	hunks, err := ParseHunks("@@ -10,3 +20,5 @@\n@@ -10 +20 @@\n")
	if err != nil {
		t.Fatal(err)
	}
	got, err := Ranges(hunks, 0)
	if err != nil {
		t.Fatal(err)
	}
	want := []trace.LineRange{{StartLine: 20, EndLine: 24}, {StartLine: 20, EndLine: 20}}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("Ranges() = %v, want %v", got, want)
	}
}

func TestRanges_DropsPureDeletions(t *testing.T) {
	got, err := Ranges([]Hunk{{5, 2, 4, 0}, {9, 1, 9, 2}}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0] != (trace.LineRange{StartLine: 9, EndLine: 10}) {
		t.Errorf("Ranges() = %v", got)
	}
}

func TestRanges_CapKeepsFirstFive(t *testing.T) {
	var b strings.Builder
	b.WriteString("diff --git a/f.go b/f.go\n--- a/f.go\n+++ b/f.go\n")
	for i := 1; i <= 8; i++ {
		fmt.Fprintf(&b, "@@ -%d,1 +%d,2 @@\n-old\n+new\n+new\n", i*10, i*10)
	}
	hunks, err := ParseHunks(b.String())
	if err != nil {
		t.Fatal(err)
	}
	if len(hunks) != 8 {
		t.Fatalf("expected 8 hunks, got %d", len(hunks))
	}

	got, err := Ranges(hunks, trace.MaxRangesPerConversation)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 5 {
		t.Fatalf("expected 5 ranges, got %d", len(got))
	}
	for i, r := range got {
		start := (i + 1) * 10
		if r.StartLine != start || r.EndLine != start+1 {
			t.Errorf("range %d = %v, want %d-%d", i, r, start, start+1)
		}
	}
}

func TestParseHunks_Malformed(t *testing.T) {
	if _, err := ParseHunks("@@ garbage @@\n"); err == nil {
		t.Error("expected error for malformed header")
	}
}

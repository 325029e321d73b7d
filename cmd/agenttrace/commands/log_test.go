package commands

import (
	"path/filepath"
	"testing"
)

func TestArtifactPath(t *testing.T) {
	tests := []struct {
		name   string
		target string
		key    string
		want   string
	}{
		{"default trace dir", ".agent-trace", "2026-02-03T04-05-06Z.json", filepath.Join(".agent-trace", "2026-02-03T04-05-06Z.json")},
		{"absolute dir", "/srv/traces/", "abc.json", filepath.Join("/srv/traces", "abc.json")},
		{"s3 prefix", "s3://ledger/traces", "abc.json", "s3://ledger/traces/abc.json"},
		{"s3 trailing slash", "s3://ledger/", "abc.json", "s3://ledger/abc.json"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := artifactPath(tt.target, tt.key); got != tt.want {
				t.Errorf("artifactPath(%q, %q) = %q, want %q", tt.target, tt.key, got, tt.want)
			}
		})
	}
}

package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/DrSkyle/agenttrace/pkg/seal"
	"github.com/DrSkyle/agenttrace/pkg/store"
	agenttrace "github.com/DrSkyle/agenttrace/pkg/trace"
)

// ErrVerificationFailed is returned when a record has any problem.
var ErrVerificationFailed = errors.New("trace record failed verification")

// Verification is the result of checking one record.
type Verification struct {
	Source    string
	Revision  string
	TraceHash string
	Computed  string
	HashOK    bool
	// PoW is "valid", "invalid" or "absent".
	PoW      string
	Anchor   string
	Problems []string
}

// OK reports whether no problem was found.
func (v *Verification) OK() bool { return len(v.Problems) == 0 }

// Verify checks a record given as a JSON file path or a revision prefix
// known to the store.
func (e *Engine) Verify(ctx context.Context, target string) (*Verification, error) {
	ctx, span := e.Tracer.Start(ctx, "Engine.Verify")
	defer span.End()

	rec, source, err := e.locate(ctx, target)
	if err != nil {
		return nil, err
	}
	v := VerifyRecord(rec)
	v.Source = source

	if !v.OK() {
		e.Logger.Warn("Verification failed", "source", source, "problems", len(v.Problems))
		return v, fmt.Errorf("%w: %s", ErrVerificationFailed, strings.Join(v.Problems, "; "))
	}
	e.Logger.Info("Verification passed", "source", source, "trace_hash", v.TraceHash)
	return v, nil
}

func (e *Engine) locate(ctx context.Context, target string) (*agenttrace.Record, string, error) {
	if strings.HasSuffix(target, ".json") {
		if data, err := os.ReadFile(target); err == nil {
			rec, err := store.Decode(data)
			return rec, target, err
		}
	}
	if e.Store == nil {
		return nil, "", fmt.Errorf("%w: store", ErrNotConfigured)
	}
	key, rec, err := e.Store.Find(ctx, target)
	return rec, key, err
}

// VerifyRecord runs every check against rec and collects the problems.
func VerifyRecord(rec *agenttrace.Record) *Verification {
	v := &Verification{
		Revision:  rec.VCS.Revision,
		TraceHash: rec.Metadata.TraceHash,
		PoW:       "absent",
	}
	if st := rec.Metadata.AnchorStatus; st != nil {
		v.Anchor = st.Status
	}

	if rec.Version != agenttrace.SchemaVersion {
		v.Problems = append(v.Problems, fmt.Sprintf("unsupported version %q", rec.Version))
	}
	required := []struct{ name, val string }{
		{"id", rec.ID},
		{"vcs.revision", rec.VCS.Revision},
		{"tool.name", rec.Tool.Name},
	}
	missing := false
	for _, f := range required {
		if f.val == "" {
			missing = true
			v.Problems = append(v.Problems, "missing "+f.name)
		}
	}
	// Remaining schema checks; version and required fields are reported above.
	if rec.Version == agenttrace.SchemaVersion && !missing {
		if err := rec.Validate(); err != nil {
			v.Problems = append(v.Problems, err.Error())
		}
	}

	computed, err := seal.HashRecord(rec)
	if err != nil {
		v.Problems = append(v.Problems, err.Error())
		return v
	}
	v.Computed = computed
	switch {
	case rec.Metadata.TraceHash == "":
		v.Problems = append(v.Problems, seal.ErrUnsealed.Error())
	case computed != rec.Metadata.TraceHash:
		v.Problems = append(v.Problems, seal.ErrHashMismatch.Error())
	default:
		v.HashOK = true
	}

	if rec.PoW != nil {
		if err := seal.VerifyProof(rec.Metadata.TraceHash, rec.PoW); err != nil {
			v.PoW = "invalid"
			v.Problems = append(v.Problems, err.Error())
		} else {
			v.PoW = "valid"
		}
	}
	return v
}

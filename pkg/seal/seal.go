// Package seal computes the content hash and the proof-of-work seal of trace records.
package seal

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/DrSkyle/agenttrace/pkg/canonical"
	"github.com/DrSkyle/agenttrace/pkg/trace"
)

// Scope documents what trace_hash commits to. It is itself part of the hashed bytes.
const Scope = "sha256(canonical(record - {metadata.trace_hash, metadata.anchor_status, pow}))"

// ExcludedFields are left out of the hashed bytes.
var ExcludedFields = []string{"metadata.trace_hash", "metadata.anchor_status", "pow"}

var (
	ErrHashMismatch = errors.New("trace hash does not match record content")
	ErrInvalidProof = errors.New("proof of work does not verify")
	ErrUnsealed     = errors.New("record has no trace hash")
)

// Options controls sealing.
type Options struct {
	// PoW enables the nonce search.
	PoW    bool
	Search SearchOptions
	// Note is recorded on the initial pending anchor status.
	Note string
}

// HashRecord returns the lowercase hex SHA-256 of the record's canonical
// bytes, ignoring the excluded fields.
func HashRecord(rec *trace.Record) (string, error) {
	data, err := canonical.Marshal(rec, ExcludedFields...)
	if err != nil {
		return "", fmt.Errorf("canonicalize record: %w", err)
	}
	return Sum(data), nil
}

// Sum is the hex SHA-256 of data.
func Sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// Seal returns a sealed copy of rec: scope and trace_hash set, anchor status
// pending, and a proof of work when requested. rec is left untouched.
func Seal(ctx context.Context, rec *trace.Record, opts Options) (*trace.Record, error) {
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	out := rec.Clone()
	out.Metadata.TraceHashScope = Scope
	out.Metadata.TraceHash = ""
	out.Metadata.AnchorStatus = nil
	out.PoW = nil

	hash, err := HashRecord(out)
	if err != nil {
		return nil, err
	}
	out.Metadata.TraceHash = hash
	out.Metadata.AnchorStatus = &trace.AnchorStatus{Status: trace.AnchorPending, Note: opts.Note}

	if opts.PoW {
		pow, err := Search(ctx, hash, opts.Search)
		if err != nil {
			return nil, err
		}
		out.PoW = pow
	}
	return out, nil
}

// Verify recomputes the content hash and checks the proof of work if present.
func Verify(rec *trace.Record) error {
	if rec.Metadata.TraceHash == "" {
		return ErrUnsealed
	}
	hash, err := HashRecord(rec)
	if err != nil {
		return err
	}
	if hash != rec.Metadata.TraceHash {
		return fmt.Errorf("%w: stored %s, computed %s", ErrHashMismatch, rec.Metadata.TraceHash, hash)
	}
	if rec.PoW != nil {
		return VerifyProof(hash, rec.PoW)
	}
	return nil
}

package seal

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/DrSkyle/agenttrace/pkg/trace"
)

// Proof-of-work limits. A search at difficulty d needs 16^d attempts on
// average: d=4 is ~65k hashes (milliseconds), d=6 ~16.7M (seconds) and d=8
// ~4.3G, which exceeds DefaultMaxIterations and will usually fail.
const (
	DefaultDifficulty    = 4
	MaxDifficulty        = 8
	DefaultMaxIterations = uint64(1) << 28

	ctxCheckInterval = 1 << 14
)

var (
	ErrPoWExhausted      = errors.New("proof of work: iteration ceiling reached")
	ErrDifficultyTooHigh = errors.New("proof of work: difficulty out of range")
)

// SearchOptions bounds the nonce search.
type SearchOptions struct {
	Difficulty    int
	MaxIterations uint64
	// Workers > 1 splits the nonce space into strides. The result is the
	// same nonce a single worker would find.
	Workers int
}

func (o SearchOptions) withDefaults() SearchOptions {
	if o.MaxIterations == 0 {
		o.MaxIterations = DefaultMaxIterations
	}
	if o.Workers < 1 {
		o.Workers = 1
	}
	return o
}

// Search finds the smallest nonce such that sha256hex(contentHash + nonce)
// starts with Difficulty zero hex characters.
func Search(ctx context.Context, contentHash string, opts SearchOptions) (*trace.ProofOfWork, error) {
	opts = opts.withDefaults()
	if opts.Difficulty < 0 || opts.Difficulty > MaxDifficulty {
		return nil, fmt.Errorf("%w: %d (max %d)", ErrDifficultyTooHigh, opts.Difficulty, MaxDifficulty)
	}
	if opts.Workers == 1 {
		return searchStride(ctx, contentHash, opts.Difficulty, 0, 1, opts.MaxIterations, nil)
	}

	var best atomic.Uint64
	best.Store(opts.MaxIterations)

	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < opts.Workers; w++ {
		start := uint64(w)
		g.Go(func() error {
			pow, err := searchStride(gctx, contentHash, opts.Difficulty, start, uint64(opts.Workers), opts.MaxIterations, &best)
			if errors.Is(err, ErrPoWExhausted) {
				return nil
			}
			if err != nil {
				return err
			}
			for {
				cur := best.Load()
				if pow.Nonce >= cur || best.CompareAndSwap(cur, pow.Nonce) {
					return nil
				}
			}
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	nonce := best.Load()
	if nonce >= opts.MaxIterations {
		return nil, fmt.Errorf("%w: difficulty %d after %d attempts", ErrPoWExhausted, opts.Difficulty, opts.MaxIterations)
	}
	return &trace.ProofOfWork{Nonce: nonce, Difficulty: opts.Difficulty, Digest: Digest(contentHash, nonce)}, nil
}

// searchStride scans start, start+step, ... below limit. When best is set it
// also stops once another worker has found a smaller nonce.
func searchStride(ctx context.Context, contentHash string, difficulty int, start, step, limit uint64, best *atomic.Uint64) (*trace.ProofOfWork, error) {
	target := strings.Repeat("0", difficulty)
	buf := make([]byte, 0, len(contentHash)+20)
	buf = append(buf, contentHash...)
	var hexBuf [sha256.Size * 2]byte

	var n uint64
	for nonce := start; nonce < limit; nonce += step {
		if best != nil && nonce >= best.Load() {
			break
		}
		if n%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		n++

		sum := sha256.Sum256(strconv.AppendUint(buf[:len(contentHash)], nonce, 10))
		hex.Encode(hexBuf[:], sum[:])
		if string(hexBuf[:difficulty]) == target {
			return &trace.ProofOfWork{Nonce: nonce, Difficulty: difficulty, Digest: string(hexBuf[:])}, nil
		}
		if limit-nonce <= step {
			break
		}
	}
	return nil, fmt.Errorf("%w: difficulty %d after %d attempts", ErrPoWExhausted, difficulty, limit)
}

// Digest is sha256hex(contentHash + decimal nonce).
func Digest(contentHash string, nonce uint64) string {
	return Sum([]byte(contentHash + strconv.FormatUint(nonce, 10)))
}

// VerifyProof checks that pow is a valid seal over contentHash.
func VerifyProof(contentHash string, pow *trace.ProofOfWork) error {
	if pow == nil {
		return fmt.Errorf("%w: missing", ErrInvalidProof)
	}
	if pow.Difficulty < 0 || pow.Difficulty > len(pow.Digest) {
		return fmt.Errorf("%w: difficulty %d", ErrInvalidProof, pow.Difficulty)
	}
	want := Digest(contentHash, pow.Nonce)
	if want != pow.Digest {
		return fmt.Errorf("%w: digest mismatch for nonce %d", ErrInvalidProof, pow.Nonce)
	}
	if !strings.HasPrefix(want, strings.Repeat("0", pow.Difficulty)) {
		return fmt.Errorf("%w: digest lacks %d leading zeros", ErrInvalidProof, pow.Difficulty)
	}
	return nil
}

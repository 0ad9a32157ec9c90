package fairness

import (
	"context"
	"crypto/rand"
	"fmt"
	"sync"
)

// EntropySource supplies unpredictable server seeds. The oracle publishes
// the hash of each seed before using it.
type EntropySource interface {
	Entropy(ctx context.Context) ([]byte, error)
}

// SystemEntropy reads 32 bytes from the operating system CSPRNG.
type SystemEntropy struct{}

func (SystemEntropy) Entropy(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("read system entropy: %w", err)
	}
	return b, nil
}

// EntropyFunc adapts a function to EntropySource.
type EntropyFunc func(ctx context.Context) ([]byte, error)

func (f EntropyFunc) Entropy(ctx context.Context) ([]byte, error) { return f(ctx) }

// SequenceEntropy hands out a fixed list of values in order and wraps around.
// Deterministic; intended for tests and replays.
type SequenceEntropy struct {
	mu     sync.Mutex
	values [][]byte
	next   int
}

func NewSequenceEntropy(values ...[]byte) *SequenceEntropy {
	return &SequenceEntropy{values: values}
}

func (s *SequenceEntropy) Entropy(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.values) == 0 {
		return nil, fmt.Errorf("sequence entropy exhausted")
	}
	v := s.values[s.next%len(s.values)]
	s.next++
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

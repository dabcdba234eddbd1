package pathgen

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// uniformIndex draws an unbiased random integer in [0, n) using
// crypto/rand; rand.Int rejects out-of-range draws, so no value is
// favoured by modulo bias.
func uniformIndex(n int) (int, error) {
	if n <= 0 {
		return 0, fmt.Errorf("uniformIndex: n must be positive, got %d", n)
	}
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, fmt.Errorf("uniformIndex: %w", err)
	}
	return int(v.Int64()), nil
}

// drawWithoutReplacement removes and returns a uniformly random element
// of *pool, shrinking the pool by one.
func drawWithoutReplacement[T any](pool *[]T) (T, error) {
	var zero T
	idx, err := uniformIndex(len(*pool))
	if err != nil {
		return zero, err
	}
	v := (*pool)[idx]
	last := len(*pool) - 1
	(*pool)[idx] = (*pool)[last]
	*pool = (*pool)[:last]
	return v, nil
}

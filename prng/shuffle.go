package prng

// FisherYatesShuffle returns a new slice holding a permutation of src,
// drawn from s using the inside-out Fisher-Yates algorithm: for each
// index i from 0 to len(src)-1, a draw j in [0, i] is taken from s, out[i]
// is set to whatever currently occupies out[j] (or src[i] itself, on the
// first write to j), and out[j] is then set to src[i]. Building the
// permutation forward like this, rather than swapping within a copy of
// src, consumes s's draws in the same index order as any other
// implementation of the same construction, so two streams derived from
// the same seed produce the identical permutation for the identical
// input length.
func FisherYatesShuffle[T any](src []T, s *Stream) []T {
	out := make([]T, len(src))
	for i := range src {
		j := s.NextBounded(uint64(i))
		out[i] = out[j]
		out[j] = src[i]
	}
	return out
}

// PickPrime draws a prime near 2^42 from s, used to choose a stride for
// the index-walk pairing in the permuted-pair generator. The candidate is
// drawn uniformly from [2^42, 2^43] (NextBounded's bound is inclusive),
// rounded up to odd, then walked
// upward by 2 until a prime is found.
func PickPrime(s *Stream) uint64 {
	const base = uint64(1) << 42
	candidate := s.NextBounded(base) + base

	// Round up to odd.
	candidate += (candidate ^ 1) & 1

	for {
		if isPrime(candidate) {
			return candidate
		}
		candidate += 2
	}
}

// isPrime trial-divides by odd numbers up to sqrt(n). n is always odd and
// on the order of 2^42-2^43, so this is cheap relative to the handful of
// candidates typically walked before a prime is found.
func isPrime(n uint64) bool {
	if n < 2 {
		return false
	}
	if n%2 == 0 {
		return n == 2
	}
	for d := uint64(3); d*d <= n; d += 2 {
		if n%d == 0 {
			return false
		}
	}
	return true
}

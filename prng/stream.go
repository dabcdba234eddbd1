package prng

import (
	"crypto/sha256"
	"strconv"

	"golang.org/x/crypto/pbkdf2"
)

// Stream is a cursor into the keyed byte stream anchored at a Seed. It is
// not safe for concurrent use; callers that need the same stream from
// multiple goroutines must synchronize externally or derive independent
// streams from independent seeds.
type Stream struct {
	seed   Seed
	cursor uint64

	lastGen   uint64
	lastBlock []byte
	haveLast  bool
}

// NewStream returns a Stream reading from the beginning of the keyed byte
// stream derived from seed.
func NewStream(seed Seed) *Stream {
	return &Stream{seed: seed}
}

// blockSize is the number of bytes produced per PBKDF2 generation round.
const blockSize = 32

// block returns the 32-byte block for generation index g, deriving it with
// a single PBKDF2-HMAC-SHA256 round keyed on the seed and salted with the
// decimal generation index. This mirrors the reference scanner's own
// generation scheme byte for byte, including its choice to key each block
// off the generation index rather than a running counter.
func (s *Stream) block(g uint64) []byte {
	if s.haveLast && s.lastGen == g {
		return s.lastBlock
	}
	b := pbkdf2.Key(s.seed[:], []byte(strconv.FormatUint(g, 10)), 1, blockSize, sha256.New)
	s.lastGen, s.lastBlock, s.haveLast = g, b, true
	return b
}

// NextBytes consumes and returns the next n bytes of the stream.
func (s *Stream) NextBytes(n int) []byte {
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		g := s.cursor / blockSize
		off := s.cursor % blockSize
		out[i] = s.block(g)[off]
		s.cursor++
	}
	return out
}

// NextBounded draws a uniformly distributed integer in [0, maximum], using
// rejection sampling against the smallest power of 256 that covers the
// range so no value is over-represented.
func (s *Stream) NextBounded(maximum uint64) uint64 {
	if maximum == 0 {
		return 0
	}
	rangeSize := maximum + 1

	k := 1
	for (uint64(1) << (8 * uint(k))) < rangeSize {
		k++
		if k > 8 {
			// rangeSize would have to exceed 2^64 to reach here.
			break
		}
	}

	var limit uint64
	if k >= 8 {
		limit = (^uint64(0) / rangeSize) * rangeSize
	} else {
		span := uint64(1) << (8 * uint(k))
		limit = (span / rangeSize) * rangeSize
	}

	for {
		word := s.drawWord(k)
		if word < limit {
			return word % rangeSize
		}
	}
}

// drawWord reads k bytes from the stream and assembles them big-endian
// into a uint64.
func (s *Stream) drawWord(k int) uint64 {
	b := s.NextBytes(k)
	var word uint64
	for _, c := range b {
		word = (word << 8) | uint64(c)
	}
	return word
}

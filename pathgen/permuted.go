package pathgen

import (
	"github.com/cvsouth/bwscan/prng"
	"github.com/cvsouth/bwscan/relay"
)

// Permuted is the partition-probe pair generator of §4.C.2: it derives two
// independent shuffles of the relay set from a shared PRNG seed, walks a
// prime-strided index sequence over the |R|^2 space, and emits the pairs
// that fall into this scanner's partition.
//
// All pairs for the partition are materialized at construction time; this
// mirrors the reference implementation's own batch-and-shuffle structure,
// which cannot emit a pair until its containing buffer has been shuffled.
type Permuted struct {
	pairs []Pair
	pos   int
}

// NewPermuted builds a Permuted generator. thisPartition is 0-indexed, per
// §4.C.2; partitions must be >= 1.
func NewPermuted(relays []relay.Relay, partitions, thisPartition int, seed prng.Seed) *Permuted {
	if partitions < 1 {
		partitions = 1
	}
	n := len(relays)
	if n == 0 {
		return &Permuted{}
	}

	stream := prng.NewStream(seed)
	s0 := prng.FisherYatesShuffle(relays, stream)
	s1 := prng.FisherYatesShuffle(relays, stream)

	total := uint64(n) * uint64(n)
	p := prng.PickPrime(stream)

	var pairs []Pair
	var buf []uint64
	var unique uint64
	setSize := uint64(1)

	flush := func() {
		shuffled := prng.FisherYatesShuffle(buf, stream)
		for _, k := range shuffled {
			a := k % uint64(n)
			b := k / uint64(n)
			if s0[a].Fingerprint == s1[b].Fingerprint {
				continue
			}
			unique++
			if unique%uint64(partitions) == uint64(thisPartition) {
				pairs = append(pairs, Pair{First: s0[a], Second: s1[b]})
			}
		}
		buf = buf[:0]
		unique = 0
		setSize = 100 + uint64(partitions) + stream.NextBounded(255)
	}

	idx := uint64(0)
	// p is a prime above total, so total steps visit every index once.
	for offset := uint64(0); offset < total; offset++ {
		buf = append(buf, idx)
		idx = (idx + p) % total

		isLastStep := offset == total-1
		if uint64(len(buf)) >= setSize || isLastStep {
			flush()
		}
	}

	return &Permuted{pairs: pairs}
}

// Next returns the next probe pair for this scanner's partition, or false
// once the full index walk has been processed.
func (g *Permuted) Next() (Pair, bool) {
	if g.pos >= len(g.pairs) {
		return Pair{}, false
	}
	p := g.pairs[g.pos]
	g.pos++
	return p, true
}

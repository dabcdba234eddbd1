package pathgen

import (
	"sort"

	"github.com/cvsouth/bwscan/relay"
)

// DefaultSliceWidth is the slice width used when a caller does not
// override it.
const DefaultSliceWidth = 50

// TwoHop is the measurement path generator of §4.C.1: it partitions the
// relay set across cooperating scanners, slices the partition by
// ascending bandwidth, and within each slice pairs every relay with a
// bandwidth-similar exit.
type TwoHop struct {
	pairs []Pair
	pos   int
}

// NewTwoHop builds a TwoHop generator over the given relay set. partitions
// must be >= 1 and thisPartition in [1, partitions]. sliceWidth <= 0 is
// replaced by DefaultSliceWidth.
func NewTwoHop(relays []relay.Relay, partitions, thisPartition, sliceWidth int) *TwoHop {
	if sliceWidth <= 0 {
		sliceWidth = DefaultSliceWidth
	}
	if partitions < 1 {
		partitions = 1
	}

	globalExits := validExits(relays)
	sort.Slice(globalExits, func(i, j int) bool { return globalExits[i].Bandwidth < globalExits[j].Bandwidth })

	partitionRelays := selectPartition(relays, partitions, thisPartition)
	sort.Slice(partitionRelays, func(i, j int) bool { return partitionRelays[i].Bandwidth < partitionRelays[j].Bandwidth })

	var pairs []Pair
	for _, slice := range sliceBy(partitionRelays, sliceWidth) {
		pairs = append(pairs, pairsFromSlice(slice, globalExits, sliceWidth)...)
	}

	return &TwoHop{pairs: pairs}
}

// Next returns the next measurement pair, or false when exhausted.
func (g *TwoHop) Next() (Pair, bool) {
	if g.pos >= len(g.pairs) {
		return Pair{}, false
	}
	p := g.pairs[g.pos]
	g.pos++
	return p, true
}

// selectPartition returns the relays whose index in relays falls at
// this_partition-1, this_partition-1+partitions, ... clipped to len(relays).
func selectPartition(relays []relay.Relay, partitions, thisPartition int) []relay.Relay {
	var out []relay.Relay
	for i := thisPartition - 1; i < len(relays); i += partitions {
		out = append(out, relays[i])
	}
	return out
}

func validExits(relays []relay.Relay) []relay.Relay {
	var out []relay.Relay
	for _, r := range relays {
		if r.IsValidExit() {
			out = append(out, r)
		}
	}
	return out
}

// sliceBy splits relays into contiguous slices of width elements; the
// last slice may be shorter.
func sliceBy(relays []relay.Relay, width int) [][]relay.Relay {
	var out [][]relay.Relay
	for i := 0; i < len(relays); i += width {
		end := i + width
		if end > len(relays) {
			end = len(relays)
		}
		out = append(out, relays[i:end])
	}
	return out
}

// pairsFromSlice draws every (r, e) pair for one slice per §4.C.1 step 4,
// falling back to the bandwidth-similarity window of the edge-case rule
// whenever the slice's own exit subset cannot supply a distinct partner.
func pairsFromSlice(slice, globalExits []relay.Relay, sliceWidth int) []Pair {
	localExits := validExits(slice)

	pool := make([]relay.Relay, len(slice))
	copy(pool, slice)

	var out []Pair
	for len(pool) > 0 {
		r, err := drawWithoutReplacement(&pool)
		if err != nil {
			break
		}

		candidates := excluding(localExits, r)
		if len(candidates) == 0 {
			candidates = excluding(bandwidthWindow(globalExits, r, sliceWidth), r)
			if len(candidates) == 0 {
				// No bandwidth-similar exit could be found; this yield fails
				// per §4.C.1's edge-case rule and is simply skipped.
				continue
			}
		}

		idx, err := uniformIndex(len(candidates))
		if err != nil {
			continue
		}
		out = append(out, Pair{First: r, Second: candidates[idx]})
	}
	return out
}

// excluding returns exits with r removed by fingerprint, if present.
func excluding(exits []relay.Relay, r relay.Relay) []relay.Relay {
	var out []relay.Relay
	for _, e := range exits {
		if e.Fingerprint != r.Fingerprint {
			out = append(out, e)
		}
	}
	return out
}

// bandwidthWindow implements the fallback rule: find the smallest index i
// in the globally bandwidth-sorted exit list with bandwidth >= r's, then
// take a window of width exits starting there, extending downward if the
// window would otherwise run short.
func bandwidthWindow(globalExits []relay.Relay, r relay.Relay, width int) []relay.Relay {
	i := sort.Search(len(globalExits), func(i int) bool { return globalExits[i].Bandwidth >= r.Bandwidth })
	if i == len(globalExits) {
		return nil
	}

	end := i + width
	if end > len(globalExits) {
		end = len(globalExits)
	}
	start := i
	if end-start < width {
		start = end - width
		if start < 0 {
			start = 0
		}
	}
	return globalExits[start:end]
}

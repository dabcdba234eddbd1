// Package pathgen builds the relay pairs that drive a scan: two-hop
// measurement paths for the bandwidth orchestrator, and permuted
// partition-probe pairs for the partition scanner.
package pathgen

import "github.com/cvsouth/bwscan/relay"

// Pair is an ordered pair of relays. For a measurement path, First is the
// entry hop and Second is the exit hop. For a partition probe, First and
// Second are simply the two relays being tested for connectivity.
type Pair struct {
	First  relay.Relay
	Second relay.Relay
}

// Generator produces a finite, deterministic-per-construction sequence of
// Pairs. Next returns false once the sequence is exhausted; a Generator
// must not be reused after that point.
type Generator interface {
	Next() (Pair, bool)
}

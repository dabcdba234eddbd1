// Package prng implements the keyed, deterministic byte stream used to
// derive reproducible pairings and orderings across cooperating scanners.
// Every scanner that shares the same consensus and the same shared secret
// derives the identical stream, without exchanging anything beyond that
// secret.
package prng

import (
	"crypto/sha256"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

// Seed is the 32-byte key that anchors a Stream. It is derived once per
// scan from the consensus fingerprint list, in snapshot order, and a
// shared secret, so two
// scanners with the same inputs always start from the same seed.
type Seed [32]byte

// DeriveSeed computes the seed from the consensus relay fingerprints, in
// the exact order the consensus snapshot gives them, and a shared secret
// known to all cooperating scanners.
//
// C = SHA256(comma-joined uppercase fingerprints, in consensus-snapshot
// order, trailing comma included), S = SHA256(sharedSecret);
// seed = PBKDF2-HMAC-SHA256(password=C, salt=S, iterations=1, keylen=32).
// The order must NOT be normalized (sorted, deduplicated, etc.): every
// cooperating scanner builds C from the identical snapshot order it was
// handed, which is what lets two scanners agree on a seed without
// exchanging anything but the shared secret. A single PBKDF2 iteration
// is intentional: the inputs are already high-entropy, uniformly-
// distributed digests, not user passwords, so there is nothing here for
// added iteration count to protect against.
func DeriveSeed(fingerprints []string, sharedSecret []byte) Seed {
	var b strings.Builder
	for _, fp := range fingerprints {
		b.WriteString(strings.ToUpper(fp))
		b.WriteByte(',')
	}
	c := sha256.Sum256([]byte(b.String()))

	s := sha256.Sum256(sharedSecret)

	key := pbkdf2.Key(c[:], s[:], 1, 32, sha256.New)

	var seed Seed
	copy(seed[:], key)
	return seed
}

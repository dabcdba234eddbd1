package prng

import "testing"

func testSeed() Seed {
	return DeriveSeed([]string{"AAAA", "BBBB", "CCCC"}, []byte("shared-secret"))
}

func TestDeriveSeedDeterministic(t *testing.T) {
	s1 := DeriveSeed([]string{"AAAA", "BBBB", "CCCC"}, []byte("shared-secret"))
	s1Again := DeriveSeed([]string{"AAAA", "BBBB", "CCCC"}, []byte("shared-secret"))
	if s1 != s1Again {
		t.Fatalf("seed must be deterministic for identical inputs")
	}

	s2 := DeriveSeed([]string{"CCCC", "AAAA", "BBBB"}, []byte("shared-secret"))
	if s1 == s2 {
		t.Fatalf("seed must depend on the consensus snapshot order, not just the fingerprint set")
	}

	s3 := DeriveSeed([]string{"AAAA", "BBBB"}, []byte("shared-secret"))
	if s1 == s3 {
		t.Fatalf("different fingerprint sets must not collide")
	}

	s4 := DeriveSeed([]string{"AAAA", "BBBB", "CCCC"}, []byte("different-secret"))
	if s1 == s4 {
		t.Fatalf("different shared secrets must not collide")
	}

	lower := DeriveSeed([]string{"aaaa", "bbbb", "cccc"}, []byte("shared-secret"))
	if s1 != lower {
		t.Fatalf("seed must be case-insensitive to fingerprint casing")
	}
}

func TestStreamDeterministic(t *testing.T) {
	seed := testSeed()
	a := NewStream(seed).NextBytes(128)
	b := NewStream(seed).NextBytes(128)
	if string(a) != string(b) {
		t.Fatalf("two streams from the same seed diverged")
	}
}

func TestStreamIsContinuous(t *testing.T) {
	seed := testSeed()
	whole := NewStream(seed).NextBytes(64)

	split := NewStream(seed)
	first := split.NextBytes(30)
	second := split.NextBytes(34)

	if string(whole[:30]) != string(first) || string(whole[30:]) != string(second) {
		t.Fatalf("reading in two chunks must match reading in one")
	}
}

func TestNextBoundedRange(t *testing.T) {
	s := NewStream(testSeed())
	for i := 0; i < 5000; i++ {
		v := s.NextBounded(9)
		if v > 9 {
			t.Fatalf("NextBounded(9) returned %d, want <= 9", v)
		}
	}
}

func TestNextBoundedZeroAlwaysZero(t *testing.T) {
	s := NewStream(testSeed())
	for i := 0; i < 10; i++ {
		if v := s.NextBounded(0); v != 0 {
			t.Fatalf("NextBounded(0) = %d, want 0", v)
		}
	}
}

func TestNextBoundedCoversFullRange(t *testing.T) {
	s := NewStream(testSeed())
	seen := make(map[uint64]bool)
	for i := 0; i < 2000; i++ {
		seen[s.NextBounded(3)] = true
	}
	for v := uint64(0); v <= 3; v++ {
		if !seen[v] {
			t.Fatalf("value %d never drawn in 2000 samples", v)
		}
	}
}

func TestFisherYatesShuffleIsPermutation(t *testing.T) {
	src := make([]int, 50)
	for i := range src {
		src[i] = i
	}

	out := FisherYatesShuffle(src, NewStream(testSeed()))
	if len(out) != len(src) {
		t.Fatalf("shuffled length = %d, want %d", len(out), len(src))
	}

	seen := make(map[int]bool)
	for _, v := range out {
		if v < 0 || v >= len(src) {
			t.Fatalf("value %d out of range", v)
		}
		if seen[v] {
			t.Fatalf("value %d appeared twice", v)
		}
		seen[v] = true
	}
}

func TestFisherYatesShuffleDeterministic(t *testing.T) {
	src := []string{"a", "b", "c", "d", "e", "f", "g"}
	seed := testSeed()

	out1 := FisherYatesShuffle(src, NewStream(seed))
	out2 := FisherYatesShuffle(src, NewStream(seed))

	for i := range out1 {
		if out1[i] != out2[i] {
			t.Fatalf("shuffle not deterministic at index %d: %q vs %q", i, out1[i], out2[i])
		}
	}
}

func TestPickPrimeReturnsOddPrimeInWindow(t *testing.T) {
	s := NewStream(testSeed())
	for i := 0; i < 20; i++ {
		p := PickPrime(s)
		if p%2 == 0 {
			t.Fatalf("PickPrime returned even number %d", p)
		}
		if !isPrime(p) {
			t.Fatalf("PickPrime returned non-prime %d", p)
		}
		if p < (1 << 42) {
			t.Fatalf("PickPrime returned %d below the 2^42 window", p)
		}
	}
}

func TestIsPrimeKnownValues(t *testing.T) {
	cases := map[uint64]bool{
		2: true, 3: true, 4: false, 17: true, 18: false,
		97: true, 100: false, 7919: true, 7920: false,
	}
	for n, want := range cases {
		if got := isPrime(n); got != want {
			t.Errorf("isPrime(%d) = %v, want %v", n, got, want)
		}
	}
}

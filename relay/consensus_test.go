package relay

import "testing"

const testConsensus = `network-status-version 3 microdesc
vote-status consensus
consensus-method 32
valid-after 2025-01-15 12:00:00
fresh-until 2025-01-15 13:00:00
valid-until 2025-01-15 15:00:00
r TestRelay1 AAAAAAAAAAAAAAAAAAAAAAAAAAA 2025-01-15 11:30:00 1.2.3.4 9001 0
s Exit Fast Guard Running
w Bandwidth=5000
r TestRelay2 BBBBBBBBBBBBBBBBBBBBBBBBBBB 2025-01-15 11:31:00 5.6.7.8 443 9030
s Fast Running
w Bandwidth=3000
r BadRelay CCCCCCCCCCCCCCCCCCCCCCCCCCC 2025-01-15 11:32:00 9.10.11.12 9001 0
s BadExit Exit Running
w Bandwidth=100
bandwidth-weights Wbd=0 Wbe=0 Wbg=4131 Wbm=10000 Wgg=5869
params CircuitPriorityHalflifeMsec=30000
`

func TestParseConsensus(t *testing.T) {
	c, err := ParseConsensus(testConsensus)
	if err != nil {
		t.Fatalf("ParseConsensus: %v", err)
	}

	if c.ValidAfter.Year() != 2025 || c.ValidAfter.Hour() != 12 {
		t.Fatalf("ValidAfter = %v", c.ValidAfter)
	}
	if c.FreshUntil.Hour() != 13 {
		t.Fatalf("FreshUntil = %v", c.FreshUntil)
	}
	if c.ValidUntil.Hour() != 15 {
		t.Fatalf("ValidUntil = %v", c.ValidUntil)
	}

	if len(c.Relays) != 3 {
		t.Fatalf("got %d relays, want 3", len(c.Relays))
	}

	r1 := c.Relays[0]
	if r1.Nickname != "TestRelay1" {
		t.Errorf("r1.Nickname = %q", r1.Nickname)
	}
	if len(r1.Fingerprint) != 40 {
		t.Errorf("r1.Fingerprint len = %d, want 40", len(r1.Fingerprint))
	}
	if !r1.IsValidExit() {
		t.Errorf("r1 should be a valid exit")
	}
	if r1.Bandwidth != 5000 {
		t.Errorf("r1.Bandwidth = %d, want 5000", r1.Bandwidth)
	}

	r3 := c.Relays[2]
	if r3.IsValidExit() {
		t.Errorf("r3 has BadExit set and must not be a valid exit")
	}

	if c.BandwidthWeights["Wgg"] != 5869 {
		t.Errorf("Wgg = %d, want 5869", c.BandwidthWeights["Wgg"])
	}
	if c.Params["CircuitPriorityHalflifeMsec"] != 30000 {
		t.Errorf("params not parsed: %v", c.Params)
	}
}

func TestParseConsensusMalformedRouterLineSkipped(t *testing.T) {
	text := "r short line\nvalid-after 2025-01-15 12:00:00\nvalid-until 2025-01-15 15:00:00\nfresh-until 2025-01-15 13:00:00\n"
	c, err := ParseConsensus(text)
	if err != nil {
		t.Fatalf("ParseConsensus: %v", err)
	}
	if len(c.Relays) != 0 {
		t.Fatalf("expected malformed r line to be skipped, got %d relays", len(c.Relays))
	}
}

func TestValidateFreshness(t *testing.T) {
	c, err := ParseConsensus(testConsensus)
	if err != nil {
		t.Fatalf("ParseConsensus: %v", err)
	}
	if err := ValidateFreshness(c); err == nil {
		t.Fatalf("expected a 2025 consensus to be reported as expired")
	}
}

func TestWithDollarStripDollar(t *testing.T) {
	fp := "ABCDEF0123456789ABCDEF0123456789ABCDEF01"
	if got := WithDollar(fp); got != "$"+fp {
		t.Errorf("WithDollar = %q", got)
	}
	if got := WithDollar(WithDollar(fp)); got != "$"+fp {
		t.Errorf("WithDollar should not double-prefix: %q", got)
	}
	if got := StripDollar("$" + fp); got != fp {
		t.Errorf("StripDollar = %q", got)
	}
	if got := StripDollar(fp); got != fp {
		t.Errorf("StripDollar on bare fingerprint should be a no-op: %q", got)
	}
}

package relay

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ValidateFreshness checks that the consensus is currently valid, allowing a
// small clock-skew tolerance between this host and the relay that produced it.
func ValidateFreshness(c *Consensus) error {
	now := time.Now().UTC()
	skew := 5 * time.Minute

	if c.ValidAfter.IsZero() || c.ValidUntil.IsZero() {
		return fmt.Errorf("consensus missing validity timestamps")
	}
	if now.Before(c.ValidAfter.Add(-skew)) {
		return fmt.Errorf("consensus is from the future (valid-after %s, now %s)", c.ValidAfter, now)
	}
	if now.After(c.ValidUntil.Add(skew)) {
		return fmt.Errorf("consensus has expired (valid-until %s, now %s)", c.ValidUntil, now)
	}
	return nil
}

// ParseConsensus parses the "GETINFO ns/all"-style microdescriptor consensus
// document the daemon returns at scan start.
func ParseConsensus(text string) (*Consensus, error) {
	c := &Consensus{
		BandwidthWeights: make(map[string]int64),
		Params:           make(map[string]int64),
	}

	lines := strings.Split(text, "\n")
	var current *Relay

	for _, line := range lines {
		line = strings.TrimRight(line, "\r")

		switch {
		case strings.HasPrefix(line, "valid-after "):
			t, err := time.Parse("2006-01-02 15:04:05", line[len("valid-after "):])
			if err != nil {
				return nil, fmt.Errorf("parse valid-after: %w", err)
			}
			c.ValidAfter = t

		case strings.HasPrefix(line, "fresh-until "):
			t, err := time.Parse("2006-01-02 15:04:05", line[len("fresh-until "):])
			if err != nil {
				return nil, fmt.Errorf("parse fresh-until: %w", err)
			}
			c.FreshUntil = t

		case strings.HasPrefix(line, "valid-until "):
			t, err := time.Parse("2006-01-02 15:04:05", line[len("valid-until "):])
			if err != nil {
				return nil, fmt.Errorf("parse valid-until: %w", err)
			}
			c.ValidUntil = t

		case strings.HasPrefix(line, "r "):
			if current != nil {
				c.Relays = append(c.Relays, *current)
			}
			r, err := parseRouterLine(line)
			if err != nil {
				current = nil
				continue
			}
			current = r

		case strings.HasPrefix(line, "s "):
			if current != nil {
				parseFlags(current, line)
			}

		case strings.HasPrefix(line, "w "):
			if current != nil {
				parseBandwidth(current, line)
			}

		case strings.HasPrefix(line, "bandwidth-weights "):
			parseKeyVals(line, c.BandwidthWeights)

		case strings.HasPrefix(line, "params "):
			parseKeyVals(line, c.Params)
		}
	}

	if current != nil {
		c.Relays = append(c.Relays, *current)
	}

	return c, nil
}

// parseRouterLine parses an "r" line from the consensus.
// Format: r <nickname> <identity-b64> <date> <time> <ip> <orport> <dirport>
func parseRouterLine(line string) (*Relay, error) {
	parts := strings.Fields(line)
	if len(parts) < 8 {
		return nil, fmt.Errorf("r line too short: %q", line)
	}

	idBytes, err := base64.RawStdEncoding.DecodeString(parts[2])
	if err != nil {
		return nil, fmt.Errorf("decode identity: %w", err)
	}
	if len(idBytes) != 20 {
		return nil, fmt.Errorf("identity wrong length: %d", len(idBytes))
	}

	orPort, err := strconv.ParseUint(parts[6], 10, 16)
	if err != nil {
		return nil, fmt.Errorf("parse ORPort: %w", err)
	}

	return &Relay{
		Fingerprint: strings.ToUpper(hex.EncodeToString(idBytes)),
		Nickname:    parts[1],
		Address:     parts[5],
		ORPort:      uint16(orPort),
	}, nil
}

func parseFlags(r *Relay, line string) {
	for _, f := range strings.Fields(line)[1:] {
		switch f {
		case "Authority":
			r.Flags.Authority = true
		case "BadExit":
			r.Flags.BadExit = true
		case "Exit":
			r.Flags.Exit = true
		case "Fast":
			r.Flags.Fast = true
		case "Guard":
			r.Flags.Guard = true
		case "Running":
			r.Flags.Running = true
		}
	}
}

func parseBandwidth(r *Relay, line string) {
	for _, field := range strings.Fields(line)[1:] {
		if strings.HasPrefix(field, "Bandwidth=") {
			bw, err := strconv.ParseInt(field[len("Bandwidth="):], 10, 64)
			if err == nil {
				r.Bandwidth = bw
			}
		}
	}
}

// parseKeyVals parses "key1=v1 key2=v2 ..." lines (bandwidth-weights, params)
// into dst, skipping the leading line-type token.
func parseKeyVals(line string, dst map[string]int64) {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return
	}
	for _, field := range fields[1:] {
		kv := strings.SplitN(field, "=", 2)
		if len(kv) != 2 {
			continue
		}
		v, err := strconv.ParseInt(kv[1], 10, 64)
		if err == nil {
			dst[kv[0]] = v
		}
	}
}

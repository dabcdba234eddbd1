package relay

import (
	"fmt"
	"strconv"
	"strings"
)

// Descriptor holds the bandwidth fields of a relay's self-published server
// descriptor, as returned by "GETINFO desc/id/<fp>".
type Descriptor struct {
	Nickname          string
	AverageBandwidth  int64
	BurstBandwidth    int64
	ObservedBandwidth int64
}

// ParseDescriptor extracts the nickname and the three bandwidth fields from
// a server-descriptor text document. Per dir-spec, the "bandwidth" line has
// the form "bandwidth <average> <burst> <observed>", all in bytes/s.
func ParseDescriptor(text string) (*Descriptor, error) {
	d := &Descriptor{}
	var hasBandwidth bool

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "router "):
			parts := strings.Fields(line)
			if len(parts) >= 2 {
				d.Nickname = parts[1]
			}
		case strings.HasPrefix(line, "bandwidth "):
			parts := strings.Fields(line)
			if len(parts) != 4 {
				return nil, fmt.Errorf("malformed bandwidth line: %q", line)
			}
			avg, err := strconv.ParseInt(parts[1], 10, 64)
			if err != nil {
				return nil, fmt.Errorf("parse average bandwidth: %w", err)
			}
			burst, err := strconv.ParseInt(parts[2], 10, 64)
			if err != nil {
				return nil, fmt.Errorf("parse burst bandwidth: %w", err)
			}
			observed, err := strconv.ParseInt(parts[3], 10, 64)
			if err != nil {
				return nil, fmt.Errorf("parse observed bandwidth: %w", err)
			}
			d.AverageBandwidth, d.BurstBandwidth, d.ObservedBandwidth = avg, burst, observed
			hasBandwidth = true
		}
	}

	if !hasBandwidth {
		return nil, fmt.Errorf("descriptor has no bandwidth line")
	}
	return d, nil
}

// RouterStatusBandwidth holds the fields the core reads off a relay's
// router-status entry, as returned by "GETINFO ns/id/<fp>".
type RouterStatusBandwidth struct {
	Bandwidth  int64
	Unmeasured bool
}

// ParseRouterStatus extracts the "w Bandwidth=... [Unmeasured=1]" fields
// from a single router-status entry document.
func ParseRouterStatus(text string) (*RouterStatusBandwidth, error) {
	rs := &RouterStatusBandwidth{}
	var found bool
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "w ") {
			continue
		}
		for _, field := range strings.Fields(line)[1:] {
			switch {
			case strings.HasPrefix(field, "Bandwidth="):
				v, err := strconv.ParseInt(field[len("Bandwidth="):], 10, 64)
				if err != nil {
					return nil, fmt.Errorf("parse bandwidth: %w", err)
				}
				rs.Bandwidth = v
				found = true
			case field == "Unmeasured=1":
				rs.Unmeasured = true
			}
		}
	}
	if !found {
		return nil, fmt.Errorf("router-status entry has no bandwidth field")
	}
	return rs, nil
}

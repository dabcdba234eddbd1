package orchestrator

import "github.com/cvsouth/bwscan/relay"

// DescriptorBandwidth is one hop's server-descriptor bandwidth triple, as
// fetched fresh from the daemon for every completed measurement.
type DescriptorBandwidth struct {
	Average  int64 `json:"average"`
	Burst    int64 `json:"burst"`
	Observed int64 `json:"observed"`
}

// MeasurementRecord is the JSON shape pushed to the Sink for every
// completed (or failed) fetch. Path fingerprints carry the "$" prefix at
// this serialization boundary (see relay.WithDollar); everywhere else in
// this module fingerprints are bare.
type MeasurementRecord struct {
	TimeStart float64 `json:"time_start"`
	TimeEnd   float64 `json:"time_end"`
	Path      []string `json:"path"`

	// Present only on success.
	CircBW      int64                 `json:"circ_bw,omitempty"`
	PathBWs     []int64               `json:"path_bws,omitempty"`
	PathDescBWs []DescriptorBandwidth `json:"path_desc_bws,omitempty"`
	PathNsBWs   []int64               `json:"path_ns_bws,omitempty"`

	// Present only on failure.
	Failure string `json:"failure,omitempty"`
}

func pathFingerprints(path []relay.Relay) []string {
	out := make([]string, len(path))
	for i, r := range path {
		out[i] = relay.WithDollar(r.Fingerprint)
	}
	return out
}

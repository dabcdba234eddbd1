// Package aggregate reduces a set of completed scan directories into the
// single bandwidth-measurement file consumed downstream by the directory
// authority's own vote computation. It does not produce a signed
// consensus document itself — only the measurement file that feeds one.
package aggregate

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/cvsouth/bwscan/relay"
)

// rawRecord is the subset of a measurement or probe record this package
// reads; both record shapes overlap on these fields.
type rawRecord struct {
	Path    []string `json:"path"`
	CircBW  *int64   `json:"circ_bw"`
	Failure string   `json:"failure"`
}

// LoadScanDirs reads every "*-scan.json" chunk file under each directory
// in dirs and tallies, per relay fingerprint, the circuit-bandwidth
// samples from successful measurements and the count of failed ones.
// successes mirrors len(samples[fp]) but is returned separately so
// callers never need to recompute it.
func LoadScanDirs(dirs []string) (samples map[string][]int64, failures map[string]int, successes map[string]int, err error) {
	samples = make(map[string][]int64)
	failures = make(map[string]int)
	successes = make(map[string]int)

	for _, dir := range dirs {
		matches, globErr := filepath.Glob(filepath.Join(dir, "*-scan.json"))
		if globErr != nil {
			return nil, nil, nil, fmt.Errorf("aggregate: glob %s: %w", dir, globErr)
		}
		for _, path := range matches {
			data, readErr := os.ReadFile(path)
			if readErr != nil {
				return nil, nil, nil, fmt.Errorf("aggregate: read %s: %w", path, readErr)
			}
			var records []rawRecord
			if jsonErr := json.Unmarshal(data, &records); jsonErr != nil {
				return nil, nil, nil, fmt.Errorf("aggregate: parse %s: %w", path, jsonErr)
			}
			for _, rec := range records {
				for _, fp := range rec.Path {
					fp = relay.StripDollar(fp)
					if rec.Failure != "" {
						failures[fp]++
						continue
					}
					if rec.CircBW != nil {
						samples[fp] = append(samples[fp], *rec.CircBW)
						successes[fp]++
					}
				}
			}
		}
	}
	return samples, failures, successes, nil
}

// DescriptorBandwidthFunc fetches a relay's fresh descriptor-reported
// average bandwidth and nickname.
type DescriptorBandwidthFunc func(fingerprint string) (nickname string, avgBW int64, err error)

// RouterStatusBandwidthFunc fetches a relay's fresh consensus bandwidth.
type RouterStatusBandwidthFunc func(fingerprint string) (int64, error)

// Aggregate computes the bandwidth-measurement file for every relay with
// at least one usable sample across dirs, per §4.H, and returns its
// contents as a single string ready to be written verbatim to the
// aggregate output file. Relays skipped along the way are logged to
// logger (slog.Default() if nil) rather than surfaced as errors, since a
// single unreachable descriptor or stale consensus entry should not abort
// the whole aggregation run.
func Aggregate(consensus *relay.Consensus, dirs []string, fetchDescBW DescriptorBandwidthFunc, fetchNsBW RouterStatusBandwidthFunc, logger *slog.Logger) (string, error) {
	if logger == nil {
		logger = slog.Default()
	}
	samples, failures, successes, err := LoadScanDirs(dirs)
	if err != nil {
		return "", err
	}

	present := make(map[string]bool, len(consensus.Relays))
	for _, r := range consensus.Relays {
		present[r.Fingerprint] = true
	}

	var b strings.Builder
	b.WriteString("0\n")
	b.WriteString(oldestScanTimestamp(dirs) + "\n")

	fps := make([]string, 0, len(samples))
	for fp := range samples {
		fps = append(fps, fp)
	}
	sort.Strings(fps)

	for _, fp := range fps {
		bws := samples[fp]
		strmBW := int64(math.Floor(mean(bws)))

		var filtered []int64
		for _, bw := range bws {
			if bw >= strmBW {
				filtered = append(filtered, bw)
			}
		}
		if len(filtered) == 0 {
			continue
		}
		filtBW := int64(math.Floor(mean(filtered)))
		if filtBW <= 0 {
			continue
		}

		if !present[fp] {
			// Relay no longer in the fresh consensus: descriptor/ns queries
			// would fail, so this relay is dropped from the output.
			logger.Debug("aggregate: relay not in fresh consensus, skipping", "fingerprint", fp)
			continue
		}

		nickname, descBW, err := fetchDescBW(fp)
		if err != nil {
			logger.Warn("aggregate: descriptor bandwidth unavailable, skipping relay", "fingerprint", fp, "error", err)
			continue
		}
		nsBW, err := fetchNsBW(fp)
		if err != nil {
			logger.Warn("aggregate: router-status bandwidth unavailable, skipping relay", "fingerprint", fp, "error", err)
			continue
		}

		var circFailRate float64
		combined := successes[fp] + failures[fp]
		if combined > 5 {
			circFailRate = float64(failures[fp]) / float64(combined)
		}

		fmt.Fprintf(&b, "node_id=%s nick=%s strm_bw=%d filt_bw=%d circ_fail_rate=%g desc_bw=%d ns_bw=%d\n",
			relay.WithDollar(fp), nickname, strmBW, filtBW, circFailRate, descBW, nsBW)
	}

	return b.String(), nil
}

func mean(xs []int64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum int64
	for _, x := range xs {
		sum += x
	}
	return float64(sum) / float64(len(xs))
}

// oldestScanTimestamp returns the smallest epoch-seconds directory name
// among dirs, matching "the oldest scan timestamp" of §6's aggregate file
// layout regardless of the order dirs were supplied in.
func oldestScanTimestamp(dirs []string) string {
	var oldest int64 = -1
	var oldestName string
	for _, dir := range dirs {
		name := filepath.Base(dir)
		epoch, err := strconv.ParseInt(name, 10, 64)
		if err != nil {
			continue
		}
		if oldest == -1 || epoch < oldest {
			oldest = epoch
			oldestName = name
		}
	}
	return oldestName
}

// Package partitionscan drives a connectivity-only scan: it walks the
// permuted-pair partition probe generator and builds a circuit for every
// pair, without attempting any download. Unlike the measurement
// orchestrator it never attaches an HTTP stream, so it drives
// torcontrol.CircuitController directly rather than going through an
// Attacher.
package partitionscan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cvsouth/bwscan/bwerrors"
	"github.com/cvsouth/bwscan/pathgen"
	"github.com/cvsouth/bwscan/prng"
	"github.com/cvsouth/bwscan/relay"
	"github.com/cvsouth/bwscan/sink"
	"github.com/cvsouth/bwscan/torcontrol"
)

// Config holds the partition scanner's tunable parameters. The scheduling
// options mirror orchestrator.Config; the scanner otherwise needs only
// the PRNG seed material for the permuted-pair generator.
type Config struct {
	Partitions         int
	ThisPartition      int // 0-indexed, per §4.C.2
	CircuitLaunchDelay time.Duration
	RequestLimit       int
	ScanContinuous     bool

	DataDir             string
	SharedSecret        []byte
	CircuitBuildTimeout time.Duration
}

// ProbeRecord is the JSON shape written for a failed or timed-out probe.
// Successful probes are counted but never written, per §4.G: the success
// path is deliberately silent.
type ProbeRecord struct {
	TimeStart float64  `json:"time_start"`
	TimeEnd   float64  `json:"time_end"`
	Path      []string `json:"path"`
	Status    string   `json:"status"`
}

// Scanner runs the connectivity-only partition scan.
type Scanner struct {
	Config     Config
	Controller *torcontrol.CircuitController
	Logger     *slog.Logger

	counters *Counters
}

// New returns a Scanner driving circuit builds through controller.
func New(cfg Config, controller *torcontrol.CircuitController, logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{Config: cfg, Controller: controller, Logger: logger, counters: NewCounters()}
}

// Counters exposes this scanner's running totals for an optional metrics
// endpoint.
func (s *Scanner) Counters() *Counters { return s.counters }

// Run executes one partition probe pass (or, with ScanContinuous,
// repeated passes until ctx is cancelled).
func (s *Scanner) Run(ctx context.Context, consensus *relay.Consensus) error {
	for {
		if err := s.runOnce(ctx, consensus); err != nil {
			return err
		}
		if !s.Config.ScanContinuous {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
}

func (s *Scanner) runOnce(ctx context.Context, consensus *relay.Consensus) error {
	epoch := time.Now().Unix()
	scanDir := filepath.Join(s.Config.DataDir, "partition-scans", fmt.Sprintf("%d.running", epoch))
	if err := os.MkdirAll(scanDir, 0755); err != nil {
		return fmt.Errorf("partitionscan: create scan directory: %w", err)
	}

	out := sink.New(scanDir, 10, s.Logger)
	out.NameChunk = sink.ISO8601Name()

	seed := prng.DeriveSeed(consensus.Fingerprints(), s.Config.SharedSecret)
	gen := pathgen.NewPermuted(consensus.Relays, s.Config.Partitions, s.Config.ThisPartition, seed)

	sem := make(chan struct{}, s.Config.RequestLimit)
	var wg sync.WaitGroup

	first := true
	for {
		pair, ok := gen.Next()
		if !ok {
			break
		}
		if !first {
			select {
			case <-time.After(s.Config.CircuitLaunchDelay):
			case <-ctx.Done():
				wg.Wait()
				out.EndFlush()
				return ctx.Err()
			}
		}
		first = false

		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			wg.Wait()
			out.EndFlush()
			return ctx.Err()
		}

		wg.Add(1)
		go func(p pathgen.Pair) {
			defer wg.Done()
			defer func() { <-sem }()
			s.probeOne(ctx, out, p)
		}(pair)
	}

	wg.Wait()
	if err := out.EndFlush().Wait(); err != nil {
		s.Logger.Error("partitionscan: final flush failed", "error", err)
	}

	finalDir := strings.TrimSuffix(scanDir, ".running")
	if err := os.Rename(scanDir, finalDir); err != nil {
		return fmt.Errorf("partitionscan: rename scan directory: %w", err)
	}
	return nil
}

// probeOne builds a circuit along the pair's two hops and records the
// outcome. Per §4.G, success is counted but never written; only timeout
// and failure produce a record.
func (s *Scanner) probeOne(ctx context.Context, out *sink.Sink, pair pathgen.Pair) {
	path := []relay.Relay{pair.First, pair.Second}
	timeStart := time.Now()

	id, err := s.Controller.Build(ctx, path, s.Config.CircuitBuildTimeout)
	timeEnd := time.Now()

	if err == nil {
		s.counters.Success.Inc()
		if closeErr := s.Controller.Close(ctx, id); closeErr != nil {
			s.Logger.Warn("partitionscan: close circuit failed", "circuit_id", id, "error", closeErr)
		}
		return
	}

	if errors.Is(err, bwerrors.ErrBuildTimeout) {
		s.counters.Timeout.Inc()
		out.Send(ProbeRecord{
			TimeStart: float64(timeStart.UnixNano()) / 1e9,
			TimeEnd:   float64(timeEnd.UnixNano()) / 1e9,
			Path:      pathFingerprints(path),
			Status:    "timeout",
		})
		return
	}

	s.counters.Failure.Inc()
	out.Send(ProbeRecord{
		TimeStart: float64(timeStart.UnixNano()) / 1e9,
		TimeEnd:   float64(timeEnd.UnixNano()) / 1e9,
		Path:      pathFingerprints(path),
		Status:    "failure",
	})
}

func pathFingerprints(path []relay.Relay) []string {
	out := make([]string, len(path))
	for i, r := range path {
		out[i] = relay.WithDollar(r.Fingerprint)
	}
	return out
}

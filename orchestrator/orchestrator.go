// Package orchestrator drives the bounded-concurrency download pipeline
// that measures bandwidth over two-hop circuits: it pulls pairs from a
// path generator, builds a circuit for each, downloads a size-appropriate
// payload over it, and pushes a result record to a Sink.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/cvsouth/bwscan/attacher"
	"github.com/cvsouth/bwscan/bwerrors"
	"github.com/cvsouth/bwscan/pathgen"
	"github.com/cvsouth/bwscan/relay"
	"github.com/cvsouth/bwscan/sink"
	"github.com/cvsouth/bwscan/torcontrol"
)

// Fetcher performs the actual HTTP download over a circuit's SOCKS
// endpoint. localPort identifies the local endpoint the Attacher
// registered for this fetch, so the caller's HTTP client can be made to
// originate its connection from that exact port for stream correlation.
type Fetcher func(ctx context.Context, url string, localPort int) ([]byte, error)

// DescriptorFetcher fetches a relay's server-descriptor bandwidth triple.
type DescriptorFetcher func(ctx context.Context, fingerprint string) (DescriptorBandwidth, error)

// RouterStatusFetcher fetches a relay's fresh consensus bandwidth.
type RouterStatusFetcher func(ctx context.Context, fingerprint string) (int64, error)

// Orchestrator owns one measurement run: a Config, the circuit-build and
// stream-attach machinery, and the result Sink.
type Orchestrator struct {
	Config     Config
	Controller *torcontrol.CircuitController
	Attacher   *attacher.Attacher
	Fetch      Fetcher
	DescBW     DescriptorFetcher
	NsBW       RouterStatusFetcher
	Logger     *slog.Logger

	portCounter int32
}

// New returns an Orchestrator ready to Run scans against cfg.
func New(cfg Config, controller *torcontrol.CircuitController, att *attacher.Attacher, fetch Fetcher, descBW DescriptorFetcher, nsBW RouterStatusFetcher, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BandwidthFiles == nil {
		cfg.BandwidthFiles = DefaultBandwidthFiles()
	}
	if cfg.SliceWidth <= 0 {
		cfg.SliceWidth = pathgen.DefaultSliceWidth
	}
	return &Orchestrator{
		Config:      cfg,
		Controller:  controller,
		Attacher:    att,
		Fetch:       fetch,
		DescBW:      descBW,
		NsBW:        nsBW,
		Logger:      logger,
		portCounter: 20000,
	}
}

// Run executes one measurement scan over consensus (or, when
// ScanContinuous is set, a fresh one after another until ctx is
// cancelled). It implements the concurrency-gated producer/consumer loop
// of §4.F: a path generator feeds fetch tasks, bounded to RequestLimit
// in flight and launched no faster than one per CircuitLaunchDelay.
func (o *Orchestrator) Run(ctx context.Context, consensus *relay.Consensus) error {
	for {
		if err := o.runOnce(ctx, consensus); err != nil {
			return err
		}
		if !o.Config.ScanContinuous {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
}

func (o *Orchestrator) runOnce(ctx context.Context, consensus *relay.Consensus) error {
	epoch := time.Now().Unix()
	scanDir := filepath.Join(o.Config.DataDir, "measurements", fmt.Sprintf("%d.running", epoch))
	if err := os.MkdirAll(scanDir, 0755); err != nil {
		return fmt.Errorf("orchestrator: create scan directory: %w", err)
	}

	s := sink.New(scanDir, 10, o.Logger)
	s.NameChunk = sink.ISO8601Name()

	gen := pathgen.NewTwoHop(consensus.Relays, o.Config.Partitions, o.Config.ThisPartition, o.Config.SliceWidth)

	sem := make(chan struct{}, o.Config.RequestLimit)
	var wg sync.WaitGroup

	delay := o.Config.CircuitLaunchDelay
	first := true
	for {
		pair, ok := gen.Next()
		if !ok {
			break
		}
		if !first {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				wg.Wait()
				s.EndFlush()
				return ctx.Err()
			}
		}
		first = false

		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			wg.Wait()
			s.EndFlush()
			return ctx.Err()
		}

		wg.Add(1)
		go func(p pathgen.Pair) {
			defer wg.Done()
			defer func() { <-sem }()
			o.fetchOne(ctx, s, p)
		}(pair)
	}

	wg.Wait()
	if err := s.EndFlush().Wait(); err != nil {
		o.Logger.Error("orchestrator: final flush failed", "error", err)
	}

	finalDir := strings.TrimSuffix(scanDir, ".running")
	if err := os.Rename(scanDir, finalDir); err != nil {
		return fmt.Errorf("orchestrator: rename scan directory: %w", err)
	}
	return nil
}

func (o *Orchestrator) nextLocalPort() int {
	return int(atomic.AddInt32(&o.portCounter, 1))
}

// fetchOne runs the 11-step per-fetch sequence of §4.F for a single pair
// and pushes exactly one record to s.
func (o *Orchestrator) fetchOne(ctx context.Context, s *sink.Sink, pair pathgen.Pair) {
	path := []relay.Relay{pair.First, pair.Second}
	requestID := uuid.New().String()

	size := ChooseFileSize(path, o.Config.BandwidthFiles)
	url := ChooseURL(o.Config.BaseURL, path, o.Config.BandwidthFiles)
	timeStart := time.Now()

	localPort := o.nextLocalPort()

	buildCtx, cancelBuild := context.WithTimeout(ctx, o.Config.CircuitBuildTimeout)
	defer cancelBuild()

	handle := o.Attacher.CreateCircuit("127.0.0.1", localPort, path)

	var result attacher.BuildResult
	select {
	case result = <-handle.Done:
	case <-buildCtx.Done():
		s.Send(o.failureRecord(requestID, path, timeStart, bwerrors.ErrBuildTimeout))
		return
	}
	if result.Err != nil {
		s.Send(o.failureRecord(requestID, path, timeStart, result.Err))
		return
	}
	circuitID := torcontrol.CircuitID(result.CircuitID)
	defer func() {
		if err := o.Controller.Close(ctx, circuitID); err != nil {
			o.Logger.Warn("orchestrator: close circuit failed", "circuit_id", circuitID, "error", err)
		}
	}()

	reqCtx, cancelReq := context.WithTimeout(ctx, o.Config.RequestTimeout)
	defer cancelReq()

	body, err := o.Fetch(reqCtx, url, localPort)
	timeEnd := time.Now()
	if err != nil {
		if reqCtx.Err() == context.DeadlineExceeded {
			s.Send(o.failureRecord(requestID, path, timeStart, fmt.Errorf("%w: %v", bwerrors.ErrRequestTimeout, err)))
			return
		}
		s.Send(o.failureRecord(requestID, path, timeStart, fmt.Errorf("%w: %v", bwerrors.ErrTransportError, err)))
		return
	}

	expectedBytes := size * 1024
	if int64(len(body)) != expectedBytes {
		s.Send(o.failureRecord(requestID, path, timeStart, bwerrors.ErrDownloadIncomplete))
		return
	}

	elapsed := timeEnd.Sub(timeStart).Seconds()
	var circBW int64
	if elapsed > 0 {
		circBW = int64(float64(expectedBytes) / elapsed)
	}

	rec := MeasurementRecord{
		TimeStart: float64(timeStart.UnixNano()) / 1e9,
		TimeEnd:   float64(timeEnd.UnixNano()) / 1e9,
		Path:      pathFingerprints(path),
		CircBW:    circBW,
	}
	for _, r := range path {
		rec.PathBWs = append(rec.PathBWs, r.Bandwidth)

		if o.DescBW != nil {
			descBW, err := o.DescBW(ctx, r.Fingerprint)
			if err != nil {
				o.Logger.Warn("orchestrator: descriptor bandwidth fetch failed", "fingerprint", r.Fingerprint, "error", err)
			}
			rec.PathDescBWs = append(rec.PathDescBWs, descBW)
		}
		if o.NsBW != nil {
			nsBW, err := o.NsBW(ctx, r.Fingerprint)
			if err != nil {
				o.Logger.Warn("orchestrator: router-status bandwidth fetch failed", "fingerprint", r.Fingerprint, "error", err)
			}
			rec.PathNsBWs = append(rec.PathNsBWs, nsBW)
		}
	}

	o.Logger.Info("orchestrator: fetch completed", "request_id", requestID, "path", pathFingerprints(path), "circ_bw", circBW)
	s.Send(rec)
}

func (o *Orchestrator) failureRecord(requestID string, path []relay.Relay, timeStart time.Time, err error) MeasurementRecord {
	o.Logger.Warn("orchestrator: fetch failed", "request_id", requestID, "path", pathFingerprints(path), "error", err)
	return MeasurementRecord{
		TimeStart: float64(timeStart.UnixNano()) / 1e9,
		TimeEnd:   float64(time.Now().UnixNano()) / 1e9,
		Path:      pathFingerprints(path),
		Failure:   bwerrors.FailureString(err),
	}
}

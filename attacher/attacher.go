// Package attacher correlates SOCKS streams opened by an HTTP client to
// the circuits built on their behalf, and reports circuit build outcomes
// back to whoever requested them. Events arrive from a single
// event-processing goroutine fed by the control connection, while
// CreateCircuit is called from each fetch's own goroutine, so its two maps
// are guarded by a mutex.
package attacher

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/cvsouth/bwscan/relay"
)

// CircuitPurpose mirrors the daemon's circuit purpose field; only GENERAL
// circuits complete a build request successfully.
type CircuitPurpose string

const (
	PurposeGeneral CircuitPurpose = "GENERAL"
)

// BuildResult is delivered on a circuit's Handle once the daemon reports
// the circuit as built or failed.
type BuildResult struct {
	CircuitID string
	Err       error
}

// Handle is returned by CreateCircuit; the caller waits on Done to learn
// the build outcome.
type Handle struct {
	Done chan BuildResult
}

func newHandle() *Handle {
	return &Handle{Done: make(chan BuildResult, 1)}
}

type endpoint struct {
	host string
	port int
}

// pending tracks one in-flight circuit build: the handle the caller is
// waiting on, and the circuit_id once the daemon has assigned one.
type pending struct {
	handle    *Handle
	circuitID string
}

// Attacher tracks in-flight circuit build requests and attaches streams
// the daemon opens locally to the circuit that requested them.
type Attacher struct {
	logger *slog.Logger

	mu              sync.Mutex
	expectedStreams map[endpoint]*pending
	waitingCircuits map[string]*pending

	// requestBuild asks the daemon to build a circuit along path and
	// returns the circuit_id the daemon assigns, or an error if the
	// daemon rejects the request outright.
	requestBuild func(path []relay.Relay) (circuitID string, err error)
	// attachStream instructs the daemon to attach the stream identified
	// by streamID to the given circuit.
	attachStream func(streamID, circuitID string) error
}

// New returns an Attacher that issues circuit-build and stream-attach
// requests through the given callbacks, which are expected to wrap a
// live control-protocol connection.
func New(logger *slog.Logger, requestBuild func([]relay.Relay) (string, error), attachStream func(string, string) error) *Attacher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Attacher{
		logger:          logger,
		expectedStreams: make(map[endpoint]*pending),
		waitingCircuits: make(map[string]*pending),
		requestBuild:    requestBuild,
		attachStream:    attachStream,
	}
}

// CreateCircuit registers localHost:localPort as the endpoint a future
// stream will originate from, requests a circuit build along path, and
// returns a Handle completing when the circuit is built or fails.
func (a *Attacher) CreateCircuit(localHost string, localPort int, path []relay.Relay) *Handle {
	p := &pending{handle: newHandle()}
	ep := endpoint{localHost, localPort}

	a.mu.Lock()
	a.expectedStreams[ep] = p
	a.mu.Unlock()

	circuitID, err := a.requestBuild(path)
	if err != nil {
		a.mu.Lock()
		delete(a.expectedStreams, ep)
		a.mu.Unlock()
		p.handle.Done <- BuildResult{Err: fmt.Errorf("request circuit build: %w", err)}
		return p.handle
	}

	p.circuitID = circuitID
	a.mu.Lock()
	a.waitingCircuits[circuitID] = p
	a.mu.Unlock()

	return p.handle
}

// OnStreamNew handles a STREAM NEW event. If sourceHost:sourcePort
// matches a registered endpoint, the pending stream is attached to the
// circuit that requested it; otherwise the event is ignored, since the
// daemon manages streams this scanner did not originate.
func (a *Attacher) OnStreamNew(streamID, sourceHost string, sourcePort int) {
	ep := endpoint{sourceHost, sourcePort}

	a.mu.Lock()
	p, ok := a.expectedStreams[ep]
	if ok {
		delete(a.expectedStreams, ep)
	}
	a.mu.Unlock()

	if !ok {
		return
	}

	if p.circuitID == "" {
		a.logger.Warn("attacher: stream matched an endpoint with no waiting circuit", "stream_id", streamID)
		return
	}

	if err := a.attachStream(streamID, p.circuitID); err != nil {
		a.logger.Error("attacher: attach stream failed", "stream_id", streamID, "circuit_id", p.circuitID, "error", err)
	}
}

// OnCircuitBuilt handles a CIRC BUILT event. Only GENERAL-purpose
// circuits complete the waiting handle; other purposes are the daemon's
// own business and are ignored.
func (a *Attacher) OnCircuitBuilt(circuitID string, purpose CircuitPurpose) {
	if purpose != PurposeGeneral {
		return
	}

	a.mu.Lock()
	p, ok := a.waitingCircuits[circuitID]
	if ok {
		delete(a.waitingCircuits, circuitID)
	}
	a.mu.Unlock()

	if !ok {
		return
	}
	p.handle.Done <- BuildResult{CircuitID: circuitID}
}

// OnCircuitFailed handles a CIRC FAILED event, completing the waiting
// handle with the daemon's reported reason.
func (a *Attacher) OnCircuitFailed(circuitID, reason string) {
	a.mu.Lock()
	p, ok := a.waitingCircuits[circuitID]
	if ok {
		delete(a.waitingCircuits, circuitID)
	}
	a.mu.Unlock()

	if !ok {
		return
	}
	p.handle.Done <- BuildResult{CircuitID: circuitID, Err: fmt.Errorf("circuit %s failed: %s", circuitID, reason)}
}

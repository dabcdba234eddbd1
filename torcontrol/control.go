// Package torcontrol defines the interfaces this scanner uses to drive
// an already-running anonymity daemon over its control protocol. Per the
// scope of this project, the protocol client itself (parsing the wire
// format, authenticating, maintaining the socket) is out of scope and is
// supplied by the caller; this package only specifies the contract and
// implements the circuit-build policy layered on top of it.
package torcontrol

import (
	"context"
	"fmt"
	"time"

	"github.com/cvsouth/bwscan/bwerrors"
	"github.com/cvsouth/bwscan/relay"
)

// CircuitID identifies a circuit as assigned by the daemon.
type CircuitID string

// EventKind distinguishes the asynchronous event types the control
// connection delivers.
type EventKind string

const (
	EventCircuit     EventKind = "CIRC"
	EventStream      EventKind = "STREAM"
	EventNewConsensus EventKind = "NEWCONSENSUS"
)

// CircuitStatus is the subset of CIRC event statuses the core inspects.
type CircuitStatus string

const (
	CircuitBuilt  CircuitStatus = "BUILT"
	CircuitFailed CircuitStatus = "FAILED"
)

// ControlEvent is one asynchronous event delivered by the daemon.
type ControlEvent struct {
	Kind EventKind

	// Populated for EventCircuit.
	CircuitID     CircuitID
	CircuitStatus CircuitStatus
	Purpose       string
	Reason        string

	// Populated for EventStream.
	StreamID   string
	SourceHost string
	SourcePort int
}

// ControlClient is the minimal control-protocol surface this scanner
// needs. A real implementation maintains the control socket, handles
// authentication, and decodes the line-oriented wire protocol described
// in the external interfaces section; none of that is this package's
// concern.
type ControlClient interface {
	SetConf(ctx context.Context, options map[string]string) error
	GetConf(ctx context.Context, key string) (string, error)
	GetInfo(ctx context.Context, key string) (string, error)
	BuildCircuit(ctx context.Context, path []relay.Relay) (CircuitID, error)
	AttachStream(ctx context.Context, streamID string, circuitID CircuitID) error
	CloseCircuit(ctx context.Context, circuitID CircuitID) error
	Events() <-chan ControlEvent
}

// CircuitController builds circuits against a ControlClient with the
// fixed-path, no-guard-enforcement policy this scanner needs, and applies
// a deadline independent of whatever default the daemon would otherwise
// use.
type CircuitController struct {
	client ControlClient
}

// NewCircuitController wraps client and applies the startup configuration
// described in §4.E: adaptive circuit-build-timeout learning, entry
// guards, and microdescriptor-only fetching are all disabled, since this
// scanner measures explicit paths and needs full descriptors for every
// relay it might route through.
func NewCircuitController(ctx context.Context, client ControlClient, circuitBuildTimeout time.Duration) (*CircuitController, error) {
	opts := map[string]string{
		"LearnCircuitBuildTimeout": "0",
		"UseEntryGuards":           "0",
		"UseMicroDescriptors":      "0",
		"FetchUselessDescriptors":  "1",
		"FetchDirInfoEarly":        "1",
		"FetchDirInfoExtraEarly":   "1",
		"CircuitBuildTimeout":      fmt.Sprintf("%d", int(circuitBuildTimeout.Seconds())),
	}
	if err := client.SetConf(ctx, opts); err != nil {
		return nil, fmt.Errorf("configure control connection: %w", err)
	}
	return &CircuitController{client: client}, nil
}

// Build constructs a circuit along path, failing with ErrBuildTimeout if
// the circuit has not reached BUILT within timeout, or ErrBuildFailure if
// the daemon reports the build as failed first.
func (c *CircuitController) Build(ctx context.Context, path []relay.Relay, timeout time.Duration) (CircuitID, error) {
	buildCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	id, err := c.client.BuildCircuit(buildCtx, path)
	if err != nil {
		return "", fmt.Errorf("%w: %v", bwerrors.ErrBuildFailure, err)
	}

	events := c.client.Events()
	for {
		select {
		case <-buildCtx.Done():
			return "", bwerrors.ErrBuildTimeout
		case ev, ok := <-events:
			if !ok {
				return "", bwerrors.ErrBuildFailure
			}
			if ev.Kind != EventCircuit || ev.CircuitID != id {
				continue
			}
			switch ev.CircuitStatus {
			case CircuitBuilt:
				return id, nil
			case CircuitFailed:
				return "", fmt.Errorf("%w: %s", bwerrors.ErrBuildFailure, ev.Reason)
			}
		}
	}
}

// Close closes circuitID if it is still open. Per §4.E the controller
// always attempts this after a measurement completes on a circuit,
// regardless of whether the measurement succeeded.
func (c *CircuitController) Close(ctx context.Context, circuitID CircuitID) error {
	if err := c.client.CloseCircuit(ctx, circuitID); err != nil {
		return fmt.Errorf("close circuit %s: %w", circuitID, err)
	}
	return nil
}

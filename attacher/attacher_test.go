package attacher

import (
	"errors"
	"testing"
	"time"

	"github.com/cvsouth/bwscan/relay"
)

func waitResult(t *testing.T, h *Handle) BuildResult {
	t.Helper()
	select {
	case r := <-h.Done:
		return r
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for build result")
		return BuildResult{}
	}
}

func TestAttacherHappyPath(t *testing.T) {
	var attachedStream, attachedCircuit string

	a := New(nil,
		func(path []relay.Relay) (string, error) { return "circ-1", nil },
		func(streamID, circuitID string) error {
			attachedStream, attachedCircuit = streamID, circuitID
			return nil
		},
	)

	h := a.CreateCircuit("127.0.0.1", 5555, []relay.Relay{{Fingerprint: "A"}, {Fingerprint: "B"}})

	a.OnStreamNew("stream-1", "127.0.0.1", 5555)
	if attachedStream != "stream-1" || attachedCircuit != "circ-1" {
		t.Fatalf("stream not attached to expected circuit: %q %q", attachedStream, attachedCircuit)
	}

	a.OnCircuitBuilt("circ-1", PurposeGeneral)
	res := waitResult(t, h)
	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	if res.CircuitID != "circ-1" {
		t.Fatalf("CircuitID = %q", res.CircuitID)
	}
}

func TestAttacherBuildRequestFailure(t *testing.T) {
	a := New(nil,
		func(path []relay.Relay) (string, error) { return "", errors.New("boom") },
		func(streamID, circuitID string) error { return nil },
	)

	h := a.CreateCircuit("127.0.0.1", 6000, nil)
	res := waitResult(t, h)
	if res.Err == nil {
		t.Fatal("expected an error")
	}
}

func TestAttacherCircuitFailed(t *testing.T) {
	a := New(nil,
		func(path []relay.Relay) (string, error) { return "circ-2", nil },
		func(streamID, circuitID string) error { return nil },
	)

	h := a.CreateCircuit("127.0.0.1", 7000, nil)
	a.OnCircuitFailed("circ-2", "REASON_TIMEOUT")

	res := waitResult(t, h)
	if res.Err == nil {
		t.Fatal("expected an error")
	}
}

func TestAttacherIgnoresNonGeneralPurpose(t *testing.T) {
	a := New(nil,
		func(path []relay.Relay) (string, error) { return "circ-3", nil },
		func(streamID, circuitID string) error { return nil },
	)

	h := a.CreateCircuit("127.0.0.1", 8000, nil)
	a.OnCircuitBuilt("circ-3", "INTERNAL")

	select {
	case <-h.Done:
		t.Fatal("handle should not complete for a non-GENERAL purpose circuit")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestAttacherIgnoresUnknownStream(t *testing.T) {
	a := New(nil,
		func(path []relay.Relay) (string, error) { return "circ-4", nil },
		func(streamID, circuitID string) error {
			t.Fatal("attachStream should not be called for an unregistered endpoint")
			return nil
		},
	)
	a.OnStreamNew("stream-x", "10.0.0.1", 1234)
}

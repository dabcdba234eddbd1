package torcontrol

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cvsouth/bwscan/relay"
)

type fakeClient struct {
	setConfOpts map[string]string
	buildErr    error
	circuitID   CircuitID
	events      chan ControlEvent
}

func newFakeClient() *fakeClient {
	return &fakeClient{circuitID: "circ-1", events: make(chan ControlEvent, 4)}
}

func (f *fakeClient) SetConf(ctx context.Context, options map[string]string) error {
	f.setConfOpts = options
	return nil
}
func (f *fakeClient) GetConf(ctx context.Context, key string) (string, error)  { return "", nil }
func (f *fakeClient) GetInfo(ctx context.Context, key string) (string, error) { return "", nil }
func (f *fakeClient) BuildCircuit(ctx context.Context, path []relay.Relay) (CircuitID, error) {
	if f.buildErr != nil {
		return "", f.buildErr
	}
	return f.circuitID, nil
}
func (f *fakeClient) AttachStream(ctx context.Context, streamID string, circuitID CircuitID) error {
	return nil
}
func (f *fakeClient) CloseCircuit(ctx context.Context, circuitID CircuitID) error { return nil }
func (f *fakeClient) Events() <-chan ControlEvent                                { return f.events }

func TestNewCircuitControllerSetsStartupOptions(t *testing.T) {
	client := newFakeClient()
	_, err := NewCircuitController(context.Background(), client, 30*time.Second)
	require.NoError(t, err)

	require.Equal(t, "0", client.setConfOpts["LearnCircuitBuildTimeout"])
	require.Equal(t, "0", client.setConfOpts["UseEntryGuards"])
	require.Equal(t, "0", client.setConfOpts["UseMicroDescriptors"])
	require.Equal(t, "1", client.setConfOpts["FetchUselessDescriptors"])
	require.Equal(t, "1", client.setConfOpts["FetchDirInfoEarly"])
	require.Equal(t, "1", client.setConfOpts["FetchDirInfoExtraEarly"])
	require.Equal(t, "30", client.setConfOpts["CircuitBuildTimeout"])
}

func TestCircuitControllerBuildSuccess(t *testing.T) {
	client := newFakeClient()
	ctrl, err := NewCircuitController(context.Background(), client, 30*time.Second)
	require.NoError(t, err)

	go func() {
		client.events <- ControlEvent{Kind: EventCircuit, CircuitID: "circ-1", CircuitStatus: CircuitBuilt}
	}()

	id, err := ctrl.Build(context.Background(), nil, time.Second)
	require.NoError(t, err)
	require.Equal(t, CircuitID("circ-1"), id)
}

func TestCircuitControllerBuildFailedEvent(t *testing.T) {
	client := newFakeClient()
	ctrl, err := NewCircuitController(context.Background(), client, 30*time.Second)
	require.NoError(t, err)

	go func() {
		client.events <- ControlEvent{Kind: EventCircuit, CircuitID: "circ-1", CircuitStatus: CircuitFailed, Reason: "TIMEOUT"}
	}()

	_, err = ctrl.Build(context.Background(), nil, time.Second)
	require.Error(t, err)
}

func TestCircuitControllerBuildTimeout(t *testing.T) {
	client := newFakeClient()
	ctrl, err := NewCircuitController(context.Background(), client, 30*time.Second)
	require.NoError(t, err)

	_, err = ctrl.Build(context.Background(), nil, 20*time.Millisecond)
	require.Error(t, err)
}

func TestCircuitControllerBuildRequestError(t *testing.T) {
	client := newFakeClient()
	client.buildErr = errors.New("daemon rejected build")
	ctrl, err := NewCircuitController(context.Background(), client, 30*time.Second)
	require.NoError(t, err)

	_, err = ctrl.Build(context.Background(), nil, time.Second)
	require.Error(t, err)
}

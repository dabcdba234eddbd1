package partitionscan

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cvsouth/bwscan/relay"
	"github.com/cvsouth/bwscan/torcontrol"
)

type fakeControlClient struct {
	nextID    int
	failEvery int
	events    chan torcontrol.ControlEvent
}

func newFakeControlClient(failEvery int) *fakeControlClient {
	return &fakeControlClient{failEvery: failEvery, events: make(chan torcontrol.ControlEvent, 256)}
}

func (f *fakeControlClient) SetConf(ctx context.Context, options map[string]string) error {
	return nil
}
func (f *fakeControlClient) GetConf(ctx context.Context, key string) (string, error) { return "", nil }
func (f *fakeControlClient) GetInfo(ctx context.Context, key string) (string, error)  { return "", nil }
func (f *fakeControlClient) BuildCircuit(ctx context.Context, path []relay.Relay) (torcontrol.CircuitID, error) {
	f.nextID++
	id := torcontrol.CircuitID(fmt.Sprintf("circ-%d", f.nextID))
	fail := f.failEvery > 0 && f.nextID%f.failEvery == 0
	go func() {
		if fail {
			f.events <- torcontrol.ControlEvent{Kind: torcontrol.EventCircuit, CircuitID: id, CircuitStatus: torcontrol.CircuitFailed, Reason: "REASON_TEST"}
		} else {
			f.events <- torcontrol.ControlEvent{Kind: torcontrol.EventCircuit, CircuitID: id, CircuitStatus: torcontrol.CircuitBuilt}
		}
	}()
	return id, nil
}
func (f *fakeControlClient) AttachStream(ctx context.Context, streamID string, circuitID torcontrol.CircuitID) error {
	return nil
}
func (f *fakeControlClient) CloseCircuit(ctx context.Context, circuitID torcontrol.CircuitID) error {
	return nil
}
func (f *fakeControlClient) Events() <-chan torcontrol.ControlEvent { return f.events }

func TestScannerRunCountsSuccessesAndWritesOnlyFailures(t *testing.T) {
	dataDir := t.TempDir()

	var relays []relay.Relay
	for i := 0; i < 6; i++ {
		relays = append(relays, relay.Relay{Fingerprint: fmt.Sprintf("R%d", i)})
	}
	consensus := &relay.Consensus{Relays: relays}

	client := newFakeControlClient(3) // every third build fails
	ctrl, err := torcontrol.NewCircuitController(context.Background(), client, 2*time.Second)
	require.NoError(t, err)

	cfg := Config{
		Partitions:          1,
		ThisPartition:       0,
		CircuitLaunchDelay:  time.Millisecond,
		RequestLimit:        4,
		DataDir:             dataDir,
		SharedSecret:        []byte("shared-secret"),
		CircuitBuildTimeout: 2 * time.Second,
	}

	s := New(cfg, ctrl, nil)
	require.NoError(t, s.Run(context.Background(), consensus))

	entries, err := os.ReadDir(filepath.Join(dataDir, "partition-scans"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.NotContains(t, entries[0].Name(), ".running")

	scanDir := filepath.Join(dataDir, "partition-scans", entries[0].Name())
	files, err := os.ReadDir(scanDir)
	if err == nil {
		for _, f := range files {
			data, err := os.ReadFile(filepath.Join(scanDir, f.Name()))
			require.NoError(t, err)
			var records []ProbeRecord
			require.NoError(t, json.Unmarshal(data, &records))
			for _, r := range records {
				require.Equal(t, "failure", r.Status)
			}
		}
	}
}

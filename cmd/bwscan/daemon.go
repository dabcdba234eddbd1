package main

import (
	"context"
	"fmt"

	"github.com/cvsouth/bwscan/aggregate"
	"github.com/cvsouth/bwscan/attacher"
	"github.com/cvsouth/bwscan/orchestrator"
	"github.com/cvsouth/bwscan/relay"
	"github.com/cvsouth/bwscan/torcontrol"
)

// dialControl is the one seam in this command where a real control-socket
// connection to the daemon would be established. The protocol client
// itself — authentication, the line-oriented wire format, the persistent
// socket — is out of scope for this project (see torcontrol.ControlClient);
// this build has no concrete implementation to dial, so every subcommand
// that needs a live daemon fails clearly here rather than hanging on a
// socket that was never opened.
func dialControl(ctx context.Context) (torcontrol.ControlClient, error) {
	return nil, fmt.Errorf("no control-protocol client implementation is wired into this build; provide a torcontrol.ControlClient")
}

// fetchConsensus retrieves and validates the current consensus over an
// already-authenticated control connection.
func fetchConsensus(ctx context.Context, client torcontrol.ControlClient) (*relay.Consensus, error) {
	text, err := client.GetInfo(ctx, "ns/all")
	if err != nil {
		return nil, err
	}
	consensus, err := relay.ParseConsensus(text)
	if err != nil {
		return nil, err
	}
	if err := relay.ValidateFreshness(consensus); err != nil {
		return nil, err
	}
	return consensus, nil
}

// controlSocksPort asks the daemon which SOCKS port to route measurement
// downloads through, per §6.
func controlSocksPort(ctx context.Context, client torcontrol.ControlClient) (int, error) {
	v, err := client.GetConf(ctx, "SocksPort")
	if err != nil {
		return 0, err
	}
	return torcontrol.ParseSocksPort(v), nil
}

// requestBuildCircuit adapts ControlClient.BuildCircuit to the plain
// callback shape attacher.New expects.
func requestBuildCircuit(ctx context.Context, client torcontrol.ControlClient, path []relay.Relay) (string, error) {
	id, err := client.BuildCircuit(ctx, path)
	return string(id), err
}

// pumpEvents forwards every CIRC and STREAM event from client onto att
// until ctx is cancelled or the event channel closes. It is the single
// reader of client.Events() for the lifetime of a measurement scan, which
// is what lets Attacher's internal maps stay lock-minimal (see its doc
// comment).
func pumpEvents(ctx context.Context, client torcontrol.ControlClient, att *attacher.Attacher) {
	events := client.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			switch ev.Kind {
			case torcontrol.EventCircuit:
				switch ev.CircuitStatus {
				case torcontrol.CircuitBuilt:
					att.OnCircuitBuilt(string(ev.CircuitID), attacher.CircuitPurpose(ev.Purpose))
				case torcontrol.CircuitFailed:
					att.OnCircuitFailed(string(ev.CircuitID), ev.Reason)
				}
			case torcontrol.EventStream:
				att.OnStreamNew(ev.StreamID, ev.SourceHost, ev.SourcePort)
			}
		}
	}
}

// descriptorFetcher adapts a live control connection to
// orchestrator.DescriptorFetcher.
func descriptorFetcher(client torcontrol.ControlClient) orchestrator.DescriptorFetcher {
	return func(ctx context.Context, fingerprint string) (orchestrator.DescriptorBandwidth, error) {
		text, err := client.GetInfo(ctx, "desc/id/"+fingerprint)
		if err != nil {
			return orchestrator.DescriptorBandwidth{}, err
		}
		d, err := relay.ParseDescriptor(text)
		if err != nil {
			return orchestrator.DescriptorBandwidth{}, err
		}
		return orchestrator.DescriptorBandwidth{
			Average:  d.AverageBandwidth,
			Burst:    d.BurstBandwidth,
			Observed: d.ObservedBandwidth,
		}, nil
	}
}

// routerStatusFetcher adapts a live control connection to
// orchestrator.RouterStatusFetcher.
func routerStatusFetcher(client torcontrol.ControlClient) orchestrator.RouterStatusFetcher {
	return func(ctx context.Context, fingerprint string) (int64, error) {
		text, err := client.GetInfo(ctx, "ns/id/"+fingerprint)
		if err != nil {
			return 0, err
		}
		rs, err := relay.ParseRouterStatus(text)
		if err != nil {
			return 0, err
		}
		return rs.Bandwidth, nil
	}
}

// descriptorBandwidthFunc adapts a live control connection to
// aggregate.DescriptorBandwidthFunc, which has no context parameter since
// aggregation runs as a single batch pass rather than under a per-fetch
// deadline.
func descriptorBandwidthFunc(client torcontrol.ControlClient) aggregate.DescriptorBandwidthFunc {
	return func(fingerprint string) (string, int64, error) {
		text, err := client.GetInfo(context.Background(), "desc/id/"+fingerprint)
		if err != nil {
			return "", 0, err
		}
		d, err := relay.ParseDescriptor(text)
		if err != nil {
			return "", 0, err
		}
		return d.Nickname, d.AverageBandwidth, nil
	}
}

// routerStatusBandwidthFunc adapts a live control connection to
// aggregate.RouterStatusBandwidthFunc.
func routerStatusBandwidthFunc(client torcontrol.ControlClient) aggregate.RouterStatusBandwidthFunc {
	return func(fingerprint string) (int64, error) {
		text, err := client.GetInfo(context.Background(), "ns/id/"+fingerprint)
		if err != nil {
			return 0, err
		}
		rs, err := relay.ParseRouterStatus(text)
		if err != nil {
			return 0, err
		}
		return rs.Bandwidth, nil
	}
}

// httpFetcher builds an orchestrator.Fetcher that would download over the
// daemon's SOCKS endpoint, originating from localPort so the Attacher can
// correlate the resulting stream. The SOCKS/TLS/HTTP client itself is out
// of scope for this project, like the control-protocol client (see
// dialControl), so this
// build reports the gap rather than silently downloading over the clear.
func httpFetcher(socksPort int) orchestrator.Fetcher {
	return func(ctx context.Context, url string, localPort int) ([]byte, error) {
		return nil, fmt.Errorf("no SOCKS/HTTP downloader is wired into this build (socks_port=%d, local_port=%d, url=%s)", socksPort, localPort, url)
	}
}

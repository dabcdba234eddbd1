// Package bwerrors defines the sentinel error taxonomy shared by the
// orchestrator, partition scanner, and aggregator so callers can classify
// a failed measurement with errors.Is instead of matching strings.
package bwerrors

import "errors"

var (
	// ErrBuildTimeout: circuit did not reach READY within CircuitBuildTimeout.
	ErrBuildTimeout = errors.New("circuit build timeout")
	// ErrBuildFailure: daemon reported failure building the circuit.
	ErrBuildFailure = errors.New("circuit build failure")
	// ErrConnectError: SOCKS/TCP negotiation failure on the attached stream.
	ErrConnectError = errors.New("socks connect error")
	// ErrRequestTimeout: the full GET did not complete within the request deadline.
	ErrRequestTimeout = errors.New("request timeout")
	// ErrDownloadIncomplete: body bytes did not match the expected size.
	ErrDownloadIncomplete = errors.New("download incomplete")
	// ErrTransportError: any other HTTP/TLS failure reported by the agent.
	ErrTransportError = errors.New("transport error")
	// ErrControlProtocolError: daemon returned an error to GETINFO/SETCONF.
	ErrControlProtocolError = errors.New("control protocol error")
	// ErrDescriptorUnavailable: relay not found in the current consensus (aggregation only).
	ErrDescriptorUnavailable = errors.New("descriptor unavailable")
	// ErrWriteError: a sink write failed.
	ErrWriteError = errors.New("write error")
)

// FailureString renders err as the short, stringly failure tag carried by a
// measurement or probe record. Unrecognized errors fall back to "error"
// rather than leaking Go error text into the record.
func FailureString(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrBuildTimeout), errors.Is(err, ErrRequestTimeout):
		return "timeout"
	case errors.Is(err, ErrBuildFailure):
		return "build_failure"
	case errors.Is(err, ErrConnectError):
		return "connect_error"
	case errors.Is(err, ErrDownloadIncomplete):
		return "download_incomplete"
	case errors.Is(err, ErrTransportError):
		return "transport_error"
	case errors.Is(err, ErrControlProtocolError):
		return "control_protocol_error"
	case errors.Is(err, ErrDescriptorUnavailable):
		return "descriptor_unavailable"
	case errors.Is(err, ErrWriteError):
		return "write_error"
	default:
		return "error"
	}
}

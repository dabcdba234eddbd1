// Command bwscan drives a bandwidth-measurement scan, a connectivity
// partition probe, or the aggregation of past scans into a bandwidth
// measurement file, against an already-running anonymity daemon.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strconv"
	"syscall"
	"time"

	"github.com/cvsouth/bwscan/aggregate"
	"github.com/cvsouth/bwscan/attacher"
	"github.com/cvsouth/bwscan/orchestrator"
	"github.com/cvsouth/bwscan/partitionscan"
	"github.com/cvsouth/bwscan/relay"
	"github.com/cvsouth/bwscan/torcontrol"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: bwscan <scan|list|aggregate> [flags]")
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "scan":
		err = runScan(args)
	case "list":
		err = runList(args)
	case "aggregate":
		err = runAggregate(args)
	default:
		fmt.Fprintf(os.Stderr, "unknown subcommand %q\n", cmd)
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		if _, ok := err.(flagError); ok {
			os.Exit(1)
		}
		os.Exit(2)
	}
}

// flagError marks an error as a bad-input condition (exit code 1) rather
// than an unexpected runtime failure (exit code 2).
type flagError struct{ error }

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// commonFlags holds the flag set shared by all three subcommands.
type commonFlags struct {
	dataDir      string
	logLevel     string
	logFile      string
	partitions   int
	thisPart     int
}

func bindCommon(fs *flag.FlagSet, c *commonFlags) {
	fs.StringVar(&c.dataDir, "data-dir", envOrDefault("BWSCANNER_DATADIR", "."), "scan data directory")
	fs.StringVar(&c.logLevel, "loglevel", "info", "log level: debug, info, warn, error")
	fs.StringVar(&c.logFile, "logfile", envOrDefault("BWSCANNER_LOGFILE", ""), "path to a JSON debug log file (empty disables it)")
	fs.IntVar(&c.partitions, "partitions", 1, "number of cooperating scanner partitions")
	fs.IntVar(&c.thisPart, "current-partition", 0, "this scanner's 0-indexed partition number")
}

func setupLogging(c *commonFlags) (*slog.Logger, func(), error) {
	var level slog.Level
	switch c.logLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return nil, nil, flagError{fmt.Errorf("unknown loglevel %q", c.logLevel)}
	}

	stdoutHandler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	if c.logFile == "" {
		return slog.New(stdoutHandler), func() {}, nil
	}

	f, err := os.OpenFile(c.logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}
	fileHandler := slog.NewJSONHandler(f, &slog.HandlerOptions{Level: slog.LevelDebug})
	logger := slog.New(&multiHandler{handlers: []slog.Handler{fileHandler, stdoutHandler}})
	return logger, func() { _ = f.Close() }, nil
}

// multiHandler fans out slog records to multiple handlers, so a scan's
// debug trail lands in its JSON log file while operators still see
// info-and-above on the terminal.
type multiHandler struct {
	handlers []slog.Handler
}

func (m *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range m.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (m *multiHandler) Handle(ctx context.Context, r slog.Record) error {
	for _, h := range m.handlers {
		if h.Enabled(ctx, r.Level) {
			if err := h.Handle(ctx, r); err != nil {
				return err
			}
		}
	}
	return nil
}

func (m *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	hs := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		hs[i] = h.WithAttrs(attrs)
	}
	return &multiHandler{handlers: hs}
}

func (m *multiHandler) WithGroup(name string) slog.Handler {
	hs := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		hs[i] = h.WithGroup(name)
	}
	return &multiHandler{handlers: hs}
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// runScan implements the "scan" subcommand: a measurement orchestrator run
// if --partition-mode is not set, or a connectivity partition scan with
// --partition-mode.
func runScan(args []string) error {
	fs := flag.NewFlagSet("scan", flag.ContinueOnError)
	var c commonFlags
	bindCommon(fs, &c)

	timeout := fs.Duration("timeout", 60*time.Second, "per-request download timeout")
	requestLimit := fs.Int("request-limit", 10, "max in-flight fetches/probes")
	circuitBuildTimeout := fs.Duration("circuit-build-timeout", 30*time.Second, "circuit build deadline")
	launchTor := fs.Bool("launch-tor", false, "accepted for flag compatibility; has no effect, bwscan always connects to a running daemon")
	noLaunchTor := fs.Bool("no-launch-tor", true, "connect to an already-running daemon (default)")
	baseURL := fs.String("payload-url", "", "base URL of the calibrated-payload HTTP server")
	partitionMode := fs.Bool("partition-mode", false, "run the connectivity partition scan instead of bandwidth measurement")
	sharedSecretHex := fs.String("shared-secret", "", "hex-encoded shared secret for the partition scan's keyed PRNG")
	continuous := fs.Bool("continuous", false, "repeat the scan indefinitely until interrupted")
	metricsAddr := fs.String("metrics-addr", "", "address to serve partition-scan Prometheus metrics on (empty disables it)")

	if err := fs.Parse(args); err != nil {
		return flagError{err}
	}
	_ = launchTor
	_ = noLaunchTor // daemon launch is out of scope; both flags are accepted and ignored beyond validation

	logger, closeLog, err := setupLogging(&c)
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, cancel := signalContext()
	defer cancel()

	client, err := dialControl(ctx)
	if err != nil {
		return fmt.Errorf("connect to control port: %w", err)
	}

	controller, err := torcontrol.NewCircuitController(ctx, client, *circuitBuildTimeout)
	if err != nil {
		return fmt.Errorf("configure circuit controller: %w", err)
	}

	consensus, err := fetchConsensus(ctx, client)
	if err != nil {
		return fmt.Errorf("fetch consensus: %w", err)
	}

	if *partitionMode {
		var secret []byte
		if *sharedSecretHex != "" {
			secret, err = parseHexSecret(*sharedSecretHex)
			if err != nil {
				return flagError{err}
			}
		}
		cfg := partitionscan.Config{
			Partitions:          c.partitions,
			ThisPartition:       c.thisPart,
			CircuitLaunchDelay:  time.Second,
			RequestLimit:        *requestLimit,
			ScanContinuous:      *continuous,
			DataDir:             c.dataDir,
			SharedSecret:        secret,
			CircuitBuildTimeout: *circuitBuildTimeout,
		}
		scanner := partitionscan.New(cfg, controller, logger)

		if *metricsAddr != "" {
			go func() {
				if err := scanner.Counters().ServeMetrics(ctx, *metricsAddr); err != nil && err != context.Canceled {
					logger.Error("metrics server failed", "error", err)
				}
			}()
		}
		return scanner.Run(ctx, consensus)
	}

	if *baseURL == "" {
		return flagError{fmt.Errorf("--payload-url is required for a measurement scan")}
	}

	att := attacher.New(logger,
		func(path []relay.Relay) (string, error) { return requestBuildCircuit(ctx, client, path) },
		func(streamID, circuitID string) error { return client.AttachStream(ctx, streamID, torcontrol.CircuitID(circuitID)) },
	)
	go pumpEvents(ctx, client, att)

	socksPort, err := controlSocksPort(ctx, client)
	if err != nil {
		return fmt.Errorf("determine SOCKS port: %w", err)
	}

	cfg := orchestrator.Config{
		Partitions:          c.partitions,
		ThisPartition:       c.thisPart + 1, // the two-hop generator numbers partitions from 1
		RequestTimeout:      *timeout,
		CircuitLaunchDelay:  time.Second,
		RequestLimit:        *requestLimit,
		ScanContinuous:      *continuous,
		DataDir:             c.dataDir,
		BaseURL:             *baseURL,
		CircuitBuildTimeout: *circuitBuildTimeout,
	}

	fetch := httpFetcher(socksPort)
	descBW := descriptorFetcher(client)
	nsBW := routerStatusFetcher(client)

	o := orchestrator.New(cfg, controller, att, fetch, descBW, nsBW, logger)
	return o.Run(ctx, consensus)
}

// runList implements the read-only "list" subcommand: it walks the
// measurements directory and reports each scan's status and record count.
func runList(args []string) error {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	var c commonFlags
	bindCommon(fs, &c)
	if err := fs.Parse(args); err != nil {
		return flagError{err}
	}

	measurementsDir := filepath.Join(c.dataDir, "measurements")
	entries, err := os.ReadDir(measurementsDir)
	if err != nil {
		if os.IsNotExist(err) {
			fmt.Println("no scans found")
			return nil
		}
		return err
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		dir := filepath.Join(measurementsDir, name)
		chunks, err := filepath.Glob(filepath.Join(dir, "*-scan.json"))
		if err != nil {
			return err
		}
		status := "complete"
		if filepath.Ext(name) == ".running" {
			status = "running"
		}
		fmt.Printf("%s\t%s\t%d chunk(s)\n", name, status, len(chunks))
	}
	return nil
}

// runAggregate implements the "aggregate" subcommand: it reduces every
// completed scan directory under --data-dir/measurements into the
// bandwidth measurement file, printed to stdout.
func runAggregate(args []string) error {
	fs := flag.NewFlagSet("aggregate", flag.ContinueOnError)
	var c commonFlags
	bindCommon(fs, &c)
	circuitBuildTimeout := fs.Duration("circuit-build-timeout", 30*time.Second, "circuit build deadline (unused by aggregation; accepted for flag-surface parity)")
	if err := fs.Parse(args); err != nil {
		return flagError{err}
	}
	_ = circuitBuildTimeout

	logger, closeLog, err := setupLogging(&c)
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, cancel := signalContext()
	defer cancel()

	client, err := dialControl(ctx)
	if err != nil {
		return fmt.Errorf("connect to control port: %w", err)
	}

	consensus, err := fetchConsensus(ctx, client)
	if err != nil {
		return fmt.Errorf("fetch consensus: %w", err)
	}

	measurementsDir := filepath.Join(c.dataDir, "measurements")
	entries, err := os.ReadDir(measurementsDir)
	if err != nil {
		return flagError{fmt.Errorf("read measurements directory: %w", err)}
	}
	var dirs []string
	for _, e := range entries {
		if e.IsDir() && filepath.Ext(e.Name()) != ".running" {
			dirs = append(dirs, filepath.Join(measurementsDir, e.Name()))
		}
	}

	out, err := aggregate.Aggregate(consensus, dirs, descriptorBandwidthFunc(client), routerStatusBandwidthFunc(client), logger)
	if err != nil {
		return err
	}
	fmt.Print(out)
	return nil
}

func parseHexSecret(s string) ([]byte, error) {
	if len(s)%2 != 0 {
		return nil, fmt.Errorf("shared secret must have an even number of hex digits")
	}
	out := make([]byte, len(s)/2)
	for i := range out {
		v, err := strconv.ParseUint(s[i*2:i*2+2], 16, 8)
		if err != nil {
			return nil, fmt.Errorf("invalid hex in shared secret: %w", err)
		}
		out[i] = byte(v)
	}
	return out, nil
}

// Command wsnnoded runs one cluster node: the neighbor table, STELLAR
// election, the node state machine, the TDMA scheduler, the log pipeline and
// the line-oriented control surface, driven by the orchestrator's periodic
// tasks (spec §5). No radio is attached: the process neither sends nor
// receives beacons, and rebuilt TDMA schedules are not transmitted.
package main

import (
	"context"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"wsnnode/internal/auth"
	"wsnnode/internal/config"
	wsnlog "wsnnode/internal/log"
	"wsnnode/internal/logpipeline"
	"wsnnode/internal/metrics"
	"wsnnode/internal/neighbor"
	"wsnnode/internal/orchestrator"
	"wsnnode/internal/persistence"
	"wsnnode/internal/statemachine"
	"wsnnode/internal/telemetry"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

type nodeConfig struct {
	NodeID      uint32
	MACTail     [2]byte
	ClusterKey  []byte
	DataDir     string
	MetricsAddr string
	LogLevel    string
}

func defaultNodeConfig() nodeConfig {
	return nodeConfig{
		DataDir:     "./wsnnode-data",
		MetricsAddr: "127.0.0.1:9350",
		LogLevel:    "info",
	}
}

func run(args []string, stdout, stderr io.Writer) int {
	defaults := defaultNodeConfig()
	cfg := defaults

	fs := flag.NewFlagSet("wsnnoded", flag.ContinueOnError)
	fs.SetOutput(stderr)

	nodeID := fs.Uint("node-id", 0, "this node's 32-bit node_id (required, must not be 0 or 0xFFFFFFFF)")
	macTailHex := fs.String("mac-tail", "", "2-byte MAC tail as 4 hex chars, e.g. a1b2 (required)")
	clusterKeyHex := fs.String("cluster-key", "", "32-byte shared cluster key as 64 hex chars (required)")
	fs.StringVar(&cfg.DataDir, "data-dir", defaults.DataDir, "directory for persisted state and log chunks")
	fs.StringVar(&cfg.MetricsAddr, "metrics-addr", defaults.MetricsAddr, "listen address for the Prometheus /metrics endpoint")
	fs.StringVar(&cfg.LogLevel, "log-level", defaults.LogLevel, "log level: debug|info|warn|err")
	dryRun := fs.Bool("dry-run", false, "validate flags and print the effective config, then exit")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	wsnlog.SetLevel(cfg.LogLevel)

	cfg.NodeID = uint32(*nodeID)
	if cfg.NodeID == 0 || cfg.NodeID == 0xFFFFFFFF {
		fmt.Fprintln(stderr, "invalid -node-id: must not be 0 or 0xFFFFFFFF")
		return 2
	}
	macTail, err := hex.DecodeString(*macTailHex)
	if err != nil || len(macTail) != 2 {
		fmt.Fprintln(stderr, "invalid -mac-tail: want 4 hex characters")
		return 2
	}
	copy(cfg.MACTail[:], macTail)

	clusterKey, err := hex.DecodeString(*clusterKeyHex)
	if err != nil || len(clusterKey) != auth.ClusterKeySize {
		fmt.Fprintf(stderr, "invalid -cluster-key: want %d hex bytes (%d hex characters)\n", auth.ClusterKeySize, auth.ClusterKeySize*2)
		return 2
	}
	cfg.ClusterKey = clusterKey

	if err := os.MkdirAll(cfg.DataDir, 0o750); err != nil {
		fmt.Fprintf(stderr, "data-dir create failed: %v\n", err)
		return 2
	}

	fmt.Fprintf(stdout, "wsnnoded: node_id=%d mac_tail=%x data_dir=%s metrics_addr=%s\n",
		cfg.NodeID, cfg.MACTail, cfg.DataDir, cfg.MetricsAddr)
	if *dryRun {
		return 0
	}

	store, err := persistence.Open(filepath.Join(cfg.DataDir, "state.db"))
	if err != nil {
		fmt.Fprintf(stderr, "persistence open failed: %v\n", err)
		return 1
	}
	defer store.Close()

	reg := prometheus.NewRegistry()
	telem := telemetry.NewRegistry(reg)

	sensorCfg := config.DefaultConfig()
	if persisted, err := store.AllSensorCfg(); err == nil && len(persisted) > 0 {
		if merged, err := config.FromMap(persisted); err == nil {
			sensorCfg = merged
		}
	}

	// Derive the beacon subkey once to check that the cluster key is usable;
	// the derived key is not kept, since no radio layer is wired here (radio
	// HAL itself is out of scope, spec.md §1).
	if _, err := auth.DeriveSubkey(cfg.ClusterKey, auth.BeaconKeyInfo, auth.ClusterKeySize); err != nil {
		fmt.Fprintf(stderr, "beacon subkey derivation failed: %v\n", err)
		return 1
	}

	engine := metrics.NewEngine()
	engine.UptimeLoader = func() uint64 {
		v, err := store.LoadUptime()
		if err != nil {
			wsnlog.Warnf("uptime load failed: %v", err)
			return 0
		}
		return v
	}
	engine.UptimePersist = func(seconds uint64) {
		if err := store.SaveUptime(seconds); err != nil {
			wsnlog.Warnf("uptime persist failed: %v", err)
		}
	}

	neighbors := neighbor.NewTable()
	neighbors.Feed = engine

	replayTable := auth.NewReplayTable()
	if snapshot, err := store.LoadReplaySnapshot(); err != nil {
		wsnlog.Warnf("replay snapshot load failed: %v", err)
	} else {
		replayTable.Restore(snapshot)
	}

	now := time.Now()
	machine := statemachine.NewMachine(cfg.NodeID, now)

	logStore := logpipeline.NewDirStorage(cfg.DataDir, logDirCapacityBytes)
	pipeline := logpipeline.NewPipeline(logStore, uint64(cfg.NodeID))
	pipeline.OnCompressFallback = telem.HuffmanCompressFallback.Inc

	control := config.NewControlSurface(sensorCfg)
	control.TriggerUav = func() {
		machine.TriggerUavOnboarding(time.Now())
	}
	control.OnConfigApplied = func(key, value string, next config.SensorConfig) {
		if err := store.SetSensorCfg(key, value); err != nil {
			wsnlog.Warnf("sensor_cfg persist failed: %v", err)
		}
	}
	control.Report = func() config.ClusterReport {
		return buildClusterReport(cfg.NodeID, machine, engine, neighbors)
	}

	orch, err := orchestrator.New(orchestrator.Deps{
		SelfNodeID: cfg.NodeID,
		Machine:    machine,
		Metrics:    engine,
		Neighbors:  neighbors,
		Telemetry:  telem,
	})
	if err != nil {
		fmt.Fprintf(stderr, "orchestrator init failed: %v\n", err)
		return 1
	}
	if err := orch.Start(); err != nil {
		fmt.Fprintf(stderr, "orchestrator start failed: %v\n", err)
		return 1
	}

	httpServer := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			wsnlog.Errorf("metrics server: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	controlDone := make(chan error, 1)
	go func() { controlDone <- control.Serve(&stdioReadWriter{r: os.Stdin, w: stdout}) }()

	_, _ = fmt.Fprintln(stdout, "wsnnoded running")
	select {
	case <-ctx.Done():
	case err := <-controlDone:
		if err != nil {
			wsnlog.Warnf("control surface: %v", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)
	if err := orch.Shutdown(); err != nil {
		wsnlog.Warnf("orchestrator shutdown: %v", err)
	}
	if err := pipeline.Flush(); err != nil {
		if errors.Is(err, logpipeline.ErrBusy) {
			telem.LogPipelineBusy.Inc()
		}
		wsnlog.Warnf("final log flush: %v", err)
	}
	if err := store.SaveReplaySnapshot(replayTable.Snapshot()); err != nil {
		wsnlog.Warnf("replay snapshot persist: %v", err)
	}

	_, _ = fmt.Fprintln(stdout, "wsnnoded stopped")
	return 0
}

// logDirCapacityBytes bounds DirStorage's usage-percentage accounting for
// the circular eviction policy (spec §4.2).
const logDirCapacityBytes = 8 * 1024 * 1024

func buildClusterReport(selfID uint32, m *statemachine.Machine, e *metrics.Engine, tbl *neighbor.Table) config.ClusterReport {
	self := e.Current()
	now := time.Now()
	members := make([]config.MemberReport, 0, tbl.Len())
	for _, n := range tbl.GetAll() {
		members = append(members, config.MemberReport{
			NodeID:      n.NodeID,
			Battery:     n.Battery,
			Trust:       n.Trust,
			LinkQuality: n.LinkQuality,
			IsCH:        n.IsCH,
		})
	}
	return config.ClusterReport{
		NodeID:         selfID,
		Role:           m.State().String(),
		IsCH:           m.IsCH(),
		StellarScore:   self.StellarScore,
		CompositeScore: self.CompositeScore,
		Battery:        self.Battery,
		Trust:          self.Trust,
		LinkQuality:    self.LinkQuality,
		UptimeSeconds:  self.UptimeSeconds,
		CurrentCH:      tbl.CurrentCH(now),
		Members:        members,
	}
}

// stdioReadWriter adapts separate stdin/stdout streams into one
// io.ReadWriter for config.ControlSurface.Serve (spec §6's GATT
// characteristic is a single bidirectional pipe; a process's stdio plays
// the same role for local/manual operation).
type stdioReadWriter struct {
	r io.Reader
	w io.Writer
}

func (s *stdioReadWriter) Read(p []byte) (int, error)  { return s.r.Read(p) }
func (s *stdioReadWriter) Write(p []byte) (int, error) { return s.w.Write(p) }

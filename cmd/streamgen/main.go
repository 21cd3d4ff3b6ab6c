// Command streamgen drives the UDP media-stream traffic generator: either
// a server that sends a fixed-rate frame stream to every peer that
// nudges it with a START datagram, or a client pool that dials a server
// and renders the received stream through a jitter buffer. --mode upload
// reverses the direction: the server receives and the client sends.
package main

import (
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ehrlich-b/streamgen/collab"
	"github.com/ehrlich-b/streamgen/internal/affinity"
	"github.com/ehrlich-b/streamgen/internal/broker"
	"github.com/ehrlich-b/streamgen/internal/ioshard"
	"github.com/ehrlich-b/streamgen/internal/logging"
	"github.com/ehrlich-b/streamgen/internal/pattern"
	"github.com/ehrlich-b/streamgen/internal/ratelimit"
	"github.com/ehrlich-b/streamgen/internal/wiring"
	"github.com/ehrlich-b/streamgen/metrics/prom"
)

func main() {
	root := &cobra.Command{
		Use:   "streamgen",
		Short: "UDP media-stream traffic generator and measurement harness",
	}
	root.PersistentFlags().String("listen", "", "listen address for server mode, host:port")
	root.PersistentFlags().Int("fps", 30, "frames per second")
	root.PersistentFlags().Int("frame-bytes", 4096, "bytes per frame")
	root.PersistentFlags().Int("buffer-secs", 2, "client jitter-buffer depth, seconds")
	root.PersistentFlags().Int("stream-secs", 30, "stream length, seconds")
	root.PersistentFlags().Int64("rate-bytes-per-sec", 0, "server send-side throttle, 0 disables it")
	root.PersistentFlags().Int("max-connections", 1_000_000, "server: total connections the listener accepts; the process keeps running until signalled")
	root.PersistentFlags().Int("accept-queue-depth", 64, "server: pending accept slots kept topped up")
	root.PersistentFlags().String("affinity", "none", "shard CPU affinity policy: none, per-cpu, per-group")
	root.PersistentFlags().String("mode", "stream-pull", "media pattern mode: stream-pull (server sends, client receives) or upload (client sends, server receives)")
	root.PersistentFlags().Bool("verbose", false, "debug-level logging")
	root.PersistentFlags().String("metrics-listen", "", "Prometheus /metrics listen address, empty disables it")
	viper.BindPFlags(root.PersistentFlags())
	viper.SetEnvPrefix("streamgen")
	viper.AutomaticEnv()

	root.AddCommand(newServerCmd(), newClientCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func buildLogger() *logging.Logger {
	cfg := logging.DefaultConfig()
	if viper.GetBool("verbose") {
		cfg.Level = logging.LevelDebug
	}
	logger := logging.NewLogger(cfg)
	logging.SetDefault(logger)
	return logger
}

func patternConfig() pattern.Config {
	fps := viper.GetInt("fps")
	frameBytes := viper.GetInt("frame-bytes")
	return pattern.Config{
		FPS:                fps,
		DatagramMaxSize:    frameBytes,
		FrameSizeBytes:     frameBytes,
		BufferDepthSeconds: viper.GetInt("buffer-secs"),
		StreamLengthSecs:   viper.GetInt("stream-secs"),
		SendStart:          false,
		PrePostRecvCount:   4,
		Mode:               modeFlag(),
	}
}

// modeFlag maps the --mode flag to a pattern.Mode. Any value other than
// "upload" is stream-pull, matching the flag's documented default.
func modeFlag() pattern.Mode {
	if viper.GetString("mode") == "upload" {
		return pattern.ModeUpload
	}
	return pattern.ModeStreamPull
}

func affinityPolicy() affinity.Policy {
	switch viper.GetString("affinity") {
	case "per-cpu":
		return affinity.PerCpu
	case "per-group":
		return affinity.PerGroup
	default:
		return affinity.None
	}
}

func startMetricsServer(reg *prometheus.Registry, logger *logging.Logger) {
	addr := viper.GetString("metrics-listen")
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Errorf("metrics listener stopped: %v", err)
		}
	}()
	logger.Infof("metrics listening on %s", addr)
}

func newServerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "server",
		Short: "send a fixed-rate media stream to every peer that starts one",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := buildLogger()
			sink := collab.NewLogStatusSink()
			sink.Logger = logger

			reg := prometheus.NewRegistry()
			obs, err := prom.NewObserver(reg)
			if err != nil {
				return fmt.Errorf("metrics: %w", err)
			}
			startMetricsServer(reg, logger)

			listenAddr := viper.GetString("listen")
			if listenAddr == "" {
				return fmt.Errorf("server: --listen is required")
			}
			udpAddr, err := net.ResolveUDPAddr("udp", listenAddr)
			if err != nil {
				return fmt.Errorf("server: resolve --listen: %w", err)
			}

			shard := &ioshard.Shard{}
			plan, err := affinity.ComputeShardAffinities(1, affinityPolicy())
			if err != nil {
				return fmt.Errorf("server: affinity: %w", err)
			}
			shardCfg := ioshard.ShardConfig{
				BindAddr:            udpAddr,
				OutstandingReceives: 64,
				WorkerCount:         1,
				BatchSize:           16,
				BufferSize:          2048,
				Sink:                sink,
				Logger:              logger,
			}
			if !plan.Absent {
				shardCfg.Affinity = plan.Entries
			}
			if err := shard.Initialize(shardCfg); err != nil {
				return fmt.Errorf("server: %w", err)
			}
			defer shard.Shutdown()

			var limit ratelimit.Policy = ratelimit.DontThrottle{}
			if rate := viper.GetInt64("rate-bytes-per-sec"); rate > 0 {
				limit = ratelimit.NewThrottle(rate, 100)
			}

			brokerCfg := broker.Config{
				ServerExitLimit: viper.GetInt("max-connections"),
				AcceptLimit:     viper.GetInt("accept-queue-depth"),
			}
			listener, err := wiring.NewListener(shard, brokerCfg, patternConfig(), limit, obs, sink)
			if err != nil {
				return fmt.Errorf("server: %w", err)
			}
			listener.Start()

			logger.Infof("server listening on %s", shard.LocalAddr())
			waitForSignal(logger)
			return nil
		},
	}
	return cmd
}

func newClientCmd() *cobra.Command {
	var count int
	cmd := &cobra.Command{
		Use:   "client <server-addr>",
		Short: "dial a server to receive its media stream, or (--mode upload) to send one to it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := buildLogger()
			sink := collab.NewLogStatusSink()
			sink.Logger = logger

			reg := prometheus.NewRegistry()
			obs, err := prom.NewObserver(reg)
			if err != nil {
				return fmt.Errorf("metrics: %w", err)
			}
			startMetricsServer(reg, logger)

			serverAddr, err := net.ResolveUDPAddr("udp", args[0])
			if err != nil {
				return fmt.Errorf("client: resolve server address: %w", err)
			}

			plan, err := affinity.ComputeShardAffinities(count, affinityPolicy())
			if err != nil {
				return fmt.Errorf("client: affinity: %w", err)
			}
			shardCfg := ioshard.ShardConfig{
				OutstandingReceives: 4,
				WorkerCount:         1,
				BatchSize:           4,
				BufferSize:          2048,
				Sink:                sink,
				Logger:              logger,
			}
			if !plan.Absent && len(plan.Entries) > 0 {
				shardCfg.Affinity = plan.Entries[:1]
			}

			brokerCfg := broker.Config{
				Iterations:      1,
				ConnectionLimit: count,
				ThrottleLimit:   count,
			}

			var limit ratelimit.Policy = ratelimit.DontThrottle{}
			if rate := viper.GetInt64("rate-bytes-per-sec"); rate > 0 {
				limit = ratelimit.NewThrottle(rate, 100)
			}

			pool, err := wiring.NewClientPool(serverAddr, brokerCfg, shardCfg, patternConfig(), limit, obs, sink)
			if err != nil {
				return fmt.Errorf("client: %w", err)
			}
			pool.Start()

			logger.Infof("dialing %d stream(s) against %s", count, serverAddr)
			waitForSignal(logger)
			return nil
		},
	}
	cmd.Flags().IntVar(&count, "streams", 1, "number of concurrent streams to dial")
	return cmd
}

func waitForSignal(logger *logging.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("received shutdown signal")
	time.Sleep(50 * time.Millisecond)
}

package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"chainsim/config"
	"chainsim/logs"
	"chainsim/sim"
	"chainsim/stats"
	"chainsim/store"
)

type runFlags struct {
	configFile  string
	protocols   []string
	nodes       int
	rounds      int
	seed        int64
	packetLoss  float64
	latency     time.Duration
	metricsAddr string
	logLevel    string
	archivePath string
	noArchive   bool
}

func newRunCmd() *cobra.Command {
	return newRunCmdWith(&runFlags{})
}

func newRunCmdWith(f *runFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one simulation per protocol and print the per-node status",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := f.load(cmd)
			if err != nil {
				return err
			}
			return runSimulations(cmd.Context(), cfg)
		},
	}
	fs := cmd.Flags()
	fs.StringVar(&f.configFile, "config", "", "YAML config file")
	fs.StringSliceVar(&f.protocols, "protocol", nil, "protocols to simulate: pow, algorand, casper, gasper (default all)")
	fs.IntVar(&f.nodes, "nodes", 0, "number of simulated participants")
	fs.IntVar(&f.rounds, "rounds", 0, "number of rounds to simulate")
	fs.Int64Var(&f.seed, "seed", 0, "network seed")
	fs.Float64Var(&f.packetLoss, "packet-loss", 0, "per-message loss probability")
	fs.DurationVar(&f.latency, "latency", 0, "base link latency")
	fs.StringVar(&f.metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address")
	fs.StringVar(&f.logLevel, "log-level", "", "trace, debug, verbose, info, warn, error")
	fs.StringVar(&f.archivePath, "archive-path", "", "badger directory for finalized blocks (in-memory when empty)")
	fs.BoolVar(&f.noArchive, "no-archive", false, "disable the finalized-block archive")
	return cmd
}

// load 默认值 < 配置文件 < 环境变量 < 显式给出的命令行参数
func (f *runFlags) load(cmd *cobra.Command) (*config.Config, error) {
	v, err := config.NewViper(f.configFile)
	if err != nil {
		return nil, err
	}
	fs := cmd.Flags()
	set := func(flag, key string, val interface{}) {
		if fs.Changed(flag) {
			v.Set(key, val)
		}
	}
	set("protocol", "protocols", f.protocols)
	set("nodes", "network.nodes", f.nodes)
	set("rounds", "network.rounds", f.rounds)
	set("seed", "network.seed", f.seed)
	set("packet-loss", "link.packet_loss", f.packetLoss)
	set("latency", "link.latency", f.latency)
	set("metrics-addr", "metrics.addr", f.metricsAddr)
	set("log-level", "log.level", f.logLevel)
	set("archive-path", "archive.path", f.archivePath)
	if f.noArchive {
		v.Set("archive.enabled", false)
	}
	return config.FromViper(v)
}

func runSimulations(ctx context.Context, cfg *config.Config) error {
	level, err := logs.ParseLevel(cfg.Log.Level)
	if err != nil {
		return err
	}
	logs.SetLevel(level)

	registry := prometheus.NewRegistry()
	g, ctx := errgroup.WithContext(ctx)

	var outMu sync.Mutex
	for _, protocol := range cfg.Protocols {
		protocol := protocol
		g.Go(func() error {
			report, err := runProtocol(ctx, cfg, protocol, registry)
			outMu.Lock()
			defer outMu.Unlock()
			os.Stdout.Write(report)
			return err
		})
	}

	if cfg.Metrics.Addr == "" {
		return g.Wait()
	}

	srv := &http.Server{
		Addr:              cfg.Metrics.Addr,
		Handler:           promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logs.Info("serving metrics on %s", cfg.Metrics.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logs.Error("metrics server: %v", err)
		}
	}()
	err = g.Wait()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if serr := srv.Shutdown(shutdownCtx); serr != nil && err == nil {
		err = serr
	}
	return err
}

// runProtocol 运行单个协议的模拟，返回打印好的状态报告
func runProtocol(ctx context.Context, cfg *config.Config, protocol string, reg prometheus.Registerer) ([]byte, error) {
	var archive *store.Archive
	if cfg.Archive.Enabled {
		path := cfg.Archive.Path
		if path != "" {
			path = filepath.Join(path, protocol)
		}
		a, err := store.Open(path)
		if err != nil {
			return nil, fmt.Errorf("%s: open archive: %w", protocol, err)
		}
		defer a.Close()
		archive = a
	}

	nm, err := sim.NewNetworkManager(cfg.NetworkFor(), cfg.ConsensusFor(protocol), archive)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", protocol, err)
	}
	if err := reg.Register(stats.NewCollector(protocol, nm.Snapshot, nm.NetworkStats())); err != nil {
		return nil, fmt.Errorf("%s: register metrics: %w", protocol, err)
	}

	start := time.Now()
	logs.Info("[%s] simulating %d nodes for %d rounds", protocol, cfg.Network.Nodes, cfg.Network.Rounds)
	runErr := nm.Run(ctx)

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "==== %s (%d nodes, %d rounds, %v) ====\n", protocol, cfg.Network.Nodes, cfg.Network.Rounds, time.Since(start).Round(time.Millisecond))
	nm.PrintStatus(&buf)
	if runErr != nil {
		return buf.Bytes(), fmt.Errorf("%s: %w", protocol, runErr)
	}
	return buf.Bytes(), nm.CheckAgreement()
}

package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/ryandielhenn/zephyrlink/internal/config"
	"github.com/ryandielhenn/zephyrlink/internal/logging"
	"github.com/ryandielhenn/zephyrlink/internal/telemetry"
	"github.com/ryandielhenn/zephyrlink/pkg/node"
)

var version = "dev"

func main() {
	// 1. Config: defaults, then ZEPHYR_* env, then flags
	cfg, warns := config.FromEnv()
	flag.StringVar(&cfg.NodeID, "id", cfg.NodeID, "8-character node id (default: random)")
	flag.IntVar(&cfg.DiscoveryPort, "discovery-port", cfg.DiscoveryPort, "UDP port for discovery broadcasts")
	flag.StringVar(&cfg.BroadcastAddr, "broadcast", cfg.BroadcastAddr, "broadcast destination address")
	flag.DurationVar(&cfg.AnnounceInterval, "interval", cfg.AnnounceInterval, "time between announcements")
	flag.StringVar(&cfg.ListenAddr, "listen", cfg.ListenAddr, "TCP address of the timestamp responder")
	flag.DurationVar(&cfg.MeasureTimeout, "measure-timeout", cfg.MeasureTimeout, "connect+read bound for one delay measurement")
	flag.DurationVar(&cfg.SettleDelay, "settle", cfg.SettleDelay, "wait before connecting to a newly triggered peer")
	flag.StringVar(&cfg.AdminAddr, "admin", cfg.AdminAddr, "admin HTTP address, e.g. :8080 (empty disables)")
	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "debug, info, warn or error")
	flag.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "console or json")
	flag.Parse()

	// 2. Logger
	log, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		os.Stderr.WriteString("zephyrlink: " + err.Error() + "\n")
		os.Exit(2)
	}
	defer log.Sync()
	for _, w := range warns {
		log.Warn("ignoring environment value", zap.String("detail", w))
	}

	// 3. Bind sockets
	log.Info("[Boot] binding sockets")
	n, err := node.New(cfg, log)
	if err != nil {
		log.Fatal("boot failed", zap.Error(err))
	}
	telemetry.SetBuildInfo(version, n.ID().String())
	log.Info("[Boot] node ready; stop with Ctrl+C",
		zap.Stringer("id", n.ID()),
		zap.Uint16("tcp_port", n.Port()),
		zap.String("version", version),
	)

	// 4. Run until signalled
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := n.Run(ctx); err != nil {
		log.Fatal("node stopped", zap.Error(err))
	}
}

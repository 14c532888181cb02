// Command node serves one cache node over ZeroMQ. Values are stored as opaque
// bytes, so clients may use any codec.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/IvanBrykalov/ringcache/cache"
	"github.com/IvanBrykalov/ringcache/codec"
	pmet "github.com/IvanBrykalov/ringcache/metrics/prom"
	"github.com/IvanBrykalov/ringcache/node"
	"github.com/IvanBrykalov/ringcache/transport/zmq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func main() {
	var (
		id          = flag.String("id", "", "node id (required)")
		listen      = flag.String("listen", "tcp://0.0.0.0:7400", "ZeroMQ endpoint to bind")
		configPath  = flag.String("config", "", "YAML cache config (shard settings only)")
		capacity    = flag.Int("cap", 4096, "capacity per shard when no config is given")
		maxValue    = flag.Int("max-value", 1<<20, "reject values larger than this many bytes (0 = unlimited)")
		metricsAddr = flag.String("http", "", "serve Prometheus metrics at addr; empty = disabled")
		dev         = flag.Bool("dev", false, "human-readable development logging")
	)
	flag.Parse()

	build := zap.NewProduction
	if *dev {
		build = zap.NewDevelopment
	}
	log, err := build()
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if *id == "" {
		log.Fatal("-id is required")
	}

	cfg := cache.Config{CapacityPerShard: *capacity}
	if *configPath != "" {
		if cfg, err = cache.LoadConfig(*configPath); err != nil {
			log.Fatal("load config", zap.Error(err))
		}
	}
	opt, err := cache.FromConfig[[]byte](cfg)
	if err != nil {
		log.Fatal("invalid config", zap.Error(err))
	}
	opt.Logger = log
	if *metricsAddr != "" {
		opt.Metrics = pmet.New(nil, "ringcache", "node", prometheus.Labels{"node": *id})
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		go func() {
			log.Info("metrics: serving", zap.String("addr", *metricsAddr))
			log.Warn("metrics stopped", zap.Error(http.ListenAndServe(*metricsAddr, mux)))
		}()
	}

	n := node.New[[]byte](cache.NodeID(*id), opt.NodeConfig())
	wire := codec.Limit[[]byte]{Inner: codec.Bytes{}, MaxDecode: *maxValue}
	srv := zmq.NewServer(n, *listen, codec.Codec[[]byte](wire), log)
	if err := srv.Start(); err != nil {
		log.Fatal("start server", zap.Error(err))
	}
	defer srv.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	sweep := opt.SweepInterval
	if sweep == 0 {
		sweep = time.Second
	}
	go n.RunSweeper(ctx, sweep)

	log.Info("node serving",
		zap.String("node", *id),
		zap.String("endpoint", srv.Endpoint()),
		zap.Int("capacityPerShard", opt.CapacityPerShard),
		zap.String("policy", string(opt.EvictionPolicy)))
	<-ctx.Done()
	log.Info("shutting down", zap.String("node", *id))
}

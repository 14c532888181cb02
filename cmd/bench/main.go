// Command bench runs a synthetic workload against a cache cluster and exposes
// optional pprof/Prometheus endpoints.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/IvanBrykalov/ringcache/cache"
	"github.com/IvanBrykalov/ringcache/codec"
	pmet "github.com/IvanBrykalov/ringcache/metrics/prom"
	"github.com/IvanBrykalov/ringcache/node"
	"github.com/IvanBrykalov/ringcache/policy"
	"github.com/IvanBrykalov/ringcache/replication"
	"github.com/IvanBrykalov/ringcache/transport/zmq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func main() {
	var (
		configPath = flag.String("config", "", "YAML cache config; flags set explicitly override it")

		nodes     = flag.Int("nodes", 3, "number of nodes")
		capacity  = flag.Int("cap", 4096, "capacity per shard (entries)")
		shards    = flag.Int("shards", 0, "shards per node (0=auto)")
		pol       = flag.String("policy", "lru", "eviction policy: lru | lfu | ttl | 2q")
		rf        = flag.Int("rf", 2, "replication factor")
		wc        = flag.String("wc", "majority", "write concern: primary | majority | all")
		readMode  = flag.String("read", "own", "read mode: own | any")
		propagate = flag.String("propagation", "sync", "propagation: sync | async")
		ttl       = flag.Duration("ttl", 0, "default TTL (0 = none)")
		transport = flag.String("transport", "local", "node transport: local | zmq")

		workers  = flag.Int("workers", 2*runtime.GOMAXPROCS(0), "number of worker goroutines")
		duration = flag.Duration("duration", 10*time.Second, "benchmark duration")
		readPct  = flag.Int("reads", 80, "read percentage [0..100]")

		keys    = flag.Int("keys", 1_000_000, "keyspace size")
		zipfS   = flag.Float64("zipf_s", 1.1, "Zipf s > 1 (skew)")
		zipfV   = flag.Float64("zipf_v", 1.0, "Zipf v")
		seed    = flag.Int64("seed", time.Now().UnixNano(), "random seed")
		preload = flag.Int("preload", 10_000, "preload entries")

		pprofAddr   = flag.String("pprof", "", "serve pprof at addr (e.g. :6060); empty = disabled")
		metricsAddr = flag.String("http", ":8080", "serve Prometheus metrics at addr")
		dev         = flag.Bool("dev", false, "human-readable development logging")
	)
	flag.Parse()

	log := newLogger(*dev)
	defer func() { _ = log.Sync() }()

	// File first, then explicitly set flags.
	cfg := cache.Config{}
	if *configPath != "" {
		var err error
		if cfg, err = cache.LoadConfig(*configPath); err != nil {
			log.Fatal("load config", zap.Error(err))
		}
	}
	set := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
	override := func(name string, apply func()) {
		if *configPath == "" || set[name] {
			apply()
		}
	}
	override("nodes", func() {
		cfg.Nodes = cfg.Nodes[:0]
		for i := 0; i < *nodes; i++ {
			cfg.Nodes = append(cfg.Nodes, "node-"+strconv.Itoa(i))
		}
	})
	override("cap", func() { cfg.CapacityPerShard = *capacity })
	override("shards", func() { cfg.ShardsPerNode = *shards })
	override("policy", func() { cfg.EvictionPolicy = *pol })
	override("rf", func() { cfg.ReplicationFactor = *rf })
	override("wc", func() { cfg.WriteConcern = *wc })
	override("read", func() { cfg.ReadMode = *readMode })
	override("propagation", func() { cfg.Propagation = *propagate })
	override("ttl", func() { cfg.DefaultTTL = *ttl })
	if cfg.EvictionPolicy == string(policy.KindTTLOnly) && cfg.TTLFallback == "" {
		cfg.TTLFallback = string(policy.KindLRU)
	}

	opt, err := cache.FromConfig[string](cfg)
	if err != nil {
		log.Fatal("invalid config", zap.Error(err))
	}
	opt.Logger = log

	if *pprofAddr != "" {
		go func() {
			log.Info("pprof: serving", zap.String("addr", *pprofAddr))
			log.Warn("pprof stopped", zap.Error(http.ListenAndServe(*pprofAddr, nil)))
		}()
	}

	// pprof and /metrics share DefaultServeMux.
	opt.Metrics = pmet.New(nil, "ringcache", "bench", nil)
	http.Handle("/metrics", promhttp.Handler())
	go func() {
		log.Info("metrics: serving", zap.String("addr", *metricsAddr))
		log.Warn("metrics stopped", zap.Error(http.ListenAndServe(*metricsAddr, nil)))
	}()

	switch *transport {
	case "local":
	case "zmq":
		stop, err := serveNodes(&opt, log)
		if err != nil {
			log.Fatal("start zmq nodes", zap.Error(err))
		}
		defer stop()
	default:
		log.Fatal("unknown transport (use local or zmq)", zap.String("transport", *transport))
	}

	c, err := cache.New(opt)
	if err != nil {
		log.Fatal("build cache", zap.Error(err))
	}
	defer func() { _ = c.Close() }()

	bg := context.Background()
	for i := 0; i < *preload; i++ {
		k := "k:" + strconv.Itoa(i)
		if err := c.Set(bg, k, "v"+strconv.Itoa(i)); err != nil {
			log.Warn("preload", zap.String("key", k), zap.Error(err))
			break
		}
	}

	w := workload{
		workers: *workers,
		readPct: *readPct,
		keys:    uint64(*keys),
		zipfS:   *zipfS,
		zipfV:   *zipfV,
		seed:    *seed,
	}
	ctx, cancel := context.WithTimeout(bg, *duration)
	defer cancel()
	t := w.run(ctx, c)
	if err := c.Flush(bg); err != nil {
		log.Warn("flush", zap.Error(err))
	}

	st := c.Stats()
	fmt.Printf("transport=%s nodes=%d rf=%d wc=%s policy=%s cap/shard=%d workers=%d keys=%d dur=%v seed=%d\n",
		*transport, len(c.Nodes()), opt.ReplicationFactor, opt.WriteConcern, cfg.EvictionPolicy,
		opt.CapacityPerShard, w.workers, *keys, t.elapsed, w.seed)
	t.print(os.Stdout)
	fmt.Printf("entries=%d (replicas included)  evictions=%d\n", st.Entries, st.Evictions)
}

func newLogger(dev bool) *zap.Logger {
	build := zap.NewProduction
	if dev {
		build = zap.NewDevelopment
	}
	log, err := build()
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	return log
}

// serveNodes starts one ZeroMQ server per configured node on loopback and
// points opt.Dial at them, so every cache call crosses the wire.
func serveNodes(opt *cache.Options[string], log *zap.Logger) (func(), error) {
	var (
		servers   []*zmq.Server[string]
		endpoints = map[cache.NodeID]string{}
	)
	stop := func() {
		for _, s := range servers {
			s.Stop()
		}
	}
	for _, id := range opt.Nodes {
		n := node.New[string](id, opt.NodeConfig())
		srv := zmq.NewServer(n, "tcp://127.0.0.1:0", codec.String{}, log)
		if err := srv.Start(); err != nil {
			stop()
			return nil, err
		}
		servers = append(servers, srv)
		endpoints[id] = srv.Endpoint()
	}
	opt.Dial = func(_ context.Context, id cache.NodeID) (replication.Peer[string], error) {
		ep, ok := endpoints[id]
		if !ok {
			return nil, fmt.Errorf("no server for node %s", id)
		}
		return zmq.NewClient[string](id, ep, codec.String{}, zmq.DefaultTimeout), nil
	}
	return stop, nil
}

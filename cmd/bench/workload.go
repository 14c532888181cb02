package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IvanBrykalov/ringcache/cache"
)

// workload issues a Zipf-distributed read/write mix from several goroutines.
type workload struct {
	workers int
	readPct int
	keys    uint64
	zipfS   float64
	zipfV   float64
	seed    int64
}

type tally struct {
	reads, writes, hits, misses, failures atomic.Uint64
	elapsed                               time.Duration
}

func (w workload) run(ctx context.Context, c cache.Cache[string]) *tally {
	if w.workers <= 0 {
		w.workers = 1
	}
	if w.keys == 0 {
		w.keys = 1
	}
	t := &tally{}
	start := time.Now()

	var wg sync.WaitGroup
	for id := range w.workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.worker(ctx, c, int64(id), t)
		}()
	}
	wg.Wait()
	t.elapsed = time.Since(start)
	return t
}

func (w workload) worker(ctx context.Context, c cache.Cache[string], id int64, t *tally) {
	// rand.Rand is not safe for concurrent use.
	r := rand.New(rand.NewSource(w.seed + id*7919))
	zipf := rand.NewZipf(r, w.zipfS, w.zipfV, w.keys-1)
	next := func() string { return "k:" + strconv.FormatUint(zipf.Uint64(), 10) }

	for ctx.Err() == nil {
		if r.Intn(100) >= w.readPct {
			t.writes.Add(1)
			err := c.Set(ctx, next(), "v"+strconv.FormatInt(r.Int63(), 36))
			if err != nil && ctx.Err() == nil {
				t.failures.Add(1)
			}
			continue
		}
		t.reads.Add(1)
		switch _, err := c.Get(ctx, next()); {
		case err == nil:
			t.hits.Add(1)
		case errors.Is(err, cache.ErrNotFound):
			t.misses.Add(1)
		case ctx.Err() == nil:
			t.failures.Add(1)
		}
	}
}

func (t *tally) print(out io.Writer) {
	reads, hits := t.reads.Load(), t.hits.Load()
	ops := reads + t.writes.Load()
	var hitRate float64
	if reads > 0 {
		hitRate = 100 * float64(hits) / float64(reads)
	}
	fmt.Fprintf(out, "ops=%d (%.0f ops/s)  reads=%d  writes=%d  failures=%d\n",
		ops, float64(ops)/t.elapsed.Seconds(), reads, t.writes.Load(), t.failures.Load())
	fmt.Fprintf(out, "hits=%d  misses=%d  hit-rate=%.2f%%\n", hits, t.misses.Load(), hitRate)
}

// Package main provides a benchmark tool for syncq to measure enqueue and
// drain throughput of the offline queue on a chosen storage backend.
// Every enqueue rewrites the persisted queue, so throughput drops as the
// queue grows; that cost is what this tool makes visible.
//
// Usage:
//
//	go run ./benchmark -actions 2000 -driver sqlite
//	go run ./benchmark -driver redis -redis 127.0.0.1:6379
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/guido-cesarano/syncq/pkg/queue"
	"github.com/guido-cesarano/syncq/pkg/registry"
	"github.com/guido-cesarano/syncq/pkg/storage"
	"github.com/guido-cesarano/syncq/pkg/syncer"
)

func main() {
	numActions := flag.Int("actions", 2000, "Number of actions to enqueue")
	numWorkers := flag.Int("workers", 10, "Number of concurrent producers")
	driver := flag.String("driver", "memory", "Storage driver (memory|sqlite|redis)")
	redisAddr := flag.String("redis", "localhost:6379", "Redis address for -driver redis")
	flag.Parse()

	ctx := context.Background()
	st, cleanup, err := openStorage(ctx, *driver, *redisAddr)
	if err != nil {
		fmt.Printf("Error opening storage: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()

	key := "syncq:benchmark:" + uuid.NewString()
	q := queue.New(st, queue.WithKey(key))
	defer q.Clear(ctx)

	fmt.Printf("syncq Benchmark\n")
	fmt.Printf("===============\n")
	fmt.Printf("Storage driver: %s\n", *driver)
	fmt.Printf("Actions to enqueue: %d\n", *numActions)
	fmt.Printf("Concurrent producers: %d\n\n", *numWorkers)

	// Enqueue phase
	fmt.Printf("Starting enqueue phase...\n")
	startEnqueue := time.Now()

	var wg sync.WaitGroup
	var enqueued atomic.Int64
	perWorker := *numActions / *numWorkers

	for i := 0; i < *numWorkers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				payload := map[string]int{"worker": workerID, "seq": j}
				if _, err := q.Enqueue(ctx, "bench/create", payload, nil); err != nil {
					fmt.Printf("Error enqueuing: %v\n", err)
					return
				}
				enqueued.Add(1)
			}
		}(i)
	}

	wg.Wait()
	enqueueTime := time.Since(startEnqueue)

	fmt.Printf("✓ Enqueued %d actions in %s\n", enqueued.Load(), enqueueTime)
	fmt.Printf("  Throughput: %.2f actions/sec\n\n", float64(enqueued.Load())/enqueueTime.Seconds())

	// Drain phase
	reg := registry.New()
	var handled atomic.Int64
	noop := func(context.Context, json.RawMessage) (registry.Result, error) {
		handled.Add(1)
		return registry.Result{Success: true}, nil
	}
	if err := reg.Handle("bench/create", noop); err != nil {
		fmt.Printf("Error registering handler: %v\n", err)
		os.Exit(1)
	}
	p := syncer.NewProcessor(q, reg)

	fmt.Printf("Draining queue with the sync processor...\n")
	startProcess := time.Now()

	sum, err := p.ProcessQueue(ctx)
	if err != nil {
		fmt.Printf("Error processing queue: %v\n", err)
		os.Exit(1)
	}
	processTime := time.Since(startProcess)

	fmt.Printf("\n✓ Synced %d actions in %s (remaining: %d)\n", sum.Synced, processTime, q.Len())
	fmt.Printf("  Throughput: %.2f actions/sec\n", float64(handled.Load())/processTime.Seconds())

	totalTime := enqueueTime + processTime
	fmt.Printf("\nTotal time: %s\n", totalTime)
	fmt.Printf("Overall throughput: %.2f actions/sec\n", float64(enqueued.Load())/totalTime.Seconds())
}

func openStorage(ctx context.Context, driver, redisAddr string) (storage.Storage, func(), error) {
	switch driver {
	case "memory":
		return storage.NewMemory(), func() {}, nil
	case "sqlite":
		dir, err := os.MkdirTemp("", "syncq-bench-*")
		if err != nil {
			return nil, nil, err
		}
		st, err := storage.OpenSQLite(filepath.Join(dir, "bench.db"))
		if err != nil {
			os.RemoveAll(dir)
			return nil, nil, err
		}
		return st, func() { st.Close(); os.RemoveAll(dir) }, nil
	case "redis":
		st := storage.NewRedis(redisAddr)
		if err := st.Ping(ctx); err != nil {
			st.Close()
			return nil, nil, err
		}
		return st, func() { st.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown driver %q", driver)
	}
}

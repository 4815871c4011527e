package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/guido-cesarano/syncq/pkg/config"
	"github.com/guido-cesarano/syncq/pkg/connectivity"
	"github.com/guido-cesarano/syncq/pkg/domains/meals"
	"github.com/guido-cesarano/syncq/pkg/domains/workouts"
	"github.com/guido-cesarano/syncq/pkg/entities"
	"github.com/guido-cesarano/syncq/pkg/logger"
	"github.com/guido-cesarano/syncq/pkg/queue"
	"github.com/guido-cesarano/syncq/pkg/registry"
	"github.com/guido-cesarano/syncq/pkg/remote"
	"github.com/guido-cesarano/syncq/pkg/storage"
	"github.com/guido-cesarano/syncq/pkg/syncer"
)

// app is the fully wired engine shared by every command.
type app struct {
	cfg       config.Config
	storage   storage.Storage
	closeFn   func() error
	queue     *queue.Store
	registry  *registry.Registry
	remote    *remote.Client
	flag      *connectivity.Flag
	metrics   *syncer.Metrics
	gatherer  *prometheus.Registry
	processor *syncer.Processor
	meals     *meals.Service
	workouts  *workouts.Service
	// entities maps each domain name to its local entity store.
	entities map[string]*entities.Store
}

// newApp opens storage, restores the queue and entity stores and registers
// every domain.
// The connectivity flag starts offline until a probe says otherwise.
func newApp(ctx context.Context, cfg config.Config) (*app, error) {
	st, closeFn, err := openStorage(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, storage: st, closeFn: closeFn}

	a.queue = queue.New(st, queue.WithKey(cfg.Storage.Key))
	if err := a.queue.Load(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("load queue: %w", err)
	}

	a.remote = remote.New(cfg.Remote)
	a.registry = registry.New()
	mealStore := entities.New(meals.Domain, entities.WithStorage(st, ""))
	workoutStore := entities.New(workouts.Domain, entities.WithStorage(st, ""))
	a.entities = map[string]*entities.Store{
		meals.Domain:    mealStore,
		workouts.Domain: workoutStore,
	}
	for _, es := range a.entities {
		if err := es.Load(ctx); err != nil {
			a.Close()
			return nil, err
		}
	}
	if err := errors.Join(
		meals.Register(a.registry, a.remote, mealStore),
		workouts.Register(a.registry, a.remote, workoutStore),
	); err != nil {
		a.Close()
		return nil, fmt.Errorf("register domains: %w", err)
	}

	a.gatherer = prometheus.NewRegistry()
	a.gatherer.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = syncer.NewMetrics(a.gatherer)
	a.metrics.ObserveQueue(a.queue.Stats())

	a.flag = connectivity.NewFlag(false)
	a.processor = syncer.NewProcessor(a.queue, a.registry,
		syncer.WithMaxRetries(cfg.Sync.MaxRetries),
		syncer.WithRetryDelay(cfg.Sync.RetryDelay),
		syncer.WithOnline(a.flag.Online),
		syncer.WithMetrics(a.metrics),
		syncer.WithObserver(func(syncer.Outcome) {
			a.metrics.ObserveQueue(a.queue.Stats())
		}),
	)
	a.meals = meals.NewService(mealStore, a.processor, a.queue)
	a.workouts = workouts.NewService(workoutStore, a.processor, a.queue)

	logger.Log.Debug().
		Str("driver", cfg.Storage.Driver).
		Int("queued", a.queue.Len()).
		Strs("types", a.registry.Types()).
		Msg("Engine ready")
	return a, nil
}

// probe checks the remote once and records the result in the flag.
func (a *app) probe(ctx context.Context) bool {
	p := connectivity.NewProbe(a.remote, a.flag, a.cfg.Connectivity.ProbeInterval, a.cfg.Connectivity.ProbeTimeout)
	return p.Check(ctx)
}

// Close releases the storage backend.
func (a *app) Close() error {
	if a.closeFn == nil {
		return nil
	}
	return a.closeFn()
}

func openStorage(ctx context.Context, cfg config.StorageConfig) (storage.Storage, func() error, error) {
	switch cfg.Driver {
	case "memory":
		return storage.NewMemory(), nil, nil
	case "sqlite":
		st, err := storage.OpenSQLite(cfg.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite %s: %w", cfg.Path, err)
		}
		return st, st.Close, nil
	case "redis":
		st := storage.NewRedis(cfg.RedisAddr)
		if err := st.Ping(ctx); err != nil {
			st.Close()
			return nil, nil, fmt.Errorf("connect redis %s: %w", cfg.RedisAddr, err)
		}
		return st, st.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

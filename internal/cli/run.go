package cli

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/guido-cesarano/syncq/pkg/admin"
	"github.com/guido-cesarano/syncq/pkg/connectivity"
	"github.com/guido-cesarano/syncq/pkg/logger"
	"github.com/guido-cesarano/syncq/pkg/syncer"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	AdminAddr string
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the sync agent",
		Long: `Run the sync agent until interrupted.

The agent probes the remote authority, drains the queue every time it comes
back online, refreshes queue depth metrics on a schedule and serves the admin
API. Periodic runs while online are off unless sync.schedule is set.

Examples:
  syncq run --config configs/syncq.yaml
  syncq run --admin-addr :9191`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAgent(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.AdminAddr, "admin-addr", "", "admin API listen address (overrides config)")

	return cmd
}

func runAgent(opts *RunOptions, cmd *cobra.Command) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	if opts.AdminAddr != "" {
		cfg.Admin.Addr = opts.AdminAddr
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return WrapExitError(ExitCommandError, "start agent", err)
	}
	defer a.Close()

	return serve(ctx, a)
}

// serve runs the agent until ctx is done.
func serve(ctx context.Context, a *app) error {
	log := logger.Named("agent")

	c := cron.New()
	if _, err := a.metrics.ScheduleDepth(c, a.cfg.Metrics.DepthSchedule, a.queue); err != nil {
		return WrapExitError(ExitCommandError, "schedule depth metrics", err)
	}
	if a.cfg.Sync.Schedule != "" {
		if _, err := c.AddFunc(a.cfg.Sync.Schedule, func() { a.scheduledRun(ctx) }); err != nil {
			return WrapExitError(ExitCommandError, "schedule sync runs", err)
		}
	}
	c.Start()
	defer func() { <-c.Stop().Done() }()

	monitor := connectivity.NewMonitor(a.flag, a.processor)
	monitor.Start(ctx)
	defer monitor.Stop()

	probe := connectivity.NewProbe(a.remote, a.flag, a.cfg.Connectivity.ProbeInterval, a.cfg.Connectivity.ProbeTimeout)
	go probe.Run(ctx)

	var srv *http.Server
	errCh := make(chan error, 1)
	if a.cfg.Admin.Addr != "" {
		if a.cfg.Admin.APIKey == "" {
			log.Warn().Msg("Admin API key not set. Authentication disabled.")
		}
		srv = &http.Server{
			Addr: a.cfg.Admin.Addr,
			Handler: admin.NewRouter(admin.Deps{
				Queue:    a.queue,
				Syncer:   a.processor,
				Signal:   a.flag,
				Gatherer: a.gatherer,
				Entities: a.adminEntities(),
				APIKey:   a.cfg.Admin.APIKey,
			}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			log.Info().Str("addr", srv.Addr).Msg("Admin API listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()
	}

	log.Info().
		Str("remote", a.remote.BaseURL()).
		Int("queued", a.queue.Len()).
		Msg("Agent started. Waiting for connectivity...")

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return WrapExitError(ExitCommandError, "admin API", err)
	}

	log.Info().Msg("Shutting down agent...")
	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Admin API shutdown failed")
		}
	}
	return nil
}

func (a *app) adminEntities() map[string]admin.EntityStore {
	out := make(map[string]admin.EntityStore, len(a.entities))
	for domain, es := range a.entities {
		out[domain] = es
	}
	return out
}

// scheduledRun drains the queue if the remote is reachable. Overlapping
// triggers are dropped by the processor.
func (a *app) scheduledRun(ctx context.Context) {
	if !a.flag.Online() {
		return
	}
	if _, err := a.processor.ProcessQueue(ctx); err != nil && !errors.Is(err, syncer.ErrRunInProgress) {
		logger.Log.Error().Err(err).Msg("Scheduled sync run failed")
	}
}

// Package pulseservice assembles and runs the pulse service: mirror,
// sync engine, plan store, scheduler and the HTTP read API.
package pulseservice

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/projectpulse/projectpulse/internal/api"
	"github.com/projectpulse/projectpulse/internal/cache"
	"github.com/projectpulse/projectpulse/internal/config"
	"github.com/projectpulse/projectpulse/internal/health"
	"github.com/projectpulse/projectpulse/internal/jobs"
	"github.com/projectpulse/projectpulse/internal/mirror"
	"github.com/projectpulse/projectpulse/internal/notify"
	"github.com/projectpulse/projectpulse/internal/plans"
	"github.com/projectpulse/projectpulse/internal/platform/logger"
	"github.com/projectpulse/projectpulse/internal/reports"
	"github.com/projectpulse/projectpulse/internal/scheduler"
	"github.com/projectpulse/projectpulse/internal/source"
	"github.com/projectpulse/projectpulse/internal/syncer"
)

// Run starts the pulse service and blocks until shutdown or error.
func Run() error {
	log := logger.New("pulse-service")

	cfg, err := config.New()
	if err != nil {
		log.Error().Err(err).Msg("Failed to load configuration")
		return err
	}

	log.Info().
		Str("environment", string(cfg.Environment)).
		Int("http_port", cfg.HTTPPort).
		Str("mirror_path", cfg.MirrorPath).
		Str("sheet_url", cfg.SheetURL).
		Str("timezone", cfg.Timezone).
		Msg("Pulse service starting")

	ctx, stop := newServerContext()
	defer stop()

	deps, err := initDependencies(cfg, log)
	if err != nil {
		return err
	}
	defer deps.close(log)

	// Background loops: sync engines and scheduler
	go deps.engine.Start(ctx, time.Duration(cfg.SyncIntervalSeconds)*time.Second)
	if deps.works != nil {
		go deps.works.Start(ctx, time.Duration(cfg.SyncIntervalSeconds)*time.Second)
	}
	sched, err := buildScheduler(cfg, deps, log)
	if err != nil {
		log.Error().Err(err).Msg("Failed to build scheduler")
		return err
	}
	go sched.Start(ctx)

	svcHealth := startHealthCheckers(ctx, cfg, log, deps)

	router := api.NewHandlers(deps.reports, deps.plans, svcHealth.IsHealthy, log).NewRouter()
	server := newHTTPServer(ctx, cfg, router)
	errCh := serveHTTP(server, log, cfg)

	select {
	case <-ctx.Done():
		log.Info().Msg("Shutting down server")
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(ctxShutdown); err != nil {
			log.Error().Err(err).Msg("Server forced to shutdown")
			return err
		}
		log.Info().Msg("Server exited")
		return nil
	case err := <-errCh:
		log.Error().Err(err).Msg("HTTP server failed")
		return err
	}
}

// dependencies holds the assembled service components.
type dependencies struct {
	store   *mirror.Store
	cache   *cache.Cache
	engine  *syncer.Engine
	works   *syncer.Works // nil when no works sheet is configured
	plans   *plans.Store
	reports *reports.Service
	jobs    *jobs.Digests
	sweep   *jobs.Reminder
}

func (d *dependencies) close(log zerolog.Logger) {
	if err := d.plans.Close(); err != nil {
		log.Error().Err(err).Msg("plan store close failed")
	}
	if err := d.store.Close(); err != nil {
		log.Error().Err(err).Msg("mirror close failed")
	}
}

// initDependencies constructs the component graph bottom-up and fails
// fast on anything unusable.
func initDependencies(cfg *config.Config, log zerolog.Logger) (*dependencies, error) {
	db, err := mirror.Open(cfg.MirrorPath)
	if err != nil {
		log.Error().Err(err).Msg("Mirror database unavailable")
		return nil, err
	}
	store, err := mirror.NewStore(db, cfg.PoolSize, log)
	if err != nil {
		log.Error().Err(err).Msg("Mirror schema setup failed")
		return nil, err
	}

	c := cache.New()
	fetchTimeout := time.Duration(cfg.FetchTimeoutSeconds) * time.Second
	fetcher := source.NewSheetsClient(cfg.SheetURL, fetchTimeout)
	engine := syncer.New(fetcher, store, c, log)

	var works *syncer.Works
	if cfg.WorksSheetURL != "" {
		worksFetcher := source.NewSheetsClient(cfg.WorksSheetURL, fetchTimeout)
		works = syncer.NewWorks(worksFetcher, store, c, nil, log)
	} else {
		log.Info().Msg("no works sheet configured, daily works sync disabled")
	}

	admins := make(map[int64]struct{}, len(cfg.AdminIDs))
	for _, id := range cfg.AdminIDs {
		admins[id] = struct{}{}
	}
	privileged := func(id int64) bool {
		_, ok := admins[id]
		return ok
	}
	planStore, err := plans.Load(cfg.PlansPath, privileged, log)
	if err != nil {
		log.Error().Err(err).Msg("Plan store unavailable")
		return nil, err
	}

	rep := reports.New(store, c, reports.Config{
		VolatileTTL:  time.Duration(cfg.CacheTTLSeconds) * time.Second,
		BreakdownTTL: time.Duration(cfg.StatsCacheTTLSeconds) * time.Second,
		PageSize:     cfg.PageSize,
	})

	var notifier notify.Notifier
	if cfg.TelegramToken != "" {
		notifier = notify.NewTelegram(cfg.TelegramToken)
	} else {
		log.Warn().Msg("no notification transport configured, reminders and digests are dropped")
		notifier = notify.Nop{}
	}

	recipients := cfg.DigestRecipients
	if len(recipients) == 0 {
		recipients = cfg.AdminIDs
	}

	return &dependencies{
		store:   store,
		cache:   c,
		engine:  engine,
		works:   works,
		plans:   planStore,
		reports: rep,
		jobs:    jobs.NewDigests(rep, planStore, notifier, recipients, nil, log),
		sweep:   jobs.NewReminder(planStore, notifier, nil, log),
	}, nil
}

// buildScheduler binds the recurring jobs to their firing times.
func buildScheduler(cfg *config.Config, deps *dependencies, log zerolog.Logger) (*scheduler.Scheduler, error) {
	sched := scheduler.New(cfg.Location(), time.Duration(cfg.SchedulerTickSeconds)*time.Second, log)
	bindings := []scheduler.Binding{
		{Name: "problem-digest", At: cfg.ProblemDigestAt, Job: deps.jobs.SendProblemDigest},
		{Name: "plan-digest", At: cfg.PlanDigestAt, Job: deps.jobs.SendPlanDigest},
		{Name: "reminder-sweep", Hourly: true, Minute: cfg.ReminderMinute, Job: deps.sweep.Sweep},
	}
	if deps.works != nil {
		bindings = append(bindings, scheduler.Binding{
			Name: "works-digest", At: cfg.WorksDigestAt, Job: deps.jobs.SendWorksDigest,
		})
	}
	for _, b := range bindings {
		if err := sched.Bind(b); err != nil {
			return nil, err
		}
	}
	return sched, nil
}

// startHealthCheckers starts component checkers and the service-level
// aggregator.
func startHealthCheckers(ctx context.Context, cfg *config.Config, log zerolog.Logger, deps *dependencies) *health.ServiceHealthChecker {
	probeTimeout := time.Duration(cfg.HealthProbeTimeoutSeconds) * time.Second
	interval := time.Duration(cfg.HealthIntervalSeconds) * time.Second

	mirrorChecker := health.NewPingChecker("mirror", deps.store, log, probeTimeout)
	go mirrorChecker.Start(ctx, interval)

	plansChecker := health.NewPingChecker("plans", deps.plans, log, probeTimeout)
	go plansChecker.Start(ctx, interval)

	svcHealth := health.NewServiceHealthChecker(log, mirrorChecker, plansChecker)
	go svcHealth.Start(ctx, interval)
	return svcHealth
}

func newHTTPServer(ctx context.Context, cfg *config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.GetHTTPAddr(),
		Handler:           handler,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
}

func serveHTTP(server *http.Server, log zerolog.Logger, cfg *config.Config) <-chan error {
	errCh := make(chan error, 1)
	go func() {
		log.Info().Int("port", cfg.HTTPPort).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	return errCh
}

// RunSyncOnce performs a single sync cycle and exits. Used by the sync
// subcommand for manual refreshes.
func RunSyncOnce() error {
	log := logger.NewConsole("pulse-sync")

	cfg, err := config.New()
	if err != nil {
		return err
	}
	if cfg.SheetURL == "" {
		return fmt.Errorf("PULSE_SHEET_URL is not set")
	}

	db, err := mirror.Open(cfg.MirrorPath)
	if err != nil {
		return err
	}
	store, err := mirror.NewStore(db, cfg.PoolSize, log)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	fetchTimeout := time.Duration(cfg.FetchTimeoutSeconds) * time.Second
	c := cache.New()
	fetcher := source.NewSheetsClient(cfg.SheetURL, fetchTimeout)
	engine := syncer.New(fetcher, store, c, log)

	ctx, stop := newServerContext()
	defer stop()
	if err := engine.RunCycle(ctx); err != nil {
		return err
	}
	if cfg.WorksSheetURL != "" {
		worksFetcher := source.NewSheetsClient(cfg.WorksSheetURL, fetchTimeout)
		return syncer.NewWorks(worksFetcher, store, c, nil, log).RunCycle(ctx)
	}
	return nil
}

// newServerContext returns a context cancelled on SIGINT/SIGTERM.
func newServerContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

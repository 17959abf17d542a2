package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/propsignal/backend/internal/alerts"
	"github.com/propsignal/backend/internal/bus"
	"github.com/propsignal/backend/internal/config"
	"github.com/propsignal/backend/internal/debounce"
	"github.com/propsignal/backend/internal/domain"
	"github.com/propsignal/backend/internal/enrich"
	"github.com/propsignal/backend/internal/gateway"
	"github.com/propsignal/backend/internal/infra"
	"github.com/propsignal/backend/internal/ingest"
	"github.com/propsignal/backend/internal/metrics"
	"github.com/propsignal/backend/internal/rentest"
	"github.com/propsignal/backend/internal/store"
	"github.com/propsignal/backend/internal/store/memory"
	"github.com/propsignal/backend/internal/store/postgres"
	"github.com/propsignal/backend/internal/underwrite"
	"github.com/propsignal/backend/internal/ws"
	"github.com/propsignal/backend/pkg/logger"
)

const (
	exitOK      = 0
	exitStartup = 1
	exitRuntime = 2
)

type stores struct {
	listings    store.ListingStore
	enrichments store.EnrichmentStore
	estimates   store.RentEstimateStore
	results     store.UnderwritingStore
	searches    store.SearchStore
	alerts      store.AlertStore
}

func main() {
	os.Exit(run())
}

func run() int {
	_ = godotenv.Load()

	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		bootLog := logger.New(logger.Config{})
		bootLog.Error().Err(err).Msg("loading configuration")
		return exitStartup
	}
	log := logger.New(logger.Config{Level: cfg.Logging.Level, Pretty: cfg.Logging.Pretty})
	log.Info().Str("env", cfg.Server.Env).Str("port", cfg.Server.Port).Msg("starting propsignal backend")

	m := metrics.New(prometheus.DefaultRegisterer)

	// Infra: Redis when configured, in-memory otherwise.
	var (
		kv     infra.KV
		pubsub infra.PubSub
		checks []gateway.HealthCheck
	)
	if cfg.Redis.Addr != "" {
		redis, err := infra.NewGoRedisAdapter(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, log)
		if err != nil {
			log.Error().Err(err).Msg("redis unreachable, falling back to in-memory KV")
			kv = infra.NewMemoryKV()
		} else {
			kv = redis
			pubsub = redis
			checks = append(checks, gateway.HealthCheck{Name: "redis", Probe: redis.Ping})
		}
	} else {
		kv = infra.NewMemoryKV()
	}

	st, db, err := buildStores(cfg, log)
	if err != nil {
		log.Error().Err(err).Msg("database unreachable at startup")
		return exitStartup
	}
	if db != nil {
		defer db.Close()
		checks = append(checks, gateway.HealthCheck{
			Name:  "postgres",
			Probe: func(ctx context.Context) error { return db.PingContext(ctx) },
		})
	}

	// Bus: distributed when Redis pub/sub is up, local otherwise.
	var eventBus bus.Bus
	if pubsub != nil {
		eventBus = bus.NewRedisBus(pubsub, "propsignal:events:", log, m)
	} else {
		eventBus = bus.NewLocalBus(log, m)
	}

	// Services.
	feed := ingest.NewMockFeed(ingest.SeedItems(time.Now())...)
	ingestor := ingest.New(st.listings, eventBus, feed, cfg.Ingest, log)

	enricher := enrich.New(
		st.listings, st.enrichments, eventBus,
		debounce.New(kv, "debounce:enrich:", cfg.Enrich.DebounceWindow),
		enrich.StaticGeocoder{}, enrich.StaticScores{}, enrich.StaticPriors{},
		log,
	)
	estimator := rentest.New(
		st.listings, st.enrichments, st.estimates, eventBus,
		debounce.New(kv, "debounce:rent:", cfg.Rent.DebounceWindow),
		rentest.StaticComps{}, cfg.Rent, log,
	)

	bins := underwrite.BinsFrom(cfg.Underwrite)
	engine := underwrite.New(
		underwrite.NewBaseInputsLoader(st.listings, st.enrichments, st.estimates, cfg.Underwrite.InsuranceMonthly),
		st.results, eventBus, bins, m, log,
	)

	hub := ws.NewHub(log)
	senders := []alerts.Sender{
		alerts.NewDevBrowserSender(hub),
		alerts.NewLogSender(domain.ChannelEmail, log),
		alerts.NewLogSender(domain.ChannelSMS, log),
	}
	if cfg.Gateway.SlackWebhook != "" {
		senders = append(senders, alerts.NewSlackSender(cfg.Gateway.SlackWebhook, log))
	}
	dispatcher := alerts.NewDispatcher(st.alerts, senders, m, log)
	matcher := alerts.New(
		st.listings, st.results, st.searches, st.alerts, eventBus,
		dispatcher, bins.Reference(), m, log,
	)

	if err := subscribeAll(eventBus, cfg.Bus, enricher, estimator, engine, matcher); err != nil {
		log.Error().Err(err).Msg("wiring subscriptions")
		return exitStartup
	}
	go drainDeadLetters(eventBus, log)

	// Background jobs.
	scheduler := cron.New()
	pollSpec := "@every " + cfg.Ingest.PollInterval.String()
	if _, err := scheduler.AddFunc(pollSpec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Ingest.PollInterval)
		defer cancel()
		if err := ingestor.RunOnce(ctx); err != nil {
			log.Error().Err(err).Msg("poll cycle failed")
		}
	}); err != nil {
		log.Error().Err(err).Msg("scheduling feed poll")
		return exitStartup
	}
	if cfg.Features.RetrySweep {
		sweep := alerts.NewSweep(st.alerts, dispatcher, log)
		if _, err := scheduler.AddFunc("@every 1m", sweep.Run); err != nil {
			log.Error().Err(err).Msg("scheduling retry sweep")
			return exitStartup
		}
	}
	scheduler.Start()

	// Gateway.
	var respCache *gateway.ResponseCache
	if cfg.Gateway.CacheTTL > 0 {
		respCache = gateway.NewResponseCache(kv, cfg.Gateway.CacheTTL, m)
	}
	server := gateway.NewServer(
		st.listings, st.enrichments, st.estimates, st.results, st.searches, st.alerts,
		engine,
		respCache,
		checks, log,
	)
	httpServer := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           gateway.Router(server, hub.HandleConnect, *cfg, m, log),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", httpServer.Addr).Msg("http server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	code := exitOK
	select {
	case sig := <-stop:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errCh:
		log.Error().Err(err).Msg("http server failed")
		code = exitRuntime
	}

	return shutdown(cfg, log, scheduler, httpServer, eventBus, dispatcher, code)
}

func shutdown(
	cfg *config.Config,
	log zerolog.Logger,
	scheduler *cron.Cron,
	httpServer *http.Server,
	eventBus bus.Bus,
	dispatcher *alerts.Dispatcher,
	code int,
) int {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	cronCtx := scheduler.Stop()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("http shutdown incomplete")
		code = exitRuntime
	}
	if err := eventBus.Close(ctx); err != nil {
		log.Warn().Err(err).Msg("bus drain incomplete")
		code = exitRuntime
	}
	dispatcher.Close()
	select {
	case <-cronCtx.Done():
	case <-ctx.Done():
	}

	log.Info().Int("code", code).Msg("shutdown complete")
	return code
}

func buildStores(cfg *config.Config, log zerolog.Logger) (stores, *sql.DB, error) {
	if cfg.Database.DSN == "" {
		log.Warn().Msg("no database configured, using in-memory stores")
		return stores{
			listings:    memory.NewListingStore(),
			enrichments: memory.NewEnrichmentStore(),
			estimates:   memory.NewRentEstimateStore(),
			results:     memory.NewUnderwritingStore(),
			searches:    memory.NewSearchStore(),
			alerts:      memory.NewAlertStore(),
		}, nil, nil
	}

	db, err := postgres.Open(cfg.Database.DSN, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns)
	if err != nil {
		return stores{}, nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := postgres.Migrate(ctx, db); err != nil {
		db.Close()
		return stores{}, nil, err
	}
	return stores{
		listings:    postgres.NewListingStore(db),
		enrichments: postgres.NewEnrichmentStore(db),
		estimates:   postgres.NewRentEstimateStore(db),
		results:     postgres.NewUnderwritingStore(db),
		searches:    postgres.NewSearchStore(db),
		alerts:      postgres.NewAlertStore(db),
	}, db, nil
}

// drainDeadLetters logs events that exhausted their retries so operators can
// replay them. The counter is bumped by the bus when it parks the event.
func drainDeadLetters(b bus.Bus, log zerolog.Logger) {
	for env := range b.DeadLetters() {
		log.Error().
			Str("topic", string(env.Type)).
			Str("event_id", env.ID).
			Str("key", env.Key).
			Msg("event dead-lettered")
	}
}

func subscribeAll(
	b bus.Bus,
	busCfg config.BusConfig,
	enricher *enrich.Service,
	estimator *rentest.Service,
	engine *underwrite.Service,
	matcher *alerts.Service,
) error {
	subs := []bus.Subscription{enricher.Subscription()}
	subs = append(subs, estimator.Subscriptions()...)
	subs = append(subs, engine.Subscriptions()...)
	subs = append(subs, matcher.Subscription())
	for _, sub := range subs {
		sub.Workers = busCfg.Workers
		sub.MaxRetries = busCfg.MaxRetries
		if _, err := b.Subscribe(sub); err != nil {
			return err
		}
	}
	return nil
}

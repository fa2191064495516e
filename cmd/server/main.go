package main

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/example/ride-coordinator/internal/auth"
	"github.com/example/ride-coordinator/internal/config"
	"github.com/example/ride-coordinator/internal/dispatch"
	"github.com/example/ride-coordinator/internal/eta"
	"github.com/example/ride-coordinator/internal/fare"
	"github.com/example/ride-coordinator/internal/geo"
	httpapi "github.com/example/ride-coordinator/internal/http"
	"github.com/example/ride-coordinator/internal/ingest"
	"github.com/example/ride-coordinator/internal/location"
	"github.com/example/ride-coordinator/internal/logging"
	"github.com/example/ride-coordinator/internal/payments"
	"github.com/example/ride-coordinator/internal/session"
	"github.com/example/ride-coordinator/internal/storage"
	"github.com/example/ride-coordinator/internal/trigger"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("reading .env failed", "error", err)
	}
	cfg, err := config.LoadServerConfig()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger := logging.NewLogger("ride-server", cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.ServerConfig, logger *slog.Logger) error {
	engine := &fare.Engine{BaseFare: cfg.FareBase, PerKmRate: cfg.FarePerKm, AvgSpeedKmh: cfg.AvgSpeedKmh}
	sessions := session.NewRegistry(engine, logger)
	if cfg.SessionIdleTTL > 0 {
		go sessions.Janitor(ctx, cfg.SessionIdleTTL/4, cfg.SessionIdleTTL)
	}

	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer rdb.Close()
	}

	resolver, err := buildResolver(cfg, rdb, logger)
	if err != nil {
		return err
	}

	// persistence
	var store storage.RideStore = storage.NewMemoryStore()
	if cfg.PGDSN != "" {
		pg, err := storage.NewPostgresStore(ctx, cfg.PGDSN)
		if err != nil {
			return err
		}
		defer pg.Close()
		if cfg.RunMigrations {
			if err := pg.Migrate(ctx); err != nil {
				return err
			}
			logger.Info("migrations applied")
		}
		store = pg
	}
	sessions.Subscribe(storage.NewRecorder(store, logger))

	// firebase backs both token verification and push
	authn := &auth.Authenticator{}
	devices := dispatch.NewDeviceTokens()
	ws := dispatch.NewWSRegistry()
	fanout := dispatch.NewFanout(logger).Add("websocket", ws)
	if cfg.WebhookURL != "" {
		fanout.Add("webhook", dispatch.NewWebhookNotifier(cfg.WebhookURL))
	}
	if cfg.FirebaseProject != "" {
		app, err := auth.NewFirebaseApp(ctx, cfg.FirebaseProject, cfg.FirebaseCreds)
		if err != nil {
			return err
		}
		verifier, err := auth.NewFirebaseVerifier(ctx, app)
		if err != nil {
			return err
		}
		authn.Verifier = verifier
		fcm, err := dispatch.NewFCMNotifier(ctx, app, devices)
		if err != nil {
			return err
		}
		fanout.Add("fcm", fcm)
	}
	sessions.Subscribe(fanout)

	if cfg.StripeAPIKey != "" {
		settler := payments.NewSettler(payments.NewStripeClient(cfg.StripeAPIKey, cfg.StripeCurrency), logger)
		go settler.Run(ctx)
		defer settler.Close()
		sessions.Subscribe(settler)
	}

	if cfg.Simulate {
		sim := trigger.NewSimulator(sessions, trigger.Delays{
			Depart:     cfg.SimDepartDelay,
			Arrive:     cfg.SimArriveDelay,
			Start:      cfg.SimStartDelay,
			End:        cfg.SimEndDelay,
			EtaMinutes: cfg.SimEtaMinutes,
		}, logger)
		defer sim.Stop()
		sessions.Subscribe(sim)
	}

	if len(cfg.KafkaBrokers) > 0 {
		pub := ingest.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaRideTopic, logger)
		defer pub.Close()
		sessions.Subscribe(pub)

		est := &eta.Estimator{Cache: eta.NewCache(cfg.ETACacheTTL), AvgSpeedKmh: cfg.AvgSpeedKmh, Logger: logger}
		if cfg.OSRMEndpoint != "" {
			est.Client = eta.NewOSRMClient(cfg.OSRMEndpoint)
		}
		src := trigger.NewKafkaSource(cfg.KafkaBrokers, cfg.KafkaDriverTopic, cfg.KafkaGroup, sessions, est, logger)
		defer src.Close()
		go func() {
			if err := src.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("driver event source stopped", "error", err)
			}
		}()
	}

	api := httpapi.NewServer(httpapi.Deps{
		Sessions:    sessions,
		Fare:        engine,
		Resolver:    resolver,
		Auth:        authn,
		WS:          ws,
		Devices:     devices,
		History:     store,
		CORSOrigins: cfg.CORSOrigins,
	}, logger)

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      api,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	servers := []*http.Server{srv}
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		servers = append(servers, &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadTimeout: cfg.ReadTimeout})
	}

	errCh := make(chan error, len(servers))
	for _, s := range servers {
		go func(s *http.Server) {
			logger.Info("listening", "addr", s.Addr)
			if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}(s)
	}

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	logger.Info("shutting down", "active_rides", sessions.ActiveRides())
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	var errs []error
	for _, s := range servers {
		errs = append(errs, s.Shutdown(shutdownCtx))
	}
	return errors.Join(errs...)
}

// buildResolver prefers Google geocoding, cached in Redis when available,
// and falls back to a small built-in table for local runs.
func buildResolver(cfg config.ServerConfig, rdb *redis.Client, logger *slog.Logger) (location.Resolver, error) {
	if cfg.GoogleMapsKey == "" {
		logger.Info("no GOOGLE_MAPS_API_KEY; using built-in places")
		return location.NewStaticResolver(map[string]geo.Coordinate{
			"Lagos Island":             {Lat: 6.5244, Lon: 3.3792},
			"Lekki":                    {Lat: 6.4500, Lon: 3.4000},
			"Ikeja":                    {Lat: 6.6018, Lon: 3.3515},
			"Victoria Island":          {Lat: 6.4281, Lon: 3.4219},
			"Murtala Muhammed Airport": {Lat: 6.5774, Lon: 3.3212},
		}), nil
	}
	g, err := location.NewGoogleResolver(cfg.GoogleMapsKey)
	if err != nil {
		return nil, err
	}
	if rdb == nil {
		return g, nil
	}
	return location.NewCachedResolver(g, location.NewRedisKV(rdb), cfg.ResolveCacheTTL, logger), nil
}

// jobmate-scrape-service
//
// Runs LinkedIn job searches on behalf of users as asynchronous scrape jobs.
// Exposes a REST API (and the same operations over gRPC) used by the
// Gateway to implement:
//   - startScrapeJob(params)  → creates a request and runs scrape → filter → enrich
//   - scrapeJob(requestId)    → status snapshot, polled every pollIntervalMs
//   - abortScrapeJob(id)      → cooperative cancellation
//
// Publishes EVENT_SCRAPE_STATUS to Redis on every status change for the
// Gateway SSE forward, and streams the same events on /events.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"jobmate/scrape-service/internal/auth"
	"jobmate/scrape-service/internal/config"
	"jobmate/scrape-service/internal/db"
	"jobmate/scrape-service/internal/enrich"
	"jobmate/scrape-service/internal/events"
	"jobmate/scrape-service/internal/grpcserver"
	"jobmate/scrape-service/internal/httpmw"
	"jobmate/scrape-service/internal/logging"
	"jobmate/scrape-service/internal/provider/apify"
	"jobmate/scrape-service/internal/scrapejob"
	"jobmate/scrape-service/internal/store"
	"jobmate/scrape-service/internal/sweeper"
)

const (
	version         = "1.0.0"
	shutdownTimeout = 30 * time.Second
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "[scrape-service] %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// ── Config ──────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}

	log := logging.New(cfg.LogLevel).With("service", "scrape-service")
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Store ────────────────────────────────────────────────────────────────
	st, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	// ── Events ───────────────────────────────────────────────────────────────
	hub := events.NewHub()
	pub := events.Multi{hub}
	if cfg.RedisURL != "" {
		log.Info("connecting to Redis")
		rdb, err := db.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		defer rdb.Close()
		pub = append(pub, events.NewRedisPublisher(rdb))
		log.Info("Redis connected")
	}

	// ── Orchestrator ─────────────────────────────────────────────────────────
	scraper, err := apify.New(apify.Config{
		Token:             cfg.ApifyToken,
		ActorID:           cfg.ApifyActorID,
		BaseURL:           cfg.ApifyBaseURL,
		PollInterval:      cfg.ApifyPollInterval,
		RequestsPerSecond: cfg.ApifyRPS,
	})
	if err != nil {
		return err
	}

	svc, err := scrapejob.NewService(st, scraper, enrich.New(log),
		scrapejob.WithPublisher(pub),
		scrapejob.WithLogger(log),
		scrapejob.WithStageTimeout(cfg.StageTimeout),
		scrapejob.WithLimits(scrapejob.Limits{DefaultJobCount: cfg.DefaultJobCount, MaxJobCount: cfg.MaxJobCount}),
		scrapejob.WithFreeVisibleJobs(cfg.FreeVisibleJobs),
	)
	if err != nil {
		return err
	}

	sw := sweeper.New(svc, log, cfg.SweepSpec, cfg.StaleAfter)
	if err := sw.Start(ctx); err != nil {
		return err
	}

	authn := auth.New(cfg.JWTSecret)
	if authn.TrustsHeader() {
		log.Warn("JWT_SECRET not set; trusting the x-user-id header")
	}

	// ── HTTP server ──────────────────────────────────────────────────────────
	api := http.NewServeMux()
	scrapejob.NewHandler(svc, hub, log).RegisterRoutes(api)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", healthHandler)
	mux.Handle("/api/", authn.Middleware(api))

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           httpmw.Chain(mux, httpmw.RequestID, httpmw.AccessLog(log), httpmw.Recover(log)),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		// No WriteTimeout: /events streams stay open until the job ends.
	}

	// ── gRPC server ──────────────────────────────────────────────────────────
	gs := grpc.NewServer(grpc.ChainUnaryInterceptor(grpcserver.UnaryLogger(log.With("component", "grpc"))))
	grpcserver.Register(gs, grpcserver.NewServer(svc, authn))
	hs := health.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	hs.SetServingStatus(grpcserver.ServiceName, healthpb.HealthCheckResponse_SERVING)

	lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("HTTP listening", "port", cfg.Port, "version", version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		log.Info("gRPC listening", "port", cfg.GRPCPort)
		if err := gs.Serve(lis); err != nil {
			return fmt.Errorf("grpc server: %w", err)
		}
		return nil
	})

	// ── Graceful shutdown ────────────────────────────────────────────────────
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		hs.Shutdown()
		sw.Stop()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn("http shutdown", "err", err)
		}
		gs.GracefulStop()
		if err := svc.Close(shutdownCtx); err != nil {
			log.Warn("scrape jobs still running at shutdown", "err", err)
		}
		return nil
	})

	err = g.Wait()
	log.Info("stopped")
	return err
}

// openStore connects the configured store driver and returns a close func.
func openStore(ctx context.Context, cfg *config.Config, log *logging.Logger) (scrapejob.Store, func(), error) {
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		log.Info("connecting to PostgreSQL")
		pool, err := db.NewPostgresPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres: %w", err)
		}
		pg := store.NewPostgres(pool)
		if err := pg.Migrate(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		log.Info("PostgreSQL connected")
		return pg, pool.Close, nil

	case config.DriverSQLite:
		sqlDB, err := db.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("sqlite: %w", err)
		}
		lite := store.NewSQLite(sqlDB)
		if err := lite.Migrate(ctx); err != nil {
			sqlDB.Close()
			return nil, nil, err
		}
		log.Info("SQLite opened", "path", cfg.SQLitePath)
		return lite, func() { sqlDB.Close() }, nil
	}

	log.Warn("using in-memory store; requests are lost on restart")
	return store.NewMemory(), func() {}, nil
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "ok",
		"service": "scrape-service",
		"version": version,
	})
}

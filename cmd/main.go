// cmd/main.go is the application entry point.
// It wires together all layers and starts the HTTP server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Shivanand-hulikatti/race-admission/internal/admission"
	"github.com/Shivanand-hulikatti/race-admission/internal/config"
	"github.com/Shivanand-hulikatti/race-admission/internal/database"
	"github.com/Shivanand-hulikatti/race-admission/internal/dispatch"
	"github.com/Shivanand-hulikatti/race-admission/internal/gate"
	"github.com/Shivanand-hulikatti/race-admission/internal/handler"
	"github.com/Shivanand-hulikatti/race-admission/internal/logger"
	"github.com/Shivanand-hulikatti/race-admission/internal/pricing"
	"github.com/Shivanand-hulikatti/race-admission/internal/repository"
	"github.com/Shivanand-hulikatti/race-admission/internal/service"
	"github.com/Shivanand-hulikatti/race-admission/internal/sl"
)

func main() {
	configPath := flag.String("conf", "", "path to config file; empty reads the environment only")
	flag.Parse()

	var (
		conf *config.Config
		err  error
	)
	if *configPath != "" {
		conf, err = config.Load(*configPath)
	} else {
		conf, err = config.LoadEnv()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log, logCloser, err := logger.Setup(conf.Env, conf.LogPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logCloser.Close()

	if err := run(conf, log); err != nil {
		log.Error("service stopped", sl.Err(err))
		os.Exit(1)
	}
}

func run(conf *config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("starting race-admission", slog.String("env", conf.Env), slog.String("gate", conf.Gate.Backend))

	// ── 1. Connect to PostgreSQL ──────────────────────────────────────────
	pool, err := database.NewPool(ctx, conf.Postgres, log)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer pool.Close()
	if err := database.Migrate(ctx, pool); err != nil {
		return err
	}
	log.Info("connected to postgres", slog.String("db", conf.Postgres.DBName))

	// ── 2. Admission gate ────────────────────────────────────────────────
	g, closeGate, err := newGate(ctx, conf, log)
	if err != nil {
		return fmt.Errorf("gate: %w", err)
	}
	defer closeGate()

	// ── 3. Wire up layers ────────────────────────────────────────────────
	format, err := pricing.NewFormatter(conf.Currency.Local, conf.Currency.Secondary, conf.Currency.Locale)
	if err != nil {
		return fmt.Errorf("currency: %w", err)
	}

	distanceRepo := repository.NewDistanceRepository(pool)
	regRepo := repository.NewRegistrationRepository(pool)
	memberRepo := repository.NewMembershipRepository(pool)

	dispatcher := dispatch.New(regRepo, dispatch.NewLogMailer(format, log), dispatch.NewLogNotifier(log), log)
	engine := admission.New(g, distanceRepo, regRepo, log, admission.WithDispatcher(dispatcher))
	svc := service.NewRegistrationService(distanceRepo, regRepo, memberRepo, engine, format, log)
	router := handler.NewRouter(handler.NewRegistrationHandler(svc, log), log)

	// ── 4. Start server with graceful shutdown ────────────────────────────
	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", conf.Listen.BindIP, conf.Listen.Port),
		Handler:      router,
		ErrorLog:     slog.NewLogLogger(log.Handler(), slog.LevelError),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("server listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server: %w", err)
		}
	case <-ctx.Done():
	}

	log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	dispatcher.Wait()
	log.Info("server stopped")
	return nil
}

// newGate builds the admission gate selected by conf.Gate.Backend.
func newGate(ctx context.Context, conf *config.Config, log *slog.Logger) (gate.Gate, func(), error) {
	switch conf.Gate.Backend {
	case config.GatePostgres:
		// Holders pin a connection each; keeping them off the repository
		// pool leaves it free for their own queries.
		gateConf := conf.Postgres
		gateConf.MaxConns = conf.Gate.PoolSize
		gateConf.MinConns = 0
		gatePool, err := database.NewPool(ctx, gateConf, log)
		if err != nil {
			return nil, nil, fmt.Errorf("gate pool: %w", err)
		}
		g := gate.NewPostgres(gatePool, gate.PostgresConfig{
			Timeout:       conf.Gate.Timeout,
			RetryInterval: conf.Gate.RetryInterval,
		}, log)
		return g, gatePool.Close, nil
	case config.GateRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     conf.Redis.Addr,
			Password: conf.Redis.Password,
			DB:       conf.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("redis ping: %w", err)
		}
		g := gate.NewRedis(client, gate.RedisConfig{
			Prefix:        "race-admission:gate:",
			LeaseTTL:      conf.Gate.LeaseTTL,
			RetryInterval: conf.Gate.RetryInterval,
			Timeout:       conf.Gate.Timeout,
		}, log)
		return g, func() { _ = client.Close() }, nil
	default:
		return gate.NewMemory(gate.WithTimeout(conf.Gate.Timeout)), func() {}, nil
	}
}

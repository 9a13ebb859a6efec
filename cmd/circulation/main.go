// cmd/circulation/main.go
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"libracirc/internal/circulation"
	"libracirc/internal/clients"
	"libracirc/internal/config"
	"libracirc/internal/duedate"
	"libracirc/internal/events"
	"libracirc/internal/eventstore"
	"libracirc/internal/logger"
	"libracirc/internal/requests"
	"libracirc/internal/telemetry"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "circulation:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("LOG_LEVEL: %w", err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, "circulation", cfg.OTLPEndpoint)
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			log.Warn("tracer shutdown failed", zap.Error(err))
		}
	}()

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	es := eventstore.New(db)
	if err := es.Migrate(ctx); err != nil {
		return err
	}
	loans := circulation.NewPostgresLoanStore(db)
	if err := loans.Migrate(ctx); err != nil {
		return err
	}

	opts := clients.Options{
		Timeout:    cfg.ClientTimeout,
		MaxRetries: cfg.ClientMaxRetries,
		RateLimit:  cfg.ClientRateLimit,
		Logger:     log,
	}
	policyClient := clients.NewPolicyClient(cfg.PolicyServiceURL, opts)
	calendarClient := clients.NewCalendarClient(cfg.CalendarServiceURL, cfg.Location, opts)
	inventoryClient := clients.NewInventoryClient(cfg.InventoryServiceURL, opts)
	requestClient := clients.NewRequestClient(cfg.RequestServiceURL, opts)

	calculator := duedate.NewCalculator(policyClient, calendarClient, duedate.Config{
		DefaultClosedLibraryStrategy: cfg.DefaultClosedLibraryStrategy,
		SearchDays:                   cfg.CalendarSearchDays,
		Location:                     cfg.Location,
	}, log)

	placer := requests.NewPlacer(requestClient, log)
	requestService := requests.NewService(inventoryClient, inventoryClient, requests.NewRanker(inventoryClient, log), placer, log)

	var producer events.Producer = events.NewLogProducer(log)
	if len(cfg.KafkaBrokers) > 0 {
		producer = events.NewKafkaProducer(cfg.KafkaBrokers)
	}
	publisher := events.NewPublisher(producer, cfg.KafkaTopic, log)
	defer publisher.Close()

	svc := circulation.NewService(calculator, es, loans, requestService, publisher, log)
	handler := circulation.NewHandler(svc, log)

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(30 * time.Second))
	router.Handle("/metrics", promhttp.Handler())
	handler.Routes(router)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 40 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting circulation service", zap.String("port", cfg.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down circulation service")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MuteaJohn/Donation/internal/config"
	"github.com/MuteaJohn/Donation/internal/db"
	"github.com/MuteaJohn/Donation/internal/handlers"
	"github.com/MuteaJohn/Donation/internal/metrics"
	"github.com/MuteaJohn/Donation/internal/services"
	"github.com/MuteaJohn/Donation/internal/store"
)

const shutdownTimeout = 15 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	if err := config.LoadDotEnv(); err != nil {
		logger.Warn("no .env file loaded", slog.String("error", err.Error()))
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.Log.Level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server stopped with error", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("server stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	transactions := store.NewMemoryStore()
	mpesa := services.NewMpesaService(cfg.Mpesa, logger)

	opts := []services.PaymentOption{services.WithGatewayTimeout(cfg.Mpesa.Timeout)}

	if cfg.Mongo.URI != "" {
		client, err := db.Connect(ctx, cfg.Mongo.URI)
		if err != nil {
			return err
		}
		defer func() {
			dctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := client.Disconnect(dctx); err != nil {
				logger.Warn("error disconnecting from mongodb", slog.String("error", err.Error()))
			}
		}()

		journal := services.NewMongoCallbackJournal(client.Database(cfg.Mongo.Database))
		if err := journal.EnsureIndexes(ctx); err != nil {
			logger.Warn("could not create callback journal indexes", slog.String("error", err.Error()))
		}
		opts = append(opts, services.WithCallbackJournal(journal))
		logger.Info("callback journal enabled", slog.String("database", cfg.Mongo.Database))
	}

	if len(cfg.Kafka.Brokers) > 0 {
		publisher := services.NewKafkaEventPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		defer func() {
			if err := publisher.Close(); err != nil {
				logger.Warn("error closing kafka writer", slog.String("error", err.Error()))
			}
		}()
		opts = append(opts, services.WithEventPublisher(publisher))
		logger.Info("event publishing enabled", slog.String("topic", cfg.Kafka.Topic))
	}

	paymentService := services.NewPaymentService(transactions, mpesa, mpesa, logger, opts...)
	paymentHandler := handlers.NewPaymentHandler(paymentService, logger)

	prometheus.MustRegister(metrics.NewStoreCollector(transactions))

	router := mux.NewRouter()
	router.Use(metrics.Middleware)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	paymentHandler.RegisterRoutes(router)

	server := &http.Server{
		Addr:         "0.0.0.0:" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 2*cfg.Mpesa.Timeout + 5*time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server running", slog.String("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(sctx)
	})

	return g.Wait()
}

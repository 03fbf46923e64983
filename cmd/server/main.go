package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rl1809/keydrop/internal/adapter/events"
	"github.com/rl1809/keydrop/internal/adapter/handler"
	"github.com/rl1809/keydrop/internal/adapter/payment"
	"github.com/rl1809/keydrop/internal/adapter/secret"
	"github.com/rl1809/keydrop/internal/adapter/storage"
	"github.com/rl1809/keydrop/internal/config"
	"github.com/rl1809/keydrop/internal/core/domain"
	"github.com/rl1809/keydrop/internal/core/service"
	"github.com/rl1809/keydrop/internal/logger"
	"github.com/rl1809/keydrop/internal/metrics"
	"github.com/rl1809/keydrop/internal/port"
	"github.com/rl1809/keydrop/internal/telemetry"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		config.Exitf("invalid configuration: %v", err)
	}

	log, err := logger.New(cfg.ServiceName, cfg.LogLevel)
	if err != nil {
		config.Exitf("failed to build logger: %v", err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal("server failed", zap.Error(err))
	}
	log.Info("server stopped")
}

func run(ctx context.Context, cfg config.Config, log *zap.Logger) error {
	shutdownTracing, err := telemetry.Setup(ctx, cfg.ServiceName, cfg.OTelEndpoint)
	if err != nil {
		return err
	}
	defer shutdownTracing(context.Background())

	// A bad key must stop the process before any item can be written with it.
	sealer, err := secret.NewAESGCMSealer([]byte(cfg.EncryptionKey))
	if err != nil {
		return err
	}

	store, err := storage.Open(ctx, cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		return err
	}
	defer store.Close()
	log.Info("connected to database", zap.String("driver", cfg.DBDriver))

	var cache port.CacheRepository
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, PoolSize: 100})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return err
		}
		defer rdb.Close()
		cache = storage.NewRedisAdapter(rdb)
		log.Info("connected to redis", zap.String("addr", cfg.RedisAddr))
	}

	var sink port.EventPublisher = events.NewLogPublisher(log)
	var broker handler.BrokerStatus
	if cfg.RabbitMQURL != "" {
		publisher, err := events.NewPublisher(cfg.RabbitMQURL, log)
		if err != nil {
			return err
		}
		defer publisher.Close()
		sink = publisher
		broker = publisher
	}

	m := metrics.New()
	dispatcher := service.NewDispatcher(sink, cfg.EventQueueSize, log, m)
	dispatcher.Start(cfg.EventWorkers)
	defer dispatcher.Close()

	payments := payment.NewRegistry(
		payment.NewCardGateway(cfg.PaymentGatewayURL, cfg.PaymentGatewayKey, &http.Client{Timeout: cfg.PaymentTimeout}),
	)

	orderCfg := service.OrderConfig{
		Currency: cfg.Currency,
		Pricer:   domain.Pricer{TaxRateBps: cfg.TaxRateBps, ToleranceBps: cfg.PriceToleranceBps},
		Retry: service.RetryPolicy{
			MaxAttempts: cfg.AllocationMaxAttempts,
			Backoff:     cfg.AllocationBackoff,
			MaxBackoff:  service.DefaultRetryPolicy().MaxBackoff,
		},
		PaymentTimeout: cfg.PaymentTimeout,
		CommitTimeout:  cfg.CommitTimeout,
	}

	orders := service.NewOrderService(store, cache, payments, dispatcher, orderCfg, log, m)
	fulfillment := service.NewFulfillmentService(store, sealer, log, m)
	inventory := service.NewInventoryService(store, cache, sealer, dispatcher, cfg.Currency, log, m)

	if _, err := inventory.SyncCache(ctx); err != nil {
		return err
	}

	health := handler.NewHealth(store.DB(), broker)
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler.NewServer(orders, fulfillment, inventory, health, m, log).Engine(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	grpcServer := handler.NewGRPCServer(handler.NewGRPCHandler(orders, fulfillment, inventory, log), health, log)

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("HTTP server listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		log.Info("gRPC server listening", zap.String("addr", cfg.GRPCAddr))
		return grpcServer.Serve(lis)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP shutdown failed", zap.Error(err))
		}
		grpcServer.GracefulStop()
		return nil
	})
	return g.Wait()
}

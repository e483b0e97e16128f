package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/ovos-raposo/checkout-service/internal/clients"
	"github.com/ovos-raposo/checkout-service/internal/config"
	"github.com/ovos-raposo/checkout-service/internal/events"
	"github.com/ovos-raposo/checkout-service/internal/handlers"
	"github.com/ovos-raposo/checkout-service/internal/logging"
	"github.com/ovos-raposo/checkout-service/internal/repository"
	"github.com/ovos-raposo/checkout-service/internal/saga"
	"github.com/ovos-raposo/checkout-service/internal/sagalog/sqlite"
	"github.com/ovos-raposo/checkout-service/internal/server"
	"github.com/ovos-raposo/checkout-service/internal/service"

	_ "github.com/lib/pq"
)

type stores struct {
	orders repository.OrderRepository
	access repository.AccessRepository
	db     *sql.DB
}

func main() {
	cfg := config.Load()
	logging.SetLevel(cfg.LogLevel)

	logger := logging.New("checkout-service")
	logger.Info("Starting checkout-service", logging.Fields{
		"port":        cfg.Server.Port,
		"environment": cfg.Environment,
		"storage":     cfg.Storage,
	})

	st, err := initStorage(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialise storage", logging.Fields{"error": err.Error()})
	}
	if st.db != nil {
		defer st.db.Close()
	}

	checks := map[string]handlers.ReadinessCheck{}
	if st.db != nil {
		checks["postgres"] = st.db.PingContext
	}

	var cache repository.OrderCache
	var limiter handlers.RateLimiter
	if cfg.Features.EnableOrderCaching {
		rdb := repository.NewRedisClient(cfg.Redis)
		defer rdb.Close()
		cache = repository.NewRedisOrderCache(rdb, cfg.Redis.TTL, logger)
		limiter = repository.NewRedisRateLimiter(rdb, handlers.ListingRateLimit, handlers.ListingRateWindow)
		checks["redis"] = func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}
	}

	var publisher service.EventPublisher
	var consumer *events.KafkaConsumer
	if cfg.Features.EnableOrderEvents {
		kp := events.NewKafkaPublisher(cfg.Kafka, logger)
		defer kp.Close()
		publisher = kp

		if cache != nil {
			consumer = events.NewKafkaConsumer(cfg.Kafka, cache, logger)
		}
	}

	if err := os.MkdirAll(filepath.Dir(cfg.SagaLog.Path), 0o755); err != nil {
		logger.Fatal("Failed to create saga log directory", logging.Fields{"error": err.Error()})
	}
	sagaLog, err := sqlite.Open(cfg.SagaLog.Path)
	if err != nil {
		logger.Fatal("Failed to open saga log", logging.Fields{
			"path":  cfg.SagaLog.Path,
			"error": err.Error(),
		})
	}
	defer sagaLog.Close()

	mercadoPago := clients.NewMercadoPagoClient(cfg.MercadoPago, logger)
	notifier := clients.NewTaskNotifier(cfg.Tasks, logger)
	clickUp := clients.NewClickUpClient(cfg.Tasks, logger)

	reconciler := service.NewReconciler(st.orders, mercadoPago, cache, publisher, notifier, logger)
	sagas := saga.NewOrchestrator(sagaLog, logger)
	recovery := service.NewRecovery(sagaLog, sagas, st.orders, reconciler, logger)

	h := handlers.NewHandlers(handlers.Services{
		Orders:     service.NewOrderService(st.orders, st.access, cache, publisher, notifier, logger),
		Payments:   service.NewPaymentService(st.orders, mercadoPago, sagas, cache, publisher, notifier, cfg.MercadoPago, logger),
		Reconciler: reconciler,
		Recovery:   recovery,
		WhatsApp:   service.NewWhatsAppService(cfg.WhatsApp.WebhookSecret, st.orders, st.access, logger),
		Tasks:      service.NewTaskService(clickUp, logger),
		Limiter:    limiter,
	}, cfg, logger)
	for name, check := range checks {
		h.AddReadinessCheck(name, check)
	}

	if cfg.Features.RecoverOnStart {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		report, err := recovery.Run(ctx)
		cancel()
		if err != nil {
			logger.Error("Saga recovery failed", logging.Fields{"error": err.Error()})
		} else {
			logger.Info("Saga recovery finished", logging.Fields{
				"examined":   report.Examined,
				"reconciled": report.Reconciled,
				"reverted":   report.Reverted,
				"orphaned":   report.Orphaned,
				"skipped":    report.Skipped,
				"failed":     report.Failed,
			})
		}
	}

	srv := server.New(h, cfg, logger)

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed to start", logging.Fields{"error": err.Error()})
		}
	}()

	if consumer != nil {
		go func() {
			if err := consumer.Start(context.Background()); err != nil {
				logger.Error("Event consumer failed", logging.Fields{"error": err.Error()})
			}
		}()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if consumer != nil {
		consumer.Stop()
	}

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", logging.Fields{"error": err.Error()})
	}

	logger.Info("Server exited")
}

func initStorage(cfg *config.Config, logger *logging.Logger) (*stores, error) {
	switch cfg.Storage {
	case "memory":
		logger.Warn("Using in-memory storage; orders are lost on restart")
		orders := repository.NewMemoryOrderRepository()
		return &stores{orders: orders, access: repository.NewMemoryAccessRepository(orders)}, nil
	case "postgres", "":
		db, err := initDatabase(cfg, logger)
		if err != nil {
			return nil, err
		}
		return &stores{
			orders: repository.NewPostgresOrderRepository(db, logger),
			access: repository.NewPostgresAccessRepository(db),
			db:     db,
		}, nil
	default:
		return nil, fmt.Errorf("unknown storage %q", cfg.Storage)
	}
}

func initDatabase(cfg *config.Config, logger *logging.Logger) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.Database.ConnectionString())
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.MaxLifetime)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	if cfg.Database.AutoMigrate {
		if err := repository.Migrate(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}

	logger.Info("Database connected", logging.Fields{
		"host": cfg.Database.Host,
		"name": cfg.Database.Name,
	})
	return db, nil
}

package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"access-reconciler/config"
	"access-reconciler/internal/api"
	"access-reconciler/internal/backend"
	"access-reconciler/internal/broker"
	"access-reconciler/internal/redisclient"
	"access-reconciler/internal/service"
	"access-reconciler/internal/store"
	"access-reconciler/internal/util"
	"access-reconciler/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// feedSource is what both data sources provide
type feedSource interface {
	service.Source
	service.PackageWriter
}

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env, "access-reconciler"); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting access reconciler", zap.String("source", cfg.Source.Mode))

	tp, err := util.InitTracer("access-reconciler", cfg.Observ.JaegerEndpoint)
	if err != nil {
		logger.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Warn("Error shutting down tracer", zap.Error(err))
		}
	}()

	var source feedSource
	switch cfg.Source.Mode {
	case config.SourcePostgres:
		db, err := store.NewStore(cfg.Database.URL)
		if err != nil {
			logger.Fatal("Failed to connect to database", zap.Error(err))
		}
		defer db.Close()
		logger.Info("Database connected")
		source = db
	default:
		source = backend.NewClient(backend.Options{
			BaseURL:     cfg.Source.BackendURL,
			Token:       cfg.Source.APIToken,
			Timeout:     cfg.Source.Timeout(),
			MaxAttempts: cfg.Source.MaxAttempts,
		})
		logger.Info("Using backend REST API", zap.String("url", cfg.Source.BackendURL))
	}

	var (
		cache       service.SnapshotCache
		locker      service.Locker
		dedupe      worker.Deduper
		snapshotPub service.SnapshotPublisher
		packagePub  service.PackagePublisher
	)

	if cfg.Redis.Addr != "" {
		redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.SnapshotTTL())
		if err != nil {
			logger.Warn("Redis unavailable, running without snapshot cache", zap.Error(err))
		} else {
			defer redisClient.Close()
			cache, locker, dedupe = redisClient, redisClient, redisClient
			logger.Info("Redis connected")
		}
	}

	var producer *broker.Producer
	if len(cfg.Kafka.Brokers) > 0 {
		producer = broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicAccessEvents)
		defer producer.Close()
		eventPublisher := broker.NewEventPublisher(producer, cfg.Kafka.InstanceID)
		snapshotPub, packagePub = eventPublisher, eventPublisher
		logger.Info("Kafka producer initialized")
	}

	snapshots := service.NewSnapshotService(source, cache, snapshotPub)
	packages := service.NewPackageService(snapshots, source, packagePub, locker)

	ctx := context.Background()
	if err := snapshots.WarmStart(ctx); err != nil {
		logger.Warn("Warm start failed", zap.Error(err))
	}

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	refreshWorker := worker.NewRefreshWorker(snapshots, cfg.Refresh.Interval())
	packages.SetRefreshTrigger(refreshWorker.Trigger)
	go func() {
		if err := refreshWorker.Start(workerCtx); err != nil && err != context.Canceled {
			logger.Error("Refresh worker error", zap.Error(err))
		}
	}()

	var dataChangeWorker *worker.DataChangeWorker
	if producer != nil {
		consumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicAccessEvents, cfg.Kafka.GroupID())
		dataChangeWorker = worker.NewDataChangeWorker(consumer, dedupe, refreshWorker.Trigger, cfg.Kafka.InstanceID)
		go func() {
			if err := dataChangeWorker.Start(workerCtx); err != nil && err != context.Canceled {
				logger.Error("Data change worker error", zap.Error(err))
			}
		}()
	}

	var subscriber *broker.Subscriber
	if cfg.MQTT.BrokerURL != "" {
		subscriber = broker.NewSubscriber(cfg.MQTT.BrokerURL, cfg.MQTT.ClientID, cfg.MQTT.Topic, func(broker.ReaderNotification) {
			util.DataChangedEventsTotal.WithLabelValues("mqtt").Inc()
			refreshWorker.Trigger()
		})
		if err := subscriber.Start(); err != nil {
			logger.Warn("MQTT subscriber failed to start", zap.Error(err))
		}
	}

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(snapshots, packages, refreshWorker.Trigger)
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Server forced to shutdown", zap.Error(err))
	}

	if subscriber != nil {
		subscriber.Stop()
	}
	workerCancel()
	_ = refreshWorker.Stop()
	if dataChangeWorker != nil {
		_ = dataChangeWorker.Stop()
	}

	logger.Info("Server exited")
}

package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"Thalos_Prime/backend/go/internal/config"
	kafkaadmin "Thalos_Prime/backend/go/internal/database/kafka"
	"Thalos_Prime/backend/go/internal/models"
	"Thalos_Prime/backend/go/internal/task_service/api"
	"Thalos_Prime/backend/go/internal/task_service/consumer"
	"Thalos_Prime/backend/go/internal/task_service/processor"
	"Thalos_Prime/backend/go/internal/task_service/publisher"
	"Thalos_Prime/backend/go/internal/task_service/service"
	"Thalos_Prime/backend/go/internal/task_service/store"
	"Thalos_Prime/backend/go/pkg/circuitbreaker"
	"Thalos_Prime/backend/go/pkg/logger"

	"github.com/gin-gonic/gin"
)

const defaultConfigPath = "backend/go/internal/config/config.yaml"

func main() {
	// Load configuration
	configPath := os.Getenv("THALOS_CONFIG")
	if configPath == "" {
		configPath = defaultConfigPath
	}
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize logger
	logger.Init(logger.ParseLevel(cfg.Logger.Level))
	serviceLogger := logger.New("ThalosTaskService", "", "")

	ensureKafkaTopics(cfg, serviceLogger)

	// Create components with logger injection
	taskStore := store.NewMemoryTaskStore()

	var notifiers []service.Notifier
	var hub *service.ConnectionManager
	if cfg.Notify.WebSocket {
		hub = service.NewConnectionManager()
		notifiers = append(notifiers, hub)
	}
	var eventPublisher *publisher.EventPublisher
	if cfg.Notify.Kafka {
		eventPublisher = publisher.NewEventPublisher(
			cfg.Notify.KafkaEvents.Brokers,
			cfg.Notify.KafkaEvents.Topic,
			cfg.NotifyWriteTimeout(),
			circuitbreaker.Settings{
				FailureThreshold: cfg.Notify.CircuitBreaker.FailureThreshold,
				SuccessThreshold: cfg.Notify.CircuitBreaker.SuccessThreshold,
				Timeout:          cfg.BreakerTimeout(),
			},
			serviceLogger,
		)
		notifiers = append(notifiers, eventPublisher)
		serviceLogger.WithPayload(map[string]interface{}{"topic": cfg.Notify.KafkaEvents.Topic}).Info("Kafka event publisher enabled")
	}

	coordinator := service.NewCoordinator(taskStore, processor.Default().Process, serviceLogger,
		service.WithWorkers(cfg.Coordinator.Workers),
		service.WithNotifiers(notifiers...),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	coordinator.Start(ctx)

	// Start Kafka consumer on its own context so it can be stopped before the coordinator.
	intakeCtx, stopIntake := context.WithCancel(ctx)
	defer stopIntake()
	var intentConsumer *consumer.IntentConsumer
	if cfg.Intake.Kafka {
		intentConsumer = consumer.NewIntentConsumer(
			cfg.Intake.KafkaIntents.Brokers,
			cfg.Intake.KafkaIntents.Topic,
			cfg.Intake.KafkaIntents.GroupID,
			coordinator,
			serviceLogger,
		)
		intentConsumer.Start(intakeCtx)
		serviceLogger.Info("Kafka intent consumer started")
	}

	// Setup HTTP server
	gin.SetMode(cfg.Server.Mode)
	router := api.NewRouter(api.NewAPI(coordinator, hub, cfg.App, serviceLogger))

	srv := &http.Server{
		Addr:    cfg.Server.Address,
		Handler: router,
	}

	// Start server
	go func() {
		serviceLogger.Info("Starting HTTP server on " + srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serviceLogger.WithError(models.NewErrorInfo(err)).Fatal("HTTP server failed to start")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	serviceLogger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		serviceLogger.WithError(models.NewErrorInfo(err)).Error("Server forced to shutdown")
	}

	// Stop intake before the coordinator so no intent is fetched and then refused.
	if intentConsumer != nil {
		stopIntake()
		if err := intentConsumer.Close(); err != nil {
			serviceLogger.WithError(models.NewErrorInfo(err)).Error("Error closing Kafka consumer")
		}
	}
	if err := coordinator.Close(shutdownCtx); err != nil {
		serviceLogger.WithError(models.NewErrorInfo(err)).Error("Coordinator did not stop cleanly")
	}
	if hub != nil {
		hub.CloseAll()
	}
	if eventPublisher != nil {
		if err := eventPublisher.Close(); err != nil {
			serviceLogger.WithError(models.NewErrorInfo(err)).Error("Error closing Kafka publisher")
		}
	}

	serviceLogger.WithPayload(map[string]interface{}{"tasks": coordinator.Status().Total}).Info("Server gracefully stopped")
}

// ensureKafkaTopics creates the configured topics that are missing. Failure is
// not fatal: the writer still auto-creates on first write where the broker allows it.
func ensureKafkaTopics(cfg *config.AppConfig, serviceLogger *logger.Logger) {
	byBrokers := map[string][]string{}
	brokers := map[string][]string{}
	add := func(kc config.KafkaConfig) {
		key := strings.Join(kc.Brokers, ",")
		brokers[key] = kc.Brokers
		byBrokers[key] = append(byBrokers[key], kc.Topic)
	}
	if cfg.Notify.Kafka {
		add(cfg.Notify.KafkaEvents)
	}
	if cfg.Intake.Kafka {
		add(cfg.Intake.KafkaIntents)
	}

	for key, topics := range byBrokers {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		created, err := kafkaadmin.EnsureTopics(ctx, brokers[key], topics...)
		cancel()
		if err != nil {
			serviceLogger.WithError(models.NewErrorInfo(err)).WithPayload(map[string]interface{}{"brokers": key}).Warn("Could not ensure Kafka topics")
			continue
		}
		if len(created) > 0 {
			serviceLogger.WithPayload(map[string]interface{}{"topics": created}).Info("Created Kafka topics")
		}
	}
}

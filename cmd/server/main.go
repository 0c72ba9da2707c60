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

	"order-saga/config"
	"order-saga/internal/api"
	"order-saga/internal/broker"
	"order-saga/internal/redisclient"
	"order-saga/internal/service"
	"order-saga/internal/store"
	"order-saga/internal/util"
	"order-saga/internal/worker"

	"github.com/gin-gonic/gin"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting order saga service")

	tp, err := util.InitTracer("order-saga", cfg.Observ.JaegerEndpoint)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			log.Printf("Error shutting down tracer: %v", err)
		}
	}()

	var (
		orders    store.OrderRepository
		payments  store.PaymentRepository
		inventory store.InventoryRepository
		dedupe    service.Deduper
	)

	if cfg.Database.Backend == "memory" {
		mem := store.NewMemoryStore()
		orders, payments, inventory = mem, mem, mem
		dedupe = service.NewMemoryDeduper()
		log.Println("Using in-memory store")
	} else {
		pg, err := store.NewPostgresStore(cfg.Database.URL)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer pg.Close()
		orders, payments, inventory = pg, pg, pg
		log.Println("Database connected")

		redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		defer redisClient.Close()
		dedupe = redisClient
		log.Println("Redis connected")
	}

	topics := broker.Topics{
		OrderCreated:      cfg.Kafka.TopicOrderCreated,
		PaymentCompleted:  cfg.Kafka.TopicPaymentCompleted,
		PaymentFailed:     cfg.Kafka.TopicPaymentFailed,
		InventoryReserved: cfg.Kafka.TopicInventoryReserved,
		InventoryFailed:   cfg.Kafka.TopicInventoryFailed,
		RefundPayment:     cfg.Kafka.TopicRefundPayment,
		PaymentRefunded:   cfg.Kafka.TopicPaymentRefunded,
		NotificationSent:  cfg.Kafka.TopicNotificationSent,
	}

	producer := broker.NewProducer(cfg.Kafka.Brokers)
	defer producer.Close()
	log.Println("Kafka producer initialized")

	publisher := broker.NewEventPublisher(producer, topics)
	feed := service.NewStatusFeed()

	coordinator := service.NewSagaCoordinator(orders, publisher, feed, dedupe)
	paymentProcessor := service.NewPaymentProcessor(
		payments, publisher,
		service.NewProbabilistic(cfg.Saga.PaymentFailureRate, nil),
		dedupe,
		time.Duration(cfg.Saga.PaymentDelayMs)*time.Millisecond,
	)
	inventoryEngine := service.NewInventoryEngine(
		inventory, publisher,
		service.NewProbabilistic(cfg.Saga.InventoryFailureRate, nil),
		dedupe,
		time.Duration(cfg.Saga.InventoryDelayMs)*time.Millisecond,
	)
	notificationDispatcher := service.NewNotificationDispatcher(
		publisher, nil,
		time.Duration(cfg.Saga.NotificationDelayMs)*time.Millisecond,
	)

	if err := inventoryEngine.SeedCatalog(context.Background()); err != nil {
		log.Printf("Failed to seed inventory catalog: %v", err)
	}

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	newConsumer := func(topic, groupID string) *broker.Consumer {
		return broker.NewConsumer(cfg.Kafka.Brokers, topic, groupID)
	}

	workers := []*worker.Worker{
		worker.NewCoordinatorWorker(newConsumer, topics, cfg.Kafka.OrderGroup, coordinator),
		worker.NewPaymentWorker(newConsumer, topics, cfg.Kafka.PaymentGroup, paymentProcessor),
		worker.NewInventoryWorker(newConsumer, topics, cfg.Kafka.InventoryGroup, inventoryEngine),
		worker.NewNotificationWorker(newConsumer, topics, cfg.Kafka.NotificationGroup, notificationDispatcher),
	}
	for _, w := range workers {
		w := w
		go func() {
			if err := w.Start(workerCtx); err != nil && workerCtx.Err() == nil {
				log.Printf("Worker error: %v", err)
			}
		}()
	}

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(coordinator, feed)
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		log.Printf("Starting HTTP server on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	workerCancel()
	for _, w := range workers {
		if err := w.Stop(); err != nil {
			log.Printf("Worker stop error: %v", err)
		}
	}

	log.Println("Server exited")
}

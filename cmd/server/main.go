package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/honeynil/safedeal/internal/api"
	"github.com/honeynil/safedeal/internal/config"
	"github.com/honeynil/safedeal/internal/handler"
	"github.com/honeynil/safedeal/internal/infrastructure/kafka"
	"github.com/honeynil/safedeal/internal/infrastructure/payment"
	"github.com/honeynil/safedeal/internal/infrastructure/redis"
	"github.com/honeynil/safedeal/internal/observability"
	core "github.com/honeynil/safedeal/internal/repository/postgres"
	service "github.com/honeynil/safedeal/internal/services"
	_ "github.com/lib/pq"
)

func main() {
	shutdown, metricsHandler := observability.Setup("safedeal")
	defer shutdown(context.Background())

	cfg := config.Load()

	db, err := sql.Open("postgres", cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("Failed to connect to Postgres: %v", err)
	}
	defer db.Close()

	dealRepo := core.NewPostgresDealRepository(db)
	userRepo := core.NewPostgresUserRepository(db)
	reviewRepo := core.NewPostgresReviewRepository(db)
	withdrawalRepo := core.NewPostgresWithdrawalRepository(db)

	redisClient := redis.NewClient(cfg.RedisAddr)
	defer redisClient.Close()

	producer := kafka.NewProducer(cfg.KafkaBrokers)
	defer producer.Close()

	gateway := payment.NewYooMoneyClient(cfg.YooMoneyReceiver, cfg.YooMoneyToken)
	arbitrators := cfg.Arbitrators()

	dealSvc := service.NewDealService(dealRepo, userRepo, reviewRepo, gateway, redisClient, producer, arbitrators)
	ledgerSvc := service.NewLedgerService(userRepo, withdrawalRepo, gateway, redisClient, producer, arbitrators)

	// Notification consumers run for the lifetime of the process.
	notifier := kafka.LogNotifier{}
	dealConsumer := kafka.NewConsumer(cfg.KafkaBrokers, "deal-events", "safedeal-notifications", notifier)
	withdrawalConsumer := kafka.NewConsumer(cfg.KafkaBrokers, "withdrawal-events", "safedeal-notifications-withdrawals", notifier)
	consumerCtx, stopConsumers := context.WithCancel(context.Background())
	go dealConsumer.Consume(consumerCtx)
	go withdrawalConsumer.Consume(consumerCtx)
	defer stopConsumers()
	defer dealConsumer.Close()
	defer withdrawalConsumer.Close()

	h := handler.NewHandler(dealSvc, ledgerSvc)
	router := api.SetupRouter(h, metricsHandler, cfg.JWTSecret, arbitrators)

	server := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: router,
	}
	go func() {
		log.Printf("Starting server on %s", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server shutdown failed: %v", err)
	}
	log.Println("Server stopped")
}

/**
 * @description
 * This is the main entry point for the ussd-service. It loads configuration, opens the
 * ledger and session stores, connects the event broker, builds the USSD state machine
 * and serves the gateway callback alongside the internal and admin routes.
 *
 * @dependencies
 * - github.com/joho/godotenv: Loads a local .env file for development.
 * - internal/api, internal/app, internal/bootstrap, internal/config: Internal packages for the service.
 * - pkg/airtimeclient: Client for the airtime vendor.
 * - pkg/rabbitmq: Client for RabbitMQ.
 */

package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/transfa/ussd-service/internal/api"
	"github.com/transfa/ussd-service/internal/app"
	"github.com/transfa/ussd-service/internal/bootstrap"
	"github.com/transfa/ussd-service/internal/config"
	"github.com/transfa/ussd-service/internal/domain"
	"github.com/transfa/ussd-service/pkg/airtimeclient"
	rmrabbit "github.com/transfa/ussd-service/pkg/rabbitmq"
)

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("level=warn component=bootstrap msg=\".env load failed\" err=%v", err)
	}

	// Load application configuration from environment variables.
	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}
	if strings.TrimSpace(cfg.InternalAPIKey) == "" {
		log.Printf("level=warn component=bootstrap msg=\"internal api key not configured; internal routes will reject every request\" env=INTERNAL_API_KEY")
	}

	log.Printf("level=info component=bootstrap msg=\"starting ussd-service\" port=%s ussd_code=%s", cfg.ServerPort, cfg.USSDCode)

	backends, err := bootstrap.Open(context.Background(), cfg)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"store initialisation failed\" err=%v", err)
	}
	defer backends.Close()

	// Initialize the RabbitMQ producer to publish wallet events.
	var producer rmrabbit.Publisher
	if rabbitProducer, err := rmrabbit.NewEventProducer(cfg.RabbitMQURL); err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq producer unavailable; using fallback\" err=%v", err)
		producer = &rmrabbit.EventProducerFallback{}
	} else {
		log.Println("level=info component=bootstrap msg=\"rabbitmq producer connected\"")
		producer = rabbitProducer
	}
	defer producer.Close()
	events := app.NewEventPublisher(producer, cfg.EventsExchange)

	pins := app.NewPINGuard(backends.Repository, cfg.MaxPINAttempts)
	ussdService := app.NewService(backends.Repository, backends.SessionStore, pins, app.Settings{
		USSDCode:          cfg.USSDCode,
		BankName:          cfg.BankName,
		SupportPhone:      cfg.SupportPhone,
		DefaultRegion:     cfg.DefaultRegion,
		MaxTransferAmount: cfg.MaxTransferAmountKobo,
		MinAirtimeAmount:  cfg.MinAirtimeAmountKobo,
		MaxAirtimeAmount:  cfg.MaxAirtimeAmountKobo,
		USSDCharge:        cfg.USSDChargeKobo,
		HistoryMaxItems:   cfg.HistoryMaxItems,
		Location:          cfg.Location(),
	})
	ussdService.SetEventPublisher(events)

	if strings.TrimSpace(cfg.AirtimeVendorURL) == "" {
		log.Println("level=warn component=bootstrap msg=\"airtime vendor not configured; top-ups are simulated\" env=AIRTIME_VENDOR_URL")
	} else {
		ussdService.SetAirtimeVendor(airtimeclient.NewClient(cfg.AirtimeVendorURL, cfg.AirtimeVendorAPIKey))
	}

	sweeper := app.NewSweeper(backends.SessionStore, cfg.SessionSweepSchedule)
	if err := sweeper.Start(); err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"session sweeper start failed\" err=%v", err)
	}

	deposits := app.NewDepositConsumer(backends.Repository, events)
	rabbitConsumer, err := rmrabbit.NewConsumer(cfg.RabbitMQURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq consumer unavailable; deposits accepted over http only\" err=%v", err)
	} else {
		defer rabbitConsumer.Close()
		depositBindings := map[string]func([]byte) bool{
			domain.EventDepositReceived: deposits.HandleMessage,
		}
		if err := rabbitConsumer.ConsumeWithBindings(cfg.EventsExchange, cfg.DepositEventQueue, depositBindings); err != nil {
			log.Printf("level=warn component=bootstrap msg=\"deposit consumer start failed\" err=%v", err)
		}
	}

	handlers := api.NewUSSDHandlers(ussdService, ussdService, deposits, sweeper)
	if backends.Redis != nil && cfg.RateLimitPerMinute > 0 {
		handlers.SetRateLimiter(app.NewRedisRateLimiter(backends.Redis, cfg.RedisKeyPrefix, cfg.RateLimitPerMinute, time.Minute))
	} else {
		log.Println("level=warn component=bootstrap msg=\"per-phone rate limiting disabled\"")
	}

	router := api.NewRouter(handlers, api.RouterConfig{
		InternalAPIKey: cfg.InternalAPIKey,
		AdminJWTSecret: cfg.AdminJWTSecret,
		AdminOrigins:   cfg.AdminOrigins(),
	})

	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	server := &http.Server{
		Addr:              serverAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("level=info component=http msg=\"server listening\" addr=%s", serverAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("level=fatal component=http msg=\"server stopped unexpectedly\" err=%v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Println("level=info component=http msg=\"shutdown started\"")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("level=error component=http msg=\"shutdown failed\" err=%v", err)
	}
	select {
	case <-sweeper.Stop().Done():
	case <-ctx.Done():
		log.Println("level=warn component=sweeper msg=\"running sweep did not finish before shutdown\"")
	}

	log.Println("level=info component=http msg=\"shutdown complete\"")
}

package main

import (
	"fmt"
	"os"

	"subcontracting-service/internal/auth"
	"subcontracting-service/internal/client"
	"subcontracting-service/internal/config"
	"subcontracting-service/internal/db"
	"subcontracting-service/internal/events"
	httphandler "subcontracting-service/internal/http"
	"subcontracting-service/internal/http/middleware"
	"subcontracting-service/internal/logger"
	"subcontracting-service/internal/metrics"
	"subcontracting-service/internal/notifier"
	"subcontracting-service/internal/repository"
	"subcontracting-service/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	appLogger := logger.New(cfg.Environment)

	database, err := db.Connect(cfg.DB)
	if err != nil {
		appLogger.Fatal().Err(err).Msg("failed to connect database")
	}

	courseRepo := repository.NewCourseRepository(database)
	tokenRepo := repository.NewClaimTokenRepository(database)
	paymentRepo := repository.NewPaymentRepository(database)
	driverRepo := repository.NewDriverRepository(database)
	eventRepo := repository.NewCourseEventRepository(database)

	appMetrics := metrics.New()

	var publisher service.EventPublisher
	if p := events.NewPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, appLogger); p != nil {
		publisher = p
		defer p.Close()
	}

	var mailer service.Notifier
	if n := notifier.New(cfg.Mail.APIURL, cfg.Mail.APIKey, cfg.Mail.FromEmail, cfg.Mail.AdminEmail, appLogger); n != nil {
		mailer = n
	}

	checkoutClient := client.NewCheckoutClient(cfg.Checkout.BaseURL, cfg.Checkout.APIKey, cfg.Checkout.Timeout, appLogger)

	driverService := service.NewDriverService(
		driverRepo, courseRepo, eventRepo,
		publisher, mailer, appMetrics, appLogger,
		cfg.Subcontracting.LateThreshold,
	)
	courseService := service.NewCourseService(
		courseRepo, tokenRepo, paymentRepo, driverRepo, eventRepo,
		driverService, publisher, appMetrics, appLogger,
		cfg.Subcontracting.CommissionRate,
		cfg.Subcontracting.ClaimTokenTTL,
		cfg.Subcontracting.ClaimBaseURL,
	)
	claimService := service.NewClaimService(
		courseRepo, tokenRepo, driverRepo, eventRepo,
		publisher, appMetrics, appLogger,
		cfg.Subcontracting.ReservationWindow,
	)
	paymentService := service.NewPaymentService(
		paymentRepo, courseRepo, driverRepo, tokenRepo, eventRepo,
		checkoutClient, publisher, mailer, appMetrics, appLogger,
		cfg.Checkout.SuccessURL, cfg.Checkout.CancelURL,
	)

	tokenIssuer := auth.NewIssuer(cfg.Auth.AccessSecret, cfg.Auth.AccessTTL)
	tokenParser := auth.NewParser(cfg.Auth.AccessSecret)
	authService := service.NewAuthService(driverRepo, tokenIssuer, cfg.Auth.AdminPassword, appLogger)

	handler := httphandler.NewHandler(
		authService, courseService, claimService, paymentService, driverService,
		cfg.Subcontracting, cfg.Checkout.WebhookToken, appLogger,
	)
	authMiddleware := middleware.Auth(tokenParser)
	optionalAuth := middleware.OptionalAuth(tokenParser)
	router := httphandler.NewRouter(handler, authMiddleware, optionalAuth, cfg.Environment)

	addr := fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port)
	appLogger.Info().Str("addr", addr).Msg("starting subcontracting service")

	if err := router.Run(addr); err != nil {
		appLogger.Error().Err(err).Msg("failed to start server")
		os.Exit(1)
	}
}

// cmd/main.go is the application entry point.
// It wires together all layers and starts the HTTP server.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/campuskit/events-core/internal/config"
	"github.com/campuskit/events-core/internal/database"
	"github.com/campuskit/events-core/internal/handler"
	"github.com/campuskit/events-core/internal/outbound"
	"github.com/campuskit/events-core/internal/provider"
	"github.com/campuskit/events-core/internal/repository"
	"github.com/campuskit/events-core/internal/service"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// ── 1. Connect to PostgreSQL and migrate ──────────────────────────────
	if err := database.Migrate(cfg, cfg.MigrationsDir); err != nil {
		log.Fatalf("migrate: %v", err)
	}
	pool, err := database.NewPool(ctx, cfg)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer pool.Close()
	log.Println("connected to PostgreSQL")

	// ── 2. Wire up layers ────────────────────────────────────────────────
	eventRepo := repository.NewEventRepository(pool)
	regRepo := repository.NewRegistrationRepository(pool)
	sessionRepo := repository.NewPaymentSessionRepository(pool)
	walletRepo := repository.NewWalletRepository(pool)
	notifRepo := repository.NewNotificationRepository(pool)
	certRepo := repository.NewCertificateRepository(pool)
	appRepo := repository.NewApplicationRepository(pool)

	var publisher outbound.Publisher
	if len(cfg.KafkaBrokers) > 0 {
		kp := outbound.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer kp.Close()
		publisher = kp
		log.Printf("publishing notifications to %s on %v", cfg.KafkaTopic, cfg.KafkaBrokers)
	} else {
		log.Println("no Kafka brokers configured; notifications are DB-only")
	}

	var checkout provider.Checkout
	if cfg.ProviderURL != "" {
		checkout = provider.NewHTTPCheckout(cfg.ProviderURL, cfg.ProviderSuccessURL, cfg.ProviderCancelURL)
	} else {
		log.Println("no payment provider configured; paid flows will fail to open checkout")
	}

	dispatcher := service.NewDispatcher(notifRepo, publisher)
	eventSvc := service.NewEventService(eventRepo)
	regSvc := service.NewRegistrationService(regRepo, sessionRepo, checkout, dispatcher)
	walletSvc := service.NewWalletService(walletRepo, sessionRepo, checkout, dispatcher)
	appSvc := service.NewApplicationService(appRepo, sessionRepo, checkout)
	engine := service.NewSettlementEngine(sessionRepo, regSvc, walletSvc, appRepo, dispatcher)
	issuer := service.NewCertificateIssuer(certRepo, regRepo, eventRepo, outbound.LogRenderer{}, dispatcher)
	reconciler := service.NewReconciler(engine, sessionRepo, cfg.ReconcileInterval)

	h := &handler.Handler{
		Events:        eventSvc,
		Registrations: regSvc,
		Settlement:    engine,
		Wallet:        walletSvc,
		Applications:  appSvc,
		Certificates:  issuer,
		Notifications: notifRepo,
		RegList:       regRepo,
		StoreTimeout:  cfg.StoreTimeout,
	}

	// ── 3. Build the router ───────────────────────────────────────────────
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(handler.Logger)
	r.Use(handler.CORS)

	r.Get("/healthz", handler.HealthCheck)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/events", func(r chi.Router) {
		r.Post("/", h.CreateEvent)
		r.Get("/", h.ListEvents)
		r.Get("/{id}", h.GetEvent)
		r.Post("/{id}/register", h.Register)
		r.Get("/{id}/registrations", h.ListRegistrations)
	})
	r.Route("/registrations", func(r chi.Router) {
		r.Get("/{id}", h.GetRegistration)
		r.Post("/{id}/cancel", h.CancelRegistration)
	})
	r.Route("/payments", func(r chi.Router) {
		r.Post("/callback", h.PaymentCallback)
		r.Get("/return", h.PaymentReturn)
	})
	r.Route("/wallets", func(r chi.Router) {
		r.Post("/{id}/topup", h.TopUpWallet)
		r.Post("/{id}/debit", h.DebitWallet)
		r.Get("/{id}/balance", h.WalletBalance)
		r.Get("/{id}/transactions", h.WalletTransactions)
	})
	r.Post("/applications", h.CreateApplication)
	r.Post("/certificates/issue", h.IssueCertificate)
	r.Get("/users/{id}/notifications", h.UserNotifications)

	// ── 4. Start server and reconciler with graceful shutdown ────────────
	go reconciler.Run(ctx)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("server listening on :%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-ctx.Done()

	log.Println("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("graceful shutdown failed: %v", err)
	}
	log.Println("server stopped")
}

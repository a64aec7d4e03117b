package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Mount-Huaguo-Holy-Tech/Snapifit-AI-Community-Edition-sub002/audit"
	"github.com/Mount-Huaguo-Holy-Tech/Snapifit-AI-Community-Edition-sub002/bans"
	"github.com/Mount-Huaguo-Holy-Tech/Snapifit-AI-Community-Edition-sub002/config"
	"github.com/Mount-Huaguo-Holy-Tech/Snapifit-AI-Community-Edition-sub002/database"
	"github.com/Mount-Huaguo-Holy-Tech/Snapifit-AI-Community-Edition-sub002/handlers"
	"github.com/Mount-Huaguo-Holy-Tech/Snapifit-AI-Community-Edition-sub002/kafka"
	"github.com/Mount-Huaguo-Holy-Tech/Snapifit-AI-Community-Edition-sub002/middleware"
	"github.com/Mount-Huaguo-Holy-Tech/Snapifit-AI-Community-Edition-sub002/proxy"
	"github.com/Mount-Huaguo-Holy-Tech/Snapifit-AI-Community-Edition-sub002/ratelimiter"
	"github.com/Mount-Huaguo-Holy-Tech/Snapifit-AI-Community-Edition-sub002/repository"
	"github.com/Mount-Huaguo-Holy-Tech/Snapifit-AI-Community-Edition-sub002/usage"
)

func main() {
	cfg := config.Load()

	logger := log.New(os.Stdout, "[ABUSE-GATE] ", log.LstdFlags|log.Lshortfile)

	trustLevels, err := cfg.LoadTrustLevels()
	if err != nil {
		logger.Fatalf("Failed to load trust level table: %v", err)
	}

	db, err := database.New(cfg.PostgresDSN)
	if err != nil {
		logger.Fatalf("PostgreSQL connection failed: %v", err)
	}
	defer db.Close()
	if err := db.InitSchema(); err != nil {
		logger.Fatalf("Schema initialization failed: %v", err)
	}

	eventRepo := repository.NewSecurityEventRepository(db.Conn())
	ipBanRepo := repository.NewIPBanRepository(db.Conn())
	userBanRepo := repository.NewUserBanRepository(db.Conn())
	usageRepo := repository.NewUsageRepository(db.Conn())
	statsRepo := repository.NewStatsRepository(db.Conn())

	var store ratelimiter.CounterStore
	if cfg.LimiterBackend == "redis" {
		redisStore := ratelimiter.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisStore.Ping(context.Background()); err != nil {
			logger.Printf("Warning: Redis connection failed: %v. Rate limiting may not work.", err)
		}
		store = redisStore
	} else {
		store = ratelimiter.NewMemoryStore()
	}
	limiter := ratelimiter.New(store)
	defer limiter.Close()

	producer := kafka.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
	defer producer.Close()

	auditLogger := audit.NewLogger(eventRepo, producer, logger)

	ipManager := bans.NewIPManager(ipBanRepo, repository.IPEventCounter{Repo: eventRepo}, logger)
	userManager := bans.NewUserManager(userBanRepo, repository.UserEventCounter{Repo: eventRepo}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sweeper := bans.NewSweeper(time.Duration(cfg.BanSweepIntervalSec)*time.Second, logger, ipBanRepo, userBanRepo)
	sweeper.Start(ctx)

	// With a consumer group configured, auto-ban evaluation happens off the
	// request path via the event stream; otherwise the rate-limit
	// middleware evaluates inline.
	inlineIPManager, inlineUserManager := ipManager, userManager
	if cfg.KafkaGroupID != "" {
		handler := &kafka.AutoBanHandler{IPManager: ipManager, UserManager: userManager}
		consumer := kafka.NewConsumer(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.KafkaGroupID, handler)
		consumer.Start(ctx)
		defer consumer.Close()
		inlineIPManager, inlineUserManager = nil, nil
	}

	usageManager := usage.NewManager(usageRepo, trustLevels, logger)

	authMiddleware := middleware.NewAuthMiddleware(cfg.JWTSecret)
	banCheck := middleware.NewBanCheckMiddleware(ipManager, userManager, auditLogger)
	rateLimit := middleware.NewRateLimitMiddleware(limiter, auditLogger, inlineIPManager, inlineUserManager)
	loggingMiddleware := middleware.NewLoggingMiddleware(logger)

	relayHandler := handlers.NewRelayHandler(usageManager, proxy.NewRelay(60*time.Second), auditLogger)
	adminHandler := handlers.NewAdminHandler(ipManager, userManager, ipBanRepo, userBanRepo, eventRepo, statsRepo, limiter, db)

	mux := http.NewServeMux()

	mux.HandleFunc("/health", adminHandler.HealthCheck)

	relayChain := authMiddleware.Authenticate(
		banCheck.CheckBans(
			rateLimit.RateLimit(http.HandlerFunc(relayHandler.Relay)),
		),
	)
	mux.Handle("/api/relay", relayChain)
	mux.Handle("/api/relay/", relayChain)

	admin := func(h http.HandlerFunc) http.Handler {
		return authMiddleware.Authenticate(middleware.RequireAdmin(h))
	}

	mux.Handle("/admin/ip-bans", admin(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			adminHandler.ListIPBans(w, r)
		case http.MethodPost:
			adminHandler.BanIP(w, r)
		default:
			http.Error(w, `{"error": "method not allowed"}`, http.StatusMethodNotAllowed)
		}
	}))
	mux.Handle("/admin/ip-bans/unban", admin(postOnly(adminHandler.UnbanIP)))
	mux.Handle("/admin/ip-bans/details", admin(adminHandler.GetIPBanDetails))

	mux.Handle("/admin/user-bans", admin(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			adminHandler.ListUserBans(w, r)
		case http.MethodPost:
			adminHandler.BanUser(w, r)
		default:
			http.Error(w, `{"error": "method not allowed"}`, http.StatusMethodNotAllowed)
		}
	}))
	mux.Handle("/admin/user-bans/unban", admin(postOnly(adminHandler.UnbanUser)))
	mux.Handle("/admin/user-bans/details", admin(adminHandler.GetUserBanDetails))

	mux.Handle("/admin/security-events", admin(adminHandler.ListSecurityEvents))
	mux.Handle("/admin/stats", admin(adminHandler.GetAbuseStats))
	mux.Handle("/admin/rate-limits/reset", admin(postOnly(adminHandler.ResetRateLimits)))

	handler := loggingMiddleware.Log(mux)

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 75 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Printf("Starting abuse-mitigation gateway on port %s", cfg.ServerPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Println("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Fatalf("Server forced to shutdown: %v", err)
	}

	logger.Println("Server exited")
}

func postOnly(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, `{"error": "method not allowed"}`, http.StatusMethodNotAllowed)
			return
		}
		h(w, r)
	}
}

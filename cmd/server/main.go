package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/spf13/viper"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/bothive/backend/internal/config"
	"github.com/bothive/backend/internal/database"
	"github.com/bothive/backend/internal/gateway"
	"github.com/bothive/backend/internal/handlers"
	mW "github.com/bothive/backend/internal/middleware"
	"github.com/bothive/backend/internal/services"
)

// @title BotHive Backend API
// @version 1.0
// @description API for coin-based bot deployment hosting
// @host localhost:8080
// @BasePath /api/v1
// @schemes http https

func main() {
	// Initialize config
	viper.SetConfigFile(".env") // explicitly point to .env file
	viper.AutomaticEnv()        // allow environment variables to override .env

	viper.SetEnvPrefix("")

	viper.BindEnv("database.host", "DATABASE_HOST")
	viper.BindEnv("database.port", "DATABASE_PORT")
	viper.BindEnv("database.user", "DATABASE_USER")
	viper.BindEnv("database.password", "DATABASE_PASSWORD")
	viper.BindEnv("database.name", "DATABASE_NAME")
	viper.BindEnv("database.ssl_mode", "DATABASE_SSL_MODE")

	viper.BindEnv("redis.host", "REDIS_HOST")
	viper.BindEnv("redis.port", "REDIS_PORT")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("redis.db", "REDIS_DB")

	viper.BindEnv("jwt.secret_key", "JWT_SECRET_KEY")
	viper.BindEnv("jwt.expiry_hours", "JWT_EXPIRY_HOURS")
	viper.BindEnv("argon2.time", "ARGON2_TIME")
	viper.BindEnv("argon2.memory", "ARGON2_MEMORY")
	viper.BindEnv("argon2.threads", "ARGON2_THREADS")
	viper.BindEnv("argon2.key_length", "ARGON2_KEY_LENGTH")
	viper.BindEnv("argon2.salt_length", "ARGON2_SALT_LENGTH")

	viper.SetDefault("jwt.expiry_hours", 24)
	viper.SetDefault("argon2.time", 1)
	viper.SetDefault("argon2.memory", 64*1024)
	viper.SetDefault("argon2.threads", 4)
	viper.SetDefault("argon2.key_length", 32)
	viper.SetDefault("argon2.salt_length", 16)

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Config file not found, using defaults: %v", err)
	}

	// Initialize services
	db := database.InitDatabase()
	defer db.Close()

	redisClient := database.InitRedis()
	if redisClient != nil {
		defer redisClient.Close()
	}

	gatewayCfg := config.LoadGatewayConfig()
	planCfg := config.LoadPlanConfig()

	paystack := gateway.NewPaystackClient(gatewayCfg)

	ledgerService := services.NewCoinLedgerService(db)
	paymentService := services.NewPaymentService(db, redisClient, paystack, ledgerService, gatewayCfg, planCfg)
	catalogService := services.NewCatalogService(db, redisClient)
	notificationService := services.NewNotificationService(db, redisClient)
	deploymentService := services.NewDeploymentService(db, catalogService, ledgerService, planCfg)
	authService := services.NewAuthService(db, redisClient)

	paymentHandler := handlers.NewPaymentHandler(paymentService)
	deploymentHandler := handlers.NewDeploymentHandler(deploymentService)

	sweeper := services.NewExpirySweeper(db, deploymentService, notificationService, planCfg)
	sweeperCtx, cancelSweeper := context.WithCancel(context.Background())
	go sweeper.Start(sweeperCtx)

	// Initialize auth middleware with Redis
	mW.InitAuthMiddleware(redisClient)

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(mW.SecurityHeaders)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(60 * time.Second))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Access-Control-Allow-Origin"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})

	// Swagger documentation
	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("/openapi.yaml"),
	))

	// Serve OpenAPI spec
	r.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		http.ServeFile(w, r, "./api/openapi.yaml")
	})

	// Static file server for template icons
	r.Handle("/static/template-icons/*", http.StripPrefix("/static/template-icons/",
		mW.StaticFileServer("./static/template-icons")))

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		// Public endpoints (no auth required)
		r.Post("/auth/register", authService.Register)
		r.Post("/auth/login", authService.Login)
		r.Post("/auth/logout", authService.Logout)
		r.Get("/templates", catalogService.ListTemplatesHandler)
		r.Get("/templates/{templateId}", catalogService.GetTemplateHandler)

		// Protected endpoints (auth required)
		r.Group(func(r chi.Router) {
			r.Use(mW.AuthMiddleware)

			r.Get("/auth/profile", authService.GetProfile)

			// Coin ledger endpoints
			r.Get("/coins/balance", ledgerService.BalanceEnquiry)
			r.Post("/coins/topup", paymentHandler.InitializeCharge)
			r.Post("/coins/topup/mobile", paymentHandler.MobileMoneyCharge)
			r.Post("/coins/verify/{reference}", paymentHandler.VerifyCharge)
			r.Get("/coins/status/{reference}", paymentHandler.ChargeStatus)

			// Deployment endpoints
			r.Post("/deployments", deploymentHandler.Create)
			r.Get("/deployments", deploymentHandler.List)
			r.Get("/deployments/{deploymentId}", deploymentHandler.Get)
			r.Get("/deployments/{deploymentId}/logs", deploymentHandler.Logs)
			r.Post("/deployments/{deploymentId}/stop", deploymentHandler.Stop)
			r.Delete("/deployments/{deploymentId}", deploymentHandler.Delete)

			// Notification endpoints
			r.Get("/notifications", notificationService.ListNotifications)
		})
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// Start server
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		log.Printf("Server starting on :%s", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Server shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	cancelSweeper()
	sweeper.Stop()
	deploymentService.Shutdown()

	log.Println("Server stopped")
}

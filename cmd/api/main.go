package main

//go:generate swag init -d ../.. -g cmd/api/main.go -o ../../api/swagger --outputTypes go

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "marketplace/api/swagger" // swagger docs
	"marketplace/internal/config"
	"marketplace/internal/database"
	"marketplace/internal/events"
	"marketplace/internal/handler"
	"marketplace/internal/lock"
	"marketplace/internal/logger"
	"marketplace/internal/middleware"
	"marketplace/internal/mq"
	"marketplace/internal/repository"
	"marketplace/internal/service"
	"marketplace/internal/websocket"
	"marketplace/pkg/storage"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"
)

// @title           Marketplace Escrow API
// @version         1.0
// @description     Proposal acceptance, dual-approval milestone negotiation and milestone escrow payments.
// @host            localhost:8080
// @BasePath        /
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		// Logger is not built yet.
		panic(err)
	}

	log, err := logger.New(cfg.Env)
	if err != nil {
		panic(err)
	}
	defer log.Sync() //nolint:errcheck

	feeRate, err := cfg.FeeRate()
	if err != nil {
		log.Fatal("invalid escrow configuration", zap.Error(err))
	}

	db, err := database.NewConnection(cfg.DB.Driver, cfg.DSN(), log)
	if err != nil {
		log.Fatal("database connection failed", zap.Error(err))
	}
	log.Info("connected to database", zap.String("driver", cfg.DB.Driver))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Set up WebSocket Hub
	wsHub := websocket.NewHub(log)
	go wsHub.Run(ctx)

	sinks := []events.Publisher{wsHub}
	if cfg.MQ.URL != "" {
		publisher, mqErr := mq.NewPublisher(cfg.MQ.URL)
		if mqErr != nil {
			log.Warn("rabbitmq unavailable, events stay local", zap.Error(mqErr))
		} else {
			defer publisher.Close()
			sinks = append(sinks, publisher)
		}
	}
	eventBus := events.NewFanout(log, sinks...)

	var locker lock.Locker = lock.NewKeyedMutex()
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if pingErr := rdb.Ping(ctx).Err(); pingErr != nil {
			log.Warn("redis unavailable, using in-process locks", zap.Error(pingErr))
		} else {
			defer rdb.Close()
			locker = lock.NewRedisLocker(rdb, "marketplace:lock:", 30*time.Second, 10*time.Second, log)
		}
	}

	var store storage.DocumentStore = storage.Disabled{}
	if cfg.CloudinaryEnabled() {
		store, err = storage.NewCloudinary(cfg.Cloudinary.CloudName, cfg.Cloudinary.APIKey, cfg.Cloudinary.APISecret, cfg.Cloudinary.Folder)
		if err != nil {
			log.Fatal("cloudinary configuration failed", zap.Error(err))
		}
	}

	// Set up dependencies (Repository -> Service -> Handler)
	txManager := repository.NewTransactionManager(db)
	serviceRequestRepo := repository.NewServiceRequestRepository(db)
	proposalRepo := repository.NewProposalRepository(db)
	projectRepo := repository.NewProjectRepository(db)
	milestoneRepo := repository.NewMilestoneRepository(db)
	approvalRepo := repository.NewApprovalRepository(db)
	paymentRepo := repository.NewPaymentRepository(db)
	payoutRepo := repository.NewPayoutMethodRepository(db)
	proofRepo := repository.NewTransferProofRepository(db)
	auditRepo := repository.NewAuditRepository(db)

	proposalService := service.NewProposalService(serviceRequestRepo, proposalRepo, projectRepo, milestoneRepo, approvalRepo, auditRepo, txManager, locker, eventBus, log)
	milestoneService := service.NewMilestoneService(projectRepo, milestoneRepo, approvalRepo, auditRepo, txManager, locker, eventBus, log)
	escrowService := service.NewEscrowService(projectRepo, milestoneRepo, approvalRepo, paymentRepo, auditRepo, txManager, locker, eventBus, log, service.EscrowOptions{
		FeeRate:     feeRate,
		AutoConfirm: cfg.Escrow.AutoConfirm,
	})
	transferService := service.NewTransferService(projectRepo, milestoneRepo, paymentRepo, proofRepo, payoutRepo, auditRepo, txManager, store, locker, eventBus, log)
	payoutService := service.NewPayoutService(payoutRepo, auditRepo, txManager)
	auditService := service.NewAuditService(auditRepo)

	auth := middleware.NewAuth(cfg.JWTSecret)

	// Initialize Handlers
	proposalHandler := handler.NewProposalHandler(proposalService, auth)
	milestoneHandler := handler.NewMilestoneHandler(milestoneService, auth)
	paymentHandler := handler.NewPaymentHandler(escrowService, transferService, auth, cfg.Escrow.WebhookSecret)
	payoutHandler := handler.NewPayoutHandler(payoutService, auth)
	auditHandler := handler.NewAuditHandler(auditService, auth)

	// Set up Gin Router
	gin.SetMode(cfg.Server.Mode)
	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestLogger(log))

	// CORS configuration
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = cfg.Server.CORSOrigins
	corsConfig.AllowCredentials = true
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization", "Accept"}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	router.Use(cors.New(corsConfig))

	// Swagger route
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "OK"})
	})

	// WebSocket endpoint
	router.GET("/ws", func(c *gin.Context) {
		websocket.ServeWs(wsHub, c, auth.Secret())
	})

	// API Routing
	api := router.Group("")
	proposalHandler.RegisterRoutes(api)
	milestoneHandler.RegisterRoutes(api)
	paymentHandler.RegisterRoutes(api)
	payoutHandler.RegisterRoutes(api)
	auditHandler.RegisterRoutes(api)

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", zap.Error(err))
	}
}

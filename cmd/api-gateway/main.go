package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/p4-jakarta/portal-api/api/swagger"
	"github.com/p4-jakarta/portal-api/internal/handler"
	"github.com/p4-jakarta/portal-api/internal/middleware"
	"github.com/p4-jakarta/portal-api/internal/models"
	"github.com/p4-jakarta/portal-api/internal/repository"
	"github.com/p4-jakarta/portal-api/internal/service"
	"github.com/p4-jakarta/portal-api/pkg/cache"
	"github.com/p4-jakarta/portal-api/pkg/config"
	"github.com/p4-jakarta/portal-api/pkg/database"
	"github.com/p4-jakarta/portal-api/pkg/export"
	"github.com/p4-jakarta/portal-api/pkg/logger"
	corsmiddleware "github.com/p4-jakarta/portal-api/pkg/middleware/cors"
	reqidmiddleware "github.com/p4-jakarta/portal-api/pkg/middleware/requestid"
	"github.com/p4-jakarta/portal-api/pkg/storage"
)

// @title P4 Jakarta Portal API
// @version 0.1.0
// @description Administrative portal for the P4 Jakarta training program
// @BasePath /api/v1
// @schemes http

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to database", "error", err)
	}
	defer db.Close()

	if cfg.Database.MigrationsDir != "" {
		if err := database.RunMigrations(context.Background(), db, cfg.Database.MigrationsDir, logr); err != nil {
			logr.Sugar().Fatalw("failed to run migrations", "error", err)
		}
	}

	metricsSvc := service.NewMetricsService()

	cacheEnabled := cfg.Cache.Enabled
	cacheRepo := repository.NewCacheRepository(nil, logr)
	if cacheEnabled {
		client, err := cache.NewRedis(cfg.Redis)
		if err != nil {
			logr.Sugar().Warnw("redis unavailable, caching disabled", "error", err)
			cacheEnabled = false
		} else {
			cacheRepo = repository.NewCacheRepository(client, logr)
			defer cacheRepo.Close()
		}
	}
	cacheSvc := service.NewCacheService(cacheRepo, metricsSvc, cfg.Cache.QuotaInfoTTL, logr, cacheEnabled)

	letterStore, err := storage.NewUploadStore(cfg.Uploads.StorageDir, cfg.Uploads.MaxFileSizeBytes, cfg.Uploads.AllowedMIMEs)
	if err != nil {
		logr.Sugar().Fatalw("failed to init upload storage", "error", err)
	}
	letterSigner := storage.NewSignedURLSigner(cfg.Uploads.SignedURLSecret, cfg.Uploads.SignedURLTTL)

	validate := validator.New()

	userRepo := repository.NewUserRepository(db)
	quotaRepo := repository.NewQuotaRepository(db)
	regRepo := repository.NewRegistrationRepository(db, quotaRepo)
	articleRepo := repository.NewArticleRepository(db)

	authSvc := service.NewAuthService(userRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             cfg.JWT.Issuer,
	})
	policy := service.NewEligibilityPolicy()
	regSvc := service.NewRegistrationService(regRepo, quotaRepo, policy, letterStore, letterSigner, cacheSvc, metricsSvc, validate, logr)
	quotaSvc := service.NewQuotaService(quotaRepo, regRepo, cacheSvc, cfg.Cache.QuotaInfoTTL, validate, logr)
	approvalSvc := service.NewApprovalService(regRepo, userRepo, letterStore, cacheSvc, validate, logr)
	exportSvc := service.NewExportService(regRepo, quotaRepo, export.NewCSVExporter(), export.NewPDFExporter(), logr)
	dashboardSvc := service.NewDashboardService(quotaRepo, regRepo, userRepo, cacheSvc, cfg.Cache.DashboardTTL, logr)
	articleSvc := service.NewArticleService(articleRepo, cacheSvc, cfg.Cache.ArticleTTL, validate, logr)

	authHandler := handler.NewAuthHandler(authSvc)
	quotaHandler := handler.NewQuotaHandler(quotaSvc, exportSvc)
	regHandler := handler.NewRegistrationHandler(regSvc, approvalSvc)
	articleHandler := handler.NewArticleHandler(articleSvc)
	dashboardHandler := handler.NewDashboardHandler(dashboardSvc, metricsSvc)
	metricsHandler := handler.NewMetricsHandler(metricsSvc)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)

	auth := api.Group("/auth")
	{
		auth.POST("/login", authHandler.Login)
		auth.POST("/refresh", authHandler.Refresh)

		secured := auth.Group("", middleware.JWT(authSvc))
		secured.POST("/logout", authHandler.Logout)
		secured.POST("/change-password", authHandler.ChangePassword)
		secured.GET("/me", authHandler.Me)
	}

	quotas := api.Group("/quotas")
	{
		quotas.GET("/active", quotaHandler.ActiveInfo)
		quotas.GET("/open", middleware.OptionalJWT(authSvc), quotaHandler.Open)
		quotas.GET("/:id/info", quotaHandler.Info)

		admin := quotas.Group("", middleware.JWT(authSvc), middleware.RequireRoles(models.RoleAdmin))
		admin.GET("", quotaHandler.List)
		admin.POST("", middleware.Audit(userRepo, models.AuditActionQuotaCreate, "quota"), quotaHandler.Create)
		admin.GET("/occupancy", quotaHandler.Occupancy)
		admin.GET("/:id", quotaHandler.Get)
		admin.PATCH("/:id", middleware.Audit(userRepo, models.AuditActionQuotaUpdate, "quota"), quotaHandler.Update)
		admin.POST("/:id/toggle", middleware.Audit(userRepo, models.AuditActionQuotaUpdate, "quota"), quotaHandler.ToggleStatus)
		admin.DELETE("/:id", middleware.Audit(userRepo, models.AuditActionQuotaDelete, "quota"), quotaHandler.Delete)
		if cfg.Reports.Enabled {
			admin.GET("/:id/roster", quotaHandler.Roster)
		}
	}

	registrations := api.Group("/registrations")
	{
		registrations.GET("/letters/download", regHandler.DownloadLetter)

		secured := registrations.Group("", middleware.JWT(authSvc))
		secured.POST("", middleware.RequireRoles(models.RoleStudent, models.RoleTeacher), regHandler.Register)
		secured.GET("/mine", regHandler.ListMine)
		secured.GET("/:id", regHandler.Get)
		secured.POST("/:id/cancel", regHandler.Cancel)
		secured.POST("/:id/letter", middleware.RequireRoles(models.RoleTeacher), regHandler.SubmitLetter)
		secured.GET("/:id/letter/link", regHandler.LetterLink)

		admin := secured.Group("", middleware.RequireRoles(models.RoleAdmin))
		admin.GET("", regHandler.List)
		admin.POST("/:id/approve", regHandler.Approve)
		admin.POST("/:id/reject", regHandler.Reject)
		admin.POST("/:id/complete", regHandler.Complete)
		admin.DELETE("/:id", regHandler.Delete)
	}

	if cfg.Articles.Enabled {
		api.GET("/articles", articleHandler.ListPublished)
		api.GET("/articles/:slug", articleHandler.GetBySlug)

		adminArticles := api.Group("/admin/articles", middleware.JWT(authSvc), middleware.RequireRoles(models.RoleAdmin))
		adminArticles.GET("", articleHandler.List)
		adminArticles.POST("", articleHandler.Create)
		adminArticles.PATCH("/:id", articleHandler.Update)
		adminArticles.DELETE("/:id", articleHandler.Delete)
	}

	dashboard := api.Group("/dashboard", middleware.JWT(authSvc), middleware.RequireRoles(models.RoleAdmin))
	dashboard.GET("", dashboardHandler.Summary)
	dashboard.GET("/metrics", dashboardHandler.Metrics)

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Sugar().Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("shutdown failed", "error", err)
	}
}

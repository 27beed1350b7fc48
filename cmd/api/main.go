package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/pageza/nutrilog/backend/config"
	"github.com/pageza/nutrilog/backend/internal/analysis"
	"github.com/pageza/nutrilog/backend/internal/api"
	"github.com/pageza/nutrilog/backend/internal/cache"
	"github.com/pageza/nutrilog/backend/internal/database"
	"github.com/pageza/nutrilog/backend/internal/i18n"
	"github.com/pageza/nutrilog/backend/internal/metrics"
	"github.com/pageza/nutrilog/backend/internal/middleware"
	"github.com/pageza/nutrilog/backend/internal/provider/mercadopago"
	"github.com/pageza/nutrilog/backend/internal/provider/nutritionix"
	"github.com/pageza/nutrilog/backend/internal/provider/openai"
	"github.com/pageza/nutrilog/backend/internal/queue"
	"github.com/pageza/nutrilog/backend/internal/router"
	"github.com/pageza/nutrilog/backend/internal/server"
	"github.com/pageza/nutrilog/backend/internal/service"
)

const trialSweepInterval = time.Hour

func newLogger() (*zap.Logger, error) {
	if config.GetEnvironment() == config.Development {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func main() {
	logger, err := newLogger()
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	if strings.EqualFold(cfg.GinMode, gin.ReleaseMode) {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := database.New(cfg, logger)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer func() { _ = db.Close() }()
	if err := database.RunMigrations(db.Gorm, logger); err != nil {
		logger.Fatal("failed to run migrations", zap.Error(err))
	}

	// Analysis cache and rate-limit counters share Redis when it is configured.
	var (
		analysisCache cache.Cache
		counter       middleware.WindowCounter
	)
	if cfg.RedisURL != "" {
		redisClient, err := database.NewRedisClient(cfg, logger)
		if err != nil {
			logger.Fatal("failed to connect to redis", zap.Error(err))
		}
		defer func() { _ = redisClient.Close() }()
		analysisCache = cache.NewRedis(redisClient, "nutrilog:analysis", cfg.CacheTTL)
		counter = middleware.NewRedisCounter(redisClient)
	} else {
		memory := cache.NewMemory(cfg.CacheTTL, cfg.CacheMaxEntries)
		memory.StartJanitor(ctx, time.Minute)
		analysisCache = memory
		counter = middleware.NewMemoryCounter(nil)
		logger.Info("REDIS_URL not set, using in-process cache")
	}

	pipeline := analysis.NewPipeline(analysisConfig(ctx, cfg, analysisCache, logger), logger)

	messages, err := i18n.NewManager(cfg.DefaultLanguage)
	if err != nil {
		logger.Fatal("failed to load message catalogs", zap.Error(err))
	}

	counters := metrics.NewCounters()
	recorders := metrics.Multi{counters, metrics.NewLogRecorder(logger)}
	if cfg.AMQPURL != "" {
		rabbit, err := queue.Dial(cfg.AMQPURL, logger)
		if err != nil {
			logger.Warn("dispatch records will not be published", zap.Error(err))
		} else {
			publisher := queue.NewDispatchPublisher(rabbit, cfg.DispatchQueue, 0, logger)
			defer func() {
				publisher.Close()
				_ = rabbit.Close()
			}()
			recorders = append(recorders, publisher)
		}
	}

	var lookup service.SubscriptionLookup
	if cfg.MercadoPagoAccessToken != "" {
		lookup = &mercadopago.Client{AccessToken: cfg.MercadoPagoAccessToken}
	} else {
		logger.Warn("MERCADOPAGO_ACCESS_TOKEN not set, payment webhooks will be retried by the processor")
	}

	users := service.NewUserService(db.Gorm, logger)
	stats := service.NewDailyStatsService(db.Gorm, cfg.DefaultTimezone, logger)
	subscriptions := service.NewSubscriptionService(db.Gorm, lookup, cfg.TrialPeriod(), logger)
	dispatcher := service.NewDispatcher(service.DispatcherDeps{
		Users:         users,
		Quiz:          service.NewQuizService(db.Gorm, messages, cfg.TrialPeriod(), logger),
		Analyzer:      pipeline,
		FoodLog:       service.NewFoodLogService(db.Gorm, stats, logger),
		Stats:         stats,
		Subscriptions: subscriptions,
		Messages:      messages,
		Recorder:      recorders,
	}, service.DispatcherConfig{
		PaymentLink:    cfg.PaymentLink,
		MaxUploadBytes: cfg.MaxUploadBytes,
	}, logger)

	opts := router.Options{
		Webhooks:     api.NewWebhookHandler(dispatcher, logger),
		Health:       api.NewHealthHandler(db, analysisCache, counters),
		WebhookToken: cfg.WebhookToken,
		CORSOrigins:  cfg.CORSOrigins,
		Logger:       logger,
	}
	if cfg.AdminEnabled() {
		auth := service.NewAuthService(cfg.AdminUsername, cfg.AdminPasswordHash, cfg.JWTSecret, cfg.AdminTokenTTL)
		opts.Admin = api.NewAdminHandler(auth, users, stats, logger)
		opts.Tokens = auth
		opts.RateLimiter = middleware.NewAdminRateLimiter(counter, cfg.RateLimitPerMin, logger)
	} else {
		logger.Info("admin API disabled")
	}

	go sweepTrials(ctx, subscriptions, logger)

	srv := server.New(cfg.ServerHost, cfg.ServerPort, router.SetupRouter(opts), logger)

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Start()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		if err != nil {
			logger.Fatal("server error", zap.Error(err))
		}
	case sig := <-quit:
		logger.Info("received signal", zap.String("signal", sig.String()))
	}

	cancel()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	logger.Info("server stopped")
}

// analysisConfig wires whichever analyzers have credentials. Unset analyzers stay nil
// interfaces so the pipeline falls back to the keyword estimate.
func analysisConfig(ctx context.Context, cfg *config.Config, c cache.Cache, logger *zap.Logger) analysis.Config {
	ac := analysis.Config{
		Cache:      c,
		Timeout:    cfg.AnalysisTimeout,
		CacheTTL:   cfg.CacheTTL,
		Downloader: analysis.NewHTTPDownloader(cfg.MaxUploadBytes, cfg.AnalysisTimeout),
	}
	if cfg.NutritionixAppID != "" && cfg.NutritionixAppKey != "" {
		ac.Text = &nutritionix.Client{AppID: cfg.NutritionixAppID, AppKey: cfg.NutritionixAppKey}
	} else {
		logger.Warn("nutritionix credentials not set, text analysis uses the keyword fallback")
	}
	if cfg.OpenAIAPIKey != "" {
		client := &openai.Client{APIKey: cfg.OpenAIAPIKey, BaseURL: cfg.OpenAIBaseURL}
		ac.Vision = client
		ac.Transcriber = client
	} else {
		logger.Warn("OPENAI_API_KEY not set, photo and voice analysis use the keyword fallback")
	}
	if cfg.S3BucketName != "" {
		store, err := config.NewS3Config(ctx, cfg)
		if err != nil {
			logger.Warn("media archiving disabled", zap.Error(err))
		} else {
			ac.Archiver = store
		}
	}
	return ac
}

func sweepTrials(ctx context.Context, subscriptions *service.SubscriptionService, logger *zap.Logger) {
	ticker := time.NewTicker(trialSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := subscriptions.ExpireTrials(ctx)
			if err != nil {
				logger.Warn("trial sweep failed", zap.Error(err))
				continue
			}
			if n > 0 {
				logger.Info("expired trials", zap.Int("count", n))
			}
		}
	}
}

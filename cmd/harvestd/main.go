package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dbca-wa/prs-harvester/internal/config"
	"github.com/dbca-wa/prs-harvester/internal/harvest"
	"github.com/dbca-wa/prs-harvester/internal/health"
	"github.com/dbca-wa/prs-harvester/internal/logger"
	"github.com/dbca-wa/prs-harvester/internal/mailbox"
	"github.com/dbca-wa/prs-harvester/internal/monitoring"
	"github.com/dbca-wa/prs-harvester/internal/regions"
	"github.com/dbca-wa/prs-harvester/internal/slip"
	"github.com/dbca-wa/prs-harvester/internal/storage"
	"github.com/dbca-wa/prs-harvester/internal/storage/memory"
	redisstore "github.com/dbca-wa/prs-harvester/internal/storage/redis"
	sqlstore "github.com/dbca-wa/prs-harvester/internal/storage/sql"
)

// main 启动常驻采集守护进程：按 cron 计划执行采集轮次，同时提供
// 健康检查与指标的 HTTP 端点。
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	// 初始化日志系统
	log, err := logger.New(logger.Config{
		Level:       cfg.Log.Level,
		Development: cfg.Log.Development,
	})
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	log.Info("starting prs-harvester daemon",
		zap.String("schedule", cfg.Harvest.Schedule),
		zap.String("log_level", cfg.Log.Level),
		zap.Bool("development", cfg.Log.Development),
	)

	// 初始化存储层
	var store storage.Store
	if cfg.Database.DSN != "" {
		store, err = sqlstore.NewStore(cfg.Database.DSN,
			cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns, cfg.Database.ConnMaxLifetime)
		if err != nil {
			panic(fmt.Sprintf("failed to initialize database storage: %v", err))
		}
		log.Info("using postgres storage")
	} else {
		store = memory.NewStore()
		log.Info("using memory storage (development mode)")
	}

	if err := harvest.EnsureDefaults(store, cfg.Harvest); err != nil {
		panic(fmt.Sprintf("failed to seed catalog defaults: %v", err))
	}

	// Redis 去重缓存（可选）
	var rdb *redis.Client
	var seen *redisstore.SeenCache
	if cfg.Redis.Address != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		seen = redisstore.NewSeenCache(rdb)
		log.Info("seen cache enabled", zap.String("address", cfg.Redis.Address))
	}

	metrics := monitoring.NewMetrics()
	healthChecker := health.NewHealthChecker(store, rdb, log)

	orchestrator := buildOrchestrator(cfg, store, seen, metrics, log)

	// 状态端点
	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/healthz", gin.WrapF(healthChecker.LiveHandler()))
	router.GET("/readyz", gin.WrapF(healthChecker.ReadyHandler()))
	router.GET("/metrics", gin.WrapH(monitoring.Handler()))
	router.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, healthChecker.CheckHealth())
	})

	httpAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	httpServer := &http.Server{
		Addr:              httpAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// 信号处理
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)

	// HTTP 服务器 goroutine
	group.Go(func() error {
		log.Info("starting status server", zap.String("address", httpAddr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("status server error", zap.Error(err))
			return err
		}
		return nil
	})

	// 定时采集 goroutine
	group.Go(func() error {
		scheduler := cron.New()
		_, err := scheduler.AddFunc(cfg.Harvest.Schedule, func() {
			if err := orchestrator.Run(groupCtx); err != nil {
				log.Error("harvest run failed", zap.Error(err))
			}
		})
		if err != nil {
			return fmt.Errorf("invalid harvest schedule %q: %w", cfg.Harvest.Schedule, err)
		}
		scheduler.Start()
		log.Info("harvest scheduler started", zap.String("schedule", cfg.Harvest.Schedule))

		<-groupCtx.Done()
		schedCtx := scheduler.Stop()
		// 等待进行中的轮次收尾。
		<-schedCtx.Done()
		log.Info("harvest scheduler stopped")
		return nil
	})

	// 优雅关闭 goroutine
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil && err != context.Canceled {
		log.Error("daemon exited with error", zap.Error(err))
	}
	log.Info("prs-harvester daemon stopped")
}

// buildOrchestrator 组装采集编排器的全部依赖。
func buildOrchestrator(cfg *config.Config, store storage.Store, seen *redisstore.SeenCache,
	metrics *monitoring.Metrics, log *zap.Logger) *harvest.Orchestrator {
	loc := cfg.Location()

	client := mailbox.NewClient(cfg.Mailbox, log)
	decoder := mailbox.NewDecoder(cfg.Mailbox.AssessorEmails, loc)
	resolver := regions.NewResolver(store, cfg.Harvest.DefaultRegion, log)

	var parcels harvest.ParcelQuerier
	if cfg.Slip.URL != "" {
		parcels = slip.NewClient(cfg.Slip, log)
	}

	var notifier harvest.Notifier
	if cfg.Notify.Host != "" {
		notifier = harvest.NewSMTPNotifier(cfg.Notify, cfg.Harvest.SummaryRecipients, log)
	}

	reconciler := harvest.NewReconciler(store, resolver, parcels, notifier, metrics, cfg.Harvest, loc, log)
	return harvest.NewOrchestrator(client, decoder, store, seen, reconciler, notifier,
		metrics, cfg.Mailbox, cfg.Harvest, log)
}

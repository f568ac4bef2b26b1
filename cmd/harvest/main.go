package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/dbca-wa/prs-harvester/internal/config"
	"github.com/dbca-wa/prs-harvester/internal/harvest"
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

// main 一次性采集命令，供人工运维与定时任务以外的场景使用。
func main() {
	ingest := flag.Bool("ingest", true, "从邮箱采集未读邮件入库")
	reconcile := flag.Bool("reconcile", true, "对未处理的入库邮件执行对账")
	purge := flag.Bool("purge", false, "采集成功后标记已读并标记删除")
	assignee := flag.String("assignee", "", "本次创建任务的指定受理人用户名")
	flag.Parse()

	if !*ingest && !*reconcile {
		fmt.Println("nothing to do: both -ingest=false and -reconcile=false")
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *purge {
		cfg.Harvest.PurgeEmail = true
	}

	log, err := logger.New(logger.Config{
		Level:       cfg.Log.Level,
		Development: cfg.Log.Development,
	})
	if err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	var store storage.Store
	if cfg.Database.DSN != "" {
		store, err = sqlstore.NewStore(cfg.Database.DSN,
			cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns, cfg.Database.ConnMaxLifetime)
		if err != nil {
			fmt.Printf("failed to initialize database storage: %v\n", err)
			os.Exit(1)
		}
	} else {
		store = memory.NewStore()
		log.Warn("no database configured, using volatile memory storage")
	}

	if err := harvest.EnsureDefaults(store, cfg.Harvest); err != nil {
		fmt.Printf("failed to seed catalog defaults: %v\n", err)
		os.Exit(1)
	}

	var seen *redisstore.SeenCache
	if cfg.Redis.Address != "" {
		seen = redisstore.NewSeenCache(redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}))
	}

	loc := cfg.Location()
	resolver := regions.NewResolver(store, cfg.Harvest.DefaultRegion, log)

	var parcels harvest.ParcelQuerier
	if cfg.Slip.URL != "" {
		parcels = slip.NewClient(cfg.Slip, log)
	}
	var notifier harvest.Notifier
	if cfg.Notify.Host != "" {
		notifier = harvest.NewSMTPNotifier(cfg.Notify, cfg.Harvest.SummaryRecipients, log)
	}

	metrics := monitoring.NewMetrics()
	reconciler := harvest.NewReconciler(store, resolver, parcels, notifier, metrics, cfg.Harvest, loc, log)
	orchestrator := harvest.NewOrchestrator(
		mailbox.NewClient(cfg.Mailbox, log),
		mailbox.NewDecoder(cfg.Mailbox.AssessorEmails, loc),
		store, seen, reconciler, notifier,
		metrics, cfg.Mailbox, cfg.Harvest, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *ingest {
		n, err := orchestrator.Ingest(ctx)
		if err != nil {
			log.Error("ingest failed", zap.Error(err))
			os.Exit(1)
		}
		fmt.Printf("ingested %d new message(s)\n", n)
	}

	if *reconcile {
		summary, err := orchestrator.Reconcile(ctx, *assignee)
		if err != nil {
			log.Error("reconcile failed", zap.Error(err))
			os.Exit(1)
		}
		for _, line := range summary {
			fmt.Println(line)
		}
		if notifier != nil {
			if err := notifier.HarvestSummary(ctx, summary); err != nil {
				log.Warn("summary notification failed", zap.Error(err))
			}
		}
	}
}

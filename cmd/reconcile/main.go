package main

import (
	"context"
	"flag"
	"log"
	"os"
	"strings"
	"time"

	"github.com/qs3c/paygate_server/config"
	"github.com/qs3c/paygate_server/internal/catalog"
	"github.com/qs3c/paygate_server/internal/database"
	"github.com/qs3c/paygate_server/internal/entitlement"
	"github.com/qs3c/paygate_server/internal/payment"
	"github.com/qs3c/paygate_server/internal/pkg/paystack"
	"github.com/qs3c/paygate_server/internal/repository"
	"github.com/qs3c/paygate_server/internal/service"
)

var (
	dryRun      = flag.Bool("dry-run", true, "Dry run mode, only list orphaned payments")
	orphanAfter = flag.Duration("orphan-after", 0, "Pending payments older than this are reconciled (default from config)")
	batchSize   = flag.Int("batch", 0, "Max payments per run (default from config)")
)

// 一次性对账：对遗留的 pending 流水向网关查询一次
func main() {
	flag.Parse()

	log.Println("Starting reconcile task...")
	log.Printf("Mode: dry-run=%v", *dryRun)

	// 加载配置
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *orphanAfter <= 0 {
		*orphanAfter = cfg.Reconcile.OrphanAfter
	}
	if *batchSize <= 0 {
		*batchSize = cfg.Reconcile.BatchSize
	}

	// 连接数据库
	db, err := database.Open(&cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	ledger := repository.NewLedgerRepository(db)
	orphans, err := ledger.ListOrphans(time.Now().Add(-*orphanAfter), *batchSize)
	if err != nil {
		log.Fatalf("Failed to query orphaned payments: %v", err)
	}

	log.Printf("Found %d pending payments older than %s", len(orphans), *orphanAfter)
	for _, o := range orphans {
		log.Printf("  - %s user=%d plan=%s %d %s (%s old)",
			o.Reference, o.UserID, o.PlanID, o.AmountMinor, o.Currency,
			time.Since(o.CreatedAt).Round(time.Minute))
	}

	if *dryRun || len(orphans) == 0 {
		if *dryRun {
			log.Println("DRY RUN MODE - nothing was changed")
			log.Println("   Run with -dry-run=false to query the gateway")
		}
		return
	}

	cat, err := catalog.New(cfg.Plans)
	if err != nil {
		log.Fatalf("Invalid plan catalog: %v", err)
	}
	engine, err := entitlement.NewEngineFromConfig(cfg.Entitlement)
	if err != nil {
		log.Fatalf("Invalid entitlement policy: %v", err)
	}

	gateway := paystack.NewClient(cfg.Payment.BaseURL, cfg.Payment.SecretKey, cfg.Payment.VerifyTimeout)
	payments := service.NewPaymentService(db, cat, engine, payment.NewRelay(gateway), payment.OptionsFromConfig(cfg.Payment))
	defer payments.Shutdown()

	n, err := payments.ReconcileOrphans(context.Background(), *orphanAfter, *batchSize)
	if err != nil {
		log.Fatalf("Reconcile failed: %v", err)
	}

	log.Println(strings.Repeat("=", 60))
	log.Printf("Reconciled %d of %d payments", n, len(orphans))
	log.Println(strings.Repeat("=", 60))
}

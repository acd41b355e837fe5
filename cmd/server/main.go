package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/qs3c/paygate_server/config"
	"github.com/qs3c/paygate_server/internal/api"
	"github.com/qs3c/paygate_server/internal/api/handler"
	"github.com/qs3c/paygate_server/internal/catalog"
	"github.com/qs3c/paygate_server/internal/database"
	"github.com/qs3c/paygate_server/internal/entitlement"
	"github.com/qs3c/paygate_server/internal/payment"
	"github.com/qs3c/paygate_server/internal/pkg/cron"
	"github.com/qs3c/paygate_server/internal/pkg/email"
	"github.com/qs3c/paygate_server/internal/pkg/oss"
	"github.com/qs3c/paygate_server/internal/pkg/paystack"
	"github.com/qs3c/paygate_server/internal/pkg/pubsub"
	"github.com/qs3c/paygate_server/internal/pkg/queue"
	"github.com/qs3c/paygate_server/internal/pkg/ws"
	"github.com/qs3c/paygate_server/internal/remotesync"
	"github.com/qs3c/paygate_server/internal/repository"
	"github.com/qs3c/paygate_server/internal/service"
	"github.com/qs3c/paygate_server/internal/worker"
)

func main() {
	// 加载配置
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 初始化数据库
	db, err := database.Open(&cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect database: %v", err)
	}
	log.Println("Database connected")

	// 初始化 Redis
	rdb, err := database.NewRedis(&cfg.Redis)
	if err != nil {
		log.Fatalf("Failed to connect redis: %v", err)
	}
	log.Println("Redis connected")

	// 套餐目录与权益策略
	cat, err := catalog.New(cfg.Plans)
	if err != nil {
		log.Fatalf("Invalid plan catalog: %v", err)
	}
	engine, err := entitlement.NewEngineFromConfig(cfg.Entitlement)
	if err != nil {
		log.Fatalf("Invalid entitlement policy: %v", err)
	}

	// 支付网关
	gateway := paystack.NewClient(cfg.Payment.BaseURL, cfg.Payment.SecretKey, cfg.Payment.VerifyTimeout)
	relay := payment.NewRelay(gateway)

	// 远端同步：OSS 由 worker 进程消费队列，未配置时进程内同步
	var syncer *remotesync.Syncer
	inlineSync := false
	if store := newObjectStore(cfg); store != nil {
		syncer = remotesync.NewSyncer(store, repository.NewLedgerRepository(db), queue.NewQueue(rdb, cfg.Queue.SyncQueue))
	} else {
		log.Println("OSS not configured, remote history kept in memory")
		syncer = remotesync.NewSyncer(remotesync.NewMemoryStore(), repository.NewLedgerRepository(db), nil)
		inlineSync = true
	}

	options := []service.PaymentOption{
		service.WithSyncer(syncer),
		service.WithPublisher(pubsub.NewPublisher(rdb)),
		service.WithWebhook(cfg.Payment.WebhookSecret, paystack.NewEventStore(rdb)),
	}
	if mailer := email.NewService(&cfg.Email); mailer.Enabled() {
		options = append(options, service.WithReceipts(mailer))
		log.Println("Receipt emails enabled")
	}

	// 初始化 Service
	authService := service.NewAuthService(repository.NewUserRepository(db), cfg)
	accessService := service.NewAccessService(repository.NewEntitlementRepository(db), engine)
	paymentService := service.NewPaymentService(db, cat, engine, relay, payment.OptionsFromConfig(cfg.Payment), options...)

	// WebSocket Hub 订阅支付结果
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	wsHub := ws.NewHub()
	go wsHub.Run(ctx, pubsub.NewSubscriber(rdb))
	log.Println("WebSocket hub started")

	if inlineSync {
		go worker.NewResyncer(syncer, &cfg.Reconcile).Start(ctx)
	}

	// 定时对账
	cronService := cron.NewService(paymentService, &cfg.Reconcile)
	cronService.Start()

	// 初始化 Router
	router := api.NewRouter(
		handler.NewAuthHandler(authService),
		handler.NewPlanHandler(cat),
		handler.NewEntitlementHandler(accessService, paymentService),
		handler.NewPaymentHandler(paymentService),
		handler.NewWebSocketHandler(wsHub, cfg.CORS.AllowedOrigins),
		accessService,
		cfg,
	)

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: router.Setup(),
	}

	go func() {
		log.Printf("Server starting on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// 监听退出信号
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	log.Println("Received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown: %v", err)
	}

	// 进行中的支付保持 pending，由对账补齐
	cronService.Stop()
	paymentService.Shutdown()
	cancel()
	log.Println("Server shutdown complete")
}

// newObjectStore 未配置 OSS 或初始化失败时返回 nil
func newObjectStore(cfg *config.Config) remotesync.Store {
	if cfg.OSS.Endpoint == "" || cfg.OSS.AccessKeyID == "" {
		return nil
	}

	client, err := oss.NewClient(&cfg.OSS)
	if err != nil {
		log.Printf("Warning: Failed to init OSS client: %v", err)
		return nil
	}
	log.Println("OSS client initialized")
	return remotesync.NewObjectBackedStore(client)
}

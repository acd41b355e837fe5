package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/qs3c/paygate_server/config"
	"github.com/qs3c/paygate_server/internal/database"
	"github.com/qs3c/paygate_server/internal/pkg/oss"
	"github.com/qs3c/paygate_server/internal/pkg/queue"
	"github.com/qs3c/paygate_server/internal/remotesync"
	"github.com/qs3c/paygate_server/internal/repository"
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

	// 远端存储只支持 OSS，进程内存储无法跨进程共享
	if cfg.OSS.Endpoint == "" || cfg.OSS.AccessKeyID == "" {
		log.Fatal("OSS is not configured, remote sync runs inside the server")
	}
	ossClient, err := oss.NewClient(&cfg.OSS)
	if err != nil {
		log.Fatalf("Failed to init OSS client: %v", err)
	}
	log.Println("OSS client initialized")

	syncQueue := queue.NewQueue(rdb, cfg.Queue.SyncQueue)
	syncer := remotesync.NewSyncer(remotesync.NewObjectBackedStore(ossClient), repository.NewLedgerRepository(db), syncQueue)

	// 创建 context 用于优雅关闭
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 监听退出信号
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Println("Received shutdown signal")
		cancel()
	}()

	// 定期重传同步失败的流水
	go worker.NewResyncer(syncer, &cfg.Reconcile).Start(ctx)

	log.Printf("Worker started, max workers: %d", cfg.Queue.MaxWorkers)
	worker.Run(ctx, syncQueue, worker.NewProcessor(syncer), cfg.Queue.MaxWorkers)
	log.Println("Worker shutdown complete")
}

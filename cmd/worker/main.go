package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"bankledger/internal/config"
	"bankledger/internal/infrastructure/cache"
	"bankledger/internal/infrastructure/database"
	"bankledger/internal/infrastructure/mq"
	"bankledger/internal/job"
	"bankledger/pkg/idgen"
)

// 账务 worker 进程：负责把已落库的账务事件异步投递到 Kafka。
// 账务核心本身是进程内库，由外部请求层引用 internal/service 直接调用。
func main() {
	// 加载配置
	cfg := config.LoadConfig("config/config.yaml")

	// 初始化 ID 生成器
	idgen.Init(1)

	// 初始化 MySQL
	db := database.InitMySQL(&cfg.MySQL)

	// 初始化 Redis
	redisClient := cache.InitRedis(&cfg.Redis)

	// 初始化 Kafka
	producer := mq.InitKafka(&cfg.Kafka)
	defer producer.Close()

	// 创建上下文（用于优雅关闭）
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 启动出盒投递任务
	relay := job.NewOutboxRelay(db, redisClient, cfg, producer)
	go relay.Start(ctx)

	log.Println("账务 worker 启动完成")

	// 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("正在关闭 worker...")
	cancel()
	log.Println("worker 已关闭")
}

package job

import (
	"context"
	"log"
	"time"

	"bankledger/internal/config"
	"bankledger/internal/infrastructure/lock"
	"bankledger/internal/model"
	"bankledger/internal/repository"
	"bankledger/pkg/idgen"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// Publisher 消息投递出口，生产环境为 Kafka 生产者
type Publisher interface {
	Publish(topic, key, payload string) error
}

// OutboxRelay 出盒消息投递任务
// 轮询 PENDING 状态的账务事件并投递到 Kafka，投递失败按配置重试，
// 超过最大重试次数标记为 FAILED 等待人工介入
type OutboxRelay struct {
	db          *gorm.DB
	redisClient *redis.Client
	outboxRepo  *repository.OutboxRepository
	cfg         *config.Config
	publisher   Publisher
	stopCh      chan struct{}
	interval    time.Duration
	batchSize   int
}

func NewOutboxRelay(db *gorm.DB, redisClient *redis.Client, cfg *config.Config, publisher Publisher) *OutboxRelay {
	interval := 100 * time.Millisecond
	if cfg.Worker.OutboxIntervalMs > 0 {
		interval = time.Duration(cfg.Worker.OutboxIntervalMs) * time.Millisecond
	}
	batchSize := 100
	if cfg.Worker.OutboxBatchSize > 0 {
		batchSize = cfg.Worker.OutboxBatchSize
	}
	return &OutboxRelay{
		db:          db,
		redisClient: redisClient,
		outboxRepo:  repository.NewOutboxRepository(db),
		cfg:         cfg,
		publisher:   publisher,
		stopCh:      make(chan struct{}),
		interval:    interval,
		batchSize:   batchSize,
	}
}

func (s *OutboxRelay) Start(ctx context.Context) {
	log.Println("[OutboxRelay] 账务事件投递任务启动")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[OutboxRelay] 收到停止信号，任务退出")
			return
		case <-s.stopCh:
			log.Println("[OutboxRelay] 任务停止")
			return
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *OutboxRelay) Stop() {
	close(s.stopCh)
}

// runOnce 执行一轮投递
// 多实例部署时用投递锁保证同一轮只有一个实例在拉取，抢不到锁就跳过本轮
func (s *OutboxRelay) runOnce(ctx context.Context) {
	if s.redisClient != nil {
		relayLock := lock.NewRelayLock(s.redisClient, idgen.GenerateLockToken())
		acquired, err := relayLock.TryLock(ctx)
		if err != nil {
			log.Printf("[OutboxRelay] 获取投递锁失败: %v", err)
			return
		}
		if !acquired {
			return
		}
		defer relayLock.Unlock(ctx)
	}

	s.processPendingMessages(ctx)
}

func (s *OutboxRelay) processPendingMessages(ctx context.Context) {
	messages, err := s.outboxRepo.GetPendingMessages(ctx, s.batchSize)
	if err != nil {
		log.Printf("[OutboxRelay] 查询消息失败: %v", err)
		return
	}

	for _, msg := range messages {
		s.sendMessage(ctx, msg)
	}
}

func (s *OutboxRelay) sendMessage(ctx context.Context, msg *model.OutboxMessage) {
	err := s.publisher.Publish(msg.Topic, msg.MessageKey, msg.Payload)

	if err == nil {
		if updateErr := s.outboxRepo.UpdateStatus(ctx, msg.ID, model.OutboxStatusSent); updateErr != nil {
			log.Printf("[OutboxRelay] 更新消息状态失败: id=%d, err=%v", msg.ID, updateErr)
		} else {
			log.Printf("[OutboxRelay] 消息投递成功: id=%d, topic=%s, key=%s", msg.ID, msg.Topic, msg.MessageKey)
		}
		return
	}

	log.Printf("[OutboxRelay] 消息投递失败: id=%d, err=%v", msg.ID, err)

	if msg.RetryCount+1 >= s.cfg.Business.MaxRetryCount {
		if err := s.outboxRepo.MarkAsFailed(ctx, msg.ID); err != nil {
			log.Printf("[OutboxRelay] 标记消息失败状态失败: id=%d, err=%v", msg.ID, err)
		} else {
			log.Printf("[OutboxRelay] 消息超过最大重试次数，标记为失败: id=%d", msg.ID)
		}
		return
	}

	if err := s.outboxRepo.IncrementRetryCount(ctx, msg.ID); err != nil {
		log.Printf("[OutboxRelay] 增加重试次数失败: id=%d, err=%v", msg.ID, err)
	}
}

package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// ============================================================================
// 分布式锁实现
// ============================================================================
//
// 加锁：SET key value NX EX timeout
//   - NX: 只有 key 不存在时才设置（保证互斥）
//   - EX: 设置过期时间（防止死锁）
//   - value: 锁持有者令牌（释放时验证，防止误删别人的锁）
//
// 释放锁：Lua 脚本先校验 value 再删除 key，保证"检查+删除"原子性
//
// 账务场景下锁只是第一道闸门：同一账户的出金/转账在多实例间串行化。
// 真正兜底的是数据库层的条件更新，锁失效也不会出现超扣。
//
// ============================================================================

var (
	ErrLockFailed  = errors.New("获取分布式锁失败")
	ErrLockExpired = errors.New("锁已过期")
)

// DistributedLock 分布式锁
type DistributedLock struct {
	client     *redis.Client
	key        string        // 锁的 key
	value      string        // 锁的 value（用于验证锁的持有者）
	expiration time.Duration // 锁的过期时间
}

// NewDistributedLock 创建分布式锁
func NewDistributedLock(client *redis.Client, key, value string, expiration time.Duration) *DistributedLock {
	return &DistributedLock{
		client:     client,
		key:        key,
		value:      value,
		expiration: expiration,
	}
}

// TryLock 尝试获取锁（非阻塞）
func (l *DistributedLock) TryLock(ctx context.Context) (bool, error) {
	success, err := l.client.SetNX(ctx, l.key, l.value, l.expiration).Result()
	if err != nil {
		return false, err
	}
	return success, nil
}

// Lock 阻塞式获取锁（带重试）
func (l *DistributedLock) Lock(ctx context.Context, retryInterval time.Duration, maxRetries int) error {
	for i := 0; i < maxRetries; i++ {
		success, err := l.TryLock(ctx)
		if err != nil {
			return err
		}
		if success {
			return nil
		}
		// 等待一段时间后重试
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryInterval):
			// 继续重试
		}
	}
	return ErrLockFailed
}

// Unlock 释放锁
// 只删除自己持有的锁：锁过期后被他人抢占时，不能误删对方的锁
func (l *DistributedLock) Unlock(ctx context.Context) error {
	script := `
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			return redis.call("DEL", KEYS[1])
		else
			return 0
		end
	`
	_, err := l.client.Eval(ctx, script, []string{l.key}, l.value).Result()
	return err
}

// ============================================================================
// 便捷函数
// ============================================================================

// NewAccountLock 创建账户锁（按账户号维度）
// 不同账户可以并发操作，同一账户的出金/转账串行化
func NewAccountLock(client *redis.Client, accountNumber, token string) *DistributedLock {
	key := fmt.Sprintf("ledger:lock:account:%s", accountNumber)
	return NewDistributedLock(client, key, token, 30*time.Second)
}

// NewRelayLock 创建出盒投递锁
// 多个 worker 实例同时运行时，同一轮只有一个实例拉取待投递消息
func NewRelayLock(client *redis.Client, token string) *DistributedLock {
	return NewDistributedLock(client, "ledger:lock:outbox-relay", token, 10*time.Second)
}

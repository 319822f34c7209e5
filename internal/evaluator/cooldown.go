package evaluator

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// CooldownStore 冷却窗口状态管理器
//
// 同一用户同一事件类型在冷却窗口内只允许触发一次，重复抑制由
// 规则评估器负责，不下放给投递子系统
type CooldownStore struct {
	redisClient *redis.Client
	keyPrefix   string
	logger      *zap.Logger
}

// NewCooldownStore 创建冷却状态管理器
func NewCooldownStore(redisClient *redis.Client, keyPrefix string, logger *zap.Logger) *CooldownStore {
	if keyPrefix == "" {
		keyPrefix = "wellness:cooldown:"
	}
	return &CooldownStore{
		redisClient: redisClient,
		keyPrefix:   keyPrefix,
		logger:      logger,
	}
}

// cooldownKey 构建冷却状态键
func (c *CooldownStore) cooldownKey(userID, eventType string) string {
	return fmt.Sprintf("%s%s:%s", c.keyPrefix, userID, eventType)
}

// TryAcquire 尝试占用冷却窗口
// 返回 true 表示窗口空闲且已占用（允许触发）；false 表示窗口内已触发过（抑制）
func (c *CooldownStore) TryAcquire(ctx context.Context, userID, eventType string, window time.Duration) (bool, error) {
	key := c.cooldownKey(userID, eventType)

	acquired, err := c.redisClient.SetNX(ctx, key, time.Now().Unix(), window).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire cooldown: %w", err)
	}
	return acquired, nil
}

// Clear 清除冷却状态（测试和人工干预用）
func (c *CooldownStore) Clear(ctx context.Context, userID, eventType string) error {
	if err := c.redisClient.Del(ctx, c.cooldownKey(userID, eventType)).Err(); err != nil {
		return fmt.Errorf("failed to clear cooldown: %w", err)
	}
	return nil
}

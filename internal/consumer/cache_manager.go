package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"wisefido-wellness/internal/config"
	"wisefido-wellness/internal/models"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// CacheManager Redis 缓存管理器
// 缓存每个用户最新一天的融合记录与评分，供查询接口直接读取
type CacheManager struct {
	config      *config.Config
	redisClient *redis.Client
	logger      *zap.Logger
}

// NewCacheManager 创建缓存管理器
func NewCacheManager(
	cfg *config.Config,
	redisClient *redis.Client,
	logger *zap.Logger,
) *CacheManager {
	return &CacheManager{
		config:      cfg,
		redisClient: redisClient,
		logger:      logger,
	}
}

// fusedKey 融合记录缓存键
func (c *CacheManager) fusedKey(userID string) string {
	return fmt.Sprintf("%s%s%s",
		c.config.Fusion.Cache.KeyPrefix,
		userID,
		c.config.Fusion.Cache.FusedSuffix,
	)
}

// scoreKey 评分缓存键
func (c *CacheManager) scoreKey(userID string) string {
	return fmt.Sprintf("%s%s%s",
		c.config.Fusion.Cache.KeyPrefix,
		userID,
		c.config.Fusion.Cache.ScoreSuffix,
	)
}

// UpdateFusedRecord 更新融合记录缓存
func (c *CacheManager) UpdateFusedRecord(ctx context.Context, fused *models.FusedRecord) error {
	jsonData, err := json.Marshal(fused)
	if err != nil {
		return fmt.Errorf("failed to marshal fused record: %w", err)
	}

	ttl := time.Duration(c.config.Fusion.Cache.TTL) * time.Second
	if err := c.redisClient.Set(ctx, c.fusedKey(fused.UserID), jsonData, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set fused record cache: %w", err)
	}

	c.logger.Debug("Updated fused record cache",
		zap.String("user_id", fused.UserID),
		zap.String("day", fused.Day),
	)
	return nil
}

// UpdateScores 更新评分缓存
func (c *CacheManager) UpdateScores(ctx context.Context, scores *models.ScoreSet) error {
	jsonData, err := json.Marshal(scores)
	if err != nil {
		return fmt.Errorf("failed to marshal scores: %w", err)
	}

	ttl := time.Duration(c.config.Fusion.Cache.TTL) * time.Second
	if err := c.redisClient.Set(ctx, c.scoreKey(scores.UserID), jsonData, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set score cache: %w", err)
	}
	return nil
}

// GetFusedRecord 从缓存读取融合记录
func (c *CacheManager) GetFusedRecord(ctx context.Context, userID string) (*models.FusedRecord, error) {
	val, err := c.redisClient.Get(ctx, c.fusedKey(userID)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, fmt.Errorf("fused record not cached for user: %s", userID)
		}
		return nil, fmt.Errorf("failed to get fused record cache: %w", err)
	}

	var fused models.FusedRecord
	if err := json.Unmarshal([]byte(val), &fused); err != nil {
		return nil, fmt.Errorf("failed to unmarshal fused record: %w", err)
	}
	return &fused, nil
}

// GetScores 从缓存读取评分
func (c *CacheManager) GetScores(ctx context.Context, userID string) (*models.ScoreSet, error) {
	val, err := c.redisClient.Get(ctx, c.scoreKey(userID)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, fmt.Errorf("scores not cached for user: %s", userID)
		}
		return nil, fmt.Errorf("failed to get score cache: %w", err)
	}

	var scores models.ScoreSet
	if err := json.Unmarshal([]byte(val), &scores); err != nil {
		return nil, fmt.Errorf("failed to unmarshal scores: %w", err)
	}
	return &scores, nil
}

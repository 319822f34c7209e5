package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"wisefido-wellness/internal/config"
	"wisefido-wellness/internal/models"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// Metrics 消费监控指标
type Metrics struct {
	mu sync.RWMutex

	// 消息处理统计
	MessagesProcessed int64 // 处理的消息总数
	MessagesSucceeded int64 // 成功处理的消息数
	MessagesFailed    int64 // 处理失败的消息数
	MessagesSkipped   int64 // 跳过的消息数（记录不完整等）

	// 错误分类统计
	ErrorsParse  int64 // 解析错误
	ErrorsIngest int64 // 摄入/融合流水线错误

	// 性能指标
	TotalProcessingTime time.Duration
	LastProcessTime     time.Time

	StartTime time.Time
}

// GetSnapshot 获取指标快照（线程安全）
func (m *Metrics) GetSnapshot() Metrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Metrics{
		MessagesProcessed:   m.MessagesProcessed,
		MessagesSucceeded:   m.MessagesSucceeded,
		MessagesFailed:      m.MessagesFailed,
		MessagesSkipped:     m.MessagesSkipped,
		ErrorsParse:         m.ErrorsParse,
		ErrorsIngest:        m.ErrorsIngest,
		TotalProcessingTime: m.TotalProcessingTime,
		LastProcessTime:     m.LastProcessTime,
		StartTime:           m.StartTime,
	}
}

// IncrementProcessed 增加处理计数
func (m *Metrics) IncrementProcessed() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.MessagesProcessed++
}

// IncrementSucceeded 增加成功计数
func (m *Metrics) IncrementSucceeded(duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.MessagesSucceeded++
	m.TotalProcessingTime += duration
	m.LastProcessTime = time.Now()
}

// IncrementFailed 增加失败计数
func (m *Metrics) IncrementFailed(errorType string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.MessagesFailed++
	switch errorType {
	case "parse":
		m.ErrorsParse++
	case "ingest":
		m.ErrorsIngest++
	}
}

// IncrementSkipped 增加跳过计数
func (m *Metrics) IncrementSkipped() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.MessagesSkipped++
}

// RecordIngester 记录摄入接口（由 service 层实现）
type RecordIngester interface {
	// SubmitRecord 提交一条 Provider 记录并触发该 (user, day) 的融合流水线
	SubmitRecord(ctx context.Context, record *models.DailyBiometricRecord) error
}

// StreamConsumer Redis Streams 摄入消费者
//
// 消费 Provider 适配层发布的每日记录，逐条交给摄入服务：
// 同键重复提交表示记录更新，会触发该 (user, day) 的重新融合
type StreamConsumer struct {
	config      *config.Config
	redisClient *redis.Client
	ingester    RecordIngester
	logger      *zap.Logger
	metrics     *Metrics
}

// NewStreamConsumer 创建 Streams 消费者
func NewStreamConsumer(
	cfg *config.Config,
	redisClient *redis.Client,
	ingester RecordIngester,
	logger *zap.Logger,
) *StreamConsumer {
	return &StreamConsumer{
		config:      cfg,
		redisClient: redisClient,
		ingester:    ingester,
		logger:      logger,
		metrics: &Metrics{
			StartTime: time.Now(),
		},
	}
}

// Start 启动消费者
func (c *StreamConsumer) Start(ctx context.Context) error {
	stream := c.config.Fusion.Stream.Input
	if err := CreateConsumerGroup(ctx, c.redisClient, stream, c.config.Fusion.Stream.ConsumerGroup); err != nil {
		return fmt.Errorf("failed to create consumer group for %s: %w", stream, err)
	}

	c.logger.Info("Stream consumer started",
		zap.String("consumer_group", c.config.Fusion.Stream.ConsumerGroup),
		zap.String("consumer_name", c.config.Fusion.Stream.ConsumerName),
		zap.String("stream", stream),
	)

	// 启动指标报告协程
	metricsCtx, metricsCancel := context.WithCancel(ctx)
	defer metricsCancel()
	go c.reportMetrics(metricsCtx)

	// 消费循环（读失败时指数退避）
	backoffDuration := time.Second
	maxBackoff := 30 * time.Second

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Stream consumer stopped")
			return nil
		default:
			if err := c.consumeStream(ctx, stream); err != nil {
				c.logger.Error("Failed to consume stream",
					zap.Error(err),
					zap.Duration("backoff", backoffDuration),
				)

				select {
				case <-ctx.Done():
					return nil
				case <-time.After(backoffDuration):
					backoffDuration *= 2
					if backoffDuration > maxBackoff {
						backoffDuration = maxBackoff
					}
				}
			} else {
				backoffDuration = time.Second
			}
		}
	}
}

// consumeStream 消费一批消息
func (c *StreamConsumer) consumeStream(ctx context.Context, stream string) error {
	messages, err := ReadFromStream(
		ctx,
		c.redisClient,
		stream,
		c.config.Fusion.Stream.ConsumerGroup,
		c.config.Fusion.Stream.ConsumerName,
		c.config.Fusion.BatchSize,
	)
	if err != nil {
		return fmt.Errorf("failed to read from stream: %w", err)
	}

	for _, msg := range messages {
		c.metrics.IncrementProcessed()
		if err := c.processMessage(ctx, msg); err != nil {
			c.logger.Error("Failed to process message",
				zap.String("stream_id", msg.ID),
				zap.Error(err),
			)
			// 继续处理下一条消息，不中断
		}
		// 无论成败都确认，失败的消息依赖适配层重新提交
		if err := AckMessage(ctx, c.redisClient, stream, c.config.Fusion.Stream.ConsumerGroup, msg.ID); err != nil {
			c.logger.Warn("Failed to ack message",
				zap.String("stream_id", msg.ID),
				zap.Error(err),
			)
		}
	}

	return nil
}

// processMessage 处理单条消息
//
// 处理流程：
// 1. 解析消息中的 DailyBiometricRecord
// 2. 校验必填键 (provider_id, user_id, day)
// 3. 交给摄入服务（存储 + 重新融合 + 评分 + 规则评估 + 投递）
func (c *StreamConsumer) processMessage(ctx context.Context, msg StreamMessage) error {
	startTime := time.Now()

	var dataStr string
	if val, ok := msg.Values["data"]; ok {
		if str, ok := val.(string); ok {
			dataStr = str
		} else {
			c.metrics.IncrementFailed("parse")
			return fmt.Errorf("invalid data format in message")
		}
	} else {
		c.metrics.IncrementFailed("parse")
		return fmt.Errorf("missing data field in message")
	}

	var record models.DailyBiometricRecord
	if err := json.Unmarshal([]byte(dataStr), &record); err != nil {
		c.metrics.IncrementFailed("parse")
		return fmt.Errorf("failed to unmarshal biometric record: %w", err)
	}

	if record.ProviderID == "" || record.UserID == "" || record.Day == "" {
		c.metrics.IncrementSkipped()
		c.logger.Warn("Skipping record with missing key fields",
			zap.String("provider_id", record.ProviderID),
			zap.String("user_id", record.UserID),
			zap.String("day", record.Day),
		)
		return nil
	}
	if record.ReceivedAt.IsZero() {
		record.ReceivedAt = time.Now()
	}

	if err := c.ingester.SubmitRecord(ctx, &record); err != nil {
		c.metrics.IncrementFailed("ingest")
		return fmt.Errorf("failed to submit record: %w", err)
	}

	processingDuration := time.Since(startTime)
	c.metrics.IncrementSucceeded(processingDuration)

	c.logger.Info("Ingested biometric record",
		zap.String("provider_id", record.ProviderID),
		zap.String("user_id", record.UserID),
		zap.String("day", record.Day),
		zap.Duration("processing_time", processingDuration),
	)

	return nil
}

// reportMetrics 定期报告指标（每60秒）
func (c *StreamConsumer) reportMetrics(ctx context.Context) {
	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snapshot := c.metrics.GetSnapshot()
			uptime := time.Since(snapshot.StartTime)

			var avgProcessingTime time.Duration
			if snapshot.MessagesSucceeded > 0 {
				avgProcessingTime = snapshot.TotalProcessingTime / time.Duration(snapshot.MessagesSucceeded)
			}

			c.logger.Info("Stream consumer metrics",
				zap.Int64("processed", snapshot.MessagesProcessed),
				zap.Int64("succeeded", snapshot.MessagesSucceeded),
				zap.Int64("failed", snapshot.MessagesFailed),
				zap.Int64("skipped", snapshot.MessagesSkipped),
				zap.Int64("errors_parse", snapshot.ErrorsParse),
				zap.Int64("errors_ingest", snapshot.ErrorsIngest),
				zap.Duration("avg_processing_time", avgProcessingTime),
				zap.Duration("uptime", uptime),
			)
		}
	}
}

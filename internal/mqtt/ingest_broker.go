package mqtt

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"wisefido-wellness/internal/config"
	"wisefido-wellness/internal/consumer"
	"wisefido-wellness/internal/models"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// SubmitEnvelope Provider 适配层提交报文
//
// 报文格式：
//
//	{
//	  "signature": "<hex(HMAC-SHA256(secret, record))>",
//	  "record": { ... DailyBiometricRecord ... }
//	}
type SubmitEnvelope struct {
	Signature string          `json:"signature"`
	Record    json.RawMessage `json:"record"`
}

// IngestBroker Provider 记录提交消息模块
//
// 订阅适配层提交主题，验签后把记录发布到摄入流。
// 核心引擎只消费摄入流，验签失败的报文不进入核心
type IngestBroker struct {
	config      *config.Config
	redisClient *redis.Client
	logger      *zap.Logger
}

// NewIngestBroker 创建 Ingest Broker
func NewIngestBroker(
	cfg *config.Config,
	redisClient *redis.Client,
	logger *zap.Logger,
) *IngestBroker {
	return &IngestBroker{
		config:      cfg,
		redisClient: redisClient,
		logger:      logger,
	}
}

// HandleMessage 处理 MQTT 提交报文
//
// 处理流程：
// 1. 解析提交信封（signature + record）
// 2. 验证 HMAC-SHA256 签名
// 3. 校验记录必填键 (provider_id, user_id, day)
// 4. 发布到摄入流，交给 Streams 消费者
func (b *IngestBroker) HandleMessage(topic string, payload []byte) error {
	var envelope SubmitEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return fmt.Errorf("failed to unmarshal submit envelope: %w", err)
	}

	if err := b.verifySignature(envelope.Signature, envelope.Record); err != nil {
		b.logger.Warn("Rejected submit with invalid signature",
			zap.String("topic", topic),
			zap.Error(err),
		)
		return nil
	}

	var record models.DailyBiometricRecord
	if err := json.Unmarshal(envelope.Record, &record); err != nil {
		return fmt.Errorf("failed to unmarshal biometric record: %w", err)
	}

	if record.ProviderID == "" || record.UserID == "" || record.Day == "" {
		b.logger.Warn("Rejected submit with missing key fields",
			zap.String("topic", topic),
			zap.String("provider_id", record.ProviderID),
			zap.String("user_id", record.UserID),
			zap.String("day", record.Day),
		)
		return nil
	}
	if record.ReceivedAt.IsZero() {
		record.ReceivedAt = time.Now()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	streamID, err := consumer.PublishJSONToStream(ctx, b.redisClient, b.config.Fusion.Stream.Input, &record)
	if err != nil {
		return fmt.Errorf("failed to publish record to ingest stream: %w", err)
	}

	b.logger.Info("Published biometric record to ingest stream",
		zap.String("provider_id", record.ProviderID),
		zap.String("user_id", record.UserID),
		zap.String("day", record.Day),
		zap.String("stream_id", streamID),
	)

	return nil
}

// verifySignature 验证报文签名（HMAC-SHA256，对 record 原始字节计算）
func (b *IngestBroker) verifySignature(signature string, record json.RawMessage) error {
	if b.config.MQTT.SigningSecret == "" {
		// 未配置密钥时不启用验签（开发环境）
		return nil
	}
	if signature == "" {
		return fmt.Errorf("missing signature")
	}

	mac := hmac.New(sha256.New, []byte(b.config.MQTT.SigningSecret))
	mac.Write(record)
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return fmt.Errorf("signature mismatch")
	}

	return nil
}

package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int
	MaxIdle  int
}

// RedisConfig Redis配置
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// MQTTConfig MQTT配置（Provider 适配层提交通道）
type MQTTConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string
	QoS      byte

	// SubmitTopic 适配层提交记录的主题（支持通配，如 "wellness/records/+"）
	SubmitTopic string
	// SigningSecret 提交签名密钥（HMAC-SHA256，验签失败的报文不进入核心）
	SigningSecret string
}

// Config 健康评分服务配置
type Config struct {
	Database DatabaseConfig
	Redis    RedisConfig
	MQTT     MQTTConfig

	HTTP struct {
		Addr string
	}

	// 融合/摄入流水线配置
	Fusion struct {
		Stream struct {
			Input         string // 摄入流名称
			ConsumerGroup string
			ConsumerName  string
		}
		BatchSize int64

		// Redis 缓存配置（融合记录与评分的实时缓存）
		Cache struct {
			KeyPrefix   string // 如 "wellness:user:"
			FusedSuffix string // 如 ":fused"
			ScoreSuffix string // 如 ":scores"
			TTL         int    // 秒
		}
	}

	// 干预规则配置
	Intervention struct {
		CooldownKeyPrefix string
		CooldownDefault   time.Duration // 同类型事件冷却窗口
		CooldownCritical  time.Duration // critical 级别冷却窗口
	}

	// 投递子系统配置
	Delivery struct {
		QueueCapacity       int           // 离线队列容量（超出时淘汰最旧）
		QueueRetention      time.Duration // 离线队列保留时长
		HeartbeatInterval   time.Duration // 心跳间隔
		PongTimeout         time.Duration // 心跳应答超时
		EscalationBaseDelay time.Duration // 升级检查基础间隔（第 n 次为 base*n）
	}

	Log struct {
		Level  string
		Format string
	}
}

// Load 加载配置（环境变量 + 默认值）
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.Database.Host = getEnv("DB_HOST", "localhost")
	cfg.Database.Port = getEnvInt("DB_PORT", 5432)
	cfg.Database.User = getEnv("DB_USER", "postgres")
	cfg.Database.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.Database.Database = getEnv("DB_NAME", "wellness")
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", "disable")
	cfg.Database.MaxConns = getEnvInt("DB_MAX_CONNS", 10)
	cfg.Database.MaxIdle = getEnvInt("DB_MAX_IDLE", 5)

	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = getEnvInt("REDIS_DB", 0)

	cfg.MQTT.Broker = getEnv("MQTT_BROKER", "tcp://localhost:1883")
	cfg.MQTT.ClientID = getEnv("MQTT_CLIENT_ID", "wisefido-wellness")
	cfg.MQTT.Username = getEnv("MQTT_USERNAME", "")
	cfg.MQTT.Password = getEnv("MQTT_PASSWORD", "")
	cfg.MQTT.QoS = 1
	cfg.MQTT.SubmitTopic = getEnv("MQTT_SUBMIT_TOPIC", "wellness/records/+")
	cfg.MQTT.SigningSecret = getEnv("MQTT_SIGNING_SECRET", "")

	cfg.HTTP.Addr = getEnv("HTTP_ADDR", ":8080")

	cfg.Fusion.Stream.Input = getEnv("FUSION_STREAM_INPUT", "wellness:biometrics:daily")
	cfg.Fusion.Stream.ConsumerGroup = getEnv("FUSION_CONSUMER_GROUP", "wellness-fusion")
	cfg.Fusion.Stream.ConsumerName = getEnv("FUSION_CONSUMER_NAME", "wellness-fusion-1")
	cfg.Fusion.BatchSize = int64(getEnvInt("FUSION_BATCH_SIZE", 10))
	cfg.Fusion.Cache.KeyPrefix = getEnv("CACHE_KEY_PREFIX", "wellness:user:")
	cfg.Fusion.Cache.FusedSuffix = ":fused"
	cfg.Fusion.Cache.ScoreSuffix = ":scores"
	cfg.Fusion.Cache.TTL = getEnvInt("CACHE_TTL", 24*60*60)

	cfg.Intervention.CooldownKeyPrefix = getEnv("COOLDOWN_KEY_PREFIX", "wellness:cooldown:")
	cfg.Intervention.CooldownDefault = time.Duration(getEnvInt("COOLDOWN_DEFAULT_SEC", 6*60*60)) * time.Second
	cfg.Intervention.CooldownCritical = time.Duration(getEnvInt("COOLDOWN_CRITICAL_SEC", 60*60)) * time.Second

	cfg.Delivery.QueueCapacity = getEnvInt("DELIVERY_QUEUE_CAPACITY", 100)
	cfg.Delivery.QueueRetention = time.Duration(getEnvInt("DELIVERY_QUEUE_RETENTION_SEC", 24*60*60)) * time.Second
	cfg.Delivery.HeartbeatInterval = time.Duration(getEnvInt("DELIVERY_HEARTBEAT_SEC", 30)) * time.Second
	cfg.Delivery.PongTimeout = time.Duration(getEnvInt("DELIVERY_PONG_TIMEOUT_SEC", 60)) * time.Second
	cfg.Delivery.EscalationBaseDelay = time.Duration(getEnvInt("DELIVERY_ESCALATION_BASE_SEC", 60)) * time.Second

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

// GetDSN 获取数据库连接字符串
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

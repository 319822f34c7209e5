package service

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"wisefido-wellness/internal/config"
	"wisefido-wellness/internal/consumer"
	"wisefido-wellness/internal/delivery"
	"wisefido-wellness/internal/evaluator"
	"wisefido-wellness/internal/fusion"
	httpapi "wisefido-wellness/internal/http"
	"wisefido-wellness/internal/mqtt"
	"wisefido-wellness/internal/repository"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

// WellnessService 健康评分服务（整合各层）
type WellnessService struct {
	config      *config.Config
	db          *sql.DB
	redisClient *redis.Client
	logger      *zap.Logger

	// 各层组件
	recordsRepo  *repository.BiometricRecordsRepository
	fusedRepo    *repository.FusedRecordsRepository
	eventsRepo   *repository.InterventionEventsRepository
	cacheManager *consumer.CacheManager

	fusionEngine *fusion.Engine
	evaluator    *evaluator.Evaluator
	dispatcher   *delivery.Dispatcher
	ingest       *IngestService

	streamConsumer *consumer.StreamConsumer
	mqttClient     *mqtt.Client
	httpServer     *http.Server
}

// NewWellnessService 创建健康评分服务
func NewWellnessService(cfg *config.Config, logger *zap.Logger) (*WellnessService, error) {
	// 1. 连接数据库
	db, err := sql.Open("postgres", cfg.Database.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.Database.MaxConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdle)

	// 测试数据库连接
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// 2. 连接 Redis
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	// 测试 Redis 连接
	ctx := context.Background()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	// 3. 创建 Repository 层
	recordsRepo := repository.NewBiometricRecordsRepository(db, logger)
	fusedRepo := repository.NewFusedRecordsRepository(db, logger)
	eventsRepo := repository.NewInterventionEventsRepository(db, logger)

	// 4. 创建缓存层
	cacheManager := consumer.NewCacheManager(cfg, redisClient, logger)

	// 5. 创建核心引擎
	fusionEngine := fusion.NewEngine(fusion.DefaultTrustPolicy(), logger)
	cooldown := evaluator.NewCooldownStore(redisClient, cfg.Intervention.CooldownKeyPrefix, logger)
	eval := evaluator.NewEvaluator(
		evaluator.DefaultRules(),
		cooldown,
		cfg.Intervention.CooldownDefault,
		cfg.Intervention.CooldownCritical,
		logger,
	)

	// 6. 创建投递子系统
	dispatcher := delivery.NewDispatcher(cfg, eventsRepo, logger)

	// 7. 创建摄入流水线
	ingest := NewIngestService(
		recordsRepo,
		fusedRepo,
		eventsRepo,
		cacheManager,
		fusionEngine,
		eval,
		dispatcher,
		nil,
		logger,
	)

	// 8. 创建 Streams 消费者
	streamConsumer := consumer.NewStreamConsumer(cfg, redisClient, ingest, logger)

	// 9. 创建 HTTP 服务
	wsHandler := delivery.NewWSHandler(cfg, dispatcher, logger)
	wellnessHandler := httpapi.NewWellnessHandler(ingest, ingest, eventsRepo, logger)
	router := httpapi.NewRouter(logger)
	router.RegisterWellnessRoutes(wellnessHandler, wsHandler)

	httpServer := &http.Server{
		Addr:    cfg.HTTP.Addr,
		Handler: router,
	}

	return &WellnessService{
		config:         cfg,
		db:             db,
		redisClient:    redisClient,
		logger:         logger,
		recordsRepo:    recordsRepo,
		fusedRepo:      fusedRepo,
		eventsRepo:     eventsRepo,
		cacheManager:   cacheManager,
		fusionEngine:   fusionEngine,
		evaluator:      eval,
		dispatcher:     dispatcher,
		ingest:         ingest,
		streamConsumer: streamConsumer,
		httpServer:     httpServer,
	}, nil
}

// Start 启动服务
func (s *WellnessService) Start(ctx context.Context) error {
	s.logger.Info("Starting wellness service",
		zap.String("http_addr", s.config.HTTP.Addr),
	)

	// 启动 Streams 消费者
	go func() {
		if err := s.streamConsumer.Start(ctx); err != nil {
			s.logger.Error("Stream consumer exited with error",
				zap.Error(err),
			)
		}
	}()

	// 连接 MQTT 并订阅提交主题（broker 不可用时降级为 HTTP+Streams 通道）
	mqttClient, err := mqtt.NewClient(&s.config.MQTT, s.logger)
	if err != nil {
		s.logger.Warn("MQTT broker unavailable, submit topic disabled",
			zap.String("broker", s.config.MQTT.Broker),
			zap.Error(err),
		)
	} else {
		s.mqttClient = mqttClient
		broker := mqtt.NewIngestBroker(s.config, s.redisClient, s.logger)
		if err := mqttClient.Subscribe(s.config.MQTT.SubmitTopic, s.config.MQTT.QoS, broker.HandleMessage); err != nil {
			return fmt.Errorf("failed to subscribe submit topic: %w", err)
		}
		s.logger.Info("Subscribed to MQTT submit topic",
			zap.String("topic", s.config.MQTT.SubmitTopic),
		)
	}

	// 启动 HTTP 服务
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server exited with error",
				zap.Error(err),
			)
		}
	}()

	return nil
}

// Stop 停止服务
func (s *WellnessService) Stop() error {
	s.logger.Info("Stopping wellness service")

	// 停止投递调度器（取消升级定时器）
	s.dispatcher.Stop()

	// 停止 HTTP 服务
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("Failed to shutdown HTTP server",
			zap.Error(err),
		)
	}

	// 断开 MQTT
	if s.mqttClient != nil {
		s.mqttClient.Disconnect()
	}

	// 关闭数据库连接
	if err := s.db.Close(); err != nil {
		s.logger.Error("Failed to close database",
			zap.Error(err),
		)
	}

	// 关闭 Redis 连接
	if err := s.redisClient.Close(); err != nil {
		s.logger.Error("Failed to close redis",
			zap.Error(err),
		)
	}

	return nil
}

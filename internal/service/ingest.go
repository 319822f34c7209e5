package service

import (
	"context"
	"fmt"
	"sync"

	"wisefido-wellness/internal/consumer"
	"wisefido-wellness/internal/delivery"
	"wisefido-wellness/internal/evaluator"
	"wisefido-wellness/internal/fusion"
	"wisefido-wellness/internal/models"
	"wisefido-wellness/internal/repository"
	"wisefido-wellness/internal/scoring"

	"go.uber.org/zap"
)

// InsightProvider 评分洞察文案生成接口
// 默认实现基于规则模板，生成失败不影响评分流水线
type InsightProvider interface {
	Insight(ctx context.Context, fused *models.FusedRecord, scores *models.ScoreSet) (string, error)
}

// IngestService 记录摄入与融合流水线服务
//
// 每条 Provider 记录到达后的完整流水线：
// 存储 → 融合 → 评分 → 洞察 → 持久化 + 缓存 → 规则评估 → 投递
//
// 同一 (user, day) 的流水线串行执行，避免并发重新融合互相覆盖
type IngestService struct {
	recordsRepo *repository.BiometricRecordsRepository
	fusedRepo   *repository.FusedRecordsRepository
	eventsRepo  *repository.InterventionEventsRepository
	cache       *consumer.CacheManager

	fusionEngine *fusion.Engine
	evaluator    *evaluator.Evaluator
	dispatcher   *delivery.Dispatcher
	insight      InsightProvider

	logger *zap.Logger

	// 按 (user, day) 串行化流水线
	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// NewIngestService 创建摄入服务
func NewIngestService(
	recordsRepo *repository.BiometricRecordsRepository,
	fusedRepo *repository.FusedRecordsRepository,
	eventsRepo *repository.InterventionEventsRepository,
	cache *consumer.CacheManager,
	fusionEngine *fusion.Engine,
	eval *evaluator.Evaluator,
	dispatcher *delivery.Dispatcher,
	insight InsightProvider,
	logger *zap.Logger,
) *IngestService {
	if insight == nil {
		insight = &TemplateInsightProvider{}
	}
	return &IngestService{
		recordsRepo:  recordsRepo,
		fusedRepo:    fusedRepo,
		eventsRepo:   eventsRepo,
		cache:        cache,
		fusionEngine: fusionEngine,
		evaluator:    eval,
		dispatcher:   dispatcher,
		insight:      insight,
		logger:       logger,
		locks:        make(map[string]*sync.Mutex),
	}
}

// SubmitRecord 提交一条 Provider 记录并触发该 (user, day) 的重新融合
//
// 同键重复提交表示记录更新（upsert），重新融合读取的是该用户当日
// 的全部最新记录，结果覆盖之前的融合记录和评分
func (s *IngestService) SubmitRecord(ctx context.Context, record *models.DailyBiometricRecord) error {
	if record == nil {
		return fmt.Errorf("record is required")
	}
	if record.ProviderID == "" || record.UserID == "" || record.Day == "" {
		return fmt.Errorf("provider_id, user_id and day are required")
	}

	if err := s.recordsRepo.UpsertRecord(ctx, record); err != nil {
		return fmt.Errorf("failed to store record: %w", err)
	}

	lock := s.lockFor(record.UserID, record.Day)
	lock.Lock()
	defer lock.Unlock()

	return s.refuse(ctx, record.UserID, record.Day)
}

// refuse 重新融合指定 (user, day) 并走完评分/评估/投递流水线
func (s *IngestService) refuse(ctx context.Context, userID, day string) error {
	records, err := s.recordsRepo.ListByUserDay(ctx, userID, day)
	if err != nil {
		return fmt.Errorf("failed to load records: %w", err)
	}

	fused, err := s.fusionEngine.Fuse(userID, day, records)
	if err != nil {
		return fmt.Errorf("failed to fuse records: %w", err)
	}

	scores := scoring.Score(fused)

	if insight, err := s.insight.Insight(ctx, fused, scores); err != nil {
		s.logger.Warn("Failed to generate insight",
			zap.String("user_id", userID),
			zap.String("day", day),
			zap.Error(err),
		)
	} else {
		scores.Insight = insight
	}

	if err := s.fusedRepo.UpsertFusedRecord(ctx, fused, scores); err != nil {
		return fmt.Errorf("failed to store fused record: %w", err)
	}

	// 缓存失败不阻断流水线，读路径会回落到数据库
	if err := s.cache.UpdateFusedRecord(ctx, fused); err != nil {
		s.logger.Warn("Failed to cache fused record",
			zap.String("user_id", userID),
			zap.Error(err),
		)
	}
	if err := s.cache.UpdateScores(ctx, scores); err != nil {
		s.logger.Warn("Failed to cache scores",
			zap.String("user_id", userID),
			zap.Error(err),
		)
	}

	events, err := s.evaluator.Evaluate(ctx, scores, fused)
	if err != nil {
		return fmt.Errorf("failed to evaluate intervention rules: %w", err)
	}

	for _, event := range events {
		if err := s.eventsRepo.CreateEvent(ctx, event); err != nil {
			s.logger.Error("Failed to store intervention event",
				zap.String("event_id", event.EventID),
				zap.String("event_type", event.Type),
				zap.Error(err),
			)
			continue
		}
		if err := s.dispatcher.Dispatch(ctx, event); err != nil {
			s.logger.Error("Failed to dispatch intervention event",
				zap.String("event_id", event.EventID),
				zap.Error(err),
			)
		}
	}

	s.logger.Info("Pipeline completed",
		zap.String("user_id", userID),
		zap.String("day", day),
		zap.Int("provider_count", len(records)),
		zap.Int("overall_score", scores.Overall),
		zap.Int("intervention_count", len(events)),
	)

	return nil
}

// GetScores 查询用户某日的融合记录与评分（优先缓存，回落数据库）
func (s *IngestService) GetScores(ctx context.Context, userID, day string) (*models.FusedRecord, *models.ScoreSet, error) {
	fused, ferr := s.cache.GetFusedRecord(ctx, userID)
	scores, serr := s.cache.GetScores(ctx, userID)
	if ferr == nil && serr == nil && fused.Day == day && scores.Day == day {
		return fused, scores, nil
	}

	return s.fusedRepo.GetFusedRecord(ctx, userID, day)
}

// lockFor 获取 (user, day) 的串行化锁
func (s *IngestService) lockFor(userID, day string) *sync.Mutex {
	key := userID + "|" + day
	s.locksMu.Lock()
	defer s.locksMu.Unlock()

	lock, ok := s.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[key] = lock
	}
	return lock
}

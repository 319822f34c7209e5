package service

import (
	"context"
	"testing"
	"time"

	"wisefido-wellness/internal/config"
	"wisefido-wellness/internal/consumer"
	"wisefido-wellness/internal/delivery"
	"wisefido-wellness/internal/evaluator"
	"wisefido-wellness/internal/fusion"
	"wisefido-wellness/internal/models"
	"wisefido-wellness/internal/repository"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newPipelineConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Fusion.Cache.KeyPrefix = "wellness:user:"
	cfg.Fusion.Cache.FusedSuffix = ":fused"
	cfg.Fusion.Cache.ScoreSuffix = ":scores"
	cfg.Fusion.Cache.TTL = 60
	cfg.Intervention.CooldownKeyPrefix = "wellness:cooldown:"
	cfg.Intervention.CooldownDefault = 6 * time.Hour
	cfg.Intervention.CooldownCritical = time.Hour
	cfg.Delivery.QueueCapacity = 100
	cfg.Delivery.QueueRetention = 24 * time.Hour
	cfg.Delivery.EscalationBaseDelay = time.Minute
	return cfg
}

// setupIngestService 以 sqlmock 作数据库、miniredis 作缓存与冷却搭建完整流水线
func setupIngestService(t *testing.T, rules []evaluator.Rule) (sqlmock.Sqlmock, *redis.Client, *config.Config, *IngestService) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	logger := zap.NewNop()
	cfg := newPipelineConfig()

	recordsRepo := repository.NewBiometricRecordsRepository(db, logger)
	fusedRepo := repository.NewFusedRecordsRepository(db, logger)
	eventsRepo := repository.NewInterventionEventsRepository(db, logger)

	cache := consumer.NewCacheManager(cfg, redisClient, logger)
	engine := fusion.NewEngine(fusion.DefaultTrustPolicy(), logger)
	cooldown := evaluator.NewCooldownStore(redisClient, cfg.Intervention.CooldownKeyPrefix, logger)
	eval := evaluator.NewEvaluator(rules, cooldown,
		cfg.Intervention.CooldownDefault, cfg.Intervention.CooldownCritical, logger)
	dispatcher := delivery.NewDispatcher(cfg, eventsRepo, logger)

	svc := NewIngestService(recordsRepo, fusedRepo, eventsRepo, cache,
		engine, eval, dispatcher, nil, logger)

	return mock, redisClient, cfg, svc
}

func recordRow(providerID, userID, day, metricsJSON string) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"provider_id", "user_id", "day", "metrics",
		"heart_rate_zones", "sleep_stages", "raw_payload", "received_at",
	}).AddRow(providerID, userID, day, []byte(metricsJSON), nil, nil, nil, time.Now())
}

func TestSubmitRecord_HealthyPipeline(t *testing.T) {
	mock, redisClient, cfg, svc := setupIngestService(t, nil)
	ctx := context.Background()

	healthyMetrics := `{"hrv":80,"restingHeartRate":55,"sleepDuration":450,"steps":9000,"caloriesBurned":500,"activeMinutes":45}`

	mock.ExpectExec(`INSERT INTO biometric_records(.|\n)*ON CONFLICT \(provider_id, user_id, day\)`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT(.|\n)*FROM biometric_records`).
		WithArgs("user-1", "2026-08-28").
		WillReturnRows(recordRow("oura", "user-1", "2026-08-28", healthyMetrics))
	mock.ExpectExec(`INSERT INTO fused_records(.|\n)*ON CONFLICT \(user_id, day\)`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	hrv := 80.0
	err := svc.SubmitRecord(ctx, &models.DailyBiometricRecord{
		ProviderID: "oura",
		UserID:     "user-1",
		Day:        "2026-08-28",
		Metrics: map[models.MetricName]*float64{
			models.MetricHRV: &hrv,
		},
		ReceivedAt: time.Now(),
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	// 融合记录与评分写入缓存
	fusedKey := cfg.Fusion.Cache.KeyPrefix + "user-1" + cfg.Fusion.Cache.FusedSuffix
	scoreKey := cfg.Fusion.Cache.KeyPrefix + "user-1" + cfg.Fusion.Cache.ScoreSuffix
	assert.Equal(t, int64(1), redisClient.Exists(ctx, fusedKey).Val())
	assert.Equal(t, int64(1), redisClient.Exists(ctx, scoreKey).Val())

	// 缓存优先的读路径命中刚写入的评分
	fused, scores, err := svc.GetScores(ctx, "user-1", "2026-08-28")
	require.NoError(t, err)
	assert.Equal(t, "2026-08-28", fused.Day)
	assert.NotEmpty(t, scores.Insight)
	assert.Greater(t, scores.Overall, 0)
}

func TestSubmitRecord_InterventionPersisted(t *testing.T) {
	// 单条必中规则，便于断言恰好一条事件入库
	alwaysFire := []evaluator.Rule{
		{
			Type:     "test_rule",
			Severity: models.SeverityHigh,
			Action:   "rest_day",
			Evaluate: func(scores *models.ScoreSet, fused *models.FusedRecord) *evaluator.RuleResult {
				return &evaluator.RuleResult{
					Reason:  "always fires",
					Metrics: map[string]float64{"overall": float64(scores.Overall)},
				}
			},
		},
	}
	mock, _, _, svc := setupIngestService(t, alwaysFire)
	ctx := context.Background()

	metrics := `{"hrv":80,"restingHeartRate":55}`

	mock.ExpectExec(`INSERT INTO biometric_records`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT(.|\n)*FROM biometric_records`).
		WithArgs("user-1", "2026-08-28").
		WillReturnRows(recordRow("oura", "user-1", "2026-08-28", metrics))
	mock.ExpectExec(`INSERT INTO fused_records`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO intervention_events`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	hrv := 80.0
	err := svc.SubmitRecord(ctx, &models.DailyBiometricRecord{
		ProviderID: "oura",
		UserID:     "user-1",
		Day:        "2026-08-28",
		Metrics: map[models.MetricName]*float64{
			models.MetricHRV: &hrv,
		},
		ReceivedAt: time.Now(),
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSubmitRecord_MissingKeyFields(t *testing.T) {
	_, _, _, svc := setupIngestService(t, nil)

	err := svc.SubmitRecord(context.Background(), &models.DailyBiometricRecord{
		ProviderID: "oura",
	})
	require.Error(t, err)

	err = svc.SubmitRecord(context.Background(), nil)
	require.Error(t, err)
}

func TestGetScores_CacheMiss_FallsBackToDatabase(t *testing.T) {
	mock, _, _, svc := setupIngestService(t, nil)

	fusedJSON := `{"user_id":"user-1","day":"2026-08-27","metrics":{"hrv":62}}`
	scoresJSON := `{"user_id":"user-1","day":"2026-08-27","overall":71,"recovery":68,"readiness":70,"activity":75,"sleep":72}`

	mock.ExpectQuery(`SELECT(.|\n)*FROM fused_records`).
		WithArgs("user-1", "2026-08-27").
		WillReturnRows(sqlmock.NewRows([]string{"fused", "scores"}).
			AddRow([]byte(fusedJSON), []byte(scoresJSON)))

	fused, scores, err := svc.GetScores(context.Background(), "user-1", "2026-08-27")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	assert.Equal(t, "2026-08-27", fused.Day)
	require.NotNil(t, scores)
	assert.Equal(t, 71, scores.Overall)
}

func TestInsight_WeakestAreaAndCoverage(t *testing.T) {
	provider := &TemplateInsightProvider{}

	fused := &models.FusedRecord{
		UserID:  "user-1",
		Day:     "2026-08-28",
		Sources: []string{"oura"},
	}
	scores := &models.ScoreSet{
		UserID:    "user-1",
		Day:       "2026-08-28",
		Recovery:  85,
		Readiness: 80,
		Activity:  45,
		Sleep:     90,
		Overall:   82,
		DataQuality: models.DataQuality{
			Confidence: models.ConfidenceHigh,
		},
	}

	insight, err := provider.Insight(context.Background(), fused, scores)
	require.NoError(t, err)
	assert.Contains(t, insight, "great shape")
	assert.Contains(t, insight, "activity (45)")
	assert.NotContains(t, insight, "limited data")

	// 低置信度附加覆盖度提示
	scores.DataQuality.Confidence = models.ConfidenceLow
	insight, err = provider.Insight(context.Background(), fused, scores)
	require.NoError(t, err)
	assert.Contains(t, insight, "limited data from 1 device(s)")
}

package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"wisefido-wellness/internal/models"

	"go.uber.org/zap"
)

// BiometricRecordsRepository Provider 上报记录仓库
// 键：(provider_id, user_id, day)；同键重复提交为整体替换
type BiometricRecordsRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewBiometricRecordsRepository 创建上报记录仓库
func NewBiometricRecordsRepository(db *sql.DB, logger *zap.Logger) *BiometricRecordsRepository {
	return &BiometricRecordsRepository{
		db:     db,
		logger: logger,
	}
}

// UpsertRecord 写入或替换一条 Provider 上报记录
func (r *BiometricRecordsRepository) UpsertRecord(ctx context.Context, record *models.DailyBiometricRecord) error {
	if record == nil {
		return fmt.Errorf("record is required")
	}
	if record.ProviderID == "" {
		return fmt.Errorf("provider_id is required")
	}
	if record.UserID == "" {
		return fmt.Errorf("user_id is required")
	}
	if record.Day == "" {
		return fmt.Errorf("day is required")
	}

	metricsJSON, err := json.Marshal(record.Metrics)
	if err != nil {
		return fmt.Errorf("failed to marshal metrics: %w", err)
	}
	zonesJSON, err := json.Marshal(record.HeartRateZones)
	if err != nil {
		return fmt.Errorf("failed to marshal heart rate zones: %w", err)
	}
	stagesJSON, err := json.Marshal(record.SleepStages)
	if err != nil {
		return fmt.Errorf("failed to marshal sleep stages: %w", err)
	}

	rawPayload := []byte("{}")
	if len(record.RawPayload) > 0 {
		rawPayload = record.RawPayload
	}

	query := `
		INSERT INTO biometric_records (
			provider_id,
			user_id,
			day,
			metrics,
			heart_rate_zones,
			sleep_stages,
			raw_payload,
			received_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (provider_id, user_id, day) DO UPDATE SET
			metrics = EXCLUDED.metrics,
			heart_rate_zones = EXCLUDED.heart_rate_zones,
			sleep_stages = EXCLUDED.sleep_stages,
			raw_payload = EXCLUDED.raw_payload,
			received_at = EXCLUDED.received_at
	`

	_, err = r.db.ExecContext(ctx, query,
		record.ProviderID,
		record.UserID,
		record.Day,
		metricsJSON,
		zonesJSON,
		stagesJSON,
		rawPayload,
		record.ReceivedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert biometric record: %w", err)
	}

	return nil
}

// ListByUserDay 查询某用户某天的全部 Provider 记录（融合输入）
func (r *BiometricRecordsRepository) ListByUserDay(ctx context.Context, userID, day string) ([]*models.DailyBiometricRecord, error) {
	if userID == "" {
		return nil, fmt.Errorf("user_id is required")
	}
	if day == "" {
		return nil, fmt.Errorf("day is required")
	}

	query := `
		SELECT
			provider_id,
			user_id,
			day,
			metrics,
			heart_rate_zones,
			sleep_stages,
			raw_payload,
			received_at
		FROM biometric_records
		WHERE user_id = $1
		  AND day = $2
		ORDER BY provider_id
	`

	rows, err := r.db.QueryContext(ctx, query, userID, day)
	if err != nil {
		return nil, fmt.Errorf("failed to list biometric records: %w", err)
	}
	defer rows.Close()

	var records []*models.DailyBiometricRecord
	for rows.Next() {
		var record models.DailyBiometricRecord
		var metricsJSON, zonesJSON, stagesJSON, rawPayload []byte

		if err := rows.Scan(
			&record.ProviderID,
			&record.UserID,
			&record.Day,
			&metricsJSON,
			&zonesJSON,
			&stagesJSON,
			&rawPayload,
			&record.ReceivedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan biometric record: %w", err)
		}

		if err := json.Unmarshal(metricsJSON, &record.Metrics); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metrics: %w", err)
		}
		if len(zonesJSON) > 0 {
			if err := json.Unmarshal(zonesJSON, &record.HeartRateZones); err != nil {
				return nil, fmt.Errorf("failed to unmarshal heart rate zones: %w", err)
			}
		}
		if len(stagesJSON) > 0 {
			if err := json.Unmarshal(stagesJSON, &record.SleepStages); err != nil {
				return nil, fmt.Errorf("failed to unmarshal sleep stages: %w", err)
			}
		}
		record.RawPayload = rawPayload

		records = append(records, &record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate biometric records: %w", err)
	}

	return records, nil
}

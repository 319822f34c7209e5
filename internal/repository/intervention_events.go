package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"wisefido-wellness/internal/models"

	"go.uber.org/zap"
)

// InterventionEventsRepository 干预事件仓库（含投递状态）
type InterventionEventsRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewInterventionEventsRepository 创建干预事件仓库
func NewInterventionEventsRepository(db *sql.DB, logger *zap.Logger) *InterventionEventsRepository {
	return &InterventionEventsRepository{
		db:     db,
		logger: logger,
	}
}

const interventionEventColumns = `
	event_id,
	user_id,
	event_type,
	severity,
	reason,
	action,
	metrics,
	requires_acknowledgment,
	delivery_state,
	escalation_attempts,
	acknowledged_at,
	dismissed_at,
	response,
	dismiss_reason,
	created_at,
	updated_at
`

// CreateEvent 创建干预事件
func (r *InterventionEventsRepository) CreateEvent(ctx context.Context, event *models.InterventionEvent) error {
	if event == nil {
		return fmt.Errorf("event is required")
	}
	if event.EventID == "" {
		return fmt.Errorf("event_id is required")
	}
	if event.UserID == "" {
		return fmt.Errorf("user_id is required")
	}
	if event.DeliveryState == "" {
		event.DeliveryState = models.StateQueued
	}

	metricsJSON, err := json.Marshal(event.Metrics)
	if err != nil {
		return fmt.Errorf("failed to marshal metrics: %w", err)
	}

	query := `
		INSERT INTO intervention_events (` + interventionEventColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`

	_, err = r.db.ExecContext(ctx, query,
		event.EventID,
		event.UserID,
		event.Type,
		string(event.Severity),
		event.Reason,
		event.Action,
		metricsJSON,
		event.RequiresAcknowledgment,
		string(event.DeliveryState),
		event.EscalationAttempts,
		event.AcknowledgedAt,
		event.DismissedAt,
		event.Response,
		event.DismissReason,
		event.CreatedAt,
		event.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create intervention event: %w", err)
	}

	return nil
}

// GetEvent 根据 event_id 读取干预事件
func (r *InterventionEventsRepository) GetEvent(ctx context.Context, eventID string) (*models.InterventionEvent, error) {
	if eventID == "" {
		return nil, fmt.Errorf("event_id is required")
	}

	query := `
		SELECT ` + interventionEventColumns + `
		FROM intervention_events
		WHERE event_id = $1
	`

	event, err := r.scanEvent(r.db.QueryRowContext(ctx, query, eventID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("intervention event not found: event_id=%s", eventID)
		}
		return nil, fmt.Errorf("failed to get intervention event: %w", err)
	}
	return event, nil
}

// UpdateDeliveryState 更新投递状态与升级计数
func (r *InterventionEventsRepository) UpdateDeliveryState(ctx context.Context, eventID string, state models.DeliveryState, escalationAttempts int) error {
	if eventID == "" {
		return fmt.Errorf("event_id is required")
	}
	if state == "" {
		return fmt.Errorf("delivery_state is required")
	}

	query := `
		UPDATE intervention_events
		SET delivery_state = $2,
		    escalation_attempts = $3,
		    updated_at = $4
		WHERE event_id = $1
	`

	_, err := r.db.ExecContext(ctx, query, eventID, string(state), escalationAttempts, time.Now())
	if err != nil {
		return fmt.Errorf("failed to update delivery state: %w", err)
	}
	return nil
}

// MarkAcknowledged 标记事件已确认
func (r *InterventionEventsRepository) MarkAcknowledged(ctx context.Context, eventID string, response *string) error {
	if eventID == "" {
		return fmt.Errorf("event_id is required")
	}

	now := time.Now()
	query := `
		UPDATE intervention_events
		SET delivery_state = $2,
		    acknowledged_at = $3,
		    response = $4,
		    updated_at = $3
		WHERE event_id = $1
	`

	_, err := r.db.ExecContext(ctx, query, eventID, string(models.StateAcknowledged), now, response)
	if err != nil {
		return fmt.Errorf("failed to mark event acknowledged: %w", err)
	}
	return nil
}

// MarkDismissed 标记事件已驳回
func (r *InterventionEventsRepository) MarkDismissed(ctx context.Context, eventID string, reason *string) error {
	if eventID == "" {
		return fmt.Errorf("event_id is required")
	}

	now := time.Now()
	query := `
		UPDATE intervention_events
		SET delivery_state = $2,
		    dismissed_at = $3,
		    dismiss_reason = $4,
		    updated_at = $3
		WHERE event_id = $1
	`

	_, err := r.db.ExecContext(ctx, query, eventID, string(models.StateDismissed), now, reason)
	if err != nil {
		return fmt.Errorf("failed to mark event dismissed: %w", err)
	}
	return nil
}

// ListPendingByUser 查询某用户所有未终态的干预事件（重连补投索引）
// 按创建顺序返回，保证单用户事件按创建序投递
func (r *InterventionEventsRepository) ListPendingByUser(ctx context.Context, userID string) ([]*models.InterventionEvent, error) {
	if userID == "" {
		return nil, fmt.Errorf("user_id is required")
	}

	query := `
		SELECT ` + interventionEventColumns + `
		FROM intervention_events
		WHERE user_id = $1
		  AND delivery_state IN ('queued', 'sent', 'escalated')
		ORDER BY created_at ASC
	`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending events: %w", err)
	}
	defer rows.Close()

	var events []*models.InterventionEvent
	for rows.Next() {
		event, err := r.scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan intervention event: %w", err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate pending events: %w", err)
	}

	return events, nil
}

// CountByDeliveryState 按投递状态统计事件数量（运营统计，含 ignored 终态）
func (r *InterventionEventsRepository) CountByDeliveryState(ctx context.Context) (map[models.DeliveryState]int, error) {
	query := `
		SELECT delivery_state, COUNT(*)
		FROM intervention_events
		GROUP BY delivery_state
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to count events by delivery state: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.DeliveryState]int)
	for rows.Next() {
		var state string
		var count int
		if err := rows.Scan(&state, &count); err != nil {
			return nil, fmt.Errorf("failed to scan delivery state count: %w", err)
		}
		counts[models.DeliveryState(state)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate delivery state counts: %w", err)
	}

	return counts, nil
}

// rowScanner QueryRow/Rows 共用的扫描接口
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanEvent 扫描单行干预事件
func (r *InterventionEventsRepository) scanEvent(row rowScanner) (*models.InterventionEvent, error) {
	var event models.InterventionEvent
	var severity, state string
	var metricsJSON []byte
	var acknowledgedAt, dismissedAt sql.NullTime
	var response, dismissReason sql.NullString

	err := row.Scan(
		&event.EventID,
		&event.UserID,
		&event.Type,
		&severity,
		&event.Reason,
		&event.Action,
		&metricsJSON,
		&event.RequiresAcknowledgment,
		&state,
		&event.EscalationAttempts,
		&acknowledgedAt,
		&dismissedAt,
		&response,
		&dismissReason,
		&event.CreatedAt,
		&event.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	event.Severity = models.Severity(severity)
	event.DeliveryState = models.DeliveryState(state)

	if len(metricsJSON) > 0 {
		if err := json.Unmarshal(metricsJSON, &event.Metrics); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metrics: %w", err)
		}
	}
	if acknowledgedAt.Valid {
		event.AcknowledgedAt = &acknowledgedAt.Time
	}
	if dismissedAt.Valid {
		event.DismissedAt = &dismissedAt.Time
	}
	if response.Valid {
		event.Response = &response.String
	}
	if dismissReason.Valid {
		event.DismissReason = &dismissReason.String
	}

	return &event, nil
}

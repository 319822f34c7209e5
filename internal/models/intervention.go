package models

import "time"

// Severity 干预事件严重级别
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// DeliveryState 干预事件的投递状态
// 状态机：queued → sent → {acknowledged | dismissed | escalated} → ignored
type DeliveryState string

const (
	StateQueued       DeliveryState = "queued"
	StateSent         DeliveryState = "sent"
	StateAcknowledged DeliveryState = "acknowledged"
	StateDismissed    DeliveryState = "dismissed"
	StateEscalated    DeliveryState = "escalated"
	StateIgnored      DeliveryState = "ignored"
)

// IsTerminal 是否终态
func (s DeliveryState) IsTerminal() bool {
	return s == StateAcknowledged || s == StateDismissed || s == StateIgnored
}

// MaxEscalationAttempts 升级重投上限
// 需要确认的事件只有在升级满 3 次仍未确认时才允许进入 ignored
const MaxEscalationAttempts = 3

// InterventionEvent 干预事件（对应 intervention_events 表）
type InterventionEvent struct {
	EventID  string   `json:"event_id" db:"event_id"`
	UserID   string   `json:"user_id" db:"user_id"`
	Type     string   `json:"type" db:"event_type"`
	Severity Severity `json:"severity" db:"severity"`
	Reason   string   `json:"reason" db:"reason"`
	Action   string   `json:"action" db:"action"` // 建议动作，如 "rest_day"

	// Metrics 触发时的关键指标快照
	Metrics map[string]float64 `json:"metrics" db:"metrics"`

	RequiresAcknowledgment bool `json:"requires_acknowledgment" db:"requires_acknowledgment"`

	DeliveryState      DeliveryState `json:"delivery_state" db:"delivery_state"`
	EscalationAttempts int           `json:"escalation_attempts" db:"escalation_attempts"`

	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty" db:"acknowledged_at"`
	DismissedAt    *time.Time `json:"dismissed_at,omitempty" db:"dismissed_at"`
	Response       *string    `json:"response,omitempty" db:"response"`
	DismissReason  *string    `json:"dismiss_reason,omitempty" db:"dismiss_reason"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// ExpiresInForSeverity 按严重级别给客户端的建议过期时间（秒）
// 仅为客户端展示用的提示元数据，服务端不据此做任何超时处理
func ExpiresInForSeverity(s Severity) int {
	switch s {
	case SeverityCritical:
		return 5 * 60
	case SeverityHigh:
		return 30 * 60
	case SeverityMedium:
		return 2 * 60 * 60
	default:
		return 24 * 60 * 60
	}
}

// ============================================
// 推送通道消息格式
// ============================================

// PushMessage 推送给客户端的干预消息
type PushMessage struct {
	Type                   string             `json:"type"` // 固定为 "intervention"
	ID                     string             `json:"id"`
	InterventionType       string             `json:"interventionType"`
	Severity               Severity           `json:"severity"`
	Action                 string             `json:"action"`
	Reason                 string             `json:"reason"`
	Metrics                map[string]float64 `json:"metrics,omitempty"`
	RequiresAcknowledgment bool               `json:"requiresAcknowledgment"`
	Timestamp              int64              `json:"timestamp"`
	ExpiresIn              int                `json:"expiresIn"`

	// 升级重投时携带
	Escalation        bool `json:"escalation,omitempty"`
	EscalationAttempt int  `json:"escalationAttempt,omitempty"`
}

// NewPushMessage 从干预事件构建推送消息
func NewPushMessage(event *InterventionEvent) *PushMessage {
	return &PushMessage{
		Type:                   "intervention",
		ID:                     event.EventID,
		InterventionType:       event.Type,
		Severity:               event.Severity,
		Action:                 event.Action,
		Reason:                 event.Reason,
		Metrics:                event.Metrics,
		RequiresAcknowledgment: event.RequiresAcknowledgment,
		Timestamp:              time.Now().Unix(),
		ExpiresIn:              ExpiresInForSeverity(event.Severity),
	}
}

// PendingSummary 连接建立时先发送的待处理事件摘要
type PendingSummary struct {
	Type      string `json:"type"` // 固定为 "pending_summary"
	Count     int    `json:"count"`
	Timestamp int64  `json:"timestamp"`
}

// ClientCommand 客户端经推送通道上行的命令
// type 取值：acknowledge, dismiss, request_details, subscribe, ping
type ClientCommand struct {
	Type           string   `json:"type"`
	InterventionID string   `json:"interventionId,omitempty"`
	Response       string   `json:"response,omitempty"`
	Reason         string   `json:"reason,omitempty"`
	Types          []string `json:"types,omitempty"`
}

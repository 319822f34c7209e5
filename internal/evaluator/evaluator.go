// Package evaluator 提供干预规则评估功能
//
// 评估器消费 ScoreSet 和融合指标，按静态规则表产出干预事件。
// 规则相互独立，一次评估可命中多条；同用户同类型事件在冷却窗口内去重。
// 评估器只产出事件值，推送由独立的投递子系统负责（无隐式事件总线耦合）。
package evaluator

import (
	"context"
	"time"

	"wisefido-wellness/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Evaluator 干预规则评估器
type Evaluator struct {
	rules    []Rule
	cooldown *CooldownStore
	logger   *zap.Logger

	// 冷却窗口：critical 级别使用更短的窗口
	defaultWindow  time.Duration
	criticalWindow time.Duration
}

// NewEvaluator 创建评估器
func NewEvaluator(
	rules []Rule,
	cooldown *CooldownStore,
	defaultWindow, criticalWindow time.Duration,
	logger *zap.Logger,
) *Evaluator {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	if defaultWindow <= 0 {
		defaultWindow = 6 * time.Hour
	}
	if criticalWindow <= 0 {
		criticalWindow = time.Hour
	}
	return &Evaluator{
		rules:          rules,
		cooldown:       cooldown,
		logger:         logger,
		defaultWindow:  defaultWindow,
		criticalWindow: criticalWindow,
	}
}

// Evaluate 评估单用户单日的评分和融合指标，返回命中的干预事件列表
//
// 冷却抑制失败（Redis 不可用）时按未抑制处理：漏掉一次去重比丢掉一条
// critical 干预代价小
func (e *Evaluator) Evaluate(ctx context.Context, scores *models.ScoreSet, fused *models.FusedRecord) ([]*models.InterventionEvent, error) {
	var events []*models.InterventionEvent

	for i := range e.rules {
		rule := &e.rules[i]
		result := rule.Evaluate(scores, fused)
		if result == nil {
			continue
		}

		allowed, err := e.cooldown.TryAcquire(ctx, scores.UserID, rule.Type, e.windowFor(rule.Severity))
		if err != nil {
			e.logger.Warn("Cooldown check failed, allowing event",
				zap.String("user_id", scores.UserID),
				zap.String("event_type", rule.Type),
				zap.Error(err),
			)
			allowed = true
		}
		if !allowed {
			e.logger.Debug("Intervention suppressed by cooldown",
				zap.String("user_id", scores.UserID),
				zap.String("event_type", rule.Type),
			)
			continue
		}

		events = append(events, e.buildEvent(scores.UserID, rule, result))
	}

	if len(events) > 0 {
		e.logger.Info("Intervention rules fired",
			zap.String("user_id", scores.UserID),
			zap.String("day", scores.Day),
			zap.Int("event_count", len(events)),
		)
	}

	return events, nil
}

// buildEvent 构建干预事件
func (e *Evaluator) buildEvent(userID string, rule *Rule, result *RuleResult) *models.InterventionEvent {
	now := time.Now()
	return &models.InterventionEvent{
		EventID:                uuid.New().String(),
		UserID:                 userID,
		Type:                   rule.Type,
		Severity:               rule.Severity,
		Reason:                 result.Reason,
		Action:                 rule.Action,
		Metrics:                result.Metrics,
		RequiresAcknowledgment: rule.RequiresAcknowledgment,
		DeliveryState:          models.StateQueued,
		CreatedAt:              now,
		UpdatedAt:              now,
	}
}

// windowFor 按严重级别选择冷却窗口
func (e *Evaluator) windowFor(severity models.Severity) time.Duration {
	if severity == models.SeverityCritical {
		return e.criticalWindow
	}
	return e.defaultWindow
}

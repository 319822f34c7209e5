package delivery

import (
	"context"
	"time"

	"wisefido-wellness/internal/config"
	"wisefido-wellness/internal/models"

	"go.uber.org/zap"
)

// EventStore 干预事件持久层接口（由 repository.InterventionEventsRepository 实现）
type EventStore interface {
	GetEvent(ctx context.Context, eventID string) (*models.InterventionEvent, error)
	UpdateDeliveryState(ctx context.Context, eventID string, state models.DeliveryState, escalationAttempts int) error
	MarkAcknowledged(ctx context.Context, eventID string, response *string) error
	MarkDismissed(ctx context.Context, eventID string, reason *string) error
	ListPendingByUser(ctx context.Context, userID string) ([]*models.InterventionEvent, error)
}

// Dispatcher 干预消息投递调度器
//
// 负责干预事件从生成到终态的投递状态机：
// queued → sent → {acknowledged | dismissed | escalated} → ignored
//
// 在线用户实时推送，离线用户进入离线队列等连接建立后补投。
// 需要确认的事件挂升级定时器，第 n 次升级延迟为 base*n，
// 升级满 MaxEscalationAttempts 次仍未确认则标记 ignored
type Dispatcher struct {
	config   *config.Config
	registry *Registry
	queue    *OfflineQueue
	timers   *EscalationTimers
	store    EventStore
	logger   *zap.Logger
}

// NewDispatcher 创建投递调度器
func NewDispatcher(cfg *config.Config, store EventStore, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		config:   cfg,
		registry: NewRegistry(),
		queue:    NewOfflineQueue(cfg.Delivery.QueueCapacity, cfg.Delivery.QueueRetention),
		timers:   NewEscalationTimers(),
		store:    store,
		logger:   logger,
	}
}

// Registry 在线通道注册表（供监控查询）
func (d *Dispatcher) Registry() *Registry {
	return d.registry
}

// Dispatch 投递一条新生成的干预事件
//
// 用户在线且订阅了该类型时实时推送，推送成功标记 sent 并为
// 需确认事件挂升级定时器；推送失败视为连接已坏，消息转入离线
// 队列并注销通道。用户离线或类型被过滤时直接入离线队列
func (d *Dispatcher) Dispatch(ctx context.Context, event *models.InterventionEvent) error {
	msg := models.NewPushMessage(event)

	ch := d.registry.Get(event.UserID)
	if ch == nil || !ch.Accepts(event.Type) {
		if evicted := d.queue.Enqueue(event.UserID, msg); evicted {
			d.logger.Warn("Offline queue full, evicted oldest message",
				zap.String("user_id", event.UserID),
			)
		}
		d.logger.Info("Queued intervention for offline user",
			zap.String("event_id", event.EventID),
			zap.String("user_id", event.UserID),
		)
		return nil
	}

	if err := ch.Send(msg); err != nil {
		d.logger.Warn("Failed to push intervention, requeueing",
			zap.String("event_id", event.EventID),
			zap.String("user_id", event.UserID),
			zap.Error(err),
		)
		d.queue.Enqueue(event.UserID, msg)
		d.registry.Unregister(event.UserID, ch)
		ch.Close()
		return nil
	}

	if err := d.store.UpdateDeliveryState(ctx, event.EventID, models.StateSent, event.EscalationAttempts); err != nil {
		return err
	}
	if event.RequiresAcknowledgment {
		d.scheduleEscalation(event.EventID, 1)
	}

	d.logger.Info("Pushed intervention to user",
		zap.String("event_id", event.EventID),
		zap.String("user_id", event.UserID),
		zap.String("severity", string(event.Severity)),
	)
	return nil
}

// HandleConnect 处理用户连接建立
//
// 补投顺序：先发待处理摘要，再按创建顺序补投持久层中的待处理
// 事件，最后补投离线队列中持久层没有覆盖的消息
func (d *Dispatcher) HandleConnect(ctx context.Context, userID string, ch *Channel) {
	if previous := d.registry.Register(userID, ch); previous != nil {
		d.logger.Info("Replacing existing channel for user",
			zap.String("user_id", userID),
		)
		previous.Close()
	}

	pending, err := d.store.ListPendingByUser(ctx, userID)
	if err != nil {
		d.logger.Error("Failed to load pending interventions",
			zap.String("user_id", userID),
			zap.Error(err),
		)
		pending = nil
	}
	queued := d.queue.Drain(userID)

	// 离线队列和持久层可能覆盖同一事件，按事件 ID 去重
	seen := make(map[string]bool, len(pending))
	messages := make([]*models.PushMessage, 0, len(pending)+len(queued))
	for _, event := range pending {
		msg := models.NewPushMessage(event)
		if event.DeliveryState == models.StateEscalated {
			msg.Escalation = true
			msg.EscalationAttempt = event.EscalationAttempts
		}
		messages = append(messages, msg)
		seen[event.EventID] = true
	}
	for _, msg := range queued {
		if seen[msg.ID] {
			continue
		}
		messages = append(messages, msg)
	}

	summary := &models.PendingSummary{
		Type:      "pending_summary",
		Count:     len(messages),
		Timestamp: time.Now().Unix(),
	}
	if err := ch.Send(summary); err != nil {
		d.logger.Warn("Failed to send pending summary",
			zap.String("user_id", userID),
			zap.Error(err),
		)
		return
	}

	for i, event := range pending {
		if err := ch.Send(messages[i]); err != nil {
			d.logger.Warn("Failed to drain pending intervention",
				zap.String("event_id", event.EventID),
				zap.String("user_id", userID),
				zap.Error(err),
			)
			d.queue.Enqueue(userID, messages[i])
			continue
		}
		if event.DeliveryState == models.StateQueued {
			if err := d.store.UpdateDeliveryState(ctx, event.EventID, models.StateSent, event.EscalationAttempts); err != nil {
				d.logger.Error("Failed to mark intervention sent",
					zap.String("event_id", event.EventID),
					zap.Error(err),
				)
			}
		}
		if event.RequiresAcknowledgment {
			d.scheduleEscalation(event.EventID, event.EscalationAttempts+1)
		}
	}
	for _, msg := range messages[len(pending):] {
		if err := ch.Send(msg); err != nil {
			d.queue.Enqueue(userID, msg)
		}
	}

	d.logger.Info("User channel connected",
		zap.String("user_id", userID),
		zap.Int("pending_count", len(messages)),
	)
}

// HandleDisconnect 处理用户连接断开
func (d *Dispatcher) HandleDisconnect(userID string, ch *Channel) {
	d.registry.Unregister(userID, ch)
	ch.Close()
	d.logger.Info("User channel disconnected",
		zap.String("user_id", userID),
	)
}

// HandleCommand 处理客户端上行命令
func (d *Dispatcher) HandleCommand(userID string, cmd *models.ClientCommand) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	switch cmd.Type {
	case "acknowledge":
		if err := d.Acknowledge(ctx, userID, cmd.InterventionID, cmd.Response); err != nil {
			d.logger.Error("Failed to acknowledge intervention",
				zap.String("event_id", cmd.InterventionID),
				zap.Error(err),
			)
		}
	case "dismiss":
		if err := d.Dismiss(ctx, userID, cmd.InterventionID, cmd.Reason); err != nil {
			d.logger.Error("Failed to dismiss intervention",
				zap.String("event_id", cmd.InterventionID),
				zap.Error(err),
			)
		}
	case "subscribe":
		if ch := d.registry.Get(userID); ch != nil {
			ch.SetSubscription(cmd.Types)
		}
	case "ping":
		if ch := d.registry.Get(userID); ch != nil {
			ch.Send(map[string]interface{}{
				"type":      "pong",
				"timestamp": time.Now().Unix(),
			})
		}
	case "request_details":
		d.sendDetails(ctx, userID, cmd.InterventionID)
	default:
		d.logger.Debug("Unhandled client command",
			zap.String("user_id", userID),
			zap.String("command_type", cmd.Type),
		)
	}
}

// Acknowledge 确认干预事件（对未知事件和终态事件是空操作）
func (d *Dispatcher) Acknowledge(ctx context.Context, userID, eventID string, response string) error {
	event, err := d.store.GetEvent(ctx, eventID)
	if err != nil {
		d.logger.Debug("Acknowledge for unknown intervention ignored",
			zap.String("event_id", eventID),
		)
		return nil
	}
	if event.UserID != userID {
		d.logger.Warn("Acknowledge for intervention of another user rejected",
			zap.String("event_id", eventID),
			zap.String("user_id", userID),
		)
		return nil
	}
	if event.DeliveryState.IsTerminal() {
		return nil
	}

	d.timers.Cancel(eventID)

	var resp *string
	if response != "" {
		resp = &response
	}
	if err := d.store.MarkAcknowledged(ctx, eventID, resp); err != nil {
		return err
	}

	d.logger.Info("Intervention acknowledged",
		zap.String("event_id", eventID),
		zap.String("user_id", userID),
	)
	return nil
}

// Dismiss 驳回干预事件（对未知事件和终态事件是空操作）
func (d *Dispatcher) Dismiss(ctx context.Context, userID, eventID string, reason string) error {
	event, err := d.store.GetEvent(ctx, eventID)
	if err != nil {
		d.logger.Debug("Dismiss for unknown intervention ignored",
			zap.String("event_id", eventID),
		)
		return nil
	}
	if event.UserID != userID {
		d.logger.Warn("Dismiss for intervention of another user rejected",
			zap.String("event_id", eventID),
			zap.String("user_id", userID),
		)
		return nil
	}
	if event.DeliveryState.IsTerminal() {
		return nil
	}

	d.timers.Cancel(eventID)

	var r *string
	if reason != "" {
		r = &reason
	}
	if err := d.store.MarkDismissed(ctx, eventID, r); err != nil {
		return err
	}

	d.logger.Info("Intervention dismissed",
		zap.String("event_id", eventID),
		zap.String("user_id", userID),
	)
	return nil
}

// Stop 停止调度器（取消全部升级定时器）
func (d *Dispatcher) Stop() {
	d.timers.CancelAll()
}

// scheduleEscalation 安排第 attempt 次升级检查，延迟为 base*attempt
func (d *Dispatcher) scheduleEscalation(eventID string, attempt int) {
	delay := d.config.Delivery.EscalationBaseDelay * time.Duration(attempt)
	d.timers.Schedule(eventID, delay, func() {
		d.escalate(eventID, attempt)
	})
}

// escalate 升级检查到期处理
//
// 事件仍未进入终态时重投一次（带升级标记）并安排下一次检查；
// 升级次数超过上限则标记 ignored，不再重投
func (d *Dispatcher) escalate(eventID string, attempt int) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	event, err := d.store.GetEvent(ctx, eventID)
	if err != nil {
		d.logger.Error("Failed to load intervention for escalation",
			zap.String("event_id", eventID),
			zap.Error(err),
		)
		return
	}
	if event.DeliveryState.IsTerminal() {
		return
	}

	if attempt > models.MaxEscalationAttempts {
		if err := d.store.UpdateDeliveryState(ctx, eventID, models.StateIgnored, event.EscalationAttempts); err != nil {
			d.logger.Error("Failed to mark intervention ignored",
				zap.String("event_id", eventID),
				zap.Error(err),
			)
			return
		}
		d.logger.Warn("Intervention unacknowledged after max escalations, marked ignored",
			zap.String("event_id", eventID),
			zap.String("user_id", event.UserID),
			zap.Int("attempts", event.EscalationAttempts),
		)
		return
	}

	msg := models.NewPushMessage(event)
	msg.Escalation = true
	msg.EscalationAttempt = attempt

	if ch := d.registry.Get(event.UserID); ch != nil {
		if err := ch.Send(msg); err != nil {
			d.queue.Enqueue(event.UserID, msg)
		}
	} else {
		d.queue.Enqueue(event.UserID, msg)
	}

	if err := d.store.UpdateDeliveryState(ctx, eventID, models.StateEscalated, attempt); err != nil {
		d.logger.Error("Failed to record escalation",
			zap.String("event_id", eventID),
			zap.Error(err),
		)
	}

	d.logger.Info("Escalated unacknowledged intervention",
		zap.String("event_id", eventID),
		zap.String("user_id", event.UserID),
		zap.Int("attempt", attempt),
	)

	d.scheduleEscalation(eventID, attempt+1)
}

// sendDetails 下发事件详情
func (d *Dispatcher) sendDetails(ctx context.Context, userID, eventID string) {
	event, err := d.store.GetEvent(ctx, eventID)
	if err != nil || event.UserID != userID {
		return
	}
	if ch := d.registry.Get(userID); ch != nil {
		ch.Send(map[string]interface{}{
			"type":      "intervention_details",
			"event":     event,
			"timestamp": time.Now().Unix(),
		})
	}
}

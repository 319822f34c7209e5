package delivery

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"wisefido-wellness/internal/config"
	"wisefido-wellness/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeEventStore 内存事件存储，记录状态变更调用
type fakeEventStore struct {
	mu       sync.Mutex
	events   map[string]*models.InterventionEvent
	ackCalls int
}

func newFakeEventStore(events ...*models.InterventionEvent) *fakeEventStore {
	store := &fakeEventStore{events: make(map[string]*models.InterventionEvent)}
	for _, event := range events {
		store.events[event.EventID] = event
	}
	return store
}

func (s *fakeEventStore) GetEvent(ctx context.Context, eventID string) (*models.InterventionEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	event, ok := s.events[eventID]
	if !ok {
		return nil, fmt.Errorf("intervention event not found: %s", eventID)
	}
	clone := *event
	return &clone, nil
}

func (s *fakeEventStore) UpdateDeliveryState(ctx context.Context, eventID string, state models.DeliveryState, escalationAttempts int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	event, ok := s.events[eventID]
	if !ok {
		return fmt.Errorf("intervention event not found: %s", eventID)
	}
	event.DeliveryState = state
	event.EscalationAttempts = escalationAttempts
	return nil
}

func (s *fakeEventStore) MarkAcknowledged(ctx context.Context, eventID string, response *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	event, ok := s.events[eventID]
	if !ok {
		return fmt.Errorf("intervention event not found: %s", eventID)
	}
	event.DeliveryState = models.StateAcknowledged
	event.Response = response
	s.ackCalls++
	return nil
}

func (s *fakeEventStore) MarkDismissed(ctx context.Context, eventID string, reason *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	event, ok := s.events[eventID]
	if !ok {
		return fmt.Errorf("intervention event not found: %s", eventID)
	}
	event.DeliveryState = models.StateDismissed
	event.DismissReason = reason
	return nil
}

func (s *fakeEventStore) ListPendingByUser(ctx context.Context, userID string) ([]*models.InterventionEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var pending []*models.InterventionEvent
	for _, event := range s.events {
		if event.UserID == userID && !event.DeliveryState.IsTerminal() {
			clone := *event
			pending = append(pending, &clone)
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		return pending[i].CreatedAt.Before(pending[j].CreatedAt)
	})
	return pending, nil
}

func (s *fakeEventStore) state(eventID string) models.DeliveryState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.events[eventID].DeliveryState
}

func (s *fakeEventStore) attempts(eventID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.events[eventID].EscalationAttempts
}

func newTestDispatcher(store EventStore, escalationBase time.Duration) *Dispatcher {
	cfg := &config.Config{}
	cfg.Delivery.QueueCapacity = 100
	cfg.Delivery.QueueRetention = 24 * time.Hour
	cfg.Delivery.HeartbeatInterval = 30 * time.Second
	cfg.Delivery.PongTimeout = 60 * time.Second
	cfg.Delivery.EscalationBaseDelay = escalationBase
	return NewDispatcher(cfg, store, zap.NewNop())
}

func newTestEvent(eventID, userID string, requiresAck bool) *models.InterventionEvent {
	return &models.InterventionEvent{
		EventID:                eventID,
		UserID:                 userID,
		Type:                   "low_recovery",
		Severity:               models.SeverityHigh,
		Reason:                 "Recovery score is low",
		Action:                 "rest_day",
		RequiresAcknowledgment: requiresAck,
		DeliveryState:          models.StateQueued,
		CreatedAt:              time.Now(),
		UpdatedAt:              time.Now(),
	}
}

func TestDispatch_OfflineUser_GoesToQueue(t *testing.T) {
	event := newTestEvent("e1", "user-1", false)
	store := newFakeEventStore(event)
	d := newTestDispatcher(store, 30*time.Second)
	defer d.Stop()

	require.NoError(t, d.Dispatch(context.Background(), event))

	assert.Equal(t, 1, d.queue.Len("user-1"))
	assert.Equal(t, models.StateQueued, store.state("e1"))
}

func TestDispatch_OnlineUser_MarkedSent(t *testing.T) {
	event := newTestEvent("e1", "user-1", false)
	store := newFakeEventStore(event)
	d := newTestDispatcher(store, 30*time.Second)
	defer d.Stop()

	ch := newTestChannel("user-1")
	d.registry.Register("user-1", ch)

	require.NoError(t, d.Dispatch(context.Background(), event))

	assert.Equal(t, models.StateSent, store.state("e1"))
	assert.Equal(t, 0, d.queue.Len("user-1"))

	msg := <-ch.send
	push, ok := msg.(*models.PushMessage)
	require.True(t, ok)
	assert.Equal(t, "e1", push.ID)
	assert.Equal(t, "intervention", push.Type)
	assert.False(t, push.Escalation)
}

func TestDispatch_SendFailure_RequeuesAndUnregisters(t *testing.T) {
	event := newTestEvent("e1", "user-1", false)
	store := newFakeEventStore(event)
	d := newTestDispatcher(store, 30*time.Second)
	defer d.Stop()

	ch := newTestChannel("user-1")
	ch.Close()
	d.registry.Register("user-1", ch)

	require.NoError(t, d.Dispatch(context.Background(), event))

	assert.Equal(t, 1, d.queue.Len("user-1"))
	assert.Nil(t, d.registry.Get("user-1"))
	assert.Equal(t, models.StateQueued, store.state("e1"))
}

func TestDispatch_SubscriptionFilter_QueuesFilteredTypes(t *testing.T) {
	event := newTestEvent("e1", "user-1", false)
	store := newFakeEventStore(event)
	d := newTestDispatcher(store, 30*time.Second)
	defer d.Stop()

	ch := newTestChannel("user-1")
	ch.SetSubscription([]string{"sleep_deficit"})
	d.registry.Register("user-1", ch)

	require.NoError(t, d.Dispatch(context.Background(), event))

	assert.Equal(t, 1, d.queue.Len("user-1"))
	assert.Len(t, ch.send, 0)
}

func TestAcknowledge_UnknownAndTerminal_NoOp(t *testing.T) {
	event := newTestEvent("e1", "user-1", true)
	event.DeliveryState = models.StateAcknowledged
	store := newFakeEventStore(event)
	d := newTestDispatcher(store, 30*time.Second)
	defer d.Stop()

	// 未知事件：空操作，不报错
	require.NoError(t, d.Acknowledge(context.Background(), "user-1", "missing", ""))

	// 终态事件：重复确认是空操作
	require.NoError(t, d.Acknowledge(context.Background(), "user-1", "e1", "done"))
	assert.Equal(t, 0, store.ackCalls)
}

func TestAcknowledge_WrongUser_Rejected(t *testing.T) {
	event := newTestEvent("e1", "user-1", true)
	event.DeliveryState = models.StateSent
	store := newFakeEventStore(event)
	d := newTestDispatcher(store, 30*time.Second)
	defer d.Stop()

	require.NoError(t, d.Acknowledge(context.Background(), "user-2", "e1", ""))
	assert.Equal(t, models.StateSent, store.state("e1"))
}

func TestAcknowledge_CancelsEscalation(t *testing.T) {
	event := newTestEvent("e1", "user-1", true)
	event.DeliveryState = models.StateSent
	store := newFakeEventStore(event)
	d := newTestDispatcher(store, 50*time.Millisecond)
	defer d.Stop()

	d.scheduleEscalation("e1", 1)
	require.NoError(t, d.Acknowledge(context.Background(), "user-1", "e1", "will rest"))

	assert.Equal(t, models.StateAcknowledged, store.state("e1"))

	// 升级定时器已取消：等过延迟窗口后状态不变
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, models.StateAcknowledged, store.state("e1"))
	assert.Equal(t, 0, store.attempts("e1"))
}

func TestDismiss_MarksDismissed(t *testing.T) {
	event := newTestEvent("e1", "user-1", true)
	event.DeliveryState = models.StateSent
	store := newFakeEventStore(event)
	d := newTestDispatcher(store, 30*time.Second)
	defer d.Stop()

	require.NoError(t, d.Dismiss(context.Background(), "user-1", "e1", "not relevant"))
	assert.Equal(t, models.StateDismissed, store.state("e1"))
}

func TestEscalation_MaxAttemptsThenIgnored(t *testing.T) {
	event := newTestEvent("e1", "user-1", true)
	event.DeliveryState = models.StateSent
	store := newFakeEventStore(event)
	d := newTestDispatcher(store, 10*time.Millisecond)
	defer d.Stop()

	// 用户离线：升级重投进入离线队列
	d.scheduleEscalation("e1", 1)

	require.Eventually(t, func() bool {
		return store.state("e1") == models.StateIgnored
	}, 2*time.Second, 10*time.Millisecond)

	// 恰好 3 次升级重投，之后不再重试
	assert.Equal(t, 3, store.attempts("e1"))
	assert.Equal(t, 3, d.queue.Len("user-1"))

	messages := d.queue.Drain("user-1")
	for i, msg := range messages {
		assert.True(t, msg.Escalation)
		assert.Equal(t, i+1, msg.EscalationAttempt)
	}
}

func TestEscalation_TerminalEvent_NoResend(t *testing.T) {
	event := newTestEvent("e1", "user-1", true)
	event.DeliveryState = models.StateAcknowledged
	store := newFakeEventStore(event)
	d := newTestDispatcher(store, 10*time.Millisecond)
	defer d.Stop()

	d.escalate("e1", 1)

	assert.Equal(t, 0, d.queue.Len("user-1"))
	assert.Equal(t, models.StateAcknowledged, store.state("e1"))
	assert.Equal(t, 0, store.attempts("e1"))
}

func TestHandleConnect_SummaryFirstThenDrain(t *testing.T) {
	older := newTestEvent("e1", "user-1", false)
	older.CreatedAt = time.Now().Add(-2 * time.Hour)
	newer := newTestEvent("e2", "user-1", false)
	newer.CreatedAt = time.Now().Add(-time.Hour)
	store := newFakeEventStore(older, newer)
	d := newTestDispatcher(store, 30*time.Second)
	defer d.Stop()

	// 离线队列里有一条持久层没有覆盖的消息
	d.queue.Enqueue("user-1", newTestMessage("e3"))

	ch := newTestChannel("user-1")
	d.HandleConnect(context.Background(), "user-1", ch)

	summary, ok := (<-ch.send).(*models.PendingSummary)
	require.True(t, ok, "summary must be delivered first")
	assert.Equal(t, "pending_summary", summary.Type)
	assert.Equal(t, 3, summary.Count)

	first := (<-ch.send).(*models.PushMessage)
	second := (<-ch.send).(*models.PushMessage)
	third := (<-ch.send).(*models.PushMessage)
	assert.Equal(t, "e1", first.ID)
	assert.Equal(t, "e2", second.ID)
	assert.Equal(t, "e3", third.ID)

	// 补投后持久层状态推进为 sent
	assert.Equal(t, models.StateSent, store.state("e1"))
	assert.Equal(t, models.StateSent, store.state("e2"))
}

func TestHandleConnect_DeduplicatesQueueAgainstPending(t *testing.T) {
	event := newTestEvent("e1", "user-1", false)
	store := newFakeEventStore(event)
	d := newTestDispatcher(store, 30*time.Second)
	defer d.Stop()

	// 离线队列里的同一事件不重复补投
	d.queue.Enqueue("user-1", newTestMessage("e1"))

	ch := newTestChannel("user-1")
	d.HandleConnect(context.Background(), "user-1", ch)

	summary := (<-ch.send).(*models.PendingSummary)
	assert.Equal(t, 1, summary.Count)

	push := (<-ch.send).(*models.PushMessage)
	assert.Equal(t, "e1", push.ID)
	assert.Len(t, ch.send, 0)
}

func TestHandleConnect_EscalatedEventKeepsFlag(t *testing.T) {
	event := newTestEvent("e1", "user-1", true)
	event.DeliveryState = models.StateEscalated
	event.EscalationAttempts = 2
	store := newFakeEventStore(event)
	d := newTestDispatcher(store, 30*time.Second)
	defer d.Stop()

	ch := newTestChannel("user-1")
	d.HandleConnect(context.Background(), "user-1", ch)

	<-ch.send // summary
	push := (<-ch.send).(*models.PushMessage)
	assert.True(t, push.Escalation)
	assert.Equal(t, 2, push.EscalationAttempt)
}

func TestHandleConnect_ReplacesPreviousChannel(t *testing.T) {
	store := newFakeEventStore()
	d := newTestDispatcher(store, 30*time.Second)
	defer d.Stop()

	old := newTestChannel("user-1")
	d.HandleConnect(context.Background(), "user-1", old)

	replacement := newTestChannel("user-1")
	d.HandleConnect(context.Background(), "user-1", replacement)

	assert.True(t, old.Closed())
	assert.Same(t, replacement, d.registry.Get("user-1"))
}

func TestHandleDisconnect_RemovesChannel(t *testing.T) {
	store := newFakeEventStore()
	d := newTestDispatcher(store, 30*time.Second)
	defer d.Stop()

	ch := newTestChannel("user-1")
	d.HandleConnect(context.Background(), "user-1", ch)
	d.HandleDisconnect("user-1", ch)

	assert.Nil(t, d.registry.Get("user-1"))
	assert.True(t, ch.Closed())
}

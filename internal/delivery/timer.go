package delivery

import (
	"sync"
	"time"
)

// EscalationTimers 升级检查定时器集合
//
// 每个待确认事件最多挂一个定时器，确认/驳回后取消。
// Cancel 对不存在的事件是空操作
type EscalationTimers struct {
	mu     sync.Mutex
	timers map[string]*time.Timer
}

// NewEscalationTimers 创建定时器集合
func NewEscalationTimers() *EscalationTimers {
	return &EscalationTimers{
		timers: make(map[string]*time.Timer),
	}
}

// Schedule 为事件安排一次升级检查，覆盖已存在的定时器
func (t *EscalationTimers) Schedule(eventID string, delay time.Duration, fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if existing, ok := t.timers[eventID]; ok {
		existing.Stop()
	}
	t.timers[eventID] = time.AfterFunc(delay, func() {
		t.remove(eventID)
		fn()
	})
}

// Cancel 取消事件的升级检查（幂等）
func (t *EscalationTimers) Cancel(eventID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if timer, ok := t.timers[eventID]; ok {
		timer.Stop()
		delete(t.timers, eventID)
	}
}

// CancelAll 取消全部定时器（服务停止时调用）
func (t *EscalationTimers) CancelAll() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for eventID, timer := range t.timers {
		timer.Stop()
		delete(t.timers, eventID)
	}
}

func (t *EscalationTimers) remove(eventID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.timers, eventID)
}

package delivery

import (
	"sync"
	"time"

	"wisefido-wellness/internal/models"
)

// queuedMessage 离线队列条目（带入队时间，用于保留期过滤）
type queuedMessage struct {
	message    *models.PushMessage
	enqueuedAt time.Time
}

// OfflineQueue 每用户离线消息队列
//
// 用户不在线时干预消息进入该队列，连接建立后按入队顺序补投。
// 容量满时淘汰最旧条目，超过保留期的条目在补投时丢弃
type OfflineQueue struct {
	mu        sync.Mutex
	queues    map[string][]queuedMessage
	capacity  int
	retention time.Duration
}

// NewOfflineQueue 创建离线队列
func NewOfflineQueue(capacity int, retention time.Duration) *OfflineQueue {
	if capacity <= 0 {
		capacity = 100
	}
	return &OfflineQueue{
		queues:    make(map[string][]queuedMessage),
		capacity:  capacity,
		retention: retention,
	}
}

// Enqueue 入队一条消息，返回是否发生了最旧条目淘汰
func (q *OfflineQueue) Enqueue(userID string, msg *models.PushMessage) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	queue := q.queues[userID]
	evicted := false
	if len(queue) >= q.capacity {
		queue = queue[1:]
		evicted = true
	}
	q.queues[userID] = append(queue, queuedMessage{
		message:    msg,
		enqueuedAt: time.Now(),
	})
	return evicted
}

// Drain 取出并清空用户的全部待投消息（过滤掉超过保留期的条目）
func (q *OfflineQueue) Drain(userID string) []*models.PushMessage {
	q.mu.Lock()
	defer q.mu.Unlock()

	queue := q.queues[userID]
	if len(queue) == 0 {
		return nil
	}
	delete(q.queues, userID)

	cutoff := time.Now().Add(-q.retention)
	messages := make([]*models.PushMessage, 0, len(queue))
	for _, entry := range queue {
		if entry.enqueuedAt.Before(cutoff) {
			continue
		}
		messages = append(messages, entry.message)
	}
	return messages
}

// Len 用户当前排队的消息数
func (q *OfflineQueue) Len(userID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queues[userID])
}

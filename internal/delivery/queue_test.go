package delivery

import (
	"fmt"
	"testing"
	"time"

	"wisefido-wellness/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMessage(id string) *models.PushMessage {
	return &models.PushMessage{
		Type:     "intervention",
		ID:       id,
		Severity: models.SeverityHigh,
	}
}

func TestOfflineQueue_EnqueueDrain_FIFO(t *testing.T) {
	q := NewOfflineQueue(100, 24*time.Hour)

	q.Enqueue("user-1", newTestMessage("e1"))
	q.Enqueue("user-1", newTestMessage("e2"))
	q.Enqueue("user-1", newTestMessage("e3"))

	messages := q.Drain("user-1")
	require.Len(t, messages, 3)
	assert.Equal(t, "e1", messages[0].ID)
	assert.Equal(t, "e2", messages[1].ID)
	assert.Equal(t, "e3", messages[2].ID)

	// Drain 之后队列为空
	assert.Empty(t, q.Drain("user-1"))
	assert.Equal(t, 0, q.Len("user-1"))
}

func TestOfflineQueue_CapacityEvictsOldest(t *testing.T) {
	q := NewOfflineQueue(3, 24*time.Hour)

	assert.False(t, q.Enqueue("user-1", newTestMessage("e1")))
	assert.False(t, q.Enqueue("user-1", newTestMessage("e2")))
	assert.False(t, q.Enqueue("user-1", newTestMessage("e3")))
	assert.True(t, q.Enqueue("user-1", newTestMessage("e4")))

	messages := q.Drain("user-1")
	require.Len(t, messages, 3)
	assert.Equal(t, "e2", messages[0].ID)
	assert.Equal(t, "e4", messages[2].ID)
}

func TestOfflineQueue_RetentionFiltersStaleEntries(t *testing.T) {
	q := NewOfflineQueue(100, 50*time.Millisecond)

	q.Enqueue("user-1", newTestMessage("stale"))
	time.Sleep(80 * time.Millisecond)
	q.Enqueue("user-1", newTestMessage("fresh"))

	messages := q.Drain("user-1")
	require.Len(t, messages, 1)
	assert.Equal(t, "fresh", messages[0].ID)
}

func TestOfflineQueue_PerUserIsolation(t *testing.T) {
	q := NewOfflineQueue(100, 24*time.Hour)

	for i := 0; i < 5; i++ {
		q.Enqueue("user-1", newTestMessage(fmt.Sprintf("a%d", i)))
	}
	q.Enqueue("user-2", newTestMessage("b0"))

	assert.Equal(t, 5, q.Len("user-1"))
	assert.Equal(t, 1, q.Len("user-2"))

	assert.Len(t, q.Drain("user-1"), 5)
	assert.Equal(t, 1, q.Len("user-2"))
}

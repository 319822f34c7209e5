package delivery

import (
	"fmt"
	"sync"
	"time"

	"wisefido-wellness/internal/models"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	sendBufferSize = 16
	writeTimeout   = 10 * time.Second
)

// CommandHandler 上行命令处理函数类型
type CommandHandler func(userID string, cmd *models.ClientCommand)

// Channel 单个用户的 WebSocket 推送通道
//
// 写入统一走 send 缓冲通道，由 writePump 串行落盘到连接；
// readPump 负责上行命令解析和心跳应答的读超时维护
type Channel struct {
	userID string
	conn   *websocket.Conn
	logger *zap.Logger

	send chan interface{}
	done chan struct{}

	closeOnce sync.Once

	// subscriptions 客户端订阅的干预类型过滤（nil 表示接收全部）
	subMu         sync.RWMutex
	subscriptions map[string]bool

	heartbeatInterval time.Duration
	pongTimeout       time.Duration
}

// NewChannel 创建推送通道
func NewChannel(userID string, conn *websocket.Conn, heartbeatInterval, pongTimeout time.Duration, logger *zap.Logger) *Channel {
	return &Channel{
		userID:            userID,
		conn:              conn,
		logger:            logger,
		send:              make(chan interface{}, sendBufferSize),
		done:              make(chan struct{}),
		heartbeatInterval: heartbeatInterval,
		pongTimeout:       pongTimeout,
	}
}

// UserID 通道所属用户
func (c *Channel) UserID() string {
	return c.userID
}

// Send 投递一条下行消息（非阻塞，通道已关闭或缓冲满时返回错误）
func (c *Channel) Send(msg interface{}) error {
	select {
	case <-c.done:
		return fmt.Errorf("channel closed for user %s", c.userID)
	default:
	}

	select {
	case c.send <- msg:
		return nil
	case <-c.done:
		return fmt.Errorf("channel closed for user %s", c.userID)
	default:
		return fmt.Errorf("send buffer full for user %s", c.userID)
	}
}

// SetSubscription 设置干预类型订阅过滤（空列表恢复为接收全部）
func (c *Channel) SetSubscription(types []string) {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	if len(types) == 0 {
		c.subscriptions = nil
		return
	}
	filter := make(map[string]bool, len(types))
	for _, t := range types {
		filter[t] = true
	}
	c.subscriptions = filter
}

// Accepts 通道是否接收该类型的干预消息
func (c *Channel) Accepts(interventionType string) bool {
	c.subMu.RLock()
	defer c.subMu.RUnlock()

	if c.subscriptions == nil {
		return true
	}
	return c.subscriptions[interventionType]
}

// Run 启动通道的读写循环（阻塞直到连接断开）
func (c *Channel) Run(handler CommandHandler) {
	go c.writePump()
	c.readPump(handler)
}

// Close 关闭通道（幂等）
func (c *Channel) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.conn != nil {
			c.conn.Close()
		}
	})
}

// Closed 通道是否已关闭
func (c *Channel) Closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// writePump 下行写循环：send 通道串行写出 + 定时心跳
func (c *Channel) writePump() {
	ticker := time.NewTicker(c.heartbeatInterval)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteJSON(msg); err != nil {
				c.logger.Debug("WebSocket write failed",
					zap.String("user_id", c.userID),
					zap.Error(err),
				)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump 上行读循环：维护 pong 读超时并解析客户端命令
func (c *Channel) readPump(handler CommandHandler) {
	defer c.Close()

	c.conn.SetReadDeadline(time.Now().Add(c.pongTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.pongTimeout))
		return nil
	})

	for {
		var cmd models.ClientCommand
		if err := c.conn.ReadJSON(&cmd); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("WebSocket read failed",
					zap.String("user_id", c.userID),
					zap.Error(err),
				)
			}
			return
		}
		// 上行消息同样证明连接活跃
		c.conn.SetReadDeadline(time.Now().Add(c.pongTimeout))

		if handler != nil {
			handler(c.userID, &cmd)
		}
	}
}

package delivery

import (
	"net/http"

	"wisefido-wellness/internal/config"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// WSHandler 推送通道 HTTP 升级处理器
//
// 认证在网关层完成，这里只信任网关注入的用户标识：
// 优先取 X-User-ID 请求头，其次取 user_id 查询参数
type WSHandler struct {
	config     *config.Config
	dispatcher *Dispatcher
	logger     *zap.Logger
	upgrader   websocket.Upgrader
}

// NewWSHandler 创建 WebSocket 处理器
func NewWSHandler(cfg *config.Config, dispatcher *Dispatcher, logger *zap.Logger) *WSHandler {
	return &WSHandler{
		config:     cfg,
		dispatcher: dispatcher,
		logger:     logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// ServeHTTP 处理推送通道连接请求
func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get("X-User-ID")
	if userID == "" {
		userID = r.URL.Query().Get("user_id")
	}
	if userID == "" {
		http.Error(w, "missing user identity", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed",
			zap.String("user_id", userID),
			zap.Error(err),
		)
		return
	}

	ch := NewChannel(userID, conn, h.config.Delivery.HeartbeatInterval, h.config.Delivery.PongTimeout, h.logger)
	h.dispatcher.HandleConnect(r.Context(), userID, ch)
	ch.Run(h.dispatcher.HandleCommand)
	h.dispatcher.HandleDisconnect(userID, ch)
}

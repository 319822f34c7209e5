package delivery

import "sync"

// Registry 在线推送通道注册表
//
// 每个用户同一时刻只保留一条通道，新连接替换旧连接
type Registry struct {
	mu       sync.RWMutex
	channels map[string]*Channel
}

// NewRegistry 创建注册表
func NewRegistry() *Registry {
	return &Registry{
		channels: make(map[string]*Channel),
	}
}

// Register 注册用户通道，返回被替换的旧通道（没有则为 nil）
func (r *Registry) Register(userID string, ch *Channel) *Channel {
	r.mu.Lock()
	defer r.mu.Unlock()

	previous := r.channels[userID]
	r.channels[userID] = ch
	return previous
}

// Unregister 注销用户通道
// 仅当注册表中仍是该通道时才移除，避免新连接被旧连接的关闭流程误删
func (r *Registry) Unregister(userID string, ch *Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if current, ok := r.channels[userID]; ok && current == ch {
		delete(r.channels, userID)
	}
}

// Get 获取用户当前通道（不在线时为 nil）
func (r *Registry) Get(userID string) *Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.channels[userID]
}

// Count 当前在线通道数
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.channels)
}

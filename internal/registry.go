package internal

import "sync"

// Binding 連接當前佔用的 (玩家, 房間)
type Binding struct {
	PlayerID string
	RoomID   string
}

// Registry 連接註冊表
//
// 一個連接同一時間至多綁定一組 (playerID, roomID)；
// 不在表中的連接是「僅瀏覽」狀態。綁定在成功 create/join 時建立，
// 在 leave/kick/斷線時刪除。
//
// 註冊表有自己的鎖，查詢與增刪不依賴任何房間鎖——
// 目錄操作與房間序列化彼此獨立（§併發模型）。
type Registry struct {
	mu       sync.RWMutex
	bindings map[string]Binding // connID -> Binding
}

// NewRegistry 建立連接註冊表
func NewRegistry() *Registry {
	return &Registry{
		bindings: make(map[string]Binding),
	}
}

// Bind 綁定連接
func (reg *Registry) Bind(connID, playerID, roomID string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.bindings[connID] = Binding{PlayerID: playerID, RoomID: roomID}
}

// Unbind 解除綁定
func (reg *Registry) Unbind(connID string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	delete(reg.bindings, connID)
}

// Lookup 查詢連接的綁定
func (reg *Registry) Lookup(connID string) (Binding, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	b, ok := reg.bindings[connID]
	return b, ok
}

// Count 目前綁定的連接數
func (reg *Registry) Count() int {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return len(reg.bindings)
}

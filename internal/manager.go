package internal

import (
	"crypto/rand"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// minRoomCapacity / maxRoomCapacity 牌局最多發四手牌
	minRoomCapacity = 2
	maxRoomCapacity = 4

	// roomCodeLength 房間代碼長度（簡短、可手動輸入）
	roomCodeLength = 6

	// roomCodeRetries 代碼碰撞時的重試上限，用盡視為資源耗盡
	roomCodeRetries = 10
)

// GameStateFactory 規則引擎的初始狀態工廠
//
// startGame 成功時呼叫，產物作為不透明句柄存進房間；
// 協調器從不解讀其內容。nil 表示不安裝任何狀態。
type GameStateFactory func(roomID string, players []Player) any

// Manager 大廳協調器
//
// 擁有 Room Store（roomID -> Room 目錄）與 Connection Registry，
// 是所有生命週期操作的入口。目錄用自己的 RWMutex 保護，
// 單一房間內的序列化交給每房的鎖——異房操作完全並行。
//
// 事件投遞：房間範圍的事件由 Room 在持有房間鎖時發出
// （順序保證），全域的列表刷新由 Manager 在變更提交後發出。
type Manager struct {
	rooms      map[string]*Room // roomID -> Room
	mu         sync.RWMutex
	registry   *Registry
	dispatcher Dispatcher
	factory    GameStateFactory
	logger     *slog.Logger

	idleTimeout   time.Duration
	sweepInterval time.Duration

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewManager 建立大廳協調器並啟動閒置收割
func NewManager(cfg LobbyConfig, logger *slog.Logger) *Manager {
	idleTimeout := cfg.RoomIdleTimeout.Std()
	if idleTimeout <= 0 {
		idleTimeout = 30 * time.Minute
	}
	sweepInterval := cfg.SweepInterval.Std()
	if sweepInterval <= 0 {
		sweepInterval = 5 * time.Minute
	}

	m := &Manager{
		rooms:         make(map[string]*Room),
		registry:      NewRegistry(),
		logger:        logger,
		idleTimeout:   idleTimeout,
		sweepInterval: sweepInterval,
		stopCh:        make(chan struct{}),
	}

	m.wg.Add(1)
	go m.reapLoop()

	return m
}

// SetDispatcher 掛上事件投遞器（Hub 建立後呼叫）
func (m *Manager) SetDispatcher(d Dispatcher) {
	m.dispatcher = d
}

// SetGameStateFactory 掛上規則引擎的初始狀態工廠
func (m *Manager) SetGameStateFactory(f GameStateFactory) {
	m.factory = f
}

// Registry 取得連接註冊表
func (m *Manager) Registry() *Registry {
	return m.registry
}

// CreateRoom 創建房間
//
// 建立者成為房主（隱含已準備），連接隨即綁定。
// 除了參數驗證與代碼空間耗盡，創建不會失敗。
func (m *Manager) CreateRoom(name, hostName string, maxPlayers int, password, connID string) (*RoomState, string, error) {
	if name == "" || hostName == "" {
		return nil, "", ErrInvalidRequest
	}
	if maxPlayers < minRoomCapacity || maxPlayers > maxRoomCapacity {
		return nil, "", ErrInvalidCapacity
	}
	if _, bound := m.registry.Lookup(connID); bound {
		return nil, "", ErrAlreadyInRoom
	}

	host := &Player{
		ID:       uuid.NewString(),
		Name:     hostName,
		ConnID:   connID,
		JoinedAt: time.Now(),
	}
	room := newRoom("", name, maxPlayers, password, host, m.emitTo)

	// 代碼碰撞時重新產生；插入目錄在寫鎖內完成，
	// 兩個併發創建不可能搶到同一個代碼
	inserted := false
	for range roomCodeRetries {
		code := generateRoomCode()
		m.mu.Lock()
		if _, exists := m.rooms[code]; !exists {
			room.ID = code
			m.rooms[code] = room
			inserted = true
		}
		m.mu.Unlock()
		if inserted {
			break
		}
	}
	if !inserted {
		return nil, "", ErrCodeExhausted
	}

	m.registry.Bind(connID, host.ID, room.ID)

	m.logger.Info("房間已創建",
		"room_id", room.ID,
		"name", name,
		"max_players", maxPlayers,
		"host_id", host.ID)

	m.broadcastRooms()

	return room.Snapshot(), host.ID, nil
}

// JoinRoom 加入房間
func (m *Manager) JoinRoom(roomID, playerName, password, connID string) (*RoomState, string, error) {
	if playerName == "" {
		return nil, "", ErrInvalidRequest
	}
	if _, bound := m.registry.Lookup(connID); bound {
		return nil, "", ErrAlreadyInRoom
	}

	room, err := m.getRoom(roomID)
	if err != nil {
		return nil, "", err
	}

	player := &Player{
		ID:     uuid.NewString(),
		Name:   playerName,
		ConnID: connID,
	}
	state, err := room.Join(player, password)
	if err != nil {
		return nil, "", err
	}

	m.registry.Bind(connID, player.ID, room.ID)

	m.logger.Info("玩家加入房間",
		"room_id", room.ID,
		"player_id", player.ID,
		"player_name", playerName)

	m.broadcastRooms()

	return state, player.ID, nil
}

// Leave 離開房間（主動離開與斷線共用的路徑）
//
// 未綁定的連接是 no-op。成為空房的房間立即從 Store 刪除——
// 空房間絕不保留。
func (m *Manager) Leave(connID string) LeaveOutcome {
	binding, ok := m.registry.Lookup(connID)
	if !ok {
		return LeaveOutcome{}
	}

	room, err := m.getRoom(binding.RoomID)
	if err != nil {
		// 房間已被收割，只剩過期綁定要清
		m.registry.Unbind(connID)
		return LeaveOutcome{}
	}

	outcome := room.RemovePlayer(binding.PlayerID)
	m.registry.Unbind(connID)

	if outcome.RoomDeleted {
		m.removeRoom(room.ID)
		m.logger.Info("房間已刪除（最後一位玩家離開）", "room_id", room.ID)
	}
	if outcome.Removed {
		m.logger.Info("玩家離開房間",
			"room_id", room.ID,
			"player_id", binding.PlayerID,
			"new_host_id", outcome.NewHostID)
		m.broadcastRooms()
	}

	return outcome
}

// KickPlayer 踢出玩家（只有房主可以）
//
// 被踢者的連接被強制解除綁定；即使被踢者的連接已經消失，
// 房間側的變更仍然提交——對過期對象的通知是盡力而為。
func (m *Manager) KickPlayer(connID, roomID, targetPlayerID string) error {
	binding, ok := m.registry.Lookup(connID)
	if !ok || binding.RoomID != roomID {
		return ErrNotAuthorized
	}

	room, err := m.getRoom(roomID)
	if err != nil {
		return err
	}

	targetConn, _, err := room.Kick(binding.PlayerID, targetPlayerID)
	if err != nil {
		return err
	}

	m.registry.Unbind(targetConn)

	m.logger.Info("玩家被踢出房間",
		"room_id", roomID,
		"player_id", targetPlayerID,
		"by", binding.PlayerID)

	m.broadcastRooms()

	return nil
}

// ToggleReady 切換準備狀態
//
// 客戶端聲稱的房間必須與註冊表記錄一致（過期的客戶端狀態不可信）。
func (m *Manager) ToggleReady(connID, roomID string) (bool, error) {
	binding, ok := m.registry.Lookup(connID)
	if !ok || binding.RoomID != roomID {
		return false, ErrRoomMismatch
	}

	room, err := m.getRoom(roomID)
	if err != nil {
		return false, err
	}

	return room.ToggleReady(binding.PlayerID)
}

// StartGame 開始遊戲
func (m *Manager) StartGame(connID, roomID string) error {
	binding, ok := m.registry.Lookup(connID)
	if !ok || binding.RoomID != roomID {
		return ErrNotAuthorized
	}

	room, err := m.getRoom(roomID)
	if err != nil {
		return err
	}

	if _, err := room.StartGame(binding.PlayerID, m.factory); err != nil {
		return err
	}

	m.logger.Info("遊戲開始", "room_id", roomID, "host_id", binding.PlayerID)

	// 房間離開可瀏覽列表
	m.broadcastRooms()

	return nil
}

// EndGame 規則引擎通知遊戲結束
func (m *Manager) EndGame(roomID string) error {
	room, err := m.getRoom(roomID)
	if err != nil {
		return err
	}
	room.EndGame()
	m.logger.Info("遊戲結束", "room_id", roomID)
	return nil
}

// RoomState 取得房間快照（規則引擎與唯讀查詢使用）
func (m *Manager) RoomState(roomID string) (*RoomState, error) {
	room, err := m.getRoom(roomID)
	if err != nil {
		return nil, err
	}
	return room.Snapshot(), nil
}

// ListActiveRooms 可瀏覽房間列表
//
// 只含 waiting 且無遊戲進行的房間，按建立時間排序；
// 密碼與連接 ID 永不出現。
func (m *Manager) ListActiveRooms() []RoomSummary {
	m.mu.RLock()
	rooms := make([]*Room, 0, len(m.rooms))
	for _, room := range m.rooms {
		rooms = append(rooms, room)
	}
	m.mu.RUnlock()

	result := make([]RoomSummary, 0, len(rooms))
	for _, room := range rooms {
		if room.Browsable() {
			result = append(result, room.Summary())
		}
	}
	slices.SortFunc(result, func(a, b RoomSummary) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return result
}

// Reap 立即執行一次閒置收割（供測試與收割迴圈使用）
func (m *Manager) Reap(now time.Time) int {
	m.mu.RLock()
	rooms := make([]*Room, 0, len(m.rooms))
	for _, room := range m.rooms {
		rooms = append(rooms, room)
	}
	m.mu.RUnlock()

	reaped := 0
	for _, room := range rooms {
		expired, conns, invalid := room.expire(now, m.idleTimeout, "房間閒置已被關閉")
		if invalid {
			m.logger.Warn("房間活動時間無效，跳過收割", "room_id", room.ID)
			continue
		}
		if !expired {
			continue
		}

		m.removeRoom(room.ID)
		for _, connID := range conns {
			m.registry.Unbind(connID)
		}
		m.logger.Info("房間閒置已收割", "room_id", room.ID, "members", len(conns))
		reaped++
	}

	if reaped > 0 {
		m.broadcastRooms()
	}
	return reaped
}

// Stats 統計資訊
func (m *Manager) Stats() map[string]any {
	m.mu.RLock()
	rooms := make([]*Room, 0, len(m.rooms))
	for _, room := range m.rooms {
		rooms = append(rooms, room)
	}
	m.mu.RUnlock()

	statusCount := make(map[RoomStatus]int)
	totalPlayers := 0
	for _, room := range rooms {
		statusCount[room.Summary().Status]++
		totalPlayers += room.PlayerCount()
	}

	return map[string]any{
		"total_rooms":       len(rooms),
		"total_players":     totalPlayers,
		"bound_connections": m.registry.Count(),
		"by_status":         statusCount,
	}
}

// Stop 停止協調器
func (m *Manager) Stop() {
	close(m.stopCh)
	m.wg.Wait()
	m.logger.Info("大廳協調器已停止")
}

// reapLoop 定期收割閒置房間
func (m *Manager) reapLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.Reap(time.Now())
		case <-m.stopCh:
			return
		}
	}
}

// getRoom 查詢房間
func (m *Manager) getRoom(roomID string) (*Room, error) {
	m.mu.RLock()
	room, exists := m.rooms[strings.ToUpper(roomID)]
	m.mu.RUnlock()

	if !exists {
		return nil, ErrRoomNotFound
	}
	return room, nil
}

// removeRoom 從目錄移除房間
func (m *Manager) removeRoom(roomID string) {
	m.mu.Lock()
	delete(m.rooms, roomID)
	m.mu.Unlock()
}

// emitTo 房間範圍的事件投遞（Room 在持有房間鎖時呼叫）
func (m *Manager) emitTo(connIDs []string, e Event) {
	if m.dispatcher == nil || len(connIDs) == 0 {
		return
	}
	m.dispatcher.ToConns(connIDs, e)
}

// broadcastRooms 全域列表刷新
func (m *Manager) broadcastRooms() {
	if m.dispatcher == nil {
		return
	}
	m.dispatcher.ToAll(RoomsUpdated{Rooms: m.ListActiveRooms()})
}

// generateRoomCode 產生簡短的房間代碼（如 "ABC123"）
func generateRoomCode() string {
	const chars = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789" // 去除易混淆字元
	b := make([]byte, roomCodeLength)
	if _, err := rand.Read(b); err != nil {
		// 隨機源失敗時退回時間戳
		ts := time.Now().UnixNano()
		for i := range b {
			b[i] = chars[int(ts>>uint(i*5))%len(chars)]
		}
		return string(b)
	}
	for i := range b {
		b[i] = chars[int(b[i])%len(chars)]
	}
	return string(b)
}

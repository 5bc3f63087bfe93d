package internal

import (
	"slices"
	"sync"
	"time"
)

// 系統設計問題：
//   多個獨立連接併發地對同一個房間加入、離開、踢人、準備，
//   如何讓每個房間始終保持單一一致的視圖？
//
// 核心挑戰：
//   1. 不變量維護：人數上限、恰好一位房主、人數計數與玩家列表一致
//   2. 併發控制：同房操作絕不交錯，異房操作完全並行
//   3. 房主繼任：房主離開時自動把房主交給最早加入的剩餘玩家
//   4. 突然斷線：斷線必須走與主動離開完全相同的邏輯
//
// 設計方案：
//   ✅ 每房一把 RWMutex - 房間即序列化單元（§併發模型）
//   ✅ 有序玩家切片 - 加入順序即房主繼任順序
//   ✅ 事件在鎖內發出 - 同房事件順序 == 提交順序
//   ✅ defunct 標記 - 刪除與進行中操作經由同一把鎖串行

// RoomStatus 房間狀態
//
// 有限狀態機：
//
//	waiting → playing → finished
//
// waiting 是唯一可加入、可瀏覽的狀態；playing 之後沒有回到
// waiting 的轉換——回到大廳的方式是離開房間。
type RoomStatus string

const (
	StatusWaiting  RoomStatus = "waiting"  // 等待玩家加入
	StatusPlaying  RoomStatus = "playing"  // 遊戲進行中
	StatusFinished RoomStatus = "finished" // 遊戲已結束（未重置）
)

// Player 房間內的玩家
//
// ID 是穩定的玩家身份，ConnID 是當前的傳輸層綁定，兩者分離。
// ConnID 不參與序列化（傳輸層細節不外洩）。
type Player struct {
	ID       string    `json:"player_id"`
	Name     string    `json:"player_name"`
	ConnID   string    `json:"-"`
	IsHost   bool      `json:"is_host"`
	IsReady  bool      `json:"is_ready"`
	JoinedAt time.Time `json:"joined_at"`
}

// RoomState 房間快照（用於回覆與廣播）
//
// CurrentPlayers 恆等於 len(Players)；密碼永遠不出現在快照中，
// 只以 HasPassword 布林代替。
type RoomState struct {
	ID             string     `json:"room_id"`
	Name           string     `json:"room_name"`
	HostID         string     `json:"host_id"`
	HostName       string     `json:"host_name"`
	MaxPlayers     int        `json:"max_players"`
	CurrentPlayers int        `json:"current_players"`
	HasPassword    bool       `json:"has_password"`
	Status         RoomStatus `json:"status"`
	GameInProgress bool       `json:"game_in_progress"`
	Players        []Player   `json:"players"`
	CreatedAt      time.Time  `json:"created_at"`
}

// RoomSummary 房間列表項（公開欄位）
type RoomSummary struct {
	ID             string     `json:"room_id"`
	Name           string     `json:"room_name"`
	HostName       string     `json:"host_name"`
	CurrentPlayers int        `json:"current_players"`
	MaxPlayers     int        `json:"max_players"`
	HasPassword    bool       `json:"has_password"`
	Status         RoomStatus `json:"status"`
	CreatedAt      time.Time  `json:"created_at"`
}

// emitFunc 在持有房間鎖時投遞事件給一組連接
type emitFunc func(connIDs []string, e Event)

// Room 遊戲房間聚合
//
// 併發模型：所有會改變狀態的方法都持有 mu 寫鎖，
// 讀取快照持有讀鎖。ID、Name、MaxPlayers、密碼與建立時間
// 在建立後不再變更，讀取不需要鎖。
type Room struct {
	ID          string
	Name        string
	MaxPlayers  int
	HasPassword bool
	CreatedAt   time.Time

	password string

	mu             sync.RWMutex
	hostID         string
	hostName       string // 房主名稱的反正規化副本，房主變更時同步
	status         RoomStatus
	gameInProgress bool
	gameState      any // 規則引擎擁有的不透明狀態，協調器只存放不解讀
	players        []*Player
	lastActive     time.Time
	defunct        bool // 已從 Store 刪除（或正在刪除），任何操作都視為房間不存在

	emit emitFunc
}

// LeaveOutcome 離開操作的結果
//
// RoomDeleted 為真時房間已標記刪除（最後一位玩家離開），
// Room 為 nil；否則 Room 是離開後的快照。
type LeaveOutcome struct {
	Removed         bool
	RoomDeleted     bool
	RoomID          string
	LeavingPlayerID string
	NewHostID       string
	Room            *RoomState
}

// newRoom 建立房間，建立者即為房主（房主隱含永遠已準備）
func newRoom(id, name string, maxPlayers int, password string, host *Player, emit emitFunc) *Room {
	now := time.Now()
	host.IsHost = true
	host.IsReady = true
	if emit == nil {
		emit = func([]string, Event) {}
	}
	return &Room{
		ID:          id,
		Name:        name,
		MaxPlayers:  maxPlayers,
		HasPassword: password != "",
		CreatedAt:   now,
		password:    password,
		hostID:      host.ID,
		hostName:    host.Name,
		status:      StatusWaiting,
		players:     []*Player{host},
		lastActive:  now,
		emit:        emit,
	}
}

// Join 加入玩家
//
// 檢查順序：遊戲進行中 → 滿員 → 密碼。任何一項失敗都不觸碰狀態。
// 成功時玩家追加到切片尾端——加入順序決定房主繼任順序。
func (r *Room) Join(p *Player, password string) (*RoomState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.defunct {
		return nil, ErrRoomNotFound
	}
	if r.gameInProgress {
		return nil, ErrGameInProgress
	}
	if len(r.players) >= r.MaxPlayers {
		return nil, ErrRoomFull
	}
	if r.password != "" && r.password != password {
		return nil, ErrWrongPassword
	}

	p.IsHost = false
	p.IsReady = false
	p.JoinedAt = time.Now()
	r.players = append(r.players, p)
	r.lastActive = time.Now()

	state := r.stateLocked()
	r.emit(r.connIDsLocked(), PlayerJoined{Player: *p, Room: state})

	return state, nil
}

// RemovePlayer 移除玩家（離開與斷線共用）
//
// 房主離開時，繼任者是 players[0]——移除後最早加入的剩餘玩家。
// 最後一位玩家離開時房間標記 defunct，由 Manager 從 Store 刪除；
// 空房間絕不保留。
func (r *Room) RemovePlayer(playerID string) LeaveOutcome {
	r.mu.Lock()
	defer r.mu.Unlock()

	outcome := LeaveOutcome{RoomID: r.ID, LeavingPlayerID: playerID}
	if r.defunct {
		return outcome
	}

	idx := slices.IndexFunc(r.players, func(p *Player) bool { return p.ID == playerID })
	if idx < 0 {
		return outcome
	}

	wasHost := r.players[idx].IsHost
	r.players = slices.Delete(r.players, idx, idx+1)
	r.lastActive = time.Now()
	outcome.Removed = true

	if len(r.players) == 0 {
		r.defunct = true
		outcome.RoomDeleted = true
		return outcome
	}

	if wasHost {
		successor := r.players[0]
		successor.IsHost = true
		successor.IsReady = true
		r.hostID = successor.ID
		r.hostName = successor.Name
		outcome.NewHostID = successor.ID
	}

	state := r.stateLocked()
	outcome.Room = state

	conns := r.connIDsLocked()
	r.emit(conns, PlayerLeft{
		LeavingPlayerID: playerID,
		NewHostID:       outcome.NewHostID,
		Room:            state,
	})
	if outcome.NewHostID != "" {
		r.emit(conns, HostChanged{NewHostID: outcome.NewHostID, Room: state})
	}

	return outcome
}

// Kick 踢出玩家（只有房主可以；不能踢自己——房主要走只能離開）
//
// 回傳被踢者的連接 ID，Manager 據此解除其註冊表綁定。
// 「你被踢了」先發給被踢者本人，之後被踢者就不再是廣播對象。
func (r *Room) Kick(requesterID, targetID string) (string, *RoomState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.defunct {
		return "", nil, ErrRoomNotFound
	}
	if r.gameInProgress {
		return "", nil, ErrGameInProgress
	}
	if r.hostID != requesterID {
		return "", nil, ErrNotAuthorized
	}

	idx := slices.IndexFunc(r.players, func(p *Player) bool { return p.ID == targetID })
	if idx < 0 {
		return "", nil, ErrTargetNotFound
	}
	if r.players[idx].IsHost {
		return "", nil, ErrCannotKickHost
	}

	targetConn := r.players[idx].ConnID
	r.players = slices.Delete(r.players, idx, idx+1)
	r.lastActive = time.Now()

	state := r.stateLocked()
	r.emit([]string{targetConn}, KickedFromRoom{})
	r.emit(r.connIDsLocked(), PlayerKicked{KickedPlayerID: targetID, Room: state})

	return targetConn, state, nil
}

// ToggleReady 切換準備狀態，回傳新值
//
// 房主隱含永遠已準備，不允許切換。
func (r *Room) ToggleReady(playerID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.defunct {
		return false, ErrRoomNotFound
	}
	if r.gameInProgress {
		return false, ErrGameInProgress
	}

	idx := slices.IndexFunc(r.players, func(p *Player) bool { return p.ID == playerID })
	if idx < 0 {
		return false, ErrRoomMismatch
	}
	p := r.players[idx]
	if p.IsHost {
		return false, ErrHostCannotToggle
	}

	p.IsReady = !p.IsReady
	r.lastActive = time.Now()

	r.emit(r.connIDsLocked(), RoomUpdated{Room: r.stateLocked()})

	return p.IsReady, nil
}

// StartGame 開始遊戲（只有房主可以）
//
// waiting → playing 是單向轉換。在通知成員之前先安裝
// 規則引擎的初始狀態句柄，成員收到 GAME_STARTED 時遊戲已就緒。
func (r *Room) StartGame(requesterID string, factory GameStateFactory) (*RoomState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.defunct {
		return nil, ErrRoomNotFound
	}
	if r.hostID != requesterID {
		return nil, ErrNotAuthorized
	}
	if r.gameInProgress {
		return nil, ErrGameInProgress
	}
	if len(r.players) < 2 {
		return nil, ErrNotEnoughPlayers
	}
	for _, p := range r.players {
		if !p.IsHost && !p.IsReady {
			return nil, ErrNotAllReady
		}
	}

	r.status = StatusPlaying
	r.gameInProgress = true
	r.lastActive = time.Now()

	state := r.stateLocked()
	if factory != nil {
		r.gameState = factory(r.ID, state.Players)
	}

	r.emit(r.connIDsLocked(), GameStarted{Room: state})

	return state, nil
}

// EndGame 規則引擎通知遊戲結束
//
// 進入 finished 但保留 gameInProgress——「結束但未重置」：
// 房間仍不可加入、不可瀏覽，回到大廳的方式是離開房間。
func (r *Room) EndGame() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.defunct || r.status != StatusPlaying {
		return
	}

	r.status = StatusFinished
	r.gameState = nil
	r.lastActive = time.Now()

	r.emit(r.connIDsLocked(), RoomUpdated{Room: r.stateLocked()})
}

// expire 閒置過期檢查與刪除（Idle Reaper 專用）
//
// 與進行中的變更經由同一把鎖串行，所以不可能在加入進行到一半時
// 收割房間。只收割可瀏覽（waiting 且無遊戲進行）的閒置房間；
// lastActive 為零值屬於不可能的資料損壞，跳過並由呼叫端記錄，
// 絕不盲目刪除。
func (r *Room) expire(now time.Time, idleThreshold time.Duration, message string) (expired bool, memberConns []string, invalid bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.defunct {
		return false, nil, false
	}
	if r.status != StatusWaiting || r.gameInProgress {
		return false, nil, false
	}
	if r.lastActive.IsZero() {
		return false, nil, true
	}
	if now.Sub(r.lastActive) <= idleThreshold {
		return false, nil, false
	}

	r.defunct = true
	conns := r.connIDsLocked()
	r.emit(conns, RoomDeleted{RoomID: r.ID, Message: message})

	return true, conns, false
}

// Snapshot 取得房間快照
func (r *Room) Snapshot() *RoomState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stateLocked()
}

// Summary 取得列表項
func (r *Room) Summary() RoomSummary {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return RoomSummary{
		ID:             r.ID,
		Name:           r.Name,
		HostName:       r.hostName,
		CurrentPlayers: len(r.players),
		MaxPlayers:     r.MaxPlayers,
		HasPassword:    r.HasPassword,
		Status:         r.status,
		CreatedAt:      r.CreatedAt,
	}
}

// Browsable 房間是否出現在可瀏覽列表
func (r *Room) Browsable() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status == StatusWaiting && !r.gameInProgress
}

// PlayerCount 玩家數量
func (r *Room) PlayerCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.players)
}

// GameState 取得規則引擎的狀態句柄
func (r *Room) GameState() any {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.gameState
}

// stateLocked 建立快照（需持有鎖）
//
// 玩家以值複製，快照發出後不受後續變更影響。
func (r *Room) stateLocked() *RoomState {
	players := make([]Player, 0, len(r.players))
	for _, p := range r.players {
		players = append(players, *p)
	}
	return &RoomState{
		ID:             r.ID,
		Name:           r.Name,
		HostID:         r.hostID,
		HostName:       r.hostName,
		MaxPlayers:     r.MaxPlayers,
		CurrentPlayers: len(r.players),
		HasPassword:    r.HasPassword,
		Status:         r.status,
		GameInProgress: r.gameInProgress,
		Players:        players,
		CreatedAt:      r.CreatedAt,
	}
}

// connIDsLocked 目前成員的連接 ID（需持有鎖）
func (r *Room) connIDsLocked() []string {
	conns := make([]string, 0, len(r.players))
	for _, p := range r.players {
		conns = append(conns, p.ConnID)
	}
	return conns
}

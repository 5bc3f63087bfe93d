package internal

import "encoding/json"

// 系統設計問題：
//   房間狀態變更如何通知到「正確的一群連接」？
//
// 核心挑戰：
//   1. 事件形狀：每種狀態變更攜帶的資料不同（快照、離開者、新房主……）
//   2. 投遞範圍：房間內廣播 / 單一連接 / 全域廣播，三種範圍不能混淆
//   3. 順序保證：同一房間的事件順序必須等於變更提交順序
//
// 設計方案：
//   ✅ 封閉事件集合 - 每種事件一個結構，訂閱端可窮舉處理
//   ✅ 事件在持有房間鎖時發出 - 提交順序即投遞順序
//   ✅ Dispatcher 介面 - 業務邏輯不依賴 WebSocket 細節

// EventType 事件類型
type EventType string

const (
	EventRoomUpdated    EventType = "ROOM_UPDATED"
	EventPlayerJoined   EventType = "PLAYER_JOINED"
	EventPlayerLeft     EventType = "PLAYER_LEFT"
	EventPlayerKicked   EventType = "PLAYER_KICKED"
	EventHostChanged    EventType = "HOST_CHANGED"
	EventGameStarted    EventType = "GAME_STARTED"
	EventKickedFromRoom EventType = "KICKED_FROM_ROOM"
	EventRoomDeleted    EventType = "ROOM_DELETED"
	EventRoomsUpdated   EventType = "ROOMS_UPDATED"
)

// Event 出站事件（封閉集合）
//
// 每種事件一個結構，而非 map[string]any 的動態形狀：
// 訂閱端用 type switch 窮舉，漏接新事件會在編譯期或測試期暴露。
type Event interface {
	EventType() EventType
}

// RoomUpdated 房間快照更新（準備狀態切換、遊戲結束等）
type RoomUpdated struct {
	Room *RoomState `json:"room"`
}

// PlayerJoined 有玩家加入房間
type PlayerJoined struct {
	Player Player     `json:"player"`
	Room   *RoomState `json:"room"`
}

// PlayerLeft 有玩家離開房間
//
// NewHostID 僅在離開者是房主、發生房主繼任時才有值，
// 訂閱端據此重算自己的「我是房主嗎」。
type PlayerLeft struct {
	LeavingPlayerID string     `json:"leaving_player_id"`
	NewHostID       string     `json:"new_host_id,omitempty"`
	Room            *RoomState `json:"room"`
}

// PlayerKicked 有玩家被踢出（發給留下的成員，不發給被踢者）
type PlayerKicked struct {
	KickedPlayerID string     `json:"kicked_player_id"`
	Room           *RoomState `json:"room"`
}

// HostChanged 房主變更
type HostChanged struct {
	NewHostID string     `json:"new_host_id"`
	Room      *RoomState `json:"room"`
}

// GameStarted 遊戲開始
type GameStarted struct {
	Room *RoomState `json:"room"`
}

// KickedFromRoom 「你被踢了」——只發給被踢者的連接
//
// 終止性事件：收件者的成員資格已經結束，所以不攜帶快照。
type KickedFromRoom struct{}

// RoomDeleted 房間已刪除（發給刪除前的成員）
//
// 同為終止性事件，只帶房間 ID 與人類可讀訊息。
type RoomDeleted struct {
	RoomID  string `json:"room_id"`
	Message string `json:"message"`
}

// RoomsUpdated 可瀏覽房間列表更新（全域廣播）
type RoomsUpdated struct {
	Rooms []RoomSummary `json:"rooms"`
}

func (RoomUpdated) EventType() EventType    { return EventRoomUpdated }
func (PlayerJoined) EventType() EventType   { return EventPlayerJoined }
func (PlayerLeft) EventType() EventType     { return EventPlayerLeft }
func (PlayerKicked) EventType() EventType   { return EventPlayerKicked }
func (HostChanged) EventType() EventType    { return EventHostChanged }
func (GameStarted) EventType() EventType    { return EventGameStarted }
func (KickedFromRoom) EventType() EventType { return EventKickedFromRoom }
func (RoomDeleted) EventType() EventType    { return EventRoomDeleted }
func (RoomsUpdated) EventType() EventType   { return EventRoomsUpdated }

// eventEnvelope 線上格式：{"event": 類型, "data": 酬載}
type eventEnvelope struct {
	Event EventType `json:"event"`
	Data  Event     `json:"data"`
}

// MarshalEvent 序列化事件為線上格式
func MarshalEvent(e Event) ([]byte, error) {
	return json.Marshal(eventEnvelope{Event: e.EventType(), Data: e})
}

// Dispatcher 事件投遞介面
//
// 由 WebSocket Hub 實作。兩個方法都必須是非阻塞的
// （內部是緩衝 channel 的 select-default 發送），
// 因為 Manager 會在持有房間鎖時呼叫它們。
type Dispatcher interface {
	// ToConns 投遞給指定的一組連接（房間範圍或單一連接）
	ToConns(connIDs []string, e Event)
	// ToAll 投遞給所有連接（全域範圍，如房間列表刷新）
	ToAll(e Event)
}

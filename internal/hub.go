package internal

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// 系統設計問題：
//   每個客戶端一條雙向通道，入站是帶關聯 ID 的請求/回覆，
//   出站還要疊加伺服器主動推送的狀態事件——如何不讓兩者互相阻塞？
//
// 核心挑戰：
//   1. 連接管理：註冊/註銷、心跳檢測死連接
//   2. 請求處理：同一連接的請求必須依序處理（斷線不能超車自己的加入）
//   3. 廣播投遞：發送永不阻塞業務邏輯，慢消費者自行承擔丟事件
//   4. 斷線語義：讀取迴圈退出即視為離開房間
//
// 設計方案：
//   ✅ Hub 模式 - 集中管理所有連接（connID -> Conn）
//   ✅ 讀寫分離 pump - 讀取迴圈依序處理請求，寫入迴圈批量送出
//   ✅ Ping/Pong 心跳 - 54s/60s 檢測死連接
//   ✅ 緩衝 channel + select-default - 發送永不阻塞
//
// 同連接的競態：一條連接的所有請求都在它自己的 readPump
// goroutine 依序處理，隱式離開（斷線）只在迴圈退出後執行，
// 因此連接絕不可能與「自己」的進行中操作競爭；
// 跨連接的競爭由房間鎖序列化。

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second // 必須小於 pongWait，留網路延遲餘量
)

// Hub WebSocket 連接中心
//
// 同時是 Manager 的 Dispatcher：房間範圍投遞按連接 ID 點名，
// 全域投遞走遍所有連接（綁定與否皆收到，瀏覽者靠它刷新列表）。
type Hub struct {
	manager  *Manager
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu    sync.RWMutex
	conns map[string]*Conn // connID -> Conn
}

// Conn 一條客戶端連接
type Conn struct {
	ID        string
	sock      *websocket.Conn
	send      chan []byte
	hub       *Hub
	closeOnce sync.Once
}

// NewHub 建立 WebSocket Hub
func NewHub(manager *Manager, logger *slog.Logger) *Hub {
	return &Hub{
		manager: manager,
		logger:  logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// 生產環境應檢查來源
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		conns: make(map[string]*Conn),
	}
}

// ServeWS 處理 WebSocket 連接
//
// 連接在未加入任何房間前就可建立（僅瀏覽狀態），
// 註冊後立即推送一次房間列表，瀏覽端無需輪詢。
func (hub *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	sock, err := hub.upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.logger.Error("升級 WebSocket 失敗", "error", err)
		return
	}

	conn := &Conn{
		ID:   uuid.NewString(),
		sock: sock,
		send: make(chan []byte, 256),
		hub:  hub,
	}

	hub.register(conn)

	go conn.writePump()
	go conn.readPump()

	hub.sendTo(conn, RoomsUpdated{Rooms: hub.manager.ListActiveRooms()})

	hub.logger.Info("WebSocket 連接建立", "conn_id", conn.ID)
}

// ToConns 投遞事件給指定連接（實作 Dispatcher）
//
// 已消失的連接靜默略過——下一次成功的查詢自然會讓觀看者對齊。
func (hub *Hub) ToConns(connIDs []string, e Event) {
	message, err := MarshalEvent(e)
	if err != nil {
		hub.logger.Error("序列化事件失敗", "error", err, "event", e.EventType())
		return
	}

	hub.mu.RLock()
	defer hub.mu.RUnlock()

	for _, id := range connIDs {
		if conn, exists := hub.conns[id]; exists {
			conn.trySend(message)
		}
	}
}

// ToAll 投遞事件給所有連接（實作 Dispatcher）
func (hub *Hub) ToAll(e Event) {
	message, err := MarshalEvent(e)
	if err != nil {
		hub.logger.Error("序列化事件失敗", "error", err, "event", e.EventType())
		return
	}

	hub.mu.RLock()
	defer hub.mu.RUnlock()

	for _, conn := range hub.conns {
		conn.trySend(message)
	}
}

// ConnectionCount 目前連接數
func (hub *Hub) ConnectionCount() int {
	hub.mu.RLock()
	defer hub.mu.RUnlock()
	return len(hub.conns)
}

// Stop 關閉所有連接
func (hub *Hub) Stop() {
	hub.mu.Lock()
	for _, conn := range hub.conns {
		conn.closeOnce.Do(func() {
			close(conn.send)
		})
		conn.sock.Close()
	}
	hub.conns = make(map[string]*Conn)
	hub.mu.Unlock()

	hub.logger.Info("WebSocket Hub 已停止")
}

// register 註冊連接
func (hub *Hub) register(conn *Conn) {
	hub.mu.Lock()
	defer hub.mu.Unlock()
	hub.conns[conn.ID] = conn
}

// unregister 註銷連接
func (hub *Hub) unregister(conn *Conn) {
	hub.mu.Lock()
	defer hub.mu.Unlock()

	if actual, exists := hub.conns[conn.ID]; exists && actual == conn {
		delete(hub.conns, conn.ID)
		conn.closeOnce.Do(func() {
			close(conn.send)
		})
	}
}

// sendTo 投遞事件給單一連接
func (hub *Hub) sendTo(conn *Conn, e Event) {
	message, err := MarshalEvent(e)
	if err != nil {
		hub.logger.Error("序列化事件失敗", "error", err, "event", e.EventType())
		return
	}
	conn.trySend(message)
}

// trySend 非阻塞發送
//
// 緩衝區滿代表慢消費者，丟棄事件優先保證操作成功；
// 絕不重試、絕不升級為錯誤（§錯誤處理）。
func (c *Conn) trySend(message []byte) {
	defer func() {
		// send 可能在註銷瞬間被關閉
		_ = recover()
	}()

	select {
	case c.send <- message:
	default:
		c.hub.logger.Warn("連接緩衝區滿，丟棄事件", "conn_id", c.ID)
	}
}

// ===== 入站請求協定 =====

// 入站格式：{"type": ..., "request_id": ..., "data": {...}}
// 回覆格式：{"type": "response", "request_id": ..., "success": ..., "data"|"error": ...}

type requestEnvelope struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id"`
	Data      json.RawMessage `json:"data"`
}

type responseEnvelope struct {
	Type      string      `json:"type"`
	RequestID string      `json:"request_id"`
	Success   bool        `json:"success"`
	Data      any         `json:"data,omitempty"`
	Error     *LobbyError `json:"error,omitempty"`
}

type createRoomRequest struct {
	RoomName   string `json:"room_name"`
	HostName   string `json:"host_name"`
	MaxPlayers int    `json:"max_players"`
	Password   string `json:"password,omitempty"`
}

type joinRoomRequest struct {
	RoomID     string `json:"room_id"`
	PlayerName string `json:"player_name"`
	Password   string `json:"password,omitempty"`
}

type toggleReadyRequest struct {
	RoomID string `json:"room_id"`
}

type startGameRequest struct {
	RoomID string `json:"room_id"`
}

type kickPlayerRequest struct {
	RoomID         string `json:"room_id"`
	TargetPlayerID string `json:"target_player_id"`
}

// readPump 讀取並依序處理客戶端請求
//
// 迴圈退出（正常關閉或異常斷線）一律走隱式離開：
// 斷線與主動離開是同一條路徑。
func (c *Conn) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.sock.Close()

		// 斷線即離開（共用 leave 邏輯，即使遊戲進行中）
		c.hub.manager.Leave(c.ID)
		c.hub.logger.Info("WebSocket 連接關閉", "conn_id", c.ID)
	}()

	if err := c.sock.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.hub.logger.Error("設置讀取期限失敗", "error", err)
	}
	c.sock.SetPongHandler(func(string) error {
		return c.sock.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		messageType, message, err := c.sock.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Error("WebSocket 讀取錯誤", "error", err, "conn_id", c.ID)
			}
			break
		}

		if messageType == websocket.TextMessage {
			c.handleRequest(message)
		}
	}
}

// writePump 寫出訊息與心跳
func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.sock.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			if err := c.sock.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.hub.logger.Error("設置寫入期限失敗", "error", err)
			}
			if !ok {
				// Hub 關閉了通道
				_ = c.sock.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}

			if err := c.sock.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

			// 批量送出隊列中的訊息
			n := len(c.send)
			for range n {
				if err := c.sock.WriteMessage(websocket.TextMessage, <-c.send); err != nil {
					return
				}
			}

		case <-ticker.C:
			if err := c.sock.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.hub.logger.Error("設置寫入期限失敗", "error", err)
			}
			if err := c.sock.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleRequest 處理一則入站請求
//
// 任何錯誤都轉成結構化失敗回覆；panic 在此回收，
// 單一請求的缺陷不能拖垮整條連接以外的任何東西。
func (c *Conn) handleRequest(message []byte) {
	defer func() {
		if r := recover(); r != nil {
			c.hub.logger.Error("處理請求時發生 panic", "error", r, "conn_id", c.ID)
		}
	}()

	var req requestEnvelope
	if err := json.Unmarshal(message, &req); err != nil {
		c.hub.logger.Error("解析客戶端訊息失敗", "error", err, "conn_id", c.ID)
		return
	}

	manager := c.hub.manager

	switch req.Type {
	case "create_room":
		var body createRoomRequest
		if err := json.Unmarshal(req.Data, &body); err != nil {
			c.respondErr(req.RequestID, ErrInvalidRequest)
			return
		}
		room, playerID, err := manager.CreateRoom(body.RoomName, body.HostName, body.MaxPlayers, body.Password, c.ID)
		if err != nil {
			c.respondErr(req.RequestID, err)
			return
		}
		c.respond(req.RequestID, map[string]any{"room": room, "player_id": playerID})

	case "join_room":
		var body joinRoomRequest
		if err := json.Unmarshal(req.Data, &body); err != nil {
			c.respondErr(req.RequestID, ErrInvalidRequest)
			return
		}
		room, playerID, err := manager.JoinRoom(body.RoomID, body.PlayerName, body.Password, c.ID)
		if err != nil {
			c.respondErr(req.RequestID, err)
			return
		}
		c.respond(req.RequestID, map[string]any{"room": room, "player_id": playerID})

	case "leave_room":
		// 沒有直接回覆；離開由隨後的廣播隱式確認
		manager.Leave(c.ID)

	case "toggle_ready":
		var body toggleReadyRequest
		if err := json.Unmarshal(req.Data, &body); err != nil {
			c.respondErr(req.RequestID, ErrInvalidRequest)
			return
		}
		isReady, err := manager.ToggleReady(c.ID, body.RoomID)
		if err != nil {
			c.respondErr(req.RequestID, err)
			return
		}
		c.respond(req.RequestID, map[string]any{"is_ready": isReady})

	case "start_game":
		var body startGameRequest
		if err := json.Unmarshal(req.Data, &body); err != nil {
			c.respondErr(req.RequestID, ErrInvalidRequest)
			return
		}
		if err := manager.StartGame(c.ID, body.RoomID); err != nil {
			c.respondErr(req.RequestID, err)
			return
		}
		c.respond(req.RequestID, map[string]any{})

	case "kick_player":
		var body kickPlayerRequest
		if err := json.Unmarshal(req.Data, &body); err != nil {
			c.respondErr(req.RequestID, ErrInvalidRequest)
			return
		}
		if err := manager.KickPlayer(c.ID, body.RoomID, body.TargetPlayerID); err != nil {
			c.respondErr(req.RequestID, err)
			return
		}
		c.respond(req.RequestID, map[string]any{})

	case "get_rooms":
		c.respond(req.RequestID, map[string]any{"rooms": manager.ListActiveRooms()})

	default:
		c.hub.logger.Debug("收到未知請求類型", "type", req.Type, "conn_id", c.ID)
		c.respondErr(req.RequestID, &LobbyError{Code: "UNKNOWN_REQUEST", Message: "未知的請求類型"})
	}
}

// respond 成功回覆
func (c *Conn) respond(requestID string, data any) {
	c.reply(responseEnvelope{
		Type:      "response",
		RequestID: requestID,
		Success:   true,
		Data:      data,
	})
}

// respondErr 失敗回覆
func (c *Conn) respondErr(requestID string, err error) {
	c.reply(responseEnvelope{
		Type:      "response",
		RequestID: requestID,
		Success:   false,
		Error:     AsLobbyError(err),
	})
}

func (c *Conn) reply(resp responseEnvelope) {
	message, err := json.Marshal(resp)
	if err != nil {
		c.hub.logger.Error("序列化回覆失敗", "error", err)
		return
	}
	c.trySend(message)
}

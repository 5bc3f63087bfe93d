package internal

import "errors"

// 錯誤分類：
//   - 驗證錯誤：請求參數不合法，尚未觸碰任何狀態就被拒絕
//   - 狀態衝突：房間當下的狀態不允許該操作（滿員、遊戲中等）
//   - 權限錯誤：操作者不具備執行資格（非房主）
//   - 一致性錯誤：客戶端聲稱的房間與註冊表記錄不符（過期的客戶端狀態）
//
// 所有錯誤都在請求邊界回收，轉換成 {code, message} 結構化回覆，
// 絕不讓任何一種錯誤讓協調器崩潰。

// LobbyError 帶錯誤碼的大廳錯誤
//
// 錯誤碼隨回覆送到客戶端（客戶端據此決定 UI 行為），
// 訊息僅供人類閱讀，客戶端不應解析。
type LobbyError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *LobbyError) Error() string {
	return e.Message
}

// 驗證錯誤
var (
	ErrInvalidRequest  = &LobbyError{Code: "INVALID_REQUEST", Message: "請求參數不完整"}
	ErrInvalidCapacity = &LobbyError{Code: "INVALID_CAPACITY", Message: "玩家數量必須在 2-4 之間"}
)

// 狀態衝突錯誤
var (
	ErrRoomNotFound     = &LobbyError{Code: "ROOM_NOT_FOUND", Message: "房間不存在"}
	ErrRoomFull         = &LobbyError{Code: "ROOM_FULL", Message: "房間已滿"}
	ErrWrongPassword    = &LobbyError{Code: "WRONG_PASSWORD", Message: "密碼錯誤"}
	ErrGameInProgress   = &LobbyError{Code: "GAME_IN_PROGRESS", Message: "遊戲已開始"}
	ErrNotEnoughPlayers = &LobbyError{Code: "NOT_ENOUGH_PLAYERS", Message: "玩家人數不足"}
	ErrNotAllReady      = &LobbyError{Code: "NOT_ALL_READY", Message: "尚有玩家未準備"}
	ErrAlreadyInRoom    = &LobbyError{Code: "ALREADY_IN_ROOM", Message: "玩家已在房間中"}
	ErrCodeExhausted    = &LobbyError{Code: "ROOM_CODE_EXHAUSTED", Message: "無法產生唯一房間代碼"}
)

// 權限錯誤
var (
	ErrNotAuthorized    = &LobbyError{Code: "NOT_AUTHORIZED", Message: "只有房主可以執行此操作"}
	ErrTargetNotFound   = &LobbyError{Code: "TARGET_NOT_FOUND", Message: "玩家不在房間內"}
	ErrCannotKickHost   = &LobbyError{Code: "CANNOT_KICK_HOST", Message: "不能踢出房主"}
	ErrHostCannotToggle = &LobbyError{Code: "HOST_CANNOT_TOGGLE", Message: "房主無需準備"}
)

// 一致性錯誤
var (
	ErrRoomMismatch = &LobbyError{Code: "ROOM_MISMATCH", Message: "玩家不在此房間中"}
)

// AsLobbyError 將任意錯誤轉換為 LobbyError
//
// 非 LobbyError 的錯誤一律包裝成 INTERNAL_ERROR，
// 避免把內部細節洩漏給客戶端。
func AsLobbyError(err error) *LobbyError {
	var le *LobbyError
	if errors.As(err, &le) {
		return le
	}
	return &LobbyError{Code: "INTERNAL_ERROR", Message: "內部伺服器錯誤"}
}

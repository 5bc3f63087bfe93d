package internal_test

import (
	"testing"
	"time"

	"github.com/koopa0/system-design/14-game-lobby/internal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// assertInvariants 每次變更後都必須成立的房間不變量
func assertInvariants(t *testing.T, state *internal.RoomState) {
	t.Helper()

	assert.Equal(t, state.CurrentPlayers, len(state.Players),
		"current_players 必須等於玩家列表長度")
	assert.LessOrEqual(t, len(state.Players), state.MaxPlayers)

	hosts := 0
	for _, p := range state.Players {
		if p.IsHost {
			hosts++
			assert.Equal(t, state.HostID, p.ID)
			assert.Equal(t, state.HostName, p.Name)
		}
	}
	assert.Equal(t, 1, hosts, "非空房間必須恰好一位房主")
}

// TestRoom_JoinErrors 測試加入的失敗情形
func TestRoom_JoinErrors(t *testing.T) {
	tests := []struct {
		name          string
		setup         func(t *testing.T, m *internal.Manager) (roomID string)
		password      string
		expectedError error
	}{
		{
			name: "room not found",
			setup: func(t *testing.T, m *internal.Manager) string {
				return "ZZZZZZ"
			},
			expectedError: internal.ErrRoomNotFound,
		},
		{
			name: "room full",
			setup: func(t *testing.T, m *internal.Manager) string {
				room, _, err := m.CreateRoom("測試房間", "玩家一", 2, "", "conn_host")
				require.NoError(t, err)
				_, _, err = m.JoinRoom(room.ID, "玩家二", "", "conn_2")
				require.NoError(t, err)
				return room.ID
			},
			expectedError: internal.ErrRoomFull,
		},
		{
			name: "wrong password",
			setup: func(t *testing.T, m *internal.Manager) string {
				room, _, err := m.CreateRoom("私人房間", "玩家一", 4, "secret123", "conn_host")
				require.NoError(t, err)
				return room.ID
			},
			password:      "wrong",
			expectedError: internal.ErrWrongPassword,
		},
		{
			name: "empty password against protected room",
			setup: func(t *testing.T, m *internal.Manager) string {
				room, _, err := m.CreateRoom("私人房間", "玩家一", 4, "secret123", "conn_host")
				require.NoError(t, err)
				return room.ID
			},
			expectedError: internal.ErrWrongPassword,
		},
		{
			name: "game already in progress",
			setup: func(t *testing.T, m *internal.Manager) string {
				room, _, err := m.CreateRoom("測試房間", "玩家一", 4, "", "conn_host")
				require.NoError(t, err)
				_, _, err = m.JoinRoom(room.ID, "玩家二", "", "conn_2")
				require.NoError(t, err)
				_, err = m.ToggleReady("conn_2", room.ID)
				require.NoError(t, err)
				require.NoError(t, m.StartGame("conn_host", room.ID))
				return room.ID
			},
			expectedError: internal.ErrGameInProgress,
		},
		{
			name: "missing player name",
			setup: func(t *testing.T, m *internal.Manager) string {
				room, _, err := m.CreateRoom("測試房間", "玩家一", 4, "", "conn_host")
				require.NoError(t, err)
				return room.ID
			},
			expectedError: internal.ErrInvalidRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			manager, _ := newTestManager(t)
			roomID := tt.setup(t, manager)

			playerName := "新玩家"
			if tt.expectedError == internal.ErrInvalidRequest {
				playerName = ""
			}

			_, _, err := manager.JoinRoom(roomID, playerName, tt.password, "conn_joiner")
			assert.ErrorIs(t, err, tt.expectedError)

			// 失敗的加入不留下綁定
			_, bound := manager.Registry().Lookup("conn_joiner")
			assert.False(t, bound)
		})
	}
}

// TestRoom_JoinOrder 加入順序保留在玩家列表中
func TestRoom_JoinOrder(t *testing.T) {
	manager, _ := newTestManager(t)

	room, _, err := manager.CreateRoom("測試房間", "玩家一", 4, "", "conn_1")
	require.NoError(t, err)
	_, _, err = manager.JoinRoom(room.ID, "玩家二", "", "conn_2")
	require.NoError(t, err)
	_, _, err = manager.JoinRoom(room.ID, "玩家三", "", "conn_3")
	require.NoError(t, err)

	state, err := manager.RoomState(room.ID)
	require.NoError(t, err)
	require.Len(t, state.Players, 3)
	assert.Equal(t, "玩家一", state.Players[0].Name)
	assert.Equal(t, "玩家二", state.Players[1].Name)
	assert.Equal(t, "玩家三", state.Players[2].Name)
	assertInvariants(t, state)

	// 新加入者不是房主、未準備
	assert.False(t, state.Players[2].IsHost)
	assert.False(t, state.Players[2].IsReady)
}

// TestRoom_HostSuccession 房主離開時由最早加入的剩餘玩家繼任
func TestRoom_HostSuccession(t *testing.T) {
	manager, dispatcher := newTestManager(t)

	room, hostID, err := manager.CreateRoom("測試房間", "玩家一", 4, "", "conn_1")
	require.NoError(t, err)
	_, p2, err := manager.JoinRoom(room.ID, "玩家二", "", "conn_2")
	require.NoError(t, err)
	_, _, err = manager.JoinRoom(room.ID, "玩家三", "", "conn_3")
	require.NoError(t, err)

	outcome := manager.Leave("conn_1")
	require.True(t, outcome.Removed)
	assert.Equal(t, hostID, outcome.LeavingPlayerID)
	assert.Equal(t, p2, outcome.NewHostID, "繼任者是最早加入的剩餘玩家")

	state, err := manager.RoomState(room.ID)
	require.NoError(t, err)
	assertInvariants(t, state)
	assert.Equal(t, p2, state.HostID)
	assert.Equal(t, "玩家二", state.HostName)
	assert.True(t, state.Players[0].IsHost)
	assert.True(t, state.Players[0].IsReady, "房主隱含已準備")

	// PLAYER_LEFT 帶上新房主，另外發出 HOST_CHANGED
	lefts := dispatcher.scopedOfType(internal.EventPlayerLeft)
	require.Len(t, lefts, 1)
	left := lefts[0].Event.(internal.PlayerLeft)
	assert.Equal(t, hostID, left.LeavingPlayerID)
	assert.Equal(t, p2, left.NewHostID)

	changed := dispatcher.scopedOfType(internal.EventHostChanged)
	require.Len(t, changed, 1)
	assert.Equal(t, p2, changed[0].Event.(internal.HostChanged).NewHostID)
}

// TestRoom_ToggleReady 測試準備狀態切換
func TestRoom_ToggleReady(t *testing.T) {
	t.Run("flip and flip back", func(t *testing.T) {
		manager, dispatcher := newTestManager(t)

		room, _, err := manager.CreateRoom("測試房間", "玩家一", 4, "", "conn_1")
		require.NoError(t, err)
		_, _, err = manager.JoinRoom(room.ID, "玩家二", "", "conn_2")
		require.NoError(t, err)

		isReady, err := manager.ToggleReady("conn_2", room.ID)
		require.NoError(t, err)
		assert.True(t, isReady)

		isReady, err = manager.ToggleReady("conn_2", room.ID)
		require.NoError(t, err)
		assert.False(t, isReady)

		// 每次切換都廣播 ROOM_UPDATED
		updates := dispatcher.scopedOfType(internal.EventRoomUpdated)
		assert.Len(t, updates, 2)
	})

	t.Run("host cannot toggle", func(t *testing.T) {
		manager, _ := newTestManager(t)

		room, _, err := manager.CreateRoom("測試房間", "玩家一", 4, "", "conn_1")
		require.NoError(t, err)

		_, err = manager.ToggleReady("conn_1", room.ID)
		assert.ErrorIs(t, err, internal.ErrHostCannotToggle)
	})

	t.Run("mismatched room claim is rejected", func(t *testing.T) {
		manager, _ := newTestManager(t)

		roomA, _, err := manager.CreateRoom("房間A", "玩家一", 4, "", "conn_1")
		require.NoError(t, err)
		_, _, err = manager.JoinRoom(roomA.ID, "玩家二", "", "conn_2")
		require.NoError(t, err)
		roomB, _, err := manager.CreateRoom("房間B", "玩家三", 4, "", "conn_3")
		require.NoError(t, err)

		// conn_2 聲稱在房間 B——註冊表記錄不符，不可信
		_, err = manager.ToggleReady("conn_2", roomB.ID)
		assert.ErrorIs(t, err, internal.ErrRoomMismatch)

		// 未綁定的連接同樣被拒
		_, err = manager.ToggleReady("conn_ghost", roomA.ID)
		assert.ErrorIs(t, err, internal.ErrRoomMismatch)
	})
}

// TestRoom_StartGame 測試開始遊戲
func TestRoom_StartGame(t *testing.T) {
	t.Run("only host can start", func(t *testing.T) {
		manager, _ := newTestManager(t)

		room, _, err := manager.CreateRoom("測試房間", "玩家一", 4, "", "conn_1")
		require.NoError(t, err)
		_, _, err = manager.JoinRoom(room.ID, "玩家二", "", "conn_2")
		require.NoError(t, err)

		err = manager.StartGame("conn_2", room.ID)
		assert.ErrorIs(t, err, internal.ErrNotAuthorized)
	})

	t.Run("not enough players", func(t *testing.T) {
		manager, _ := newTestManager(t)

		room, _, err := manager.CreateRoom("測試房間", "玩家一", 4, "", "conn_1")
		require.NoError(t, err)

		err = manager.StartGame("conn_1", room.ID)
		assert.ErrorIs(t, err, internal.ErrNotEnoughPlayers)
	})

	t.Run("not all ready", func(t *testing.T) {
		manager, _ := newTestManager(t)

		room, _, err := manager.CreateRoom("測試房間", "玩家一", 4, "", "conn_1")
		require.NoError(t, err)
		_, _, err = manager.JoinRoom(room.ID, "玩家二", "", "conn_2")
		require.NoError(t, err)
		_, _, err = manager.JoinRoom(room.ID, "玩家三", "", "conn_3")
		require.NoError(t, err)
		_, err = manager.ToggleReady("conn_2", room.ID)
		require.NoError(t, err)

		// 玩家三未準備
		err = manager.StartGame("conn_1", room.ID)
		assert.ErrorIs(t, err, internal.ErrNotAllReady)
	})

	t.Run("success installs game state before notifying", func(t *testing.T) {
		manager, dispatcher := newTestManager(t)

		factoryCalls := 0
		manager.SetGameStateFactory(func(roomID string, players []internal.Player) any {
			factoryCalls++
			return map[string]any{"room_id": roomID, "hands": len(players)}
		})

		room, _, err := manager.CreateRoom("測試房間", "玩家一", 2, "", "conn_1")
		require.NoError(t, err)
		_, _, err = manager.JoinRoom(room.ID, "玩家二", "", "conn_2")
		require.NoError(t, err)
		_, err = manager.ToggleReady("conn_2", room.ID)
		require.NoError(t, err)

		require.NoError(t, manager.StartGame("conn_1", room.ID))
		assert.Equal(t, 1, factoryCalls)

		state, err := manager.RoomState(room.ID)
		require.NoError(t, err)
		assert.Equal(t, internal.StatusPlaying, state.Status)
		assert.True(t, state.GameInProgress)
		assertInvariants(t, state)

		started := dispatcher.scopedOfType(internal.EventGameStarted)
		require.Len(t, started, 1)
		assert.ElementsMatch(t, []string{"conn_1", "conn_2"}, started[0].Conns)

		// 已開始的遊戲不能再開始
		err = manager.StartGame("conn_1", room.ID)
		assert.ErrorIs(t, err, internal.ErrGameInProgress)
	})
}

// TestRoom_Kick 測試踢人
func TestRoom_Kick(t *testing.T) {
	setup := func(t *testing.T) (*internal.Manager, *captureDispatcher, string, string, string) {
		manager, dispatcher := newTestManager(t)
		room, hostID, err := manager.CreateRoom("測試房間", "玩家一", 4, "", "conn_1")
		require.NoError(t, err)
		_, p2, err := manager.JoinRoom(room.ID, "玩家二", "", "conn_2")
		require.NoError(t, err)
		return manager, dispatcher, room.ID, hostID, p2
	}

	t.Run("host kicks a member", func(t *testing.T) {
		manager, dispatcher, roomID, _, p2 := setup(t)

		require.NoError(t, manager.KickPlayer("conn_1", roomID, p2))

		state, err := manager.RoomState(roomID)
		require.NoError(t, err)
		assert.Equal(t, 1, state.CurrentPlayers)
		assertInvariants(t, state)

		// 被踢者的綁定被強制解除，之後的操作被視為過期客戶端
		_, bound := manager.Registry().Lookup("conn_2")
		assert.False(t, bound)
		_, err = manager.ToggleReady("conn_2", roomID)
		assert.ErrorIs(t, err, internal.ErrRoomMismatch)

		// KICKED_FROM_ROOM 只發給被踢者；PLAYER_KICKED 發給留下的成員
		kicked := dispatcher.scopedOfType(internal.EventKickedFromRoom)
		require.Len(t, kicked, 1)
		assert.Equal(t, []string{"conn_2"}, kicked[0].Conns)

		playerKicked := dispatcher.scopedOfType(internal.EventPlayerKicked)
		require.Len(t, playerKicked, 1)
		assert.Equal(t, []string{"conn_1"}, playerKicked[0].Conns)
		assert.Equal(t, p2, playerKicked[0].Event.(internal.PlayerKicked).KickedPlayerID)
	})

	t.Run("non-host cannot kick", func(t *testing.T) {
		manager, _, roomID, hostID, _ := setup(t)

		err := manager.KickPlayer("conn_2", roomID, hostID)
		assert.ErrorIs(t, err, internal.ErrNotAuthorized)
	})

	t.Run("kicking the host is always rejected", func(t *testing.T) {
		manager, _, roomID, hostID, _ := setup(t)

		err := manager.KickPlayer("conn_1", roomID, hostID)
		assert.ErrorIs(t, err, internal.ErrCannotKickHost)
	})

	t.Run("target not found", func(t *testing.T) {
		manager, _, roomID, _, _ := setup(t)

		err := manager.KickPlayer("conn_1", roomID, "player_ghost")
		assert.ErrorIs(t, err, internal.ErrTargetNotFound)
	})

	t.Run("no kick while game in progress", func(t *testing.T) {
		manager, _, roomID, _, p2 := setup(t)

		_, err := manager.ToggleReady("conn_2", roomID)
		require.NoError(t, err)
		require.NoError(t, manager.StartGame("conn_1", roomID))

		err = manager.KickPlayer("conn_1", roomID, p2)
		assert.ErrorIs(t, err, internal.ErrGameInProgress)
	})

	t.Run("unbound requester is not authorized", func(t *testing.T) {
		manager, _, roomID, _, p2 := setup(t)

		err := manager.KickPlayer("conn_ghost", roomID, p2)
		assert.ErrorIs(t, err, internal.ErrNotAuthorized)
	})
}

// TestRoom_EventOrdering 同房事件順序等於變更提交順序
func TestRoom_EventOrdering(t *testing.T) {
	manager, dispatcher := newTestManager(t)

	room, _, err := manager.CreateRoom("測試房間", "玩家一", 4, "", "conn_1")
	require.NoError(t, err)
	_, _, err = manager.JoinRoom(room.ID, "玩家二", "", "conn_2")
	require.NoError(t, err)
	_, err = manager.ToggleReady("conn_2", room.ID)
	require.NoError(t, err)
	require.NoError(t, manager.StartGame("conn_1", room.ID))

	var kinds []internal.EventType
	for _, se := range dispatcher.scopedEvents() {
		kinds = append(kinds, se.Event.EventType())
	}
	assert.Equal(t, []internal.EventType{
		internal.EventPlayerJoined,
		internal.EventRoomUpdated,
		internal.EventGameStarted,
	}, kinds)
}

// ===== 規格情境 =====

// TestScenario_PasswordRoomFlow 密碼房：錯誤密碼 → 正確密碼 → 滿員
func TestScenario_PasswordRoomFlow(t *testing.T) {
	manager, _ := newTestManager(t)

	room, _, err := manager.CreateRoom("R1", "玩家一", 2, "pass123", "conn_1")
	require.NoError(t, err)

	_, _, err = manager.JoinRoom(room.ID, "玩家二", "wrong", "conn_2")
	assert.ErrorIs(t, err, internal.ErrWrongPassword)

	state, _, err := manager.JoinRoom(room.ID, "玩家二", "pass123", "conn_2")
	require.NoError(t, err)
	assert.Equal(t, 2, state.CurrentPlayers)

	_, _, err = manager.JoinRoom(room.ID, "玩家三", "pass123", "conn_3")
	assert.ErrorIs(t, err, internal.ErrRoomFull)
}

// TestScenario_ReadyThenStart 兩人房：非房主準備 → 房主開始
func TestScenario_ReadyThenStart(t *testing.T) {
	manager, _ := newTestManager(t)

	room, _, err := manager.CreateRoom("測試房間", "玩家一", 2, "", "conn_1")
	require.NoError(t, err)
	_, _, err = manager.JoinRoom(room.ID, "玩家二", "", "conn_2")
	require.NoError(t, err)

	isReady, err := manager.ToggleReady("conn_2", room.ID)
	require.NoError(t, err)
	require.True(t, isReady)

	require.NoError(t, manager.StartGame("conn_1", room.ID))

	state, err := manager.RoomState(room.ID)
	require.NoError(t, err)
	assert.True(t, state.GameInProgress)
	assert.Empty(t, manager.ListActiveRooms(), "遊戲中的房間不可瀏覽")
}

// TestScenario_HostDisconnectDuringGame 房主在遊戲中斷線
//
// 斷線走與主動離開相同的路徑，即使遊戲進行中也一樣；
// 最後一人離開後房間刪除。
func TestScenario_HostDisconnectDuringGame(t *testing.T) {
	manager, _ := newTestManager(t)

	room, _, err := manager.CreateRoom("測試房間", "玩家一", 2, "", "conn_1")
	require.NoError(t, err)
	_, p2, err := manager.JoinRoom(room.ID, "玩家二", "", "conn_2")
	require.NoError(t, err)
	_, err = manager.ToggleReady("conn_2", room.ID)
	require.NoError(t, err)
	require.NoError(t, manager.StartGame("conn_1", room.ID))

	// 玩家二先斷線：遊戲中離開允許，房主不變
	outcome := manager.Leave("conn_2")
	require.True(t, outcome.Removed)
	assert.Equal(t, p2, outcome.LeavingPlayerID)
	assert.False(t, outcome.RoomDeleted)

	// 房主再斷線：房間變空，立即刪除
	outcome = manager.Leave("conn_1")
	require.True(t, outcome.Removed)
	assert.True(t, outcome.RoomDeleted)

	assert.Equal(t, 0, manager.Stats()["total_rooms"])
	assert.Equal(t, 0, manager.Stats()["bound_connections"])
	_, err = manager.RoomState(room.ID)
	assert.ErrorIs(t, err, internal.ErrRoomNotFound)
}

// TestRoom_SnapshotIsStable 快照是值複製，不受後續變更影響
func TestRoom_SnapshotIsStable(t *testing.T) {
	manager, _ := newTestManager(t)

	room, _, err := manager.CreateRoom("測試房間", "玩家一", 4, "", "conn_1")
	require.NoError(t, err)

	before, err := manager.RoomState(room.ID)
	require.NoError(t, err)
	require.Equal(t, 1, before.CurrentPlayers)

	_, _, err = manager.JoinRoom(room.ID, "玩家二", "", "conn_2")
	require.NoError(t, err)
	time.Sleep(time.Millisecond)

	assert.Equal(t, 1, before.CurrentPlayers, "舊快照不應被後續變更改寫")
	assert.Len(t, before.Players, 1)
}

// Package gamelobby 提供一個多人牌局遊戲的大廳協調器。
//
// 這是系統中唯一有真正併發與一致性考量的部件：多個獨立的
// 網路連接會併發地創建、加入、離開、變更同一個房間，協調器
// 必須在這些併發操作、突然斷線、以及亂序/重複的客戶端動作之下，
// 維持每個房間單一一致的視圖。
//
// 架構分層
//
// 系統由六個部件組成：
//   - Connection Registry：連接 ID → (玩家, 房間) 綁定
//   - Room Store：roomID → Room 目錄，擁有創建/查詢/刪除
//   - Room Lifecycle Engine：create/join/leave/kick/ready/start 的純邏輯
//   - Broadcast Dispatcher：房間範圍與全域範圍的事件扇出
//   - Idle Reaper：定期收割閒置房間並通知成員
//   - Connection Handler：每連接的轉接層，斷線視為隱式離開
//
// 併發模型
//
// 每個房間是一個序列化單元（每房一把鎖）：同房的變更絕不交錯，
// 異房的操作完全並行。目錄與註冊表各有自己的鎖，
// 查詢增刪獨立於房間序列化。事件在持有房間鎖時發出，
// 因此同一房間的事件投遞順序恆等於變更提交順序。
//
// 不變量
//
// 每次變更之後必須成立：
//   - current_players == len(players)
//   - 非空房間恰好一位房主，且 host_id 指向該玩家
//   - 人數永不超過上限，併發加入也不超收
//   - 遊戲進行中不允許加入/踢人/切換準備，離開永遠允許
//   - 空房間立即刪除，絕不保留
//   - 密碼絕不出現在任何廣播或列表回應
//
// 啟動服務器：
//
//	manager := internal.NewManager(cfg.Lobby, logger)
//	hub := internal.NewHub(manager, logger)
//	manager.SetDispatcher(hub)
//	handler := internal.NewHandler(manager, hub, logger)
//
//	mux := http.NewServeMux()
//	mux.Handle("/", handler.Routes())
//	mux.HandleFunc("/ws", hub.ServeWS)
//	log.Fatal(http.ListenAndServe(":8080", mux))
package gamelobby

package handler

import (
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hitoshi/simplyconnect/internal/model"
)

const (
	streamWriteWait  = 10 * time.Second
	streamPongWait   = 60 * time.Second
	streamPingPeriod = streamPongWait * 9 / 10
)

// SnapshotSource はセッション状態のスナップショットを返すインターフェース。
type SnapshotSource interface {
	Snapshot() model.SessionState
}

// SessionSource はセッション状態の参照と遷移の購読を提供するインターフェース。
// session.Controllerが実装する。
type SessionSource interface {
	SnapshotSource
	Subscribe() (<-chan model.SessionState, func())
}

// RouteReader はルートガードが決めた表示中のルートを返すインターフェース。
type RouteReader interface {
	CurrentRoute() string
}

// SessionHandler はセッション状態を公開するHTTPハンドラー。
type SessionHandler struct {
	session  SessionSource
	routes   RouteReader
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewSessionHandler はSessionHandlerを生成する。routesはnilでもよい。
// allowedOriginが空の場合、WebSocketは同一オリジンからの接続のみ受け付ける。
func NewSessionHandler(session SessionSource, routes RouteReader, allowedOrigin string, logger *slog.Logger) *SessionHandler {
	return &SessionHandler{
		session:  session,
		routes:   routes,
		upgrader: websocket.Upgrader{CheckOrigin: originChecker(allowedOrigin)},
		logger:   logger,
	}
}

// originChecker はWebSocketのOriginヘッダーを検証する関数を返す。
func originChecker(allowedOrigin string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		if allowedOrigin != "" && origin == allowedOrigin {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return u.Host == r.Host
	}
}

// Get は現在のセッション状態と、ガードが決めたルートを返す。
// GET /session
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	resp := toSessionResponse(h.session.Snapshot())
	if h.routes != nil {
		resp.Route = h.routes.CurrentRoute()
	}
	writeJSON(w, http.StatusOK, resp)
}

// Stream はセッション状態の遷移をWebSocketで配信する。
// 接続直後に現在の状態を送り、以降は遷移ごとに1メッセージを送る。
// GET /session/stream
func (h *SessionHandler) Stream(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgradeがエラーレスポンスを書き込み済み
		h.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	states, unsubscribe := h.session.Subscribe()
	defer unsubscribe()

	// クライアントからのメッセージは読み捨て、切断の検知とPongの処理のみ行う
	closed := make(chan struct{})
	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(streamPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(streamPongWait))
	})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(streamPingPeriod)
	defer ping.Stop()

	for {
		select {
		case state, ok := <-states:
			conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "session controller stopped"))
				return
			}
			if err := conn.WriteJSON(toSessionResponse(state)); err != nil {
				h.logger.Debug("session stream write failed", slog.String("error", err.Error()))
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-closed:
			return
		case <-r.Context().Done():
			return
		}
	}
}

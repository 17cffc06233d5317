package server

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/whoishuman/whoishuman-server-go/internal/events"
	"github.com/whoishuman/whoishuman-server-go/internal/game"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxInboundSize = 512
	sendBuffer     = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// snapshotFrame is the first frame of every event stream.
type snapshotFrame struct {
	Type string    `json:"type"`
	Game game.View `json:"game"`
}

// handleEvents streams a game's events over a websocket. Clients only read;
// a slow client loses events rather than stalling the game.
func (a *API) handleEvents(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	view, err := a.games.View(id)
	if err != nil {
		a.fail(w, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.logger.Warn("websocket upgrade failed", zap.String("game_id", id), zap.Error(err))
		return
	}
	defer conn.Close()

	send := make(chan events.Event, sendBuffer)
	var dropped atomic.Int64
	handle := a.events.SubscribeGame(id, func(ev events.Event) {
		select {
		case send <- ev:
		default:
			dropped.Add(1)
		}
	})
	defer a.events.Unsubscribe(handle)

	a.logger.Info("event stream opened", zap.String("game_id", id), zap.String("remote", r.RemoteAddr))

	done := make(chan struct{})
	go func() {
		defer close(done)
		readUntilClosed(conn)
	}()
	writeEvents(conn, snapshotFrame{Type: "snapshot", Game: view}, send, done)

	a.logger.Info("event stream closed",
		zap.String("game_id", id),
		zap.Int64("dropped", dropped.Load()),
	)
}

// readUntilClosed discards inbound frames and returns once the peer goes away
// or stops answering pings.
func readUntilClosed(conn *websocket.Conn) {
	conn.SetReadLimit(maxInboundSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func writeEvents(conn *websocket.Conn, first snapshotFrame, send <-chan events.Event, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(first); err != nil {
		return
	}

	for {
		select {
		case <-done:
			return
		case ev := <-send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// dashboard/api/stream.go
package api

import (
	"context"
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Ftotnem/LEADERBOARD-SERVICES/dashboard/engine"
)

const writeWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// ServerMessage is one frame sent to a stream client.
type ServerMessage struct {
	Type    string      `json:"type"` // "snapshot" or "ping"
	Payload interface{} `json:"payload"`
}

// StreamHandler upgrades to a websocket and pushes every new snapshot, starting with the
// current one. Clients only need to read; anything they send is ignored.
// GET /dashboard/ws
func (h *DashboardAPIHandlers) StreamHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error("failed to upgrade websocket connection", zap.Error(err))
		return
	}
	defer func() {
		if err := conn.Close(); err != nil {
			h.log.Debug("failed to close websocket connection", zap.Error(err))
		}
	}()

	h.log.Info("stream client connected", zap.String("remote_addr", r.RemoteAddr))

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	snapshots, unsubscribe := h.dashboard.Subscribe()
	defer unsubscribe()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer func() {
			if rec := recover(); rec != nil {
				h.log.Error("panic in stream writer",
					zap.Any("panic", rec),
					zap.String("stack", string(debug.Stack())),
					zap.String("remote_addr", r.RemoteAddr))
			}
			cancel()
			// Unblock the reader if the client never answers the close frame.
			_ = conn.UnderlyingConn().SetReadDeadline(time.Now().Add(writeWait))
		}()
		h.writeSnapshots(ctx, conn, snapshots)
	}()

	h.readUntilClosed(ctx, conn, cancel)
	wg.Wait()

	h.log.Info("stream client disconnected", zap.String("remote_addr", r.RemoteAddr))
}

func (h *DashboardAPIHandlers) writeSnapshots(ctx context.Context, conn *websocket.Conn, snapshots <-chan *engine.Snapshot) {
	ping := time.NewTicker(h.pingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		case snap, ok := <-snapshots:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "dashboard shutting down"), time.Now().Add(writeWait))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ServerMessage{Type: "snapshot", Payload: snap}); err != nil {
				h.log.Debug("failed to write snapshot", zap.Error(err))
				return
			}
		case t := <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ServerMessage{Type: "ping", Payload: map[string]int64{"timestamp": t.Unix()}}); err != nil {
				return
			}
		}
	}
}

// readUntilClosed drains client frames so close frames are processed, and cancels ctx
// when the client goes away.
func (h *DashboardAPIHandlers) readUntilClosed(ctx context.Context, conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	conn.SetReadLimit(4096)
	// The server's ReadTimeout deadline survives the hijack.
	_ = conn.SetReadDeadline(time.Time{})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && ctx.Err() == nil {
				h.log.Debug("stream read error", zap.Error(err))
			}
			return
		}
	}
}

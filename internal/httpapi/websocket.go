package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/fleetcore-ai/compass/internal/streaming"
)

const (
	wsPongWait     = 60 * time.Second
	wsPingInterval = 20 * time.Second
	wsWriteTimeout = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true }, // Dev-friendly, secure via proxy in prod
}

// handleWS streams research progress for a workflow over a WebSocket.
//
//	GET /api/v1/stream/ws?workflow_id=<id>[&types=a,b][&last_event_id=n]
//
// Events are delivered as JSON frames. Client messages are discarded;
// the connection is kept alive with ping/pong control frames.
func (a *API) handleWS(w http.ResponseWriter, r *http.Request) {
	workflowID := r.URL.Query().Get("workflow_id")
	if workflowID == "" {
		sendError(w, "workflow_id required", http.StatusBadRequest)
		return
	}
	typeFilter := parseTypeFilter(r.URL.Query().Get("types"))
	lastID := parseLastEventID(r)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.logger.Debug("WebSocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ch := a.stream.Subscribe(workflowID, 256)
	defer a.stream.Unsubscribe(workflowID, ch)

	for _, ev := range a.stream.ReplaySince(workflowID, lastID) {
		if skipEvent(ev.Type, typeFilter) {
			continue
		}
		if err := conn.WriteJSON(ev); err != nil {
			return
		}
	}

	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	// Reader pump: discard client messages, unblock on close.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if skipEvent(ev.Type, typeFilter) {
				continue
			}
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			deadline := time.Now().Add(wsWriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, []byte("ping"), deadline); err != nil {
				return
			}
		}
	}
}

func skipEvent(t streaming.EventType, filter map[string]struct{}) bool {
	if len(filter) == 0 {
		return false
	}
	_, ok := filter[string(t)]
	return !ok
}

package transport

import (
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/harun/memstream/pkg/faults"
	"github.com/julienschmidt/httprouter"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// handleWebSocket carries both directions over one WebSocket. Inbound frames
// are fed to the frame buffer as raw chunks, so a frame need not hold exactly
// one message.
func (t *Transport) handleWebSocket(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if t.State() == StateClosed {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "Transport closed"})
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		t.logger.Debug().Err(err).Msg("Failed to upgrade connection")
		return
	}
	ws.SetReadLimit(t.cfg.MaxBodyBytes)

	sink := newWSSink(ws, t.cfg.WriteTimeout)
	conn, err := t.Attach(sink, CarrierWebSocket, r.RemoteAddr)
	if err != nil {
		_ = ws.Close()
		return
	}
	defer t.Detach(conn.ID)

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) && !sink.Closed() {
				t.classifier.Report(faults.Classify(err, faults.OpProcessInput).WithConnection(conn.ID))
			}
			return
		}
		t.ProcessInput(r.Context(), conn, data)
	}
}

package control

import (
	"encoding/json"
	"net/http"

	"github.com/coder/websocket"
)

// handleEvents upgrades the request to a WebSocket and streams device
// events as they occur, the same push-instead-of-poll idea as the
// teacher's signaling hub, repurposed here for device add/update/remove
// notifications instead of WebRTC signaling messages.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		http.Error(w, "events not available", http.StatusNotImplemented)
		return
	}

	c, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.log.Warn("websocket accept failed", "error", err)
		return
	}
	defer func() {
		_ = c.Close(websocket.StatusNormalClosure, "")
	}()

	ctx := r.Context()

	ch, unsubscribe := s.events()
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			if err := c.Write(ctx, websocket.MessageText, data); err != nil {
				return
			}
		}
	}
}

package control

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/coder/websocket"
)

// WatchEvents connects to a running control server's /events endpoint and
// delivers device events on the returned channel until ctx is cancelled
// or the connection drops. Used by the "valentd watch" CLI command.
func WatchEvents(ctx context.Context, socketPath string) (<-chan Event, error) {
	conn, _, err := websocket.Dial(ctx, "ws://valent/events", &websocket.DialOptions{
		HTTPClient: socketStreamClient(socketPath),
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to control socket: %w", err)
	}

	out := make(chan Event, 16)
	go func() {
		defer close(out)
		defer conn.Close(websocket.StatusNormalClosure, "")
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			var ev Event
			if err := json.Unmarshal(data, &ev); err != nil {
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

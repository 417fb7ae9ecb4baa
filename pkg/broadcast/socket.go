package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait    = 10 * time.Second
	pingInterval = 15 * time.Second
	readLimit    = 1 << 20
)

func readAndDispatchMessage(conn *websocket.Conn, onMessage func(Message)) error {
	mt, p, err := conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("failed to read message: %w", err)
	}
	switch mt {
	case websocket.TextMessage, websocket.BinaryMessage:
		var m Message
		if err := json.Unmarshal(p, &m); err != nil || m.Event == "" {
			slog.Warn("ignoring malformed frame", "err", err, "bytes", len(p))
			return nil
		}
		onMessage(m)
	default:
	}
	return nil
}

func writeFrame(conn *websocket.Conn, messageType int, frame []byte) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return fmt.Errorf("failed to set write deadline: %w", err)
	}
	if err := conn.WriteMessage(messageType, frame); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}

// Serve pumps a websocket connection: inbound frames are handed to onMessage in arrival order and frames queued on
// the subscription are written out in order. It returns once either side stops or the context is cancelled.
func Serve(ctx context.Context, conn *websocket.Conn, sub *Subscription, onMessage func(Message)) {
	conn.SetReadLimit(readLimit)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	wg := new(sync.WaitGroup)
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer cancel()
		defer conn.Close()
		for {
			if err := readAndDispatchMessage(conn, onMessage); err != nil {
				slog.Debug("reader stopped", "id", sub.ID, "err", err)
				return
			}
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer conn.Close()

		t := time.NewTicker(pingInterval)
		defer t.Stop()
		for {
			select {
			case frame, ok := <-sub.C():
				if !ok {
					_ = writeFrame(conn, websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "dropped"))
					return
				}
				if err := writeFrame(conn, websocket.TextMessage, frame); err != nil {
					slog.Debug("writer stopped", "id", sub.ID, "err", err)
					return
				}
			case <-t.C:
				if err := writeFrame(conn, websocket.PingMessage, nil); err != nil {
					slog.Debug("ping failed", "id", sub.ID, "err", err)
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	wg.Wait()
}

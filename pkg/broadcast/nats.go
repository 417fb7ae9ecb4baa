package broadcast

import (
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// NatsMirror republishes every broadcast frame on a NATS subject so other processes can follow the game.
type NatsMirror struct {
	conn    *nats.Conn
	subject string
}

// ConnectNats dials the broker and returns a mirror publishing to subject.
func ConnectNats(url, subject string) (*NatsMirror, error) {
	opts := []nats.Option{
		nats.Name("scoreboard"),
		nats.Timeout(10 * time.Second),
		nats.ReconnectWait(2 * time.Second),
		nats.MaxReconnects(-1),
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}
	return &NatsMirror{conn: nc, subject: subject}, nil
}

func (m *NatsMirror) Publish(frame []byte) error {
	return m.conn.Publish(m.subject, frame)
}

// Close flushes pending frames and closes the connection.
func (m *NatsMirror) Close() error {
	return m.conn.Drain()
}

package realtime

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// ErrChannelClosed is returned by Send after the channel has been closed.
var ErrChannelClosed = errors.New("realtime: channel closed")

// Channel is a send-capable handle to one physical connection.
//
// The Registry calls Close when it evicts the connection after a failed send; the owner of
// the connection must then tear it down.
type Channel interface {
	Send(ctx context.Context, msg Message) error
	Close()
}

// wsChannel adapts a websocket connection to Channel.
//
// Writes are bounded by writeTimeout only. coder/websocket closes the connection when a
// write context is cancelled, so the caller's cancellation is checked before the write and
// not propagated into it.
type wsChannel struct {
	conn         *websocket.Conn
	writeTimeout time.Duration

	done      chan struct{}
	closeOnce sync.Once
}

func newWSChannel(conn *websocket.Conn, writeTimeout time.Duration) *wsChannel {
	return &wsChannel{
		conn:         conn,
		writeTimeout: writeTimeout,
		done:         make(chan struct{}),
	}
}

func (c *wsChannel) Send(ctx context.Context, msg Message) error {
	select {
	case <-c.done:
		return ErrChannelClosed
	default:
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	b, err := msg.Encode()
	if err != nil {
		return err
	}

	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.writeTimeout)
	defer cancel()
	return c.conn.Write(wctx, websocket.MessageText, b)
}

// Close marks the channel closed. The gateway watches Done and closes the socket.
func (c *wsChannel) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *wsChannel) Done() <-chan struct{} { return c.done }

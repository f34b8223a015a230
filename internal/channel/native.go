package channel

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/mithrel/pollsock/internal/loop"
)

const nativeWriteTimeout = 5 * time.Second

// Native is a Channel over a direct websocket connection.
type Native struct {
	address string
	log     *zap.Logger
	hooks   hooks

	events *loop.Loop
	outbox *loop.Loop

	done chan struct{}

	mu    sync.Mutex
	state State
	conn  *websocket.Conn
}

// NewNative dials address in the background and returns a channel in the
// Opening state. A nil dialer means websocket.DefaultDialer.
func NewNative(ctx context.Context, address string, dialer *websocket.Dialer, header http.Header, h Handlers, log *zap.Logger) *Native {
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.String("address", address), zap.String("transport", "native"))
	c := &Native{
		address: address,
		log:     log,
		hooks:   hooks{h: h, log: log},
		events:  loop.New(),
		outbox:  loop.New(),
		done:    make(chan struct{}),
		state:   Opening,
	}
	go func() {
		conn, resp, err := dialer.DialContext(ctx, address, header)
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		if !c.events.Post(func() { c.opened(conn, err) }) && conn != nil {
			_ = conn.Close()
		}
	}()
	return c
}

func (c *Native) Address() string { return c.address }

func (c *Native) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Done is closed after Close once OnClose has run and the close frame has
// been written.
func (c *Native) Done() <-chan struct{} {
	return c.done
}

func (c *Native) opened(conn *websocket.Conn, err error) {
	if err != nil {
		if c.State() >= Closing {
			return
		}
		c.log.Info("dial failed", zap.Error(err))
		c.hooks.error(fmt.Errorf("%w: %w", ErrOpen, err))
		return
	}
	c.mu.Lock()
	if c.state != Opening {
		c.mu.Unlock()
		_ = conn.Close()
		return
	}
	c.conn = conn
	c.state = Open
	c.mu.Unlock()

	c.hooks.open()
	go c.read(conn)
}

func (c *Native) read(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.events.Post(func() { c.readFailed(err) })
			return
		}
		msg := string(data)
		if !c.events.Post(func() { c.received(msg) }) {
			return
		}
	}
}

func (c *Native) received(msg string) {
	if c.State() != Open {
		return
	}
	c.hooks.message(msg)
}

func (c *Native) readFailed(err error) {
	if c.State() >= Closing {
		return
	}
	var ce *websocket.CloseError
	if !errors.As(err, &ce) || ce.Code != websocket.CloseNormalClosure {
		c.log.Info("read failed", zap.Error(err))
		c.hooks.error(fmt.Errorf("%w: %w", ErrListen, err))
	}
	c.Close()
}

func (c *Native) Send(msg string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Open {
		return fmt.Errorf("%w: %s", ErrInvalidState, c.state)
	}
	conn := c.conn
	c.outbox.Post(func() {
		_ = conn.SetWriteDeadline(time.Now().Add(nativeWriteTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
			c.log.Info("write failed", zap.Error(err))
		}
	})
	return nil
}

func (c *Native) Close() {
	c.mu.Lock()
	if c.state >= Closing {
		c.mu.Unlock()
		return
	}
	c.state = Closing
	if conn := c.conn; conn != nil {
		c.outbox.Post(func() {
			deadline := time.Now().Add(nativeWriteTimeout)
			frame := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			_ = conn.WriteControl(websocket.CloseMessage, frame, deadline)
			_ = conn.Close()
		})
	}
	c.outbox.Stop()
	c.state = Closed
	c.mu.Unlock()

	c.events.Post(c.hooks.close)
	c.events.Stop()
	go func() {
		<-c.events.Done()
		<-c.outbox.Done()
		close(c.done)
	}()
}

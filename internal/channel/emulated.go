package channel

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mithrel/pollsock/internal/loop"
	"github.com/mithrel/pollsock/pkg/api"
)

// closeRequestTimeout bounds close and release requests, which outlive the
// channel's context.
const closeRequestTimeout = 20 * time.Second

// Emulated is a Channel carried over a Remote by long polling.
//
// Remote completions and hooks run on the channel's event loop, one at a
// time. Sends and the close request go through a separate outbox loop so
// they reach the relay in the order they were made.
type Emulated struct {
	ctx     context.Context
	address string
	remote  Remote
	log     *zap.Logger
	hooks   hooks

	events *loop.Loop
	outbox *loop.Loop

	// pollCtx is cancelled by Close; an outstanding poll is abandoned.
	pollCtx    context.Context
	pollCancel context.CancelFunc

	// wg tracks the open request, outstanding polls and releases.
	wg   sync.WaitGroup
	done chan struct{}

	mu      sync.Mutex
	state   State
	id      string
	polling bool
	// inflight is set while a poll request is outstanding.
	inflight bool
}

// NewEmulated returns a channel in the Opening state and issues the open
// request in the background. ctx bounds the open, send and poll requests.
// Close and release requests are detached from its cancellation.
func NewEmulated(ctx context.Context, address string, remote Remote, h Handlers, log *zap.Logger) *Emulated {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.String("address", address), zap.String("transport", "emulated"))
	pollCtx, pollCancel := context.WithCancel(ctx)
	c := &Emulated{
		ctx:        ctx,
		address:    address,
		remote:     remote,
		log:        log,
		hooks:      hooks{h: h, log: log},
		events:     loop.New(),
		outbox:     loop.New(),
		pollCtx:    pollCtx,
		pollCancel: pollCancel,
		done:       make(chan struct{}),
		state:      Opening,
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		id, err := remote.Open(ctx, address)
		if !c.events.Post(func() { c.opened(id, err) }) && err == nil && id != "" {
			// Closed before the relay answered; release the relay side.
			c.closeRequest(id, "release")
		}
	}()
	return c
}

func (c *Emulated) Address() string { return c.address }

func (c *Emulated) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ID returns the relay-assigned identity, empty until the open succeeds.
func (c *Emulated) ID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id
}

// Done is closed after Close once OnClose has run and every request the
// channel queued has finished.
func (c *Emulated) Done() <-chan struct{} {
	return c.done
}

func (c *Emulated) opened(id string, err error) {
	if err == nil && id == "" {
		err = ErrNoIdentity
	}
	if err != nil {
		if c.State() >= Closing {
			return
		}
		c.log.Info("open failed", zap.Error(err))
		c.hooks.error(fmt.Errorf("%w: %w", ErrOpen, err))
		return
	}

	c.mu.Lock()
	if c.id == "" {
		c.id = id
	}
	if c.state != Opening {
		c.mu.Unlock()
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.closeRequest(id, "release")
		}()
		return
	}
	c.state = Open
	c.polling = true
	c.mu.Unlock()

	c.log.Debug("opened", zap.String("id", id))
	c.hooks.open()
	c.schedulePoll()
}

// closeRequest tells the relay to drop id. It runs even when the channel's
// context is already cancelled.
func (c *Emulated) closeRequest(id, op string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.ctx), closeRequestTimeout)
	defer cancel()
	if err := c.remote.Close(ctx, id); err != nil {
		c.log.Info(op+" request failed", zap.String("id", id), zap.Error(err))
	}
}

func (c *Emulated) Send(msg string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Open {
		return fmt.Errorf("%w: %s", ErrInvalidState, c.state)
	}
	id := c.id
	c.outbox.Post(func() {
		if err := c.remote.Send(c.ctx, id, msg); err != nil {
			c.log.Info("send failed", zap.String("id", id), zap.Error(err))
		}
	})
	return nil
}

// Close moves the channel to Closed immediately. The close request is
// queued behind pending sends, and OnClose is queued on the event loop
// behind any hook already running.
func (c *Emulated) Close() {
	c.mu.Lock()
	if c.state >= Closing {
		c.mu.Unlock()
		return
	}
	c.state = Closing
	c.polling = false
	c.pollCancel()
	id := c.id
	if id != "" {
		c.outbox.Post(func() { c.closeRequest(id, "close") })
	}
	c.outbox.Stop()
	c.state = Closed
	c.mu.Unlock()

	c.log.Debug("closed", zap.String("id", id))
	c.events.Post(c.hooks.close)
	c.events.Stop()
	go func() {
		<-c.events.Done()
		<-c.outbox.Done()
		c.wg.Wait()
		close(c.done)
	}()
}

// schedulePoll defers the next poll to the event loop so that Send and
// Close calls made by hooks are observed before it is issued.
func (c *Emulated) schedulePoll() {
	c.events.Post(c.pollTick)
}

func (c *Emulated) pollTick() {
	c.mu.Lock()
	if !c.polling || c.state != Open || c.inflight {
		c.mu.Unlock()
		return
	}
	c.inflight = true
	id := c.id
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		evs, err := c.remote.Poll(c.pollCtx, id)
		if !c.events.Post(func() { c.polled(evs, err) }) {
			c.log.Debug("discarding poll result after close", zap.String("id", id))
		}
	}()
}

func (c *Emulated) polled(evs []api.Event, err error) {
	c.mu.Lock()
	c.inflight = false
	if c.state >= Closing {
		c.mu.Unlock()
		return
	}
	if err != nil {
		c.polling = false
		c.mu.Unlock()
		c.log.Info("poll failed; channel is inert", zap.String("id", c.ID()), zap.Error(err))
		c.hooks.error(fmt.Errorf("%w: %w", ErrListen, err))
		return
	}
	c.mu.Unlock()

	for _, ev := range evs {
		if c.State() >= Closing {
			return
		}
		switch ev.Type {
		case api.EventClose:
			c.Close()
		case api.EventMessage:
			c.hooks.message(ev.Msg)
		default:
			c.log.Debug("ignoring unknown event", zap.String("type", string(ev.Type)))
		}
	}
	c.schedulePoll()
}

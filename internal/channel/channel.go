// Package channel exposes a persistent bidirectional message channel with
// browser-socket semantics: Opening, Open, Closing and Closed states, and
// open/message/close/error hooks.
//
// Two implementations share the contract. Native speaks websocket directly.
// Emulated drives a long-poll loop against a relay that exposes open, send,
// close and poll as one-shot requests; at most one poll is outstanding per
// channel, so relay events are delivered in order without sequence numbers.
package channel

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/mithrel/pollsock/pkg/api"
)

// State is the lifecycle position of a channel. It only moves forward.
type State int32

const (
	Opening State = iota
	Open
	Closing
	Closed
)

func (s State) String() string {
	switch s {
	case Opening:
		return "opening"
	case Open:
		return "open"
	case Closing:
		return "closing"
	case Closed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

var (
	// ErrInvalidState is returned by Send when the channel is not Open.
	ErrInvalidState = errors.New("channel is not in open state")
	// ErrNoIdentity means the relay acknowledged an open without an id.
	ErrNoIdentity = errors.New("relay returned no channel id")
	ErrOpen       = errors.New("unable to open channel")
	ErrListen     = errors.New("error listening to channel")
)

// Channel is the caller-facing handle.
type Channel interface {
	Address() string
	State() State
	// Send queues msg for delivery. It fails synchronously with
	// ErrInvalidState unless the channel is Open.
	Send(msg string) error
	// Close is idempotent. The state is Closed when it returns; OnClose
	// runs on the event loop after any hook already in progress.
	Close()
	// Done is closed once OnClose has run and the requests queued before
	// Close have been issued.
	Done() <-chan struct{}
}

// Remote is the request/response endpoint an Emulated channel polls.
type Remote interface {
	Open(ctx context.Context, address string) (string, error)
	Send(ctx context.Context, id, msg string) error
	Close(ctx context.Context, id string) error
	// Poll blocks until the relay has events or its hold time elapses.
	Poll(ctx context.Context, id string) ([]api.Event, error)
}

// Handlers are the caller hooks. Nil hooks are no-ops. Errors returned and
// panics raised by a hook are logged and otherwise ignored.
type Handlers struct {
	OnOpen    func() error
	OnMessage func(msg string) error
	OnClose   func() error
	OnError   func(err error)
}

type hooks struct {
	h   Handlers
	log *zap.Logger
}

func (k hooks) open() {
	if k.h.OnOpen != nil {
		k.invoke("open", k.h.OnOpen)
	}
}

func (k hooks) message(msg string) {
	if k.h.OnMessage != nil {
		k.invoke("message", func() error { return k.h.OnMessage(msg) })
	}
}

func (k hooks) close() {
	if k.h.OnClose != nil {
		k.invoke("close", k.h.OnClose)
	}
}

func (k hooks) error(err error) {
	if k.h.OnError != nil {
		k.invoke("error", func() error { k.h.OnError(err); return nil })
	}
}

func (k hooks) invoke(name string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			k.log.Warn("handler panicked", zap.String("handler", name), zap.Any("panic", r))
		}
	}()
	if err := fn(); err != nil {
		k.log.Warn("handler failed", zap.String("handler", name), zap.Error(err))
	}
}

package server

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/mithrel/pollsock/pkg/api"
)

const upstreamWriteTimeout = 5 * time.Second

// session bridges one relay id to its upstream websocket. Upstream frames
// are queued as events until a poll collects them.
type session struct {
	id      string
	address string
	conn    *websocket.Conn

	writeMu sync.Mutex

	mu     sync.Mutex
	queue  []api.Event
	ended  bool
	notify chan struct{}

	closeOnce sync.Once
}

func newSession(id, address string, conn *websocket.Conn) *session {
	return &session{
		id:      id,
		address: address,
		conn:    conn,
		notify:  make(chan struct{}, 1),
	}
}

// pump reads upstream frames until the upstream goes away, then queues a
// single close event.
func (s *session) pump(log *zap.Logger) {
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			log.Debug("upstream ended", zap.String("id", s.id), zap.Error(err))
			s.push(api.Event{Type: api.EventClose}, true)
			return
		}
		s.push(api.Event{Type: api.EventMessage, Msg: string(data)}, false)
	}
}

func (s *session) push(ev api.Event, last bool) {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, ev)
	s.ended = last
	s.mu.Unlock()
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// take drains the queue. done reports that the close event was drained.
func (s *session) take() (evs []api.Event, done bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	evs, s.queue = s.queue, nil
	return evs, s.ended && len(evs) > 0 && evs[len(evs)-1].Type == api.EventClose
}

// wait blocks until events are queued, hold elapses or ctx is done.
func (s *session) wait(ctx context.Context, hold time.Duration) ([]api.Event, bool) {
	timer := time.NewTimer(hold)
	defer timer.Stop()
	for {
		if evs, done := s.take(); len(evs) > 0 {
			return evs, done
		}
		select {
		case <-s.notify:
		case <-timer.C:
			return nil, false
		case <-ctx.Done():
			return nil, false
		}
	}
}

func (s *session) send(msg string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(upstreamWriteTimeout))
	return s.conn.WriteMessage(websocket.TextMessage, []byte(msg))
}

func (s *session) close() {
	s.closeOnce.Do(func() {
		s.writeMu.Lock()
		frame := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = s.conn.WriteControl(websocket.CloseMessage, frame, time.Now().Add(upstreamWriteTimeout))
		s.writeMu.Unlock()
		_ = s.conn.Close()
	})
}

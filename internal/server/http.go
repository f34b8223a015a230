package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/mithrel/pollsock/pkg/api"
)

// DialFunc opens the upstream websocket for a relayed channel.
type DialFunc func(ctx context.Context, address string) (*websocket.Conn, error)

func defaultDial(ctx context.Context, address string) (*websocket.Conn, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, address, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return conn, err
}

// Server relays websocket channels to clients that can only make one-shot
// HTTP requests. Each open mints an id; the client then sends, closes and
// long-polls for upstream frames using that id.
type Server struct {
	cfg      *viper.Viper
	log      *zap.Logger
	dial     DialFunc
	sessions *lru.Cache[string, *session]
}

func New(cfg *viper.Viper, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	size := cfg.GetInt("relay.max_sessions")
	if size <= 0 {
		size = 1024
	}
	s := &Server{cfg: cfg, log: log, dial: defaultDial}
	s.sessions, _ = lru.NewWithEvict(size, func(id string, sess *session) {
		log.Debug("session released", zap.String("id", id))
		sess.close()
	})
	return s
}

// UseDialer replaces the upstream dialer.
func (s *Server) UseDialer(d DialFunc) {
	s.dial = d
}

// Sessions reports the number of live relay sessions.
func (s *Server) Sessions() int {
	return s.sessions.Len()
}

// Router returns an http.Handler with registered routes.
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/socket/open", s.auth(s.handleOpen))
	mux.HandleFunc("/socket/send", s.auth(s.handleSend))
	mux.HandleFunc("/socket/close", s.auth(s.handleClose))
	mux.HandleFunc("/socket/poll", s.auth(s.handlePoll))
	return mux
}

// auth enforces a bearer token when auth.token is configured, and only
// accepts POST.
func (s *Server) auth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if tok := strings.TrimSpace(s.cfg.GetString("auth.token")); tok != "" {
			got := r.Header.Get("Authorization")
			if !strings.HasPrefix(got, "Bearer ") || strings.TrimSpace(strings.TrimPrefix(got, "Bearer ")) != tok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}
		next.ServeHTTP(w, r)
	}
}

func (s *Server) handleOpen(w http.ResponseWriter, r *http.Request) {
	address := strings.TrimSpace(r.URL.Query().Get("url"))
	if address == "" {
		http.Error(w, "missing url", http.StatusBadRequest)
		return
	}
	timeout := s.cfg.GetDuration("relay.dial_timeout")
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	conn, err := s.dial(ctx, address)
	if err != nil {
		s.log.Info("upstream dial failed", zap.String("address", address), zap.Error(err))
		http.Error(w, "upstream unavailable", http.StatusBadGateway)
		return
	}
	sess := newSession(api.NewID(), address, conn)
	s.sessions.Add(sess.id, sess)
	go sess.pump(s.log)

	s.log.Debug("session opened", zap.String("id", sess.id), zap.String("address", address))
	writeJSON(w, api.OpenResult{ID: sess.id})
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r.URL.Query().Get("id"))
	if !ok {
		return
	}
	var req api.SendRequest
	if !readJSON(w, r, &req) {
		return
	}
	if err := sess.send(req.Msg); err != nil {
		s.log.Info("upstream write failed", zap.String("id", sess.id), zap.Error(err))
		http.Error(w, "upstream write failed", http.StatusBadGateway)
		return
	}
	writeJSON(w, struct{}{})
}

// handleClose is idempotent: closing an unknown id succeeds.
func (s *Server) handleClose(w http.ResponseWriter, r *http.Request) {
	var req api.CloseRequest
	if !readJSON(w, r, &req) {
		return
	}
	if req.Socket != "" && s.sessions.Remove(req.Socket) {
		s.log.Debug("session closed", zap.String("id", req.Socket))
	}
	writeJSON(w, struct{}{})
}

func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r.URL.Query().Get("id"))
	if !ok {
		return
	}
	hold := s.cfg.GetDuration("relay.poll_timeout")
	if hold <= 0 {
		hold = 30 * time.Second
	}
	evs, done := sess.wait(r.Context(), hold)
	if done {
		// The client has now seen the close; forget the id.
		s.sessions.Remove(sess.id)
	}
	if evs == nil {
		evs = []api.Event{}
	}
	writeJSON(w, api.PollResult{Events: evs})
}

func (s *Server) lookup(w http.ResponseWriter, id string) (*session, bool) {
	id = strings.TrimSpace(id)
	if id == "" {
		http.Error(w, "missing id", http.StatusBadRequest)
		return nil, false
	}
	sess, ok := s.sessions.Get(id)
	if !ok {
		http.Error(w, "unknown socket", http.StatusNotFound)
		return nil, false
	}
	return sess, true
}

func readJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	b, err := io.ReadAll(io.LimitReader(r.Body, 16<<20))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return false
	}
	if err := json.Unmarshal(b, dst); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

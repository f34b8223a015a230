package channel

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Mode selects the channel implementation.
type Mode string

const (
	// ModeAuto picks native for loopback origins and emulated otherwise.
	ModeAuto     Mode = "auto"
	ModeNative   Mode = "native"
	ModeEmulated Mode = "emulated"
)

var (
	ErrUnknownMode = errors.New("unknown channel mode")
	ErrNoRemote    = errors.New("emulated channel requires a remote")
)

// Options configure New.
type Options struct {
	Mode Mode
	// Origin is the URL or host the caller is served from; ModeAuto
	// inspects it.
	Origin   string
	Handlers Handlers
	Logger   *zap.Logger

	// Remote is required for emulated channels.
	Remote Remote

	// Dialer and Header are used by native channels.
	Dialer *websocket.Dialer
	Header http.Header
}

// ParseMode validates a configured mode string. Empty means auto.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return ModeAuto, nil
	case ModeAuto, ModeNative, ModeEmulated:
		return m, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownMode, s)
}

// ResolveMode turns ModeAuto into a concrete mode for origin. Loopback
// origins can reach websocket endpoints directly; anything else goes through
// the polling relay.
func ResolveMode(mode Mode, origin string) (Mode, error) {
	switch mode {
	case ModeNative, ModeEmulated:
		return mode, nil
	case ModeAuto, "":
		if isLocalHost(origin) {
			return ModeNative, nil
		}
		return ModeEmulated, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownMode, mode)
}

// New constructs a channel to address. Configuration errors are returned
// synchronously; connection failures are reported through OnError.
func New(ctx context.Context, address string, opts Options) (Channel, error) {
	mode, err := ResolveMode(opts.Mode, opts.Origin)
	if err != nil {
		return nil, err
	}
	if mode == ModeEmulated {
		if opts.Remote == nil {
			return nil, ErrNoRemote
		}
		return NewEmulated(ctx, address, opts.Remote, opts.Handlers, opts.Logger), nil
	}
	return NewNative(ctx, address, opts.Dialer, opts.Header, opts.Handlers, opts.Logger), nil
}

func isLocalHost(origin string) bool {
	host := strings.TrimSpace(origin)
	if host == "" {
		return false
	}
	if u, err := url.Parse(host); err == nil && u.Host != "" {
		host = u.Hostname()
	} else if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.Trim(host, "[]")
	switch strings.ToLower(host) {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	return false
}

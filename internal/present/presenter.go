// Package present writes channel events for humans and for pipes.
package present

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/mithrel/pollsock/pkg/api"
)

type Mode int

const (
	ModePlain Mode = iota
	ModeNDJSON
)

// ParseMode parses "plain" or "ndjson". Empty selects plain.
func ParseMode(s string) (Mode, bool) {
	switch s {
	case "", "plain":
		return ModePlain, true
	case "ndjson":
		return ModeNDJSON, true
	default:
		return ModePlain, false
	}
}

// EventWriter serializes channel events onto a writer. It is safe for
// concurrent use.
type EventWriter struct {
	mu   sync.Mutex
	w    io.Writer
	mode Mode
	enc  *json.Encoder
}

func NewEventWriter(w io.Writer, mode Mode) *EventWriter {
	return &EventWriter{w: w, mode: mode, enc: json.NewEncoder(w)}
}

// Write renders one event. Plain mode prints message payloads one per line
// and skips close events.
func (ew *EventWriter) Write(e api.Event) error {
	ew.mu.Lock()
	defer ew.mu.Unlock()
	if ew.mode == ModeNDJSON {
		return ew.enc.Encode(e)
	}
	if e.Type != api.EventMessage {
		return nil
	}
	_, err := fmt.Fprintln(ew.w, e.Msg)
	return err
}

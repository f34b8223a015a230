package api

// EventType tags a relay-originated notification.
type EventType string

const (
	EventMessage EventType = "message"
	EventClose   EventType = "close"
)

// Event is delivered through a poll response. Msg is only set for messages.
type Event struct {
	Type EventType `json:"type"`
	Msg  string    `json:"msg,omitempty"`
}

// OpenResult is returned by the open endpoint.
type OpenResult struct {
	ID string `json:"id"`
}

type SendRequest struct {
	Msg string `json:"msg"`
}

type CloseRequest struct {
	Socket string `json:"socket"`
}

// PollResult may carry an empty event list when the hold time elapsed.
type PollResult struct {
	Events []Event `json:"events"`
}

// DocumentResult is returned by the document store after a create request.
type DocumentResult struct {
	Name string `json:"name"`
	Path string `json:"path,omitempty"`
}

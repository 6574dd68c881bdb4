package bus

import "time"

// MessageType tags every payload carried on the bus.
type MessageType string

const (
	// TypeCheckSolution asks whether a solution page exists for a slug.
	TypeCheckSolution MessageType = "CHECK_NEETCODE"
	// TypeURLChanged tells a page context that its tab navigated.
	TypeURLChanged MessageType = "URL_CHANGED"
)

// CheckRequest is sent by a page controller; it is consumed exactly once.
type CheckRequest struct {
	Type MessageType `json:"type"`
	Slug string      `json:"slug"`
}

// NewCheckRequest builds a correctly tagged request.
func NewCheckRequest(slug string) CheckRequest {
	return CheckRequest{Type: TypeCheckSolution, Slug: slug}
}

// CheckResponse answers a CheckRequest. Error is only set on failure, in which
// case Exists is false.
type CheckResponse struct {
	Exists bool   `json:"exists"`
	Error  string `json:"error,omitempty"`
}

// NavigationEvent notifies a page context that the tab URL changed.
type NavigationEvent struct {
	Type MessageType `json:"type"`
	URL  string      `json:"url"`
}

// NewNavigationEvent builds a correctly tagged navigation notification.
func NewNavigationEvent(url string) NavigationEvent {
	return NavigationEvent{Type: TypeURLChanged, URL: url}
}

// Envelope wraps every message moving across the bus.
type Envelope struct {
	ID        string      `json:"id"`
	Timestamp time.Time   `json:"ts"`
	Type      MessageType `json:"type"`
	// TabID is empty for messages not addressed to a tab.
	TabID   string      `json:"tab_id,omitempty"`
	Payload interface{} `json:"payload"`
}

// Tap observes traffic without taking part in it. Taps run synchronously on the
// sending goroutine and must not block.
type Tap func(Envelope)

// Package events defines the wire contract for the hub's WebSocket feed.
// The dashboard keys its event reducers off these strings, so changing a
// message type breaks every connected client.
package events

// MessageType identifies what an envelope carries.
type MessageType string

const (
	// MessageTypeConnection greets a freshly registered client. Data is a
	// ConnectionGreeting.
	MessageTypeConnection MessageType = "connection"

	// MessageTypeApplicationStatus carries the full application record
	// after a status change. Data is a domain.Application.
	MessageTypeApplicationStatus MessageType = "application:status"

	// MessageTypeTestProgress carries an integration-test status view
	// after a step report lands. Data is a domain.TestStatusView.
	MessageTypeTestProgress MessageType = "test:progress"
)

// Envelope wraps every event pushed over the feed. Timestamp is RFC 3339;
// TraceID is present only on connection greetings, tying the frame back to
// the upgrade request.
type Envelope struct {
	Type      MessageType `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp string      `json:"timestamp"`
	TraceID   string      `json:"trace_id,omitempty"`
}

// ConnectionGreeting is the Data of a connection message.
type ConnectionGreeting struct {
	Status   string `json:"status"`
	ClientID string `json:"client_id"`
}

package models

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	ErrMalformedFrame = errors.New("invalid JSON format")
	ErrInvalidMessage = errors.New("message must be a string")
	ErrUnknownEvent   = errors.New("unknown event kind")
)

type InboundKind int

const (
	InboundIgnored InboundKind = iota
	InboundPing
	InboundChat
)

// Inbound is a decoded client frame.
type Inbound struct {
	Kind    InboundKind
	Message string
}

// ParseInbound decodes one client frame. A frame tagged {"type":"ping"} is
// a liveness check; any other object carrying "message" is a chat payload.
// Objects with neither are ignored.
func ParseInbound(data []byte) (Inbound, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil || fields == nil {
		return Inbound{}, ErrMalformedFrame
	}

	if raw, ok := fields["type"]; ok {
		var typ string
		if json.Unmarshal(raw, &typ) == nil && typ == "ping" {
			return Inbound{Kind: InboundPing}, nil
		}
	}

	raw, ok := fields["message"]
	if !ok {
		return Inbound{Kind: InboundIgnored}, nil
	}
	// null decodes into a *string as nil, not as an empty string.
	var msg *string
	if err := json.Unmarshal(raw, &msg); err != nil || msg == nil {
		return Inbound{}, ErrInvalidMessage
	}
	return Inbound{Kind: InboundChat, Message: *msg}, nil
}

type EventKind int

const (
	EventAuthenticated EventKind = iota + 1
	EventPong
	EventError
	EventChatMessage
)

var eventKindNames = map[EventKind]string{
	EventAuthenticated: "authentication_success",
	EventPong:          "pong",
	EventError:         "error",
	EventChatMessage:   "chat_message",
}

func (k EventKind) String() string {
	if name, ok := eventKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("EventKind(%d)", int(k))
}

// ParseEventKind is the inverse of EventKind.String.
func ParseEventKind(name string) (EventKind, error) {
	for k, n := range eventKindNames {
		if n == name {
			return k, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownEvent, name)
}

// Event is everything the server ever sends to a session.
type Event struct {
	Kind      EventKind
	Message   string
	Sender    uuid.UUID
	Recipient uuid.UUID
}

func AuthenticatedEvent() Event { return Event{Kind: EventAuthenticated} }

func PongEvent() Event { return Event{Kind: EventPong} }

func ErrorEvent(message string) Event { return Event{Kind: EventError, Message: message} }

func ChatEvent(message string, sender, recipient uuid.UUID) Event {
	return Event{Kind: EventChatMessage, Message: message, Sender: sender, Recipient: recipient}
}

type typeFrame struct {
	Type string `json:"type"`
}

type errorFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type chatFrame struct {
	Message   string `json:"message"`
	Sender    string `json:"sender"`
	Recipient string `json:"recipient"`
}

// Frame renders the event as the JSON text frame a client receives.
func (e Event) Frame() ([]byte, error) {
	switch e.Kind {
	case EventAuthenticated:
		return json.Marshal(typeFrame{Type: "authentication_success"})
	case EventPong:
		return json.Marshal(typeFrame{Type: "pong"})
	case EventError:
		return json.Marshal(errorFrame{Type: "error", Message: e.Message})
	case EventChatMessage:
		return json.Marshal(chatFrame{
			Message:   e.Message,
			Sender:    e.Sender.String(),
			Recipient: e.Recipient.String(),
		})
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownEvent, int(e.Kind))
	}
}

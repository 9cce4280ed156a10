package push

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Sternrassler/portal-sync/pkg/domain"
)

// ErrMalformedMessage is returned for frames that are not a valid delta or
// heartbeat.
var ErrMalformedMessage = errors.New("malformed push message")

// Action is the kind of change a delta describes.
type Action uint8

const (
	ActionCreated Action = iota + 1
	ActionUpdated
	ActionDeleted
)

func (a Action) String() string {
	switch a {
	case ActionCreated:
		return "created"
	case ActionUpdated:
		return "updated"
	case ActionDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// ParseAction parses a wire action name.
func ParseAction(s string) (Action, error) {
	switch s {
	case "created":
		return ActionCreated, nil
	case "updated":
		return ActionUpdated, nil
	case "deleted":
		return ActionDeleted, nil
	default:
		return 0, fmt.Errorf("%w: unknown action %q", ErrMalformedMessage, s)
	}
}

// Delta is one change to a family. Created and Updated carry Payload,
// Deleted carries IDs.
type Delta struct {
	Family  domain.Family
	Action  Action
	Payload []json.RawMessage
	IDs     []string
}

// MessageKind classifies an inbound frame.
type MessageKind uint8

const (
	MessageDelta MessageKind = iota + 1
	MessagePing
	MessagePong
)

// Message is a parsed inbound frame.
type Message struct {
	Kind  MessageKind
	Delta Delta
}

type wireMessage struct {
	Type    string            `json:"type"`
	Entity  string            `json:"entity"`
	Action  string            `json:"action"`
	Payload []json.RawMessage `json:"payload"`
	IDs     []domain.WireID   `json:"ids"`
}

// pongFrame answers a server ping.
var pongFrame = []byte(`{"type":"pong"}`)

// ParseMessage parses one inbound frame.
func ParseMessage(data []byte) (Message, error) {
	var wire wireMessage
	if err := json.Unmarshal(data, &wire); err != nil {
		return Message{}, fmt.Errorf("%w: %w", ErrMalformedMessage, err)
	}

	switch wire.Type {
	case "ping":
		return Message{Kind: MessagePing}, nil
	case "pong":
		return Message{Kind: MessagePong}, nil
	case "", "delta":
	default:
		return Message{}, fmt.Errorf("%w: unknown type %q", ErrMalformedMessage, wire.Type)
	}

	family, err := domain.ParseFamily(wire.Entity)
	if err != nil {
		return Message{}, fmt.Errorf("%w: %w", ErrMalformedMessage, err)
	}
	action, err := ParseAction(wire.Action)
	if err != nil {
		return Message{}, err
	}

	delta := Delta{Family: family, Action: action}
	switch action {
	case ActionCreated, ActionUpdated:
		delta.Payload = wire.Payload
	case ActionDeleted:
		delta.IDs = make([]string, 0, len(wire.IDs))
		for _, id := range wire.IDs {
			if id != "" {
				delta.IDs = append(delta.IDs, string(id))
			}
		}
	}
	return Message{Kind: MessageDelta, Delta: delta}, nil
}

package domain

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrMalformed is returned when a frame or payload does not fit the shape
	// its tag requires.
	ErrMalformed = errors.New("malformed message")
	// ErrUnknownEvent is returned when a command carries a tag the server does
	// not handle.
	ErrUnknownEvent = errors.New("unknown event")
)

// Envelope is the tagged wrapper used for every message on the channel.
type Envelope struct {
	Event   Tag             `json:"event"`
	Message json.RawMessage `json:"message"`
}

// Frame is what the server actually writes: the envelope wrapped once more.
type Frame struct {
	Payload json.RawMessage `json:"payload"`
}

// NewEnvelope marshals message under the given tag.
func NewEnvelope(tag Tag, message any) (Envelope, error) {
	data, err := json.Marshal(message)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s message: %w", tag, err)
	}
	return Envelope{Event: tag, Message: data}, nil
}

// EncodeOutbound serializes a command as `{event, message}`.
func EncodeOutbound(m Outbound) ([]byte, error) {
	var message any = m
	switch v := m.(type) {
	case Join:
		message = v.Group
	case GetNewTask:
		message = nil
	}
	env, err := NewEnvelope(m.Tag(), message)
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

// DecodeOutbound parses a command received by the server.
func DecodeOutbound(data []byte) (Outbound, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	switch env.Event {
	case EventJoin:
		var group string
		if err := unmarshalMessage(env, &group); err != nil {
			return nil, err
		}
		return Join{Group: group}, nil
	case EventCreateTask:
		var m CreateTask
		if err := unmarshalMessage(env, &m); err != nil {
			return nil, err
		}
		if m.Task.ID == "" {
			return nil, fmt.Errorf("%w: %s without task id", ErrMalformed, env.Event)
		}
		return m, nil
	case EventTaskCancelled:
		id, err := decodeID(env)
		return CancelTask{ID: id}, err
	case EventListStates:
		id, err := decodeID(env)
		return ListStates{ID: id}, err
	case EventTaskAccepted:
		id, err := decodeID(env)
		return AcceptTask{ID: id}, err
	case EventTaskDeclined:
		id, err := decodeID(env)
		return DeclineTask{ID: id}, err
	case EventTaskCompleted:
		id, err := decodeID(env)
		return CompleteTask{ID: id}, err
	case EventGetNewTask:
		return GetNewTask{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Event)
	}
}

// DecodeInbound parses an unwrapped payload. It branches on the tag before
// looking at the message; unknown tags yield Unknown and no error.
func DecodeInbound(payload []byte) (Inbound, error) {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	switch env.Event {
	case EventNewTask:
		var m NewTask
		if err := unmarshalMessage(env, &m); err != nil {
			return nil, err
		}
		if m.Task.ID == "" {
			return nil, fmt.Errorf("%w: %s without task id", ErrMalformed, env.Event)
		}
		return m, nil
	case EventListStatesReply:
		var m StatesListed
		if err := unmarshalMessage(env, &m); err != nil {
			return nil, err
		}
		return m, nil
	case EventUpdateState:
		var m StateUpdated
		if err := unmarshalMessage(env, &m); err != nil {
			return nil, err
		}
		if m.ID == "" {
			return nil, fmt.Errorf("%w: %s without task id", ErrMalformed, env.Event)
		}
		return m, nil
	case EventTaskCancelledAck:
		id, err := decodeID(env)
		return TaskCancelledAck{ID: id}, err
	default:
		return Unknown{Event: env.Event, Message: env.Message}, nil
	}
}

// EncodeInbound serializes a server event as a frame, `{payload: {event, message}}`.
func EncodeInbound(m Inbound) ([]byte, error) {
	if u, ok := m.(Unknown); ok {
		return EncodeFrame(Envelope{Event: u.Event, Message: u.Message})
	}
	env, err := NewEnvelope(m.Tag(), m)
	if err != nil {
		return nil, err
	}
	return EncodeFrame(env)
}

// EncodeFrame wraps an envelope the way the server sends it.
func EncodeFrame(env Envelope) ([]byte, error) {
	payload, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}
	return json.Marshal(Frame{Payload: payload})
}

// UnwrapFrame strips the outer payload layer of a received frame.
func UnwrapFrame(data []byte) (json.RawMessage, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if isNull(f.Payload) {
		return nil, fmt.Errorf("%w: frame without payload", ErrMalformed)
	}
	return f.Payload, nil
}

func unmarshalMessage(env Envelope, v any) error {
	if isNull(env.Message) {
		return fmt.Errorf("%w: %s without message", ErrMalformed, env.Event)
	}
	if err := json.Unmarshal(env.Message, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformed, env.Event, err)
	}
	return nil
}

func decodeID(env Envelope) (TaskID, error) {
	var m struct {
		ID TaskID `json:"id"`
	}
	if err := unmarshalMessage(env, &m); err != nil {
		return "", err
	}
	if m.ID == "" {
		return "", fmt.Errorf("%w: %s without task id", ErrMalformed, env.Event)
	}
	return m.ID, nil
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}

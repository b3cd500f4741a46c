package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/bytedance/sonic"
)

var (
	// ErrNotEnvelope means the frame is not a JSON envelope at all. The
	// websocket channel treats such frames as bare text.
	ErrNotEnvelope = errors.New("protocol: not an envelope")
	// ErrUnknownType means the envelope names a type this relay does not speak.
	ErrUnknownType = errors.New("protocol: unknown message type")
)

// Known reports whether t is one of the defined message types.
func (t MessageType) Known() bool {
	switch t {
	case MsgCommand, MsgAudio, MsgText, MsgVoice, MsgError:
		return true
	default:
		return false
	}
}

// FromClient reports whether clients may send t.
func (t MessageType) FromClient() bool {
	return t == MsgCommand || t == MsgAudio || t == MsgText
}

// Marshal encodes payload into an envelope of the given type. A nil payload
// is omitted.
func Marshal(msgType MessageType, payload interface{}) ([]byte, error) {
	if !msgType.Known() {
		return nil, fmt.Errorf("%w %q", ErrUnknownType, msgType)
	}
	env := Envelope{Type: msgType}
	if payload != nil {
		b, err := sonic.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("protocol: marshal %s payload: %w", msgType, err)
		}
		env.Payload = b
	}
	return sonic.Marshal(env)
}

// Unmarshal decodes an envelope and returns its type and raw payload.
// Frames that are not envelopes yield ErrNotEnvelope; envelopes of an
// unknown type yield ErrUnknownType.
func Unmarshal(data []byte) (MessageType, json.RawMessage, error) {
	var env Envelope
	if err := sonic.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrNotEnvelope, err)
	}
	if env.Type == "" {
		return "", nil, fmt.Errorf("%w: missing type", ErrNotEnvelope)
	}
	if !env.Type.Known() {
		return env.Type, nil, fmt.Errorf("%w %q", ErrUnknownType, env.Type)
	}
	return env.Type, env.Payload, nil
}

// UnmarshalPayload decodes a raw payload into T. An absent payload decodes
// to the zero value.
func UnmarshalPayload[T any](raw json.RawMessage) (T, error) {
	var v T
	if len(raw) == 0 || string(raw) == "null" {
		return v, nil
	}
	if err := sonic.Unmarshal(raw, &v); err != nil {
		return v, fmt.Errorf("protocol: decode payload: %w", err)
	}
	return v, nil
}

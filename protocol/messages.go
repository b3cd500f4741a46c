package protocol

import (
	"encoding/json"
)

// MessageType enumerates the websocket channel message types.
type MessageType string

const (
	// Client -> relay
	MsgCommand MessageType = "command"
	MsgAudio   MessageType = "audio" // header; the audio itself follows as one binary frame

	// Both directions
	MsgText MessageType = "text"

	// Relay -> client
	MsgVoice MessageType = "voice" // header; the reply audio follows as one binary frame
	MsgError MessageType = "error"
)

// Envelope is the outer JSON wrapper for all text frames.
type Envelope struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// --- Client -> relay payloads ---

// CommandPayload invokes a chat command, e.g. {"name":"clear"}.
type CommandPayload struct {
	Name string `json:"name"`
}

// AudioPayload announces the binary frame that follows. Format is a container
// (ogg, wav, mp3, webm) or a raw encoding (pcm, ulaw, alaw); raw encodings use
// SampleRate and Channels.
type AudioPayload struct {
	Format     string `json:"format"`
	SampleRate int    `json:"sample_rate,omitempty"`
	Channels   int    `json:"channels,omitempty"`
	Size       int    `json:"size,omitempty"`
}

// --- Shared payloads ---

// TextPayload carries a plain text message.
type TextPayload struct {
	Text string `json:"text"`
}

// --- Relay -> client payloads ---

// VoicePayload announces a reply audio frame.
type VoicePayload struct {
	Filename string `json:"filename"`
	Format   string `json:"format"`
	Size     int    `json:"size"`
}

// ErrorPayload reports a malformed client message.
type ErrorPayload struct {
	Message string `json:"message"`
}

package core

import "strings"

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one stored side of an exchange. Only user and assistant turns are
// ever stored.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// UserTurn builds a user turn.
func UserTurn(content string) Turn {
	return Turn{Role: RoleUser, Content: content}
}

// AssistantTurn builds an assistant turn.
func AssistantTurn(content string) Turn {
	return Turn{Role: RoleAssistant, Content: content}
}

// HasContent reports whether the turn carries non-blank text.
func (t Turn) HasContent() bool {
	return strings.TrimSpace(t.Content) != ""
}

// Message is one entry of an outbound request to the synthesis gateway.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// AudioFormat names the container of a synthesized reply.
type AudioFormat string

const (
	AudioFormatWAV   AudioFormat = "wav"
	AudioFormatMP3   AudioFormat = "mp3"
	AudioFormatOpus  AudioFormat = "opus"
	AudioFormatFLAC  AudioFormat = "flac"
	AudioFormatAAC   AudioFormat = "aac"
	AudioFormatPCM16 AudioFormat = "pcm16"
)

// Extension returns the file extension used when delivering audio of this format.
func (f AudioFormat) Extension() string {
	switch f {
	case AudioFormatOpus:
		return "ogg"
	case AudioFormatPCM16:
		return "pcm"
	case "":
		return "wav"
	default:
		return string(f)
	}
}

// Synthesis is the result of one synthesis round trip: the reply text and the
// spoken reply in Format.
type Synthesis struct {
	Text   string
	Audio  []byte
	Format AudioFormat
}

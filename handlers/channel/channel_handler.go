// Package channel maps chat platform events onto the turn orchestrator and
// sends the results back. Transports only translate their wire format into
// InboundEvent and implement Channel.
package channel

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"voicerelay/core"
	"voicerelay/handlers/turn"
)

type EventKind string

const (
	EventVoice   EventKind = "voice"
	EventText    EventKind = "text"
	EventCommand EventKind = "command"
)

// Commands understood by the relay.
const (
	CommandStart = "start"
	CommandHelp  = "help"
	CommandClear = "clear"
	CommandReset = "reset"
)

// InboundEvent is one message from a chat platform.
type InboundEvent struct {
	Kind     EventKind
	UserKey  int64
	ChatID   int64
	Audio    []byte // Voice payload, for EventVoice.
	Filename string // Name hinting the audio container, e.g. "voice.ogg".
	// Fetch downloads the voice payload when the platform only delivers a
	// reference. Used when Audio is empty.
	Fetch   func(ctx context.Context) ([]byte, error)
	Text    string
	Command string // Command name without the slash, for EventCommand.
}

// Channel delivers replies back to a chat.
type Channel interface {
	Name() string
	SendText(ctx context.Context, chatID int64, text string) error
	SendVoice(ctx context.Context, chatID int64, audio []byte, filename string) error
}

// Orchestrator is the part of the turn handler the channel drives.
type Orchestrator interface {
	HandleVoice(ctx context.Context, userKey int64, audio []byte, filename string) (turn.Reply, error)
	Reset(ctx context.Context, userKey int64) error
}

type ChannelHandler struct {
	orchestrator Orchestrator
	persona      turn.Persona
	config       ChannelConfig
	logger       *core.Logger
}

func NewChannelHandler(orchestrator Orchestrator, persona turn.Persona, config ChannelConfig, logger *core.Logger) *ChannelHandler {
	if logger == nil {
		logger = core.GetLogger()
	}
	return &ChannelHandler{
		orchestrator: orchestrator,
		persona:      persona,
		config:       config,
		logger:       logger.With(map[string]interface{}{"component": "channel"}),
	}
}

// ParseCommand extracts the command name from "/name@bot args". ok is false
// when text is not a command.
func ParseCommand(text string) (name string, ok bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") || len(text) == 1 {
		return "", false
	}
	name = strings.Fields(text[1:])[0]
	if i := strings.IndexByte(name, '@'); i >= 0 {
		name = name[:i]
	}
	return strings.ToLower(name), name != ""
}

// Handle processes one event. Exchange failures are answered with the
// persona's failure notice and never returned; the returned error is only
// ever a *core.ChannelDeliveryError.
func (h *ChannelHandler) Handle(ctx context.Context, ch Channel, ev InboundEvent) error {
	logger := h.logger.With(map[string]interface{}{
		"channel":  ch.Name(),
		"user_key": ev.UserKey,
		"kind":     ev.Kind,
	})

	var err error
	switch ev.Kind {
	case EventCommand:
		err = h.handleCommand(ctx, ch, ev, logger)
	case EventVoice:
		err = h.handleVoice(ctx, ch, ev, logger)
	case EventText:
		err = h.handleText(ctx, ch, ev, logger)
	default:
		logger.Debug("Ignoring unsupported event")
	}

	if err != nil {
		logger.Error("Failed to deliver reply", "error", err)
	}
	return err
}

func (h *ChannelHandler) handleCommand(ctx context.Context, ch Channel, ev InboundEvent, logger *core.Logger) error {
	switch ev.Command {
	case CommandStart:
		return h.sendText(ctx, ch, ev.ChatID, h.persona.Welcome)
	case CommandHelp:
		return h.sendText(ctx, ch, ev.ChatID, h.persona.Help)
	case CommandClear, CommandReset:
		if err := h.orchestrator.Reset(ctx, ev.UserKey); err != nil {
			logger.Error("Failed to clear session", "error", err)
			return h.sendText(ctx, ch, ev.ChatID, h.persona.Failure)
		}
		return h.sendText(ctx, ch, ev.ChatID, h.persona.Cleared)
	default:
		logger.Debug("Ignoring unknown command", "command", ev.Command)
		return nil
	}
}

func (h *ChannelHandler) handleVoice(ctx context.Context, ch Channel, ev InboundEvent, logger *core.Logger) error {
	exchangeCtx := ctx
	if timeout := h.config.ExchangeTimeout.Duration(); timeout > 0 {
		var cancel context.CancelFunc
		exchangeCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	payload := ev.Audio
	if len(payload) == 0 && ev.Fetch != nil {
		var err error
		payload, err = ev.Fetch(exchangeCtx)
		if err != nil {
			logger.Warn("Could not download voice message", "error", err)
			return h.sendText(ctx, ch, ev.ChatID, h.persona.Failure)
		}
	}
	if len(payload) == 0 {
		return h.sendText(ctx, ch, ev.ChatID, h.persona.NoAudio)
	}

	reply, err := h.orchestrator.HandleVoice(exchangeCtx, ev.UserKey, payload, ev.Filename)
	if err != nil {
		// Upstream detail stays in the logs.
		logger.Warn("Exchange failed, sending notice", "exchange_id", reply.ExchangeID, "error", err)
		return h.sendText(ctx, ch, ev.ChatID, h.persona.Failure)
	}

	filename := "reply." + reply.Format.Extension()
	if err := ch.SendVoice(ctx, ev.ChatID, reply.Audio, filename); err != nil {
		// A committed exchange stays committed even if the user never hears it.
		return &core.ChannelDeliveryError{Channel: ch.Name(), Op: "send_voice", Cause: err}
	}
	logger.Info("Voice reply delivered", "exchange_id", reply.ExchangeID, "committed", reply.Committed, "audio_bytes", len(reply.Audio))
	return nil
}

// handleText answers text with the recorded voice notice, falling back to a
// plain text apology.
func (h *ChannelHandler) handleText(ctx context.Context, ch Channel, ev InboundEvent, logger *core.Logger) error {
	err := h.sendNotice(ctx, ch, ev.ChatID)
	if err == nil {
		return nil
	}
	logger.Warn("Could not send recorded notice, falling back to text", "error", err)
	return h.sendText(ctx, ch, ev.ChatID, h.persona.TextFallback)
}

func (h *ChannelHandler) sendNotice(ctx context.Context, ch Channel, chatID int64) error {
	if h.config.TextNoticePath == "" {
		return errors.New("no text notice configured")
	}
	data, err := os.ReadFile(h.config.TextNoticePath)
	if err != nil {
		return fmt.Errorf("read notice: %w", err)
	}
	return ch.SendVoice(ctx, chatID, data, filepath.Base(h.config.TextNoticePath))
}

func (h *ChannelHandler) sendText(ctx context.Context, ch Channel, chatID int64, text string) error {
	if err := ch.SendText(ctx, chatID, text); err != nil {
		return &core.ChannelDeliveryError{Channel: ch.Name(), Op: "send_text", Cause: err}
	}
	return nil
}

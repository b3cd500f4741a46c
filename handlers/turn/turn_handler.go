// Package turn orchestrates one conversational exchange: transcript in,
// persona plus history out to the synthesis gateway, reply back, history
// committed only when the reply has text.
package turn

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"voicerelay/core"
	"voicerelay/handlers/history"
	"voicerelay/metrics"
)

// Transcriber is the transcription gateway as seen by the orchestrator.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, filename string) (string, error)
}

// Synthesizer is the synthesis gateway as seen by the orchestrator.
type Synthesizer interface {
	Synthesize(ctx context.Context, messages []core.Message) (core.Synthesis, error)
}

// ExchangeState is logged as an exchange moves through the orchestrator.
type ExchangeState string

const (
	StateIdle        ExchangeState = "idle"
	StateTranscribed ExchangeState = "transcribed"
	StateRequested   ExchangeState = "requested"
	StateCommitted   ExchangeState = "committed"
	StateFailed      ExchangeState = "failed"
)

// Exchange outcomes reported to metrics.
const (
	OutcomeCommitted   = "committed"
	OutcomeUncommitted = "uncommitted"
	OutcomeFailed      = "failed"
)

// Reply is what the channel delivers back to the user.
type Reply struct {
	ExchangeID string
	Transcript string
	Text       string
	Audio      []byte
	Format     core.AudioFormat
	// Committed reports whether the exchange was appended to the session.
	Committed bool
}

type TurnHandler struct {
	transcriber Transcriber
	synthesizer Synthesizer
	store       history.Store
	locks       *history.KeyLock
	persona     Persona
	logger      *core.Logger
}

func NewTurnHandler(transcriber Transcriber, synthesizer Synthesizer, store history.Store, persona Persona, logger *core.Logger) *TurnHandler {
	if logger == nil {
		logger = core.GetLogger()
	}
	return &TurnHandler{
		transcriber: transcriber,
		synthesizer: synthesizer,
		store:       store,
		locks:       history.NewKeyLock(),
		persona:     persona,
		logger:      logger.With(map[string]interface{}{"component": "turn"}),
	}
}

// Persona returns the persona the handler speaks as.
func (h *TurnHandler) Persona() Persona {
	return h.persona
}

// HandleVoice transcribes one voice message and runs the exchange. A
// transcription failure never reaches the synthesis gateway.
func (h *TurnHandler) HandleVoice(ctx context.Context, userKey int64, audio []byte, filename string) (Reply, error) {
	exchangeID := uuid.NewString()
	logger := h.exchangeLogger(userKey, exchangeID)
	logger.Debug("Exchange started", "state", StateIdle, "audio_bytes", len(audio))

	transcript, err := h.transcriber.Transcribe(ctx, audio, filename)
	if err != nil {
		h.fail(logger, err)
		return Reply{ExchangeID: exchangeID}, err
	}
	logger.Info("Voice message transcribed", "state", StateTranscribed, "chars", len(transcript))

	return h.exchange(ctx, logger, userKey, exchangeID, transcript)
}

// HandleUtterance runs the exchange for an already transcribed utterance.
func (h *TurnHandler) HandleUtterance(ctx context.Context, userKey int64, transcript string) (Reply, error) {
	exchangeID := uuid.NewString()
	return h.exchange(ctx, h.exchangeLogger(userKey, exchangeID), userKey, exchangeID, transcript)
}

// Reset clears the user's session. Waits for an in-flight exchange of the
// same user so the clear cannot be overtaken by its commit.
func (h *TurnHandler) Reset(ctx context.Context, userKey int64) error {
	unlock := h.locks.Lock(userKey)
	defer unlock()

	if err := h.store.Clear(ctx, userKey); err != nil {
		return err
	}
	h.logger.Info("Session cleared", "user_key", userKey)
	return nil
}

func (h *TurnHandler) exchange(ctx context.Context, logger *core.Logger, userKey int64, exchangeID, transcript string) (Reply, error) {
	reply := Reply{ExchangeID: exchangeID, Transcript: transcript}

	if strings.TrimSpace(transcript) == "" {
		err := core.NewTranscriptionError("turn", core.CodeEmpty, "empty transcript", nil, false)
		h.fail(logger, err)
		return reply, err
	}

	// Same-user exchanges are serialized from read to commit so a second
	// message cannot build its request from a stale session.
	unlock := h.locks.Lock(userKey)
	defer unlock()

	turns, err := h.store.Get(ctx, userKey)
	if err != nil {
		err = core.NewSynthesisError("history", core.CodeStore, "could not load session", err, false)
		h.fail(logger, err)
		return reply, err
	}

	messages := BuildRequest(h.persona.SystemPrompt(), turns, transcript)
	logger.Debug("Synthesis requested", "state", StateRequested, "messages", len(messages))

	res, err := h.synthesizer.Synthesize(ctx, messages)
	if err != nil {
		h.fail(logger, err)
		return reply, err
	}
	reply.Text = res.Text
	reply.Audio = res.Audio
	reply.Format = res.Format

	if strings.TrimSpace(res.Text) == "" {
		// Audio still goes out; an exchange without reply text is not kept.
		logger.Warn("Reply has no text, history left unchanged", "state", StateIdle)
		metrics.RecordExchange(OutcomeUncommitted)
		return reply, nil
	}

	if err := h.store.Append(ctx, userKey, core.UserTurn(transcript), core.AssistantTurn(res.Text)); err != nil {
		// The reply is still worth delivering.
		logger.Error("Failed to commit exchange", "state", StateIdle, "error", err)
		metrics.RecordExchange(OutcomeUncommitted)
		return reply, nil
	}
	reply.Committed = true

	logger.Info("Exchange committed", "state", StateCommitted, "history_turns", len(turns)+2)
	metrics.RecordExchange(OutcomeCommitted)
	metrics.RecordHistoryTurns(len(turns) + 2)
	return reply, nil
}

func (h *TurnHandler) exchangeLogger(userKey int64, exchangeID string) *core.Logger {
	return h.logger.With(map[string]interface{}{
		"user_key":    userKey,
		"exchange_id": exchangeID,
	})
}

func (h *TurnHandler) fail(logger *core.Logger, err error) {
	logger.Error("Exchange failed", "state", StateFailed, "error", err)
	metrics.RecordExchange(OutcomeFailed)
}

// BuildRequest assembles the outbound request: the preamble, every stored
// turn that has content, then the new utterance.
func BuildRequest(preamble string, turns []core.Turn, utterance string) []core.Message {
	messages := make([]core.Message, 0, len(turns)+2)
	messages = append(messages, core.Message{Role: core.RoleSystem, Content: preamble})
	for _, t := range turns {
		if !t.HasContent() {
			continue
		}
		messages = append(messages, core.Message{Role: t.Role, Content: t.Content})
	}
	messages = append(messages, core.Message{Role: core.RoleUser, Content: utterance})
	return messages
}

// Package stt is the transcription gateway: audio bytes in, transcript out.
package stt

import (
	"context"
	"errors"
	"strings"
	"time"

	"voicerelay/core"
	"voicerelay/metrics"
	"voicerelay/utils/retry"
)

// TranscriptionService is implemented by speech-to-text providers. Services
// should return *core.TranscriptionError where they can classify the failure;
// anything else is classified by the handler.
type TranscriptionService interface {
	Name() string
	Transcribe(ctx context.Context, audio []byte, filename string) (string, error)
}

// STTHandler applies the gateway policy around a TranscriptionService: a
// deadline per attempt, bounded retries on transient failures and fallback to
// backup services once the primary is exhausted.
type STTHandler struct {
	service        TranscriptionService
	backupServices []TranscriptionService
	config         STTConfig
	logger         *core.Logger
}

func NewSTTHandler(service TranscriptionService, backupServices []TranscriptionService, config STTConfig, logger *core.Logger) *STTHandler {
	if logger == nil {
		logger = core.GetLogger()
	}
	return &STTHandler{
		service:        service,
		backupServices: backupServices,
		config:         config,
		logger:         logger.With(map[string]interface{}{"component": "stt"}),
	}
}

// Transcribe returns the transcript of one voice message. Every failure,
// including an empty transcript, is a *core.TranscriptionError.
func (h *STTHandler) Transcribe(ctx context.Context, audio []byte, filename string) (string, error) {
	if len(audio) == 0 {
		return "", core.NewTranscriptionError(h.service.Name(), core.CodeInvalid, "no audio payload", nil, false)
	}

	start := time.Now()
	text, err := h.transcribe(ctx, audio, filename)
	metrics.RecordGatewayCall(metrics.GatewayTranscription, time.Since(start), err)
	return text, err
}

func (h *STTHandler) transcribe(ctx context.Context, audio []byte, filename string) (string, error) {
	services := append([]TranscriptionService{h.service}, h.backupServices...)

	var lastErr error
	for i, service := range services {
		text, err := h.transcribeWith(ctx, service, audio, filename)
		if err == nil {
			return text, nil
		}
		lastErr = err

		// Only transient exhaustion is worth handing to a backup.
		if !core.IsRetryable(err) || ctx.Err() != nil || i == len(services)-1 {
			break
		}
		h.logger.Warn("Transcription service exhausted, switching to backup",
			"service", service.Name(), "backup", services[i+1].Name(), "error", err)
	}
	return "", lastErr
}

func (h *STTHandler) transcribeWith(ctx context.Context, service TranscriptionService, audio []byte, filename string) (string, error) {
	notify := func(attempt int, err error, wait time.Duration) {
		metrics.RecordGatewayRetry(metrics.GatewayTranscription)
		h.logger.Warn("Transcription attempt failed, retrying",
			"service", service.Name(), "attempt", attempt, "wait", wait, "error", err)
	}

	return retry.Do(ctx, h.config.Retry, notify, func(ctx context.Context) (string, error) {
		attemptCtx := ctx
		if timeout := h.config.Timeout.Duration(); timeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		text, err := service.Transcribe(attemptCtx, audio, filename)
		if err != nil {
			return "", classify(ctx, service.Name(), err)
		}
		text = strings.TrimSpace(text)
		if text == "" {
			return "", core.NewTranscriptionError(service.Name(), core.CodeEmpty, "empty transcript", nil, false)
		}
		return text, nil
	})
}

// classify turns an arbitrary service error into a *core.TranscriptionError.
// parent is the caller's context, used to tell our own deadline apart from a
// caller cancellation.
func classify(parent context.Context, provider string, err error) error {
	var te *core.TranscriptionError
	if errors.As(err, &te) {
		return te
	}
	switch {
	case parent.Err() != nil:
		return core.NewTranscriptionError(provider, core.CodeTransport, "request cancelled", err, false)
	case errors.Is(err, context.DeadlineExceeded):
		return core.NewTranscriptionError(provider, core.CodeTimeout, "transcription timed out", err, true)
	default:
		return core.NewTranscriptionError(provider, core.CodeUpstream, "transcription failed", err, core.IsRetryable(err))
	}
}

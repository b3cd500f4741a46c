// Package llm is the synthesis gateway: one outbound request in, reply text
// and spoken audio out, from a single round trip.
package llm

import (
	"context"
	"errors"
	"strings"
	"time"

	"voicerelay/core"
	"voicerelay/metrics"
	"voicerelay/utils/audio"
	"voicerelay/utils/retry"
)

// SynthesisService is implemented by text+audio model providers. It must
// request both modalities in the same call.
type SynthesisService interface {
	Name() string
	Synthesize(ctx context.Context, messages []core.Message) (core.Synthesis, error)
}

type LLMHandler struct {
	service        SynthesisService
	backupServices []SynthesisService
	config         LLMHandlerConfig
	logger         *core.Logger
}

func NewLLMHandler(service SynthesisService, backupServices []SynthesisService, config LLMHandlerConfig, logger *core.Logger) *LLMHandler {
	if logger == nil {
		logger = core.GetLogger()
	}
	return &LLMHandler{
		service:        service,
		backupServices: backupServices,
		config:         config,
		logger:         logger.With(map[string]interface{}{"component": "llm"}),
	}
}

// Synthesize sends the outbound request and returns validated audio. The
// reply text may be empty; callers decide what that means for history. Every
// failure is a *core.SynthesisError.
func (h *LLMHandler) Synthesize(ctx context.Context, messages []core.Message) (core.Synthesis, error) {
	if len(messages) == 0 {
		return core.Synthesis{}, core.NewSynthesisError(h.service.Name(), core.CodeInvalid, "empty request", nil, false)
	}

	start := time.Now()
	res, err := h.synthesize(ctx, messages)
	metrics.RecordGatewayCall(metrics.GatewaySynthesis, time.Since(start), err)
	return res, err
}

func (h *LLMHandler) synthesize(ctx context.Context, messages []core.Message) (core.Synthesis, error) {
	services := append([]SynthesisService{h.service}, h.backupServices...)

	var lastErr error
	for i, service := range services {
		res, err := h.synthesizeWith(ctx, service, messages)
		if err == nil {
			return res, nil
		}
		lastErr = err

		if !core.IsRetryable(err) || ctx.Err() != nil || i == len(services)-1 {
			break
		}
		h.logger.Warn("Synthesis service exhausted, switching to backup",
			"service", service.Name(), "backup", services[i+1].Name(), "error", err)
	}
	return core.Synthesis{}, lastErr
}

func (h *LLMHandler) synthesizeWith(ctx context.Context, service SynthesisService, messages []core.Message) (core.Synthesis, error) {
	notify := func(attempt int, err error, wait time.Duration) {
		metrics.RecordGatewayRetry(metrics.GatewaySynthesis)
		h.logger.Warn("Synthesis attempt failed, retrying",
			"service", service.Name(), "attempt", attempt, "wait", wait, "error", err)
	}

	return retry.Do(ctx, h.config.Retry, notify, func(ctx context.Context) (core.Synthesis, error) {
		attemptCtx := ctx
		if timeout := h.config.Timeout.Duration(); timeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		res, err := service.Synthesize(attemptCtx, messages)
		if err != nil {
			return core.Synthesis{}, classify(ctx, service.Name(), err)
		}
		if err := audio.Validate(res.Audio, string(res.Format)); err != nil {
			return core.Synthesis{}, core.NewSynthesisError(service.Name(), core.CodeBadAudio, "undecodable audio in reply", err, false)
		}
		res.Text = strings.TrimSpace(res.Text)
		return res, nil
	})
}

func classify(parent context.Context, provider string, err error) error {
	var se *core.SynthesisError
	if errors.As(err, &se) {
		return se
	}
	switch {
	case parent.Err() != nil:
		return core.NewSynthesisError(provider, core.CodeTransport, "request cancelled", err, false)
	case errors.Is(err, context.DeadlineExceeded):
		return core.NewSynthesisError(provider, core.CodeTimeout, "synthesis timed out", err, true)
	default:
		return core.NewSynthesisError(provider, core.CodeUpstream, "synthesis failed", err, core.IsRetryable(err))
	}
}

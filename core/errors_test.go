package core

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGatewayErrorsWrapCause(t *testing.T) {
	cause := errors.New("connection reset")

	te := NewTranscriptionError("openai-whisper", CodeTransport, "transport failure", cause, true)
	assert.ErrorIs(t, te, cause)
	assert.Equal(t, "openai-whisper transcription error [transport]: transport failure: connection reset", te.Error())

	se := NewSynthesisError("openai-audio", CodeEmpty, "no choices in response", nil, false)
	assert.Equal(t, "openai-audio synthesis error [empty]: no choices in response", se.Error())

	de := &ChannelDeliveryError{Channel: "telegram", Op: "send_voice", Cause: cause}
	assert.ErrorIs(t, de, cause)
	assert.Contains(t, de.Error(), "send_voice")

	ce := &ConfigurationError{Key: "TELEGRAM_TOKEN", Message: "missing"}
	assert.Equal(t, "configuration error: TELEGRAM_TOKEN: missing", ce.Error())
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"retryable transcription", NewTranscriptionError("p", CodeTimeout, "", nil, true), true},
		{"permanent synthesis", NewSynthesisError("p", CodeUpstream, "", nil, false), false},
		{"wrapped typed error", fmt.Errorf("stt: %w", NewSynthesisError("p", CodeTransport, "", nil, true)), true},
		{"deadline", context.DeadlineExceeded, true},
		{"canceled", context.Canceled, false},
		{"net error", &net.OpError{Op: "dial", Err: errors.New("refused")}, true},
		{"plain", errors.New("bad request"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestIsRetryableStatus(t *testing.T) {
	for _, status := range []int{408, 409, 429, 500, 502, 503} {
		assert.True(t, IsRetryableStatus(status), status)
	}
	for _, status := range []int{400, 401, 403, 404, 413} {
		assert.False(t, IsRetryableStatus(status), status)
	}
}

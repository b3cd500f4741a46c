package core

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Error codes shared by gateway errors.
const (
	CodeEmpty       = "empty"        // upstream returned nothing usable
	CodeTimeout     = "timeout"      // per-call deadline exceeded
	CodeTransport   = "transport"    // connection level failure
	CodeUpstream    = "upstream"     // upstream answered with an error status
	CodeBadAudio    = "bad_audio"    // audio payload could not be decoded
	CodeInvalid     = "invalid"      // request rejected before leaving the process
	CodeStore       = "store"        // session store failure during the exchange
	CodeRateLimited = "rate_limited" // upstream throttled the request
)

// TranscriptionError reports that speech-to-text failed or produced no text.
type TranscriptionError struct {
	Provider  string
	Code      string
	Message   string
	Cause     error
	Retryable bool
}

// NewTranscriptionError creates a new TranscriptionError.
func NewTranscriptionError(provider, code, message string, cause error, retryable bool) *TranscriptionError {
	return &TranscriptionError{
		Provider:  provider,
		Code:      code,
		Message:   message,
		Cause:     cause,
		Retryable: retryable,
	}
}

func (e *TranscriptionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s transcription error [%s]: %s: %v", e.Provider, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s transcription error [%s]: %s", e.Provider, e.Code, e.Message)
}

func (e *TranscriptionError) Unwrap() error {
	return e.Cause
}

// SynthesisError reports that the generation call failed, timed out or
// returned an unusable payload.
type SynthesisError struct {
	Provider  string
	Code      string
	Message   string
	Cause     error
	Retryable bool
}

// NewSynthesisError creates a new SynthesisError.
func NewSynthesisError(provider, code, message string, cause error, retryable bool) *SynthesisError {
	return &SynthesisError{
		Provider:  provider,
		Code:      code,
		Message:   message,
		Cause:     cause,
		Retryable: retryable,
	}
}

func (e *SynthesisError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s synthesis error [%s]: %s: %v", e.Provider, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s synthesis error [%s]: %s", e.Provider, e.Code, e.Message)
}

func (e *SynthesisError) Unwrap() error {
	return e.Cause
}

// ConfigurationError is fatal: the process must not start.
type ConfigurationError struct {
	Key     string
	Message string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s: %s", e.Key, e.Message)
}

// ChannelDeliveryError reports a failure to deliver a reply through the chat
// platform. It never rolls back history.
type ChannelDeliveryError struct {
	Channel string
	Op      string
	Cause   error
}

func (e *ChannelDeliveryError) Error() string {
	return fmt.Sprintf("%s delivery failed (%s): %v", e.Channel, e.Op, e.Cause)
}

func (e *ChannelDeliveryError) Unwrap() error {
	return e.Cause
}

// IsRetryable reports whether err is a transient gateway failure worth another attempt.
// Typed gateway errors decide for themselves; otherwise timeouts and network
// errors are transient and everything else is not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var te *TranscriptionError
	if errors.As(err, &te) {
		return te.Retryable
	}
	var se *SynthesisError
	if errors.As(err, &se) {
		return se.Retryable
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// IsRetryableStatus classifies an upstream HTTP status code.
func IsRetryableStatus(status int) bool {
	switch {
	case status == 408, status == 409, status == 429:
		return true
	case status >= 500:
		return true
	default:
		return false
	}
}

package stt

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"

	"voicerelay/core"
)

const providerName = "openai-whisper"

// WhisperSTTService transcribes whole voice messages with the OpenAI audio
// transcription endpoint.
type WhisperSTTService struct {
	client   *openai.Client
	model    string
	language string
	prompt   string
	logger   *core.Logger
}

// Config holds the configuration for the Whisper service
type Config struct {
	APIKey   string `json:"api_key"`  // Usually injected from OPENAI_API_KEY.
	BaseURL  string `json:"base_url"` // Optional, for OpenAI-compatible endpoints.
	Model    string `json:"model"`    // Defaults to whisper-1.
	Language string `json:"language"` // ISO-639-1 hint, empty lets the model detect it.
	Prompt   string `json:"prompt"`   // Optional vocabulary hint.
}

func DefaultConfig() Config {
	return Config{Model: openai.Whisper1}
}

// NewWhisperSTTService creates a new Whisper backed transcription service
func NewWhisperSTTService(config Config, logger *core.Logger) *WhisperSTTService {
	if logger == nil {
		logger = core.GetLogger()
	}
	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}
	model := config.Model
	if model == "" {
		model = openai.Whisper1
	}
	return &WhisperSTTService{
		client:   openai.NewClientWithConfig(clientConfig),
		model:    model,
		language: config.Language,
		prompt:   config.Prompt,
		logger:   logger.With(map[string]interface{}{"service": providerName}),
	}
}

func (s *WhisperSTTService) Name() string {
	return providerName
}

// Transcribe uploads the audio as-is. The filename extension tells the
// endpoint which container it is receiving.
func (s *WhisperSTTService) Transcribe(ctx context.Context, audio []byte, filename string) (string, error) {
	if filename == "" {
		filename = "voice.ogg"
	}

	resp, err := s.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    s.model,
		FilePath: filename,
		Reader:   bytes.NewReader(audio),
		Language: s.language,
		Prompt:   s.prompt,
		Format:   openai.AudioResponseFormatText,
	})
	if err != nil {
		return "", classifyError(err)
	}

	s.logger.Debug("Transcription received", "chars", len(resp.Text))
	return strings.TrimSpace(resp.Text), nil
}

func classifyError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return statusError(apiErr.HTTPStatusCode, apiErr.Message, err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return statusError(reqErr.HTTPStatusCode, reqErr.HTTPStatus, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return core.NewTranscriptionError(providerName, core.CodeTimeout, "transcription timed out", err, true)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return core.NewTranscriptionError(providerName, core.CodeTransport, "transport failure", err, true)
	}
	return core.NewTranscriptionError(providerName, core.CodeUpstream, "transcription request failed", err, false)
}

func statusError(status int, message string, err error) error {
	code := core.CodeUpstream
	if status == http.StatusTooManyRequests {
		code = core.CodeRateLimited
	}
	return core.NewTranscriptionError(providerName, code, fmt.Sprintf("status %d: %s", status, message), err, core.IsRetryableStatus(status))
}

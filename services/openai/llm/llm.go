package llm

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"voicerelay/core"
)

const providerName = "openai-audio"

// OpenAIAudioService implements the SynthesisService interface using an
// OpenAI chat model with audio output. Text and audio come back in one
// response.
type OpenAIAudioService struct {
	client openai.Client
	model  string
	voice  openai.ChatCompletionAudioParamVoice
	format openai.ChatCompletionAudioParamFormat
	logger *core.Logger
}

// Config holds the configuration for OpenAI service
type Config struct {
	APIKey  string `json:"api_key"`  // Usually injected from OPENAI_API_KEY.
	BaseURL string `json:"base_url"` // Optional, for OpenAI-compatible endpoints.
	Model   string `json:"model"`    // Defaults to gpt-4o-audio-preview.
	Voice   string `json:"voice"`    // alloy, ash, ballad, coral, echo, sage, shimmer or verse.
	Format  string `json:"format"`   // wav, mp3, flac, opus or pcm16.
}

func DefaultConfig() Config {
	return Config{
		Model:  openai.ChatModelGPT4oAudioPreview,
		Voice:  string(openai.ChatCompletionAudioParamVoiceAlloy),
		Format: string(openai.ChatCompletionAudioParamFormatWAV),
	}
}

// NewOpenAIAudioService creates a new instance of OpenAIAudioService. The SDK's
// own retries are disabled; the gateway handler owns the retry policy.
func NewOpenAIAudioService(config Config, logger *core.Logger) *OpenAIAudioService {
	if logger == nil {
		logger = core.GetLogger()
	}
	defaults := DefaultConfig()
	if config.Model == "" {
		config.Model = defaults.Model
	}
	if config.Voice == "" {
		config.Voice = defaults.Voice
	}
	if config.Format == "" {
		config.Format = defaults.Format
	}

	opts := []option.RequestOption{
		option.WithAPIKey(config.APIKey),
		option.WithMaxRetries(0),
	}
	if config.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(config.BaseURL))
	}

	return &OpenAIAudioService{
		client: openai.NewClient(opts...),
		model:  config.Model,
		voice:  openai.ChatCompletionAudioParamVoice(config.Voice),
		format: openai.ChatCompletionAudioParamFormat(config.Format),
		logger: logger.With(map[string]interface{}{"service": providerName, "model": config.Model}),
	}
}

func (s *OpenAIAudioService) Name() string {
	return providerName
}

// Synthesize performs one chat completion with modalities text and audio.
func (s *OpenAIAudioService) Synthesize(ctx context.Context, messages []core.Message) (core.Synthesis, error) {
	params := openai.ChatCompletionNewParams{
		Model:      s.model,
		Messages:   convertMessages(messages),
		Modalities: []string{"text", "audio"},
		Audio: openai.ChatCompletionAudioParam{
			Voice:  s.voice,
			Format: s.format,
		},
	}

	start := time.Now()
	completion, err := s.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return core.Synthesis{}, classifyError(err)
	}
	if len(completion.Choices) == 0 {
		return core.Synthesis{}, core.NewSynthesisError(providerName, core.CodeEmpty, "no choices in response", nil, false)
	}

	message := completion.Choices[0].Message
	if message.Refusal != "" {
		s.logger.Warn("Model refused the request", "refusal", message.Refusal)
	}

	data, err := base64.StdEncoding.DecodeString(message.Audio.Data)
	if err != nil {
		return core.Synthesis{}, core.NewSynthesisError(providerName, core.CodeBadAudio, "audio is not valid base64", err, false)
	}

	// With audio output the spoken text usually lives in the transcript and
	// the content is empty.
	text := strings.TrimSpace(message.Content)
	if text == "" {
		text = strings.TrimSpace(message.Audio.Transcript)
	}

	s.logger.Debug("Synthesis received",
		"chars", len(text), "audio_bytes", len(data), "latency", time.Since(start))

	return core.Synthesis{
		Text:   text,
		Audio:  data,
		Format: core.AudioFormat(s.format),
	}, nil
}

func convertMessages(messages []core.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case core.RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case core.RoleAssistant:
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}

func classifyError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		code := core.CodeUpstream
		if apiErr.StatusCode == http.StatusTooManyRequests {
			code = core.CodeRateLimited
		}
		return core.NewSynthesisError(providerName, code, fmt.Sprintf("status %d: %s", apiErr.StatusCode, apiErr.Message), err, core.IsRetryableStatus(apiErr.StatusCode))
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return core.NewSynthesisError(providerName, core.CodeTimeout, "synthesis timed out", err, true)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return core.NewSynthesisError(providerName, core.CodeTransport, "transport failure", err, true)
	}
	return core.NewSynthesisError(providerName, core.CodeUpstream, "synthesis request failed", err, false)
}

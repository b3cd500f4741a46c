package factories

import (
	"errors"

	"voicerelay/core"
	stthandler "voicerelay/handlers/stt"
	openaistt "voicerelay/services/openai/stt"
)

// STTFactoryConfig holds provider-specific configs for transcription service construction.
// Set exactly one provider config; the rest should be left nil.
// Groq serves Whisper behind the OpenAI-compatible protocol and uses the same
// service with a custom base URL.
type STTFactoryConfig struct {
	OpenAIConfig *openaistt.Config `json:"openai,omitempty"`
	GroqConfig   *openaistt.Config `json:"groq,omitempty"`
}

const (
	groqBaseURL      = "https://api.groq.com/openai/v1"
	groqWhisperModel = "whisper-large-v3"
)

// BuildSTTService constructs a TranscriptionService from the given factory config.
func BuildSTTService(config STTFactoryConfig, logger *core.Logger) (stthandler.TranscriptionService, error) {
	if config.OpenAIConfig != nil {
		if config.OpenAIConfig.APIKey == "" {
			return nil, &core.ConfigurationError{Key: "OPENAI_API_KEY", Message: "openai transcription needs an api key"}
		}
		return openaistt.NewWhisperSTTService(*config.OpenAIConfig, logger), nil
	}
	if config.GroqConfig != nil {
		cfg := *config.GroqConfig
		if cfg.APIKey == "" {
			return nil, &core.ConfigurationError{Key: "GROQ_API_KEY", Message: "groq transcription needs an api key"}
		}
		if cfg.BaseURL == "" {
			cfg.BaseURL = groqBaseURL
		}
		if cfg.Model == "" {
			cfg.Model = groqWhisperModel
		}
		return openaistt.NewWhisperSTTService(cfg, logger), nil
	}
	return nil, errors.New("STTFactoryConfig: no provider config specified")
}

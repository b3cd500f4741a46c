package factories

import (
	"errors"

	"voicerelay/core"
	llmhandler "voicerelay/handlers/llm"
	openaillm "voicerelay/services/openai/llm"
)

// LLMFactoryConfig holds provider-specific configs for synthesis service construction.
// Only OpenAI chat models return text and audio in one response; BaseURL can
// point the same service at Azure or a compatible proxy.
type LLMFactoryConfig struct {
	OpenAIConfig *openaillm.Config `json:"openai,omitempty"`
}

// BuildSynthesisService constructs a SynthesisService from the given factory config.
func BuildSynthesisService(config LLMFactoryConfig, logger *core.Logger) (llmhandler.SynthesisService, error) {
	if config.OpenAIConfig != nil {
		if config.OpenAIConfig.APIKey == "" {
			return nil, &core.ConfigurationError{Key: "OPENAI_API_KEY", Message: "openai synthesis needs an api key"}
		}
		return openaillm.NewOpenAIAudioService(*config.OpenAIConfig, logger), nil
	}
	return nil, errors.New("LLMFactoryConfig: no provider config specified")
}

package llm

import (
	"time"

	"voicerelay/core"
	"voicerelay/utils/retry"
)

type LLMHandlerConfig struct {
	Timeout core.Duration `json:"timeout"` // Deadline for a single synthesis attempt. Audio replies are slow, so keep this generous.
	Retry   retry.Config  `json:"-"`       // Filled from the shared retry section of the settings.
}

func DefaultConfig() LLMHandlerConfig {
	return LLMHandlerConfig{
		Timeout: core.Duration(60 * time.Second),
		Retry:   retry.DefaultConfig(),
	}
}

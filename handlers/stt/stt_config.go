package stt

import (
	"time"

	"voicerelay/core"
	"voicerelay/utils/retry"
)

type STTConfig struct {
	Timeout core.Duration `json:"timeout"` // Deadline for a single transcription attempt, e.g. "30s".
	Retry   retry.Config  `json:"-"`       // Filled from the shared retry section of the settings.
}

func DefaultConfig() STTConfig {
	return STTConfig{
		Timeout: core.Duration(30 * time.Second),
		Retry:   retry.DefaultConfig(),
	}
}

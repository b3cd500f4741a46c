package channel

import (
	"time"

	"voicerelay/core"
)

type ChannelConfig struct {
	TextNoticePath  string        `json:"text_notice_path"` // Pre-recorded voice note sent in reply to text messages.
	ExchangeTimeout core.Duration `json:"exchange_timeout"` // Upper bound for one voice exchange end to end, retries included.
}

func DefaultConfig() ChannelConfig {
	return ChannelConfig{
		TextNoticePath:  "text-auth-detected.ogg",
		ExchangeTimeout: core.Duration(3 * time.Minute),
	}
}

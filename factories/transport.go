package factories

import (
	"context"
	"fmt"

	"voicerelay/core"
	"voicerelay/transports/telegram"
	"voicerelay/transports/websocket"
)

// Transport modes selectable with -mode or transport.mode.
const (
	ModeTelegram  = "telegram"
	ModeWebSocket = "websocket"
)

// TransportProvider is a channel that runs until its context is cancelled.
type TransportProvider interface {
	Run(ctx context.Context) error
}

// TransportFactoryConfig selects and configures the chat channel.
type TransportFactoryConfig struct {
	Mode      string                    `json:"mode"` // telegram (default) or websocket.
	Telegram  telegram.Config           `json:"telegram"`
	WebSocket websocket.WebSocketConfig `json:"websocket"`
}

// ProviderKeys holds credentials for transport providers.
type ProviderKeys struct {
	TelegramToken string
}

// DefaultTransportFactoryConfig returns the Telegram channel with defaults for both providers.
func DefaultTransportFactoryConfig() TransportFactoryConfig {
	return TransportFactoryConfig{
		Mode:      ModeTelegram,
		Telegram:  telegram.DefaultConfig(),
		WebSocket: websocket.DefaultConfig(),
	}
}

// InjectProviderKeys applies credentials only when the config has none.
func (c *TransportFactoryConfig) InjectProviderKeys(keys ProviderKeys) {
	if c.Telegram.Token == "" {
		c.Telegram.Token = keys.TelegramToken
	}
}

// GetProvider constructs the transport selected by Mode, feeding its events to handler.
func (c TransportFactoryConfig) GetProvider(handler telegram.EventHandler, logger *core.Logger) (TransportProvider, error) {
	switch c.Mode {
	case "", ModeTelegram:
		svc, err := telegram.NewTelegramService(c.Telegram, handler, logger)
		if err != nil {
			return nil, err
		}
		return svc, nil
	case ModeWebSocket:
		return websocket.NewServer(c.WebSocket, handler, logger), nil
	default:
		return nil, &core.ConfigurationError{Key: "transport.mode", Message: fmt.Sprintf("unknown mode %q", c.Mode)}
	}
}

package telegram

// Config holds the configuration for the Telegram bot channel
type Config struct {
	// Bot token from BotFather. Usually injected from TELEGRAM_TOKEN.
	Token string `json:"-"`

	// Bot API server, for a self-hosted Bot API or tests
	ServerURL string `json:"server_url"`

	// Drop updates queued while the bot was offline
	DropPendingUpdates bool `json:"drop_pending_updates"`

	// Largest voice file downloaded, in bytes. The hosted Bot API caps downloads at 20 MB.
	MaxFileBytes int64 `json:"max_file_bytes"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() Config {
	return Config{
		DropPendingUpdates: true,
		MaxFileBytes:       20 << 20,
	}
}

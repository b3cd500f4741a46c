package factories

import (
	"fmt"
	"os"

	"github.com/bytedance/sonic"

	"voicerelay/metrics"
)

// SettingsConfig is the top-level config loaded from settings.json.
type SettingsConfig struct {
	// Transport selects and configures the chat channel.
	Transport TransportFactoryConfig `json:"transport"`
	// Session configures the gateways, history, persona and channel policy.
	Session SessionConfig `json:"session_config"`
	// Metrics configures the Prometheus exporter.
	Metrics metrics.MetricsConfig `json:"metrics"`
}

// DefaultSettingsConfig returns a SettingsConfig pre-filled with provider defaults.
func DefaultSettingsConfig() SettingsConfig {
	return SettingsConfig{
		Transport: DefaultTransportFactoryConfig(),
		Session:   DefaultSessionConfig(),
	}
}

// SettingsConfigFromJSON parses a JSON blob into a SettingsConfig, starting
// from DefaultSettingsConfig so that absent fields keep their defaults.
func SettingsConfigFromJSON(data []byte) (SettingsConfig, error) {
	cfg := DefaultSettingsConfig()
	if err := sonic.Unmarshal(data, &cfg); err != nil {
		return SettingsConfig{}, fmt.Errorf("settings: %w", err)
	}
	return cfg, nil
}

// SettingsConfigFromFile reads and parses a SettingsConfig from a JSON file.
func SettingsConfigFromFile(path string) (SettingsConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return DefaultSettingsConfig(), fmt.Errorf("settings: read %q: %w", path, err)
	}
	return SettingsConfigFromJSON(data)
}

// InjectKeys applies credentials from the environment to every section.
func (c *SettingsConfig) InjectKeys(keys APIKeys) {
	c.Transport.InjectProviderKeys(ProviderKeys{TelegramToken: keys.TelegramToken})
	c.Session.InjectAPIKeys(keys)
}

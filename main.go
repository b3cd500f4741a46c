package main

import (
	"context"
	"encoding/base64"
	"errors"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"voicerelay/core"
	"voicerelay/factories"
)

func main() {
	var mode, settingsPath string
	flag.StringVar(&mode, "mode", "", "Channel to serve: telegram or websocket (overrides transport.mode)")
	flag.StringVar(&settingsPath, "settings", "", "Path to settings.json (default $SETTINGS_PATH or ./settings.json)")
	flag.Parse()

	for _, file := range []string{".env.local", ".env"} {
		if err := godotenv.Load(file); err != nil {
			core.GetLogger().Debug("No env file loaded", "file", file)
		}
	}
	core.SetLogger(loggerFromEnv())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, mode, settingsPath); err != nil {
		var cfgErr *core.ConfigurationError
		if errors.As(err, &cfgErr) {
			core.GetLogger().Error("Invalid configuration, not starting", "key", cfgErr.Key, "error", cfgErr.Message)
		} else {
			core.GetLogger().Error("Relay failed", "error", err)
		}
		os.Exit(1)
	}
	core.GetLogger().Info("Shut down cleanly")
}

func run(ctx context.Context, mode, settingsPath string) error {
	logger := core.GetLogger()

	settings := loadSettings(settingsPath)
	if mode != "" {
		settings.Transport.Mode = mode
	}
	settings.InjectKeys(factories.APIKeys{
		OpenAI:        getEnv("OPENAI_API_KEY", ""),
		Groq:          getEnv("GROQ_API_KEY", ""),
		TelegramToken: getEnv("TELEGRAM_TOKEN", ""),
		RedisURL:      getEnv("REDIS_URL", ""),
	})
	if addr := getEnv("METRICS_ADDR", ""); addr != "" {
		settings.Metrics.Addr = addr
	}

	handlers, err := settings.Session.BuildHandlers(ctx, getEnv("PERSONA_SECRET", ""), logger)
	if err != nil {
		return err
	}

	provider, err := settings.Transport.GetProvider(handlers.Channel, logger)
	if err != nil {
		handlers.Close()
		return err
	}

	logger.Info("Starting relay", "mode", settings.Transport.Mode)
	return factories.NewPipeline(provider, handlers, logger).
		WithMetrics(settings.Metrics).
		Serve(ctx)
}

// loadSettings reads settings from SETTINGS_JSON_B64, then the settings file,
// falling back to defaults. A missing file is not an error.
func loadSettings(path string) factories.SettingsConfig {
	logger := core.GetLogger()

	if b64 := os.Getenv("SETTINGS_JSON_B64"); b64 != "" {
		data, err := base64.StdEncoding.DecodeString(b64)
		if err != nil {
			logger.Error("Failed to decode SETTINGS_JSON_B64, using defaults", "error", err)
			return factories.DefaultSettingsConfig()
		}
		settings, err := factories.SettingsConfigFromJSON(data)
		if err != nil {
			logger.Error("Failed to parse SETTINGS_JSON_B64, using defaults", "error", err)
			return factories.DefaultSettingsConfig()
		}
		logger.Info("Loaded settings from SETTINGS_JSON_B64")
		return settings
	}

	if path == "" {
		path = getEnv("SETTINGS_PATH", "./settings.json")
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		logger.Info("No settings file, using defaults", "path", path)
		return factories.DefaultSettingsConfig()
	}
	settings, err := factories.SettingsConfigFromFile(path)
	if err != nil {
		logger.Warn("Failed to load settings, using defaults", "path", path, "error", err)
		return factories.DefaultSettingsConfig()
	}
	logger.Info("Loaded settings", "path", path)
	return settings
}

// loggerFromEnv builds the process logger from LOG_LEVEL and LOG_FORMAT.
func loggerFromEnv() *core.Logger {
	level := core.ParseLevel(getEnv("LOG_LEVEL", "info"))
	if strings.EqualFold(getEnv("LOG_FORMAT", ""), "json") {
		return core.NewJSONLogger(os.Stdout, level)
	}
	return core.NewDevelopmentLogger(os.Stdout, level)
}

// getEnv gets an environment variable with a default fallback
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

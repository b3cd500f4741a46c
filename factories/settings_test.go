package factories

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voicerelay/core"
	"voicerelay/handlers/history"
	openaistt "voicerelay/services/openai/stt"
	"voicerelay/transports/telegram"
	"voicerelay/transports/websocket"
)

func TestDefaultSettingsConfig(t *testing.T) {
	cfg := DefaultSettingsConfig()

	assert.Equal(t, ModeTelegram, cfg.Transport.Mode)
	assert.True(t, cfg.Transport.Telegram.DropPendingUpdates)
	require.NotNil(t, cfg.Session.STT.ServiceConfig.OpenAIConfig)
	assert.Equal(t, "whisper-1", cfg.Session.STT.ServiceConfig.OpenAIConfig.Model)
	require.NotNil(t, cfg.Session.LLM.ServiceConfig.OpenAIConfig)
	assert.Equal(t, "gpt-4o-audio-preview", cfg.Session.LLM.ServiceConfig.OpenAIConfig.Model)
	assert.Equal(t, history.BackendMemory, cfg.Session.History.Backend)
	assert.Equal(t, 40, cfg.Session.History.MaxTurns)
	assert.Equal(t, 2, cfg.Session.Retry.MaxRetries)
	assert.Empty(t, cfg.Metrics.Addr)
}

func TestSettingsConfigFromJSON_OverlaysDefaults(t *testing.T) {
	data := []byte(`{
		"transport": {"mode": "websocket", "websocket": {"addr": ":9999"}},
		"session_config": {
			"stt": {"handler": {"timeout": "45s"}, "service": {"openai": {"language": "en"}}},
			"llm": {"service": {"openai": {"voice": "verse", "format": "opus"}}},
			"retry": {"max_retries": 4, "initial_interval": "250ms"},
			"history": {"backend": "redis", "max_turns": 10, "ttl": "72h"},
			"channel": {"exchange_timeout": "90s"},
			"turn": {"persona": {"name": "archivist", "prompt": "You keep records."}}
		},
		"metrics": {"addr": ":9090"}
	}`)

	cfg, err := SettingsConfigFromJSON(data)
	require.NoError(t, err)

	assert.Equal(t, ModeWebSocket, cfg.Transport.Mode)
	assert.Equal(t, ":9999", cfg.Transport.WebSocket.Addr)
	assert.Equal(t, "/ws", cfg.Transport.WebSocket.Path)

	assert.Equal(t, 45*time.Second, cfg.Session.STT.HandlerConfig.Timeout.Duration())
	assert.Equal(t, "en", cfg.Session.STT.ServiceConfig.OpenAIConfig.Language)

	llm := cfg.Session.LLM.ServiceConfig.OpenAIConfig
	require.NotNil(t, llm)
	assert.Equal(t, "verse", llm.Voice)
	assert.Equal(t, "opus", llm.Format)
	assert.Equal(t, 60*time.Second, cfg.Session.LLM.HandlerConfig.Timeout.Duration())

	assert.Equal(t, 4, cfg.Session.Retry.MaxRetries)
	assert.Equal(t, 250*time.Millisecond, cfg.Session.Retry.InitialInterval.Duration())

	assert.Equal(t, history.BackendRedis, cfg.Session.History.Backend)
	assert.Equal(t, 10, cfg.Session.History.MaxTurns)
	assert.Equal(t, 72*time.Hour, cfg.Session.History.TTL.Duration())
	assert.Equal(t, "voicerelay", cfg.Session.History.KeyPrefix)

	assert.Equal(t, 90*time.Second, cfg.Session.Channel.ExchangeTimeout.Duration())
	require.NotNil(t, cfg.Session.Turn.Persona)
	assert.Equal(t, "archivist", cfg.Session.Turn.Persona.Name)
	assert.Equal(t, ":9090", cfg.Metrics.Addr)
}

func TestSettingsConfigFromJSON_Invalid(t *testing.T) {
	_, err := SettingsConfigFromJSON([]byte(`{"transport":`))
	assert.Error(t, err)
}

func TestSettingsConfigFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"metrics": {"addr": ":9100"}}`), 0o600))

	cfg, err := SettingsConfigFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, ":9100", cfg.Metrics.Addr)

	cfg, err = SettingsConfigFromFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
	assert.Equal(t, ModeTelegram, cfg.Transport.Mode)
}

func TestInjectKeys_KeepsConfiguredValues(t *testing.T) {
	cfg := DefaultSettingsConfig()
	cfg.Session.LLM.ServiceConfig.OpenAIConfig.APIKey = "from-file"
	cfg.Session.STT.FallbackServiceConfigs = []STTFactoryConfig{{GroqConfig: &openaistt.Config{}}}

	cfg.InjectKeys(APIKeys{
		OpenAI:        "sk-env",
		Groq:          "gsk-env",
		TelegramToken: "123:abc",
		RedisURL:      "redis://localhost:6379/0",
	})

	assert.Equal(t, "sk-env", cfg.Session.STT.ServiceConfig.OpenAIConfig.APIKey)
	assert.Equal(t, "from-file", cfg.Session.LLM.ServiceConfig.OpenAIConfig.APIKey)
	assert.Equal(t, "gsk-env", cfg.Session.STT.FallbackServiceConfigs[0].GroqConfig.APIKey)
	assert.Equal(t, "123:abc", cfg.Transport.Telegram.Token)
	assert.Equal(t, "redis://localhost:6379/0", cfg.Session.History.RedisURL)
}

func TestBuildHandlers(t *testing.T) {
	cfg := DefaultSessionConfig()
	cfg.InjectAPIKeys(APIKeys{OpenAI: "sk-test"})

	handlers, err := cfg.BuildHandlers(context.Background(), "ALPHA-7", core.NewNopLogger())
	require.NoError(t, err)
	defer handlers.Close()

	assert.NotNil(t, handlers.STT)
	assert.NotNil(t, handlers.LLM)
	assert.NotNil(t, handlers.Turn)
	assert.NotNil(t, handlers.Channel)
	assert.IsType(t, &history.MemoryStore{}, handlers.Store)
	assert.Contains(t, handlers.Turn.Persona().SystemPrompt(), "ALPHA-7")
}

func TestBuildHandlers_ConfigurationErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*SessionConfig)
		secret string
		key    string
	}{
		{
			name:   "missing openai key",
			mutate: func(c *SessionConfig) {},
			secret: "ALPHA-7",
			key:    "OPENAI_API_KEY",
		},
		{
			name:   "missing persona secret",
			mutate: func(c *SessionConfig) { c.InjectAPIKeys(APIKeys{OpenAI: "sk-test"}) },
			key:    "PERSONA_SECRET",
		},
		{
			name: "redis without url",
			mutate: func(c *SessionConfig) {
				c.InjectAPIKeys(APIKeys{OpenAI: "sk-test"})
				c.History.Backend = history.BackendRedis
			},
			secret: "ALPHA-7",
			key:    "REDIS_URL",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultSessionConfig()
			tt.mutate(&cfg)

			_, err := cfg.BuildHandlers(context.Background(), tt.secret, core.NewNopLogger())
			var cfgErr *core.ConfigurationError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tt.key, cfgErr.Key)
		})
	}
}

func TestBuildHistoryStore(t *testing.T) {
	ctx := context.Background()
	logger := core.NewNopLogger()

	t.Run("memory", func(t *testing.T) {
		store, closeFn, err := BuildHistoryStore(ctx, history.DefaultConfig(), logger)
		require.NoError(t, err)
		assert.Nil(t, closeFn)
		assert.IsType(t, &history.MemoryStore{}, store)
	})

	t.Run("redis", func(t *testing.T) {
		mr := miniredis.RunT(t)
		cfg := history.DefaultConfig()
		cfg.Backend = history.BackendRedis
		cfg.RedisURL = "redis://" + mr.Addr() + "/0"

		store, closeFn, err := BuildHistoryStore(ctx, cfg, logger)
		require.NoError(t, err)
		require.NotNil(t, closeFn)
		defer closeFn()

		require.NoError(t, store.Append(ctx, 7, core.UserTurn("hi"), core.AssistantTurn("hello")))
		assert.True(t, mr.Exists("voicerelay:session:7"))
	})

	t.Run("redis unreachable", func(t *testing.T) {
		mr := miniredis.RunT(t)
		addr := mr.Addr()
		mr.Close()

		cfg := history.DefaultConfig()
		cfg.Backend = history.BackendRedis
		cfg.RedisURL = "redis://" + addr
		_, _, err := BuildHistoryStore(ctx, cfg, logger)
		require.Error(t, err)
		var cfgErr *core.ConfigurationError
		assert.False(t, errors.As(err, &cfgErr))
	})

	t.Run("bad url", func(t *testing.T) {
		cfg := history.DefaultConfig()
		cfg.Backend = history.BackendRedis
		cfg.RedisURL = "http://not-redis"
		_, _, err := BuildHistoryStore(ctx, cfg, logger)
		var cfgErr *core.ConfigurationError
		require.ErrorAs(t, err, &cfgErr)
		assert.Equal(t, "REDIS_URL", cfgErr.Key)
	})

	t.Run("unknown backend", func(t *testing.T) {
		cfg := history.DefaultConfig()
		cfg.Backend = "sqlite"
		_, _, err := BuildHistoryStore(ctx, cfg, logger)
		var cfgErr *core.ConfigurationError
		require.ErrorAs(t, err, &cfgErr)
		assert.Equal(t, "history.backend", cfgErr.Key)
	})
}

func TestGetProvider(t *testing.T) {
	handler := &nopEventHandler{}
	logger := core.NewNopLogger()

	cfg := DefaultTransportFactoryConfig()
	cfg.Mode = ModeWebSocket
	provider, err := cfg.GetProvider(handler, logger)
	require.NoError(t, err)
	assert.IsType(t, &websocket.Server{}, provider)

	cfg = DefaultTransportFactoryConfig()
	_, err = cfg.GetProvider(handler, logger)
	var cfgErr *core.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "TELEGRAM_TOKEN", cfgErr.Key)

	cfg.InjectProviderKeys(ProviderKeys{TelegramToken: "123:abc"})
	provider, err = cfg.GetProvider(handler, logger)
	require.NoError(t, err)
	assert.IsType(t, &telegram.TelegramService{}, provider)

	cfg.Mode = "carrier-pigeon"
	_, err = cfg.GetProvider(handler, logger)
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "transport.mode", cfgErr.Key)
}

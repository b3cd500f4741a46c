package factories

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"voicerelay/core"
	"voicerelay/handlers/channel"
	"voicerelay/handlers/history"
	llmhandler "voicerelay/handlers/llm"
	stthandler "voicerelay/handlers/stt"
	"voicerelay/handlers/turn"
	openaillm "voicerelay/services/openai/llm"
	openaistt "voicerelay/services/openai/stt"
	"voicerelay/utils/retry"
)

// SessionSTTConfig bundles STT handler config with primary and optional fallback service factory configs.
type SessionSTTConfig struct {
	// HandlerConfig controls the per-attempt deadline.
	HandlerConfig stthandler.STTConfig `json:"handler"`
	// ServiceConfig selects and configures the primary transcription provider.
	ServiceConfig STTFactoryConfig `json:"service"`
	// FallbackServiceConfigs is an ordered list of fallback providers tried if the primary fails.
	FallbackServiceConfigs []STTFactoryConfig `json:"fallbacks,omitempty"`
}

// DefaultSessionSTTConfig returns Whisper on OpenAI with default handler settings.
func DefaultSessionSTTConfig() SessionSTTConfig {
	whisper := openaistt.DefaultConfig()
	return SessionSTTConfig{
		HandlerConfig: stthandler.DefaultConfig(),
		ServiceConfig: STTFactoryConfig{OpenAIConfig: &whisper},
	}
}

// BuildHandler constructs an STTHandler with primary and fallback services wired up.
func (c SessionSTTConfig) BuildHandler(policy retry.Config, logger *core.Logger) (*stthandler.STTHandler, error) {
	primary, err := BuildSTTService(c.ServiceConfig, logger)
	if err != nil {
		return nil, fmt.Errorf("stt primary service: %w", err)
	}
	var backups []stthandler.TranscriptionService
	for i, fbCfg := range c.FallbackServiceConfigs {
		fb, err := BuildSTTService(fbCfg, logger)
		if err != nil {
			return nil, fmt.Errorf("stt fallback[%d]: %w", i, err)
		}
		backups = append(backups, fb)
	}
	cfg := c.HandlerConfig
	cfg.Retry = policy
	return stthandler.NewSTTHandler(primary, backups, cfg, logger), nil
}

// SessionLLMConfig bundles synthesis handler config with primary and optional fallback service factory configs.
type SessionLLMConfig struct {
	HandlerConfig          llmhandler.LLMHandlerConfig `json:"handler"`
	ServiceConfig          LLMFactoryConfig            `json:"service"`
	FallbackServiceConfigs []LLMFactoryConfig          `json:"fallbacks,omitempty"`
}

// DefaultSessionLLMConfig returns gpt-4o-audio-preview with default handler settings.
func DefaultSessionLLMConfig() SessionLLMConfig {
	audio := openaillm.DefaultConfig()
	return SessionLLMConfig{
		HandlerConfig: llmhandler.DefaultConfig(),
		ServiceConfig: LLMFactoryConfig{OpenAIConfig: &audio},
	}
}

// BuildHandler constructs an LLMHandler with primary and fallback services wired up.
func (c SessionLLMConfig) BuildHandler(policy retry.Config, logger *core.Logger) (*llmhandler.LLMHandler, error) {
	primary, err := BuildSynthesisService(c.ServiceConfig, logger)
	if err != nil {
		return nil, fmt.Errorf("llm primary service: %w", err)
	}
	var backups []llmhandler.SynthesisService
	for i, fbCfg := range c.FallbackServiceConfigs {
		fb, err := BuildSynthesisService(fbCfg, logger)
		if err != nil {
			return nil, fmt.Errorf("llm fallback[%d]: %w", i, err)
		}
		backups = append(backups, fb)
	}
	cfg := c.HandlerConfig
	cfg.Retry = policy
	return llmhandler.NewLLMHandler(primary, backups, cfg, logger), nil
}

// SessionConfig is the configuration of everything behind the channel: both
// gateways, the session store, the persona and the channel policy.
type SessionConfig struct {
	STT     SessionSTTConfig      `json:"stt"`
	LLM     SessionLLMConfig      `json:"llm"`
	Retry   retry.Config          `json:"retry"`
	History history.HistoryConfig `json:"history"`
	Turn    turn.TurnConfig       `json:"turn"`
	Channel channel.ChannelConfig `json:"channel"`
}

// DefaultSessionConfig returns a SessionConfig pre-filled with defaults for
// every component. Credentials still need InjectAPIKeys.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		STT:     DefaultSessionSTTConfig(),
		LLM:     DefaultSessionLLMConfig(),
		Retry:   retry.DefaultConfig(),
		History: history.DefaultConfig(),
		Channel: channel.DefaultConfig(),
	}
}

// APIKeys holds credentials read from the environment so that secrets are
// never stored in config files.
type APIKeys struct {
	OpenAI        string // OPENAI_API_KEY, for Whisper and the audio chat model.
	Groq          string // GROQ_API_KEY, for Groq hosted Whisper.
	TelegramToken string // TELEGRAM_TOKEN
	RedisURL      string // REDIS_URL, for the redis history backend.
	PersonaSecret string // PERSONA_SECRET, substituted into the persona prompt.
}

// InjectAPIKeys applies credentials to every configured provider, primary and
// fallbacks. Values already present in the config are kept.
func (c *SessionConfig) InjectAPIKeys(keys APIKeys) {
	injectSTTKeys(&c.STT.ServiceConfig, keys)
	for i := range c.STT.FallbackServiceConfigs {
		injectSTTKeys(&c.STT.FallbackServiceConfigs[i], keys)
	}

	injectLLMKeys(&c.LLM.ServiceConfig, keys)
	for i := range c.LLM.FallbackServiceConfigs {
		injectLLMKeys(&c.LLM.FallbackServiceConfigs[i], keys)
	}

	if c.History.RedisURL == "" {
		c.History.RedisURL = keys.RedisURL
	}
}

func injectSTTKeys(cfg *STTFactoryConfig, keys APIKeys) {
	if cfg.OpenAIConfig != nil && cfg.OpenAIConfig.APIKey == "" {
		cfg.OpenAIConfig.APIKey = keys.OpenAI
	}
	if cfg.GroqConfig != nil && cfg.GroqConfig.APIKey == "" {
		cfg.GroqConfig.APIKey = keys.Groq
	}
}

func injectLLMKeys(cfg *LLMFactoryConfig, keys APIKeys) {
	if cfg.OpenAIConfig != nil && cfg.OpenAIConfig.APIKey == "" {
		cfg.OpenAIConfig.APIKey = keys.OpenAI
	}
}

// SessionHandlers holds the assembled relay. Channel is what transports feed
// events into.
type SessionHandlers struct {
	STT     *stthandler.STTHandler
	LLM     *llmhandler.LLMHandler
	Store   history.Store
	Turn    *turn.TurnHandler
	Channel *channel.ChannelHandler

	closers []func() error
}

// Close releases the session store connection, if any.
func (h *SessionHandlers) Close() error {
	var firstErr error
	for _, closeFn := range h.closers {
		if err := closeFn(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// BuildHandlers constructs every handler described by the SessionConfig.
// Configuration problems are returned as *core.ConfigurationError.
func (c SessionConfig) BuildHandlers(ctx context.Context, personaSecret string, logger *core.Logger) (*SessionHandlers, error) {
	if logger == nil {
		logger = core.GetLogger()
	}

	persona, err := c.Turn.ResolvePersona(personaSecret)
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}

	sttHandler, err := c.STT.BuildHandler(c.Retry, logger)
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}

	llmHandler, err := c.LLM.BuildHandler(c.Retry, logger)
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}

	handlers := &SessionHandlers{STT: sttHandler, LLM: llmHandler}

	store, closeStore, err := BuildHistoryStore(ctx, c.History, logger)
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	handlers.Store = store
	if closeStore != nil {
		handlers.closers = append(handlers.closers, closeStore)
	}

	handlers.Turn = turn.NewTurnHandler(sttHandler, llmHandler, store, persona, logger)
	handlers.Channel = channel.NewChannelHandler(handlers.Turn, persona, c.Channel, logger)

	logger.Info("Session handlers built",
		"persona", persona.Name, "history_backend", string(c.History.Backend), "max_turns", c.History.MaxTurns)
	return handlers, nil
}

// BuildHistoryStore constructs the configured session store. The returned
// close function is nil for stores that hold no connection.
func BuildHistoryStore(ctx context.Context, cfg history.HistoryConfig, logger *core.Logger) (history.Store, func() error, error) {
	switch cfg.Backend {
	case "", history.BackendMemory:
		return history.NewMemoryStore(cfg.MaxTurns), nil, nil

	case history.BackendRedis:
		if cfg.RedisURL == "" {
			return nil, nil, &core.ConfigurationError{Key: "REDIS_URL", Message: "redis history backend needs a url"}
		}
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, nil, &core.ConfigurationError{Key: "REDIS_URL", Message: err.Error()}
		}
		store := history.NewRedisStore(redis.NewClient(opts),
			history.WithPrefix(cfg.KeyPrefix),
			history.WithMaxTurns(cfg.MaxTurns),
			history.WithTTL(cfg.TTL.Duration()),
		)
		if err := store.Ping(ctx); err != nil {
			_ = store.Close()
			return nil, nil, fmt.Errorf("history: redis unreachable: %w", err)
		}
		logger.Info("Connected to redis session store", "addr", opts.Addr, "db", opts.DB)
		return store, store.Close, nil

	default:
		return nil, nil, &core.ConfigurationError{Key: "history.backend", Message: fmt.Sprintf("unknown backend %q", cfg.Backend)}
	}
}

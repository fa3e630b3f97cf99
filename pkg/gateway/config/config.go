// Package config loads gateway configuration from the environment.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// LLM provider selection.
const (
	LLMProviderOpenAI = "openai"
	LLMProviderGemini = "gemini"
)

type Config struct {
	Addr string

	// PublicBaseURL is the externally reachable https base of this
	// gateway; the media-stream wss URL is derived from it.
	PublicBaseURL string

	// StreamTokenSecret signs the single-use tokens that authenticate
	// incoming media streams.
	StreamTokenSecret string
	StreamTokenTTL    time.Duration
	TokenSweepEvery   time.Duration

	// Internal function API (calendar tools). Both must be set for
	// calendar tools to be offered to the model.
	InternalAPIBaseURL string
	InternalAPISecret  string

	// DatabaseURL selects the postgres store; empty falls back to the
	// in-memory store (development only).
	DatabaseURL string

	// TwilioAuthToken enables webhook signature verification when set.
	// Together with TwilioAccountSID it also enables live-call transfer
	// through the provider's REST API.
	TwilioAuthToken  string
	TwilioAccountSID string

	// MaxConcurrentCalls rejects new calls above the cap; 0 is unlimited.
	MaxConcurrentCalls int

	LLMProvider  string
	LLMModel     string
	OpenAIAPIKey string
	GeminiAPIKey string

	DeepgramAPIKey string
	STTModel       string
	UtteranceEndMS int

	ElevenLabsAPIKey string
	VoiceID          string

	OrganizationID string
	AssistantID    string

	SystemPrompt string
	Greeting     string

	// TestCallMode simulates calendar writes instead of mutating real
	// bookings.
	TestCallMode bool

	// StreamLLM enables sentence-streamed replies.
	StreamLLM bool

	MaxTurnPairs int
	TurnTimeout  time.Duration

	WSWriteTimeout      time.Duration
	WSReadTimeout       time.Duration
	MaxWSMessageBytes   int64
	ReadHeaderTimeout   time.Duration
	ShutdownGracePeriod time.Duration
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                envOr("VOXLINE_ADDR", ":8080"),
		PublicBaseURL:       envOr("VOXLINE_PUBLIC_BASE_URL", ""),
		StreamTokenSecret:   envOr("VOXLINE_STREAM_TOKEN_SECRET", ""),
		StreamTokenTTL:      envDurationOr("VOXLINE_STREAM_TOKEN_TTL", 30*time.Second),
		TokenSweepEvery:     envDurationOr("VOXLINE_TOKEN_SWEEP_INTERVAL", 10*time.Second),
		InternalAPIBaseURL:  envOr("VOXLINE_INTERNAL_API_BASE_URL", ""),
		InternalAPISecret:   envOr("VOXLINE_INTERNAL_API_SECRET", ""),
		DatabaseURL:         envOr("VOXLINE_DATABASE_URL", ""),
		TwilioAuthToken:     envOr("VOXLINE_TWILIO_AUTH_TOKEN", ""),
		TwilioAccountSID:    envOr("VOXLINE_TWILIO_ACCOUNT_SID", ""),
		MaxConcurrentCalls:  envIntOr("VOXLINE_MAX_CONCURRENT_CALLS", 0),
		LLMProvider:         strings.ToLower(envOr("VOXLINE_LLM_PROVIDER", LLMProviderOpenAI)),
		LLMModel:            envOr("VOXLINE_LLM_MODEL", "gpt-4o-mini"),
		OpenAIAPIKey:        envOr("VOXLINE_OPENAI_API_KEY", ""),
		GeminiAPIKey:        envOr("VOXLINE_GEMINI_API_KEY", ""),
		DeepgramAPIKey:      envOr("VOXLINE_DEEPGRAM_API_KEY", ""),
		STTModel:            envOr("VOXLINE_STT_MODEL", "nova-2"),
		UtteranceEndMS:      envIntOr("VOXLINE_STT_UTTERANCE_END_MS", 1200),
		ElevenLabsAPIKey:    envOr("VOXLINE_ELEVENLABS_API_KEY", ""),
		VoiceID:             envOr("VOXLINE_VOICE_ID", ""),
		OrganizationID:      envOr("VOXLINE_ORGANIZATION_ID", ""),
		AssistantID:         envOr("VOXLINE_ASSISTANT_ID", ""),
		SystemPrompt:        envOr("VOXLINE_SYSTEM_PROMPT", "You are a friendly phone receptionist. Keep replies short and conversational. Expand numbers and abbreviations for speech."),
		Greeting:            envOr("VOXLINE_GREETING", "Thanks for calling. How can I help you today?"),
		TestCallMode:        envBoolOr("VOXLINE_TEST_CALL_MODE", false),
		StreamLLM:           envBoolOr("VOXLINE_STREAM_LLM", true),
		MaxTurnPairs:        envIntOr("VOXLINE_MAX_TURN_PAIRS", 10),
		TurnTimeout:         envDurationOr("VOXLINE_TURN_TIMEOUT", 8*time.Second),
		WSWriteTimeout:      envDurationOr("VOXLINE_WS_WRITE_TIMEOUT", 5*time.Second),
		WSReadTimeout:       envDurationOr("VOXLINE_WS_READ_TIMEOUT", 0),
		MaxWSMessageBytes:   envInt64Or("VOXLINE_WS_MAX_MESSAGE_BYTES", 64*1024),
		ReadHeaderTimeout:   envDurationOr("VOXLINE_READ_HEADER_TIMEOUT", 10*time.Second),
		ShutdownGracePeriod: envDurationOr("VOXLINE_SHUTDOWN_GRACE_PERIOD", 20*time.Second),
	}

	if cfg.PublicBaseURL == "" {
		return Config{}, fmt.Errorf("VOXLINE_PUBLIC_BASE_URL must be set")
	}
	if u, err := url.Parse(cfg.PublicBaseURL); err != nil || u.Host == "" {
		return Config{}, fmt.Errorf("VOXLINE_PUBLIC_BASE_URL must be a valid absolute URL")
	}
	cfg.PublicBaseURL = strings.TrimRight(cfg.PublicBaseURL, "/")

	if cfg.StreamTokenSecret == "" {
		return Config{}, fmt.Errorf("VOXLINE_STREAM_TOKEN_SECRET must be set")
	}
	if cfg.StreamTokenTTL <= 0 {
		return Config{}, fmt.Errorf("VOXLINE_STREAM_TOKEN_TTL must be > 0")
	}
	if cfg.TokenSweepEvery <= 0 {
		return Config{}, fmt.Errorf("VOXLINE_TOKEN_SWEEP_INTERVAL must be > 0")
	}

	switch cfg.LLMProvider {
	case LLMProviderOpenAI:
		if cfg.OpenAIAPIKey == "" {
			return Config{}, fmt.Errorf("VOXLINE_OPENAI_API_KEY must be set when VOXLINE_LLM_PROVIDER=openai")
		}
	case LLMProviderGemini:
		if cfg.GeminiAPIKey == "" {
			return Config{}, fmt.Errorf("VOXLINE_GEMINI_API_KEY must be set when VOXLINE_LLM_PROVIDER=gemini")
		}
	default:
		return Config{}, fmt.Errorf("VOXLINE_LLM_PROVIDER must be one of openai|gemini")
	}

	if cfg.DeepgramAPIKey == "" {
		return Config{}, fmt.Errorf("VOXLINE_DEEPGRAM_API_KEY must be set")
	}
	if cfg.ElevenLabsAPIKey == "" {
		return Config{}, fmt.Errorf("VOXLINE_ELEVENLABS_API_KEY must be set")
	}
	if cfg.VoiceID == "" {
		return Config{}, fmt.Errorf("VOXLINE_VOICE_ID must be set")
	}

	if (cfg.InternalAPIBaseURL == "") != (cfg.InternalAPISecret == "") {
		return Config{}, fmt.Errorf("VOXLINE_INTERNAL_API_BASE_URL and VOXLINE_INTERNAL_API_SECRET must be set together")
	}

	if cfg.MaxConcurrentCalls < 0 {
		return Config{}, fmt.Errorf("VOXLINE_MAX_CONCURRENT_CALLS must be >= 0")
	}
	if cfg.UtteranceEndMS <= 0 {
		return Config{}, fmt.Errorf("VOXLINE_STT_UTTERANCE_END_MS must be > 0")
	}
	if cfg.MaxTurnPairs <= 0 {
		return Config{}, fmt.Errorf("VOXLINE_MAX_TURN_PAIRS must be > 0")
	}
	if cfg.TurnTimeout <= 0 {
		return Config{}, fmt.Errorf("VOXLINE_TURN_TIMEOUT must be > 0")
	}
	if cfg.WSWriteTimeout <= 0 {
		return Config{}, fmt.Errorf("VOXLINE_WS_WRITE_TIMEOUT must be > 0")
	}
	if cfg.WSReadTimeout < 0 {
		return Config{}, fmt.Errorf("VOXLINE_WS_READ_TIMEOUT must be >= 0")
	}
	if cfg.MaxWSMessageBytes <= 0 {
		return Config{}, fmt.Errorf("VOXLINE_WS_MAX_MESSAGE_BYTES must be > 0")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("VOXLINE_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("VOXLINE_SHUTDOWN_GRACE_PERIOD must be > 0")
	}

	return cfg, nil
}

// MediaStreamURL derives the wss endpoint the telephony provider
// connects its media stream to.
func (c Config) MediaStreamURL() string {
	base := c.PublicBaseURL
	base = strings.Replace(base, "https://", "wss://", 1)
	base = strings.Replace(base, "http://", "ws://", 1)
	return base + "/media"
}

// CalendarToolsEnabled reports whether the internal function API is
// configured.
func (c Config) CalendarToolsEnabled() bool {
	return c.InternalAPIBaseURL != "" && c.InternalAPISecret != ""
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envInt64Or(key string, def int64) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envBoolOr(key string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	switch strings.ToLower(raw) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	case "0", "false", "f", "no", "n", "off":
		return false
	default:
		return def
	}
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}

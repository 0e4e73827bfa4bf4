package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the avatar bridge service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string

	LiveKitURL       string
	LiveKitAPIKey    string
	LiveKitAPISecret string

	AvatarAPIBaseURL string
	AvatarAPIKey     string
	DefaultAvatarID  string

	// StartPolicy decides when the avatar session is requested after the
	// bridge joins a room: "track-gated" waits for the coach audio track,
	// "immediate" fires as soon as the room connection is up.
	StartPolicy string

	CoachTrackName       string
	CoachIdentityPrefix  string
	BridgeIdentityPrefix string

	ConnectTimeout    time.Duration
	AvatarCallTimeout time.Duration
	TokenTTL          time.Duration

	// AvatarMaxRetries is a hardening knob for the avatar-service call.
	// 0 keeps the single-attempt behavior.
	AvatarMaxRetries int
	// AvatarStatusCheckDelay schedules a single delayed status probe after a
	// session is created. 0 disables it.
	AvatarStatusCheckDelay time.Duration
}

const (
	PolicyTrackGated = "track-gated"
	PolicyImmediate  = "immediate"
)

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:             envOrDefault("APP_BIND_ADDR", ":3000"),
		MetricsNamespace:     envOrDefault("APP_METRICS_NAMESPACE", "avatarbridge"),
		LiveKitURL:           trimmedEnv("LIVEKIT_URL"),
		LiveKitAPIKey:        trimmedEnv("LIVEKIT_API_KEY"),
		LiveKitAPISecret:     trimmedEnv("LIVEKIT_API_SECRET"),
		AvatarAPIBaseURL:     envOrDefault("AVATAR_API_BASE_URL", "https://api.bey.dev"),
		AvatarAPIKey:         trimmedEnv("AVATAR_API_KEY"),
		DefaultAvatarID:      trimmedEnv("AVATAR_DEFAULT_ID"),
		StartPolicy:          envOrDefault("BRIDGE_START_POLICY", PolicyTrackGated),
		CoachTrackName:       envOrDefault("BRIDGE_COACH_TRACK_NAME", "coach-voice"),
		CoachIdentityPrefix:  envOrDefault("BRIDGE_COACH_IDENTITY_PREFIX", "seller-"),
		BridgeIdentityPrefix: envOrDefault("BRIDGE_AGENT_IDENTITY_PREFIX", "bridge-"),
		ShutdownTimeout:      15 * time.Second,
		ConnectTimeout:       10 * time.Second,
		AvatarCallTimeout:    15 * time.Second,
		TokenTTL:             time.Hour,
		AvatarMaxRetries:     0,
	}
	if cfg.LiveKitURL == "" {
		// The hosted deployments set either name.
		cfg.LiveKitURL = trimmedEnv("LIVEKIT_WS_URL")
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.ConnectTimeout, err = durationFromEnv("BRIDGE_CONNECT_TIMEOUT", cfg.ConnectTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AvatarCallTimeout, err = durationFromEnv("BRIDGE_AVATAR_CALL_TIMEOUT", cfg.AvatarCallTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.TokenTTL, err = durationFromEnv("BRIDGE_TOKEN_TTL", cfg.TokenTTL)
	if err != nil {
		return Config{}, err
	}
	cfg.AvatarStatusCheckDelay, err = durationFromEnv("BRIDGE_AVATAR_STATUS_CHECK_DELAY", 0)
	if err != nil {
		return Config{}, err
	}
	cfg.AvatarMaxRetries, err = intFromEnv("BRIDGE_AVATAR_MAX_RETRIES", cfg.AvatarMaxRetries)
	if err != nil {
		return Config{}, err
	}

	switch cfg.StartPolicy {
	case PolicyTrackGated, PolicyImmediate:
	default:
		return Config{}, fmt.Errorf("BRIDGE_START_POLICY must be %q or %q", PolicyTrackGated, PolicyImmediate)
	}
	if cfg.ConnectTimeout <= 0 {
		return Config{}, fmt.Errorf("BRIDGE_CONNECT_TIMEOUT must be positive")
	}
	if cfg.AvatarCallTimeout <= 0 {
		return Config{}, fmt.Errorf("BRIDGE_AVATAR_CALL_TIMEOUT must be positive")
	}
	if cfg.TokenTTL < time.Minute {
		return Config{}, fmt.Errorf("BRIDGE_TOKEN_TTL must be at least 1m")
	}
	if cfg.AvatarMaxRetries < 0 {
		return Config{}, fmt.Errorf("BRIDGE_AVATAR_MAX_RETRIES must be >= 0")
	}
	if cfg.AvatarStatusCheckDelay < 0 {
		return Config{}, fmt.Errorf("BRIDGE_AVATAR_STATUS_CHECK_DELAY must be >= 0")
	}

	return cfg, nil
}

// BridgeReady reports whether the settings required to start sessions are
// present. The health endpoint stays up either way; only session starts are
// disabled when this returns an error.
func (c Config) BridgeReady() error {
	var missing []string
	if c.LiveKitURL == "" {
		missing = append(missing, "LIVEKIT_URL")
	}
	if c.LiveKitAPIKey == "" {
		missing = append(missing, "LIVEKIT_API_KEY")
	}
	if c.LiveKitAPISecret == "" {
		missing = append(missing, "LIVEKIT_API_SECRET")
	}
	if c.AvatarAPIKey == "" {
		missing = append(missing, "AVATAR_API_KEY")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing configuration: %s", strings.Join(missing, ", "))
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func trimmedEnv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := trimmedEnv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := trimmedEnv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

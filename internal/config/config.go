package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

type Config struct {
	APIBaseURL       string
	SocketURL        string
	StateFile        string
	LivenessInterval time.Duration
	TypingIdle       time.Duration
	TypingStale      time.Duration
	TypingThrottle   time.Duration
	HTTPTimeout      time.Duration
	ReconnectMax     int
	InspectPort      int
	InspectToken     string
	Token            string
	GinMode          string
	LogLevel         string
}

type Env interface {
	Getenv(key string) string
}

type osEnv struct{}

func (osEnv) Getenv(key string) string { return os.Getenv(key) }

func LoadConfig() (Config, error) {
	return LoadConfigFromEnv(osEnv{})
}

func LoadConfigFromEnv(env Env) (Config, error) {
	cfg := Config{
		APIBaseURL:       "http://localhost:5000/api",
		LivenessInterval: 30 * time.Second,
		TypingIdle:       2 * time.Second,
		TypingStale:      5 * time.Second,
		TypingThrottle:   time.Second,
		HTTPTimeout:      15 * time.Second,
		ReconnectMax:     5,
		GinMode:          "release",
		LogLevel:         "info",
	}

	if raw := env.Getenv("API_BASE_URL"); raw != "" {
		cfg.APIBaseURL = raw
	}
	base, err := url.Parse(cfg.APIBaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return Config{}, fmt.Errorf("invalid API_BASE_URL")
	}

	cfg.SocketURL = env.Getenv("SOCKET_URL")
	if cfg.SocketURL == "" {
		cfg.SocketURL = base.Scheme + "://" + base.Host
	}

	cfg.StateFile = env.Getenv("STATE_FILE")
	if cfg.StateFile == "" {
		home := env.Getenv("HOME")
		if home == "" {
			home = "."
		}
		cfg.StateFile = filepath.Join(home, ".chatsync", "state.json")
	}

	if cfg.LivenessInterval, err = durationFromEnv(env, "LIVENESS_INTERVAL_SECONDS", time.Second, cfg.LivenessInterval); err != nil {
		return Config{}, err
	}
	if cfg.TypingIdle, err = durationFromEnv(env, "TYPING_IDLE_MS", time.Millisecond, cfg.TypingIdle); err != nil {
		return Config{}, err
	}
	if cfg.TypingStale, err = durationFromEnv(env, "TYPING_STALE_MS", time.Millisecond, cfg.TypingStale); err != nil {
		return Config{}, err
	}
	if cfg.TypingThrottle, err = durationFromEnv(env, "TYPING_THROTTLE_MS", time.Millisecond, cfg.TypingThrottle); err != nil {
		return Config{}, err
	}
	if cfg.HTTPTimeout, err = durationFromEnv(env, "HTTP_TIMEOUT_SECONDS", time.Second, cfg.HTTPTimeout); err != nil {
		return Config{}, err
	}

	if raw := env.Getenv("CHANNEL_RECONNECT_MAX"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return Config{}, fmt.Errorf("invalid CHANNEL_RECONNECT_MAX")
		}
		cfg.ReconnectMax = n
	}

	if raw := env.Getenv("INSPECT_PORT"); raw != "" {
		port, err := strconv.Atoi(raw)
		if err != nil || port < 0 || port > 65535 {
			return Config{}, fmt.Errorf("invalid INSPECT_PORT")
		}
		cfg.InspectPort = port
	}

	cfg.InspectToken = env.Getenv("INSPECT_TOKEN")
	cfg.Token = env.Getenv("CHATSYNC_TOKEN")

	if raw := env.Getenv("GIN_MODE"); raw != "" {
		cfg.GinMode = raw
	}
	if raw := env.Getenv("LOG_LEVEL"); raw != "" {
		cfg.LogLevel = raw
	}

	return cfg, nil
}

func durationFromEnv(env Env, key string, unit time.Duration, fallback time.Duration) (time.Duration, error) {
	raw := env.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return time.Duration(n) * unit, nil
}

package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	APIBaseURL     string
	RealtimeURL    string
	HostStateFile  string
	JoinCode       string
	RequestTimeout time.Duration
}

// Load reads configuration from the environment, with a best-effort .env
// file on top. Missing values fall back to local-dev defaults.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		APIBaseURL:     envOr("API_BASE_URL", "http://localhost:3000"),
		RealtimeURL:    envOr("REALTIME_URL", "ws://localhost:3000/ws"),
		HostStateFile:  envOr("HOST_STATE_FILE", ".gamenight-host.json"),
		JoinCode:       os.Getenv("JOIN_CODE"),
		RequestTimeout: envDuration("REQUEST_TIMEOUT_SEC", 10*time.Second),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs <= 0 {
		return fallback
	}
	return time.Duration(secs) * time.Second
}

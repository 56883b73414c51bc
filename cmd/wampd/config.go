package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/corvidlabs/wampd/router"
)

// websocketConfig holds the settings for the router's websocket listener.
type websocketConfig struct {
	Address              string  `json:"address"`
	CertFile             string  `json:"cert_file"`
	KeyFile              string  `json:"key_file"`
	EnableCompression    bool    `json:"enable_compression"`
	EnableTrackingCookie bool    `json:"enable_tracking_cookie"`
	OutQueueSize         int     `json:"out_queue_size"`
	MessageRateLimit     float64 `json:"message_rate_limit"`
	MessageBurst         int     `json:"message_burst"`
}

// rawSocketConfig holds the settings for the router's rawsocket listener.
type rawSocketConfig struct {
	TCPAddress   string        `json:"tcp_address"`
	UnixAddress  string        `json:"unix_address"`
	CertFile     string        `json:"cert_file"`
	KeyFile      string        `json:"key_file"`
	KeepAlive    time.Duration `json:"keep_alive"`
	RecvLimit    int           `json:"recv_limit"`
	OutQueueSize int           `json:"out_queue_size"`
}

// config is the top-level configuration for the wampd binary. Router holds
// the realm/authenticator settings consumed directly by router.NewRouter;
// everything else configures the two listeners and logging.
type config struct {
	WebSocket websocketConfig `json:"websocket"`
	RawSocket rawSocketConfig `json:"rawsocket"`
	LogLevel  string          `json:"log_level"`
	LogFormat string          `json:"log_format"`
	Router    router.Config   `json:"router"`
}

func defaultConfig() *config {
	return &config{
		WebSocket: websocketConfig{Address: "localhost:8080"},
		LogLevel:  "info",
		LogFormat: "json",
	}
}

// loadConfig reads a JSON configuration file, if path is non-empty, onto a
// set of defaults. CLI flags and environment variables are applied on top of
// this by the caller.
func loadConfig(path string) (*config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening config file: %w", err)
	}
	defer f.Close()
	dec := json.NewDecoder(f)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("decoding config file %s: %w", path, err)
	}
	return cfg, nil
}

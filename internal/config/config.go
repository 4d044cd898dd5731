// Package config loads notifyd settings from NOTIFY_* environment variables,
// optionally layered over a TOML file named by NOTIFY_CONFIG. Environment
// variables win over the file.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/alfredjeanlab/tasknotify/internal/auth"
)

// Relay backends.
const (
	RelayNATS  = "nats"
	RelayRedis = "redis"
	RelayLocal = "local"
)

type Config struct {
	JWTSecret    string        // NOTIFY_JWT_SECRET (required)
	HTTPAddr     string        // NOTIFY_HTTP_ADDR (default ":8001")
	GRPCAddr     string        // NOTIFY_GRPC_ADDR (default ":9091", "off" disables)
	AuthStrategy auth.Strategy // NOTIFY_AUTH_STRATEGY (default "header")
	AuthCookie   string        // NOTIFY_AUTH_COOKIE (default "access_token")
	AuthTimeout  time.Duration // NOTIFY_AUTH_TIMEOUT (default 5s)

	// Relay settings
	Relay         string        // NOTIFY_RELAY (nats, redis or local; default picks from the URLs below)
	NATSURL       string        // NOTIFY_NATS_URL
	RedisURL      string        // NOTIFY_REDIS_URL
	RelayChannel  string        // NOTIFY_RELAY_CHANNEL (default "tasknotify.relay")
	ReconnectWait time.Duration // NOTIFY_RELAY_RECONNECT_WAIT (default 1s)

	ServiceToken   string   // NOTIFY_SERVICE_TOKEN (optional, empty = event ingest disabled)
	DatabaseURL    string   // NOTIFY_DATABASE_URL (optional, empty = no audit log)
	AllowedOrigins []string // NOTIFY_ALLOWED_ORIGINS (comma separated; empty = same origin only)
	SendBuffer     int      // NOTIFY_SEND_BUFFER (default 64)
	LogLevel       slog.Level
}

// keys lists every recognised setting, without the NOTIFY_ prefix.
var keys = []string{
	"JWT_SECRET", "HTTP_ADDR", "GRPC_ADDR",
	"AUTH_STRATEGY", "AUTH_COOKIE", "AUTH_TIMEOUT",
	"RELAY", "NATS_URL", "REDIS_URL", "RELAY_CHANNEL", "RELAY_RECONNECT_WAIT",
	"SERVICE_TOKEN", "DATABASE_URL", "ALLOWED_ORIGINS", "SEND_BUFFER", "LOG_LEVEL",
}

// source resolves a setting from the environment, then the config file.
type source struct {
	file map[string]string
}

func (s source) get(key, fallback string) string {
	if v := os.Getenv("NOTIFY_" + key); v != "" {
		return v
	}
	if v, ok := s.file[key]; ok && v != "" {
		return v
	}
	return fallback
}

func Load() (*Config, error) {
	src := source{}
	if path := os.Getenv("NOTIFY_CONFIG"); path != "" {
		file, err := readFile(path)
		if err != nil {
			return nil, err
		}
		src.file = file
	}

	c := &Config{
		JWTSecret:    src.get("JWT_SECRET", ""),
		HTTPAddr:     src.get("HTTP_ADDR", ":8001"),
		GRPCAddr:     src.get("GRPC_ADDR", ":9091"),
		AuthCookie:   src.get("AUTH_COOKIE", auth.DefaultCookieName),
		NATSURL:      src.get("NATS_URL", ""),
		RedisURL:     src.get("REDIS_URL", ""),
		RelayChannel: src.get("RELAY_CHANNEL", "tasknotify.relay"),
		ServiceToken: src.get("SERVICE_TOKEN", ""),
		DatabaseURL:  src.get("DATABASE_URL", ""),
	}
	if c.JWTSecret == "" {
		return nil, fmt.Errorf("NOTIFY_JWT_SECRET is required")
	}
	if c.GRPCAddr == "off" {
		c.GRPCAddr = ""
	}

	strategy, err := auth.ParseStrategy(src.get("AUTH_STRATEGY", string(auth.StrategyHeader)))
	if err != nil {
		return nil, fmt.Errorf("NOTIFY_AUTH_STRATEGY: %w", err)
	}
	c.AuthStrategy = strategy

	if c.AuthTimeout, err = duration(src, "AUTH_TIMEOUT", "5s"); err != nil {
		return nil, err
	}
	if c.ReconnectWait, err = duration(src, "RELAY_RECONNECT_WAIT", "1s"); err != nil {
		return nil, err
	}

	if c.Relay, err = relayBackend(src.get("RELAY", ""), c.NATSURL, c.RedisURL); err != nil {
		return nil, err
	}

	for _, o := range strings.Split(src.get("ALLOWED_ORIGINS", ""), ",") {
		if o = strings.TrimSpace(o); o != "" {
			c.AllowedOrigins = append(c.AllowedOrigins, o)
		}
	}

	n, err := strconv.Atoi(src.get("SEND_BUFFER", "64"))
	if err != nil || n <= 0 {
		return nil, fmt.Errorf("NOTIFY_SEND_BUFFER: must be a positive integer")
	}
	c.SendBuffer = n

	if err := c.LogLevel.UnmarshalText([]byte(src.get("LOG_LEVEL", "info"))); err != nil {
		return nil, fmt.Errorf("NOTIFY_LOG_LEVEL: %w", err)
	}

	return c, nil
}

func duration(src source, key, fallback string) (time.Duration, error) {
	d, err := time.ParseDuration(src.get(key, fallback))
	if err != nil {
		return 0, fmt.Errorf("NOTIFY_%s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("NOTIFY_%s: must be positive", key)
	}
	return d, nil
}

func relayBackend(name, natsURL, redisURL string) (string, error) {
	switch strings.ToLower(name) {
	case "":
		switch {
		case natsURL != "":
			return RelayNATS, nil
		case redisURL != "":
			return RelayRedis, nil
		}
		return RelayLocal, nil
	case RelayNATS:
		if natsURL == "" {
			return "", fmt.Errorf("NOTIFY_RELAY=nats requires NOTIFY_NATS_URL")
		}
		return RelayNATS, nil
	case RelayRedis:
		if redisURL == "" {
			return "", fmt.Errorf("NOTIFY_RELAY=redis requires NOTIFY_REDIS_URL")
		}
		return RelayRedis, nil
	case RelayLocal:
		return RelayLocal, nil
	}
	return "", fmt.Errorf("NOTIFY_RELAY: unknown backend %q (must be nats, redis or local)", name)
}

// readFile decodes a flat TOML file whose keys are the lower-case setting
// names, e.g. http_addr = ":8001".
func readFile(path string) (map[string]string, error) {
	var raw map[string]any
	if _, err := toml.DecodeFile(path, &raw); err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	known := make(map[string]bool, len(keys))
	for _, k := range keys {
		known[k] = true
	}

	out := make(map[string]string, len(raw))
	var unknown []string
	for k, v := range raw {
		key := strings.ToUpper(k)
		if !known[key] {
			unknown = append(unknown, k)
			continue
		}
		switch x := v.(type) {
		case []any:
			parts := make([]string, len(x))
			for i, p := range x {
				parts[i] = fmt.Sprint(p)
			}
			out[key] = strings.Join(parts, ",")
		default:
			out[key] = fmt.Sprint(x)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, fmt.Errorf("reading config %s: unknown keys %s", path, strings.Join(unknown, ", "))
	}
	return out, nil
}

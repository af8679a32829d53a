// Package boot derives runtime settings from configuration and the environment.
package boot

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/disciple-tools/homescreen-apps/internal/config"
)

// RuntimeConfig holds parsed runtime settings.
// HTTP_ADDR, JWT_SECRET and MAGIC_LINK_BASE_URL override the file values.
type RuntimeConfig struct {
	JwtSecret    string
	JwtExpiresIn time.Duration
	ServerAddr   string
	Root         string
	BaseURL      string
}

// ProvideRuntimeConfig builds RuntimeConfig from the given config and applies env overrides.
func ProvideRuntimeConfig(cfg config.Config) (*RuntimeConfig, error) {
	ret := &RuntimeConfig{
		JwtSecret:  cfg.Auth.JWTSecret,
		ServerAddr: cfg.Server.Addr,
		Root:       strings.Trim(strings.TrimSpace(cfg.MagicLink.Root), "/"),
		BaseURL:    strings.TrimRight(strings.TrimSpace(cfg.MagicLink.BaseURL), "/"),
	}
	if value := os.Getenv("HTTP_ADDR"); value != "" {
		ret.ServerAddr = value
	}
	if value := os.Getenv("JWT_SECRET"); value != "" {
		ret.JwtSecret = value
	}
	if value := os.Getenv("MAGIC_LINK_BASE_URL"); value != "" {
		ret.BaseURL = strings.TrimRight(value, "/")
	}

	if strings.TrimSpace(ret.JwtSecret) == "" {
		return nil, errors.New("jwt secret is required")
	}
	expires, err := time.ParseDuration(cfg.Auth.JWTExpiresIn)
	if err != nil {
		return nil, fmt.Errorf("invalid jwt expires in: %w", err)
	}
	ret.JwtExpiresIn = expires
	if ret.Root == "" {
		ret.Root = config.DefaultRoot
	}
	return ret, nil
}

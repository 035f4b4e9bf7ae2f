// Package slack implements the plenario Slack bot: it listens for mentions
// and direct messages, runs the assistant pipeline over the warehouse, and
// posts the answers back as Slack blocks. The bot runs in Socket Mode during
// development and as an Events API HTTP endpoint in production.
package slack

import (
	"fmt"
	"os"
)

// Mode selects how the bot receives events from Slack.
type Mode string

const (
	ModeSocket Mode = "socket" // Socket Mode, for development
	ModeHTTP   Mode = "http"   // Events API over HTTP, for production
)

// Config holds all configuration for the Slack bot. LLM provider selection
// (LLM_PROVIDER, API keys) is handled by the assistant package when the
// pipeline is built, not here.
type Config struct {
	// Bot configuration
	BotToken      string
	AppToken      string
	SigningSecret string
	Mode          Mode
	BotUserID     string

	// Warehouse configuration
	DBPath string

	// Server configuration
	HTTPAddr    string
	MetricsAddr string

	// Feature flags
	Verbose     bool
	EnablePprof bool
}

// LoadFromEnv loads configuration from environment variables and flags.
// Flags take precedence over environment variables.
func LoadFromEnv(modeFlag, httpAddrFlag, metricsAddrFlag, dbFlag string, verbose, enablePprof bool) (*Config, error) {
	cfg := &Config{
		HTTPAddr:    httpAddrFlag,
		MetricsAddr: metricsAddrFlag,
		Verbose:     verbose,
		EnablePprof: enablePprof,
	}

	cfg.BotToken = os.Getenv("SLACK_BOT_TOKEN")
	if cfg.BotToken == "" {
		return nil, fmt.Errorf("SLACK_BOT_TOKEN is required")
	}

	cfg.Mode = Mode(modeFlag)
	if cfg.Mode == "" {
		// Auto-detect: socket mode if an app token is set, otherwise HTTP mode.
		if os.Getenv("SLACK_APP_TOKEN") != "" {
			cfg.Mode = ModeSocket
		} else {
			cfg.Mode = ModeHTTP
		}
	}

	if cfg.Mode != ModeSocket && cfg.Mode != ModeHTTP {
		return nil, fmt.Errorf("mode must be 'socket' or 'http', got: %s", cfg.Mode)
	}

	if cfg.Mode == ModeSocket {
		cfg.AppToken = os.Getenv("SLACK_APP_TOKEN")
		if cfg.AppToken == "" {
			return nil, fmt.Errorf("SLACK_APP_TOKEN is required for socket mode")
		}
	} else {
		cfg.SigningSecret = os.Getenv("SLACK_SIGNING_SECRET")
		if cfg.SigningSecret == "" {
			return nil, fmt.Errorf("SLACK_SIGNING_SECRET is required for HTTP mode")
		}
	}

	cfg.DBPath = dbFlag
	if cfg.DBPath == "" {
		cfg.DBPath = os.Getenv("WAREHOUSE_DB")
	}
	if cfg.DBPath == "" {
		return nil, fmt.Errorf("WAREHOUSE_DB is required (use --db flag or WAREHOUSE_DB env var)")
	}

	return cfg, nil
}

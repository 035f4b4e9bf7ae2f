package slack

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSlackLoadFromEnv(t *testing.T) {
	envVars := []string{
		"SLACK_BOT_TOKEN",
		"SLACK_APP_TOKEN",
		"SLACK_SIGNING_SECRET",
		"WAREHOUSE_DB",
	}

	originalEnv := map[string]string{}
	for _, key := range envVars {
		originalEnv[key] = os.Getenv(key)
		os.Unsetenv(key)
	}
	t.Cleanup(func() {
		for key, value := range originalEnv {
			if value != "" {
				os.Setenv(key, value)
			} else {
				os.Unsetenv(key)
			}
		}
	})

	tests := []struct {
		name            string
		setupEnv        func()
		modeFlag        string
		httpAddrFlag    string
		metricsAddrFlag string
		dbFlag          string
		verbose         bool
		enablePprof     bool
		wantErr         string
		checkConfig     func(*testing.T, *Config)
	}{
		{
			name: "socket mode with all required vars",
			setupEnv: func() {
				os.Setenv("SLACK_BOT_TOKEN", "xoxb-test")
				os.Setenv("SLACK_APP_TOKEN", "xapp-test")
				os.Setenv("WAREHOUSE_DB", "plenario.duckdb")
			},
			modeFlag: "socket",
			checkConfig: func(t *testing.T, cfg *Config) {
				require.Equal(t, ModeSocket, cfg.Mode)
				require.Equal(t, "xoxb-test", cfg.BotToken)
				require.Equal(t, "xapp-test", cfg.AppToken)
				require.Equal(t, "plenario.duckdb", cfg.DBPath)
			},
		},
		{
			name: "http mode with all required vars",
			setupEnv: func() {
				os.Setenv("SLACK_BOT_TOKEN", "xoxb-test")
				os.Setenv("SLACK_SIGNING_SECRET", "secret")
				os.Setenv("WAREHOUSE_DB", "plenario.duckdb")
			},
			modeFlag: "http",
			checkConfig: func(t *testing.T, cfg *Config) {
				require.Equal(t, ModeHTTP, cfg.Mode)
				require.Equal(t, "secret", cfg.SigningSecret)
			},
		},
		{
			name: "auto-detect socket mode from app token",
			setupEnv: func() {
				os.Setenv("SLACK_BOT_TOKEN", "xoxb-test")
				os.Setenv("SLACK_APP_TOKEN", "xapp-test")
				os.Setenv("WAREHOUSE_DB", "plenario.duckdb")
			},
			checkConfig: func(t *testing.T, cfg *Config) {
				require.Equal(t, ModeSocket, cfg.Mode)
			},
		},
		{
			name: "auto-detect http mode without app token",
			setupEnv: func() {
				os.Setenv("SLACK_BOT_TOKEN", "xoxb-test")
				os.Setenv("SLACK_SIGNING_SECRET", "secret")
				os.Setenv("WAREHOUSE_DB", "plenario.duckdb")
			},
			checkConfig: func(t *testing.T, cfg *Config) {
				require.Equal(t, ModeHTTP, cfg.Mode)
			},
		},
		{
			name:     "missing bot token",
			setupEnv: func() {},
			modeFlag: "socket",
			wantErr:  "SLACK_BOT_TOKEN is required",
		},
		{
			name: "missing app token for socket mode",
			setupEnv: func() {
				os.Setenv("SLACK_BOT_TOKEN", "xoxb-test")
				os.Setenv("WAREHOUSE_DB", "plenario.duckdb")
			},
			modeFlag: "socket",
			wantErr:  "SLACK_APP_TOKEN is required for socket mode",
		},
		{
			name: "missing signing secret for http mode",
			setupEnv: func() {
				os.Setenv("SLACK_BOT_TOKEN", "xoxb-test")
				os.Setenv("WAREHOUSE_DB", "plenario.duckdb")
			},
			modeFlag: "http",
			wantErr:  "SLACK_SIGNING_SECRET is required for HTTP mode",
		},
		{
			name: "missing warehouse db",
			setupEnv: func() {
				os.Setenv("SLACK_BOT_TOKEN", "xoxb-test")
				os.Setenv("SLACK_APP_TOKEN", "xapp-test")
			},
			modeFlag: "socket",
			wantErr:  "WAREHOUSE_DB is required",
		},
		{
			name: "db flag works without the env var",
			setupEnv: func() {
				os.Setenv("SLACK_BOT_TOKEN", "xoxb-test")
				os.Setenv("SLACK_APP_TOKEN", "xapp-test")
			},
			modeFlag: "socket",
			dbFlag:   "custom.duckdb",
			checkConfig: func(t *testing.T, cfg *Config) {
				require.Equal(t, "custom.duckdb", cfg.DBPath)
			},
		},
		{
			name: "db flag takes precedence over the env var",
			setupEnv: func() {
				os.Setenv("SLACK_BOT_TOKEN", "xoxb-test")
				os.Setenv("SLACK_APP_TOKEN", "xapp-test")
				os.Setenv("WAREHOUSE_DB", "plenario.duckdb")
			},
			modeFlag: "socket",
			dbFlag:   "custom.duckdb",
			checkConfig: func(t *testing.T, cfg *Config) {
				require.Equal(t, "custom.duckdb", cfg.DBPath)
			},
		},
		{
			name: "invalid mode",
			setupEnv: func() {
				os.Setenv("SLACK_BOT_TOKEN", "xoxb-test")
				os.Setenv("SLACK_APP_TOKEN", "xapp-test")
				os.Setenv("WAREHOUSE_DB", "plenario.duckdb")
			},
			modeFlag: "webhook",
			wantErr:  "mode must be 'socket' or 'http'",
		},
		{
			name: "flags are carried into the config",
			setupEnv: func() {
				os.Setenv("SLACK_BOT_TOKEN", "xoxb-test")
				os.Setenv("SLACK_APP_TOKEN", "xapp-test")
				os.Setenv("WAREHOUSE_DB", "plenario.duckdb")
			},
			modeFlag:        "socket",
			httpAddrFlag:    "0.0.0.0:3000",
			metricsAddrFlag: "0.0.0.0:8080",
			verbose:         true,
			enablePprof:     true,
			checkConfig: func(t *testing.T, cfg *Config) {
				require.Equal(t, "0.0.0.0:3000", cfg.HTTPAddr)
				require.Equal(t, "0.0.0.0:8080", cfg.MetricsAddr)
				require.True(t, cfg.Verbose)
				require.True(t, cfg.EnablePprof)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Not parallel: subtests mutate shared environment variables.
			for _, key := range envVars {
				os.Unsetenv(key)
			}
			tt.setupEnv()

			cfg, err := LoadFromEnv(tt.modeFlag, tt.httpAddrFlag, tt.metricsAddrFlag, tt.dbFlag, tt.verbose, tt.enablePprof)

			if tt.wantErr != "" {
				require.Error(t, err)
				require.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, cfg)
			if tt.checkConfig != nil {
				tt.checkConfig(t, cfg)
			}
		})
	}
}

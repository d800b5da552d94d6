package config

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/audioplayer/internal/app/player"
)

func writeConfig(t *testing.T, content string) afero.Fs {
	t.Helper()
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/etc/playerd/config.yaml", []byte(content), 0o644))
	return fs
}

func TestLoadFs_Defaults(t *testing.T) {
	fs := writeConfig(t, "server:\n  addr: \":9090\"\n")

	cfg, err := LoadFs(fs, "/etc/playerd/config.yaml")
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, 5, cfg.Server.ShutdownTimeoutSec)
	assert.Equal(t, EngineSim, cfg.Engine.Type)
	assert.Equal(t, 1000, cfg.Engine.IntervalMs)
	assert.Equal(t, 180000, cfg.Engine.Sim.DefaultDurationMs)
	assert.Equal(t, 50, cfg.Engine.Sim.SeekLatencyMs)
	assert.Equal(t, "JP", cfg.Spotify.Market)
	assert.Equal(t, player.DefaultOptions(), cfg.PlayerOptions())
}

func TestLoadFs_Full(t *testing.T) {
	fs := writeConfig(t, `
server:
  addr: "127.0.0.1:8080"
  control_token: "secret"
  hooks:
    on_started:
      - "echo started"
engine:
  type: sim
  interval_ms: 250
  sim:
    default_duration_ms: 60000
    catalog:
      /music/intro.mp3: 12000
player:
  options:
    autoDestroy: false
    category: Ambient
`)

	cfg, err := LoadFs(fs, "/etc/playerd/config.yaml")
	require.NoError(t, err)

	assert.Equal(t, "secret", cfg.Server.ControlToken)
	assert.Equal(t, []string{"echo started"}, cfg.Server.Hooks.OnStarted)
	assert.Empty(t, cfg.Server.Hooks.OnStopped)
	assert.Equal(t, 250, cfg.Engine.IntervalMs)
	assert.Equal(t, 12000, cfg.Engine.Sim.Catalog["/music/intro.mp3"])
	assert.Equal(t, player.Options{AutoDestroy: false, Category: player.CategoryAmbient}, cfg.PlayerOptions())
}

func TestLoadFs_EnvOverrides(t *testing.T) {
	t.Setenv("SPOTIFY_CLIENT_ID", "env-id")
	t.Setenv("SPOTIFY_CLIENT_SECRET", "env-secret")
	t.Setenv("SPOTIFY_REFRESH_TOKEN", "env-token")
	t.Setenv("SPOTIFY_DEVICE_ID", "env-device")
	t.Setenv("PLAYER_ENGINE", "spotify")
	t.Setenv("CONTROL_TOKEN", "env-control")
	fs := writeConfig(t, "spotify:\n  client_id: file-id\n")

	cfg, err := LoadFs(fs, "/etc/playerd/config.yaml")
	require.NoError(t, err)

	assert.Equal(t, EngineSpotify, cfg.Engine.Type)
	assert.Equal(t, "env-id", cfg.Spotify.ClientID)
	assert.Equal(t, "env-secret", cfg.Spotify.ClientSecret)
	assert.Equal(t, "env-token", cfg.Spotify.RefreshToken)
	assert.Equal(t, "env-device", cfg.Spotify.DeviceID)
	assert.Equal(t, "env-control", cfg.Server.ControlToken)
}

func TestLoadFs_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		errMsg  string
	}{
		{
			name:    "malformed yaml",
			content: "server: [",
			errMsg:  "failed to parse config file",
		},
		{
			name:    "unknown engine",
			content: "engine:\n  type: alsa\n",
			errMsg:  "Type",
		},
		{
			name:    "interval too small",
			content: "engine:\n  interval_ms: 10\n",
			errMsg:  "IntervalMs",
		},
		{
			name:    "spotify without credentials",
			content: "engine:\n  type: spotify\n",
			errMsg:  "spotify engine requires",
		},
		{
			name:    "bad market",
			content: "spotify:\n  market: JPN\n",
			errMsg:  "Market",
		},
		{
			name:    "bad player options",
			content: "player:\n  options:\n    category: Loud\n",
			errMsg:  "invalid player options",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := writeConfig(t, tt.content)
			_, err := LoadFs(fs, "/etc/playerd/config.yaml")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestLoadFs_MissingFile(t *testing.T) {
	_, err := LoadFs(afero.NewMemMapFs(), "/nope.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestDurations(t *testing.T) {
	assert.Equal(t, "250ms", EngineConfig{IntervalMs: 250}.Interval().String())
	assert.Equal(t, "5s", ServerConfig{ShutdownTimeoutSec: 5}.ShutdownTimeout().String())
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse(viper.New())
	require.NoError(t, err)

	assert.Equal(t, "8001", cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 2, cfg.Processing.Workers)
	assert.Equal(t, time.Hour, cfg.Download.TTL)
	assert.Equal(t, 5*time.Second, cfg.Processing.HeartbeatInterval)
	assert.Equal(t, time.Minute, cfg.Processing.StaleAfter)
	assert.Empty(t, cfg.Processing.RendererURL)
}

func TestParseFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "config.yaml")
	content := []byte("processing:\n  workers: 4\n  poll_interval: 500ms\ndatabase:\n  driver: postgres\n  dsn: host=db user=rig\n")
	require.NoError(t, os.WriteFile(file, content, 0o644))

	t.Setenv("RIGFORGE_DOWNLOAD_TTL", "15m")

	v := viper.New()
	v.SetConfigFile(file)
	BindEnv(v)
	require.NoError(t, v.ReadInConfig())

	cfg, err := Parse(v)
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Processing.Workers)
	assert.Equal(t, 500*time.Millisecond, cfg.Processing.PollInterval)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, 15*time.Minute, cfg.Download.TTL)
}

func TestParseRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  any
	}{
		{"unknown driver", "database.driver", "mongo"},
		{"no workers", "processing.workers", 0},
		{"stale shorter than heartbeat", "processing.stale_after", "6s"},
		{"empty secret", "jwt.secret", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := viper.New()
			v.Set(tt.key, tt.val)
			_, err := Parse(v)
			assert.Error(t, err)
		})
	}
}

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

func TestLoad_Defaults(t *testing.T) {
	v := viper.New()
	SetDefaults(v)

	cfg, err := Load(v)
	require.NoError(t, err)

	assert.Contains(t, cfg.Storage.Path, "varo.db")
	assert.InDelta(t, 0.9, cfg.Engine.RuleThreshold, 1e-9)
	assert.InDelta(t, 0.70, cfg.Engine.MinAccuracy, 1e-9)
	assert.Equal(t, time.Second, cfg.Scheduler.TickInterval)
	assert.Equal(t, 8, cfg.Scheduler.Workers)
	assert.InDelta(t, 2.0, cfg.Watchdog.ZScoreThreshold, 1e-9)
	assert.Equal(t, "127.0.0.1:8710", cfg.Server.Addr)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoad_OverridesDefaults(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	v.Set("engine.rule_threshold", 0.8)
	v.Set("watchdog.scan_every_n", 25)

	cfg, err := Load(v)
	require.NoError(t, err)
	assert.InDelta(t, 0.8, cfg.Engine.RuleThreshold, 1e-9)
	assert.Equal(t, 25, cfg.Watchdog.ScanEveryN)
}

func TestValidate_Rejections(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value any
	}{
		{"empty storage path", "storage.path", ""},
		{"rule threshold above one", "engine.rule_threshold", 1.5},
		{"negative min accuracy", "engine.min_accuracy", -0.1},
		{"zero alpha", "watchdog.alpha", 0.0},
		{"alpha above one", "watchdog.alpha", 1.2},
		{"negative zscore threshold", "watchdog.zscore_threshold", -2.0},
		{"zero tick interval", "scheduler.tick_interval", time.Duration(0)},
		{"zero workers", "scheduler.workers", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := viper.New()
			SetDefaults(v)
			v.Set(tt.key, tt.value)

			_, err := Load(v)
			require.Error(t, err)
		})
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	assert.Equal(t, home, ExpandPath("~"))
	assert.Equal(t, filepath.Join(home, "data", "varo.db"), ExpandPath("~/data/varo.db"))

	t.Setenv("VARO_TEST_DIR", "/var/lib/varo")
	assert.Equal(t, "/var/lib/varo/varo.db", ExpandPath("$VARO_TEST_DIR/varo.db"))

	assert.Equal(t, "/absolute/path.db", ExpandPath("/absolute/path.db"))
}

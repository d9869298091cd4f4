package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"splatgate/internal/analysis"
)

func TestDefaultsMatchEngine(t *testing.T) {
	cfg := defaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, analysis.DefaultThresholds(), cfg.Thresholds())
}

func TestLoadFileMissingReturnsDefaults(t *testing.T) {
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "absent.json"))
	require.NoError(t, err)
	assert.Equal(t, defaultConfig(), cfg)
}

func TestLoadFileJSONOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "splatgate.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"quality":{"threshold":80},"processing":{"parallel_jobs":6}}`), 0o644))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 80, cfg.Quality.Threshold)
	assert.Equal(t, 6, cfg.Processing.ParallelJobs)
	assert.Equal(t, 50.0, cfg.Quality.MinBrightness, "untouched keys keep defaults")
}

func TestLoadFileYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "splatgate.yaml")
	data := []byte("quality:\n  min_brightness: 60\nsuitability:\n  min_feature_count: 150\n  max_reflective_area: 20\npaths:\n  inbox: /srv/inbox\n")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	th := cfg.Thresholds()
	assert.Equal(t, 60.0, th.MinBrightness)
	assert.Equal(t, 150, th.Suitability.MinFeatureCount)
	assert.Equal(t, 20.0, th.Suitability.MaxReflectiveArea)
	assert.Equal(t, "/srv/inbox", cfg.Paths.Inbox)
}

func TestLoadFileRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"quality":`), 0o644))
	_, err := LoadFile(path)
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	env := map[string]string{
		"SPLATGATE_QUALITY_THRESHOLD": "55",
		"SPLATGATE_MIN_BRIGHTNESS":    "42.5",
		"SPLATGATE_LOG_LEVEL":         "debug",
		"SPLATGATE_FFMPEG_PATH":       "/opt/ffmpeg/bin/ffmpeg",
	}
	lookup := func(k string) (string, bool) { v, ok := env[k]; return v, ok }

	cfg := defaultConfig()
	require.NoError(t, cfg.applyEnv(lookup))
	assert.Equal(t, 55, cfg.Quality.Threshold)
	assert.Equal(t, 42.5, cfg.Quality.MinBrightness)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "/opt/ffmpeg/bin/ffmpeg", cfg.Extraction.FFmpegPath)

	env["SPLATGATE_PARALLEL_JOBS"] = "many"
	assert.ErrorIs(t, defaultConfig().applyEnv(lookup), ErrInvalid)
}

func TestLoadUsesConfigEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custom.yml")
	require.NoError(t, os.WriteFile(path, []byte("quality:\n  threshold: 75\n"), 0o644))
	t.Setenv("SPLATGATE_CONFIG", path)
	t.Setenv("SPLATGATE_GRPC_ADDR", "127.0.0.1:9999")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 75, cfg.Quality.Threshold)
	assert.Equal(t, "127.0.0.1:9999", cfg.Server.GRPCAddr)
}

func TestPathPrefersYAMLInConfigDir(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("SPLATGATE_CONFIG", "")
	dir := filepath.Join(home, ".config", "splatgate")

	assert.Equal(t, filepath.Join(dir, "config.json"), Path())

	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"), []byte("{}"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("{}"), 0o644))
	assert.Equal(t, filepath.Join(dir, "config.yaml"), Path())

	t.Setenv("SPLATGATE_CONFIG", "/etc/splatgate.yml")
	assert.Equal(t, "/etc/splatgate.yml", Path())
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"threshold above 100":    func(c *Config) { c.Quality.Threshold = 101 },
		"brightness above 255":   func(c *Config) { c.Quality.MinBrightness = 300 },
		"inverted camera motion": func(c *Config) { c.Suitability.MinCameraMotion = 200 },
		"inverted overlap":       func(c *Config) { c.Suitability.MinOverlap = 90 },
		"ideal below min":        func(c *Config) { c.Quality.IdealFrameCount = 10 },
		"no workers":             func(c *Config) { c.Processing.ParallelJobs = 0 },
		"tiny frames":            func(c *Config) { c.Extraction.FrameWidth = 8 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := defaultConfig()
			mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalid)
		})
	}
}

func TestExpandUser(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	got, err := expandUser("~/.config/splatgate/config.json")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".config/splatgate/config.json"), got)

	got, err = expandUser("/etc/splatgate.json")
	require.NoError(t, err)
	assert.Equal(t, "/etc/splatgate.json", got)
}

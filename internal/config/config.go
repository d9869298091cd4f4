package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"splatgate/internal/analysis"
	"splatgate/internal/extract"
	"splatgate/internal/fsutil"
)

const (
	defaultConfigDir  = "~/.config/splatgate"
	defaultParallel   = 2
	envPrefix         = "SPLATGATE_"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid config")

// Config holds user-editable settings for the gate and its services.
type Config struct {
	Quality     Quality     `json:"quality" yaml:"quality"`
	Suitability Suitability `json:"suitability" yaml:"suitability"`
	Extraction  Extraction  `json:"extraction" yaml:"extraction"`
	Processing  Processing  `json:"processing" yaml:"processing"`
	Logging     Logging     `json:"logging" yaml:"logging"`
	Paths       Paths       `json:"paths" yaml:"paths"`
	Server      Server      `json:"server" yaml:"server"`
}

// Quality configures the basic scorer and the pass/fail gate.
type Quality struct {
	MinBrightness   float64 `json:"min_brightness" yaml:"min_brightness"`     // 0-255
	MinFrameCount   int     `json:"min_frame_count" yaml:"min_frame_count"`   // frames in the container
	IdealFrameCount int     `json:"ideal_frame_count" yaml:"ideal_frame_count"`
	Threshold       int     `json:"threshold" yaml:"threshold"` // 0-100 gate cutoff
}

// Suitability configures the reconstruction-suitability checks.
type Suitability struct {
	MinCameraMotion     float64 `json:"min_camera_motion" yaml:"min_camera_motion"`
	MaxCameraMotion     float64 `json:"max_camera_motion" yaml:"max_camera_motion"`
	MaxMotionVariance   float64 `json:"max_motion_variance" yaml:"max_motion_variance"`
	MinOverlap          float64 `json:"min_overlap" yaml:"min_overlap"`
	MaxOverlap          float64 `json:"max_overlap" yaml:"max_overlap"`
	MaxExposureVariance float64 `json:"max_exposure_variance" yaml:"max_exposure_variance"`
	MinFeatureCount     int     `json:"min_feature_count" yaml:"min_feature_count"`
	MaxReflectiveArea   float64 `json:"max_reflective_area" yaml:"max_reflective_area"`
	MaxMotionPixels     float64 `json:"max_motion_pixels" yaml:"max_motion_pixels"`
}

// Extraction controls keyframe sampling.
type Extraction struct {
	TargetSamples int    `json:"target_samples" yaml:"target_samples"`
	FrameWidth    int    `json:"frame_width" yaml:"frame_width"`
	FFmpegPath    string `json:"ffmpeg_path" yaml:"ffmpeg_path"`
	FFprobePath   string `json:"ffprobe_path" yaml:"ffprobe_path"`
}

// Processing captures execution preferences.
type Processing struct {
	ParallelJobs  int    `json:"parallel_jobs" yaml:"parallel_jobs"`
	MetricWorkers int    `json:"metric_workers" yaml:"metric_workers"` // 0 = GOMAXPROCS
	QueueSize     int    `json:"queue_size" yaml:"queue_size"`
	TempDir       string `json:"temp_dir" yaml:"temp_dir"`
	KeepWorkspace bool   `json:"keep_workspace" yaml:"keep_workspace"`
}

// Logging controls logging verbosity and destinations.
type Logging struct {
	Level      string `json:"level" yaml:"level"`             // debug, info, warn, error
	Format     string `json:"format" yaml:"format"`           // text, json
	FileOutput bool   `json:"file_output" yaml:"file_output"` // Enable file logging
	LogDir     string `json:"log_dir" yaml:"log_dir"`
}

// Paths configures storage locations.
type Paths struct {
	DatabasePath string `json:"database_path" yaml:"database_path"`
	Inbox        string `json:"inbox" yaml:"inbox"` // watched for new videos
}

// Server configures the inspection HTTP and gRPC listeners.
type Server struct {
	Addr     string `json:"addr" yaml:"addr"`
	GRPCAddr string `json:"grpc_addr" yaml:"grpc_addr"`
}

// Load reads .env, then the config file named by SPLATGATE_CONFIG (or the
// default path), then applies SPLATGATE_* overrides. A missing file is not an error.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg, err := LoadFile(Path())
	if err != nil {
		return nil, err
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Path returns the config file Load reads: SPLATGATE_CONFIG when set,
// otherwise the first of config.yaml, config.yml and config.json found in
// ~/.config/splatgate, falling back to config.json.
func Path() string {
	if p := os.Getenv(envPrefix + "CONFIG"); p != "" {
		return p
	}
	dir, err := expandUser(defaultConfigDir)
	if err != nil {
		return filepath.Join(defaultConfigDir, "config.json")
	}
	candidates := []string{
		filepath.Join(dir, "config.yaml"),
		filepath.Join(dir, "config.yml"),
		filepath.Join(dir, "config.json"),
	}
	if p := fsutil.FirstExisting(candidates...); p != "" {
		return p
	}
	return candidates[2]
}

// LoadFile reads a JSON or YAML (.yaml/.yml) file over the defaults.
func LoadFile(path string) (*Config, error) {
	cfg := defaultConfig()

	expanded, err := expandUser(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(expanded)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(filepath.Ext(expanded)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	default:
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", expanded, err)
	}
	return cfg, nil
}

func defaultConfig() *Config {
	t := analysis.DefaultThresholds()
	s := t.Suitability
	return &Config{
		Quality: Quality{
			MinBrightness:   t.MinBrightness,
			MinFrameCount:   t.MinFrameCount,
			IdealFrameCount: t.IdealFrameCount,
			Threshold:       t.QualityThreshold,
		},
		Suitability: Suitability{
			MinCameraMotion:     s.MinCameraMotion,
			MaxCameraMotion:     s.MaxCameraMotion,
			MaxMotionVariance:   s.MaxMotionVariance,
			MinOverlap:          s.MinOverlap,
			MaxOverlap:          s.MaxOverlap,
			MaxExposureVariance: s.MaxExposureVariance,
			MinFeatureCount:     s.MinFeatureCount,
			MaxReflectiveArea:   s.MaxReflectiveArea,
			MaxMotionPixels:     s.MaxMotionPixels,
		},
		Extraction: Extraction{
			TargetSamples: extract.DefaultTargetSamples,
			FrameWidth:    extract.DefaultFrameWidth,
			FFmpegPath:    "ffmpeg",
			FFprobePath:   "ffprobe",
		},
		Processing: Processing{
			ParallelJobs: defaultParallel,
			QueueSize:    100,
			TempDir:      os.TempDir(),
		},
		Logging: Logging{
			Level:      "info",
			Format:     "text",
			FileOutput: false,
			LogDir:     "./logs",
		},
		Paths: Paths{
			DatabasePath: filepath.Join(os.TempDir(), "splatgate.db"),
		},
		Server: Server{
			Addr:     ":8080",
			GRPCAddr: ":9090",
		},
	}
}

// Thresholds maps the scoring settings onto the analysis engine.
func (c *Config) Thresholds() analysis.Thresholds {
	s := c.Suitability
	return analysis.Thresholds{
		MinBrightness:    c.Quality.MinBrightness,
		MinFrameCount:    c.Quality.MinFrameCount,
		IdealFrameCount:  c.Quality.IdealFrameCount,
		QualityThreshold: c.Quality.Threshold,
		Suitability: analysis.SuitabilityThresholds{
			MinCameraMotion:     s.MinCameraMotion,
			MaxCameraMotion:     s.MaxCameraMotion,
			MaxMotionVariance:   s.MaxMotionVariance,
			MinOverlap:          s.MinOverlap,
			MaxOverlap:          s.MaxOverlap,
			MaxExposureVariance: s.MaxExposureVariance,
			MinFeatureCount:     s.MinFeatureCount,
			MaxReflectiveArea:   s.MaxReflectiveArea,
			MaxMotionPixels:     s.MaxMotionPixels,
		},
	}
}

// Validate checks ranges. Every error wraps ErrInvalid.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
		}
	}
	q, s := c.Quality, c.Suitability
	check(q.MinBrightness >= 0 && q.MinBrightness <= 255, "quality.min_brightness %v not in 0..255", q.MinBrightness)
	check(q.MinFrameCount > 0, "quality.min_frame_count must be positive")
	check(q.IdealFrameCount >= q.MinFrameCount, "quality.ideal_frame_count %d below min_frame_count %d", q.IdealFrameCount, q.MinFrameCount)
	check(q.Threshold >= 0 && q.Threshold <= 100, "quality.threshold %d not in 0..100", q.Threshold)
	check(s.MinCameraMotion >= 0 && s.MinCameraMotion < s.MaxCameraMotion, "suitability camera motion range %v..%v", s.MinCameraMotion, s.MaxCameraMotion)
	check(s.MinOverlap >= 0 && s.MinOverlap < s.MaxOverlap && s.MaxOverlap <= 100, "suitability overlap range %v..%v", s.MinOverlap, s.MaxOverlap)
	check(s.MaxMotionVariance > 0, "suitability.max_motion_variance must be positive")
	check(s.MaxExposureVariance > 0, "suitability.max_exposure_variance must be positive")
	check(s.MinFeatureCount > 0, "suitability.min_feature_count must be positive")
	check(s.MaxReflectiveArea > 0 && s.MaxReflectiveArea <= 100, "suitability.max_reflective_area %v not in (0,100]", s.MaxReflectiveArea)
	check(s.MaxMotionPixels > 0 && s.MaxMotionPixels <= 100, "suitability.max_motion_pixels %v not in (0,100]", s.MaxMotionPixels)
	check(c.Extraction.TargetSamples > 0, "extraction.target_samples must be positive")
	check(c.Extraction.FrameWidth >= 16, "extraction.frame_width %d too small", c.Extraction.FrameWidth)
	check(c.Processing.ParallelJobs > 0, "processing.parallel_jobs must be positive")
	check(c.Processing.MetricWorkers >= 0, "processing.metric_workers must not be negative")
	check(c.Processing.QueueSize > 0, "processing.queue_size must be positive")
	return errors.Join(errs...)
}

// applyEnv overrides the most commonly tuned settings from SPLATGATE_* variables.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(envPrefix + key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) error {
		v, ok := lookup(envPrefix + key)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %s%s=%q: %v", ErrInvalid, envPrefix, key, v, err)
		}
		*dst = n
		return nil
	}
	float := func(key string, dst *float64) error {
		v, ok := lookup(envPrefix + key)
		if !ok || v == "" {
			return nil
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%w: %s%s=%q: %v", ErrInvalid, envPrefix, key, v, err)
		}
		*dst = f
		return nil
	}

	str("LOG_LEVEL", &c.Logging.Level)
	str("DATABASE_PATH", &c.Paths.DatabasePath)
	str("INBOX", &c.Paths.Inbox)
	str("FFMPEG_PATH", &c.Extraction.FFmpegPath)
	str("FFPROBE_PATH", &c.Extraction.FFprobePath)
	str("ADDR", &c.Server.Addr)
	str("GRPC_ADDR", &c.Server.GRPCAddr)
	return errors.Join(
		num("QUALITY_THRESHOLD", &c.Quality.Threshold),
		num("MIN_FRAME_COUNT", &c.Quality.MinFrameCount),
		num("PARALLEL_JOBS", &c.Processing.ParallelJobs),
		float("MIN_BRIGHTNESS", &c.Quality.MinBrightness),
	)
}

func expandUser(path string) (string, error) {
	if path == "" || path[0] != '~' {
		return path, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	if path == "~" {
		return home, nil
	}

	return filepath.Join(home, path[2:]), nil
}

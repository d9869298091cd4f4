package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os/exec"
	"strconv"
	"strings"

	"splatgate/internal/frames"
)

const (
	DefaultTargetSamples = 20
	DefaultFrameWidth    = 160
)

// runFunc executes an external tool and returns its combined output.
type runFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// FFmpegExtractor samples keyframes from a video container with ffmpeg and
// reads its metadata with ffprobe.
type FFmpegExtractor struct {
	FFmpegPath    string
	FFprobePath   string
	TargetSamples int
	FrameWidth    int
	Log           *slog.Logger

	run runFunc
}

// NewFFmpegExtractor returns an extractor with default tool paths and sampling.
func NewFFmpegExtractor(log *slog.Logger) *FFmpegExtractor {
	return &FFmpegExtractor{
		FFmpegPath:    "ffmpeg",
		FFprobePath:   "ffprobe",
		TargetSamples: DefaultTargetSamples,
		FrameWidth:    DefaultFrameWidth,
		Log:           log,
	}
}

// Available reports whether both tools can be found.
func (e *FFmpegExtractor) Available() bool {
	for _, tool := range []string{e.ffmpeg(), e.ffprobe()} {
		if _, err := exec.LookPath(tool); err != nil {
			return false
		}
	}
	return true
}

func (e *FFmpegExtractor) Extract(ctx context.Context, src string, ws *Workspace) (frames.Batch, error) {
	log := e.logger()
	meta, err := e.ReadMetadata(ctx, src)
	if err != nil {
		return frames.Batch{}, err
	}
	batch := frames.Batch{Metadata: meta}

	times := SampleTimes(meta.Duration, e.targetSamples())
	log.Info("extracting keyframes", "src", src, "samples", len(times), "duration", meta.Duration, "fps", meta.FPS)

	decoded := 0
	for i, ts := range times {
		if err := ctx.Err(); err != nil {
			return batch, err
		}
		out := ws.Path(fmt.Sprintf("frame_%03d.jpg", i))
		args := []string{
			"-hide_banner", "-loglevel", "error", "-y",
			"-ss", strconv.FormatFloat(ts, 'f', 3, 64),
			"-i", src,
			"-frames:v", "1",
			"-vf", fmt.Sprintf("scale=%d:-2", e.frameWidth()),
			"-q:v", "2",
			out,
		}
		if output, err := e.runner()(ctx, e.ffmpeg(), args...); err != nil {
			if ctx.Err() != nil {
				return batch, ctx.Err()
			}
			log.Warn("ffmpeg frame grab failed", "timestamp", ts, "error", err, "output", strings.TrimSpace(string(output)))
			batch.Frames = append(batch.Frames, frames.Failed(i, ts, fmt.Errorf("ffmpeg at %.3fs: %w", ts, err)))
			continue
		}
		f := frames.Load(out, i, ts)
		if f.Err == nil {
			decoded++
		}
		batch.Frames = append(batch.Frames, f)
	}
	if decoded == 0 {
		return batch, fmt.Errorf("%s: %w", src, ErrNoFrames)
	}
	return batch, nil
}

// ReadMetadata reads container metadata with ffprobe.
func (e *FFmpegExtractor) ReadMetadata(ctx context.Context, src string) (frames.VideoMetadata, error) {
	args := []string{"-v", "quiet", "-print_format", "json", "-show_format", "-show_streams", src}
	out, err := e.runner()(ctx, e.ffprobe(), args...)
	if err != nil {
		return frames.VideoMetadata{}, fmt.Errorf("ffprobe failed: %w", err)
	}
	return ParseMetadata(out)
}

// metadataOutput matches the parts of ffprobe's JSON output we use.
type metadataOutput struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
	Streams []struct {
		CodecType    string `json:"codec_type"`
		CodecName    string `json:"codec_name"`
		Width        int    `json:"width"`
		Height       int    `json:"height"`
		RFrameRate   string `json:"r_frame_rate"`
		AvgFrameRate string `json:"avg_frame_rate"`
		NbFrames     string `json:"nb_frames"`
		Duration     string `json:"duration"`
	} `json:"streams"`
}

// ParseMetadata converts ffprobe JSON into VideoMetadata.
func ParseMetadata(data []byte) (frames.VideoMetadata, error) {
	var meta metadataOutput
	if err := json.Unmarshal(data, &meta); err != nil {
		return frames.VideoMetadata{}, fmt.Errorf("parse ffprobe output: %w", err)
	}
	for _, s := range meta.Streams {
		if s.CodecType != "video" {
			continue
		}
		duration, _ := strconv.ParseFloat(meta.Format.Duration, 64)
		if duration <= 0 {
			duration, _ = strconv.ParseFloat(s.Duration, 64)
		}
		fps := ParseFrameRate(s.RFrameRate)
		if fps <= 0 {
			fps = ParseFrameRate(s.AvgFrameRate)
		}
		if duration <= 0 || fps <= 0 {
			return frames.VideoMetadata{}, fmt.Errorf("ffprobe reported duration=%v fps=%v", duration, fps)
		}
		m := frames.NewVideoMetadata(duration, fps, s.Width, s.Height, s.CodecName)
		if n, err := strconv.Atoi(s.NbFrames); err == nil && n > 0 {
			m.FrameCount = n
		}
		return m, nil
	}
	return frames.VideoMetadata{}, fmt.Errorf("no video stream found")
}

// ParseFrameRate parses rates like "30000/1001" or "25".
func ParseFrameRate(s string) float64 {
	num, den, found := strings.Cut(s, "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0
	}
	if !found {
		return n
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil || d == 0 {
		return 0
	}
	return n / d
}

// SampleTimes spreads min(target, floor(duration)) samples, at least one,
// evenly across the video starting at 0.
func SampleTimes(duration float64, target int) []float64 {
	n := int(math.Min(float64(target), math.Floor(duration)))
	if n < 1 {
		n = 1
	}
	interval := duration / float64(n)
	times := make([]float64, n)
	for i := range times {
		times[i] = float64(i) * interval
	}
	return times
}

func (e *FFmpegExtractor) ffmpeg() string {
	if e.FFmpegPath == "" {
		return "ffmpeg"
	}
	return e.FFmpegPath
}

func (e *FFmpegExtractor) ffprobe() string {
	if e.FFprobePath == "" {
		return "ffprobe"
	}
	return e.FFprobePath
}

func (e *FFmpegExtractor) targetSamples() int {
	if e.TargetSamples < 1 {
		return DefaultTargetSamples
	}
	return e.TargetSamples
}

func (e *FFmpegExtractor) frameWidth() int {
	if e.FrameWidth < 1 {
		return DefaultFrameWidth
	}
	return e.FrameWidth
}

func (e *FFmpegExtractor) runner() runFunc {
	if e.run == nil {
		return runCommand
	}
	return e.run
}

func (e *FFmpegExtractor) logger() *slog.Logger {
	if e.Log == nil {
		return slog.Default()
	}
	return e.Log
}

package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"splatgate/internal/frames"
	"splatgate/internal/fsutil"
)

// ErrNoFrames is returned when a source yields no frames at all.
var ErrNoFrames = errors.New("no frames extracted")

// MetadataFile is the optional sidecar read by DirectoryExtractor.
const MetadataFile = "metadata.json"

// Extractor turns a source into ordered keyframes plus container metadata.
// On failure the returned batch carries whatever was recovered.
type Extractor interface {
	Extract(ctx context.Context, src string, ws *Workspace) (frames.Batch, error)
}

// Auto dispatches directories to Frames and everything else to Video.
type Auto struct {
	Video  Extractor
	Frames Extractor
}

func (a Auto) Extract(ctx context.Context, src string, ws *Workspace) (frames.Batch, error) {
	info, err := os.Stat(src)
	if err != nil {
		return frames.Batch{}, fmt.Errorf("stat source: %w", err)
	}
	if info.IsDir() {
		return a.Frames.Extract(ctx, src, ws)
	}
	if !fsutil.IsVideoFile(src) {
		return frames.Batch{}, fmt.Errorf("unsupported source %s", filepath.Base(src))
	}
	return a.Video.Extract(ctx, src, ws)
}

// DirectoryExtractor reads frames that were extracted ahead of time. The
// directory is treated as read-only; the workspace is not used.
type DirectoryExtractor struct {
	Log *slog.Logger
}

func (d DirectoryExtractor) Extract(ctx context.Context, src string, _ *Workspace) (frames.Batch, error) {
	log := d.Log
	if log == nil {
		log = slog.Default()
	}
	paths, err := fsutil.ListFrames(src)
	if err != nil {
		return frames.Batch{}, fmt.Errorf("list frames: %w", err)
	}

	meta, merr := readSidecar(filepath.Join(src, MetadataFile))
	if merr != nil {
		log.Warn("frame metadata unavailable, assuming defaults", "dir", src, "error", merr)
		meta = frames.DefaultMetadata()
	}

	batch := frames.Batch{Metadata: meta}
	if len(paths) == 0 {
		return batch, fmt.Errorf("%s: %w", src, ErrNoFrames)
	}

	step := 1.0
	if !meta.Degraded && meta.Duration > 0 {
		step = meta.Duration / float64(len(paths))
	}
	for i, p := range paths {
		if err := ctx.Err(); err != nil {
			return batch, err
		}
		f := frames.Load(p, i, float64(i)*step)
		if f.Err != nil {
			log.Warn("frame decode failed", "path", p, "error", f.Err)
		}
		batch.Frames = append(batch.Frames, f)
	}
	log.Debug("frames loaded", "dir", src, "count", len(batch.Frames), "decoder", frames.Decoder())
	return batch, nil
}

func readSidecar(path string) (frames.VideoMetadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return frames.VideoMetadata{}, err
	}
	var m frames.VideoMetadata
	if err := json.Unmarshal(data, &m); err != nil {
		return frames.VideoMetadata{}, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	if m.Duration <= 0 || m.FPS <= 0 {
		return frames.VideoMetadata{}, fmt.Errorf("%s: duration and fps must be positive", filepath.Base(path))
	}
	if m.FrameCount == 0 {
		derived := frames.NewVideoMetadata(m.Duration, m.FPS, m.Width, m.Height, m.Codec)
		m.FrameCount = derived.FrameCount
	}
	m.Degraded = false
	return m, nil
}

package extract

import (
	"context"
	"errors"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"splatgate/internal/frames"
)

func writePNG(t *testing.T, path string, w, h int, v uint8) {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = v
	}
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())
}

func TestSampleTimes(t *testing.T) {
	assert.Equal(t, []float64{0}, SampleTimes(0.4, 20))
	short := SampleTimes(3.2, 20)
	require.Len(t, short, 3)
	assert.InDelta(t, 3.2/3, short[1], 1e-9)

	ts := SampleTimes(60, 20)
	require.Len(t, ts, 20)
	assert.Equal(t, 3.0, ts[1])
	assert.Equal(t, 57.0, ts[19])
}

func TestParseFrameRate(t *testing.T) {
	assert.InDelta(t, 29.97, ParseFrameRate("30000/1001"), 0.01)
	assert.Equal(t, 25.0, ParseFrameRate("25"))
	assert.Equal(t, 0.0, ParseFrameRate("30/0"))
	assert.Equal(t, 0.0, ParseFrameRate("n/a"))
}

const metadataJSON = `{
  "streams": [
    {"codec_type": "audio", "codec_name": "aac"},
    {"codec_type": "video", "codec_name": "h264", "width": 1920, "height": 1080,
     "r_frame_rate": "30/1", "avg_frame_rate": "30/1", "nb_frames": "298"}
  ],
  "format": {"duration": "9.933"}
}`

func TestParseMetadata(t *testing.T) {
	m, err := ParseMetadata([]byte(metadataJSON))
	require.NoError(t, err)
	assert.Equal(t, frames.VideoMetadata{
		Duration: 9.933, FPS: 30, Width: 1920, Height: 1080, FrameCount: 298, Codec: "h264",
	}, m)

	_, err = ParseMetadata([]byte(`{"streams":[{"codec_type":"audio"}],"format":{}}`))
	assert.Error(t, err)
	_, err = ParseMetadata([]byte(`not json`))
	assert.Error(t, err)
}

func TestFFmpegExtractorWithStubTools(t *testing.T) {
	var grabs int
	e := NewFFmpegExtractor(nil)
	e.TargetSamples = 4
	e.run = func(_ context.Context, name string, args ...string) ([]byte, error) {
		if name == "ffprobe" {
			return []byte(metadataJSON), nil
		}
		grabs++
		if grabs == 2 {
			return []byte("decode error"), errors.New("exit status 1")
		}
		writePNG(t, args[len(args)-1], 160, 90, 100)
		return nil, nil
	}

	var batch frames.Batch
	err := WithWorkspace(context.Background(), t.TempDir(), nil, func(ctx context.Context, ws *Workspace) error {
		var err error
		batch, err = e.Extract(ctx, "walkaround.mp4", ws)
		return err
	})
	require.NoError(t, err)
	require.Len(t, batch.Frames, 4)
	assert.Equal(t, 4, grabs)
	assert.Equal(t, 3, batch.ValidCount())
	assert.Error(t, batch.Frames[1].Err)
	for i, f := range batch.Frames {
		assert.Equal(t, i, f.Index)
	}
	assert.InDelta(t, 9.933/4, batch.Frames[1].Timestamp, 1e-9)
	assert.Equal(t, 298, batch.Metadata.FrameCount)
}

func TestFFmpegExtractorMetadataFailure(t *testing.T) {
	e := NewFFmpegExtractor(nil)
	e.run = func(context.Context, string, ...string) ([]byte, error) {
		return nil, errors.New("not a video")
	}
	ws, err := NewWorkspace(t.TempDir(), nil)
	require.NoError(t, err)
	defer ws.Release()

	batch, err := e.Extract(context.Background(), "broken.mp4", ws)
	require.Error(t, err)
	assert.Empty(t, batch.Frames)
	assert.False(t, batch.Metadata.Usable())
}

func TestDirectoryExtractor(t *testing.T) {
	dir := t.TempDir()
	for i, v := range []uint8{10, 20, 30, 40} {
		writePNG(t, filepath.Join(dir, "frame_00"+string(rune('0'+i))+".png"), 16, 9, v)
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, MetadataFile), []byte(`{"duration":8,"fps":30,"width":1280,"height":720,"codec":"vp9"}`), 0o644))

	batch, err := DirectoryExtractor{}.Extract(context.Background(), dir, nil)
	require.NoError(t, err)
	require.Len(t, batch.Frames, 4)
	assert.Equal(t, 240, batch.Metadata.FrameCount)
	assert.True(t, batch.Metadata.Usable())
	assert.Equal(t, uint8(30), batch.Frames[2].Pix[0])
	assert.Equal(t, 4.0, batch.Frames[2].Timestamp)
}

func TestDirectoryExtractorWithoutSidecar(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "a.png"), 8, 8, 200)

	batch, err := DirectoryExtractor{}.Extract(context.Background(), dir, nil)
	require.NoError(t, err)
	assert.True(t, batch.Metadata.Degraded)
	assert.Len(t, batch.Frames, 1)

	empty := t.TempDir()
	_, err = DirectoryExtractor{}.Extract(context.Background(), empty, nil)
	assert.ErrorIs(t, err, ErrNoFrames)
}

func TestAutoDispatch(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "a.png"), 8, 8, 1)
	video := &recordingExtractor{}
	a := Auto{Video: video, Frames: DirectoryExtractor{}}

	_, err := a.Extract(context.Background(), dir, nil)
	require.NoError(t, err)
	assert.Zero(t, video.calls)

	clip := filepath.Join(t.TempDir(), "clip.mov")
	require.NoError(t, os.WriteFile(clip, nil, 0o644))
	_, err = a.Extract(context.Background(), clip, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, video.calls)

	notes := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(notes, nil, 0o644))
	_, err = a.Extract(context.Background(), notes, nil)
	assert.Error(t, err)
}

type recordingExtractor struct{ calls int }

func (r *recordingExtractor) Extract(context.Context, string, *Workspace) (frames.Batch, error) {
	r.calls++
	return frames.Batch{}, nil
}

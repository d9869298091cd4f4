package frames

import (
	"fmt"
	"image"
	"math"

	"golang.org/x/image/draw"
)

// Frame is one sampled keyframe, held as an 8-bit grayscale raster.
// Frames are produced by an extractor and treated as read-only afterwards.
type Frame struct {
	Index     int
	Timestamp float64 // seconds from the start of the video
	Width     int
	Height    int
	Pix       []uint8 // row-major, len == Width*Height
	// Color optionally keeps the decoded source image.
	Color image.Image
	// Err is set when the frame could not be decoded.
	Err error
}

// Valid reports whether the pixel buffer can be analysed.
func (f Frame) Valid() bool {
	return f.Err == nil && f.Width > 0 && f.Height > 0 && len(f.Pix) == f.Width*f.Height
}

// Gray wraps the pixel buffer as an *image.Gray without copying.
func (f Frame) Gray() *image.Gray {
	return &image.Gray{
		Pix:    f.Pix,
		Stride: f.Width,
		Rect:   image.Rect(0, 0, f.Width, f.Height),
	}
}

// FromImage converts img to a grayscale Frame.
func FromImage(index int, timestamp float64, img image.Image) Frame {
	b := img.Bounds()
	gray, ok := img.(*image.Gray)
	if !ok || b.Min != (image.Point{}) || gray.Stride != b.Dx() {
		gray = image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
		draw.Draw(gray, gray.Bounds(), img, b.Min, draw.Src)
	}
	return Frame{
		Index:     index,
		Timestamp: timestamp,
		Width:     b.Dx(),
		Height:    b.Dy(),
		Pix:       gray.Pix,
		Color:     img,
	}
}

// FromGray builds a Frame from a raw grayscale buffer.
func FromGray(index int, timestamp float64, width, height int, pix []uint8) Frame {
	f := Frame{Index: index, Timestamp: timestamp, Width: width, Height: height, Pix: pix}
	if len(pix) != width*height {
		f.Err = fmt.Errorf("pixel buffer has %d bytes, want %dx%d", len(pix), width, height)
	}
	return f
}

// Failed returns a placeholder for a frame whose decode failed.
func Failed(index int, timestamp float64, err error) Frame {
	return Frame{Index: index, Timestamp: timestamp, Err: err}
}

// VideoMetadata describes the source container. It is immutable once built.
type VideoMetadata struct {
	Duration   float64 `json:"duration"`
	FPS        float64 `json:"fps"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	FrameCount int     `json:"frameCount"`
	Codec      string  `json:"codec"`
	// Degraded marks conservative defaults substituted after an extraction failure.
	Degraded bool `json:"degraded,omitempty"`
}

// NewVideoMetadata derives FrameCount as round(duration*fps).
func NewVideoMetadata(duration, fps float64, width, height int, codec string) VideoMetadata {
	return VideoMetadata{
		Duration:   duration,
		FPS:        fps,
		Width:      width,
		Height:     height,
		FrameCount: int(math.Round(duration * fps)),
		Codec:      codec,
	}
}

// DefaultMetadata is used when the extractor could not read the container.
func DefaultMetadata() VideoMetadata {
	m := NewVideoMetadata(10, 30, 1920, 1080, "unknown")
	m.Degraded = true
	return m
}

// Resolution formats the frame size as WxH.
func (m VideoMetadata) Resolution() string {
	return fmt.Sprintf("%dx%d", m.Width, m.Height)
}

// Usable reports whether the metadata carries real container values.
func (m VideoMetadata) Usable() bool {
	return !m.Degraded && m.Duration > 0 && m.FPS > 0
}

// Batch is the extractor output: frames in extraction order plus metadata.
type Batch struct {
	Frames   []Frame
	Metadata VideoMetadata
}

// ValidCount returns the number of decodable frames.
func (b Batch) ValidCount() int {
	n := 0
	for _, f := range b.Frames {
		if f.Valid() {
			n++
		}
	}
	return n
}

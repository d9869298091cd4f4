package frames

import (
	"fmt"
	"os"
	"path/filepath"
)

// Load decodes the image at path into a grayscale Frame. Decode failures are
// returned as a Frame carrying Err so that one bad keyframe does not fail a batch.
func Load(path string, index int, timestamp float64) Frame {
	if _, err := os.Stat(path); err != nil {
		return Failed(index, timestamp, fmt.Errorf("stat frame %s: %w", filepath.Base(path), err))
	}
	img, err := DecodeFile(path)
	if err != nil {
		return Failed(index, timestamp, fmt.Errorf("decode frame %s: %w", filepath.Base(path), err))
	}
	return FromImage(index, timestamp, img)
}

// Decoder names the active decoding backend.
func Decoder() string {
	return decoderName
}

//go:build imagick

package frames

import (
	"fmt"
	"image"
	"sync"

	"gopkg.in/gographics/imagick.v3/imagick"
)

const decoderName = "imagick"

var imagickOnce sync.Once

// DecodeFile reads any format ImageMagick understands and exports its intensity channel.
func DecodeFile(path string) (image.Image, error) {
	imagickOnce.Do(imagick.Initialize)

	mw := imagick.NewMagickWand()
	defer mw.Destroy()

	if err := mw.ReadImage(path); err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	if err := mw.AutoOrientImage(); err != nil {
		return nil, fmt.Errorf("failed to orient image: %w", err)
	}

	w, h := mw.GetImageWidth(), mw.GetImageHeight()
	raw, err := mw.ExportImagePixels(0, 0, w, h, "I", imagick.PIXEL_CHAR)
	if err != nil {
		return nil, fmt.Errorf("failed to export pixels: %w", err)
	}
	pix, ok := raw.([]byte)
	if !ok || len(pix) != int(w*h) {
		return nil, fmt.Errorf("unexpected pixel export for %dx%d image", w, h)
	}

	return &image.Gray{Pix: pix, Stride: int(w), Rect: image.Rect(0, 0, int(w), int(h))}, nil
}

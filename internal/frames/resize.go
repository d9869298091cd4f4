package frames

import (
	"image"

	"golang.org/x/image/draw"
)

// Downscale resamples f to exactly width×height with bilinear filtering.
// Aspect ratio is not preserved; callers wanting that use FitWithin first.
func Downscale(f Frame, width, height int) *image.Gray {
	dst := image.NewGray(image.Rect(0, 0, width, height))
	src := f.Gray()
	if width == f.Width && height == f.Height {
		copy(dst.Pix, src.Pix)
		return dst
	}
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	return dst
}

// DownscaleToFit resamples f to fit inside maxW×maxH, keeping its aspect ratio.
// Frames already inside the box are copied unchanged.
func DownscaleToFit(f Frame, maxW, maxH int) *image.Gray {
	w, h := FitWithin(f.Width, f.Height, maxW, maxH)
	return Downscale(f, w, h)
}

// FitWithin returns the largest size not exceeding maxW×maxH with the aspect of w×h.
// It never enlarges.
func FitWithin(w, h, maxW, maxH int) (int, int) {
	if w <= maxW && h <= maxH {
		return w, h
	}
	if w*maxH >= h*maxW {
		nh := h * maxW / w
		if nh < 1 {
			nh = 1
		}
		return maxW, nh
	}
	nw := w * maxH / h
	if nw < 1 {
		nw = 1
	}
	return nw, maxH
}

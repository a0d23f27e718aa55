// File: internal/recognition/preprocess.go
package recognition

import (
	"image"
	"image/color"

	"github.com/riftlab/automaton/api/schemas"
)

// Preprocess converts a captured frame into the grayscale buffer the matcher
// operates on, applying the requested enhancement. The source image is never
// written to.
func Preprocess(img image.Image, opts schemas.PreprocessOptions) *image.Gray {
	gray := ToGray(img)
	if opts.ContrastBoost > 0 && opts.ContrastBoost != 1 {
		if src, ok := img.(*image.Gray); ok && src == gray {
			// ToGray aliased the source; stretch a copy instead.
			gray = cloneGray(src)
		}
		stretchContrast(gray, opts.ContrastBoost)
	}
	return gray
}

// cloneGray copies a grayscale image, normalizing the stride.
func cloneGray(src *image.Gray) *image.Gray {
	b := src.Bounds()
	dst := image.NewGray(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		srcRow := src.Pix[(y-src.Rect.Min.Y)*src.Stride:]
		dstRow := dst.Pix[(y-b.Min.Y)*dst.Stride:]
		copy(dstRow[:b.Dx()], srcRow[b.Min.X-src.Rect.Min.X:b.Min.X-src.Rect.Min.X+b.Dx()])
	}
	return dst
}

// ToGray returns the image as *image.Gray, copying only when necessary.
// Callers must not mutate the result when the source was already grayscale.
func ToGray(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok {
		return g
	}
	b := img.Bounds()
	gray := image.NewGray(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			gray.Set(x, y, color.GrayModel.Convert(img.At(x, y)))
		}
	}
	return gray
}

// stretchContrast scales intensity around the midpoint in place.
func stretchContrast(g *image.Gray, factor float64) {
	for i, p := range g.Pix {
		v := (float64(p)-128)*factor + 128
		if v < 0 {
			v = 0
		} else if v > 255 {
			v = 255
		}
		g.Pix[i] = uint8(v)
	}
}

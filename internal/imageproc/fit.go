package imageproc

import (
	"image"

	"github.com/disintegration/imaging"
	"github.com/nfnt/resize"
)

// Fit scales img to exactly size x size. Aspect ratio is not preserved.
func Fit(img image.Image, size int) *image.NRGBA {
	b := img.Bounds()
	if b.Dx() == size && b.Dy() == size {
		return imaging.Clone(img)
	}
	resized := resize.Resize(uint(size), uint(size), img, resize.Lanczos3)
	return imaging.Clone(resized)
}

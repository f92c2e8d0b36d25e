package image

import (
	"errors"

	"whatschanging/internal/pixbuf"
)

// ErrDimensionMismatch is returned when two images cannot be compared pixel
// for pixel.
var ErrDimensionMismatch = errors.New("images have different dimensions")

type DiffResult struct {
	Image           *pixbuf.DiffImage
	DiffAmount      float64
	DifferentPixels int64
}

type Differ interface {
	Calculate(baseline *pixbuf.Image, target *pixbuf.Image) (*DiffResult, error)
}

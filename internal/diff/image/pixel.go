package image

import (
	"runtime"
	"sync"
	"sync/atomic"

	"whatschanging/internal/pixbuf"

	"golang.org/x/xerrors"
)

var (
	sameColor      = [3]byte{0, 0, 0}
	differentColor = [3]byte{0, 255, 0}
)

type PixelDiff struct {
	workers int
}

// NewPixelDiff returns a differ that splits rows over workers goroutines.
// A non-positive count uses GOMAXPROCS.
func NewPixelDiff(workers int) *PixelDiff {
	return &PixelDiff{
		workers,
	}
}

// Compare paints every pixel whose RGB channels match black and every other
// pixel green. Alpha is never read.
func (p *PixelDiff) Compare(baseline *pixbuf.Image, target *pixbuf.Image) (*pixbuf.DiffImage, error) {
	diff, _, err := p.compare(baseline, target)
	return diff, err
}

func (p *PixelDiff) Calculate(baseline *pixbuf.Image, target *pixbuf.Image) (*DiffResult, error) {
	diff, differentPixels, err := p.compare(baseline, target)
	if err != nil {
		return nil, err
	}

	diffAmount := 0.0
	if total := int64(diff.Width) * int64(diff.Height); total > 0 {
		diffAmount = float64(differentPixels) / float64(total)
	}

	return &DiffResult{
		Image:           diff,
		DiffAmount:      diffAmount,
		DifferentPixels: differentPixels,
	}, nil
}

func (p *PixelDiff) compare(baseline *pixbuf.Image, target *pixbuf.Image) (*pixbuf.DiffImage, int64, error) {
	if baseline == nil || target == nil {
		return nil, 0, xerrors.Errorf("nil image: %w", pixbuf.ErrInvalidImage)
	}
	if err := baseline.Validate(); err != nil {
		return nil, 0, xerrors.Errorf("baseline: %w", err)
	}
	if err := target.Validate(); err != nil {
		return nil, 0, xerrors.Errorf("target: %w", err)
	}
	if baseline.Width != target.Width || baseline.Height != target.Height {
		return nil, 0, xerrors.Errorf("%dx%d and %dx%d: %w", baseline.Width, baseline.Height, target.Width, target.Height, ErrDimensionMismatch)
	}
	if baseline.ByteLength() != target.ByteLength() {
		return nil, 0, xerrors.Errorf("%d and %d bytes: %w", baseline.ByteLength(), target.ByteLength(), ErrDimensionMismatch)
	}

	diff := pixbuf.NewDiffImage(baseline.Width, baseline.Height)

	numWorkers := p.workers
	if numWorkers <= 0 {
		// Use GOMAXPROCS instead of runtime.NumCPU() to consider cgroup.
		numWorkers = runtime.GOMAXPROCS(0)
	}
	if numWorkers > diff.Height {
		numWorkers = diff.Height
	}
	rowsPerWorker := diff.Height / numWorkers

	var differentPixels int64
	var wg sync.WaitGroup
	wg.Add(numWorkers)
	for i := 0; i < numWorkers; i++ {
		startY := i * rowsPerWorker
		endY := startY + rowsPerWorker
		if i == numWorkers-1 {
			endY = diff.Height
		}

		go func(startY int, endY int) {
			defer wg.Done()
			atomic.AddInt64(&differentPixels, p.processRows(baseline, target, diff, startY, endY))
		}(startY, endY)
	}
	wg.Wait()

	return diff, differentPixels, nil
}

func (p *PixelDiff) processRows(baseline *pixbuf.Image, target *pixbuf.Image, diff *pixbuf.DiffImage, startY int, endY int) int64 {
	var localDifferent int64

	for y := startY; y < endY; y++ {
		baselineRowStart := baseline.PixOffset(0, y)
		targetRowStart := target.PixOffset(0, y)
		diffRowStart := diff.PixOffset(0, y)

		for x := 0; x < diff.Width; x++ {
			b := baseline.Pix[baselineRowStart+x*baseline.Channels:]
			t := target.Pix[targetRowStart+x*target.Channels:]

			paint := sameColor
			if b[0] != t[0] || b[1] != t[1] || b[2] != t[2] {
				paint = differentColor
				localDifferent++
			}
			copy(diff.Pix[diffRowStart+x*3:diffRowStart+x*3+3], paint[:])
		}
	}

	return localDifferent
}

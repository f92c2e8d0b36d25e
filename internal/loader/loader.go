package loader

import (
	"bytes"
	"context"
	"errors"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"math"
	"os"
	"strings"

	"whatschanging/internal/capture"
	"whatschanging/internal/pixbuf"
	"whatschanging/internal/storage"

	"github.com/dustin/go-humanize"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"
)

var (
	ErrNoCapturer    = errors.New("no capturer configured for page sources")
	ErrNoStorage     = errors.New("no storage configured for object sources")
	ErrImageTooLarge = errors.New("image too large")
)

// DefaultMaxPixels bounds both the encoded and the scaled size of a decode,
// about 128 MiB as NRGBA.
const DefaultMaxPixels = 1 << 25

// Loader turns a source (a path, a file://, s3:// or http(s):// URL) into a
// decoded pixel buffer scaled to fit Width x Height.
type Loader struct {
	// Width and Height bound the decoded image. A non-positive value leaves
	// that dimension unconstrained; both unset keeps the native size.
	Width     int
	Height    int
	WithAlpha bool
	// MaxPixels caps width*height of the source and of the scaled result.
	// Zero means DefaultMaxPixels.
	MaxPixels int64

	Capturer capture.Capturer
	Storage  storage.Storage
	Logger   *slog.Logger
}

func (l *Loader) Load(ctx context.Context, source string) (*pixbuf.Image, error) {
	data, err := l.read(ctx, source)
	if err != nil {
		return nil, xerrors.Errorf("failed to read %s: %w", source, err)
	}

	img, err := DecodeWithLimit(data, l.Width, l.Height, l.WithAlpha, l.MaxPixels)
	if err != nil {
		return nil, xerrors.Errorf("failed to decode %s: %w", source, err)
	}

	l.logger().Debug("loaded image",
		slog.String("source", source),
		slog.String("size", humanize.Bytes(uint64(len(data)))),
		slog.Int("width", img.Width),
		slog.Int("height", img.Height),
		slog.Int("rowstride", img.Rowstride),
	)

	return img, nil
}

// LoadPair loads both sources concurrently.
func (l *Loader) LoadPair(ctx context.Context, baseline string, target string) (*pixbuf.Image, *pixbuf.Image, error) {
	var baselineImage *pixbuf.Image
	var targetImage *pixbuf.Image

	eg, ctx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		img, err := l.Load(ctx, baseline)
		if err != nil {
			return xerrors.Errorf("failed to load baseline: %w", err)
		}
		baselineImage = img
		return nil
	})

	eg.Go(func() error {
		img, err := l.Load(ctx, target)
		if err != nil {
			return xerrors.Errorf("failed to load target: %w", err)
		}
		targetImage = img
		return nil
	})

	if err := eg.Wait(); err != nil {
		return nil, nil, err
	}

	return baselineImage, targetImage, nil
}

func (l *Loader) read(ctx context.Context, source string) ([]byte, error) {
	switch {
	case strings.HasPrefix(source, "http://"), strings.HasPrefix(source, "https://"):
		if l.Capturer == nil {
			return nil, ErrNoCapturer
		}
		result, err := l.Capturer.Capture(ctx, source)
		if err != nil {
			return nil, err
		}
		return result.Screenshot, nil
	case strings.HasPrefix(source, "s3://"):
		if l.Storage == nil {
			return nil, ErrNoStorage
		}
		return l.Storage.Get(ctx, source)
	default:
		return os.ReadFile(strings.TrimPrefix(source, "file://"))
	}
}

func (l *Loader) logger() *slog.Logger {
	if l.Logger != nil {
		return l.Logger
	}
	return slog.Default()
}

// Decode decodes any registered format and scales it to fit within
// width x height, preserving its aspect ratio.
func Decode(data []byte, width int, height int, withAlpha bool) (*pixbuf.Image, error) {
	return DecodeWithLimit(data, width, height, withAlpha, DefaultMaxPixels)
}

// DecodeWithLimit is Decode refusing, before allocating, sources or scaled
// results of more than maxPixels pixels. A non-positive maxPixels means
// DefaultMaxPixels.
func DecodeWithLimit(data []byte, width int, height int, withAlpha bool, maxPixels int64) (*pixbuf.Image, error) {
	if maxPixels <= 0 {
		maxPixels = DefaultMaxPixels
	}

	config, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	if n := int64(config.Width) * int64(config.Height); n > maxPixels {
		return nil, xerrors.Errorf("source is %dx%d, over %d pixels: %w", config.Width, config.Height, maxPixels, ErrImageTooLarge)
	}

	size := FitSize(image.Pt(config.Width, config.Height), width, height)
	if n := int64(size.X) * int64(size.Y); n > maxPixels {
		return nil, xerrors.Errorf("scaled size is %dx%d, over %d pixels: %w", size.X, size.Y, maxPixels, ErrImageTooLarge)
	}

	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	if size == src.Bounds().Size() {
		return pixbuf.FromImage(src, withAlpha), nil
	}

	dst := image.NewNRGBA(image.Rectangle{Max: size})
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)

	return pixbuf.FromImage(dst, withAlpha), nil
}

// FitSize returns the largest size with the aspect ratio of native that fits
// within width x height. Each side is clamped to math.MaxInt32.
func FitSize(native image.Point, width int, height int) image.Point {
	if native.X <= 0 || native.Y <= 0 {
		return native
	}

	scaleX := math.Inf(1)
	if width > 0 {
		scaleX = float64(width) / float64(native.X)
	}
	scaleY := math.Inf(1)
	if height > 0 {
		scaleY = float64(height) / float64(native.Y)
	}
	scale := math.Min(scaleX, scaleY)
	if math.IsInf(scale, 1) {
		return native
	}

	return image.Point{
		X: scaleSide(native.X, scale),
		Y: scaleSide(native.Y, scale),
	}
}

func scaleSide(side int, scale float64) int {
	return int(max(1, min(math.MaxInt32, math.Round(float64(side)*scale))))
}

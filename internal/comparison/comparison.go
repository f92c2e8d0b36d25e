package comparison

import (
	"bytes"
	"errors"
	"image"
	"image/png"

	diffimage "whatschanging/internal/diff/image"
	"whatschanging/internal/pixbuf"
	"whatschanging/internal/render"

	"golang.org/x/xerrors"
)

const (
	FormatDiff  = "diff"
	FormatPanel = "panel"
)

type Output struct {
	PNG             []byte
	DiffAmount      float64
	DifferentPixels int64
	// Mismatch is set when a panel was rendered without its diff pane.
	Mismatch error
}

type Comparer struct {
	Differ diffimage.Differ
	Format string
	// Layout is used by FormatPanel. A zero pane size takes the baseline's.
	Layout render.Layout
}

// Compare renders the comparison of baseline and target as a PNG. With
// FormatDiff a dimension mismatch is an error; with FormatPanel the sources
// are still drawn and the mismatch is reported in Output.Mismatch.
func (c *Comparer) Compare(baseline *pixbuf.Image, target *pixbuf.Image) (*Output, error) {
	result, err := c.Differ.Calculate(baseline, target)

	switch c.Format {
	case FormatDiff, "":
		if err != nil {
			return nil, err
		}
		data, err := encode(result.Image)
		if err != nil {
			return nil, err
		}
		return &Output{
			PNG:             data,
			DiffAmount:      result.DiffAmount,
			DifferentPixels: result.DifferentPixels,
		}, nil

	case FormatPanel:
		if err != nil && !errors.Is(err, diffimage.ErrDimensionMismatch) {
			return nil, err
		}

		layout := c.Layout
		if layout.PaneWidth <= 0 || layout.PaneHeight <= 0 {
			layout = render.DefaultLayout(max(baseline.Width, target.Width), max(baseline.Height, target.Height))
		}

		output := &Output{}
		var diffPane image.Image
		if err != nil {
			output.Mismatch = err
		} else {
			diffPane = result.Image
			output.DiffAmount = result.DiffAmount
			output.DifferentPixels = result.DifferentPixels
		}

		data, err := encode(layout.Panel(baseline, target, diffPane))
		if err != nil {
			return nil, err
		}
		output.PNG = data
		return output, nil

	default:
		return nil, xerrors.Errorf("unknown output format: %s", c.Format)
	}
}

func encode(img image.Image) ([]byte, error) {
	var buffer bytes.Buffer
	if err := png.Encode(&buffer, img); err != nil {
		return nil, xerrors.Errorf("failed to encode image: %w", err)
	}
	return buffer.Bytes(), nil
}

package render

import (
	"image"
	"image/color"
	"image/draw"
)

// Layout places the baseline, target and diff panes left to right, each in a
// cell of PaneWidth x PaneHeight separated by Gutter pixels.
type Layout struct {
	PaneWidth  int
	PaneHeight int
	Gutter     int
	Background color.Color
}

func DefaultLayout(paneWidth int, paneHeight int) Layout {
	return Layout{
		PaneWidth:  paneWidth,
		PaneHeight: paneHeight,
		Gutter:     4,
		Background: color.White,
	}
}

func (l Layout) Bounds() image.Rectangle {
	return image.Rect(0, 0, 3*l.PaneWidth+2*l.Gutter, l.PaneHeight)
}

func (l Layout) pane(i int) image.Rectangle {
	x := i * (l.PaneWidth + l.Gutter)
	return image.Rect(x, 0, x+l.PaneWidth, l.PaneHeight)
}

// Panel draws the two sources and, when diff is non-nil, the diff pane. A nil
// pane is left as background. Panes larger than a cell are clipped.
func (l Layout) Panel(baseline image.Image, target image.Image, diff image.Image) *image.RGBA {
	panel := image.NewRGBA(l.Bounds())

	background := l.Background
	if background == nil {
		background = color.White
	}
	draw.Draw(panel, panel.Bounds(), &image.Uniform{C: background}, image.Point{}, draw.Src)

	for i, pane := range []image.Image{baseline, target, diff} {
		if pane == nil {
			continue
		}
		draw.Draw(panel, l.pane(i), pane, pane.Bounds().Min, draw.Over)
	}

	return panel
}

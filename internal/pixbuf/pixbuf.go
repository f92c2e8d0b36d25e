package pixbuf

import (
	"errors"
	"fmt"
	"image"
	"image/color"
)

var ErrInvalidImage = errors.New("invalid image")

// Image is a decoded 8-bit RGB or RGBA buffer. The pixel at (x, y) starts at
// Pix[y*Rowstride+x*Channels]; rows may carry trailing padding.
type Image struct {
	Width     int
	Height    int
	Channels  int
	Rowstride int
	Pix       []byte
}

func (p *Image) PixOffset(x int, y int) int {
	return y*p.Rowstride + x*p.Channels
}

// ByteLength is the number of meaningful bytes in Pix: every row but the last
// includes its padding.
func (p *Image) ByteLength() int {
	if p.Width <= 0 || p.Height <= 0 {
		return 0
	}
	return (p.Height-1)*p.Rowstride + p.Width*p.Channels
}

func (p *Image) HasAlpha() bool {
	return p.Channels == 4
}

func (p *Image) Validate() error {
	switch {
	case p.Width <= 0 || p.Height <= 0:
		return fmt.Errorf("%w: non-positive size %dx%d", ErrInvalidImage, p.Width, p.Height)
	case p.Channels != 3 && p.Channels != 4:
		return fmt.Errorf("%w: unsupported channel count %d", ErrInvalidImage, p.Channels)
	case p.Rowstride < p.Width*p.Channels:
		return fmt.Errorf("%w: rowstride %d shorter than row of %d bytes", ErrInvalidImage, p.Rowstride, p.Width*p.Channels)
	case len(p.Pix) < p.ByteLength():
		return fmt.Errorf("%w: buffer holds %d bytes, need %d", ErrInvalidImage, len(p.Pix), p.ByteLength())
	}
	return nil
}

func (p *Image) ColorModel() color.Model {
	if p.HasAlpha() {
		return color.NRGBAModel
	}
	return color.RGBAModel
}

func (p *Image) Bounds() image.Rectangle {
	return image.Rect(0, 0, p.Width, p.Height)
}

func (p *Image) At(x int, y int) color.Color {
	if !(image.Point{X: x, Y: y}.In(p.Bounds())) {
		return color.RGBA{}
	}
	i := p.PixOffset(x, y)
	if p.HasAlpha() {
		s := p.Pix[i : i+4 : i+4]
		return color.NRGBA{R: s[0], G: s[1], B: s[2], A: s[3]}
	}
	s := p.Pix[i : i+3 : i+3]
	return color.RGBA{R: s[0], G: s[1], B: s[2], A: 255}
}

// alignedRowstride rounds a row up to a 4 byte boundary.
func alignedRowstride(width int, channels int) int {
	return (width*channels + 3) &^ 3
}

// New allocates a zeroed image with an aligned rowstride.
func New(width int, height int, withAlpha bool) *Image {
	channels := 3
	if withAlpha {
		channels = 4
	}
	rowstride := alignedRowstride(width, channels)
	return &Image{
		Width:     width,
		Height:    height,
		Channels:  channels,
		Rowstride: rowstride,
		Pix:       make([]byte, rowstride*height),
	}
}

// FromImage copies src into a new Image. Colors are read unpremultiplied.
func FromImage(src image.Image, withAlpha bool) *Image {
	bounds := src.Bounds()
	dst := New(bounds.Dx(), bounds.Dy(), withAlpha)

	if nrgba, ok := src.(*image.NRGBA); ok {
		for y := 0; y < dst.Height; y++ {
			srcRow := nrgba.PixOffset(bounds.Min.X, bounds.Min.Y+y)
			dstRow := dst.PixOffset(0, y)
			for x := 0; x < dst.Width; x++ {
				s := nrgba.Pix[srcRow+x*4 : srcRow+x*4+4 : srcRow+x*4+4]
				d := dstRow + x*dst.Channels
				dst.Pix[d] = s[0]
				dst.Pix[d+1] = s[1]
				dst.Pix[d+2] = s[2]
				if withAlpha {
					dst.Pix[d+3] = s[3]
				}
			}
		}
		return dst
	}

	for y := 0; y < dst.Height; y++ {
		dstRow := dst.PixOffset(0, y)
		for x := 0; x < dst.Width; x++ {
			c := color.NRGBAModel.Convert(src.At(bounds.Min.X+x, bounds.Min.Y+y)).(color.NRGBA)
			d := dstRow + x*dst.Channels
			dst.Pix[d] = c.R
			dst.Pix[d+1] = c.G
			dst.Pix[d+2] = c.B
			if withAlpha {
				dst.Pix[d+3] = c.A
			}
		}
	}
	return dst
}

// DiffImage is a tightly packed RGB buffer. The pixel at (x, y) starts at
// Pix[y*Stride+x*3].
type DiffImage struct {
	Width  int
	Height int
	Stride int
	Pix    []byte
}

// NewDiffImage allocates a black diff image. The stride is one byte-aligned
// 24-bit pixel per column.
func NewDiffImage(width int, height int) *DiffImage {
	stride := width * ((3*8 + 7) / 8)
	return &DiffImage{
		Width:  width,
		Height: height,
		Stride: stride,
		Pix:    make([]byte, stride*height),
	}
}

func (d *DiffImage) PixOffset(x int, y int) int {
	return y*d.Stride + x*3
}

func (d *DiffImage) ColorModel() color.Model {
	return color.RGBAModel
}

func (d *DiffImage) Bounds() image.Rectangle {
	return image.Rect(0, 0, d.Width, d.Height)
}

func (d *DiffImage) At(x int, y int) color.Color {
	if !(image.Point{X: x, Y: y}.In(d.Bounds())) {
		return color.RGBA{}
	}
	i := d.PixOffset(x, y)
	s := d.Pix[i : i+3 : i+3]
	return color.RGBA{R: s[0], G: s[1], B: s[2], A: 255}
}

package image

import (
	"errors"
	"testing"

	"whatschanging/internal/pixbuf"

	"github.com/google/go-cmp/cmp"
)

func createTestImage(width, height, channels, rowstride int, pixels [][]byte) *pixbuf.Image {
	img := &pixbuf.Image{
		Width:     width,
		Height:    height,
		Channels:  channels,
		Rowstride: rowstride,
		Pix:       make([]byte, rowstride*height),
	}
	for i, px := range pixels {
		copy(img.Pix[img.PixOffset(i%width, i/width):], px)
	}
	return img
}

func uniformImage(width, height, channels int, value byte) *pixbuf.Image {
	img := pixbuf.New(width, height, channels == 4)
	for i := range img.Pix {
		img.Pix[i] = value
	}
	return img
}

func TestPixelDiff_Compare(t *testing.T) {
	pd := NewPixelDiff(0)

	t.Run("SingleChangedPixel", func(t *testing.T) {
		img1 := createTestImage(2, 2, 3, 6, [][]byte{{1, 1, 1}, {2, 2, 2}, {3, 3, 3}, {4, 4, 4}})
		img2 := createTestImage(2, 2, 3, 6, [][]byte{{1, 1, 1}, {9, 9, 9}, {3, 3, 3}, {4, 4, 4}})

		diff, err := pd.Compare(img1, img2)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		want := []byte{0, 0, 0, 0, 255, 0, 0, 0, 0, 0, 0, 0}
		if d := cmp.Diff(want, diff.Pix); d != "" {
			t.Errorf("(-want +got):\n%s", d)
		}
		if diff.Stride != 6 {
			t.Errorf("Expected stride 6, got %d", diff.Stride)
		}
	})

	t.Run("IdenticalImagesAreBlack", func(t *testing.T) {
		img := uniformImage(17, 9, 4, 200)

		diff, err := pd.Compare(img, img)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if d := cmp.Diff(make([]byte, 17*9*3), diff.Pix); d != "" {
			t.Errorf("(-want +got):\n%s", d)
		}
	})

	t.Run("AlphaIsIgnored", func(t *testing.T) {
		img1 := createTestImage(2, 1, 4, 8, [][]byte{{10, 20, 30, 255}, {40, 50, 60, 0}})
		img2 := createTestImage(2, 1, 4, 8, [][]byte{{10, 20, 30, 0}, {40, 50, 60, 128}})

		diff, err := pd.Compare(img1, img2)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if d := cmp.Diff(make([]byte, 6), diff.Pix); d != "" {
			t.Errorf("(-want +got):\n%s", d)
		}
	})

	t.Run("SingleChannelDifference", func(t *testing.T) {
		img1 := createTestImage(1, 1, 3, 3, [][]byte{{10, 20, 30}})
		img2 := createTestImage(1, 1, 3, 3, [][]byte{{10, 20, 31}})

		diff, err := pd.Compare(img1, img2)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if d := cmp.Diff([]byte{0, 255, 0}, diff.Pix); d != "" {
			t.Errorf("(-want +got):\n%s", d)
		}
	})

	t.Run("PaddedRowstride", func(t *testing.T) {
		img1 := createTestImage(3, 2, 3, 12, [][]byte{{1, 1, 1}, {2, 2, 2}, {3, 3, 3}, {4, 4, 4}, {5, 5, 5}, {6, 6, 6}})
		img2 := createTestImage(3, 2, 3, 12, [][]byte{{1, 1, 1}, {2, 2, 2}, {3, 3, 3}, {4, 4, 4}, {5, 5, 5}, {7, 6, 6}})
		// Padding bytes are not pixels.
		img2.Pix[9] = 0xff
		img2.Pix[10] = 0xff

		diff, err := pd.Compare(img1, img2)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		want := []byte{
			0, 0, 0, 0, 0, 0, 0, 0, 0,
			0, 0, 0, 0, 0, 0, 0, 255, 0,
		}
		if d := cmp.Diff(want, diff.Pix); d != "" {
			t.Errorf("(-want +got):\n%s", d)
		}
	})

	t.Run("DifferentRowstridesSameByteLength", func(t *testing.T) {
		// 2x2: RGB padded to 10 bytes per row and packed RGBA both span 16 bytes.
		img1 := createTestImage(2, 2, 3, 10, [][]byte{{1, 2, 3}, {4, 5, 6}, {7, 8, 9}, {10, 11, 12}})
		img2 := createTestImage(2, 2, 4, 8, [][]byte{{1, 2, 3, 0}, {4, 5, 6, 0}, {7, 8, 0, 0}, {10, 11, 12, 0}})
		img1.Pix = img1.Pix[:img1.ByteLength()]
		img2.Pix = img2.Pix[:img2.ByteLength()]
		if img1.ByteLength() != img2.ByteLength() {
			t.Fatalf("byte lengths differ: %d != %d", img1.ByteLength(), img2.ByteLength())
		}

		diff, err := pd.Compare(img1, img2)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		want := []byte{0, 0, 0, 0, 0, 0, 0, 255, 0, 0, 0, 0}
		if d := cmp.Diff(want, diff.Pix); d != "" {
			t.Errorf("(-want +got):\n%s", d)
		}
	})

	t.Run("OutputLengthIgnoresChannelsAndPadding", func(t *testing.T) {
		for _, channels := range []int{3, 4} {
			img := uniformImage(5, 7, channels, 1)
			diff, err := pd.Compare(img, img)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(diff.Pix) != 5*7*3 {
				t.Errorf("Expected %d bytes for %d channels, got %d", 5*7*3, channels, len(diff.Pix))
			}
		}
	})

	t.Run("Symmetric", func(t *testing.T) {
		img1 := uniformImage(8, 8, 3, 0)
		img2 := uniformImage(8, 8, 3, 0)
		for _, i := range []int{0, 7, 31, 63} {
			off := img2.PixOffset(i%8, i/8)
			img2.Pix[off+1] = 42
		}

		ab, err := pd.Compare(img1, img2)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		ba, err := pd.Compare(img2, img1)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if d := cmp.Diff(ab.Pix, ba.Pix); d != "" {
			t.Errorf("(-ab +ba):\n%s", d)
		}
	})

	t.Run("SizeMismatch", func(t *testing.T) {
		img1 := uniformImage(10, 10, 3, 0)
		img2 := uniformImage(10, 11, 3, 0)

		diff, err := pd.Compare(img1, img2)
		if !errors.Is(err, ErrDimensionMismatch) {
			t.Errorf("Expected ErrDimensionMismatch, got %v", err)
		}
		if diff != nil {
			t.Errorf("Expected no diff image, got %v", diff)
		}
	})

	t.Run("ChannelMismatch", func(t *testing.T) {
		img1 := uniformImage(10, 10, 3, 0)
		img2 := uniformImage(10, 10, 4, 0)

		if _, err := pd.Compare(img1, img2); !errors.Is(err, ErrDimensionMismatch) {
			t.Errorf("Expected ErrDimensionMismatch, got %v", err)
		}
	})

	t.Run("InvalidImage", func(t *testing.T) {
		img1 := uniformImage(4, 4, 3, 0)
		img2 := uniformImage(4, 4, 3, 0)
		img2.Pix = img2.Pix[:10]

		if _, err := pd.Compare(img1, img2); !errors.Is(err, pixbuf.ErrInvalidImage) {
			t.Errorf("Expected ErrInvalidImage, got %v", err)
		}
	})

	t.Run("NilImage", func(t *testing.T) {
		img := uniformImage(1, 1, 3, 0)

		for _, pair := range [][2]*pixbuf.Image{{nil, img}, {img, nil}, {nil, nil}} {
			if _, err := pd.Compare(pair[0], pair[1]); !errors.Is(err, pixbuf.ErrInvalidImage) {
				t.Errorf("Expected ErrInvalidImage, got %v", err)
			}
		}
	})
}

func TestPixelDiff_Calculate(t *testing.T) {
	t.Run("NoDifference", func(t *testing.T) {
		result, err := NewPixelDiff(0).Calculate(uniformImage(100, 100, 3, 255), uniformImage(100, 100, 3, 255))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if result.DiffAmount != 0.0 {
			t.Errorf("Expected DiffAmount to be 0.0, got %f", result.DiffAmount)
		}
	})

	t.Run("CompleteDifference", func(t *testing.T) {
		result, err := NewPixelDiff(0).Calculate(uniformImage(100, 100, 3, 255), uniformImage(100, 100, 3, 0))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if result.DiffAmount != 1.0 {
			t.Errorf("Expected DiffAmount to be 1.0, got %f", result.DiffAmount)
		}
		if result.DifferentPixels != 100*100 {
			t.Errorf("Expected 10000 different pixels, got %d", result.DifferentPixels)
		}
	})

	t.Run("PartialDifferenceAcrossWorkerCounts", func(t *testing.T) {
		img1 := uniformImage(100, 100, 3, 255)
		img2 := uniformImage(100, 100, 3, 255)
		for y := 0; y < 50; y++ {
			for x := 0; x < 100; x++ {
				img2.Pix[img2.PixOffset(x, y)] = 0
			}
		}

		var first *DiffResult
		for _, workers := range []int{1, 3, 7, 100, 1000} {
			result, err := NewPixelDiff(workers).Calculate(img1, img2)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if result.DiffAmount != 0.5 {
				t.Errorf("workers=%d: Expected DiffAmount to be 0.5, got %f", workers, result.DiffAmount)
			}
			if first == nil {
				first = result
				continue
			}
			if d := cmp.Diff(first.Image.Pix, result.Image.Pix); d != "" {
				t.Errorf("workers=%d: (-first +got):\n%s", workers, d)
			}
		}
	})
}

func BenchmarkPixelDiff_Calculate_Small(b *testing.B) {
	pd := NewPixelDiff(0)
	img1 := uniformImage(1920, 1080, 3, 255)
	img2 := uniformImage(1920, 1080, 3, 255)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = pd.Calculate(img1, img2)
	}
}

func BenchmarkPixelDiff_Calculate_Large(b *testing.B) {
	pd := NewPixelDiff(0)
	img1 := uniformImage(3840, 2160, 4, 255)
	img2 := uniformImage(3840, 2160, 4, 255)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = pd.Calculate(img1, img2)
	}
}

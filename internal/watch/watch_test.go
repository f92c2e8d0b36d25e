package watch

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"whatschanging/internal/comparison"
	diffimage "whatschanging/internal/diff/image"
	"whatschanging/internal/loader"
	"whatschanging/internal/storage"
)

func writePNG(t *testing.T, path string, width, height int, c color.Color) {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, c)
		}
	}
	var buffer bytes.Buffer
	if err := png.Encode(&buffer, img); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, buffer.Bytes(), 0644); err != nil {
		t.Fatal(err)
	}
}

func newWatcher(t *testing.T, baseline, target, format string) (*Watcher, string) {
	t.Helper()
	out := t.TempDir()
	s, err := storage.NewFileStorage(context.Background(), storage.FileConfig{Directory: out})
	if err != nil {
		t.Fatal(err)
	}
	return &Watcher{
		Baseline: baseline,
		Target:   target,
		Loader:   &loader.Loader{},
		Comparer: &comparison.Comparer{Differ: diffimage.NewPixelDiff(0), Format: format},
		Storage:  s,
		now: func() time.Time {
			return time.Date(2026, 10, 18, 0, 0, 0, 0, time.UTC)
		},
	}, out
}

func TestWatcher_Once(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.png")
	b := filepath.Join(dir, "b.png")
	c := filepath.Join(dir, "c.png")
	writePNG(t, a, 4, 4, color.White)
	writePNG(t, b, 4, 4, color.Black)
	writePNG(t, c, 5, 4, color.Black)

	t.Run("Stores", func(t *testing.T) {
		w, out := newWatcher(t, a, b, comparison.FormatDiff)
		var got []Tick
		w.OnTick = func(tick Tick) { got = append(got, tick) }

		tick := w.Once(context.Background())
		if tick.Err != nil {
			t.Fatalf("unexpected error: %v", tick.Err)
		}
		if tick.DiffAmount != 1.0 {
			t.Errorf("Expected DiffAmount 1.0, got %f", tick.DiffAmount)
		}
		if filepath.Dir(filepath.Dir(filepath.Dir(tick.URL))) != filepath.Join(out, "Whatschanging") {
			t.Errorf("unexpected URL %s", tick.URL)
		}
		if _, err := os.Stat(tick.URL); err != nil {
			t.Errorf("Expected stored diff: %v", err)
		}
		if len(got) != 1 {
			t.Errorf("Expected 1 tick, got %d", len(got))
		}
	})

	t.Run("MismatchSkipsDiff", func(t *testing.T) {
		w, _ := newWatcher(t, a, c, comparison.FormatDiff)

		tick := w.Once(context.Background())
		if !errors.Is(tick.Err, diffimage.ErrDimensionMismatch) {
			t.Errorf("Expected ErrDimensionMismatch, got %v", tick.Err)
		}
		if tick.URL != "" {
			t.Errorf("Expected nothing stored, got %s", tick.URL)
		}
	})

	t.Run("MismatchPanelStillStored", func(t *testing.T) {
		w, _ := newWatcher(t, a, c, comparison.FormatPanel)

		tick := w.Once(context.Background())
		if !errors.Is(tick.Err, diffimage.ErrDimensionMismatch) {
			t.Errorf("Expected ErrDimensionMismatch, got %v", tick.Err)
		}
		if tick.URL == "" {
			t.Error("Expected the panel to be stored")
		}
	})

	t.Run("MissingSource", func(t *testing.T) {
		w, _ := newWatcher(t, a, filepath.Join(dir, "missing.png"), comparison.FormatDiff)

		if tick := w.Once(context.Background()); tick.Err == nil {
			t.Error("Expected an error for a missing source")
		}
	})
}

func TestWatcher_Run(t *testing.T) {
	w, _ := newWatcher(t, "a.png", "b.png", comparison.FormatDiff)

	if err := w.Run(context.Background(), "not a schedule"); err == nil {
		t.Error("Expected an error for an invalid schedule")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := w.Run(ctx, "@every 1h"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

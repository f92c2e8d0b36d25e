package watch

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"whatschanging/internal/comparison"
	diffimage "whatschanging/internal/diff/image"
	"whatschanging/internal/loader"
	"whatschanging/internal/storage"

	"github.com/robfig/cron/v3"
	"golang.org/x/xerrors"
)

// Tick is the outcome of one scheduled comparison.
type Tick struct {
	Time            time.Time
	URL             string
	DiffAmount      float64
	DifferentPixels int64
	Err             error
}

type Watcher struct {
	Baseline string
	Target   string

	Loader   *loader.Loader
	Comparer *comparison.Comparer
	Storage  storage.Storage
	Logger   *slog.Logger

	// OnTick, when set, receives every outcome.
	OnTick func(Tick)

	now func() time.Time
}

// Run compares on every activation of schedule, a standard five field cron
// expression, until ctx is done.
func (w *Watcher) Run(ctx context.Context, schedule string) error {
	s, err := cron.ParseStandard(schedule)
	if err != nil {
		return xerrors.Errorf("failed to parse schedule %q: %w", schedule, err)
	}

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	c.Schedule(s, cron.FuncJob(func() {
		w.Once(ctx)
	}))

	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()

	return nil
}

// Once runs a single comparison. A dimension mismatch is logged and does not
// stop the watcher.
func (w *Watcher) Once(ctx context.Context) Tick {
	tick := Tick{Time: w.clock()}

	output, err := w.compare(ctx, tick.Time)
	switch {
	case err != nil:
		tick.Err = err
		w.logger().Error("failed to compare", "baseline", w.Baseline, "target", w.Target, "error", err)
	default:
		tick.URL = output.url
		tick.DiffAmount = output.DiffAmount
		tick.DifferentPixels = output.DifferentPixels
		if output.Mismatch != nil {
			tick.Err = output.Mismatch
			w.logger().Warn("images differ in size, skipped diff pane", "baseline", w.Baseline, "target", w.Target, "url", tick.URL, "error", output.Mismatch)
		} else {
			w.logger().Info("compared", "baseline", w.Baseline, "target", w.Target, "url", tick.URL, "diffAmount", tick.DiffAmount, "differentPixels", tick.DifferentPixels)
		}
	}

	if w.OnTick != nil {
		w.OnTick(tick)
	}
	return tick
}

type storedOutput struct {
	*comparison.Output
	url string
}

func (w *Watcher) compare(ctx context.Context, now time.Time) (*storedOutput, error) {
	baseline, target, err := w.Loader.LoadPair(ctx, w.Baseline, w.Target)
	if err != nil {
		return nil, err
	}

	output, err := w.Comparer.Compare(baseline, target)
	if err != nil {
		if errors.Is(err, diffimage.ErrDimensionMismatch) {
			return nil, xerrors.Errorf("skipped: %w", err)
		}
		return nil, xerrors.Errorf("failed to compare: %w", err)
	}

	url, err := w.Storage.Put(ctx, storage.DiffKey(w.Baseline, w.Target, "png", now), output.PNG)
	if err != nil {
		return nil, xerrors.Errorf("failed to store comparison: %w", err)
	}

	return &storedOutput{Output: output, url: url}, nil
}

func (w *Watcher) clock() time.Time {
	if w.now != nil {
		return w.now()
	}
	return time.Now()
}

func (w *Watcher) logger() *slog.Logger {
	if w.Logger != nil {
		return w.Logger
	}
	return slog.Default()
}

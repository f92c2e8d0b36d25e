package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"whatschanging/internal/callback"
	"whatschanging/internal/capture"
	"whatschanging/internal/comparison"
	diffimage "whatschanging/internal/diff/image"
	"whatschanging/internal/env"
	"whatschanging/internal/loader"
	"whatschanging/internal/render"
	"whatschanging/internal/storage"
	"whatschanging/internal/watch"

	"github.com/playwright-community/playwright-go"
)

type TickOutput struct {
	DiffPath        string  `json:"diffPath,omitempty"`
	DiffAmount      float64 `json:"diffAmount"`
	DifferentPixels int64   `json:"differentPixels"`
	Error           string  `json:"error,omitempty"`
}

func main() {
	if err := env.Load(); err != nil {
		log.Fatalf("Failed to load environment: %v", err)
	}

	var schedule string
	var width int
	var height int
	var format string
	var storageBackend string
	var directory string
	var callbackURL string
	var debug bool
	flag.StringVar(&schedule, "schedule", env.OrDefault("SCHEDULE", "*/5 * * * *"), "Cron schedule to compare on")
	flag.IntVar(&width, "width", env.OrDefault("WIDTH", 346), "Decode width, 0 keeps the native width")
	flag.IntVar(&height, "height", env.OrDefault("HEIGHT", 382), "Decode height, 0 keeps the native height")
	flag.StringVar(&format, "format", env.OrDefault("FORMAT", comparison.FormatPanel), "Output format (diff or panel)")
	flag.StringVar(&storageBackend, "storage-backend", env.OrDefault("STORAGE_BACKEND", "file"), "Storage backend (file or s3)")
	flag.StringVar(&directory, "directory", env.OrDefault("DIRECTORY", "/tmp"), "Output directory")
	flag.StringVar(&callbackURL, "callback-url", env.OrDefault("CALLBACK_URL", ""), "Callback URL to send every result to")
	flag.BoolVar(&debug, "debug", env.OrDefault("DEBUG", false), "Enable text logs")
	flag.Parse()

	args := flag.Args()
	if len(args) != 2 {
		log.Fatalf("baseline, target not specified")
	}

	logger, err := env.NewLogger(debug)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	s, err := storage.New(ctx, storage.Config{
		Backend:   storageBackend,
		Directory: directory,
		Bucket:    env.OrDefault("S3_BUCKET", ""),
	})
	if err != nil {
		log.Fatalf("Failed to create storage backend: %v", err)
	}

	l := &loader.Loader{
		Width:     width,
		Height:    height,
		MaxPixels: env.OrDefault("MAX_DECODE_PIXELS", int64(loader.DefaultMaxPixels)),
		Storage:   s,
		Logger:    logger,
	}
	for _, source := range args {
		if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
			if err := playwright.Install(&playwright.RunOptions{
				Browsers: []string{"chromium"},
			}); err != nil {
				log.Fatalf("Failed to install playwright browsers: %v", err)
			}
			config := capture.DefaultPlaywrightConfig()
			config.ChromeDevtoolsProtocolURL = env.OrDefault("CHROME_DEVTOOLS_PROTOCOL_URL", "")
			l.Capturer, err = capture.NewPlaywrightCapturer(ctx, config)
			if err != nil {
				log.Fatalf("Failed to initialize capturer: %v", err)
			}
			break
		}
	}

	w := &watch.Watcher{
		Baseline: args[0],
		Target:   args[1],
		Loader:   l,
		Comparer: &comparison.Comparer{
			Differ: diffimage.NewPixelDiff(env.OrDefault("DIFF_WORKERS", 0)),
			Format: format,
			Layout: render.DefaultLayout(width, height),
		},
		Storage: s,
		Logger:  logger,
	}
	if callbackURL != "" {
		client := callback.NewClient()
		w.OnTick = func(tick watch.Tick) {
			output := TickOutput{
				DiffPath:        tick.URL,
				DiffAmount:      tick.DiffAmount,
				DifferentPixels: tick.DifferentPixels,
			}
			if tick.Err != nil {
				output.Error = tick.Err.Error()
			}
			j, err := json.Marshal(output)
			if err != nil {
				logger.Error("failed to encode result", "error", err)
				return
			}
			if err := client.Send(ctx, callbackURL, j); err != nil {
				logger.Error("failed to send callback", "url", callbackURL, "error", err)
			}
		}
	}

	logger.Info("watching", "baseline", w.Baseline, "target", w.Target, "schedule", schedule)
	if err := w.Run(ctx, schedule); err != nil {
		logger.Error("watcher failed", "error", err)
		os.Exit(1)
	}
}

package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"whatschanging/internal/callback"
	"whatschanging/internal/capture"
	"whatschanging/internal/comparison"
	diffimage "whatschanging/internal/diff/image"
	"whatschanging/internal/env"
	"whatschanging/internal/loader"
	"whatschanging/internal/render"
	"whatschanging/internal/storage"

	"github.com/dustin/go-humanize"
	"github.com/playwright-community/playwright-go"
	"golang.org/x/xerrors"
)

type DiffOutput struct {
	DiffPath        string  `json:"diffPath,omitempty"`
	DiffAmount      float64 `json:"diffAmount"`
	DifferentPixels int64   `json:"differentPixels"`
	Error           string  `json:"error,omitempty"`
}

func main() {
	if err := env.Load(); err != nil {
		log.Fatalf("Failed to load environment: %v", err)
	}

	var width int
	var height int
	var format string
	var storageBackend string
	var directory string
	var callbackURL string
	var workers int
	var debug bool
	flag.IntVar(&width, "width", env.OrDefault("WIDTH", 346), "Decode width, 0 keeps the native width")
	flag.IntVar(&height, "height", env.OrDefault("HEIGHT", 382), "Decode height, 0 keeps the native height")
	flag.StringVar(&format, "format", env.OrDefault("FORMAT", comparison.FormatPanel), "Output format (diff or panel)")
	flag.StringVar(&storageBackend, "storage-backend", env.OrDefault("STORAGE_BACKEND", "file"), "Storage backend (file or s3)")
	flag.StringVar(&directory, "directory", env.OrDefault("DIRECTORY", "/tmp"), "Output directory")
	flag.StringVar(&callbackURL, "callback-url", env.OrDefault("CALLBACK_URL", ""), "Callback URL to send results to")
	flag.IntVar(&workers, "workers", env.OrDefault("DIFF_WORKERS", 0), "Goroutines comparing rows, 0 uses GOMAXPROCS")
	flag.BoolVar(&debug, "debug", env.OrDefault("DEBUG", false), "Enable text logs")
	flag.Parse()

	args := flag.Args()
	if len(args) != 2 {
		log.Fatalf("baseline, target not specified")
	}
	baseline := args[0]
	target := args[1]

	logger, err := env.NewLogger(debug)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}

	ctx := context.Background()

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
	if isPage(baseline) || isPage(target) {
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
	}

	baselineImage, targetImage, err := l.LoadPair(ctx, baseline, target)
	if err != nil {
		log.Fatalf("Failed to load images: %v", err)
	}

	comparer := &comparison.Comparer{
		Differ: diffimage.NewPixelDiff(workers),
		Format: format,
		Layout: render.DefaultLayout(width, height),
	}
	output, err := comparer.Compare(baselineImage, targetImage)
	if errors.Is(err, diffimage.ErrDimensionMismatch) {
		if err := report(ctx, callbackURL, DiffOutput{Error: err.Error()}); err != nil {
			log.Printf("Failed to report mismatch: %v", err)
		}
		os.Exit(1)
	}
	if err != nil {
		log.Fatalf("Failed to compare images: %v", err)
	}

	diffPath, err := s.Put(ctx, storage.DiffKey(baseline, target, "png", time.Now()), output.PNG)
	if err != nil {
		log.Fatalf("Failed to save diff image: %v", err)
	}
	logger.Debug("saved diff", "path", diffPath, "size", humanize.Bytes(uint64(len(output.PNG))))

	result := DiffOutput{
		DiffPath:        diffPath,
		DiffAmount:      output.DiffAmount,
		DifferentPixels: output.DifferentPixels,
	}
	if output.Mismatch != nil {
		result.Error = output.Mismatch.Error()
	}

	if err := report(ctx, callbackURL, result); err != nil {
		log.Fatalf("Failed to report result: %v", err)
	}
}

// report prints output as JSON, or PATCHes it to callbackURL when one is set.
func report(ctx context.Context, callbackURL string, output DiffOutput) error {
	j, err := json.Marshal(output)
	if err != nil {
		return xerrors.Errorf("failed to encode result: %w", err)
	}

	if callbackURL == "" {
		fmt.Println(string(j))
		return nil
	}
	return callback.NewClient().Send(ctx, callbackURL, j)
}

func isPage(source string) bool {
	return strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://")
}

package capture

import (
	"context"
	"time"

	"github.com/playwright-community/playwright-go"
	"golang.org/x/xerrors"
)

type PlaywrightConfig struct {
	ViewportWidth  int
	ViewportHeight int

	FullPage bool
	Format   string
	Quality  int

	Timeout time.Duration
	// Delay lets animations settle after the network goes idle.
	Delay time.Duration

	Headless bool
	// ChromeDevtoolsProtocolURL connects to a running browser instead of
	// launching one.
	ChromeDevtoolsProtocolURL string
}

// DefaultPlaywrightConfig captures lossless screenshots; a lossy format would
// mark compression noise as changed pixels.
func DefaultPlaywrightConfig() PlaywrightConfig {
	return PlaywrightConfig{
		ViewportWidth:  1280,
		ViewportHeight: 720,
		Format:         "png",
		Timeout:        30 * time.Second,
		Delay:          1 * time.Second,
		Headless:       true,
	}
}

type playwrightCapturer struct {
	config PlaywrightConfig
}

func NewPlaywrightCapturer(ctx context.Context, p PlaywrightConfig) (Capturer, error) {
	return &playwrightCapturer{
		config: p,
	}, nil
}

func (c *playwrightCapturer) Capture(ctx context.Context, url string) (*CaptureResult, error) {
	pw, err := playwright.Run()
	if err != nil {
		return nil, xerrors.Errorf("failed to start playwright: %w", err)
	}
	defer pw.Stop()

	browser, err := c.browser(pw)
	if err != nil {
		return nil, err
	}
	if c.config.ChromeDevtoolsProtocolURL == "" {
		defer browser.Close()
	}

	page, err := browser.NewPage()
	if err != nil {
		return nil, xerrors.Errorf("failed to open page: %w", err)
	}
	defer page.Close()

	if err := page.SetViewportSize(c.config.ViewportWidth, c.config.ViewportHeight); err != nil {
		return nil, xerrors.Errorf("failed to set viewport: %w", err)
	}

	// Closing the page aborts a pending Goto when ctx is cancelled.
	stop := context.AfterFunc(ctx, func() {
		_ = page.Close()
	})
	defer stop()

	if _, err := page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateNetworkidle,
		Timeout:   playwright.Float(float64(c.config.Timeout.Milliseconds())),
	}); err != nil {
		return nil, xerrors.Errorf("failed to load %s: %w", url, err)
	}

	if c.config.Delay > 0 {
		timer := time.NewTimer(c.config.Delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		}
	}

	options, format := c.screenshotOptions()
	screenshot, err := page.Screenshot(options)
	if err != nil {
		return nil, xerrors.Errorf("failed to screenshot %s: %w", url, err)
	}

	return &CaptureResult{
		Screenshot: screenshot,
		Format:     format,
	}, nil
}

func (c *playwrightCapturer) browser(pw *playwright.Playwright) (playwright.Browser, error) {
	if c.config.ChromeDevtoolsProtocolURL != "" {
		browser, err := pw.Chromium.ConnectOverCDP(c.config.ChromeDevtoolsProtocolURL)
		if err != nil {
			return nil, xerrors.Errorf("failed to connect over CDP to %s: %w", c.config.ChromeDevtoolsProtocolURL, err)
		}
		return browser, nil
	}

	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(c.config.Headless),
	})
	if err != nil {
		return nil, xerrors.Errorf("failed to launch chromium: %w", err)
	}
	return browser, nil
}

func (c *playwrightCapturer) screenshotOptions() (playwright.PageScreenshotOptions, string) {
	options := playwright.PageScreenshotOptions{
		FullPage: playwright.Bool(c.config.FullPage),
	}
	if c.config.Format != "jpeg" {
		options.Type = playwright.ScreenshotTypePng
		return options, "png"
	}

	options.Type = playwright.ScreenshotTypeJpeg
	if c.config.Quality > 0 {
		options.Quality = playwright.Int(c.config.Quality)
	}
	return options, "jpeg"
}

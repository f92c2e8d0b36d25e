package capture

import (
	"context"
)

type CaptureResult struct {
	Screenshot []byte
	// Format is "png" or "jpeg".
	Format string
}

type Capturer interface {
	Capture(ctx context.Context, url string) (*CaptureResult, error)
}

package routes

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"whatschanging/internal/comparison"
	diffimage "whatschanging/internal/diff/image"
	"whatschanging/internal/loader"
	"whatschanging/internal/myhttp"
	"whatschanging/internal/storage"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/xerrors"
)

type DiffResponse struct {
	DiffData        string  `json:"diffData,omitempty"`
	DiffPath        string  `json:"diffPath,omitempty"`
	DiffAmount      float64 `json:"diffAmount"`
	DifferentPixels int64   `json:"differentPixels"`
	Error           string  `json:"error,omitempty"`
}

type DiffMetrics struct {
	DiffAmount        metric.Float64Histogram
	DimensionMismatch metric.Int64Counter
}

type DiffConfig struct {
	Differ diffimage.Differ
	// Width and Height are the default decode size, overridable per request.
	Width  int
	Height int
	// MaxPixels bounds each decoded image, see loader.DecodeWithLimit.
	MaxPixels int64
	Storage   storage.Storage
	Metrics *DiffMetrics
}

// Diff handles multipart uploads of "baseline" and "target" images.
func Diff(c DiffConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := myhttp.Logger(r.Context())

		if err := r.ParseMultipartForm(32 << 20); err != nil {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}

		format := r.FormValue("format")
		if format == "" {
			format = comparison.FormatDiff
		}
		if format != comparison.FormatDiff && format != comparison.FormatPanel {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}

		width, err := intFormValue(r, "width", c.Width)
		if err != nil {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
		height, err := intFormValue(r, "height", c.Height)
		if err != nil {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}

		baselineData, err := formFileBytes(r, "baseline")
		if err != nil {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
		targetData, err := formFileBytes(r, "target")
		if err != nil {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}

		baselineImage, err := loader.DecodeWithLimit(baselineData, width, height, false, c.MaxPixels)
		if err != nil {
			logger.Info("rejected baseline", "error", err)
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
		targetImage, err := loader.DecodeWithLimit(targetData, width, height, false, c.MaxPixels)
		if err != nil {
			logger.Info("rejected target", "error", err)
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}

		comparer := &comparison.Comparer{
			Differ: c.Differ,
			Format: format,
		}
		output, err := comparer.Compare(baselineImage, targetImage)
		if errors.Is(err, diffimage.ErrDimensionMismatch) {
			c.recordMismatch(r, format)
			writeJSON(w, http.StatusUnprocessableEntity, DiffResponse{
				Error: err.Error(),
			})
			return
		}
		if err != nil {
			logger.Error("failed to compare images", "error", err)
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}

		response := DiffResponse{
			DiffData:        base64.StdEncoding.EncodeToString(output.PNG),
			DiffAmount:      output.DiffAmount,
			DifferentPixels: output.DifferentPixels,
		}
		if output.Mismatch != nil {
			c.recordMismatch(r, format)
			response.Error = output.Mismatch.Error()
		} else if c.Metrics != nil {
			c.Metrics.DiffAmount.Record(r.Context(), output.DiffAmount, metric.WithAttributes(
				attribute.Key("format").String(format),
			))
		}

		if c.Storage != nil {
			key := storage.DiffKey(headerFilename(r, "baseline"), headerFilename(r, "target"), "png", time.Now())
			path, err := c.Storage.Put(r.Context(), key, output.PNG)
			if err != nil {
				logger.Error("failed to store diff", "error", err)
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				return
			}
			response.DiffPath = path
		}

		writeJSON(w, http.StatusOK, response)
	}
}

func (c DiffConfig) recordMismatch(r *http.Request, format string) {
	if c.Metrics == nil {
		return
	}
	c.Metrics.DimensionMismatch.Add(r.Context(), 1, metric.WithAttributes(
		attribute.Key("format").String(format),
	))
}

func intFormValue(r *http.Request, key string, defaultValue int) (int, error) {
	v := r.FormValue(key)
	if v == "" {
		return defaultValue, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, xerrors.Errorf("invalid %s: %w", key, err)
	}
	return i, nil
}

func formFileBytes(r *http.Request, key string) ([]byte, error) {
	file, _, err := r.FormFile(key)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return io.ReadAll(file)
}

func headerFilename(r *http.Request, key string) string {
	var header *multipart.FileHeader
	if headers := r.MultipartForm.File[key]; len(headers) > 0 {
		header = headers[0]
	}
	if header == nil {
		return key
	}
	return header.Filename
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

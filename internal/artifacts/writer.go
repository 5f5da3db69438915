// Package artifacts writes failure evidence, crawl reports and step trails
// to the results directory.
package artifacts

import (
	"bytes"
	"context"
	"fmt"
	"image/png"
	"os"
	"path/filepath"
	"time"

	json "github.com/json-iterator/go"
	"github.com/nfnt/resize"
	"github.com/rs/zerolog"

	"github.com/v0xg/astarcheck/internal/browser"
	"github.com/v0xg/astarcheck/internal/config"
)

const stampLayout = "20060102-150405"

// Writer places artifacts under Dir.
type Writer struct {
	Dir            string
	ThumbnailWidth uint
	Now            func() time.Time
	Logger         zerolog.Logger
}

// NewWriter builds a writer from the artifacts configuration.
func NewWriter(cfg config.ArtifactsConfig, logger zerolog.Logger) *Writer {
	return &Writer{
		Dir:            cfg.Dir,
		ThumbnailWidth: cfg.ThumbnailWidth,
		Now:            time.Now,
		Logger:         logger,
	}
}

// Capture lists the files written for one failure. Empty fields were not
// captured.
type Capture struct {
	Screenshot string
	Thumbnail  string
	HTML       string
}

// CaptureFailure saves a full-page screenshot, a thumbnail of it and the page HTML as
// <flow>-error-<timestamp>.*. Each piece is attempted even if an earlier one
// fails; the first error is returned.
func (w *Writer) CaptureFailure(ctx context.Context, page browser.Page, flow string) (Capture, error) {
	var out Capture
	if err := os.MkdirAll(w.Dir, 0o755); err != nil {
		return out, fmt.Errorf("create artifacts dir: %w", err)
	}
	stem := fmt.Sprintf("%s-error-%s", flow, w.now().Format(stampLayout))
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	shot, err := page.Screenshot(ctx, true)
	if err == nil {
		out.Screenshot, err = w.write(stem+".png", shot)
	}
	keep(err)

	if err == nil && w.ThumbnailWidth > 0 {
		out.Thumbnail, err = w.writeThumbnail(stem+"-thumb.png", shot)
		keep(err)
	}

	html, err := page.HTML(ctx)
	if err == nil {
		out.HTML, err = w.write(stem+".html", []byte(html))
	}
	keep(err)

	w.Logger.Info().
		Str("flow", flow).
		Str("screenshot", out.Screenshot).
		Str("html", out.HTML).
		Msg("Captured failure artifacts")
	return out, firstErr
}

func (w *Writer) writeThumbnail(name string, shot []byte) (string, error) {
	img, err := png.Decode(bytes.NewReader(shot))
	if err != nil {
		return "", fmt.Errorf("decode screenshot: %w", err)
	}
	width := w.ThumbnailWidth
	if width > uint(img.Bounds().Dx()) {
		width = uint(img.Bounds().Dx())
	}
	thumb := resize.Resize(width, 0, img, resize.Lanczos3)
	var buf bytes.Buffer
	if err := png.Encode(&buf, thumb); err != nil {
		return "", fmt.Errorf("encode thumbnail: %w", err)
	}
	return w.write(name, buf.Bytes())
}

// WriteJSON writes v as indented JSON to name and returns the path.
func (w *Writer) WriteJSON(name string, v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal %s: %w", name, err)
	}
	if err := os.MkdirAll(w.Dir, 0o755); err != nil {
		return "", fmt.Errorf("create artifacts dir: %w", err)
	}
	return w.write(name, append(data, '\n'))
}

// WriteTrail encodes t as <flow>-trail-<timestamp>.gif. An empty trail
// writes nothing and returns an empty path.
func (w *Writer) WriteTrail(flow string, t *Trail) (string, error) {
	if t.Len() == 0 {
		return "", nil
	}
	if err := os.MkdirAll(w.Dir, 0o755); err != nil {
		return "", fmt.Errorf("create artifacts dir: %w", err)
	}
	var buf bytes.Buffer
	if err := t.Encode(&buf); err != nil {
		return "", fmt.Errorf("encode trail: %w", err)
	}
	path, err := w.write(fmt.Sprintf("%s-trail-%s.gif", flow, w.now().Format(stampLayout)), buf.Bytes())
	if err == nil {
		w.Logger.Info().Str("flow", flow).Str("path", path).Int("frames", t.Len()).Msg("Wrote step trail")
	}
	return path, err
}

func (w *Writer) write(name string, data []byte) (string, error) {
	path := filepath.Join(w.Dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", name, err)
	}
	return path, nil
}

func (w *Writer) now() time.Time {
	if w.Now == nil {
		return time.Now()
	}
	return w.Now()
}

package artifacts

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/draw"
	"image/gif"
	"image/png"
	"io"
	"sort"
	"sync"

	"github.com/nfnt/resize"
	"github.com/rs/zerolog"

	"github.com/v0xg/astarcheck/internal/walker"
)

// FrameDelay is how long each trail frame shows, in hundredths of a second.
const FrameDelay = 80

// Trail collects one frame per walker step.
type Trail struct {
	// Width is the output frame width; zero keeps the screenshot width.
	Width  uint
	Logger zerolog.Logger

	mu     sync.Mutex
	frames []image.Image
}

// NewTrail returns an empty trail.
func NewTrail(width uint, logger zerolog.Logger) *Trail {
	return &Trail{Width: width, Logger: logger}
}

// Observe is a walker.Observer. It screenshots the page after each step and
// rings the element the step acted on. Capture errors are logged, never
// returned, so a trail cannot fail a flow.
func (t *Trail) Observe(ctx context.Context, ev walker.Event) {
	if ev.Skipped {
		return
	}
	// Viewport only, so Center coordinates line up with the frame
	raw, err := ev.Page.Screenshot(ctx, false)
	if err != nil {
		t.Logger.Debug().Err(err).Str("step", ev.Step.Name).Msg("Trail screenshot failed")
		return
	}
	frame, err := png.Decode(bytes.NewReader(raw))
	if err != nil {
		t.Logger.Debug().Err(err).Str("step", ev.Step.Name).Msg("Trail frame decode failed")
		return
	}
	// Ring the element the step acted on
	if ev.Element != nil {
		if x, y, err := ev.Element.Center(ctx); err == nil {
			frame = Mark(frame, int(x), int(y))
		}
	}

	t.mu.Lock()
	t.frames = append(t.frames, frame)
	t.mu.Unlock()
}

// Len returns the number of frames.
func (t *Trail) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.frames)
}

// Encode writes the frames as a looping GIF.
func (t *Trail) Encode(w io.Writer) error {
	t.mu.Lock()
	frames := append([]image.Image(nil), t.frames...)
	t.mu.Unlock()
	if len(frames) == 0 {
		return nil
	}

	// Scale every frame to the first frame's aspect ratio
	bounds := frames[0].Bounds()
	width := t.Width
	if width == 0 || width > uint(bounds.Dx()) {
		width = uint(bounds.Dx())
	}
	height := uint(float64(width) * float64(bounds.Dy()) / float64(bounds.Dx()))

	g := &gif.GIF{
		Image: make([]*image.Paletted, len(frames)),
		Delay: make([]int, len(frames)),
	}
	palette := buildPalette(frames[0])
	for i, frame := range frames {
		// Resize frame
		resized := resize.Resize(width, height, frame, resize.Lanczos3)
		// Convert to paletted image with dithering
		paletted := image.NewPaletted(resized.Bounds(), palette)
		draw.FloydSteinberg.Draw(paletted, resized.Bounds(), resized, image.Point{})
		g.Image[i] = paletted
		g.Delay[i] = FrameDelay
	}
	return gif.EncodeAll(w, g)
}

// buildPalette picks the most frequent colours of a sampled frame, keeping
// room for the marker colours.
func buildPalette(img image.Image) color.Palette {
	bounds := img.Bounds()
	counts := make(map[color.RGBA]int)
	const step = 4
	for y := bounds.Min.Y; y < bounds.Max.Y; y += step {
		for x := bounds.Min.X; x < bounds.Max.X; x += step {
			r, g, b, _ := img.At(x, y).RGBA()
			counts[color.RGBA{uint8(r >> 8), uint8(g >> 8), uint8(b >> 8), 255}]++
		}
	}

	type colorCount struct {
		c     color.RGBA
		count int
	}
	// Rank by frequency, breaking ties by RGB value so output is stable
	ranked := make([]colorCount, 0, len(counts))
	for c, n := range counts {
		ranked = append(ranked, colorCount{c, n})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].count != ranked[j].count {
			return ranked[i].count > ranked[j].count
		}
		a, b := ranked[i].c, ranked[j].c
		return uint32(a.R)<<16|uint32(a.G)<<8|uint32(a.B) < uint32(b.R)<<16|uint32(b.G)<<8|uint32(b.B)
	})

	palette := color.Palette{ringColor, crossColor}
	for i := 0; i < len(ranked) && len(palette) < 256; i++ {
		if ranked[i].c != ringColor && ranked[i].c != crossColor {
			palette = append(palette, ranked[i].c)
		}
	}
	// Pad with greys
	for len(palette) < 256 {
		gray := uint8(len(palette))
		palette = append(palette, color.RGBA{gray, gray, gray, 255})
	}
	return palette
}

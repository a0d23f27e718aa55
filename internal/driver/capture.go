// File: internal/driver/capture.go
// Reference ScreenCapturer implementations. Real capture requires a native
// OS hook and ships as a separate binary; these drivers feed the pipeline
// from injected images or a directory of PNG frames, which is what dry runs
// and the test suite use.
package driver

import (
	"context"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/riftlab/automaton/api/schemas"
)

var (
	_ schemas.ScreenCapturer = (*StaticCapturer)(nil)
	_ schemas.ScreenCapturer = (*FileCapturer)(nil)
)

// StaticCapturer replays a fixed sequence of images. When the sequence is
// exhausted it keeps returning the last frame, mimicking an unchanged screen.
type StaticCapturer struct {
	mu     sync.Mutex
	frames []image.Image
	next   int
}

// NewStaticCapturer creates a capturer replaying the given images in order.
func NewStaticCapturer(frames ...image.Image) *StaticCapturer {
	return &StaticCapturer{frames: frames}
}

// Append adds frames to the replay sequence.
func (c *StaticCapturer) Append(frames ...image.Image) {
	c.mu.Lock()
	c.frames = append(c.frames, frames...)
	c.mu.Unlock()
}

// CaptureRegion returns the next frame, cropped to region when one is given.
func (c *StaticCapturer) CaptureRegion(ctx context.Context, region schemas.Region) (*schemas.Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.frames) == 0 {
		return nil, fmt.Errorf("no frames available")
	}
	img := c.frames[c.next]
	if c.next < len(c.frames)-1 {
		c.next++
	}
	if !region.IsZero() {
		img = crop(img, region)
	}
	return &schemas.Frame{Img: img, Region: region, CapturedAt: time.Now()}, nil
}

// CaptureWindow ignores the handle and delegates to CaptureRegion; static
// replay has no window concept.
func (c *StaticCapturer) CaptureWindow(ctx context.Context, handle string, region *schemas.Region) (*schemas.Frame, error) {
	var r schemas.Region
	if region != nil {
		r = *region
	}
	return c.CaptureRegion(ctx, r)
}

// ListWindows reports one synthetic window covering the current frame.
func (c *StaticCapturer) ListWindows(ctx context.Context) ([]schemas.WindowInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.frames) == 0 {
		return nil, nil
	}
	b := c.frames[c.next].Bounds()
	return []schemas.WindowInfo{{
		Handle: "static-0",
		Title:  "static",
		Bounds: schemas.Region{X: b.Min.X, Y: b.Min.Y, Width: b.Dx(), Height: b.Dy()},
	}}, nil
}

// FileCapturer reads PNG frames from a directory, in file name order. Useful
// for replaying recorded captures through the full pipeline.
type FileCapturer struct {
	dir    string
	logger *zap.Logger

	mu    sync.Mutex
	files []string
	next  int
}

// NewFileCapturer creates a capturer over the PNG files in dir.
func NewFileCapturer(dir string, logger *zap.Logger) (*FileCapturer, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read frame dir %q: %w", dir, err)
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".png" {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("frame dir %q contains no png files", dir)
	}
	sort.Strings(files)
	return &FileCapturer{
		dir:    dir,
		logger: logger.With(zap.String("component", "file_capturer")),
		files:  files,
	}, nil
}

// CaptureRegion decodes the next frame file. Like StaticCapturer, the last
// frame repeats once the sequence is exhausted.
func (c *FileCapturer) CaptureRegion(ctx context.Context, region schemas.Region) (*schemas.Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	path := c.files[c.next]
	if c.next < len(c.files)-1 {
		c.next++
	}
	c.mu.Unlock()

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open frame %q: %w", path, err)
	}
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode frame %q: %w", path, err)
	}
	if !region.IsZero() {
		img = crop(img, region)
	}
	return &schemas.Frame{Img: img, Region: region, CapturedAt: time.Now()}, nil
}

// CaptureWindow delegates to CaptureRegion.
func (c *FileCapturer) CaptureWindow(ctx context.Context, handle string, region *schemas.Region) (*schemas.Frame, error) {
	var r schemas.Region
	if region != nil {
		r = *region
	}
	return c.CaptureRegion(ctx, r)
}

// ListWindows reports nothing; file replay has no window concept.
func (c *FileCapturer) ListWindows(ctx context.Context) ([]schemas.WindowInfo, error) {
	return nil, nil
}

type subImager interface {
	SubImage(r image.Rectangle) image.Image
}

// crop restricts img to the region, clipped to the image bounds.
func crop(img image.Image, region schemas.Region) image.Image {
	rect := image.Rect(region.X, region.Y, region.X+region.Width, region.Y+region.Height)
	rect = rect.Intersect(img.Bounds())
	if s, ok := img.(subImager); ok {
		return s.SubImage(rect)
	}
	out := image.NewRGBA(rect)
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		for x := rect.Min.X; x < rect.Max.X; x++ {
			out.Set(x, y, img.At(x, y))
		}
	}
	return out
}

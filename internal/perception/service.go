// File: internal/perception/service.go
// The Sense stage: frame capture, preprocessing, and template recognition.
// One-shot Sense runs the full pipeline once; Monitor runs it continuously,
// skipping recognition while the screen content hash is unchanged.
package perception

import (
	"context"
	"fmt"
	"image"
	"time"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"

	"github.com/riftlab/automaton/api/schemas"
	"github.com/riftlab/automaton/internal/recognition"
)

// Service owns frame acquisition and invokes the recognition engine across a
// template set.
type Service struct {
	capturer schemas.ScreenCapturer
	recog    *recognition.Engine
	logger   *zap.Logger
}

// New creates a perception service.
func New(capturer schemas.ScreenCapturer, recog *recognition.Engine, logger *zap.Logger) *Service {
	return &Service{
		capturer: capturer,
		recog:    recog,
		logger:   logger.With(zap.String("component", "perception")),
	}
}

// Sense captures one frame for the request and matches every template
// against it.
func (s *Service) Sense(ctx context.Context, req *schemas.SenseRequest) (*schemas.SenseResult, error) {
	if req == nil {
		return nil, fmt.Errorf("sense request must not be nil")
	}
	frame, err := s.capture(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("frame capture failed: %w", err)
	}
	gray := recognition.Preprocess(frame.Img, req.Preprocess)
	return s.recognizeFrame(ctx, req, frame, gray, FrameHash(gray)), nil
}

// Monitor repeatedly captures at the request interval and emits a SenseResult
// whenever the frame content changes. The returned channel is closed only on
// cancellation; capture and recognition errors are logged and the loop moves
// on to the next interval. Cancellation is observed between capture and
// recognition and again before yield, bounding shutdown latency to one
// capture interval.
func (s *Service) Monitor(ctx context.Context, req *schemas.SenseRequest) (<-chan *schemas.SenseResult, error) {
	if req == nil {
		return nil, fmt.Errorf("monitor request must not be nil")
	}
	interval := req.Interval
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}

	out := make(chan *schemas.SenseResult)
	go func() {
		defer close(out)
		s.logger.Info("Monitor started",
			zap.Duration("interval", interval),
			zap.Int("templates", len(req.Templates)))

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		var lastHash uint64
		var seeded bool
		for {
			select {
			case <-ctx.Done():
				s.logger.Info("Monitor cancelled", zap.Error(ctx.Err()))
				return
			case <-ticker.C:
			}

			frame, err := s.capture(ctx, req)
			if err != nil {
				if ctx.Err() != nil {
					s.logger.Info("Monitor cancelled during capture")
					return
				}
				s.logger.Warn("Capture failed, skipping cycle", zap.Error(err))
				continue
			}

			gray := recognition.Preprocess(frame.Img, req.Preprocess)
			hash := FrameHash(gray)
			if seeded && hash == lastHash {
				// Static screen: skip the expensive recognition pass.
				continue
			}
			lastHash = hash
			seeded = true

			// Cancellation check between capture and recognition.
			if ctx.Err() != nil {
				s.logger.Info("Monitor cancelled before recognition")
				return
			}

			result := s.recognizeFrame(ctx, req, frame, gray, hash)

			select {
			case <-ctx.Done():
				s.logger.Info("Monitor cancelled before yield")
				return
			case out <- result:
			}
		}
	}()
	return out, nil
}

func (s *Service) capture(ctx context.Context, req *schemas.SenseRequest) (*schemas.Frame, error) {
	if req.WindowHandle != "" {
		var region *schemas.Region
		if !req.Region.IsZero() {
			r := req.Region
			region = &r
		}
		return s.capturer.CaptureWindow(ctx, req.WindowHandle, region)
	}
	return s.capturer.CaptureRegion(ctx, req.Region)
}

func (s *Service) recognizeFrame(ctx context.Context, req *schemas.SenseRequest, frame *schemas.Frame, gray *image.Gray, hash uint64) *schemas.SenseResult {
	results := s.recog.RecognizeMultiple(ctx, gray, req.Templates, recognition.Params{})
	for _, r := range results {
		if r.Found() {
			s.logger.Debug("Template matched",
				zap.String("template", r.TemplateName),
				zap.Float64("confidence", r.Confidence))
		}
	}
	return &schemas.SenseResult{
		Results:    results,
		FrameHash:  hash,
		CapturedAt: frame.CapturedAt,
		Metadata:   req.Metadata,
	}
}

// FrameHash fingerprints a preprocessed frame's pixel content. Two captures
// of an unchanged screen hash identically, which is what lets Monitor skip
// redundant recognition work.
func FrameHash(g *image.Gray) uint64 {
	d := xxhash.New()
	b := g.Bounds()
	// The whole-buffer fast path is only sound when Pix holds exactly the
	// bounded rows: a full-width SubImage keeps the parent's stride but its
	// Pix still reaches rows below the crop rect.
	if g.Stride == b.Dx() && len(g.Pix) == b.Dy()*g.Stride {
		_, _ = d.Write(g.Pix)
		return d.Sum64()
	}
	// Respect stride padding so equal content always hashes equally.
	for y := 0; y < b.Dy(); y++ {
		row := g.Pix[y*g.Stride : y*g.Stride+b.Dx()]
		_, _ = d.Write(row)
	}
	return d.Sum64()
}

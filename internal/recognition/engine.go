// File: internal/recognition/engine.go
// Deterministic template matching. The engine is a pure function of its
// inputs: no randomness, no hidden state beyond per-instance perf counters,
// safe for concurrent use across frames.
package recognition

import (
	"context"
	"image"
	"math"
	"runtime"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/riftlab/automaton/api/schemas"
)

// Failure reasons for input validation. These are data, not errors: callers
// receive them inside a Failed RecognitionResult and never see a panic.
const (
	ReasonEmptyImage       = "empty image data"
	ReasonTemplateTooLarge = "template larger than source"
	ReasonCancelled        = "recognition cancelled"
)

// Params tune one recognition call.
type Params struct {
	// Threshold overrides the template's own threshold when positive.
	Threshold float64
}

// Engine performs similarity searches of templates against frames.
type Engine struct {
	logger           *zap.Logger
	defaultThreshold float64
	workers          int
	stats            Stats
}

// Option configures an Engine.
type Option func(*Engine)

// WithDefaultThreshold sets the threshold used when neither the call params
// nor the template carry one.
func WithDefaultThreshold(t float64) Option {
	return func(e *Engine) { e.defaultThreshold = t }
}

// WithWorkers bounds the parallel matches in RecognizeMultiple.
func WithWorkers(n int) Option {
	return func(e *Engine) { e.workers = n }
}

// New creates a recognition engine.
func New(logger *zap.Logger, opts ...Option) *Engine {
	e := &Engine{
		logger:           logger.With(zap.String("component", "recognition")),
		defaultThreshold: 0.8,
		workers:          runtime.NumCPU(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.workers <= 0 {
		e.workers = runtime.NumCPU()
	}
	return e
}

// Recognize matches one template against one frame and returns the best
// placement found. The result is Success iff the best score meets the
// threshold (inclusive); a below-threshold best score is still reported as
// the confidence so callers can see how close the match came.
func (e *Engine) Recognize(frame *image.Gray, tmpl *schemas.Template, params Params) schemas.RecognitionResult {
	start := time.Now()
	res := e.match(frame, tmpl, params)
	res.Duration = time.Since(start)
	e.stats.record(res)
	return res
}

func (e *Engine) match(frame *image.Gray, tmpl *schemas.Template, params Params) schemas.RecognitionResult {
	res := schemas.RecognitionResult{
		Algorithm: schemas.AlgorithmNCC,
	}
	if tmpl != nil {
		res.TemplateID = tmpl.ID
		res.TemplateName = tmpl.Name
		if tmpl.Algorithm != "" {
			res.Algorithm = tmpl.Algorithm
		}
	}

	if frame == nil || frame.Bounds().Empty() || tmpl == nil || tmpl.Img == nil || tmpl.Img.Bounds().Empty() {
		res.Status = schemas.RecognitionFailed
		res.FailureReason = ReasonEmptyImage
		return res
	}

	fb := frame.Bounds()
	tb := tmpl.Img.Bounds()
	if tb.Dx() > fb.Dx() || tb.Dy() > fb.Dy() {
		res.Status = schemas.RecognitionFailed
		res.FailureReason = ReasonTemplateTooLarge
		return res
	}

	threshold := params.Threshold
	if threshold <= 0 {
		threshold = tmpl.Threshold
	}
	if threshold <= 0 {
		threshold = e.defaultThreshold
	}

	// Restrict the search window to the template's authoring-time region hint
	// when it carries one, clipped to the frame.
	search := fb
	if !tmpl.Region.IsZero() {
		hint := image.Rect(
			tmpl.Region.X, tmpl.Region.Y,
			tmpl.Region.X+tmpl.Region.Width, tmpl.Region.Y+tmpl.Region.Height,
		).Add(fb.Min)
		if clipped := search.Intersect(hint); !clipped.Empty() {
			search = clipped
		}
	}

	var best float64
	var bestPos schemas.Point
	switch res.Algorithm {
	case schemas.AlgorithmSAD:
		best, bestPos = bestSAD(frame, tmpl.Img, search)
	default:
		best, bestPos = bestNCC(frame, tmpl.Img, search)
	}

	res.Confidence = best
	res.Position = &schemas.Point{X: bestPos.X, Y: bestPos.Y}
	if best >= threshold {
		res.Status = schemas.RecognitionSuccess
	} else {
		res.Status = schemas.RecognitionFailed
		res.FailureReason = "best score below threshold"
	}
	return res
}

// RecognizeMultiple matches every template against the frame, fanning the
// CPU-bound work out over a bounded worker group. Templates fail
// independently: one bad template never aborts the batch, and results come
// back in template order.
func (e *Engine) RecognizeMultiple(ctx context.Context, frame *image.Gray, templates []*schemas.Template, params Params) []schemas.RecognitionResult {
	results := make([]schemas.RecognitionResult, len(templates))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i, tmpl := range templates {
		i, tmpl := i, tmpl
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				r := schemas.RecognitionResult{
					Status:        schemas.RecognitionTimeout,
					FailureReason: ReasonCancelled,
				}
				if tmpl != nil {
					r.TemplateID = tmpl.ID
					r.TemplateName = tmpl.Name
				}
				results[i] = r
				return nil
			}
			results[i] = e.Recognize(frame, tmpl, params)
			return nil
		})
	}
	// Workers never return errors; failures are data in the result slice.
	_ = g.Wait()
	return results
}

// Stats returns a snapshot of the per-instance counters.
func (e *Engine) Stats() StatsSnapshot {
	return e.stats.snapshot()
}

// bestNCC slides the template over the search window and returns the highest
// normalized cross-correlation score (clamped to [0,1]) with its offset.
func bestNCC(frame, tmpl *image.Gray, search image.Rectangle) (float64, schemas.Point) {
	tb := tmpl.Bounds()
	tw, th := tb.Dx(), tb.Dy()
	n := float64(tw * th)

	// Template statistics are placement-invariant; compute them once.
	var tSum float64
	for y := 0; y < th; y++ {
		row := tmpl.Pix[(tb.Min.Y+y-tmpl.Rect.Min.Y)*tmpl.Stride:]
		for x := 0; x < tw; x++ {
			tSum += float64(row[tb.Min.X+x-tmpl.Rect.Min.X])
		}
	}
	tMean := tSum / n
	var tVar float64
	for y := 0; y < th; y++ {
		row := tmpl.Pix[(tb.Min.Y+y-tmpl.Rect.Min.Y)*tmpl.Stride:]
		for x := 0; x < tw; x++ {
			d := float64(row[tb.Min.X+x-tmpl.Rect.Min.X]) - tMean
			tVar += d * d
		}
	}

	best := math.Inf(-1)
	var bestPos schemas.Point
	maxX := search.Max.X - tw
	maxY := search.Max.Y - th

	for oy := search.Min.Y; oy <= maxY; oy++ {
		for ox := search.Min.X; ox <= maxX; ox++ {
			score := nccAt(frame, tmpl, ox, oy, tMean, tVar, n)
			if score > best {
				best = score
				bestPos = schemas.Point{X: ox - frame.Rect.Min.X, Y: oy - frame.Rect.Min.Y}
			}
		}
	}
	if math.IsInf(best, -1) {
		return 0, schemas.Point{}
	}
	if best < 0 {
		best = 0
	}
	if best > 1 {
		best = 1
	}
	return best, bestPos
}

// nccAt computes the correlation coefficient for one placement.
func nccAt(frame, tmpl *image.Gray, ox, oy int, tMean, tVar, n float64) float64 {
	tb := tmpl.Bounds()
	tw, th := tb.Dx(), tb.Dy()

	var fSum float64
	for y := 0; y < th; y++ {
		frow := frame.Pix[(oy+y-frame.Rect.Min.Y)*frame.Stride:]
		for x := 0; x < tw; x++ {
			fSum += float64(frow[ox+x-frame.Rect.Min.X])
		}
	}
	fMean := fSum / n

	var cross, fVar float64
	for y := 0; y < th; y++ {
		frow := frame.Pix[(oy+y-frame.Rect.Min.Y)*frame.Stride:]
		trow := tmpl.Pix[(tb.Min.Y+y-tmpl.Rect.Min.Y)*tmpl.Stride:]
		for x := 0; x < tw; x++ {
			fd := float64(frow[ox+x-frame.Rect.Min.X]) - fMean
			td := float64(trow[tb.Min.X+x-tmpl.Rect.Min.X]) - tMean
			cross += fd * td
			fVar += fd * fd
		}
	}

	denom := math.Sqrt(fVar * tVar)
	if denom == 0 {
		// Both patches flat: similarity reduces to mean intensity distance.
		if fVar == 0 && tVar == 0 {
			return 1 - math.Abs(fMean-tMean)/255
		}
		return 0
	}
	return cross / denom
}

// bestSAD returns 1 - (mean absolute difference / 255), the cheaper matcher.
func bestSAD(frame, tmpl *image.Gray, search image.Rectangle) (float64, schemas.Point) {
	tb := tmpl.Bounds()
	tw, th := tb.Dx(), tb.Dy()
	n := float64(tw * th)

	best := math.Inf(-1)
	var bestPos schemas.Point
	maxX := search.Max.X - tw
	maxY := search.Max.Y - th

	for oy := search.Min.Y; oy <= maxY; oy++ {
		for ox := search.Min.X; ox <= maxX; ox++ {
			var sum float64
			for y := 0; y < th; y++ {
				frow := frame.Pix[(oy+y-frame.Rect.Min.Y)*frame.Stride:]
				trow := tmpl.Pix[(tb.Min.Y+y-tmpl.Rect.Min.Y)*tmpl.Stride:]
				for x := 0; x < tw; x++ {
					d := float64(frow[ox+x-frame.Rect.Min.X]) - float64(trow[tb.Min.X+x-tmpl.Rect.Min.X])
					sum += math.Abs(d)
				}
			}
			score := 1 - sum/n/255
			if score > best {
				best = score
				bestPos = schemas.Point{X: ox - frame.Rect.Min.X, Y: oy - frame.Rect.Min.Y}
			}
		}
	}
	if math.IsInf(best, -1) {
		return 0, schemas.Point{}
	}
	return best, bestPos
}

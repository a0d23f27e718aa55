// File: internal/perception/service_test.go
package perception

import (
	"context"
	"fmt"
	"image"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/riftlab/automaton/api/schemas"
	"github.com/riftlab/automaton/internal/recognition"
)

// mockCapturer yields frames from an injectable func, in the style of the
// rest of the suite's hand-rolled mocks.
type mockCapturer struct {
	mu          sync.Mutex
	captures    int
	captureFunc func(n int) (*schemas.Frame, error)
}

func (m *mockCapturer) CaptureRegion(ctx context.Context, region schemas.Region) (*schemas.Frame, error) {
	m.mu.Lock()
	m.captures++
	n := m.captures
	m.mu.Unlock()
	return m.captureFunc(n)
}

func (m *mockCapturer) CaptureWindow(ctx context.Context, handle string, region *schemas.Region) (*schemas.Frame, error) {
	return m.CaptureRegion(ctx, schemas.Region{})
}

func (m *mockCapturer) ListWindows(ctx context.Context) ([]schemas.WindowInfo, error) {
	return nil, nil
}

func (m *mockCapturer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.captures
}

func uniformFrame(shade uint8) *schemas.Frame {
	img := image.NewGray(image.Rect(0, 0, 16, 16))
	for i := range img.Pix {
		img.Pix[i] = shade
	}
	return &schemas.Frame{Img: img, CapturedAt: time.Now()}
}

func newService(capturer schemas.ScreenCapturer) *Service {
	return New(capturer, recognition.New(zap.NewNop()), zap.NewNop())
}

func TestSenseNilRequest(t *testing.T) {
	s := newService(&mockCapturer{})
	_, err := s.Sense(context.Background(), nil)
	require.Error(t, err)
}

func TestSenseCaptureFailure(t *testing.T) {
	s := newService(&mockCapturer{captureFunc: func(int) (*schemas.Frame, error) {
		return nil, fmt.Errorf("display gone")
	}})
	_, err := s.Sense(context.Background(), &schemas.SenseRequest{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "capture")
}

func TestSenseProducesResultPerTemplate(t *testing.T) {
	s := newService(&mockCapturer{captureFunc: func(int) (*schemas.Frame, error) {
		return uniformFrame(100), nil
	}})

	tmpl := image.NewGray(image.Rect(0, 0, 4, 4))
	for i := range tmpl.Pix {
		tmpl.Pix[i] = 100
	}
	res, err := s.Sense(context.Background(), &schemas.SenseRequest{
		Templates: []*schemas.Template{
			{Name: "match", Img: tmpl, Threshold: 0.9},
			{Name: "empty"},
		},
	})
	require.NoError(t, err)
	require.Len(t, res.Results, 2)
	assert.True(t, res.Results[0].Found())
	assert.False(t, res.Results[1].Found())
	assert.NotZero(t, res.FrameHash)
}

func TestMonitorSkipsUnchangedFrames(t *testing.T) {
	defer goleak.VerifyNone(t)

	// Frames 1-3 identical, frame 4 differs.
	cap := &mockCapturer{captureFunc: func(n int) (*schemas.Frame, error) {
		if n < 4 {
			return uniformFrame(100), nil
		}
		return uniformFrame(200), nil
	}}
	s := newService(cap)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	results, err := s.Monitor(ctx, &schemas.SenseRequest{Interval: 5 * time.Millisecond})
	require.NoError(t, err)

	first := <-results
	second := <-results
	cancel()
	for range results {
	}

	assert.NotEqual(t, first.FrameHash, second.FrameHash)
	// The two identical follow-ups of frame 1 were captured but not emitted.
	assert.GreaterOrEqual(t, cap.count(), 4)
}

func TestMonitorSurvivesCaptureErrors(t *testing.T) {
	defer goleak.VerifyNone(t)

	cap := &mockCapturer{captureFunc: func(n int) (*schemas.Frame, error) {
		if n%2 == 1 {
			return nil, fmt.Errorf("transient capture failure")
		}
		return uniformFrame(uint8(n)), nil
	}}
	s := newService(cap)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	results, err := s.Monitor(ctx, &schemas.SenseRequest{Interval: 5 * time.Millisecond})
	require.NoError(t, err)

	res := <-results
	require.NotNil(t, res)
	cancel()
	for range results {
	}
}

func TestMonitorClosesChannelOnCancel(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := newService(&mockCapturer{captureFunc: func(int) (*schemas.Frame, error) {
		return uniformFrame(100), nil
	}})

	ctx, cancel := context.WithCancel(context.Background())
	results, err := s.Monitor(ctx, &schemas.SenseRequest{Interval: 5 * time.Millisecond})
	require.NoError(t, err)

	<-results
	cancel()

	// Channel must close promptly after cancellation.
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-results:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("monitor channel not closed after cancellation")
		}
	}
}

func TestMonitorNilRequest(t *testing.T) {
	s := newService(&mockCapturer{})
	_, err := s.Monitor(context.Background(), nil)
	require.Error(t, err)
}

func TestFrameHashStrideIndependence(t *testing.T) {
	// The same content must hash equally whether or not the buffer carries
	// stride padding from a SubImage.
	full := image.NewGray(image.Rect(0, 0, 32, 32))
	for i := range full.Pix {
		full.Pix[i] = uint8(i % 251)
	}
	sub := full.SubImage(image.Rect(8, 8, 24, 24)).(*image.Gray)

	compact := image.NewGray(sub.Bounds())
	for y := sub.Bounds().Min.Y; y < sub.Bounds().Max.Y; y++ {
		for x := sub.Bounds().Min.X; x < sub.Bounds().Max.X; x++ {
			compact.SetGray(x, y, sub.GrayAt(x, y))
		}
	}

	assert.Equal(t, FrameHash(compact), FrameHash(sub))
}

func TestFrameHashFullWidthSubImage(t *testing.T) {
	// A full-width crop keeps the parent stride, so Stride == Dx even though
	// Pix still reaches the rows below the crop. Its hash must depend only on
	// the cropped rows.
	full := image.NewGray(image.Rect(0, 0, 32, 32))
	for i := range full.Pix {
		full.Pix[i] = uint8(i % 251)
	}
	top := full.SubImage(image.Rect(0, 0, 32, 8)).(*image.Gray)

	compact := image.NewGray(top.Bounds())
	copy(compact.Pix, full.Pix[:8*full.Stride])

	assert.Equal(t, FrameHash(compact), FrameHash(top))
}

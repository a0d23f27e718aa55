// File: internal/driver/driver_test.go
package driver

import (
	"context"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/riftlab/automaton/api/schemas"
)

func shadedImage(shade uint8) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, 16, 16))
	for i := range img.Pix {
		img.Pix[i] = shade
	}
	return img
}

func TestStaticCapturerReplaysAndRepeatsLastFrame(t *testing.T) {
	c := NewStaticCapturer(shadedImage(10), shadedImage(20))
	ctx := context.Background()

	f1, err := c.CaptureRegion(ctx, schemas.Region{})
	require.NoError(t, err)
	f2, err := c.CaptureRegion(ctx, schemas.Region{})
	require.NoError(t, err)
	f3, err := c.CaptureRegion(ctx, schemas.Region{})
	require.NoError(t, err)

	assert.Equal(t, uint8(10), f1.Img.(*image.Gray).Pix[0])
	assert.Equal(t, uint8(20), f2.Img.(*image.Gray).Pix[0])
	assert.Equal(t, uint8(20), f3.Img.(*image.Gray).Pix[0], "last frame repeats")
}

func TestStaticCapturerEmpty(t *testing.T) {
	c := NewStaticCapturer()
	_, err := c.CaptureRegion(context.Background(), schemas.Region{})
	require.Error(t, err)
}

func TestStaticCapturerCrop(t *testing.T) {
	c := NewStaticCapturer(shadedImage(10))
	f, err := c.CaptureRegion(context.Background(), schemas.Region{X: 4, Y: 4, Width: 8, Height: 8})
	require.NoError(t, err)
	b := f.Img.Bounds()
	assert.Equal(t, 8, b.Dx())
	assert.Equal(t, 8, b.Dy())
}

func TestStaticCapturerCancelled(t *testing.T) {
	c := NewStaticCapturer(shadedImage(10))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.CaptureRegion(ctx, schemas.Region{})
	require.ErrorIs(t, err, context.Canceled)
}

func TestFileCapturerReadsFramesInNameOrder(t *testing.T) {
	dir := t.TempDir()
	for i, shade := range []uint8{30, 40} {
		path := filepath.Join(dir, string(rune('a'+i))+".png")
		f, err := os.Create(path)
		require.NoError(t, err)
		require.NoError(t, png.Encode(f, shadedImage(shade)))
		require.NoError(t, f.Close())
	}

	c, err := NewFileCapturer(dir, zap.NewNop())
	require.NoError(t, err)

	f1, err := c.CaptureRegion(context.Background(), schemas.Region{})
	require.NoError(t, err)
	f2, err := c.CaptureRegion(context.Background(), schemas.Region{})
	require.NoError(t, err)
	assert.Equal(t, uint8(30), f1.Img.(*image.Gray).Pix[0])
	assert.Equal(t, uint8(40), f2.Img.(*image.Gray).Pix[0])
}

func TestFileCapturerEmptyDir(t *testing.T) {
	_, err := NewFileCapturer(t.TempDir(), zap.NewNop())
	require.Error(t, err)
}

func TestDryRunSinkAcceptsUntilDisconnect(t *testing.T) {
	s := NewDryRunSink(zap.NewNop())
	assert.True(t, s.Connected())
	assert.True(t, s.SendKey("enter", true))
	assert.True(t, s.SendText("hi"))
	assert.True(t, s.MoveMouse(1, 2))
	assert.True(t, s.SendMouseButton(1, 2, schemas.ButtonLeft, true))
	assert.True(t, s.SendWheel(-1))

	s.Disconnect()
	assert.False(t, s.Connected())
	assert.False(t, s.SendKey("enter", false))
	assert.False(t, s.SendText("hi"))
}

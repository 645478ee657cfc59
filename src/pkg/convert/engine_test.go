package convert_test

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"sync/atomic"
	"testing"
	"time"

	"github.com/progimage/progimage/src/pkg/convert"
	"github.com/progimage/progimage/src/pkg/format"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func samplePNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for x := 0; x < 8; x++ {
		for y := 0; y < 8; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 30), G: uint8(y * 30), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestConvert_SameFormatReturnsInput(t *testing.T) {
	engine := convert.NewEngine(convert.NewCodec(), 1)
	in := []byte("not even an image")

	out, err := engine.Convert(context.Background(), in, format.JPG, "JPEG")
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestConvert_Targets(t *testing.T) {
	engine := convert.NewEngine(convert.NewCodec(convert.WithJPEGQuality(80)), 2)
	src := samplePNG(t)

	for _, target := range []format.Tag{format.JPG, format.GIF, format.BMP, format.TIF, format.WEBP} {
		t.Run(target.String(), func(t *testing.T) {
			out, err := engine.Convert(context.Background(), src, format.PNG, target)
			require.NoError(t, err)
			assert.Equal(t, target, format.Detect(out))
		})
	}
}

func TestConvert_ChainedConversionDecodes(t *testing.T) {
	engine := convert.NewEngine(convert.NewCodec(), 1)
	ctx := context.Background()

	asBMP, err := engine.Convert(ctx, samplePNG(t), format.PNG, format.BMP)
	require.NoError(t, err)
	asTIF, err := engine.Convert(ctx, asBMP, format.BMP, format.TIF)
	require.NoError(t, err)
	back, err := engine.Convert(ctx, asTIF, format.TIF, format.PNG)
	require.NoError(t, err)
	assert.Equal(t, format.PNG, format.Detect(back))
}

func TestConvert_WebPRoundTrip(t *testing.T) {
	ctx := context.Background()

	for _, quality := range []int{50, 100} {
		engine := convert.NewEngine(convert.NewCodec(convert.WithWebPQuality(quality)), 1)

		asWebP, err := engine.Convert(ctx, samplePNG(t), format.PNG, format.WEBP)
		require.NoError(t, err)
		require.Equal(t, format.WEBP, format.Detect(asWebP))

		back, err := engine.Convert(ctx, asWebP, format.WEBP, format.PNG)
		require.NoError(t, err)
		assert.Equal(t, format.PNG, format.Detect(back))
	}
}

func TestConvert_DecodeError(t *testing.T) {
	engine := convert.NewEngine(convert.NewCodec(), 1)

	_, err := engine.Convert(context.Background(), []byte{0xFF, 0xD8, 0xFF, 0x00, 0x01}, format.JPG, format.PNG)
	assert.ErrorIs(t, err, convert.ErrDecode)

	_, err = engine.Convert(context.Background(), nil, format.Unknown, format.PNG)
	assert.ErrorIs(t, err, convert.ErrDecode)
}

func TestConvert_UnsupportedTarget(t *testing.T) {
	engine := convert.NewEngine(convert.NewCodec(), 1)

	for _, target := range []format.Tag{format.HEIC, format.AVIF, "xyz"} {
		out, err := engine.Convert(context.Background(), samplePNG(t), format.PNG, target)
		assert.ErrorIs(t, err, convert.ErrUnsupportedFormat)
		assert.Nil(t, out)
	}
}

type blockingCodec struct {
	release chan struct{}
	running atomic.Int32
	peak    atomic.Int32
}

func (c *blockingCodec) Decode(data []byte) (image.Image, error) {
	n := c.running.Add(1)
	for {
		p := c.peak.Load()
		if n <= p || c.peak.CompareAndSwap(p, n) {
			break
		}
	}
	<-c.release
	c.running.Add(-1)
	return image.NewGray(image.Rect(0, 0, 1, 1)), nil
}

func (c *blockingCodec) Encode(image.Image, format.Tag) ([]byte, error) {
	return []byte{1}, nil
}

func TestConvert_PoolIsBounded(t *testing.T) {
	codec := &blockingCodec{release: make(chan struct{})}
	engine := convert.NewEngine(codec, 2)
	assert.Equal(t, 2, engine.Workers())

	errs := make(chan error, 5)
	for i := 0; i < 5; i++ {
		go func() {
			_, err := engine.Convert(context.Background(), []byte{0}, format.PNG, format.JPG)
			errs <- err
		}()
	}

	require.Eventually(t, func() bool { return codec.running.Load() == 2 }, time.Second, 5*time.Millisecond)
	close(codec.release)
	for i := 0; i < 5; i++ {
		require.NoError(t, <-errs)
	}
	assert.EqualValues(t, 2, codec.peak.Load())
}

func TestConvert_CallerTimeout(t *testing.T) {
	codec := &blockingCodec{release: make(chan struct{})}
	engine := convert.NewEngine(codec, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := engine.Convert(ctx, []byte{0}, format.PNG, format.JPG)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	// The abandoned job still holds the only worker.
	waitCtx, waitCancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer waitCancel()
	_, err = engine.Convert(waitCtx, []byte{0}, format.PNG, format.JPG)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(codec.release)
	out, err := engine.Convert(context.Background(), []byte{0}, format.PNG, format.JPG)
	require.NoError(t, err)
	assert.Equal(t, []byte{1}, out)
}

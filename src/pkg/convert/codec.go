package convert

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"

	"github.com/gen2brain/webp"
	"github.com/progimage/progimage/src/pkg/format"
	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"

	// Registers the webp decoder with the image package.
	_ "golang.org/x/image/webp"
)

const (
	defaultWebPQuality = 75
	// 0 is fastest, 6 compresses best.
	webpMethod = 4
)

var (
	ErrDecode            = errors.New("unable to decode image")
	ErrUnsupportedFormat = errors.New("target format encoding not supported")
)

// Codec is the pixel codec boundary of the conversion pipeline.
type Codec interface {
	Decode(data []byte) (image.Image, error)
	Encode(img image.Image, target format.Tag) ([]byte, error)
}

type Option func(*stdCodec)

// WithJPEGQuality sets the quality used for jpg output, clamped to 1..100.
func WithJPEGQuality(quality int) Option {
	return func(c *stdCodec) {
		c.jpegQuality = min(max(quality, 1), 100)
	}
}

// WithWebPQuality sets the quality used for lossy webp output, clamped to
// 1..100. 100 switches the encoder to lossless.
func WithWebPQuality(quality int) Option {
	return func(c *stdCodec) {
		c.webpQuality = min(max(quality, 1), 100)
	}
}

type stdCodec struct {
	jpegQuality int
	webpQuality int
}

// NewCodec returns a Codec backed by the image package and golang.org/x/image.
// It reads and writes jpg, png, gif, bmp, tif and webp.
func NewCodec(opts ...Option) Codec {
	c := &stdCodec{jpegQuality: jpeg.DefaultQuality, webpQuality: defaultWebPQuality}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *stdCodec) Decode(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrDecode)
	}
	img, _, decodeErr := image.Decode(bytes.NewReader(data))
	if decodeErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, decodeErr)
	}
	return img, nil
}

func (c *stdCodec) Encode(img image.Image, target format.Tag) ([]byte, error) {
	var buf bytes.Buffer
	var encodeErr error

	switch format.Normalize(string(target)) {
	case format.JPG:
		encodeErr = jpeg.Encode(&buf, img, &jpeg.Options{Quality: c.jpegQuality})
	case format.PNG:
		encodeErr = png.Encode(&buf, img)
	case format.GIF:
		encodeErr = gif.Encode(&buf, img, nil)
	case format.BMP:
		encodeErr = bmp.Encode(&buf, img)
	case format.TIF:
		encodeErr = tiff.Encode(&buf, img, &tiff.Options{Compression: tiff.Deflate})
	case format.WEBP:
		encodeErr = webp.Encode(&buf, img, webp.Options{
			Quality:  c.webpQuality,
			Lossless: c.webpQuality == 100,
			Method:   webpMethod,
		})
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, target)
	}

	if encodeErr != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", target, encodeErr)
	}
	return buf.Bytes(), nil
}

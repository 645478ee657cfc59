package images

import (
	"context"
	"errors"

	"github.com/progimage/progimage/src/pkg/convert"
	"google.golang.org/grpc/codes"
)

var (
	ErrNotFound      = errors.New("image does not exist")
	ErrGone          = errors.New("image file does not exist on disk")
	ErrConflict      = errors.New("another file with the same name exists")
	ErrInvalidFormat = errors.New("invalid target format")
	ErrInvalidName   = errors.New("invalid file name")
)

// Code classifies err for transports.
func Code(err error) codes.Code {
	switch {
	case err == nil:
		return codes.OK
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrGone):
		return codes.NotFound
	case errors.Is(err, ErrConflict):
		return codes.AlreadyExists
	case errors.Is(err, convert.ErrDecode), errors.Is(err, ErrInvalidFormat), errors.Is(err, ErrInvalidName):
		return codes.InvalidArgument
	case errors.Is(err, convert.ErrUnsupportedFormat):
		return codes.Unimplemented
	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	default:
		return codes.Internal
	}
}

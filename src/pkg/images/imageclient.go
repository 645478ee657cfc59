package images

import (
	"context"

	"github.com/progimage/progimage/src/pkg/images/storage"
)

// ImageService is the surface the HTTP handler drives. *Service implements it.
type ImageService interface {
	Upload(ctx context.Context, items []Item) []UploadOutcome
	Retrieve(ctx context.Context, id int64) (*FileObject, error)
	Convert(ctx context.Context, id int64, target string) (*FileObject, error)
	ConvertAdHoc(ctx context.Context, data []byte, target string) ([]byte, error)
	List(ctx context.Context) ([]*storage.Record, error)
	Remove(ctx context.Context, id int64) error
}

var _ ImageService = (*Service)(nil)

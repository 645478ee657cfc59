package storage

import (
	"errors"
	"time"

	"github.com/progimage/progimage/src/pkg/format"
)

var (
	ErrBlobExists     = errors.New("blob already exists")
	ErrBlobNotFound   = errors.New("blob not found")
	ErrInvalidPath    = errors.New("invalid blob path")
	ErrRecordNotFound = errors.New("record not found")
)

// BlobStore keeps raw image bytes under paths relative to its root.
// Put never replaces an existing blob.
type BlobStore interface {
	Put(path string, data []byte) error
	Get(path string) ([]byte, error)
	Delete(path string) error
	Exists(path string) (bool, error)
}

// Index is the durable set of image records. Record ids are issued by
// Create and never reused.
type Index interface {
	Create(record *Record) (*Record, error)
	Find(id int64) (*Record, error)
	FindByPath(path string) (*Record, error)
	Update(record *Record) error
	Delete(id int64) error
	List() ([]*Record, error)
}

type Record struct {
	ID          int64      `json:"id"`
	StoragePath string     `json:"storage_path"`
	DisplayName string     `json:"display_name"`
	Format      format.Tag `json:"format"`
	Size        int64      `json:"size"`
	Checksum    string     `json:"checksum"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Clone returns a copy that can be modified without touching r.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	return &c
}

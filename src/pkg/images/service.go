package images

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/progimage/progimage/src/pkg/events"
	"github.com/progimage/progimage/src/pkg/format"
	"github.com/progimage/progimage/src/pkg/images/storage"
	"github.com/progimage/progimage/src/pkg/utils"
	"golang.org/x/sync/singleflight"
)

const (
	StatusOK = "OK"

	// FailedID marks an upload outcome that produced no record.
	FailedID int64 = -1
)

// Converter re-encodes image bytes between formats.
type Converter interface {
	Convert(ctx context.Context, data []byte, src, dst format.Tag) ([]byte, error)
}

// Notifier is told about every record mutation.
type Notifier interface {
	RecordChanged(eventType events.EventType, record *storage.Record)
}

type noopNotifier struct{}

func (noopNotifier) RecordChanged(events.EventType, *storage.Record) {}

// Item is one uploaded file.
type Item struct {
	Name string
	Data []byte
}

type UploadOutcome struct {
	ID          int64      `json:"id"`
	DisplayName string     `json:"display_name"`
	Status      string     `json:"status"`
	Format      format.Tag `json:"format"`
}

type FileObject struct {
	DisplayName string
	Data        []byte
	Format      format.Tag
}

type ServiceOption func(*Service)

func WithNotifier(n Notifier) ServiceOption {
	return func(s *Service) {
		if n != nil {
			s.notifier = n
		}
	}
}

// Service keeps blobs and their index records consistent. It is the only
// component that mutates either store.
//
// Read paths heal the index: a record whose blob has vanished is pruned when
// Retrieve, Convert or List come across it.
type Service struct {
	blobs     storage.BlobStore
	index     storage.Index
	converter Converter
	notifier  Notifier
	locks     *keyedMutex
	listGroup singleflight.Group
}

func NewService(blobs storage.BlobStore, index storage.Index, converter Converter, opts ...ServiceOption) *Service {
	s := &Service{
		blobs:     blobs,
		index:     index,
		converter: converter,
		notifier:  noopNotifier{},
		locks:     newKeyedMutex(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Upload stores every item independently and reports one outcome per item,
// in input order. A failing item never affects its siblings.
func (s *Service) Upload(ctx context.Context, items []Item) []UploadOutcome {
	outcomes := make([]UploadOutcome, 0, len(items))
	for _, item := range items {
		outcomes = append(outcomes, s.uploadOne(ctx, item))
	}
	return outcomes
}

func (s *Service) uploadOne(ctx context.Context, item Item) UploadOutcome {
	tag := format.Detect(item.Data)
	name := utils.BaseName(item.Name)
	outcome := UploadOutcome{
		ID:          FailedID,
		DisplayName: utils.TrimExt(name),
		Format:      tag,
	}

	fail := func(err error) UploadOutcome {
		slog.Warn("upload failed", "name", item.Name, "error", err)
		outcome.Status = "FAIL - " + err.Error()
		return outcome
	}
	conflict := func() UploadOutcome {
		slog.Info("upload rejected, name is taken", "name", name)
		outcome.Status = fmt.Sprintf("FAIL - Another file with %s name exist. Try again, after renaming this file.", name)
		return outcome
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return fail(ctxErr)
	}
	if name == "." || name == "/" || name == ".." {
		return fail(fmt.Errorf("%w: %q", ErrInvalidName, item.Name))
	}

	exists, existsErr := s.blobs.Exists(name)
	if existsErr != nil {
		return fail(existsErr)
	}
	if exists {
		return conflict()
	}

	if putErr := s.blobs.Put(name, item.Data); putErr != nil {
		if errors.Is(putErr, storage.ErrBlobExists) {
			return conflict()
		}
		return fail(putErr)
	}

	record, createErr := s.index.Create(&storage.Record{
		StoragePath: name,
		DisplayName: outcome.DisplayName,
		Format:      tag,
		Size:        int64(len(item.Data)),
		Checksum:    utils.Checksum(item.Data),
	})
	if createErr != nil {
		if rmErr := s.blobs.Delete(name); rmErr != nil {
			createErr = errors.Join(createErr, rmErr)
		}
		return fail(createErr)
	}

	slog.Debug("image uploaded", "id", record.ID, "path", record.StoragePath, "format", record.Format)
	s.notifier.RecordChanged(events.EventCreated, record)

	outcome.ID = record.ID
	outcome.Status = StatusOK
	return outcome
}

func (s *Service) find(id int64) (*storage.Record, error) {
	record, findErr := s.index.Find(id)
	if findErr != nil {
		if errors.Is(findErr, storage.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %w", ErrNotFound, findErr)
		}
		return nil, findErr
	}
	return record, nil
}

// load reads the blob behind record, pruning the record when the blob is
// gone. The caller must hold the record's lock.
func (s *Service) load(record *storage.Record) ([]byte, error) {
	data, getErr := s.blobs.Get(record.StoragePath)
	if getErr == nil {
		return data, nil
	}
	if !errors.Is(getErr, storage.ErrBlobNotFound) {
		return nil, getErr
	}

	if pruneErr := s.prune(record); pruneErr != nil {
		return nil, errors.Join(fmt.Errorf("image %d: %w", record.ID, ErrGone), pruneErr)
	}
	return nil, fmt.Errorf("image %d: %w", record.ID, ErrGone)
}

// prune drops a record whose blob is missing. The caller must hold the
// record's lock.
func (s *Service) prune(record *storage.Record) error {
	if err := s.index.Delete(record.ID); err != nil {
		return fmt.Errorf("failed to prune image %d: %w", record.ID, err)
	}
	slog.Info("pruned image without backing file", "id", record.ID, "path", record.StoragePath)
	s.notifier.RecordChanged(events.EventPruned, record)
	return nil
}

// Retrieve returns the stored image.
func (s *Service) Retrieve(ctx context.Context, id int64) (*FileObject, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	record, findErr := s.find(id)
	if findErr != nil {
		return nil, findErr
	}

	data, loadErr := s.load(record)
	if loadErr != nil {
		return nil, loadErr
	}

	return &FileObject{
		DisplayName: record.DisplayName,
		Data:        data,
		Format:      record.Format,
	}, nil
}

// Convert re-encodes a stored image into target and makes the converted blob
// the record's new content. Converting to the current format returns the
// stored bytes unchanged.
//
// The new blob is written before the record is updated and the old blob is
// removed last. A failure after the record update leaves the old blob
// orphaned on disk but never loses the image.
func (s *Service) Convert(ctx context.Context, id int64, target string) (*FileObject, error) {
	targetTag := format.Normalize(target)
	if targetTag == "" || targetTag == format.Unknown {
		return nil, fmt.Errorf("%w: %q", ErrInvalidFormat, target)
	}

	unlock := s.locks.Lock(id)
	defer unlock()

	record, findErr := s.find(id)
	if findErr != nil {
		return nil, findErr
	}

	data, loadErr := s.load(record)
	if loadErr != nil {
		return nil, loadErr
	}

	if format.Equal(targetTag, record.Format) {
		return &FileObject{
			DisplayName: record.DisplayName,
			Data:        data,
			Format:      record.Format,
		}, nil
	}

	converted, convertErr := s.converter.Convert(ctx, data, record.Format, targetTag)
	if convertErr != nil {
		return nil, fmt.Errorf("failed to convert image %d to %s: %w", id, targetTag, convertErr)
	}

	newPath, putErr := s.putConverted(record, targetTag, converted)
	if putErr != nil {
		if errors.Is(putErr, storage.ErrBlobExists) {
			return nil, fmt.Errorf("%w: %s: %w", ErrConflict, newPath, putErr)
		}
		return nil, putErr
	}

	oldPath := record.StoragePath
	updated := record.Clone()
	updated.Format = targetTag
	updated.StoragePath = newPath
	updated.Size = int64(len(converted))
	updated.Checksum = utils.Checksum(converted)

	if updateErr := s.index.Update(updated); updateErr != nil {
		if rmErr := s.blobs.Delete(newPath); rmErr != nil {
			updateErr = errors.Join(updateErr, rmErr)
		}
		return nil, fmt.Errorf("failed to update image %d: %w", id, updateErr)
	}

	if rmErr := s.blobs.Delete(oldPath); rmErr != nil {
		slog.Warn("failed to remove replaced file, leaving it orphaned", "id", id, "path", oldPath, "error", rmErr)
	}

	slog.Debug("image converted", "id", id, "from", record.Format, "to", targetTag, "path", newPath)
	s.notifier.RecordChanged(events.EventConverted, updated)

	return &FileObject{
		DisplayName: updated.DisplayName,
		Data:        converted,
		Format:      targetTag,
	}, nil
}

// putConverted stores converted content next to the record's blob under the
// swapped extension. When that name is taken, either by the record's own
// file or by another image, the record id is appended to the stem.
func (s *Service) putConverted(record *storage.Record, target format.Tag, data []byte) (string, error) {
	newPath := utils.ReplaceExt(record.StoragePath, target.String())
	if newPath != record.StoragePath {
		putErr := s.blobs.Put(newPath, data)
		if !errors.Is(putErr, storage.ErrBlobExists) {
			return newPath, putErr
		}
	}

	newPath = fmt.Sprintf("%s-%d.%s", utils.TrimExt(record.StoragePath), record.ID, target)
	slog.Debug("converted name is taken, using id suffix", "id", record.ID, "path", newPath)
	return newPath, s.blobs.Put(newPath, data)
}

// ConvertAdHoc converts caller supplied bytes without storing anything.
func (s *Service) ConvertAdHoc(ctx context.Context, data []byte, target string) ([]byte, error) {
	targetTag := format.Normalize(target)
	if targetTag == "" || targetTag == format.Unknown {
		return nil, fmt.Errorf("%w: %q", ErrInvalidFormat, target)
	}

	return s.converter.Convert(ctx, data, format.Detect(data), targetTag)
}

// List returns every record whose blob exists, ordered by id. Records whose
// blob has disappeared are pruned on the way.
func (s *Service) List(ctx context.Context) ([]*storage.Record, error) {
	v, err, _ := s.listGroup.Do("list", func() (interface{}, error) {
		return s.list()
	})
	if err != nil {
		return nil, err
	}

	shared := v.([]*storage.Record)
	records := make([]*storage.Record, 0, len(shared))
	for _, r := range shared {
		records = append(records, r.Clone())
	}
	return records, nil
}

func (s *Service) list() ([]*storage.Record, error) {
	records, listErr := s.index.List()
	if listErr != nil {
		return nil, fmt.Errorf("failed to list images: %w", listErr)
	}

	live := make([]*storage.Record, 0, len(records))
	for _, record := range records {
		exists, existsErr := s.blobs.Exists(record.StoragePath)
		if existsErr != nil {
			return nil, existsErr
		}
		if exists {
			live = append(live, record)
			continue
		}

		current, pruned, pruneErr := s.pruneIfMissing(record.ID)
		if pruneErr != nil {
			return nil, pruneErr
		}
		if !pruned && current != nil {
			live = append(live, current)
		}
	}

	slices.SortFunc(live, func(a, b *storage.Record) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return live, nil
}

// pruneIfMissing re-reads the record under its lock and prunes it only if
// its current blob is still missing. A concurrent conversion may have moved
// the blob in the meantime.
func (s *Service) pruneIfMissing(id int64) (*storage.Record, bool, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	record, findErr := s.index.Find(id)
	if findErr != nil {
		if errors.Is(findErr, storage.ErrRecordNotFound) {
			return nil, false, nil
		}
		return nil, false, findErr
	}

	exists, existsErr := s.blobs.Exists(record.StoragePath)
	if existsErr != nil {
		return nil, false, existsErr
	}
	if exists {
		return record, false, nil
	}

	if pruneErr := s.prune(record); pruneErr != nil {
		return nil, false, pruneErr
	}
	return record, true, nil
}

// PruneMissing prunes the record stored at path if the blob there is gone
// and reports how many were removed.
func (s *Service) PruneMissing(ctx context.Context, path string) (int, error) {
	record, findErr := s.index.FindByPath(path)
	if findErr != nil {
		if errors.Is(findErr, storage.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to look up %s: %w", path, findErr)
	}

	_, pruned, pruneErr := s.pruneIfMissing(record.ID)
	if pruneErr != nil || !pruned {
		return 0, pruneErr
	}
	return 1, nil
}

// Remove deletes an image. The record goes first so that no record ever
// points at a deleted blob.
func (s *Service) Remove(ctx context.Context, id int64) error {
	unlock := s.locks.Lock(id)
	defer unlock()

	record, findErr := s.find(id)
	if findErr != nil {
		return findErr
	}

	if deleteErr := s.index.Delete(id); deleteErr != nil {
		return fmt.Errorf("failed to delete image %d: %w", id, deleteErr)
	}
	if rmErr := s.blobs.Delete(record.StoragePath); rmErr != nil {
		slog.Warn("failed to remove file of deleted image", "id", id, "path", record.StoragePath, "error", rmErr)
	}

	s.notifier.RecordChanged(events.EventDeleted, record)
	return nil
}

package images_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/progimage/progimage/src/pkg/images"
	"github.com/progimage/progimage/src/pkg/images/storage"
	"github.com/stretchr/testify/assert"
)

func TestWatch_PrunesRemovedFiles(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())

	watchErr := make(chan error, 1)
	go func() { watchErr <- images.Watch(ctx, f.svc, f.root) }()

	// The watcher starts asynchronously, so keep removing fresh files until
	// one of them is noticed. Only the index is inspected here because the
	// service read paths prune on their own.
	photo := sampleJPEG(t)
	var ids []int64
	attempt := 0
	assert.Eventually(t, func() bool {
		for _, id := range ids {
			if _, err := f.index.Find(id); err != nil {
				return assert.ErrorIs(t, err, storage.ErrRecordNotFound)
			}
		}
		attempt++
		name := fmt.Sprintf("photo-%d.jpg", attempt)
		outcomes := f.svc.Upload(ctx, []images.Item{{Name: name, Data: photo}})
		if outcomes[0].Status != images.StatusOK {
			return false
		}
		ids = append(ids, outcomes[0].ID)
		_ = os.Remove(filepath.Join(f.root, name))
		return false
	}, 5*time.Second, 50*time.Millisecond)

	cancel()
	select {
	case err := <-watchErr:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not stop")
	}
}

func TestWatch_MissingDirectory(t *testing.T) {
	f := newFixture(t)
	err := images.Watch(context.Background(), f.svc, filepath.Join(f.root, "missing"))
	assert.Error(t, err)
}

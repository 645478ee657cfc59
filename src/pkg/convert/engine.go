// Package convert decodes raster images and re-encodes them into another
// format on a bounded pool of workers.
package convert

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/progimage/progimage/src/pkg/format"
	"golang.org/x/sync/semaphore"
)

// Engine runs decode/encode jobs, at most Workers() of them at a time.
type Engine struct {
	codec   Codec
	workers int64
	sem     *semaphore.Weighted
}

// NewEngine creates an engine on top of codec. A non-positive workers value
// sizes the pool to the number of CPUs.
func NewEngine(codec Codec, workers int) *Engine {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Engine{
		codec:   codec,
		workers: int64(workers),
		sem:     semaphore.NewWeighted(int64(workers)),
	}
}

func (e *Engine) Workers() int {
	return int(e.workers)
}

type result struct {
	data []byte
	err  error
}

// Convert re-encodes data from src to dst. When both name the same format the
// input is returned untouched.
//
// ctx bounds how long the caller waits, not the job itself: a job that has
// started keeps its worker until the codec returns.
func (e *Engine) Convert(ctx context.Context, data []byte, src, dst format.Tag) ([]byte, error) {
	if format.Equal(src, dst) {
		return data, nil
	}

	if acquireErr := e.sem.Acquire(ctx, 1); acquireErr != nil {
		return nil, fmt.Errorf("waiting for a conversion worker: %w", acquireErr)
	}

	done := make(chan result, 1)
	go func() {
		defer e.sem.Release(1)
		start := time.Now()
		out, err := e.transcode(data, dst)
		slog.Debug("conversion finished", "from", src, "to", dst, "bytes", len(data), "duration", time.Since(start), "error", err)
		done <- result{data: out, err: err}
	}()

	select {
	case res := <-done:
		return res.data, res.err
	case <-ctx.Done():
		return nil, fmt.Errorf("conversion %s -> %s abandoned: %w", src, dst, ctx.Err())
	}
}

func (e *Engine) transcode(data []byte, dst format.Tag) ([]byte, error) {
	img, decodeErr := e.codec.Decode(data)
	if decodeErr != nil {
		return nil, decodeErr
	}

	out, encodeErr := e.codec.Encode(img, dst)
	if encodeErr != nil {
		return nil, encodeErr
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("encoder produced no output for %s", dst)
	}
	return out, nil
}

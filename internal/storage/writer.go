package storage

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	ErrQueueFull    = errors.New("variant write queue is full")
	ErrWriterClosed = errors.New("variant writer is closed")
)

type Putter interface {
	Put(ctx context.Context, ref Ref, obj Object) error
}

type WriterConfig struct {
	Workers   int
	QueueSize int
	Timeout   time.Duration
}

type writeReq struct {
	ref  Ref
	obj  Object
	done func(error)
}

// Writer persists variants off the request path. Writes are attempted once;
// the outcome is reported through the per-write done callback.
type Writer struct {
	putter  Putter
	timeout time.Duration
	logger  zerolog.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan writeReq
	wg     sync.WaitGroup
}

func NewWriter(putter Putter, cfg WriterConfig, logger zerolog.Logger) *Writer {
	workers := cfg.Workers
	if workers < 1 {
		workers = 4
	}
	queueSize := cfg.QueueSize
	if queueSize < 1 {
		queueSize = 256
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	w := &Writer{
		putter:  putter,
		timeout: timeout,
		logger:  logger,
		queue:   make(chan writeReq, queueSize),
	}
	for i := 0; i < workers; i++ {
		w.wg.Add(1)
		go w.worker()
	}
	return w
}

// Enqueue hands a write to the worker pool without blocking. It returns
// ErrQueueFull when the pool is saturated.
func (w *Writer) Enqueue(ref Ref, obj Object, done func(error)) error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return ErrWriterClosed
	}

	select {
	case w.queue <- writeReq{ref: ref, obj: obj, done: done}:
		return nil
	default:
		return ErrQueueFull
	}
}

// Write persists synchronously on the caller's goroutine.
func (w *Writer) Write(ctx context.Context, ref Ref, obj Object) error {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()
	return w.putter.Put(ctx, ref, obj)
}

// Close stops accepting writes and waits for queued ones to finish.
func (w *Writer) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	close(w.queue)
	w.mu.Unlock()

	w.wg.Wait()
}

func (w *Writer) worker() {
	defer w.wg.Done()
	for req := range w.queue {
		err := w.Write(context.Background(), req.ref, req.obj)
		if err != nil {
			w.logger.Warn().Err(err).Str("key", req.ref.String()).Msg("variant write failed")
		}
		if req.done != nil {
			req.done(err)
		}
	}
}

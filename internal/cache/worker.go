package cache

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrWorkerClosed is returned by Submit once the worker stopped accepting work.
var ErrWorkerClosed = errors.New("worker closed")

// Worker runs submitted tasks. Tasks submitted to one worker must run one at a
// time in submission order.
type Worker interface {
	Submit(task func()) error
}

// SerialWorker runs tasks on a single goroutine fed by a buffered queue.
type SerialWorker struct {
	tasks  chan func()
	done   chan struct{}
	mu     sync.RWMutex
	closed bool
	logger *slog.Logger
}

// NewSerialWorker starts a worker with the given queue capacity. Submit blocks
// while the queue is full.
func NewSerialWorker(queue int, logger *slog.Logger) *SerialWorker {
	if queue < 1 {
		queue = 1
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	w := &SerialWorker{
		tasks:  make(chan func(), queue),
		done:   make(chan struct{}),
		logger: logger,
	}
	go w.run()
	return w
}

// Submit enqueues task.
func (w *SerialWorker) Submit(task func()) error {
	if task == nil {
		return errors.New("nil task")
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return ErrWorkerClosed
	}
	w.tasks <- task
	return nil
}

// Close stops intake, runs the queued tasks and waits for them to finish.
// Close is idempotent.
func (w *SerialWorker) Close() error {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.tasks)
	}
	w.mu.Unlock()
	<-w.done
	return nil
}

func (w *SerialWorker) run() {
	defer close(w.done)
	for task := range w.tasks {
		w.exec(task)
	}
}

func (w *SerialWorker) exec(task func()) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("cache worker task panicked", "panic", fmt.Sprint(r))
		}
	}()
	task()
}

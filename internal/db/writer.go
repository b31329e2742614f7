package db

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fleetcore-ai/compass/internal/metrics"
)

const (
	defaultQueueSize = 1000
	defaultWorkers   = 4
	writeTimeout     = 10 * time.Second
	drainTimeout     = 10 * time.Second
)

// archiveRecord is one queued write. Exactly one field is set.
type archiveRecord struct {
	run  *ResearchRun
	turn *ConversationTurn
}

// ArchiveWriter persists runs and turns off the request path. Enqueue never
// blocks: when the queue is full the record is dropped and counted, because
// a slow archive database must not stall answering queries.
type ArchiveWriter struct {
	client  *Client
	logger  *zap.Logger
	queue   chan archiveRecord
	stopCh  chan struct{}
	wg      sync.WaitGroup
	workers int

	startOnce sync.Once
	stopOnce  sync.Once
}

// NewArchiveWriter creates a writer. Zero queueSize and workers fall back
// to the defaults.
func NewArchiveWriter(client *Client, queueSize, workers int, logger *zap.Logger) *ArchiveWriter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	if workers <= 0 {
		workers = defaultWorkers
	}
	return &ArchiveWriter{
		client:  client,
		logger:  logger,
		queue:   make(chan archiveRecord, queueSize),
		stopCh:  make(chan struct{}),
		workers: workers,
	}
}

// Start launches the worker pool.
func (w *ArchiveWriter) Start() {
	w.startOnce.Do(func() {
		for i := 0; i < w.workers; i++ {
			w.wg.Add(1)
			go w.worker(i)
		}
		w.logger.Info("Archive writer started",
			zap.Int("workers", w.workers),
			zap.Int("queue_size", cap(w.queue)),
		)
	})
}

// EnqueueRun queues a run write. Returns false when the record was dropped.
func (w *ArchiveWriter) EnqueueRun(run *ResearchRun) bool {
	if run == nil {
		return false
	}
	return w.enqueue(archiveRecord{run: run})
}

// EnqueueTurn queues a turn write. Returns false when the record was
// dropped.
func (w *ArchiveWriter) EnqueueTurn(turn *ConversationTurn) bool {
	if turn == nil {
		return false
	}
	return w.enqueue(archiveRecord{turn: turn})
}

func (w *ArchiveWriter) enqueue(rec archiveRecord) bool {
	select {
	case w.queue <- rec:
		return true
	default:
		metrics.ArchiveDropped.Inc()
		w.logger.Warn("Archive queue full, dropping record",
			zap.Bool("is_run", rec.run != nil),
		)
		return false
	}
}

func (w *ArchiveWriter) worker(id int) {
	defer w.wg.Done()
	for {
		select {
		case rec := <-w.queue:
			w.process(rec)
		case <-w.stopCh:
			w.drain(id)
			return
		}
	}
}

// drain writes what is still queued at shutdown, bounded by drainTimeout.
func (w *ArchiveWriter) drain(id int) {
	deadline := time.After(drainTimeout)
	for {
		select {
		case rec := <-w.queue:
			w.process(rec)
		case <-deadline:
			w.logger.Warn("Timed out draining archive queue",
				zap.Int("worker_id", id),
				zap.Int("remaining", len(w.queue)),
			)
			return
		default:
			return
		}
	}
}

func (w *ArchiveWriter) process(rec archiveRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	var err error
	switch {
	case rec.run != nil:
		err = w.client.SaveResearchRun(ctx, rec.run)
	case rec.turn != nil:
		err = w.client.SaveConversationTurn(ctx, rec.turn)
	default:
		return
	}

	if err != nil {
		metrics.ArchiveWrites.WithLabelValues("error").Inc()
		w.logger.Error("Archive write failed",
			zap.Bool("is_run", rec.run != nil),
			zap.Error(err),
		)
		return
	}
	metrics.ArchiveWrites.WithLabelValues("ok").Inc()
}

// Close stops the workers after draining the queue.
func (w *ArchiveWriter) Close() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
		w.wg.Wait()
		w.logger.Info("Archive writer stopped")
	})
}

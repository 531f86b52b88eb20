package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/docusense/docusense/store"
)

// jobTimeout bounds one whole ingestion run.
const jobTimeout = 10 * time.Minute

// queueDepth is the buffer between Submit and the workers.
const queueDepth = 64

// ErrClosed is returned by Submit after Close.
var ErrClosed = errors.New("ingest: manager is closed")

// ManagerStore is the job bookkeeping the manager needs on top of the
// pipeline's own writes.
type ManagerStore interface {
	CreateJob(ctx context.Context, job store.IngestJob) error
	GetJob(ctx context.Context, id string) (*store.IngestJob, error)
	SweepInterrupted(ctx context.Context) (int64, error)
	FailJob(ctx context.Context, id, message string) error
}

type task struct {
	job    store.IngestJob
	source Source
}

// Manager owns the worker pool that drains ingestion jobs. The durable
// job record is the source of truth: Submit persists before it
// enqueues, and the startup sweep turns whatever a previous process
// left pending or processing into failed jobs.
type Manager struct {
	store    ManagerStore
	pipeline *Pipeline
	logger   *slog.Logger

	tasks chan task
	wg    sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewManager sweeps jobs interrupted by an earlier shutdown, then
// starts the pool. workers <= 0 selects runtime.NumCPU().
func NewManager(ctx context.Context, st ManagerStore, p *Pipeline, workers int, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	swept, err := st.SweepInterrupted(ctx)
	if err != nil {
		return nil, fmt.Errorf("sweeping interrupted jobs: %w", err)
	}
	if swept > 0 {
		logger.Warn("ingest: swept interrupted jobs", "count", swept)
	}

	m := &Manager{
		store:    st,
		pipeline: p,
		logger:   logger,
		tasks:    make(chan task, queueDepth),
	}
	m.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go m.worker()
	}
	logger.Info("ingest: worker pool started", "workers", workers)
	return m, nil
}

// Submit persists the job as pending and hands it to the pool. The
// returned id is valid for Status immediately, before any stage runs.
func (m *Manager) Submit(ctx context.Context, collectionID, documentID int64, src Source) (string, error) {
	job := store.IngestJob{
		ID:           uuid.NewString(),
		CollectionID: collectionID,
		DocumentID:   &documentID,
	}
	if err := m.store.CreateJob(ctx, job); err != nil {
		return "", fmt.Errorf("creating job: %w", err)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return "", ErrClosed
	}

	select {
	case m.tasks <- task{job: job, source: src}:
		return job.ID, nil
	case <-ctx.Done():
		// The pending row stays behind; the next startup sweep fails it.
		return "", ctx.Err()
	}
}

// Status reads the durable job record.
func (m *Manager) Status(ctx context.Context, id string) (*store.IngestJob, error) {
	return m.store.GetJob(ctx, id)
}

// Close stops intake, lets queued and running jobs finish, and waits
// for the workers to exit.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	close(m.tasks)
	m.mu.Unlock()

	m.wg.Wait()
}

func (m *Manager) worker() {
	defer m.wg.Done()
	for t := range m.tasks {
		m.run(t)
	}
}

// run executes one job under the job timeout. A panicking stage must
// not take the worker down, so it is converted into a job failure.
func (m *Manager) run(t task) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("ingest: recovered from panic", "job_id", t.job.ID, "panic", r)
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := m.store.FailJob(ctx, t.job.ID, fmt.Sprintf("internal error: %v", r)); err != nil {
				m.logger.Error("ingest: could not record panic failure",
					"job_id", t.job.ID, "error", err)
			}
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	if err := m.pipeline.Run(ctx, t.job, t.source); err != nil {
		m.logger.Warn("ingest: job did not complete", "job_id", t.job.ID, "error", err)
	}
}

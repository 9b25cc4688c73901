package upload

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fairyhunter13/storefront-console/internal/config"
	"github.com/fairyhunter13/storefront-console/internal/obs"
)

// Manager coordinates workers processing queued upload jobs and scaling.
// Jobs are never canceled: workers run each accepted job to completion even
// during shutdown, which is why they process under a context detached from
// the manager's.
type Manager struct {
	cfg config.Config
	q   *Queue
	pl  *Pipeline
	seq Sequencer

	ctx    context.Context
	cancel context.CancelFunc

	mu            sync.Mutex
	workerCancels []context.CancelFunc
}

// NewManager constructs a Manager with the given config, queue, and
// pipeline.
func NewManager(cfg config.Config, q *Queue, pl *Pipeline) *Manager {
	return &Manager{cfg: cfg, q: q, pl: pl}
}

// Start begins processing and autoscaling in the background.
func (m *Manager) Start(parent context.Context) {
	m.ctx, m.cancel = context.WithCancel(parent)
	m.q.Start(m.ctx, m.cfg.QueueHighWatermark)
	m.addWorkers(m.cfg.InitialWorkerCount)
	go m.scaler()
}

// Stop cancels background routines and stops workers.
func (m *Manager) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.mu.Lock()
	for _, c := range m.workerCancels {
		c()
	}
	m.workerCancels = nil
	m.mu.Unlock()
}

// Validate proxies the pipeline's synchronous precondition checks.
func (m *Manager) Validate(contentType string, size int64) error {
	return m.pl.Validate(contentType, size)
}

// Submit registers a new selection and enqueues its job. Returns the issued
// sequence and whether the job was accepted.
func (m *Manager) Submit(filename, contentType string, data []byte, userID string) (uint64, bool) {
	seq := m.seq.Next()
	m.pl.Begin(seq)
	ok := m.q.Enqueue(Job{
		Sequence:    seq,
		Filename:    filename,
		ContentType: contentType,
		Data:        data,
		UserID:      userID,
		ProductName: fmt.Sprintf("product-%d", time.Now().UnixMilli()),
	})
	return seq, ok
}

// scaler adjusts worker count based on backlog and configuration.
func (m *Manager) scaler() {
	t := time.NewTicker(m.cfg.ScaleInterval)
	defer t.Stop()
	idleTicks := 0
	for {
		select {
		case <-m.ctx.Done():
			return
		case <-t.C:
			backlog := m.q.BacklogSize()
			wc := m.WorkerCount()
			if backlog > wc*m.cfg.ScaleUpBacklogPerWorker && wc < m.cfg.WorkerMax {
				m.addWorkers(1)
				idleTicks = 0
				continue
			}
			if backlog == 0 {
				idleTicks++
				if idleTicks >= m.cfg.ScaleDownIdleTicks && wc > m.cfg.WorkerMin {
					m.removeWorkers(1)
					idleTicks = 0
				}
			} else {
				idleTicks = 0
			}
		}
	}
}

// addWorkers spawns n workers.
func (m *Manager) addWorkers(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := 0; i < n; i++ {
		wctx, cancel := context.WithCancel(m.ctx)
		m.workerCancels = append(m.workerCancels, cancel)
		go m.worker(wctx)
	}
	obs.Logger.Info("upload workers scaled", "worker_count", len(m.workerCancels))
}

// removeWorkers stops up to n workers.
func (m *Manager) removeWorkers(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n > len(m.workerCancels) {
		n = len(m.workerCancels)
	}
	for i := 0; i < n; i++ {
		c := m.workerCancels[len(m.workerCancels)-1]
		m.workerCancels = m.workerCancels[:len(m.workerCancels)-1]
		c()
	}
	obs.Logger.Info("upload workers scaled", "worker_count", len(m.workerCancels))
}

// worker drains jobs from the queue and runs the pipeline. An in-flight
// job is detached from worker cancellation so it always completes.
func (m *Manager) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-m.q.Out():
			m.pl.Process(context.WithoutCancel(ctx), job)
			m.q.MarkProcessed()
		}
	}
}

// BacklogSize returns pending jobs in the queue.
func (m *Manager) BacklogSize() int { return m.q.BacklogSize() }

// QueueDepth returns backlog plus buffered output items.
func (m *Manager) QueueDepth() int { return m.q.QueueDepth() }

// WorkerCount returns the current number of workers.
func (m *Manager) WorkerCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.workerCancels)
}

// IsShuttingDown reports whether new submissions are rejected.
func (m *Manager) IsShuttingDown() bool { return m.q.IsShuttingDown() }

// CloseIntake disallows future submissions.
func (m *Manager) CloseIntake() { m.q.CloseIntake() }

// QueueMetrics exposes the underlying queue metrics.
func (m *Manager) QueueMetrics() (enq, proc uint64, backlog, depth int) {
	return m.q.Metrics()
}

// DrainUntil blocks until the queue is fully drained or ctx is done.
func (m *Manager) DrainUntil(ctx context.Context) bool {
	for {
		enq, proc, backlog, depth := m.q.Metrics()
		if backlog == 0 && depth == 0 && enq == proc {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(50 * time.Millisecond):
		}
	}
}

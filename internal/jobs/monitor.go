package jobs

import (
	"context"
	"time"

	"github.com/gwlsn/restreamer/internal/logger"
)

// monitor reconciles the process table with reality every monitorInterval.
func (m *Manager) monitor(ctx context.Context, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(m.monitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.reconcile()
		}
	}
}

type deadProcess struct {
	id      string
	proc    Process
	elapsed uint64
}

// reconcile removes exited processes from the table and records each as
// errored. Store errors are logged and the loop keeps going.
func (m *Manager) reconcile() {
	st, err := m.getStore()
	if err != nil {
		return
	}

	var dead []deadProcess
	m.procMu.Lock()
	for id, p := range m.procs {
		if m.starting[id] == p {
			continue
		}
		if !p.Running() {
			dead = append(dead, deadProcess{id: id, proc: p, elapsed: seconds(p.Elapsed())})
			delete(m.procs, id)
		}
	}
	m.procMu.Unlock()

	for _, d := range dead {
		m.cancelScheduledStopFor(d.id, d.proc)

		logger.Warn("Encoder exited unexpectedly", "job_id", d.id, "elapsed_seconds", d.elapsed)
		if err := st.UpdateStatus(d.id, StatusError); err != nil {
			logger.Error("Failed to persist job error", "job_id", d.id, "error", err)
		}
		if err := st.UpdateStoppedAt(d.id, time.Now()); err != nil {
			logger.Error("Failed to persist stop time", "job_id", d.id, "error", err)
		}
		if err := st.UpdateLastElapsed(d.id, d.elapsed); err != nil {
			logger.Error("Failed to persist elapsed time", "job_id", d.id, "error", err)
		}

		m.metrics.crashed(d.elapsed)
		m.publishState(d.id, StatusError, reasonCrash, ptr(d.elapsed))
	}
}

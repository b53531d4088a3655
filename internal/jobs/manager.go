package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/gwlsn/restreamer/internal/logger"
	"github.com/gwlsn/restreamer/internal/scheduler"
)

const (
	DefaultStartGrace      = 2 * time.Second
	DefaultMonitorInterval = 3 * time.Second
)

// Stop reasons, used for events and metrics.
const (
	reasonUser     = "user"
	reasonSchedule = "schedule"
	reasonDelete   = "delete"
	reasonShutdown = "shutdown"
	reasonCrash    = "process_exited"
)

// Store defines the persistence interface for job records.
// This interface is implemented by internal/store.SQLiteStore.
type Store interface {
	Insert(job *Job) error
	// GetAll returns every job, newest first.
	GetAll() ([]*Job, error)
	// Get returns nil, nil when the job does not exist.
	Get(id string) (*Job, error)
	UpdateStatus(id string, status Status) error
	UpdateStartedAt(id string, t time.Time) error
	UpdateStoppedAt(id string, t time.Time) error
	UpdateLastElapsed(id string, seconds uint64) error
	Delete(id string) error
	// RecoverInterrupted marks jobs left live or stopping by a previous
	// run as errored and returns how many were changed.
	RecoverInterrupted() (int, error)
	Close() error
}

// StoreOpener opens the store for an instance id.
type StoreOpener func(instanceID string) (Store, error)

// Options configures a Manager. Zero durations get the defaults.
type Options struct {
	Launcher        Launcher
	OpenStore       StoreOpener
	Bus             *Bus
	Metrics         *Metrics
	StartGrace      time.Duration
	MonitorInterval time.Duration
}

// Manager orchestrates restream jobs: it owns the table of running
// encoder processes and the table of pending scheduled stops, and keeps
// persisted job records consistent with both.
//
// The two tables have separate locks that are never held together.
type Manager struct {
	launcher        Launcher
	open            StoreOpener
	bus             *Bus
	metrics         *Metrics
	startGrace      time.Duration
	monitorInterval time.Duration

	initMu      sync.RWMutex
	store       Store
	instanceID  string
	stopMonitor context.CancelFunc
	monitorDone chan struct{}

	// startMu serializes the check-spawn-insert phase of Start so two
	// starts cannot both pass the duplicate checks.
	startMu sync.Mutex

	procMu sync.RWMutex
	procs  map[string]Process

	// starting holds processes still inside their start grace window.
	// The monitor leaves these to Start. Guarded by procMu.
	starting map[string]Process

	schedMu sync.Mutex
	timers  map[string]stopTimer
}

// stopTimer is a pending scheduled stop, bound to the process it was
// armed for so it can never stop a later run of the same job.
type stopTimer struct {
	timer *scheduler.Timer
	proc  Process
}

// NewManager creates an uninitialized Manager. Call Initialize before use.
func NewManager(opts Options) *Manager {
	m := &Manager{
		launcher:        opts.Launcher,
		open:            opts.OpenStore,
		bus:             opts.Bus,
		metrics:         opts.Metrics,
		startGrace:      opts.StartGrace,
		monitorInterval: opts.MonitorInterval,
		procs:           make(map[string]Process),
		starting:        make(map[string]Process),
		timers:          make(map[string]stopTimer),
	}
	if m.startGrace <= 0 {
		m.startGrace = DefaultStartGrace
	}
	if m.monitorInterval <= 0 {
		m.monitorInterval = DefaultMonitorInterval
	}
	if reg := m.metrics.Registry(); reg != nil {
		reg.MustRegister(newLiveCollector(m))
	}
	return m
}

// Initialize opens the store for instanceID, recovers jobs interrupted by
// a previous run and starts the reconciliation loop.
func (m *Manager) Initialize(instanceID string) error {
	m.initMu.Lock()
	defer m.initMu.Unlock()

	if m.store != nil {
		return fmt.Errorf("manager already initialized for instance %s", m.instanceID)
	}
	if m.open == nil {
		return fmt.Errorf("no store opener configured")
	}

	st, err := m.open(instanceID)
	if err != nil {
		return persistenceError("open store", err)
	}

	n, err := st.RecoverInterrupted()
	if err != nil {
		st.Close()
		return persistenceError("recover interrupted jobs", err)
	}
	if n > 0 {
		logger.Info("Marked jobs interrupted by previous run as errored", "count", n)
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.store = st
	m.instanceID = instanceID
	m.stopMonitor = cancel
	m.monitorDone = make(chan struct{})
	go m.monitor(ctx, m.monitorDone)

	logger.Info("Manager initialized", "instance_id", instanceID)
	return nil
}

func (m *Manager) getStore() (Store, error) {
	m.initMu.RLock()
	defer m.initMu.RUnlock()
	if m.store == nil {
		return nil, ErrNotInitialized
	}
	return m.store, nil
}

// List returns every job, newest first, with live elapsed time overlaid.
func (m *Manager) List() ([]*Job, error) {
	st, err := m.getStore()
	if err != nil {
		return nil, err
	}
	all, err := st.GetAll()
	if err != nil {
		return nil, persistenceError("list jobs", err)
	}

	m.procMu.RLock()
	for _, j := range all {
		m.overlayLocked(j)
	}
	m.procMu.RUnlock()
	return all, nil
}

// Get returns one job with derived fields overlaid.
func (m *Manager) Get(id string) (*Job, error) {
	st, err := m.getStore()
	if err != nil {
		return nil, err
	}
	job, err := st.Get(id)
	if err != nil {
		return nil, persistenceError("get job", err)
	}
	if job == nil {
		return nil, notFoundError(id)
	}

	m.procMu.RLock()
	m.overlayLocked(job)
	m.procMu.RUnlock()
	return job, nil
}

// overlayLocked fills derived fields. Caller holds procMu.
func (m *Manager) overlayLocked(j *Job) {
	if p, ok := m.procs[j.ID]; ok {
		j.ElapsedSeconds = ptr(seconds(p.Elapsed()))
		j.Encoder = p.Encoder()
		if s := p.Stats(); !s.UpdatedAt.IsZero() {
			j.Stats = &s
		}
		return
	}
	j.ElapsedSeconds = j.LastElapsedSeconds
}

// Add creates a job record and optionally starts it. A failed auto-start
// is logged, not returned; the returned record reflects its outcome.
func (m *Manager) Add(in Input) (*Job, error) {
	st, err := m.getStore()
	if err != nil {
		return nil, err
	}
	if err := in.Validate(); err != nil {
		return nil, invalidInputError(err)
	}

	existing, err := st.GetAll()
	if err != nil {
		return nil, persistenceError("list jobs", err)
	}
	for _, j := range existing {
		if j.DestinationKey == in.DestinationKey && j.Status == StatusLive {
			return nil, duplicateKeyError("(new)", j.ID)
		}
	}

	sched := in.Schedule
	if sched.Type == "" {
		sched = ManualSchedule()
	}
	created := time.Now()
	if in.CreatedAt != nil && !in.CreatedAt.IsZero() {
		created = *in.CreatedAt
	}

	job := &Job{
		ID:             uuid.NewString(),
		Name:           in.Name,
		SourcePath:     in.SourcePath,
		DestinationKey: in.DestinationKey,
		Status:         StatusIdle,
		Schedule:       sched,
		CreatedAt:      created,
	}
	if err := st.Insert(job); err != nil {
		return nil, persistenceError("insert job", err)
	}
	logger.Info("Job added", "job_id", job.ID, "name", job.Name, "schedule", sched.Type)
	m.bus.Publish(JobAddedEvent{Job: job, Timestamp: time.Now()})

	if in.StartImmediately {
		if err := m.Start(job.ID); err != nil {
			logger.Warn("Auto-start failed", "job_id", job.ID, "error", err)
		}
	}

	return m.Get(job.ID)
}

// Start spawns the encoder for a job, waits out the grace window and
// marks the job live if the encoder survived it.
func (m *Manager) Start(id string) error {
	st, err := m.getStore()
	if err != nil {
		return err
	}

	m.startMu.Lock()
	job, err := st.Get(id)
	if err != nil {
		m.startMu.Unlock()
		return persistenceError("get job", err)
	}
	if job == nil {
		m.startMu.Unlock()
		return notFoundError(id)
	}
	if err := m.checkStartable(st, job); err != nil {
		m.startMu.Unlock()
		return err
	}

	proc, err := m.launcher.Launch(id, job.SourcePath, job.DestinationKey)
	if err != nil {
		m.startMu.Unlock()
		m.metrics.startFailed("spawn")
		logger.Error("Failed to launch encoder", "job_id", id, "error", err)
		if perr := st.UpdateStatus(id, StatusError); perr != nil {
			logger.Error("Failed to persist job error", "job_id", id, "error", perr)
		}
		m.publishState(id, StatusError, "spawn_failed", nil)
		return processError(id, err)
	}

	m.procMu.Lock()
	m.procs[id] = proc
	m.starting[id] = proc
	m.procMu.Unlock()
	m.startMu.Unlock()

	time.Sleep(m.startGrace)

	m.procMu.Lock()
	if m.starting[id] == proc {
		delete(m.starting, id)
	}
	cur, ok := m.procs[id]
	if !ok || cur != proc {
		// Stopped or reaped during the grace window; whoever removed it
		// has already written the final status.
		m.procMu.Unlock()
		m.metrics.startFailed("ended_during_startup")
		return processError(id, errors.New("encoder ended during startup"))
	}
	if !proc.Running() {
		delete(m.procs, id)
		m.procMu.Unlock()

		m.metrics.startFailed("exited_immediately")
		logger.Error("Encoder exited immediately", "job_id", id)
		if perr := st.UpdateStatus(id, StatusError); perr != nil {
			logger.Error("Failed to persist job error", "job_id", id, "error", perr)
		}
		if perr := st.UpdateStoppedAt(id, time.Now()); perr != nil {
			logger.Error("Failed to persist stop time", "job_id", id, "error", perr)
		}
		m.publishState(id, StatusError, "exited_immediately", nil)
		return processError(id, errors.New("encoder exited immediately"))
	}

	now := time.Now()
	perr := st.UpdateStatus(id, StatusLive)
	if perr == nil {
		perr = st.UpdateStartedAt(id, now)
	}
	if perr != nil {
		// The record cannot say live, so the process must not stay.
		delete(m.procs, id)
		m.procMu.Unlock()
		if err := proc.Stop(); err != nil {
			logger.Warn("Failed to stop unrecorded encoder", "job_id", id, "error", err)
		}
		return persistenceError("mark job live", perr)
	}
	encoder := proc.Encoder()
	m.procMu.Unlock()

	m.metrics.started(encoder)
	logger.Info("Job live", "job_id", id, "encoder", encoder)
	m.publishState(id, StatusLive, "", nil)

	m.armScheduledStop(id, proc, job.Schedule)

	// A Stop that landed after procMu was released has already removed
	// proc without seeing the timer.
	m.procMu.RLock()
	cur, ok = m.procs[id]
	m.procMu.RUnlock()
	if !ok || cur != proc {
		m.cancelScheduledStopFor(id, proc)
	}
	return nil
}

// checkStartable enforces one process per job and one live job per
// destination key, using the process table as the source of truth.
func (m *Manager) checkStartable(st Store, job *Job) error {
	m.procMu.RLock()
	_, running := m.procs[job.ID]
	m.procMu.RUnlock()
	if running {
		return alreadyRunningError(job.ID)
	}

	all, err := st.GetAll()
	if err != nil {
		return persistenceError("list jobs", err)
	}

	m.procMu.RLock()
	defer m.procMu.RUnlock()
	for _, other := range all {
		if other.ID == job.ID || other.DestinationKey != job.DestinationKey {
			continue
		}
		if _, live := m.procs[other.ID]; live {
			return duplicateKeyError(job.ID, other.ID)
		}
	}
	return nil
}

// armScheduledStop arms the stop timer for a freshly live process.
func (m *Manager) armScheduledStop(id string, proc Process, sched Schedule) {
	delay, ok, err := sched.StopDelay()
	if err != nil {
		logger.Warn("Invalid schedule, no automatic stop armed", "job_id", id, "error", err)
		return
	}
	if !ok {
		return
	}

	m.schedMu.Lock()
	defer m.schedMu.Unlock()

	if old, exists := m.timers[id]; exists {
		old.timer.Cancel()
	}

	var t *scheduler.Timer
	// t is assigned and inserted under schedMu; the callback reads it
	// only after taking schedMu.
	t = scheduler.After(delay, func() {
		m.schedMu.Lock()
		cur, exists := m.timers[id]
		if !exists || cur.timer != t {
			m.schedMu.Unlock()
			return
		}
		delete(m.timers, id)
		m.schedMu.Unlock()

		m.scheduledStop(id, proc)
	})
	m.timers[id] = stopTimer{timer: t, proc: proc}
	logger.Info("Scheduled stop armed", "job_id", id, "in", delay)
}

// cancelScheduledStop cancels and removes a pending stop timer.
func (m *Manager) cancelScheduledStop(id string) {
	m.schedMu.Lock()
	if t, ok := m.timers[id]; ok {
		t.timer.Cancel()
		delete(m.timers, id)
	}
	m.schedMu.Unlock()
}

// cancelScheduledStopFor cancels the pending stop only if it was armed
// for proc.
func (m *Manager) cancelScheduledStopFor(id string, proc Process) {
	m.schedMu.Lock()
	if t, ok := m.timers[id]; ok && t.proc == proc {
		t.timer.Cancel()
		delete(m.timers, id)
	}
	m.schedMu.Unlock()
}

func (m *Manager) scheduledStop(id string, proc Process) {
	st, err := m.getStore()
	if err != nil {
		return
	}
	stopped, err := m.stopProcessIf(st, id, proc, reasonSchedule)
	if err != nil {
		logger.Error("Scheduled stop failed", "job_id", id, "error", err)
		return
	}
	if stopped {
		logger.Info("Scheduled stop completed", "job_id", id)
	}
}

// Stop stops a job's encoder and marks the job completed. Stopping a job
// that has no running encoder succeeds without changing its record.
func (m *Manager) Stop(id string) error {
	st, err := m.getStore()
	if err != nil {
		return err
	}

	m.cancelScheduledStop(id)

	job, err := st.Get(id)
	if err != nil {
		return persistenceError("get job", err)
	}
	if job == nil {
		return notFoundError(id)
	}

	_, err = m.stopProcess(st, id, reasonUser)
	return err
}

// stopProcess takes the job's process out of the table, stops it and
// persists Stopping then Completed. It reports false if there was no
// process. Persistence errors do not prevent the process from being stopped.
func (m *Manager) stopProcess(st Store, id, reason string) (bool, error) {
	return m.stopProcessIf(st, id, nil, reason)
}

// stopProcessIf is stopProcess restricted to want. A nil want matches any
// process.
func (m *Manager) stopProcessIf(st Store, id string, want Process, reason string) (bool, error) {
	m.procMu.Lock()
	p, ok := m.procs[id]
	if ok && want != nil && p != want {
		ok = false
	}
	if ok {
		delete(m.procs, id)
		if m.starting[id] == p {
			delete(m.starting, id)
		}
	}
	m.procMu.Unlock()
	if !ok {
		return false, nil
	}
	m.cancelScheduledStopFor(id, p)

	elapsed := seconds(p.Elapsed())
	var errs []error

	if err := st.UpdateStatus(id, StatusStopping); err != nil {
		errs = append(errs, err)
	}
	m.publishState(id, StatusStopping, reason, nil)

	if err := p.Stop(); err != nil {
		logger.Warn("Encoder did not stop cleanly", "job_id", id, "error", err)
	}

	if err := st.UpdateStatus(id, StatusCompleted); err != nil {
		errs = append(errs, err)
	}
	if err := st.UpdateStoppedAt(id, time.Now()); err != nil {
		errs = append(errs, err)
	}
	if err := st.UpdateLastElapsed(id, elapsed); err != nil {
		errs = append(errs, err)
	}

	m.metrics.stopped(reason, elapsed)
	m.publishState(id, StatusCompleted, reason, ptr(elapsed))
	logger.Info("Job stopped", "job_id", id, "reason", reason, "elapsed_seconds", elapsed)

	if len(errs) > 0 {
		return true, persistenceError("record stop", errors.Join(errs...))
	}
	return true, nil
}

// Delete stops a job if it is running and removes its record.
func (m *Manager) Delete(id string) error {
	st, err := m.getStore()
	if err != nil {
		return err
	}

	job, err := st.Get(id)
	if err != nil {
		return persistenceError("get job", err)
	}
	if job == nil {
		return notFoundError(id)
	}

	m.cancelScheduledStop(id)
	if _, err := m.stopProcess(st, id, reasonDelete); err != nil {
		logger.Warn("Failed to record stop before delete", "job_id", id, "error", err)
	}

	if err := st.Delete(id); err != nil {
		return persistenceError("delete job", err)
	}
	logger.Info("Job deleted", "job_id", id)
	m.bus.Publish(JobDeletedEvent{ID: id, Timestamp: time.Now()})
	return nil
}

// Shutdown stops the reconciliation loop, stops every running job
// concurrently and closes the store. If ctx expires first the store is
// left open for the stops still in flight and ctx.Err() is returned.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.initMu.RLock()
	st := m.store
	stopMonitor := m.stopMonitor
	monitorDone := m.monitorDone
	m.initMu.RUnlock()
	if st == nil {
		return nil
	}

	stopMonitor()
	select {
	case <-monitorDone:
	case <-ctx.Done():
		return ctx.Err()
	}

	m.schedMu.Lock()
	for id, t := range m.timers {
		t.timer.Cancel()
		delete(m.timers, id)
	}
	m.schedMu.Unlock()

	m.procMu.RLock()
	ids := make([]string, 0, len(m.procs))
	for id := range m.procs {
		ids = append(ids, id)
	}
	m.procMu.RUnlock()

	var g errgroup.Group
	for _, id := range ids {
		g.Go(func() error {
			_, err := m.stopProcess(st, id, reasonShutdown)
			return err
		})
	}
	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	var stopErr error
	select {
	case stopErr = <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	m.initMu.Lock()
	m.store = nil
	m.initMu.Unlock()

	if err := st.Close(); err != nil {
		return errors.Join(stopErr, err)
	}
	logger.Info("Manager shut down", "stopped_jobs", len(ids))
	return stopErr
}

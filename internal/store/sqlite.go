package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gwlsn/restreamer/internal/jobs"
	_ "modernc.org/sqlite"
)

// timeLayout is fixed-width UTC so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const streamColumns = `id, name, destination_key, source_path, status, schedule,
	started_at, stopped_at, created_at, last_elapsed_seconds`

// SQLiteStore implements jobs.Store using SQLite.
type SQLiteStore struct {
	db   *sql.DB
	mu   sync.RWMutex // Protects concurrent access
	path string
}

var _ jobs.Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens or creates the database at dbPath and brings its
// schema up to date.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	// WAL for concurrent readers while a stop is being recorded
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteStore{db: db, path: dbPath}, nil
}

// Insert adds a new job row.
func (s *SQLiteStore) Insert(job *jobs.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	schedule, err := json.Marshal(job.Schedule)
	if err != nil {
		return fmt.Errorf("encode schedule: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO streams (`+streamColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		job.ID, job.Name, job.DestinationKey, job.SourcePath,
		string(job.Status), string(schedule),
		formatTimePtr(job.StartedAt), formatTimePtr(job.StoppedAt),
		formatTime(job.CreatedAt), nullUint64(job.LastElapsedSeconds),
	)
	return err
}

// GetAll returns every job, newest first.
func (s *SQLiteStore) GetAll() ([]*jobs.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`SELECT ` + streamColumns + ` FROM streams ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []*jobs.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, job)
	}
	return list, rows.Err()
}

// Get retrieves a job by ID. Returns nil, nil if not found.
func (s *SQLiteStore) Get(id string) (*jobs.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(`SELECT `+streamColumns+` FROM streams WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return job, err
}

// UpdateStatus sets a job's status.
func (s *SQLiteStore) UpdateStatus(id string, status jobs.Status) error {
	return s.exec(`UPDATE streams SET status = ? WHERE id = ?`, string(status), id)
}

// UpdateStartedAt records when a job went live.
func (s *SQLiteStore) UpdateStartedAt(id string, t time.Time) error {
	return s.exec(`UPDATE streams SET started_at = ? WHERE id = ?`, formatTime(t), id)
}

// UpdateStoppedAt records when a job stopped.
func (s *SQLiteStore) UpdateStoppedAt(id string, t time.Time) error {
	return s.exec(`UPDATE streams SET stopped_at = ? WHERE id = ?`, formatTime(t), id)
}

// UpdateLastElapsed records how long the last run lasted.
func (s *SQLiteStore) UpdateLastElapsed(id string, seconds uint64) error {
	return s.exec(`UPDATE streams SET last_elapsed_seconds = ? WHERE id = ?`, int64(seconds), id)
}

// Delete removes a job. Deleting a missing job is not an error.
func (s *SQLiteStore) Delete(id string) error {
	return s.exec(`DELETE FROM streams WHERE id = ?`, id)
}

// RecoverInterrupted marks jobs a previous run left live or stopping as
// errored. Their encoder processes did not survive the restart.
func (s *SQLiteStore) RecoverInterrupted() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.Exec(`
		UPDATE streams
		SET status = ?, stopped_at = ?
		WHERE status IN (?, ?)
	`, string(jobs.StatusError), formatTime(time.Now()),
		string(jobs.StatusLive), string(jobs.StatusStopping))
	if err != nil {
		return 0, err
	}

	count, err := result.RowsAffected()
	return int(count), err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.path
}

func (s *SQLiteStore) exec(query string, args ...any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(query, args...)
	return err
}

// Helper functions for scanning rows

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*jobs.Job, error) {
	var job jobs.Job
	var status, schedule, createdAt string
	var startedAt, stoppedAt sql.NullString
	var lastElapsed sql.NullInt64

	err := row.Scan(
		&job.ID, &job.Name, &job.DestinationKey, &job.SourcePath,
		&status, &schedule, &startedAt, &stoppedAt, &createdAt, &lastElapsed,
	)
	if err != nil {
		return nil, err
	}

	job.Status = jobs.ParseStatus(status)
	job.Schedule = parseSchedule(schedule)
	job.CreatedAt = parseTime(createdAt)
	job.StartedAt = parseTimePtr(startedAt)
	job.StoppedAt = parseTimePtr(stoppedAt)
	if lastElapsed.Valid && lastElapsed.Int64 >= 0 {
		v := uint64(lastElapsed.Int64)
		job.LastElapsedSeconds = &v
	}

	return &job, nil
}

// parseSchedule never fails: anything unreadable is a manual schedule.
func parseSchedule(raw string) jobs.Schedule {
	var sched jobs.Schedule
	if err := json.Unmarshal([]byte(raw), &sched); err != nil {
		return jobs.ManualSchedule()
	}
	switch sched.Type {
	case jobs.ScheduleManual, jobs.ScheduleDuration, jobs.ScheduleAbsolute:
		return sched
	}
	return jobs.ManualSchedule()
}

// Helper functions for SQL values

func nullUint64(v *uint64) any {
	if v == nil {
		return nil
	}
	return int64(*v)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func parseTimePtr(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t := parseTime(s.String)
	if t.IsZero() {
		return nil
	}
	return &t
}

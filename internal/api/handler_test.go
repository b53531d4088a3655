package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gwlsn/restreamer/internal/ffmpeg"
	"github.com/gwlsn/restreamer/internal/jobs"
)

// fakeJobs is an in-memory JobService.
type fakeJobs struct {
	mu       sync.Mutex
	jobs     map[string]*jobs.Job
	order    []string
	startErr error
	nextID   int
}

func newFakeJobs() *fakeJobs {
	return &fakeJobs{jobs: make(map[string]*jobs.Job)}
}

func (f *fakeJobs) List() ([]*jobs.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*jobs.Job
	for i := len(f.order) - 1; i >= 0; i-- {
		j := *f.jobs[f.order[i]]
		out = append(out, &j)
	}
	return out, nil
}

func (f *fakeJobs) Get(id string) (*jobs.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", jobs.ErrNotFound, id)
	}
	c := *j
	return &c, nil
}

func (f *fakeJobs) Add(in jobs.Input) (*jobs.Job, error) {
	if err := in.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", jobs.ErrInvalidInput, err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	j := &jobs.Job{
		ID:             fmt.Sprintf("job-%d", f.nextID),
		Name:           in.Name,
		SourcePath:     in.SourcePath,
		DestinationKey: in.DestinationKey,
		Status:         jobs.StatusIdle,
		Schedule:       in.Schedule,
		CreatedAt:      time.Now(),
	}
	f.jobs[j.ID] = j
	f.order = append(f.order, j.ID)
	c := *j
	return &c, nil
}

func (f *fakeJobs) setStatus(id string, st jobs.Status) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
	if !ok {
		return fmt.Errorf("%w: %s", jobs.ErrNotFound, id)
	}
	j.Status = st
	return nil
}

func (f *fakeJobs) Start(id string) error {
	f.mu.Lock()
	err := f.startErr
	f.mu.Unlock()
	if err != nil {
		return err
	}
	return f.setStatus(id, jobs.StatusLive)
}

func (f *fakeJobs) Stop(id string) error {
	return f.setStatus(id, jobs.StatusCompleted)
}

func (f *fakeJobs) Delete(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.jobs[id]; !ok {
		return fmt.Errorf("%w: %s", jobs.ErrNotFound, id)
	}
	delete(f.jobs, id)
	for i, oid := range f.order {
		if oid == id {
			f.order = append(f.order[:i], f.order[i+1:]...)
			break
		}
	}
	return nil
}

type testServer struct {
	*httptest.Server
	jobs   *fakeJobs
	bus    *jobs.Bus
	client *Client
}

func setupTestServer(t *testing.T) *testServer {
	t.Helper()
	svc := newFakeJobs()
	bus := jobs.NewBus()
	metrics := jobs.NewMetrics()
	h := NewHandler(svc, bus, []ffmpeg.Variant{ffmpeg.VariantNVENC, ffmpeg.VariantSoftware})

	srv := httptest.NewServer(NewRouter(h, metrics.Handler()))
	t.Cleanup(func() {
		srv.Close()
		bus.Close()
	})
	return &testServer{Server: srv, jobs: svc, bus: bus, client: NewClient(srv.URL)}
}

func validInput(name string) jobs.Input {
	return jobs.Input{
		Name:           name,
		DestinationKey: "key-" + name,
		SourcePath:     "/media/" + name + ".mp4",
		Schedule:       jobs.ManualSchedule(),
	}
}

func TestHealthz(t *testing.T) {
	ts := setupTestServer(t)

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected status 200, got %d", resp.StatusCode)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts := setupTestServer(t)

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.StatusCode)
	}
	if !strings.Contains(string(body), "restreamer_job_crashes_total") {
		t.Error("expected restreamer_job_crashes_total in metrics output")
	}
}

func TestCreateAndListJobs(t *testing.T) {
	ts := setupTestServer(t)
	ctx := context.Background()

	first, err := ts.client.Add(ctx, validInput("first"))
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if first.Status != jobs.StatusIdle {
		t.Errorf("expected idle, got %s", first.Status)
	}
	ts.client.Add(ctx, validInput("second"))

	list, err := ts.client.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 2 || list[0].Name != "second" {
		t.Errorf("expected two jobs newest first, got %+v", list)
	}
}

func TestListJobs_EmptyIsArray(t *testing.T) {
	ts := setupTestServer(t)

	resp, err := http.Get(ts.URL + "/api/jobs")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if strings.TrimSpace(string(body)) != "[]" {
		t.Errorf("expected empty JSON array, got %q", body)
	}
}

func TestCreateJob_SnakeCaseBody(t *testing.T) {
	ts := setupTestServer(t)

	body := `{"name":"raw","destination_key":"abcd-efgh","source_path":"/v.mp4",
		"schedule":{"type":"duration","duration":{"hours":1,"minutes":0,"seconds":0}}}`
	resp, err := http.Post(ts.URL+"/api/jobs", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected status 201, got %d", resp.StatusCode)
	}

	var job jobs.Job
	if err := json.NewDecoder(resp.Body).Decode(&job); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if job.DestinationKey != "abcd-efgh" || job.Schedule.Duration == nil || job.Schedule.Duration.Hours != 1 {
		t.Errorf("unexpected job: %+v", job)
	}
}

func TestCreateJob_BadRequests(t *testing.T) {
	ts := setupTestServer(t)

	for _, body := range []string{`not json`, `{"name":""}`} {
		resp, err := http.Post(ts.URL+"/api/jobs", "application/json", bytes.NewBufferString(body))
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("body %q: expected 400, got %d", body, resp.StatusCode)
		}
	}
}

func TestStartStopDelete(t *testing.T) {
	ts := setupTestServer(t)
	ctx := context.Background()
	job, _ := ts.client.Add(ctx, validInput("cycle"))

	started, err := ts.client.Start(ctx, job.ID)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if started.Status != jobs.StatusLive {
		t.Errorf("expected live, got %s", started.Status)
	}

	stopped, err := ts.client.Stop(ctx, job.ID)
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if stopped.Status != jobs.StatusCompleted {
		t.Errorf("expected completed, got %s", stopped.Status)
	}

	if err := ts.client.Delete(ctx, job.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	_, err = ts.client.Get(ctx, job.ID)
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusNotFound {
		t.Errorf("expected 404 after delete, got %v", err)
	}
}

func TestErrorStatusMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
		kind string
	}{
		{fmt.Errorf("%w: x", jobs.ErrNotFound), http.StatusNotFound, "not_found"},
		{fmt.Errorf("%w: x", jobs.ErrAlreadyRunning), http.StatusConflict, "already_running"},
		{fmt.Errorf("%w: x", jobs.ErrDuplicateKey), http.StatusConflict, "duplicate_key"},
		{fmt.Errorf("%w: x", jobs.ErrInvalidInput), http.StatusBadRequest, "invalid_input"},
		{fmt.Errorf("%w: x: %w", jobs.ErrProcess, ffmpeg.ErrVideoNotFound), http.StatusBadGateway, "process"},
		{fmt.Errorf("%w: x", jobs.ErrPersistence), http.StatusInternalServerError, "persistence"},
		{jobs.ErrNotInitialized, http.StatusServiceUnavailable, "not_initialized"},
		{errors.New("other"), http.StatusInternalServerError, "internal"},
	}
	for _, tc := range cases {
		got, kind := classify(tc.err)
		if got != tc.want || kind != tc.kind {
			t.Errorf("%v: expected %d/%s, got %d/%s", tc.err, tc.want, tc.kind, got, kind)
		}
	}
}

func TestStartJob_ConflictReachesClient(t *testing.T) {
	ts := setupTestServer(t)
	ctx := context.Background()
	job, _ := ts.client.Add(ctx, validInput("dup"))
	ts.jobs.mu.Lock()
	ts.jobs.startErr = fmt.Errorf("%w: job a conflicts with b", jobs.ErrDuplicateKey)
	ts.jobs.mu.Unlock()

	_, err := ts.client.Start(ctx, job.ID)
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if se.Code != http.StatusConflict || se.Kind != "duplicate_key" {
		t.Errorf("expected 409 duplicate_key, got %d %s", se.Code, se.Kind)
	}
	if !strings.Contains(se.Message, "conflicts") {
		t.Errorf("expected error message from server, got %q", se.Message)
	}
}

func TestEncodersEndpoint(t *testing.T) {
	ts := setupTestServer(t)

	list, err := ts.client.Encoders(context.Background())
	if err != nil {
		t.Fatalf("Encoders: %v", err)
	}
	if len(list) != 2 || list[0].Encoder != "h264_nvenc" || list[1].Encoder != "libx264" {
		t.Errorf("unexpected encoder order: %+v", list)
	}
}

func TestJobStream(t *testing.T) {
	ts := setupTestServer(t)
	ts.client.Add(context.Background(), validInput("existing"))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/jobs/stream", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("expected text/event-stream, got %q", ct)
	}

	reader := bufio.NewReader(resp.Body)
	readEvent := func() (string, string) {
		t.Helper()
		var name, data string
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				t.Fatalf("stream ended: %v", err)
			}
			line = strings.TrimRight(line, "\n")
			switch {
			case strings.HasPrefix(line, "event: "):
				name = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				data = strings.TrimPrefix(line, "data: ")
			case line == "" && name != "":
				return name, data
			}
		}
	}

	name, data := readEvent()
	if name != "init" {
		t.Fatalf("expected init event, got %s", name)
	}
	if !strings.Contains(data, "existing") {
		t.Errorf("expected initial jobs in init event, got %s", data)
	}

	ts.bus.Publish(jobs.JobStateChangedEvent{ID: "job-1", Status: jobs.StatusLive, Timestamp: time.Now()})

	name, data = readEvent()
	if name != "job_state" {
		t.Fatalf("expected job_state event, got %s", name)
	}
	var ev jobs.JobStateChangedEvent
	if err := json.Unmarshal([]byte(data), &ev); err != nil {
		t.Fatalf("failed to parse event: %v", err)
	}
	if ev.ID != "job-1" || ev.Status != jobs.StatusLive {
		t.Errorf("unexpected event: %+v", ev)
	}
}

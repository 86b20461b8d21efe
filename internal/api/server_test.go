package api

import (
	"context"
	"encoding/base64"
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

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/rpcqueue/internal/dispatch"
	"github.com/nerrad567/rpcqueue/internal/infrastructure/config"
	"github.com/nerrad567/rpcqueue/internal/infrastructure/logging"
	"github.com/nerrad567/rpcqueue/internal/relay"
)

// fakeRelay records submissions and returns canned errors.
type fakeRelay struct {
	mu        sync.Mutex
	submitted []string
	stats     []dispatch.Stats

	submitErr  error
	flushErr   error
	restartErr error
	unhealthy  bool
}

func (f *fakeRelay) Submit(run string, payload dispatch.Payload) error {
	if f.submitErr != nil {
		return f.submitErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, fmt.Sprintf("%s:%d", run, len(payload)))
	return nil
}

func (f *fakeRelay) Flush(ctx context.Context, name string) error {
	if _, ok := f.find(name); !ok {
		return relay.ErrUnknownQueue
	}
	if f.flushErr != nil {
		<-ctx.Done()
		return ctx.Err()
	}
	return nil
}

func (f *fakeRelay) Restart(name string) error {
	if _, ok := f.find(name); !ok {
		return relay.ErrUnknownQueue
	}
	return f.restartErr
}

func (f *fakeRelay) Stats() []dispatch.Stats { return f.stats }
func (f *fakeRelay) Healthy() bool           { return !f.unhealthy }

func (f *fakeRelay) find(name string) (dispatch.Stats, bool) {
	for _, st := range f.stats {
		if st.Name == name {
			return st, true
		}
	}
	return dispatch.Stats{}, false
}

type checkFunc func(ctx context.Context) error

func (f checkFunc) HealthCheck(ctx context.Context) error { return f(ctx) }

func testLogger() *logging.Logger {
	return logging.NewWithWriter(config.LoggingConfig{Level: "error", Format: "text"}, "test", io.Discard)
}

func newFakeRelay() *fakeRelay {
	return &fakeRelay{stats: []dispatch.Stats{
		{Name: "sqlite", Status: dispatch.StatusRunning, CapacityBytes: 1024},
		{Name: "influxdb", Status: dispatch.StatusRunning, CapacityBytes: 1024},
	}}
}

func testServer(t *testing.T, r Relay, checks map[string]HealthChecker) *Server {
	t.Helper()
	srv, err := New(Deps{
		Config:   config.APIConfig{Host: "127.0.0.1", MaxBodyBytes: 256},
		Logger:   testLogger(),
		Relay:    r,
		Checks:   checks,
		Gatherer: prometheus.NewRegistry(),
		Version:  "test",
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return srv
}

func do(t *testing.T, srv *Server, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rd)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	return v
}

func TestNew_RequiresDeps(t *testing.T) {
	if _, err := New(Deps{Relay: newFakeRelay()}); err == nil {
		t.Error("New() without logger returned nil error")
	}
	if _, err := New(Deps{Logger: testLogger()}); err == nil {
		t.Error("New() without relay returned nil error")
	}
}

func TestHandleHealth(t *testing.T) {
	tests := []struct {
		name       string
		unhealthy  bool
		checkErr   error
		wantStatus int
		wantBody   string
	}{
		{"all ok", false, nil, http.StatusOK, "ok"},
		{"failed worker", true, nil, http.StatusServiceUnavailable, "degraded"},
		{"sink down", false, errors.New("database is locked"), http.StatusServiceUnavailable, "degraded"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fr := newFakeRelay()
			fr.unhealthy = tt.unhealthy
			checks := map[string]HealthChecker{
				"sqlite": checkFunc(func(context.Context) error { return tt.checkErr }),
			}
			rec := do(t, testServer(t, fr, checks), http.MethodGet, "/api/v1/health", "")

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			resp := decode[HealthResponse](t, rec)
			if resp.Status != tt.wantBody {
				t.Errorf("body status = %q, want %q", resp.Status, tt.wantBody)
			}
			if resp.Queues["sqlite"] != dispatch.StatusRunning {
				t.Errorf("queues = %v", resp.Queues)
			}
		})
	}
}

func TestHandleListAndGetQueue(t *testing.T) {
	fr := newFakeRelay()
	srv := testServer(t, fr, nil)

	rec := do(t, srv, http.MethodGet, "/api/v1/queues", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	list := decode[QueueListResponse](t, rec)
	if diff := cmp.Diff(fr.stats, list.Queues); diff != "" {
		t.Errorf("queues mismatch (-want +got):\n%s", diff)
	}

	rec = do(t, srv, http.MethodGet, "/api/v1/queues/influxdb", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}
	if got := decode[dispatch.Stats](t, rec); got.Name != "influxdb" {
		t.Errorf("Name = %q, want influxdb", got.Name)
	}

	if rec := do(t, srv, http.MethodGet, "/api/v1/queues/missing", ""); rec.Code != http.StatusNotFound {
		t.Errorf("missing queue status = %d, want 404", rec.Code)
	}
}

func TestHandleFlushQueue(t *testing.T) {
	tests := []struct {
		name       string
		target     string
		flushErr   error
		wantStatus int
	}{
		{"drained", "/api/v1/queues/sqlite/flush", nil, http.StatusOK},
		{"timeout", "/api/v1/queues/sqlite/flush?timeout=20ms", context.DeadlineExceeded, http.StatusGatewayTimeout},
		{"bad timeout", "/api/v1/queues/sqlite/flush?timeout=soon", nil, http.StatusBadRequest},
		{"negative timeout", "/api/v1/queues/sqlite/flush?timeout=-1s", nil, http.StatusBadRequest},
		{"unknown", "/api/v1/queues/missing/flush", nil, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fr := newFakeRelay()
			fr.flushErr = tt.flushErr
			rec := do(t, testServer(t, fr, nil), http.MethodPost, tt.target, "")
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d: %s", rec.Code, tt.wantStatus, rec.Body.String())
			}
		})
	}
}

func TestHandleRestartQueue(t *testing.T) {
	tests := []struct {
		name       string
		queue      string
		err        error
		wantStatus int
	}{
		{"restarted", "sqlite", nil, http.StatusOK},
		{"not failed", "sqlite", dispatch.ErrNotFailed, http.StatusConflict},
		{"closed", "sqlite", dispatch.ErrClosed, http.StatusConflict},
		{"unknown", "missing", nil, http.StatusNotFound},
		{"other", "sqlite", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fr := newFakeRelay()
			fr.restartErr = tt.err
			rec := do(t, testServer(t, fr, nil), http.MethodPost, "/api/v1/queues/"+tt.queue+"/restart", "")
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}

func TestHandleSubmitRecords(t *testing.T) {
	const batch = `{"records":[{"key":"aw==","value":"dg=="},{"key":"aw==","value":"dw=="}]}`

	tests := []struct {
		name       string
		run        string
		body       string
		submitErr  error
		wantStatus int
	}{
		{"accepted", "3f9a", batch, nil, http.StatusAccepted},
		{"matching body run", "3f9a", `{"run":"3f9a","records":[{"key":"aw==","value":"dg=="}]}`, nil, http.StatusAccepted},
		{"mismatched body run", "3f9a", `{"run":"other","records":[{"key":"aw==","value":"dg=="}]}`, nil, http.StatusBadRequest},
		{"no records", "3f9a", `{"records":[]}`, nil, http.StatusBadRequest},
		{"invalid json", "3f9a", `{`, nil, http.StatusBadRequest},
		{"too large", "3f9a", `{"records":[{"key":"` + strings.Repeat("a", 400) + `"}]}`, nil, http.StatusRequestEntityTooLarge},
		{"shutting down", "3f9a", batch, relay.ErrClosed, http.StatusServiceUnavailable},
		{"batch over queue capacity", "3f9a", batch, fmt.Errorf("%w: 4 bytes", relay.ErrBatchTooLarge), http.StatusRequestEntityTooLarge},
		{"relay failure", "3f9a", batch, errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fr := newFakeRelay()
			fr.submitErr = tt.submitErr
			rec := do(t, testServer(t, fr, nil), http.MethodPost, "/api/v1/runs/"+tt.run+"/records", tt.body)
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d: %s", rec.Code, tt.wantStatus, rec.Body.String())
			}
		})
	}
}

func TestSubmitThroughRelay(t *testing.T) {
	sink := &recordingSink{}
	rl, err := relay.New(relay.Config{
		Queue: config.QueueConfig{CapacityBytes: 1 << 10, RetryCount: 1},
	}, sink)
	if err != nil {
		t.Fatalf("relay.New() error = %v", err)
	}
	t.Cleanup(func() { _ = rl.Close(context.Background()) })
	srv := testServer(t, rl, nil)

	body := `{"records":[{"key":"aw==","value":"dg=="}]}`
	if rec := do(t, srv, http.MethodPost, "/api/v1/runs/3f9a/records", body); rec.Code != http.StatusAccepted {
		t.Fatalf("submit status = %d: %s", rec.Code, rec.Body.String())
	}
	if rec := do(t, srv, http.MethodPost, "/api/v1/queues/memory/flush?timeout=2s", ""); rec.Code != http.StatusOK {
		t.Fatalf("flush status = %d: %s", rec.Code, rec.Body.String())
	}
	if diff := cmp.Diff([]string{"3f9a"}, sink.runs()); diff != "" {
		t.Errorf("writes mismatch (-want +got):\n%s", diff)
	}
}

func TestSubmitThroughRelay_BatchOverCapacity(t *testing.T) {
	sink := &recordingSink{}
	rl, err := relay.New(relay.Config{
		Queue: config.QueueConfig{CapacityBytes: 16, RetryCount: 1},
	}, sink)
	if err != nil {
		t.Fatalf("relay.New() error = %v", err)
	}
	t.Cleanup(func() { _ = rl.Close(context.Background()) })
	srv := testServer(t, rl, nil)

	// 1 key byte plus 16 value bytes.
	body := `{"records":[{"key":"aw==","value":"` + base64.StdEncoding.EncodeToString(make([]byte, 16)) + `"}]}`

	done := make(chan *httptest.ResponseRecorder, 1)
	go func() { done <- do(t, srv, http.MethodPost, "/api/v1/runs/3f9a/records", body) }()

	select {
	case rec := <-done:
		if rec.Code != http.StatusRequestEntityTooLarge {
			t.Fatalf("status = %d, want 413: %s", rec.Code, rec.Body.String())
		}
		if got := decode[Error](t, rec).Code; got != ErrCodeTooLarge {
			t.Errorf("code = %q, want %q", got, ErrCodeTooLarge)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("submit of a batch over queue capacity did not return")
	}
	if s := rl.Stats()[0]; s.Outstanding != 0 {
		t.Errorf("Outstanding = %d, want 0", s.Outstanding)
	}
}

type recordingSink struct {
	mu      sync.Mutex
	written []string
}

func (s *recordingSink) Name() string { return "memory" }

func (s *recordingSink) WriteRecords(_ context.Context, run string, _ dispatch.Payload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.written = append(s.written, run)
	return nil
}

func (s *recordingSink) runs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.written...)
}

func TestMiddleware(t *testing.T) {
	srv := testServer(t, newFakeRelay(), nil)

	rec := do(t, srv, http.MethodGet, "/api/v1/queues", "")
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("X-Request-ID not set")
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/queues", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-ID"); got != "abc-123" {
		t.Errorf("X-Request-ID = %q, want client value", got)
	}

	if rec := do(t, srv, http.MethodDelete, "/api/v1/queues", ""); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("DELETE status = %d, want 405", rec.Code)
	}
	if rec := do(t, srv, http.MethodGet, "/nope", ""); rec.Code != http.StatusNotFound {
		t.Errorf("unknown route status = %d, want 404", rec.Code)
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	srv := testServer(t, &panickingRelay{fakeRelay: newFakeRelay()}, nil)

	rec := do(t, srv, http.MethodGet, "/api/v1/queues", "")
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

type panickingRelay struct{ *fakeRelay }

func (panickingRelay) Stats() []dispatch.Stats { panic("stats bug") }

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	dispatch.NewMetrics(reg).Observer("sqlite").TaskAdmitted(42)

	srv, err := New(Deps{Logger: testLogger(), Relay: newFakeRelay(), Gatherer: reg})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	rec := do(t, srv, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `rpcqueue_dispatch_admitted_bytes_total{queue="sqlite"} 42`) {
		t.Errorf("metrics output missing admitted bytes:\n%s", rec.Body.String())
	}
}

func TestServer_StartClose(t *testing.T) {
	fr := newFakeRelay()
	srv := testServer(t, fr, nil)

	if err := srv.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() before Start returned nil")
	}
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer srv.Close()

	if err := srv.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get("http://" + srv.Addr() + "/api/v1/health")
	if err != nil {
		t.Fatalf("GET /api/v1/health error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}

	if err := srv.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

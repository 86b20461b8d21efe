package relay

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	testingclock "k8s.io/utils/clock/testing"

	"github.com/nerrad567/rpcqueue/internal/dispatch"
	"github.com/nerrad567/rpcqueue/internal/infrastructure/config"
)

func failOn(bad string) func(string) error {
	return func(run string) error {
		if run == bad {
			return errors.New("schema mismatch")
		}
		return nil
	}
}

func TestSupervisor_RestartsFailedWorker(t *testing.T) {
	cfg := testConfig()
	cfg.Supervisor = config.SupervisorConfig{RestartOnFailure: true}

	sink := &fakeSink{name: "sqlite", write: failOn("bad")}
	r := newTestRelay(t, cfg, sink)

	for _, run := range []string{"first", "bad", "last"} {
		if err := r.Submit(run, records(1)); err != nil {
			t.Fatalf("Submit(%s) error = %v", run, err)
		}
	}
	flush(t, r, "sqlite")

	if diff := cmp.Diff([]string{"first", "last"}, sink.written()); diff != "" {
		t.Errorf("writes mismatch (-want +got):\n%s", diff)
	}
	if got := r.routes[0].sup.attempts(); got != 1 {
		t.Errorf("attempts() = %d, want 1", got)
	}
	if stats := r.Stats()[0]; stats.Restarts != 1 || stats.Status != dispatch.StatusRunning {
		t.Errorf("Stats() = %+v, want running with 1 restart", stats)
	}
}

func TestSupervisor_MaxRestartAttempts(t *testing.T) {
	cfg := testConfig()
	cfg.Supervisor = config.SupervisorConfig{RestartOnFailure: true, MaxRestartAttempts: 1}

	sink := &fakeSink{name: "sqlite", write: func(string) error { return errors.New("read-only database") }}
	r := newTestRelay(t, cfg, sink)

	for _, run := range []string{"a", "b", "c"} {
		if err := r.Submit(run, records(1)); err != nil {
			t.Fatalf("Submit(%s) error = %v", run, err)
		}
	}

	q, _ := r.Queue("sqlite")
	eventually(t, "second failure", func() bool {
		s := q.Stats()
		return s.Status == dispatch.StatusFailed && s.Restarts == 1
	})
	eventually(t, "supervisor giving up", func() bool { return r.routes[0].sup.attempts() == 2 })

	time.Sleep(20 * time.Millisecond)
	if s := q.Stats(); s.Status != dispatch.StatusFailed || s.Restarts != 1 || s.Outstanding != 2 {
		t.Errorf("Stats() = %+v, want failed after 1 restart with 2 outstanding", s)
	}
}

func TestSupervisor_WaitsRestartDelay(t *testing.T) {
	clk := testingclock.NewFakeClock(time.Unix(0, 0))
	cfg := testConfig()
	cfg.Clock = clk
	cfg.Supervisor = config.SupervisorConfig{RestartOnFailure: true, RestartDelay: 10 * time.Second}

	sink := &fakeSink{name: "influxdb", write: failOn("bad")}
	r := newTestRelay(t, cfg, sink)

	if err := r.Submit("bad", records(1)); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	eventually(t, "supervisor waiting", clk.HasWaiters)

	q, _ := r.Queue("influxdb")
	clk.Step(9 * time.Second)
	time.Sleep(20 * time.Millisecond)
	if q.Status() != dispatch.StatusFailed {
		t.Fatalf("Status() = %q before the delay elapsed", q.Status())
	}

	clk.Step(time.Second)
	eventually(t, "restart", func() bool { return q.Status() == dispatch.StatusRunning })
}

func TestSupervisor_ManualRestartRace(t *testing.T) {
	clk := testingclock.NewFakeClock(time.Unix(0, 0))
	cfg := testConfig()
	cfg.Clock = clk
	cfg.Supervisor = config.SupervisorConfig{RestartOnFailure: true, RestartDelay: time.Minute}

	var mu sync.Mutex
	fail := true
	sink := &fakeSink{name: "mqtt", write: func(string) error {
		mu.Lock()
		defer mu.Unlock()
		if fail {
			fail = false
			return errors.New("payload too large")
		}
		return nil
	}}
	r := newTestRelay(t, cfg, sink)

	if err := r.Submit("a", records(1)); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	eventually(t, "supervisor waiting", clk.HasWaiters)

	if err := r.Restart("mqtt"); err != nil {
		t.Fatalf("Restart() error = %v", err)
	}
	clk.Step(time.Minute)

	if err := r.Submit("b", records(1)); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	flush(t, r, "mqtt")

	q, _ := r.Queue("mqtt")
	if s := q.Stats(); s.Restarts != 1 {
		t.Errorf("Restarts = %d, want 1 (supervisor must not restart a running worker)", s.Restarts)
	}
	if diff := cmp.Diff([]string{"b"}, sink.written()); diff != "" {
		t.Errorf("writes mismatch (-want +got):\n%s", diff)
	}
}

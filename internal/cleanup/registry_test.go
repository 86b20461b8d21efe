package cleanup

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/multierr"
)

func TestRegistry_RunOrder(t *testing.T) {
	reg := New(nil)

	var got []string
	add := func(name string, priority int) {
		reg.Register(name, priority, func(context.Context) error {
			got = append(got, name)
			return nil
		})
	}
	add("database", 10)
	add("influx", 10)
	add("queue/sqlite", 100)
	add("api", 200)
	add("queue/influx", 100)

	if err := reg.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	want := []string{"api", "queue/influx", "queue/sqlite", "influx", "database"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("hook order mismatch (-want +got):\n%s", diff)
	}
}

func TestRegistry_RunOnce(t *testing.T) {
	reg := New(nil)

	calls := 0
	reg.Register("once", 1, func(context.Context) error {
		calls++
		return nil
	})

	for i := 0; i < 3; i++ {
		if err := reg.Run(context.Background()); err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	}
	if calls != 1 {
		t.Errorf("hook ran %d times, want 1", calls)
	}
	if reg.pending() != 0 {
		t.Errorf("pending() = %d, want 0", reg.pending())
	}
}

func TestRegistry_AggregatesErrors(t *testing.T) {
	reg := New(nil)

	errA := errors.New("a failed")
	errB := errors.New("b failed")
	ranLast := false

	reg.Register("last", 0, func(context.Context) error {
		ranLast = true
		return nil
	})
	reg.Register("b", 5, func(context.Context) error { return errB })
	reg.Register("a", 10, func(context.Context) error { return errA })

	err := reg.Run(context.Background())
	if !errors.Is(err, errA) || !errors.Is(err, errB) {
		t.Errorf("Run() error = %v, want both hook errors", err)
	}
	if n := len(multierr.Errors(err)); n != 2 {
		t.Errorf("len(Errors) = %d, want 2", n)
	}
	if !ranLast {
		t.Error("hook after failures did not run")
	}
}

func TestRegistry_PassesContext(t *testing.T) {
	reg := New(nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	reg.Register("ctx", 1, func(ctx context.Context) error { return ctx.Err() })

	if err := reg.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Run() error = %v, want context.Canceled", err)
	}
}

func TestRegistry_NilHookIgnored(t *testing.T) {
	reg := New(nil)
	reg.Register("nil", 1, nil)
	if reg.pending() != 0 {
		t.Errorf("pending() = %d, want 0", reg.pending())
	}
}

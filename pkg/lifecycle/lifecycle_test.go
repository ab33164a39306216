package lifecycle_test

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/aviario/postura/pkg/lifecycle"
)

type flag struct{ v atomic.Bool }

func (f *flag) Ready() bool { return f.v.Load() }

func TestReady(t *testing.T) {
	lc := lifecycle.New()
	if lc.Ready() {
		t.Error("ready before WaitForStartup")
	}

	lc.WaitForStartup()
	if !lc.Ready() {
		t.Error("not ready after WaitForStartup with no checks")
	}
}

func TestReadyChecks(t *testing.T) {
	lc := lifecycle.New()
	model := &flag{}
	lc.AddCheck("model", model)
	lc.WaitForStartup()

	if lc.Ready() {
		t.Error("ready while a check fails")
	}
	if checks := lc.Checks(); checks["model"] {
		t.Errorf("checks = %v, want model false", checks)
	}

	model.v.Store(true)

	if !lc.Ready() {
		t.Error("not ready after every check passes")
	}
	if checks := lc.Checks(); !checks["model"] {
		t.Errorf("checks = %v, want model true", checks)
	}
}

func TestStartupHooks(t *testing.T) {
	lc := lifecycle.New()

	var count atomic.Int32
	for range 3 {
		lc.OnStartup(func() { count.Add(1) })
	}
	lc.WaitForStartup()

	if got := count.Load(); got != 3 {
		t.Errorf("startup hooks ran %d times, want 3", got)
	}
}

func TestShutdown(t *testing.T) {
	tests := []struct {
		name    string
		hook    time.Duration
		timeout time.Duration
		wantErr bool
	}{
		{"hooks complete", 0, 5 * time.Second, false},
		{"hook exceeds timeout", 500 * time.Millisecond, 50 * time.Millisecond, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lc := lifecycle.New()

			var cleaned atomic.Bool
			lc.OnShutdown(func() {
				<-lc.Context().Done()
				time.Sleep(tt.hook)
				cleaned.Store(true)
			})
			lc.WaitForStartup()

			err := lc.Shutdown(tt.timeout)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Shutdown() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && !cleaned.Load() {
				t.Error("shutdown hook did not run")
			}

			select {
			case <-lc.Context().Done():
			default:
				t.Error("context not cancelled after shutdown")
			}
		})
	}
}

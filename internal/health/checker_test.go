package health

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"github.com/streakforge/streakforge/internal/infra/metrics"
	"github.com/streakforge/streakforge/internal/infra/store"
)

func newTestDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.OpenSQLite(t.TempDir())
	if err != nil {
		t.Fatalf("OpenSQLite() error: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

// ─── Checker Tests ──────────────────────────────────────────────────────────

func TestChecker_RunAllHealthy(t *testing.T) {
	db := newTestDB(t)
	c := NewChecker(time.Minute, zerolog.Nop(),
		PingCheck("database", db),
		DataDirCheck(t.TempDir()),
	)
	c.RunOnce(context.Background())

	statuses := c.Statuses()
	if len(statuses) != 2 {
		t.Fatalf("Statuses() = %d, want 2", len(statuses))
	}
	for _, s := range statuses {
		if !s.Healthy {
			t.Errorf("check %q should be healthy, got error: %s", s.Name, s.Error)
		}
	}
	if !c.IsHealthy() {
		t.Error("IsHealthy() should be true when all checks pass")
	}
	if got := testutil.ToFloat64(metrics.HealthCheckStatus.WithLabelValues("database")); got != 1 {
		t.Errorf("health gauge = %v, want 1", got)
	}
}

func TestChecker_IsHealthy_BeforeRun(t *testing.T) {
	c := NewChecker(0, zerolog.Nop())

	// Before any run, there are no statuses, so IsHealthy returns true (vacuously)
	if !c.IsHealthy() {
		t.Error("IsHealthy() should be true before first run (no statuses)")
	}
	if c.interval != 60*time.Second {
		t.Errorf("default interval = %v, want 60s", c.interval)
	}
}

func TestChecker_FailureAndRecovery(t *testing.T) {
	recovered := false
	c := NewChecker(time.Minute, zerolog.Nop(), Check{
		Name:      "broker",
		CheckFn:   func(ctx context.Context) error { return errors.New("connection refused") },
		RecoverFn: func(ctx context.Context) error { recovered = true; return nil },
	})
	c.RunOnce(context.Background())

	if c.IsHealthy() {
		t.Error("IsHealthy() should be false")
	}
	s := c.Statuses()[0]
	if s.Error != "connection refused" {
		t.Errorf("Error = %q", s.Error)
	}
	if !recovered {
		t.Error("RecoverFn should run on failure")
	}
	if got := testutil.ToFloat64(metrics.HealthCheckStatus.WithLabelValues("broker")); got != 0 {
		t.Errorf("health gauge = %v, want 0", got)
	}
}

func TestChecker_ClosedDatabaseUnhealthy(t *testing.T) {
	db, err := store.OpenSQLite(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	db.Close()

	c := NewChecker(time.Minute, zerolog.Nop(), PingCheck("database", db))
	c.RunOnce(context.Background())
	if c.IsHealthy() {
		t.Error("closed database should be unhealthy")
	}
}

func TestChecker_CheckTimeout(t *testing.T) {
	c := NewChecker(time.Minute, zerolog.Nop(), PingCheck("slow", pingerFunc(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})))
	c.timeout = 10 * time.Millisecond
	c.RunOnce(context.Background())

	if c.Statuses()[0].Healthy {
		t.Error("slow check should time out")
	}
}

func TestDataDirCheck_RecreatesMissingDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")
	c := NewChecker(time.Minute, zerolog.Nop(), DataDirCheck(dir))

	c.RunOnce(context.Background())
	if c.IsHealthy() {
		t.Error("missing dir should fail the first run")
	}
	if _, err := os.Stat(dir); err != nil {
		t.Fatalf("recovery should create the dir: %v", err)
	}

	c.RunOnce(context.Background())
	if !c.IsHealthy() {
		t.Error("second run should pass")
	}
}

func TestChecker_RunStopsOnCancel(t *testing.T) {
	c := NewChecker(time.Hour, zerolog.Nop(), PingCheck("ok", pingerFunc(func(context.Context) error { return nil })))
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

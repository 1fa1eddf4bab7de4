package daemon

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	stdsync "sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/couriermsg/courier/internal/action"
	"github.com/couriermsg/courier/internal/bus"
	"github.com/couriermsg/courier/internal/config"
	"github.com/couriermsg/courier/internal/keys"
	"github.com/couriermsg/courier/internal/lock"
	"github.com/couriermsg/courier/internal/status"
	"github.com/couriermsg/courier/internal/store"
	intsync "github.com/couriermsg/courier/internal/sync"
)

type stubTransport struct {
	mu    stdsync.Mutex
	sends int
}

func (s *stubTransport) Send(context.Context, string, string, string, string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sends++
	return nil
}

func (s *stubTransport) Execute(context.Context, action.Kind, json.RawMessage) error {
	return nil
}

func (s *stubTransport) sent() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sends
}

type stubHealth struct {
	mu      stdsync.Mutex
	healthy bool
}

func (s *stubHealth) Healthy(context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.healthy
}

func (s *stubHealth) set(v bool) {
	s.mu.Lock()
	s.healthy = v
	s.mu.Unlock()
}

func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", what)
}

// TestDaemonLifecycle assembles the full daemon stack by hand (lock,
// store, monitor, engine, probe) and walks one message from offline
// queue to delivery after connectivity returns.
func TestDaemonLifecycle(t *testing.T) {
	profileDir := t.TempDir()

	lk, err := lock.Acquire(profileDir)
	if err != nil {
		t.Fatal(err)
	}

	db, err := store.Open(filepath.Join(profileDir, "courier.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	defer func() { _ = db.Close() }()

	logger := zap.NewNop()
	b := bus.New()
	remote := &stubTransport{}
	health := &stubHealth{}
	monitor := status.NewMonitor(db, b, logger)
	engine := intsync.NewEngine(db, remote, monitor, b, logger)
	probe := NewProbe(health, engine, logger, 10*time.Millisecond)

	monitor.Start(context.Background())
	engine.Start(context.Background())
	probe.Start(context.Background())

	// Service unreachable: the message must park as pending.
	id, err := engine.QueueMessage("conv-1", "offline first", "text", nil)
	if err != nil {
		t.Fatal(err)
	}
	item, err := db.GetQueueItem(id)
	if err != nil {
		t.Fatal(err)
	}
	if item == nil || item.Status != store.QueueStatusPending {
		t.Fatalf("item = %+v, want pending", item)
	}

	// Service comes back: probe flips the engine online and the
	// reconnect pass delivers the backlog.
	health.set(true)
	waitFor(t, 3*time.Second, "engine online", engine.Online)
	waitFor(t, 3*time.Second, "backlog delivered", func() bool {
		item, err := db.GetQueueItem(id)
		return err == nil && item == nil
	})
	if remote.sent() != 1 {
		t.Errorf("sends = %d, want 1", remote.sent())
	}
	waitFor(t, 3*time.Second, "conversation synced", func() bool {
		s, err := db.GetSyncStatus("conv-1")
		return err == nil && s != nil && s.Status == store.SyncStateSynced
	})

	// Service drops again: probe flips the engine offline.
	health.set(false)
	waitFor(t, 3*time.Second, "engine offline", func() bool { return !engine.Online() })

	probe.Stop()
	engine.Stop()
	monitor.Stop()

	if err := lk.Release(); err != nil {
		t.Fatal(err)
	}
	// Lock must be reacquirable after a clean shutdown.
	lk2, err := lock.Acquire(profileDir)
	if err != nil {
		t.Fatalf("reacquire after release: %v", err)
	}
	_ = lk2.Release()
}

func TestProbeTracksConnectivity(t *testing.T) {
	db, err := store.Open(filepath.Join(t.TempDir(), "courier.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	defer func() { _ = db.Close() }()

	b := bus.New()
	logger := zap.NewNop()
	monitor := status.NewMonitor(db, b, logger)
	engine := intsync.NewEngine(db, &stubTransport{}, monitor, b, logger)
	health := &stubHealth{}
	probe := NewProbe(health, engine, logger, 10*time.Millisecond)

	probe.Start(context.Background())
	defer probe.Stop()

	if engine.Online() {
		t.Fatal("engine online before first healthy probe")
	}

	health.set(true)
	waitFor(t, 2*time.Second, "online flip", engine.Online)

	health.set(false)
	waitFor(t, 2*time.Second, "offline flip", func() bool { return !engine.Online() })

	// Stop is idempotent.
	probe.Stop()
	probe.Stop()
}

func TestBootstrapIdentity(t *testing.T) {
	db, err := store.Open(filepath.Join(t.TempDir(), "courier.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	defer func() { _ = db.Close() }()

	km := keys.NewManager(db, zap.NewNop())
	cfg := &config.Config{UserID: "alice"}

	bootstrapIdentity(km, cfg, zap.NewNop())

	first, err := km.ExportPublicKey("alice")
	if err != nil {
		t.Fatalf("no key pair after bootstrap: %v", err)
	}

	// Second bootstrap reuses the existing pair instead of rotating.
	bootstrapIdentity(km, cfg, zap.NewNop())
	second, err := km.ExportPublicKey("alice")
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Error("bootstrap rotated an existing key pair")
	}

	// No user id: nothing to do, nothing to create.
	bootstrapIdentity(km, &config.Config{}, zap.NewNop())
}

// TestProvideStoreOverride verifies Params.DBPath keeps tests away
// from the real profile directory.
func TestProvideStoreOverride(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "override.db")
	p := Params{ProfileName: "test", DBPath: dbPath}

	db, err := provideStore(p, zap.NewNop())
	if err != nil {
		t.Fatalf("provideStore() error = %v", err)
	}
	defer func() { _ = db.Close() }()

	if _, err := os.Stat(dbPath); err != nil {
		t.Errorf("database not created at override path: %v", err)
	}
	// Migrations ran: the queue tables answer queries.
	if _, _, err := db.CountQueue(); err != nil {
		t.Errorf("CountQueue() on fresh store error = %v", err)
	}
}

func TestProvideTransportDefaults(t *testing.T) {
	client := provideTransport(&config.Config{})
	if client.Base != defaultBaseURL {
		t.Errorf("base = %q, want %q", client.Base, defaultBaseURL)
	}
	if client.HTTP.Timeout != 15*time.Second {
		t.Errorf("timeout = %v, want 15s fallback", client.HTTP.Timeout)
	}

	client = provideTransport(&config.Config{Transport: config.Transport{
		BaseURL:        "https://sync.example.com/v1",
		TimeoutSeconds: 30,
	}})
	if client.Base != "https://sync.example.com/v1" {
		t.Errorf("base = %q, want configured URL", client.Base)
	}
	if client.HTTP.Timeout != 30*time.Second {
		t.Errorf("timeout = %v, want 30s", client.HTTP.Timeout)
	}
}

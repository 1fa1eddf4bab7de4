package courier

import (
	"context"
	"encoding/json"
	"path/filepath"
	stdsync "sync"
	"testing"
	"time"

	"github.com/couriermsg/courier/internal/action"
	"github.com/couriermsg/courier/internal/store"
)

type fakeTransport struct {
	mu    stdsync.Mutex
	sends []string
}

func (f *fakeTransport) Send(_ context.Context, _, content, _, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends = append(f.sends, content)
	return nil
}

func (f *fakeTransport) Execute(context.Context, action.Kind, json.RawMessage) error {
	return nil
}

func (f *fakeTransport) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sends...)
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

func TestNewValidatesOptions(t *testing.T) {
	if _, err := New(Options{DBPath: filepath.Join(t.TempDir(), "c.db")}); err == nil {
		t.Error("New() without transport succeeded")
	}
	if _, err := New(Options{Transport: &fakeTransport{}}); err == nil {
		t.Error("New() without database succeeded")
	}
}

func TestClientLifecycle(t *testing.T) {
	client, err := New(Options{
		DBPath:    filepath.Join(t.TempDir(), "courier.db"),
		Transport: &fakeTransport{},
		UserID:    "alice",
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	// Identity keys were ensured on startup.
	if _, err := client.Keys().ExportPublicKey("alice"); err != nil {
		t.Errorf("no identity key pair after New(): %v", err)
	}

	ch, unsub := client.Bus().Subscribe("sync.message_queued", 10)
	defer unsub()

	// Offline by default: the message parks as pending.
	if _, err := client.Sync().QueueMessage("conv-1", "hello", "text", nil); err != nil {
		t.Fatal(err)
	}

	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for message_queued event")
	}

	if h := client.Status().QueueHealth(); h.TotalPending != 1 {
		t.Errorf("totalPending = %d, want 1", h.TotalPending)
	}

	if err := client.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
}

func TestClientDeliversWhenOnline(t *testing.T) {
	remote := &fakeTransport{}
	client, err := New(Options{
		DBPath:    filepath.Join(t.TempDir(), "courier.db"),
		Transport: remote,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = client.Close() }()

	client.Sync().SetOnline(true)
	if _, err := client.Sync().QueueMessage("conv-1", "live", "text", nil); err != nil {
		t.Fatal(err)
	}

	waitFor(t, 3*time.Second, "delivery", func() bool {
		return len(remote.sent()) == 1
	})
	if got := remote.sent(); got[0] != "live" {
		t.Errorf("sent content = %q, want live", got[0])
	}
}

// TestClientExternalDB verifies Close leaves caller-owned handles open.
func TestClientExternalDB(t *testing.T) {
	db, err := store.Open(filepath.Join(t.TempDir(), "courier.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	defer func() { _ = db.Close() }()

	client, err := New(Options{DB: db, Transport: &fakeTransport{}})
	if err != nil {
		t.Fatal(err)
	}
	if err := client.Close(); err != nil {
		t.Fatal(err)
	}

	// The handle must survive the client.
	if _, _, err := db.CountQueue(); err != nil {
		t.Errorf("store closed by client that does not own it: %v", err)
	}
}

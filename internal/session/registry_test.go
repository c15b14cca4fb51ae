package session

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/drewfead/hermes/internal/runtime"
	"github.com/drewfead/hermes/internal/store"
	"github.com/drewfead/hermes/internal/workspace"
)

func setupRegistry(t *testing.T) (*Registry, *store.Store) {
	t.Helper()

	root := t.TempDir()
	st, err := store.New(filepath.Join(root, "test.db"))
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	ws := workspace.NewManager(filepath.Join(root, "sessions"), "")
	return NewRegistry(st, ws), st
}

func TestGetOrCreateIsIdempotent(t *testing.T) {
	r, _ := setupRegistry(t)

	first, created, err := r.GetOrCreate("chat:1")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if !created {
		t.Error("expected first call to create")
	}

	second, created, err := r.GetOrCreate("chat:1")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if created {
		t.Error("expected second call to reuse")
	}
	if first != second {
		t.Error("expected the same session instance")
	}
	if first.ID == "" {
		t.Error("session id is empty")
	}
}

func TestGetOrCreateAllocatesWorkspace(t *testing.T) {
	r, st := setupRegistry(t)

	sess, _, err := r.GetOrCreate("chat:1")
	if err != nil {
		t.Fatal(err)
	}

	for _, dir := range []string{sess.Dirs.Workspace, sess.Dirs.Data, sess.Dirs.Logs} {
		if _, err := os.Stat(dir); err != nil {
			t.Errorf("missing dir %s: %v", dir, err)
		}
	}

	rec, err := st.GetSession("chat:1")
	if err != nil {
		t.Fatal(err)
	}
	if rec == nil || rec.Status != store.SessionStatusActive {
		t.Errorf("persisted record = %+v", rec)
	}
}

func TestEndIsIdempotent(t *testing.T) {
	r, st := setupRegistry(t)

	sess, _, err := r.GetOrCreate("chat:1")
	if err != nil {
		t.Fatal(err)
	}

	if err := r.End("chat:1"); err != nil {
		t.Fatalf("End: %v", err)
	}
	if _, err := os.Stat(sess.Dirs.Root); !os.IsNotExist(err) {
		t.Error("workspace still exists after End")
	}
	if _, ok := r.Get("chat:1"); ok {
		t.Error("session still registered after End")
	}

	rec, err := st.GetSession("chat:1")
	if err != nil {
		t.Fatal(err)
	}
	if rec == nil || rec.Status != store.SessionStatusEnded {
		t.Errorf("persisted record = %+v", rec)
	}

	// Ending again is a no-op
	if err := r.End("chat:1"); err != nil {
		t.Fatalf("second End: %v", err)
	}
}

func TestRecreateConcurrentGetOrCreate(t *testing.T) {
	root := t.TempDir()
	st, err := store.New(filepath.Join(root, "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })

	base := filepath.Join(root, "sessions")
	r := NewRegistry(st, workspace.NewManager(base, ""))

	if _, _, err := r.GetOrCreate("chat:race"); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 25; i++ {
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			if _, err := r.Recreate("chat:race"); err != nil {
				t.Errorf("Recreate: %v", err)
			}
		}()
		go func() {
			defer wg.Done()
			if _, _, err := r.GetOrCreate("chat:race"); err != nil {
				t.Errorf("GetOrCreate: %v", err)
			}
		}()
		wg.Wait()

		sess, ok := r.Get("chat:race")
		if !ok {
			t.Fatal("no session after replacement")
		}
		entries, err := os.ReadDir(base)
		if err != nil {
			t.Fatal(err)
		}
		if len(entries) != 1 || entries[0].Name() != sess.ID {
			names := make([]string, 0, len(entries))
			for _, e := range entries {
				names = append(names, e.Name())
			}
			t.Fatalf("iteration %d: registry has %s, workspaces on disk %v", i, sess.ID, names)
		}
	}
}

func TestRecreateTearsDownPriorSession(t *testing.T) {
	r, _ := setupRegistry(t)

	old, _, err := r.GetOrCreate("chat:1")
	if err != nil {
		t.Fatal(err)
	}

	fresh, err := r.Recreate("chat:1")
	if err != nil {
		t.Fatalf("Recreate: %v", err)
	}
	if fresh.ID == old.ID {
		t.Error("recreated session reused the old id")
	}
	if _, err := os.Stat(old.Dirs.Root); !os.IsNotExist(err) {
		t.Error("old workspace survived recreate")
	}
	if _, err := os.Stat(fresh.Dirs.Root); err != nil {
		t.Errorf("new workspace missing: %v", err)
	}
}

func TestSetModelPersists(t *testing.T) {
	r, st := setupRegistry(t)

	if _, _, err := r.GetOrCreate("chat:1"); err != nil {
		t.Fatal(err)
	}
	if err := r.SetModel("chat:1", "claude-sonnet"); err != nil {
		t.Fatalf("SetModel: %v", err)
	}

	rec, err := st.GetSession("chat:1")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Model != "claude-sonnet" {
		t.Errorf("persisted model = %q", rec.Model)
	}

	if err := r.SetModel("chat:none", "x"); err == nil {
		t.Error("expected error for unknown key")
	}
}

func TestSweepIdle(t *testing.T) {
	r, _ := setupRegistry(t)

	stale, _, err := r.GetOrCreate("chat:stale")
	if err != nil {
		t.Fatal(err)
	}
	stale.touch(time.Now().Add(-4 * time.Hour))

	busy, _, err := r.GetOrCreate("chat:busy")
	if err != nil {
		t.Fatal(err)
	}
	busy.touch(time.Now().Add(-4 * time.Hour))
	busy.SetBusy(true)

	if _, _, err := r.GetOrCreate("chat:fresh"); err != nil {
		t.Fatal(err)
	}

	if n := r.SweepIdle(3 * time.Hour); n != 1 {
		t.Errorf("SweepIdle = %d, want 1", n)
	}
	if _, ok := r.Get("chat:stale"); ok {
		t.Error("stale session survived sweep")
	}
	if _, ok := r.Get("chat:busy"); !ok {
		t.Error("busy session was swept")
	}
	if _, ok := r.Get("chat:fresh"); !ok {
		t.Error("fresh session was swept")
	}
}

func TestLoadPersisted(t *testing.T) {
	root := t.TempDir()
	dbPath := filepath.Join(root, "test.db")

	st, err := store.New(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	ws := workspace.NewManager(filepath.Join(root, "sessions"), "")

	r := NewRegistry(st, ws)
	sess, _, err := r.GetOrCreate("chat:1")
	if err != nil {
		t.Fatal(err)
	}
	sess.SetRuntimeSessionID("rt-1")
	sess.RememberDecision("bash", runtime.ActionAllow)
	if err := r.Persist(sess); err != nil {
		t.Fatal(err)
	}
	st.Close()

	// Simulate a daemon restart
	st2, err := store.New(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	defer st2.Close()

	r2 := NewRegistry(st2, ws)
	if err := r2.LoadPersisted(); err != nil {
		t.Fatalf("LoadPersisted: %v", err)
	}

	restored, ok := r2.Get("chat:1")
	if !ok {
		t.Fatal("session not restored")
	}
	if restored.ID != sess.ID {
		t.Errorf("restored id = %q, want %q", restored.ID, sess.ID)
	}
	if restored.RuntimeSessionID() != "rt-1" {
		t.Errorf("restored runtime session id = %q", restored.RuntimeSessionID())
	}
	if a, _ := restored.Decision("bash"); a != runtime.ActionAllow {
		t.Errorf("restored decision = %q", a)
	}
	if restored.Proc() != nil {
		t.Error("restored session has a process handle")
	}
}

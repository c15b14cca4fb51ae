package workspace

import (
	"os"
	"path/filepath"
	"testing"
)

func setupManager(t *testing.T) (*Manager, string) {
	t.Helper()

	root := t.TempDir()
	credFile := filepath.Join(root, "shared", CredentialFileName)
	m := NewManager(filepath.Join(root, "sessions"), credFile)
	return m, credFile
}

func TestAllocateCreatesDisjointDirs(t *testing.T) {
	m, _ := setupManager(t)

	a, err := m.Allocate("ses-a")
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	b, err := m.Allocate("ses-b")
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}

	if a.Root == b.Root {
		t.Error("sessions share a root directory")
	}
	for _, dir := range []string{a.Workspace, a.Data, a.Logs, b.Workspace, b.Data, b.Logs} {
		info, err := os.Stat(dir)
		if err != nil {
			t.Fatalf("stat %s: %v", dir, err)
		}
		if !info.IsDir() {
			t.Errorf("%s is not a directory", dir)
		}
	}
}

func TestAllocateSeedsCredentials(t *testing.T) {
	m, credFile := setupManager(t)

	if err := os.MkdirAll(filepath.Dir(credFile), 0700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(credFile, []byte(`{"token":"abc"}`), 0600); err != nil {
		t.Fatal(err)
	}

	dirs, err := m.Allocate("ses-1")
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}

	data, err := os.ReadFile(dirs.CredentialPath())
	if err != nil {
		t.Fatalf("read seeded credentials: %v", err)
	}
	if string(data) != `{"token":"abc"}` {
		t.Errorf("seeded credentials = %q", data)
	}
}

func TestAllocateWithoutSharedCredentials(t *testing.T) {
	m, _ := setupManager(t)

	dirs, err := m.Allocate("ses-1")
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if _, err := os.Stat(dirs.CredentialPath()); !os.IsNotExist(err) {
		t.Error("expected no credential file when shared blob is absent")
	}
}

func TestRemoveIsIdempotent(t *testing.T) {
	m, _ := setupManager(t)

	dirs, err := m.Allocate("ses-1")
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Remove("ses-1"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := os.Stat(dirs.Root); !os.IsNotExist(err) {
		t.Error("session root still exists after Remove")
	}
	if err := m.Remove("ses-1"); err != nil {
		t.Fatalf("second Remove: %v", err)
	}
}

func TestSyncCredentials(t *testing.T) {
	m, credFile := setupManager(t)

	dirs, err := m.Allocate("ses-1")
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(dirs.CredentialPath(), []byte(`{"token":"fresh"}`), 0600); err != nil {
		t.Fatal(err)
	}

	if err := m.SyncCredentials("ses-1"); err != nil {
		t.Fatalf("SyncCredentials: %v", err)
	}

	data, err := os.ReadFile(credFile)
	if err != nil {
		t.Fatalf("read shared blob: %v", err)
	}
	if string(data) != `{"token":"fresh"}` {
		t.Errorf("shared blob = %q", data)
	}

	// No session credentials is not an error
	if err := m.SyncCredentials("ses-missing"); err != nil {
		t.Fatalf("SyncCredentials for missing session: %v", err)
	}
}

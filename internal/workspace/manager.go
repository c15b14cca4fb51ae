// Package workspace manages per-session isolated directories and the shared
// credential blob that seeds them.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/drewfead/hermes/internal/logging"
)

// CredentialFileName is the name of the runtime credential blob inside each
// session's data directory and at the shared location.
const CredentialFileName = "auth.json"

// Dirs holds the directory subtree allocated to one session.
type Dirs struct {
	Root      string
	Workspace string
	Data      string
	Logs      string
}

// CredentialPath returns the session-local credential file location.
func (d Dirs) CredentialPath() string {
	return filepath.Join(d.Data, CredentialFileName)
}

// Manager allocates and reclaims session directory subtrees under a base
// directory. Every session gets disjoint workspace, data and log directories.
type Manager struct {
	baseDir        string
	credentialFile string
}

// NewManager creates a Manager rooted at baseDir. credentialFile is the
// shared credential blob used to seed new sessions; empty disables seeding.
func NewManager(baseDir, credentialFile string) *Manager {
	return &Manager{baseDir: baseDir, credentialFile: credentialFile}
}

// DirsFor returns the directory layout for a session id without creating it.
func (m *Manager) DirsFor(sessionID string) Dirs {
	root := filepath.Join(m.baseDir, sessionID)
	return Dirs{
		Root:      root,
		Workspace: filepath.Join(root, "workspace"),
		Data:      filepath.Join(root, "data"),
		Logs:      filepath.Join(root, "logs"),
	}
}

// Allocate creates the directory subtree for a session and seeds its
// credential file from the shared blob when one exists.
func (m *Manager) Allocate(sessionID string) (Dirs, error) {
	dirs := m.DirsFor(sessionID)

	for _, dir := range []string{dirs.Workspace, dirs.Data, dirs.Logs} {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return Dirs{}, fmt.Errorf("create session dir %s: %w", dir, err)
		}
	}

	if m.credentialFile != "" {
		if _, err := os.Stat(m.credentialFile); err == nil {
			if err := copyFileAtomic(m.credentialFile, dirs.CredentialPath()); err != nil {
				return Dirs{}, fmt.Errorf("seed credentials: %w", err)
			}
		}
	}

	return dirs, nil
}

// Remove deletes the session's entire subtree. Removing a session that was
// already removed is a no-op.
func (m *Manager) Remove(sessionID string) error {
	dirs := m.DirsFor(sessionID)
	if err := os.RemoveAll(dirs.Root); err != nil {
		return fmt.Errorf("remove session dir: %w", err)
	}
	return nil
}

// SyncCredentials copies the session's credential file back to the shared
// blob so a login performed inside one session benefits all future sessions.
// Missing session credentials are not an error.
func (m *Manager) SyncCredentials(sessionID string) error {
	if m.credentialFile == "" {
		return nil
	}

	src := m.DirsFor(sessionID).CredentialPath()
	if _, err := os.Stat(src); os.IsNotExist(err) {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(m.credentialFile), 0700); err != nil {
		return fmt.Errorf("create credential dir: %w", err)
	}
	if err := copyFileAtomic(src, m.credentialFile); err != nil {
		return fmt.Errorf("sync credentials: %w", err)
	}

	logging.Debug("synced credentials", "session", sessionID)
	return nil
}

// copyFileAtomic replaces dst with the contents of src via a temp file and
// rename, so readers never observe a partially written file.
func copyFileAtomic(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}

	tmp := dst + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return err
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

package localstate

import (
	"fmt"
	"os"
	"path/filepath"
)

// EnvHome overrides the state directory; tests point it at a temp dir.
const EnvHome = "VAULT_HOME"

// DBPath resolves the default SQLite state file,
// $VAULT_HOME/state.db or ~/.memory-vault/state.db, creating its directory
// (mode 0700) on the way.
func DBPath() (string, error) {
	dir := os.Getenv(EnvHome)
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve state dir: %w", err)
		}
		dir = filepath.Join(home, ".memory-vault")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("create state dir %s: %w", dir, err)
	}
	return filepath.Join(dir, "state.db"), nil
}

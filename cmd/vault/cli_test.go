package main

import (
	"bytes"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memoryvault/client/internal/backendtest"
	"github.com/memoryvault/client/internal/types"
)

// setupCLI points the CLI at a fake backend and a throwaway sqlite state
// file so the session survives between invocations.
func setupCLI(t *testing.T) *backendtest.Server {
	t.Helper()
	srv := backendtest.New()
	t.Cleanup(srv.Close)

	t.Setenv("VAULT_API_URL", srv.URL())
	t.Setenv("VAULT_STATE_BACKEND", "sqlite")
	t.Setenv("VAULT_STATE_PATH", filepath.Join(t.TempDir(), "state.db"))
	for _, key := range []string{"VAULT_PASSWORD", "VAULT_DEBUG", "DEBUG", "VAULT_HOME"} {
		unsetenv(t, key)
	}
	return srv
}

// unsetenv removes key for the test and restores it afterwards.
func unsetenv(t *testing.T, key string) {
	t.Helper()
	prev, had := os.LookupEnv(key)
	require.NoError(t, os.Unsetenv(key))
	t.Cleanup(func() {
		if had {
			_ = os.Setenv(key, prev)
		} else {
			_ = os.Unsetenv(key)
		}
	})
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := run(t, args...)
	require.NoError(t, err, "vault %s", strings.Join(args, " "))
	return out
}

var createdRe = regexp.MustCompile(`Memory created: (\S+) - `)

func TestCLI_FullFlow(t *testing.T) {
	setupCLI(t)

	out := mustRun(t, "register", "--username", "ana", "--email", "ana@example.com", "--password", "secret1")
	assert.Contains(t, out, "Welcome, ana!")

	out = mustRun(t, "whoami")
	assert.Contains(t, out, "ana <ana@example.com>")

	photo := filepath.Join(t.TempDir(), "beach.jpg")
	require.NoError(t, os.WriteFile(photo, []byte("jpeg-bytes"), 0o600))

	out = mustRun(t, "upload", photo, "--title", "Beach", "--tag", "summer", "--tag", " summer ", "--lat", "41.1", "--lng", "-8.6")
	m := createdRe.FindStringSubmatch(out)
	require.Len(t, m, 2, out)
	id := m[1]

	out = mustRun(t, "list")
	assert.Contains(t, out, id)
	assert.Contains(t, out, "Beach")
	assert.Contains(t, out, "#summer")
	assert.NotContains(t, out, "#summer #summer")

	out = mustRun(t, "list", "--located")
	assert.Contains(t, out, "bounds: lat 41.10000..41.10000")

	out = mustRun(t, "list", "--tag", "winter")
	assert.Empty(t, out)

	out = mustRun(t, "favorites")
	assert.Contains(t, out, "No favorites yet")

	out = mustRun(t, "favorite", id)
	assert.Contains(t, out, "Added "+id)

	out = mustRun(t, "favorites")
	assert.Contains(t, out, "* "+id)

	out = mustRun(t, "update", id, "--title", "Beach day")
	assert.Contains(t, out, "Memory updated: "+id+" - Beach day")

	dest := filepath.Join(t.TempDir(), "out.jpg")
	out = mustRun(t, "download", id, "-o", dest)
	assert.Contains(t, out, "Saved 10 bytes")
	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "jpeg-bytes", string(data))

	out = mustRun(t, "delete", id)
	assert.Contains(t, out, "Memory deleted: "+id+" (Applied)")

	out = mustRun(t, "list")
	assert.NotContains(t, out, id)

	out = mustRun(t, "logout")
	assert.Contains(t, out, "Logged out")

	out = mustRun(t, "whoami")
	assert.Contains(t, out, "Not logged in")
}

func TestCLI_LoginFailureAndRequiresSession(t *testing.T) {
	srv := setupCLI(t)
	srv.AddUser("bo@example.com", "bo", "hunter22")

	_, err := run(t, "login", "--email", "bo@example.com", "--password", "wrong")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid email or password")

	_, err = run(t, "list")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Not logged in")

	out := mustRun(t, "login", "--email", "bo@example.com", "--password", "hunter22")
	assert.Contains(t, out, "Logged in as bo (bo@example.com)")
}

func TestCLI_ArgumentValidation(t *testing.T) {
	srv := setupCLI(t)
	srv.AddUser("cy@example.com", "cy", "hunter22")
	mustRun(t, "login", "--email", "cy@example.com", "--password", "hunter22")

	_, err := run(t, "update", "m-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nothing to update")

	photo := filepath.Join(t.TempDir(), "a.png")
	require.NoError(t, os.WriteFile(photo, []byte("x"), 0o600))
	_, err = run(t, "upload", photo, "--title", "A", "--lat", "1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--lat and --lng")

	_, err = run(t, "delete")
	require.Error(t, err)

	_, err = run(t, "update", "missing", "--title", "x")
	require.Error(t, err)
}

func TestCLI_TourShownOnce(t *testing.T) {
	setupCLI(t)

	out := mustRun(t, "tour")
	assert.Contains(t, out, "Welcome to Memory Vault!")

	out = mustRun(t, "tour")
	assert.Contains(t, out, "Tour already seen")

	mustRun(t, "tour", "--reset")
	out = mustRun(t, "tour")
	assert.Contains(t, out, "Welcome to Memory Vault!")
}

func TestCLI_DownloadSeveral(t *testing.T) {
	srv := setupCLI(t)
	srv.AddUser("di@example.com", "di", "hunter22")
	a := srv.SeedMemory("di@example.com", types.Memory{Title: "A"})
	b := srv.SeedMemory("di@example.com", types.Memory{Title: "B"})
	mustRun(t, "login", "--email", "di@example.com", "--password", "hunter22")

	dir := filepath.Join(t.TempDir(), "media")
	out := mustRun(t, "download", a.ID, b.ID, "-o", dir)
	assert.Contains(t, out, filepath.Join(dir, a.ID))

	for _, id := range []string{a.ID, b.ID} {
		data, err := os.ReadFile(filepath.Join(dir, id))
		require.NoError(t, err)
		assert.Equal(t, "media:"+id, string(data))
	}

	_, err := run(t, "download", a.ID, "missing", "-o", dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "download missing")
}

func TestCLI_EmptyDebugSettingIsOff(t *testing.T) {
	setupCLI(t)
	t.Setenv("VAULT_DEBUG", "")

	out := mustRun(t, "whoami")
	assert.Contains(t, out, "Not logged in")
}

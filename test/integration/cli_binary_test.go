//go:build cgo

package integration

import (
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluentlens/fluentlens/internal/output"
)

// buildCLI compiles cmd/fluentlens and copies it outside the module so the
// binary cannot lean on repo-relative files.
func buildCLI(t *testing.T) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("binary smoke tests are unix-focused")
	}

	gomod, err := exec.Command("go", "env", "GOMOD").Output()
	require.NoError(t, err, "go env GOMOD")
	repoRoot := filepath.Dir(strings.TrimSpace(string(gomod)))
	require.NotEqual(t, ".", repoRoot, "go env GOMOD returned empty")

	built := filepath.Join(t.TempDir(), "fluentlens")
	build := exec.Command("go", "build", "-o", built, "./cmd/fluentlens")
	build.Dir = repoRoot
	out, err := build.CombinedOutput()
	require.NoError(t, err, "go build:\n%s", out)

	data, err := os.ReadFile(built)
	require.NoError(t, err)
	standalone := filepath.Join(t.TempDir(), "fluentlens")
	require.NoError(t, os.WriteFile(standalone, data, 0o755))
	return standalone
}

// cliEnv points every storage path at dir and keeps the fast layer embedded.
func cliEnv(dir string) []string {
	return append(os.Environ(),
		"XDG_CONFIG_HOME="+filepath.Join(dir, "config"),
		"XDG_DATA_HOME="+filepath.Join(dir, "data"),
		"FLUENTLENS_STORE_PATH="+filepath.Join(dir, "fluentlens.db"),
		"FLUENTLENS_CACHE_DRIVER=badger",
		"FLUENTLENS_CACHE_BADGER_PATH="+filepath.Join(dir, "kv"),
		"FLUENTLENS_METRICS_ENABLED=false",
	)
}

func runCLI(t *testing.T, bin, dir string, args ...string) string {
	t.Helper()
	c := exec.Command(bin, args...)
	c.Dir = dir
	c.Env = cliEnv(dir)
	out, err := c.Output()
	if exitErr, ok := err.(*exec.ExitError); ok {
		t.Fatalf("fluentlens %s: %v\n%s", strings.Join(args, " "), err, exitErr.Stderr)
	}
	require.NoError(t, err)
	return string(out)
}

func TestStandaloneBinary(t *testing.T) {
	bin := buildCLI(t)
	dir := t.TempDir()

	t.Run("VersionAndHelp", func(t *testing.T) {
		assert.Contains(t, runCLI(t, bin, dir, "version"), "fluentlens")
		help := runCLI(t, bin, dir, "--help")
		for _, sub := range []string{"record", "top", "pending", "flush", "serve"} {
			assert.Contains(t, help, sub)
		}
	})

	t.Run("RecordFlushTop", func(t *testing.T) {
		user := uuid.NewString()

		runCLI(t, bin, dir, "record", "--user", user,
			"-e", "Grammar:Tense", "-e", "Grammar:Tense", "-e", "Vocabulary:Collocation")
		runCLI(t, bin, dir, "record", "--user", user, "-e", "Grammar:Tense", "--flush")

		var view output.TopErrorsView
		require.NoError(t, json.Unmarshal([]byte(runCLI(t, bin, dir, "top", "--user", user, "-o", "json")), &view))

		require.Len(t, view.Errors, 2)
		assert.Equal(t, "Tense", view.Errors[0].Subcategory)
		assert.EqualValues(t, 3, view.Errors[0].Frequency)
		assert.EqualValues(t, 1, view.Errors[1].Frequency)
	})

	t.Run("TopUnknownUserIsEmpty", func(t *testing.T) {
		var view output.TopErrorsView
		require.NoError(t, json.Unmarshal([]byte(runCLI(t, bin, dir, "top", "--user", uuid.NewString(), "-o", "json")), &view))
		assert.Empty(t, view.Errors)
	})
}

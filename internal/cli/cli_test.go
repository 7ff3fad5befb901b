package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const checkout = `{
  "active": true,
  "identity_type": "user",
  "treatments": [{"name": "on"}, {"name": "off"}],
  "allocations": [{"treatment": "on", "weight": 100}]
}`

func testEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("ALCHEMY_LOG_LEVEL", "error")
	t.Setenv("ALCHEMY_STORAGE_DRIVER", "badger")
	t.Setenv("ALCHEMY_BADGER_PATH", filepath.Join(dir, "db"))
	t.Setenv("ALCHEMY_REFRESH_STRATEGY", "none")
	t.Setenv("ALCHEMY_ARCHIVE_DRIVER", "fs")
	t.Setenv("ALCHEMY_ARCHIVE_ROOT", filepath.Join(dir, "archive"))
	return dir
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := run(t, args...)
	require.NoError(t, err, "alchemy %s", strings.Join(args, " "))
	return out
}

func writeExperiment(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "experiment.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestApplyListResolve(t *testing.T) {
	dir := testEnv(t)
	file := writeExperiment(t, dir, checkout)

	out := mustRun(t, "experiments", "apply", "checkout", "-f", file)
	assert.Contains(t, out, "saved checkout (sequence 1)")

	out = mustRun(t, "experiments", "list")
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "NAME")
	assert.Equal(t, []string{"checkout", "true", "user", "2", "100", "1"}, strings.Fields(lines[1]))

	out = mustRun(t, "resolve", "checkout", "--type", "user", "--attr", "name=alice")
	assert.Equal(t, "on\n", out)

	out = mustRun(t, "resolve", "checkout", "--type", "device", "--attr", "id=abc")
	assert.Equal(t, "no treatment\n", out)
}

func TestListJSONAndFilters(t *testing.T) {
	dir := testEnv(t)
	file := writeExperiment(t, dir, checkout)
	mustRun(t, "experiments", "apply", "checkout", "-f", file)
	mustRun(t, "experiments", "apply", "banner", "-f", writeExperiment(t, dir, `{"active": false}`))

	out := mustRun(t, "experiments", "list", "--filter", "active=true", "--json")
	assert.Contains(t, out, `"name": "checkout"`)
	assert.NotContains(t, out, `"name": "banner"`)

	out = mustRun(t, "experiments", "list", "--sort", "name")
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[1], "banner"))
	assert.True(t, strings.HasPrefix(lines[2], "checkout"))

	// the limit caps matches in store order before sorting
	out = mustRun(t, "experiments", "list", "--sort", "name", "--limit", "1", "--json")
	assert.Contains(t, out, `"name": "checkout"`)
	assert.NotContains(t, out, `"name": "banner"`)

	_, err := run(t, "experiments", "list", "--filter", "bogus")
	assert.Error(t, err)
	_, err = run(t, "experiments", "list", "--filter", "color=red")
	assert.Error(t, err)
}

func TestApplyRejectsInvalidExperiment(t *testing.T) {
	dir := testEnv(t)
	file := writeExperiment(t, dir, `{"allocations": [{"treatment": "ghost", "weight": 10}]}`)
	_, err := run(t, "experiments", "apply", "broken", "-f", file)
	assert.ErrorContains(t, err, "unknown treatment ghost")

	_, err = run(t, "experiments", "apply", "broken", "-f", filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
}

func TestDeleteAndResolveUnknown(t *testing.T) {
	dir := testEnv(t)
	mustRun(t, "experiments", "apply", "checkout", "-f", writeExperiment(t, dir, checkout))
	assert.Contains(t, mustRun(t, "experiments", "delete", "checkout"), "deleted checkout")

	out := mustRun(t, "resolve", "checkout", "--attr", "name=alice")
	assert.Equal(t, "no treatment\n", out)
}

func TestExportImport(t *testing.T) {
	dir := testEnv(t)
	mustRun(t, "experiments", "apply", "checkout", "-f", writeExperiment(t, dir, checkout))

	out := mustRun(t, "export", "backups/one.json")
	assert.Contains(t, out, "exported 1 experiments to backups/one.json")
	assert.FileExists(t, filepath.Join(dir, "archive", "backups", "one.json"))

	_, err := run(t, "export", "backups/one.json")
	assert.Error(t, err, "archive keys are write-once")

	mustRun(t, "experiments", "delete", "checkout")
	out = mustRun(t, "import", "backups/one.json")
	assert.Contains(t, out, "imported 1 experiments")
	assert.Equal(t, "on\n", mustRun(t, "resolve", "checkout", "--attr", "name=alice"))

	_, err = run(t, "import", "backups/missing.json")
	assert.Error(t, err)
}

func TestConfigFileAndValidation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "alchemy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("storage:\n  driver: nosuch\n"), 0o600))
	_, err := run(t, "--config", path, "experiments", "list")
	assert.ErrorContains(t, err, "nosuch")

	_, err = run(t, "--config", filepath.Join(dir, "missing.yaml"), "experiments", "list")
	assert.Error(t, err)
}

func TestResolveRejectsBadIdentity(t *testing.T) {
	testEnv(t)
	_, err := run(t, "resolve", "checkout", "--type", "user")
	assert.Error(t, err)
}

package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"timeanchor/internal/anchor"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func fileStoreConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "anchord.yaml")
	body := "storage:\n  driver: file\n  path: " + filepath.Join(dir, "store") + "\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

const morningYAML = `
sequences:
  - id: morning
    label: Morning
    steps:
      - id: wake
        durationMs: 600000
      - id: run
        offsetMs: 900000
        durationMs: 1800000
`

func importMorning(t *testing.T, cfg string) {
	t.Helper()
	file := filepath.Join(t.TempDir(), "seq.yaml")
	require.NoError(t, os.WriteFile(file, []byte(morningYAML), 0o644))
	out, err := execute(t, "--config", cfg, "sequences", "import", file)
	require.NoError(t, err)
	assert.Contains(t, out, "changed 1: morning")
}

func TestInvalidFormat(t *testing.T) {
	_, err := execute(t, "--format", "xml", "jump")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestJumpMonthOverflow(t *testing.T) {
	out, err := execute(t, "jump", "--from", "2024-01-31T10:00:00Z", "--months", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "2024-01-31T10:00:00Z -> 2024-03-02T10:00:00Z")
}

func TestJumpJSON(t *testing.T) {
	out, err := execute(t, "--format", "json", "jump", "--from", "2024-03-10T09:00:00Z", "--weeks", "1", "--days", "-1")
	require.NoError(t, err)

	var res jumpResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, anchor.Delta{Weeks: 1, Days: -1}, res.Delta)
	assert.True(t, res.To.Equal(time.Date(2024, 3, 16, 9, 0, 0, 0, time.UTC)))
}

func TestSequencesImportListDelete(t *testing.T) {
	cfg := fileStoreConfig(t)
	importMorning(t, cfg)

	out, err := execute(t, "--config", cfg, "sequences", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "morning")
	assert.Contains(t, out, "45m0s")

	out, err = execute(t, "--config", cfg, "sequences", "delete", "morning", "missing")
	require.NoError(t, err)
	assert.Contains(t, out, "deleted 1 sequence(s)")

	out, err = execute(t, "--config", cfg, "--format", "json", "sequences", "list")
	require.NoError(t, err)
	assert.JSONEq(t, "[]", out)
}

func TestSequencesImportRejectsMissingID(t *testing.T) {
	cfg := fileStoreConfig(t)
	file := filepath.Join(t.TempDir(), "seq.json")
	require.NoError(t, os.WriteFile(file, []byte(`[{"label":"no id","steps":[]}]`), 0o644))

	_, err := execute(t, "--config", cfg, "sequences", "import", file)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "id required")
}

func TestSequencesNeedStorage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "anchord.yaml")
	require.NoError(t, os.WriteFile(path, []byte("engine: {}\n"), 0o644))

	_, err := execute(t, "--config", path, "sequences", "list")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "storage.driver")
}

func TestPlanDailyAt(t *testing.T) {
	cfg := fileStoreConfig(t)
	importMorning(t, cfg)

	out, err := execute(t, "--config", cfg, "--format", "json", "plan",
		"--sequence", "morning", "--daily-at", "06:00", "--days", "2",
		"--start", "2024-05-01", "--tz", "UTC")
	require.NoError(t, err)

	var list []anchor.Anchor
	require.NoError(t, json.Unmarshal([]byte(out), &list))
	require.Len(t, list, 4)
	assert.Equal(t, "run:plan:wake:1714543200000", list[0].ID)
	assert.True(t, list[1].At.Equal(time.Date(2024, 5, 1, 6, 15, 0, 0, time.UTC)))
	assert.True(t, list[3].At.Equal(time.Date(2024, 5, 2, 6, 15, 0, 0, time.UTC)))
}

func TestPlanText(t *testing.T) {
	cfg := fileStoreConfig(t)
	importMorning(t, cfg)

	out, err := execute(t, "--config", cfg, "plan",
		"--sequence", "morning", "--cron", "0 7 * * *",
		"--start", "2024-05-01", "--tz", "UTC")
	require.NoError(t, err)
	assert.Contains(t, out, "Wed 2024-05-01 07:00")
	assert.Contains(t, out, "7 hours after start")
}

func TestPlanErrors(t *testing.T) {
	cfg := fileStoreConfig(t)

	_, err := execute(t, "--config", cfg, "plan", "--sequence", "morning")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pattern")

	_, err = execute(t, "--config", cfg, "plan", "--sequence", "missing", "--daily-at", "06:00")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")

	_, err = execute(t, "--config", cfg, "plan", "--sequence", "x", "--daily-at", "06:00", "--tz", "Mars/Olympus")
	require.Error(t, err)
}

func TestServeFailsWithoutConfig(t *testing.T) {
	_, err := execute(t, "--config", filepath.Join(t.TempDir(), "none.yaml"), "serve")
	require.Error(t, err)
}

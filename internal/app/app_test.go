package app

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"timeanchor/internal/anchor"
	"timeanchor/internal/engine"
	"timeanchor/internal/runner"
	"timeanchor/internal/sequence"
	logx "timeanchor/pkg/logx"
)

const appYAML = `
logging:
  level: error
engine:
  tick_interval: 50ms
storage:
  driver: memory
contexts:
  - id: home
    tz: UTC
  - id: office
    tz: Europe/Berlin
cron_provider:
  entries:
    - id: hourly
      cron: "@hourly"
runs:
  - id: mornings
    sequence: morning
    daily_at: "06:00"
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "anchord.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func countSource(list []anchor.Anchor, source string) int {
	n := 0
	for _, a := range list {
		if a.Source == source {
			n++
		}
	}
	return n
}

func startApp(t *testing.T, path string) *App {
	t.Helper()
	a, err := NewApp(path)
	require.NoError(t, err)
	require.NoError(t, a.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.Stop(ctx, StopAppStop)
	})
	return a
}

func TestAppWiresProvidersAndContexts(t *testing.T) {
	a := startApp(t, writeConfig(t, appYAML))
	eng := a.Engine()

	active, ok := eng.ActiveContext()
	require.True(t, ok)
	assert.Equal(t, "home", active.ID)
	assert.Len(t, eng.ListContexts(), 2)
	assert.ElementsMatch(t, []string{"cron", "runs"}, eng.Providers())

	assert.Eventually(t, func() bool {
		return countSource(eng.GetAnchors(engine.AnchorQuery{}), "cron") == 24
	}, 5*time.Second, 10*time.Millisecond)
}

func TestAppSequenceMailboxFeedsRuns(t *testing.T) {
	a := startApp(t, writeConfig(t, appYAML))
	eng := a.Engine()
	assert.Zero(t, countSource(eng.GetAnchors(engine.AnchorQuery{}), "runs"))

	ctx := context.Background()
	require.NoError(t, a.Mailbox().Send(ctx, sequence.UpsertMessage{Sequences: []sequence.Sequence{{
		ID:    "morning",
		Steps: []sequence.Step{{ID: "wake"}, {ID: "stretch", OffsetMs: 300000}},
	}}}))

	assert.Eventually(t, func() bool {
		return countSource(eng.GetAnchors(engine.AnchorQuery{}), "runs") == 2
	}, 5*time.Second, 10*time.Millisecond)

	var wake anchor.Anchor
	for _, x := range eng.GetAnchors(engine.AnchorQuery{}) {
		if x.Source == "runs" && x.Meta[runner.MetaStep] == "wake" {
			wake = x
		}
	}
	assert.Equal(t, 6, wake.At.Hour())
	assert.Equal(t, true, wake.Meta[runner.MetaRecurring])

	replies, closeReply := a.Mailbox().Replies().Open("test", 1)
	defer closeReply()
	require.NoError(t, a.Mailbox().Send(ctx, sequence.RequestMessage{ReplyTo: "test"}))
	select {
	case got := <-replies:
		require.Len(t, got, 1)
		assert.Equal(t, "morning", got[0].ID)
	case <-time.After(5 * time.Second):
		t.Fatal("no reply")
	}
}

func TestAppHotReloadsContexts(t *testing.T) {
	path := writeConfig(t, appYAML)
	a := startApp(t, path)

	next := strings.Replace(appYAML, "  - id: office\n    tz: Europe/Berlin\n", "  - id: cairo\n    tz: Africa/Cairo\n", 1)
	require.NotEqual(t, appYAML, next)

	deadline := time.Now().Add(5 * time.Second)
	for {
		require.NoError(t, os.WriteFile(path, []byte(next), 0o644))
		var ids []string
		for _, c := range a.Engine().ListContexts() {
			ids = append(ids, c.ID)
		}
		if assert.ObjectsAreEqual([]string{"home", "cairo"}, ids) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("contexts not reloaded, have %v", ids)
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func TestNewAppRejectsInvalidConfig(t *testing.T) {
	_, err := NewApp(writeConfig(t, "runs:\n  - id: r\n    sequence: s\n"))
	assert.ErrorIs(t, err, runner.ErrEmptyPattern)

	_, err = NewApp(writeConfig(t, "cron_provider:\n  entries:\n    - id: x\n      cron: nope\n"))
	assert.ErrorContains(t, err, "invalid expression")

	_, err = NewApp(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestOpenLibrary(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, "storage:\n  driver: file\n  path: "+filepath.Join(dir, "store")+"\n")
	ctx := context.Background()

	lib, closeFn, err := OpenLibrary(ctx, path, logx.Nop())
	require.NoError(t, err)
	_, err = lib.Upsert(ctx, []sequence.Sequence{{ID: "a", Steps: []sequence.Step{{ID: "s"}}}})
	require.NoError(t, err)
	require.NoError(t, closeFn())

	lib, closeFn, err = OpenLibrary(ctx, path, logx.Nop())
	require.NoError(t, err)
	defer closeFn()
	assert.Len(t, lib.Get("a"), 1)

	_, _, err = OpenLibrary(ctx, writeConfig(t, "engine: {}\n"), logx.Nop())
	assert.Error(t, err)
}

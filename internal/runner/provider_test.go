package runner

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"timeanchor/internal/anchor"
	"timeanchor/internal/blender"
	"timeanchor/internal/sequence"
	logx "timeanchor/pkg/logx"
)

func newLibraryBlender(t *testing.T, seqs ...sequence.Sequence) *blender.Blender {
	t.Helper()
	lib := sequence.NewLibrary(nil, nil, logx.Nop())
	_, err := lib.Upsert(context.Background(), seqs)
	require.NoError(t, err)
	return blender.New(nil, lib)
}

func TestProviderExpandsAcrossFrameWindow(t *testing.T) {
	b := newLibraryBlender(t, sequence.Sequence{ID: "morning", Steps: []sequence.Step{{ID: "wake"}, {ID: "walk", OffsetMs: 900000}}})
	p := NewProvider("runs", New(), b, logx.Nop())
	require.NoError(t, p.SetRuns([]Definition{{ID: "m", SequenceID: "morning", Pattern: Pattern{DailyAt: "06:00"}}}))

	// Wednesday; the weekly window is Mon 2024-01-01 .. Mon 2024-01-08.
	q := anchor.Query{Context: anchor.Context{ID: "home"}, Frame: anchor.Weekly, Cursor: time.Date(2024, 1, 3, 12, 0, 0, 0, time.UTC)}
	got, err := p.Provide(context.Background(), q)
	require.NoError(t, err)
	require.Len(t, got, 14)
	assert.Equal(t, time.Date(2024, 1, 1, 6, 0, 0, 0, time.UTC), got[0].At)
	assert.Equal(t, time.Date(2024, 1, 7, 6, 15, 0, 0, time.UTC), got[13].At)
	assert.Equal(t, "home", got[0].ContextID)
	assert.Equal(t, anchor.Weekly, got[0].Frame)
}

func TestProviderStepOffsetPastWindowIsDropped(t *testing.T) {
	b := newLibraryBlender(t, sequence.Sequence{ID: "late", Steps: []sequence.Step{{ID: "x", OffsetMs: int64(2 * time.Hour / time.Millisecond)}}})
	p := NewProvider("", nil, b, logx.Nop())
	require.NoError(t, p.SetRuns([]Definition{{ID: "l", SequenceID: "late", Pattern: Pattern{DailyAt: "23:00"}}}))

	got, err := p.Provide(context.Background(), anchor.Query{Context: anchor.Context{ID: "c"}, Frame: anchor.Daily, Cursor: jan1})
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
	assert.Equal(t, "runs", p.Name())
}

func TestProviderHonoursContextsFilter(t *testing.T) {
	b := newLibraryBlender(t, sequence.Sequence{ID: "s", Steps: []sequence.Step{{ID: "a"}}})
	p := NewProvider("runs", nil, b, logx.Nop())
	require.NoError(t, p.SetRuns([]Definition{{ID: "r", SequenceID: "s", Contexts: []string{"office"}, Pattern: Pattern{DailyAt: "09:00"}}}))

	q := anchor.Query{Context: anchor.Context{ID: "home"}, Frame: anchor.Daily, Cursor: jan1}
	got, err := p.Provide(context.Background(), q)
	require.NoError(t, err)
	assert.Empty(t, got)

	q.Context.ID = "office"
	got, err = p.Provide(context.Background(), q)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestProviderSkipsUnknownSequence(t *testing.T) {
	p := NewProvider("runs", nil, newLibraryBlender(t), logx.Nop())
	require.NoError(t, p.SetRuns([]Definition{{ID: "r", SequenceID: "ghost", Pattern: Pattern{DailyAt: "09:00"}}}))
	got, err := p.Provide(context.Background(), anchor.Query{Context: anchor.Context{ID: "c"}, Frame: anchor.Daily, Cursor: jan1})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSetRunsRejectsInvalidAndKeepsPrevious(t *testing.T) {
	p := NewProvider("runs", nil, nil, logx.Nop())
	good := []Definition{{ID: "r", SequenceID: "s", Pattern: Pattern{EveryMinutes: 30}}}
	require.NoError(t, p.SetRuns(good))

	err := p.SetRuns([]Definition{
		{ID: "", SequenceID: "s", Pattern: Pattern{DailyAt: "09:00"}},
		{ID: "a", SequenceID: "s"},
		{ID: "a", SequenceID: "s", Pattern: Pattern{DailyAt: "09:00"}},
		{ID: "b", Pattern: Pattern{DailyAt: "09:00"}},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEmptyPattern)
	assert.Contains(t, err.Error(), "id required")
	assert.Contains(t, err.Error(), "duplicate id")
	assert.Contains(t, err.Error(), "sequence required")
	assert.Equal(t, good, p.Runs())
}

func TestProviderRespectsCanceledContext(t *testing.T) {
	b := newLibraryBlender(t, sequence.Sequence{ID: "s", Steps: []sequence.Step{{ID: "a"}}})
	p := NewProvider("runs", nil, b, logx.Nop())
	require.NoError(t, p.SetRuns([]Definition{{ID: "r", SequenceID: "s", Pattern: Pattern{DailyAt: "09:00"}}}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.Provide(ctx, anchor.Query{Context: anchor.Context{ID: "c"}, Frame: anchor.Daily, Cursor: jan1})
	assert.ErrorIs(t, err, context.Canceled)
}

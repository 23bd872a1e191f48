package runner

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"timeanchor/internal/anchor"
	"timeanchor/internal/sequence"
)

var jan1 = time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)

func TestBuildSingleRun(t *testing.T) {
	got := BuildSingleRun(SingleRun{
		ID:      "r1",
		StartAt: jan1,
		Steps: []sequence.Step{
			{ID: "s2", OffsetMs: 600000},
			{ID: "s1", OffsetMs: 0},
		},
	})
	require.Len(t, got, 2)

	assert.Equal(t, jan1, got[0].At)
	assert.Equal(t, time.Date(2024, 1, 1, 8, 10, 0, 0, time.UTC), got[1].At)
	assert.Contains(t, got[0].ID, "r1")
	assert.Contains(t, got[0].ID, "s1")
	assert.Contains(t, got[1].ID, "r1")
	assert.Contains(t, got[1].ID, "s2")
	assert.Equal(t, AnchorID("r1", "s1", jan1), got[0].ID)
	assert.Equal(t, "s1", got[0].Meta[MetaStep])
	assert.Equal(t, "r1", got[0].Meta[MetaRun])
	assert.NotContains(t, got[0].Meta, MetaRecurring)
}

func TestBuildSingleRunDurationAndMeta(t *testing.T) {
	got := BuildSingleRun(SingleRun{
		ID:        "r1",
		ContextID: "cairo",
		Frame:     anchor.Daily,
		StartAt:   jan1,
		Priority:  3,
		Steps:     []sequence.Step{{ID: "warmup", Label: "Warm up", DurationMs: 300000, Meta: map[string]any{"color": "red"}}},
	})
	require.Len(t, got, 1)
	a := got[0]
	assert.Equal(t, "Warm up", a.Label)
	assert.Equal(t, "cairo", a.ContextID)
	assert.Equal(t, anchor.Daily, a.Frame)
	assert.Equal(t, 3, a.Priority)
	assert.Equal(t, Source, a.Source)
	assert.Equal(t, int64(300000), a.Meta[MetaDurationMs])
	assert.Equal(t, jan1.Add(5*time.Minute), a.Meta[MetaEndAt])
	assert.Equal(t, "red", a.Meta["color"])
}

func TestBuildSingleRunDefaults(t *testing.T) {
	r := New(WithClock(func() time.Time { return jan1 }))
	got := r.BuildSingleRun(SingleRun{Steps: []sequence.Step{{ID: "only"}}})
	require.Len(t, got, 1)
	assert.Equal(t, jan1, got[0].At)
	assert.Equal(t, "only", got[0].Label)

	runID, _ := got[0].Meta[MetaRun].(string)
	assert.NotEmpty(t, runID)
	assert.True(t, strings.HasPrefix(got[0].ID, "run:"+runID+":only:"))
}

func TestBuildRecurringRunDailyAtHorizon(t *testing.T) {
	got, err := BuildRecurringRun(RecurringRun{
		ID:           "daily",
		Pattern:      Pattern{DailyAt: "07:30", StartDate: jan1},
		StepTemplate: []sequence.Step{{ID: "a"}, {ID: "b", OffsetMs: 60000}},
		HorizonDays:  5,
	})
	require.NoError(t, err)
	require.Len(t, got, 10)

	perStep := map[string][]time.Time{}
	ids := map[string]bool{}
	for _, a := range got {
		step := a.Meta[MetaStep].(string)
		perStep[step] = append(perStep[step], a.At)
		assert.False(t, ids[a.ID], "duplicate id %s", a.ID)
		ids[a.ID] = true
		assert.Equal(t, true, a.Meta[MetaRecurring])
	}
	require.Len(t, perStep["a"], 5)
	require.Len(t, perStep["b"], 5)
	for i, at := range perStep["a"] {
		assert.Equal(t, time.Date(2024, 1, 1+i, 7, 30, 0, 0, time.UTC), at)
	}
	assert.Equal(t, time.Date(2024, 1, 1, 7, 31, 0, 0, time.UTC), perStep["b"][0])
}

func TestBuildRecurringRunEveryMinutes(t *testing.T) {
	got, err := BuildRecurringRun(RecurringRun{
		ID:           "pulse",
		Pattern:      Pattern{EveryMinutes: 180, StartDate: jan1},
		StepTemplate: []sequence.Step{{ID: "p"}},
	})
	require.NoError(t, err)
	require.Len(t, got, 8)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), got[0].At)
	assert.Equal(t, time.Date(2024, 1, 1, 21, 0, 0, 0, time.UTC), got[7].At)
}

func TestBuildRecurringRunCombinedPatternsDedupe(t *testing.T) {
	got, err := BuildRecurringRun(RecurringRun{
		ID:           "mix",
		Pattern:      Pattern{DailyAt: "06:00", EveryMinutes: 360, Cron: "0 12 * * *", StartDate: jan1},
		StepTemplate: []sequence.Step{{ID: "x"}},
		HorizonDays:  1,
	})
	require.NoError(t, err)
	var hours []int
	for _, a := range got {
		hours = append(hours, a.At.Hour())
	}
	assert.Equal(t, []int{0, 6, 12, 18}, hours)
}

func TestBuildRecurringRunCronWeekdays(t *testing.T) {
	// 2024-01-01 is a Monday.
	got, err := BuildRecurringRun(RecurringRun{
		ID:           "work",
		Pattern:      Pattern{Cron: "30 9 * * 1-5", StartDate: jan1},
		StepTemplate: []sequence.Step{{ID: "standup"}},
		HorizonDays:  7,
	})
	require.NoError(t, err)
	require.Len(t, got, 5)
	assert.Equal(t, time.Date(2024, 1, 5, 9, 30, 0, 0, time.UTC), got[4].At)
}

func TestBuildRecurringRunLocation(t *testing.T) {
	cairo, err := time.LoadLocation("Africa/Cairo")
	require.NoError(t, err)
	got, err := BuildRecurringRun(RecurringRun{
		ID:           "loc",
		Pattern:      Pattern{DailyAt: "05:00", StartDate: jan1, Location: cairo},
		StepTemplate: []sequence.Step{{ID: "fajr"}},
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, time.Date(2024, 1, 1, 3, 0, 0, 0, time.UTC), got[0].At.UTC())
}

func TestBuildRecurringRunHorizonDefaultsToOneDay(t *testing.T) {
	got, err := BuildRecurringRun(RecurringRun{
		ID:           "one",
		Pattern:      Pattern{DailyAt: "10:00", StartDate: jan1},
		StepTemplate: []sequence.Step{{ID: "s"}},
		HorizonDays:  -3,
	})
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestBuildRecurringRunCapsInstants(t *testing.T) {
	// Every minute for 30 days is 43200 instants.
	got, err := BuildRecurringRun(RecurringRun{
		ID:           "flood",
		Pattern:      Pattern{EveryMinutes: 1, StartDate: jan1},
		StepTemplate: []sequence.Step{{ID: "s"}},
		HorizonDays:  30,
	})
	require.NoError(t, err)
	require.Len(t, got, MaxInstants)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), got[0].At)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).Add((MaxInstants-1)*time.Minute), got[len(got)-1].At)
}

func TestBuildRecurringRunCapKeepsEarliestAcrossPatterns(t *testing.T) {
	// Cron instants coincide with the cadence; what survives the cap is a
	// gap-free run of minutes from the start of the horizon.
	got, err := BuildRecurringRun(RecurringRun{
		ID:           "mixed",
		Pattern:      Pattern{EveryMinutes: 1, Cron: "30 0 * * *", StartDate: jan1},
		StepTemplate: []sequence.Step{{ID: "s"}},
		HorizonDays:  10,
	})
	require.NoError(t, err)
	require.Len(t, got, MaxInstants)
	for i := 1; i < len(got); i++ {
		assert.Equal(t, time.Minute, got[i].At.Sub(got[i-1].At))
	}
}

func TestPatternErrors(t *testing.T) {
	tests := []struct {
		name string
		p    Pattern
		is   error
	}{
		{"empty", Pattern{}, ErrEmptyPattern},
		{"bad hour", Pattern{DailyAt: "24:00"}, nil},
		{"bad minute", Pattern{DailyAt: "10:60"}, nil},
		{"no colon", Pattern{DailyAt: "1000"}, nil},
		{"negative cadence", Pattern{EveryMinutes: -5}, nil},
		{"bad cron", Pattern{Cron: "not a cron"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.p.Validate()
			require.Error(t, err)
			if tt.is != nil {
				assert.ErrorIs(t, err, tt.is)
			}
			_, err = BuildRecurringRun(RecurringRun{Pattern: tt.p})
			assert.Error(t, err)
		})
	}
}

func TestParseHHMM(t *testing.T) {
	h, m, err := parseHHMM(" 7:05 ")
	require.NoError(t, err)
	assert.Equal(t, 7, h)
	assert.Equal(t, 5, m)
}

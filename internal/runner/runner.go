// Package runner turns step templates into concrete anchors: once at a fixed
// start time, or repeatedly across a horizon of days following a pattern.
//
// Builders are pure; publishing the result (engine.UpsertAnchors, or through
// Provider) is up to the caller.
package runner

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"timeanchor/internal/anchor"
	"timeanchor/internal/sequence"
)

// Source is stamped on anchors built outside a provider refresh.
const Source = "runner"

// Meta keys set on every run anchor.
const (
	MetaStep       = "step"
	MetaRun        = "run"
	MetaDurationMs = "durationMs"
	MetaEndAt      = "endAt"
	MetaRecurring  = "recurring"
)

type SingleRun struct {
	ID        string
	Label     string
	ContextID string
	Frame     anchor.Frame
	StartAt   time.Time
	Steps     []sequence.Step
	Priority  int
}

type RecurringRun struct {
	ID           string
	Label        string
	ContextID    string
	Frame        anchor.Frame
	Pattern      Pattern
	StepTemplate []sequence.Step
	HorizonDays  int
	Priority     int
}

type Runner struct {
	now   func() time.Time
	newID func() string
}

type Option func(*Runner)

// WithClock sets the time used when StartAt or Pattern.StartDate is zero.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) {
		if now != nil {
			r.now = now
		}
	}
}

func New(opts ...Option) *Runner {
	r := &Runner{now: time.Now, newID: uuid.NewString}
	for _, o := range opts {
		o(r)
	}
	return r
}

var std = New()

func BuildSingleRun(run SingleRun) []anchor.Anchor { return std.BuildSingleRun(run) }

func BuildRecurringRun(run RecurringRun) ([]anchor.Anchor, error) {
	return std.BuildRecurringRun(run)
}

// BuildSingleRun places every step at StartAt + step offset and returns the
// anchors sorted by time. A zero StartAt means now.
func (r *Runner) BuildSingleRun(run SingleRun) []anchor.Anchor {
	run.ID = r.runID(run.ID)
	if run.StartAt.IsZero() {
		run.StartAt = r.now()
	}
	out := r.instantiate(run, false)
	anchor.Sort(out)
	return out
}

func (r *Runner) runID(id string) string {
	if id = strings.TrimSpace(id); id != "" {
		return id
	}
	return r.newID()
}

func (r *Runner) instantiate(run SingleRun, recurring bool) []anchor.Anchor {
	out := make([]anchor.Anchor, 0, len(run.Steps))
	for _, st := range run.Steps {
		at := run.StartAt.Add(st.Offset())
		out = append(out, stepAnchor(run, st, at, recurring))
	}
	return out
}

// AnchorID is unique per run, step and instant, so the same template
// instantiated on different days never collides.
func AnchorID(runID, stepID string, at time.Time) string {
	return fmt.Sprintf("run:%s:%s:%d", runID, stepID, at.UnixMilli())
}

func stepAnchor(run SingleRun, st sequence.Step, at time.Time, recurring bool) anchor.Anchor {
	label := st.Label
	if label == "" {
		label = st.ID
	}
	meta := make(map[string]any, len(st.Meta)+5)
	for k, v := range st.Meta {
		meta[k] = v
	}
	meta[MetaStep] = st.ID
	meta[MetaRun] = run.ID
	if st.DurationMs > 0 {
		meta[MetaDurationMs] = st.DurationMs
		meta[MetaEndAt] = at.Add(st.Duration())
	}
	if recurring {
		meta[MetaRecurring] = true
	}
	return anchor.Anchor{
		ID:        AnchorID(run.ID, st.ID, at),
		Label:     label,
		At:        at,
		Frame:     run.Frame,
		Category:  "run",
		ContextID: run.ContextID,
		Source:    Source,
		Priority:  run.Priority,
		Meta:      meta,
	}
}

// BuildRecurringRun expands the pattern across HorizonDays consecutive days
// starting on Pattern.StartDate's calendar day and applies StepTemplate at
// every instant. Anchors carry meta recurring=true. At most MaxInstants
// instants are expanded; later ones are dropped.
func (r *Runner) BuildRecurringRun(run RecurringRun) ([]anchor.Anchor, error) {
	p, err := compilePattern(run.Pattern)
	if err != nil {
		return nil, err
	}
	start := run.Pattern.StartDate
	if start.IsZero() {
		start = r.now()
	}
	loc := run.Pattern.Location
	if loc == nil {
		loc = start.Location()
	}
	days := run.HorizonDays
	if days <= 0 {
		days = 1
	}

	single := SingleRun{
		ID:        r.runID(run.ID),
		Label:     run.Label,
		ContextID: run.ContextID,
		Frame:     run.Frame,
		Steps:     run.StepTemplate,
		Priority:  run.Priority,
	}
	var out []anchor.Anchor
	for _, at := range p.instants(startOfDay(start, loc), days) {
		single.StartAt = at
		out = append(out, r.instantiate(single, true)...)
	}
	if out == nil {
		out = []anchor.Anchor{}
	}
	anchor.Sort(out)
	return out, nil
}

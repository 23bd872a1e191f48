package runner

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"

	"timeanchor/internal/anchor"
	"timeanchor/internal/blender"
	logx "timeanchor/pkg/logx"
)

// Definition is a configured recurring run whose step template is read from
// the sequence library at every refresh.
type Definition struct {
	ID         string
	Label      string
	SequenceID string
	Contexts   []string // empty: every context
	Pattern    Pattern
	Priority   int
}

func (d Definition) appliesTo(contextID string) bool {
	if len(d.Contexts) == 0 {
		return true
	}
	for _, c := range d.Contexts {
		if c == contextID {
			return true
		}
	}
	return false
}

// StepSource is satisfied by *blender.Blender.
type StepSource interface {
	PickSequenceSteps(ids ...string) []blender.FlatStep
}

// Provider exposes configured recurring runs to the engine. Each refresh
// expands every definition across the frame window of the query.
type Provider struct {
	name   string
	runner *Runner
	steps  StepSource
	log    logx.Logger

	mu   sync.RWMutex
	defs []Definition
}

func NewProvider(name string, r *Runner, steps StepSource, log logx.Logger) *Provider {
	if strings.TrimSpace(name) == "" {
		name = "runs"
	}
	if r == nil {
		r = New()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Provider{name: name, runner: r, steps: steps, log: log.With(logx.String("comp", "runner.provider"))}
}

// SetRuns replaces the definitions. Invalid ones are rejected as a whole and
// the previous set is kept.
func (p *Provider) SetRuns(defs []Definition) error {
	var errs []error
	seen := map[string]bool{}
	for i, d := range defs {
		id := strings.TrimSpace(d.ID)
		switch {
		case id == "":
			errs = append(errs, fmt.Errorf("runs[%d]: id required", i))
		case seen[id]:
			errs = append(errs, fmt.Errorf("runs[%d]: duplicate id %q", i, id))
		case strings.TrimSpace(d.SequenceID) == "":
			errs = append(errs, fmt.Errorf("runs[%d] %q: sequence required", i, id))
		}
		seen[id] = true
		if err := d.Pattern.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("runs[%d] %q: %w", i, id, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}

	cp := make([]Definition, len(defs))
	copy(cp, defs)
	p.mu.Lock()
	p.defs = cp
	p.mu.Unlock()
	p.log.Debug("runs configured", logx.Int("count", len(cp)))
	return nil
}

func (p *Provider) Runs() []Definition {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]Definition(nil), p.defs...)
}

func (p *Provider) Name() string { return p.name }

// Provide returns the instances of every applicable run that fall inside the
// query's frame window. It always returns a non-nil slice so that removing a
// run clears its anchors on the next refresh.
func (p *Provider) Provide(ctx context.Context, q anchor.Query) ([]anchor.Anchor, error) {
	out := []anchor.Anchor{}
	if p.steps == nil {
		return out, nil
	}
	start, end := q.Window()
	days := int(math.Ceil(end.Sub(start).Hours()/24)) + 1

	for _, d := range p.Runs() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !d.appliesTo(q.Context.ID) {
			continue
		}
		flat := p.steps.PickSequenceSteps(d.SequenceID)
		if len(flat) == 0 {
			p.log.Debug("run skipped: empty or unknown sequence", logx.String("run", d.ID), logx.String("sequence", d.SequenceID))
			continue
		}
		rr := RecurringRun{
			ID:          d.ID,
			Label:       d.Label,
			ContextID:   q.Context.ID,
			Frame:       q.Frame,
			Pattern:     d.Pattern,
			HorizonDays: days,
			Priority:    d.Priority,
		}
		rr.Pattern.StartDate = start
		rr.Pattern.Location = q.Context.Location()
		for _, fs := range flat {
			rr.StepTemplate = append(rr.StepTemplate, fs.Step)
		}
		list, err := p.runner.BuildRecurringRun(rr)
		if err != nil {
			return nil, fmt.Errorf("run %q: %w", d.ID, err)
		}
		for _, a := range list {
			if !a.At.Before(start) && a.At.Before(end) {
				out = append(out, a)
			}
		}
	}
	anchor.Sort(out)
	return out, nil
}

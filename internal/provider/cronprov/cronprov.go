// Package cronprov is a built-in provider that turns named cron expressions
// into anchors inside the active frame window.
package cronprov

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"timeanchor/internal/anchor"
	logx "timeanchor/pkg/logx"
)

// DefaultMaxPerEntry bounds how many anchors a single entry may produce per
// refresh (an every-minute expression over an annual frame would otherwise
// yield half a million).
const DefaultMaxPerEntry = 5000

type Entry struct {
	ID       string
	Label    string
	Cron     string // "30 6 * * 1-5", "@daily", optional "TZ=Area/City " prefix
	Category string
	Contexts []string // empty: every context
	Priority int
}

type compiledEntry struct {
	Entry
	sched cron.Schedule
}

type Provider struct {
	name string
	log  logx.Logger
	max  int

	parser cron.Parser

	mu      sync.RWMutex
	entries []compiledEntry
}

func New(name string, log logx.Logger) *Provider {
	if strings.TrimSpace(name) == "" {
		name = "cron"
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Provider{
		name:   name,
		log:    log.With(logx.String("comp", "cronprov")),
		max:    DefaultMaxPerEntry,
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

// SetMaxPerEntry overrides DefaultMaxPerEntry; n <= 0 restores it.
func (p *Provider) SetMaxPerEntry(n int) {
	if n <= 0 {
		n = DefaultMaxPerEntry
	}
	p.mu.Lock()
	p.max = n
	p.mu.Unlock()
}

// SetEntries parses and installs entries. On any error nothing changes.
func (p *Provider) SetEntries(entries []Entry) error {
	var errs []error
	out := make([]compiledEntry, 0, len(entries))
	seen := map[string]bool{}
	for i, e := range entries {
		e.ID = strings.TrimSpace(e.ID)
		if e.ID == "" {
			errs = append(errs, fmt.Errorf("cron entry %d: id required", i))
			continue
		}
		if seen[e.ID] {
			errs = append(errs, fmt.Errorf("cron entry %q: duplicate id", e.ID))
			continue
		}
		seen[e.ID] = true
		sched, err := p.parser.Parse(strings.TrimSpace(e.Cron))
		if err != nil {
			errs = append(errs, fmt.Errorf("cron entry %q: invalid expression %q: %w", e.ID, e.Cron, err))
			continue
		}
		out = append(out, compiledEntry{Entry: e, sched: sched})
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}
	p.mu.Lock()
	p.entries = out
	p.mu.Unlock()
	p.log.Debug("cron entries configured", logx.Int("count", len(out)))
	return nil
}

// Entries returns the installed entries.
func (p *Provider) Entries() []Entry {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Entry, 0, len(p.entries))
	for _, e := range p.entries {
		out = append(out, e.Entry)
	}
	return out
}

func (p *Provider) Name() string { return p.name }

// Provide emits one anchor per firing time of every applicable entry within
// the query's frame window. Times are computed in the context's location
// unless the expression carries its own TZ= prefix.
func (p *Provider) Provide(ctx context.Context, q anchor.Query) ([]anchor.Anchor, error) {
	p.mu.RLock()
	entries := p.entries
	limit := p.max
	p.mu.RUnlock()

	start, end := q.Window()
	out := []anchor.Anchor{}
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !applies(e.Contexts, q.Context.ID) {
			continue
		}
		n := 0
		for t := e.sched.Next(start.Add(-time.Nanosecond)); !t.IsZero() && t.Before(end); t = e.sched.Next(t) {
			if n >= limit {
				p.log.Warn("cron entry truncated", logx.String("entry", e.ID), logx.Int("max", limit))
				break
			}
			out = append(out, p.anchorFor(e.Entry, q, t))
			n++
		}
	}
	anchor.Sort(out)
	return out, nil
}

func (p *Provider) anchorFor(e Entry, q anchor.Query, t time.Time) anchor.Anchor {
	label := e.Label
	if label == "" {
		label = e.ID
	}
	return anchor.Anchor{
		ID:        fmt.Sprintf("cron:%s:%d", e.ID, t.UnixMilli()),
		Label:     label,
		At:        t,
		Frame:     q.Frame,
		Category:  e.Category,
		ContextID: q.Context.ID,
		Source:    p.name,
		Priority:  e.Priority,
		Meta:      map[string]any{"entry": e.ID, "cron": e.Cron},
	}
}

func applies(contexts []string, id string) bool {
	if len(contexts) == 0 {
		return true
	}
	for _, c := range contexts {
		if c == id {
			return true
		}
	}
	return false
}

// Package sequence is the persisted library of user-authored step templates
// and the message mailbox that lets other components read and mutate it
// without holding a reference to the library itself.
package sequence

import "time"

// StorageKey is the fixed durable-storage key the library is saved under.
const StorageKey = "timeanchor.sequences"

type Sequence struct {
	ID    string `json:"id" yaml:"id"`
	Label string `json:"label,omitempty" yaml:"label,omitempty"`
	Steps []Step `json:"steps" yaml:"steps"`
}

type Step struct {
	ID         string         `json:"id" yaml:"id"`
	Label      string         `json:"label,omitempty" yaml:"label,omitempty"`
	DurationMs int64          `json:"durationMs,omitempty" yaml:"durationMs,omitempty"`
	OffsetMs   int64          `json:"offsetMs,omitempty" yaml:"offsetMs,omitempty"`
	Meta       map[string]any `json:"meta,omitempty" yaml:"meta,omitempty"`
}

func (s Step) Offset() time.Duration   { return time.Duration(s.OffsetMs) * time.Millisecond }
func (s Step) Duration() time.Duration { return time.Duration(s.DurationMs) * time.Millisecond }

func (s Sequence) clone() Sequence {
	if s.Steps != nil {
		steps := make([]Step, len(s.Steps))
		for i, st := range s.Steps {
			if st.Meta != nil {
				m := make(map[string]any, len(st.Meta))
				for k, v := range st.Meta {
					m[k] = v
				}
				st.Meta = m
			}
			steps[i] = st
		}
		s.Steps = steps
	}
	return s
}

// merge applies incoming over s field by field: a non-empty Label wins and a
// non-nil Steps slice replaces the old one.
func (s Sequence) merge(in Sequence) Sequence {
	out := s.clone()
	if in.Label != "" {
		out.Label = in.Label
	}
	if in.Steps != nil {
		out.Steps = in.clone().Steps
	}
	return out
}

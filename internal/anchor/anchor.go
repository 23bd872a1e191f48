// Package anchor holds the domain types shared by the engine, its providers,
// the blender, and the runner.
package anchor

import (
	"sort"
	"time"
)

// Anchor is a single named, timestamped event relevant to a context and frame.
//
// ID is unique within its (ContextID, Frame) bucket.
type Anchor struct {
	ID        string         `json:"id"`
	Label     string         `json:"label"`
	At        time.Time      `json:"at"`
	Frame     Frame          `json:"frame"`
	Category  string         `json:"category,omitempty"`
	ContextID string         `json:"contextId"`
	Source    string         `json:"source"`
	Priority  int            `json:"priority,omitempty"`
	Meta      map[string]any `json:"meta,omitempty"`
}

// Query is what a provider receives on every refresh.
type Query struct {
	Context Context
	Frame   Frame
	Cursor  time.Time
}

// Window returns the frame window containing the cursor, in the context's location.
func (q Query) Window() (time.Time, time.Time) {
	return q.Frame.Window(q.Cursor, q.Context.Location())
}

// Sort orders anchors ascending by At; equal timestamps fall back to ID so
// the order is deterministic.
func Sort(list []Anchor) {
	sort.SliceStable(list, func(i, j int) bool {
		if !list[i].At.Equal(list[j].At) {
			return list[i].At.Before(list[j].At)
		}
		return list[i].ID < list[j].ID
	})
}

// Clone returns a copy of list whose Meta maps are not shared with the input.
func Clone(list []Anchor) []Anchor {
	if list == nil {
		return nil
	}
	out := make([]Anchor, len(list))
	for i, a := range list {
		if a.Meta != nil {
			m := make(map[string]any, len(a.Meta))
			for k, v := range a.Meta {
				m[k] = v
			}
			a.Meta = m
		}
		out[i] = a
	}
	return out
}

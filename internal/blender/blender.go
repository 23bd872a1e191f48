// Package blender builds read-only views over the engine's anchor buckets and
// flattens the sequence library into step lists. Nothing here mutates state.
package blender

import (
	"slices"
	"time"

	"timeanchor/internal/anchor"
	"timeanchor/internal/engine"
	"timeanchor/internal/sequence"
)

// AnchorSource is satisfied by *engine.Engine.
type AnchorSource interface {
	GetAnchors(q engine.AnchorQuery) []anchor.Anchor
}

// SequenceSource is satisfied by *sequence.Library.
type SequenceSource interface {
	Get(ids ...string) []sequence.Sequence
}

type Blender struct {
	anchors   AnchorSource
	sequences SequenceSource
}

// New returns a Blender. Either source may be nil; the corresponding view is
// then always empty.
func New(anchors AnchorSource, sequences SequenceSource) *Blender {
	return &Blender{anchors: anchors, sequences: sequences}
}

// Subset selects part of one bucket. Empty ContextID/Frame resolve to the
// active context and current frame. Zero From/To leave that side open; both
// bounds are inclusive. An empty Sources list keeps every source.
type Subset struct {
	ContextID string
	Frame     anchor.Frame
	From      time.Time
	To        time.Time
	Sources   []string
}

func (s Subset) keep(a anchor.Anchor) bool {
	if len(s.Sources) > 0 && !slices.Contains(s.Sources, a.Source) {
		return false
	}
	if !s.From.IsZero() && a.At.Before(s.From) {
		return false
	}
	if !s.To.IsZero() && a.At.After(s.To) {
		return false
	}
	return true
}

// BlendSubset returns the anchors of the selected bucket that pass the
// subset's filters, sorted ascending by time.
func (b *Blender) BlendSubset(s Subset) []anchor.Anchor {
	out := []anchor.Anchor{}
	if b.anchors == nil {
		return out
	}
	for _, a := range b.anchors.GetAnchors(engine.AnchorQuery{ContextID: s.ContextID, Frame: s.Frame}) {
		if s.keep(a) {
			out = append(out, a)
		}
	}
	anchor.Sort(out)
	return out
}

// FlatStep is one step annotated with the sequence it came from.
type FlatStep struct {
	SequenceID    string        `json:"sequenceId"`
	SequenceLabel string        `json:"sequenceLabel,omitempty"`
	Step          sequence.Step `json:"step"`
}

// PickSequenceSteps flattens the steps of the named sequences, or of every
// sequence when ids is empty, preserving library and step order.
func (b *Blender) PickSequenceSteps(ids ...string) []FlatStep {
	out := []FlatStep{}
	if b.sequences == nil {
		return out
	}
	for _, seq := range b.sequences.Get(ids...) {
		for _, st := range seq.Steps {
			out = append(out, FlatStep{SequenceID: seq.ID, SequenceLabel: seq.Label, Step: st})
		}
	}
	return out
}

package eventbus

import (
	"time"

	"timeanchor/internal/anchor"
)

// Kind identifies one member of the closed event set.
type Kind int

const (
	KindContextChanged Kind = iota + 1
	KindCursorChanged
	KindBlendUpdated
	KindAnchorTick
	KindProviderError
	KindSequencesUpdated
)

func (k Kind) String() string {
	switch k {
	case KindContextChanged:
		return "context-changed"
	case KindCursorChanged:
		return "cursor-changed"
	case KindBlendUpdated:
		return "blend-updated"
	case KindAnchorTick:
		return "anchor-tick"
	case KindProviderError:
		return "provider-error"
	case KindSequencesUpdated:
		return "sequences-updated"
	default:
		return "unknown"
	}
}

// Kinds lists every event kind.
func Kinds() []Kind {
	return []Kind{KindContextChanged, KindCursorChanged, KindBlendUpdated, KindAnchorTick, KindProviderError, KindSequencesUpdated}
}

// Event is implemented only by the payload types in this package.
type Event interface {
	Kind() Kind
	sealed()
}

type ContextChanged struct {
	ActiveContextID string `json:"activeContextId"`
}

// CursorChanged fires on both frame and cursor changes.
type CursorChanged struct {
	Cursor time.Time    `json:"cursor"`
	Frame  anchor.Frame `json:"frame"`
}

// BlendUpdated carries the full sorted bucket after a write.
type BlendUpdated struct {
	ContextID string          `json:"contextId"`
	Frame     anchor.Frame    `json:"frame"`
	Anchors   []anchor.Anchor `json:"anchors"`
}

type AnchorTick struct {
	ContextID  string    `json:"contextId"`
	AnchorID   string    `json:"anchorId"`
	Label      string    `json:"label"`
	At         time.Time `json:"at"`
	ETASeconds int64     `json:"etaSeconds"`
	IsPast     bool      `json:"isPast"`
}

type ProviderError struct {
	Provider string `json:"provider"`
	Message  string `json:"message"`
}

type SequencesUpdated struct {
	IDs []string `json:"ids"`
}

func (ContextChanged) Kind() Kind   { return KindContextChanged }
func (CursorChanged) Kind() Kind    { return KindCursorChanged }
func (BlendUpdated) Kind() Kind     { return KindBlendUpdated }
func (AnchorTick) Kind() Kind       { return KindAnchorTick }
func (ProviderError) Kind() Kind    { return KindProviderError }
func (SequencesUpdated) Kind() Kind { return KindSequencesUpdated }

func (ContextChanged) sealed()   {}
func (CursorChanged) sealed()    {}
func (BlendUpdated) sealed()     {}
func (AnchorTick) sealed()       {}
func (ProviderError) sealed()    {}
func (SequencesUpdated) sealed() {}

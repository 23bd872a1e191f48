package engine

import (
	"errors"

	"timeanchor/internal/anchor"
)

var (
	ErrInvalidContext  = errors.New("invalid context: id required")
	ErrUnknownContext  = errors.New("unknown context")
	ErrInvalidProvider = errors.New("invalid provider: name and implementation required")
	ErrInvalidCursor   = errors.New("invalid cursor: zero time")
	ErrInvalidFrame    = anchor.ErrInvalidFrame
)

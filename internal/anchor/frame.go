package anchor

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Frame is the temporal granularity in scope.
type Frame string

const (
	Daily   Frame = "daily"
	Weekly  Frame = "weekly"
	Monthly Frame = "monthly"
	Annual  Frame = "annual"
)

var ErrInvalidFrame = errors.New("invalid frame")

// Frames lists every valid frame in ascending granularity.
func Frames() []Frame { return []Frame{Daily, Weekly, Monthly, Annual} }

func (f Frame) Valid() bool {
	switch f {
	case Daily, Weekly, Monthly, Annual:
		return true
	}
	return false
}

func (f Frame) String() string { return string(f) }

// ParseFrame accepts the frame names case-insensitively. "yearly" is an alias for annual.
func ParseFrame(s string) (Frame, error) {
	f := Frame(strings.ToLower(strings.TrimSpace(s)))
	if f == "yearly" {
		f = Annual
	}
	if !f.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidFrame, s)
	}
	return f, nil
}

// Window returns the half-open interval [start, end) of the frame that
// contains t, with boundaries computed in loc. Weeks start on Monday.
func (f Frame) Window(t time.Time, loc *time.Location) (time.Time, time.Time) {
	if loc == nil {
		loc = t.Location()
	}
	lt := t.In(loc)
	y, m, d := lt.Date()
	day := time.Date(y, m, d, 0, 0, 0, 0, loc)
	switch f {
	case Weekly:
		offset := (int(day.Weekday()) + 6) % 7
		start := time.Date(y, m, d-offset, 0, 0, 0, 0, loc)
		return start, time.Date(y, m, d-offset+7, 0, 0, 0, 0, loc)
	case Monthly:
		return time.Date(y, m, 1, 0, 0, 0, 0, loc), time.Date(y, m+1, 1, 0, 0, 0, 0, loc)
	case Annual:
		return time.Date(y, 1, 1, 0, 0, 0, 0, loc), time.Date(y+1, 1, 1, 0, 0, 0, 0, loc)
	default:
		return day, time.Date(y, m, d+1, 0, 0, 0, 0, loc)
	}
}

package anchor

import (
	"strings"
	"time"
	_ "time/tzdata" // zones resolve on hosts without a zoneinfo database
)

// Context is a named place/timezone-like profile anchors are computed against.
type Context struct {
	ID     string            `json:"id" yaml:"id"`
	Label  string            `json:"label,omitempty" yaml:"label,omitempty"`
	Lat    float64           `json:"lat,omitempty" yaml:"lat,omitempty"`
	Lng    float64           `json:"lng,omitempty" yaml:"lng,omitempty"`
	TZ     string            `json:"tz,omitempty" yaml:"tz,omitempty"`
	Method string            `json:"method,omitempty" yaml:"method,omitempty"`
	Meta   map[string]string `json:"meta,omitempty" yaml:"meta,omitempty"`
}

// Location resolves TZ as an IANA zone name. Unknown or empty zones fall back to UTC.
func (c Context) Location() *time.Location {
	tz := strings.TrimSpace(c.TZ)
	if tz == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Clone returns a copy that shares no maps with c.
func (c Context) Clone() Context {
	if c.Meta != nil {
		m := make(map[string]string, len(c.Meta))
		for k, v := range c.Meta {
			m[k] = v
		}
		c.Meta = m
	}
	return c
}

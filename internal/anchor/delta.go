package anchor

import "time"

// Delta is a relative calendar offset. Fields combine.
type Delta struct {
	Days   int `json:"days,omitempty"`
	Weeks  int `json:"weeks,omitempty"`
	Months int `json:"months,omitempty"`
	Years  int `json:"years,omitempty"`
}

func (d Delta) IsZero() bool { return d == Delta{} }

// Apply adds d to t with time.AddDate semantics: month and year overflow is
// normalized, not clamped, so January 31 plus one month lands in March.
func (d Delta) Apply(t time.Time) time.Time {
	return t.AddDate(d.Years, d.Months, d.Days+7*d.Weeks)
}

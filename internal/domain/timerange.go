package domain

import "time"

// TimeRange is a [Start, End] window in milliseconds since epoch.
// Start <= End by convention; it is not hard-enforced.
type TimeRange struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

// Span is the window duration.
func (r TimeRange) Span() time.Duration {
	return time.Duration(r.End-r.Start) * time.Millisecond
}

// Contains reports whether ts (ms) falls inside the window, bounds inclusive.
func (r TimeRange) Contains(ts int64) bool {
	return ts >= r.Start && ts <= r.End
}

// Shift moves both ends by the offset, positive is forwards in time.
func (r TimeRange) Shift(offset time.Duration) TimeRange {
	ms := offset.Milliseconds()
	return TimeRange{Start: r.Start + ms, End: r.End + ms}
}

// TimeBucket is one histogram cell for the scrubber UI.
type TimeBucket struct {
	Start int64  `json:"start"`
	End   int64  `json:"end"`
	Count int    `json:"count"`
	Label string `json:"label"`
}

// NowMillis is the single wall-clock accessor used by time-window logic.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}

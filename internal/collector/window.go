package collector

import (
	"time"
)

// Planner computes the next collection window from the persisted watermark.
type Planner struct {
	// Window is the nominal collection window.
	Window time.Duration
	// Overlap widens the window backward to recapture traces reported with
	// delay.
	Overlap time.Duration
	// MaxMultiplier caps the total span at MaxMultiplier*Window so backend
	// query cost stays bounded after long downtime.
	MaxMultiplier int
}

// Plan returns the [start, end] query interval for the next cycle. clamped
// reports whether the span hit the cap; the caller logs that as degradation.
// The watermark advances to end only after the cycle's data is durably
// merged, never here.
func (p Planner) Plan(watermark, now time.Time) (start, end time.Time, clamped bool) {
	start, end = watermark, now

	// Back off by the overlap margin unless the candidate interval is
	// already within it, which would produce a degenerate window.
	if end.Sub(start) > p.Overlap {
		start = start.Add(-p.Overlap)
	}

	maxSpan := time.Duration(p.MaxMultiplier) * p.Window
	if maxSpan > 0 && end.Sub(start) > maxSpan {
		start = end.Add(-maxSpan)
		clamped = true
	}
	return start, end, clamped
}

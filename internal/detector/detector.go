// Package detector derives opportunities from a snapshot view. Detectors are
// pure functions of the view and their configuration: the same view always
// yields the same opportunities in the same order.
package detector

import (
	"math"
	"time"
)

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func latest(times ...time.Time) time.Time {
	var out time.Time
	for _, t := range times {
		if t.After(out) {
			out = t
		}
	}
	return out
}

// ABOUTME: Re-trigger decision for keeping a capture buffer fed.
// ABOUTME: Pure function of buffer depth, time since last trigger, and pending state.

package utsc

import "time"

// RetriggerPolicy decides when to re-arm the capture device.
type RetriggerPolicy struct {
	LowWatermark int
	MinInterval  time.Duration
}

// DefaultRetriggerPolicy re-arms below 5 buffered samples, at most every 2 seconds.
func DefaultRetriggerPolicy() RetriggerPolicy {
	return RetriggerPolicy{LowWatermark: 5, MinInterval: 2 * time.Second}
}

// ShouldTrigger reports whether a new trigger may be issued now. A trigger is
// issued only when the buffer is at or below the low watermark, the previous
// trigger is at least MinInterval old, and no trigger is still in flight.
func (p RetriggerPolicy) ShouldTrigger(bufferLen int, lastTrigger time.Time, pending bool, now time.Time) bool {
	if pending {
		return false
	}
	if bufferLen > p.LowWatermark {
		return false
	}
	return now.Sub(lastTrigger) >= p.MinInterval
}

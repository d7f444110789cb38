// Package questionnaire gates checkout of prescription products behind the
// medical intake quiz and confirms quiz completion from an unreliable
// completion signal.
package questionnaire

import (
	"sync"
	"time"
)

// State is the detector's view of completion.
type State int

const (
	NotSeen State = iota
	SeenPending
	Confirmed
)

func (s State) String() string {
	switch s {
	case SeenPending:
		return "seen-pending"
	case Confirmed:
		return "confirmed"
	default:
		return "not-seen"
	}
}

// Detector debounces a completion signal: it must be observed continuously
// for at least the minimum dwell before it counts. An explicit completion
// event confirms immediately. Confirmed is terminal.
type Detector struct {
	mu       sync.Mutex
	minDwell time.Duration
	now      func() time.Time
	state    State
	seenAt   time.Time
}

// NewDetector creates a detector. now may be nil.
func NewDetector(minDwell time.Duration, now func() time.Time) *Detector {
	if now == nil {
		now = time.Now
	}
	return &Detector{minDwell: minDwell, now: now}
}

// Observe feeds one sample of the signal and returns the new state. A
// negative sample while pending resets the dwell.
func (d *Detector) Observe(seen bool) State {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch d.state {
	case Confirmed:
	case NotSeen:
		if seen {
			d.state = SeenPending
			d.seenAt = d.now()
			if d.minDwell <= 0 {
				d.state = Confirmed
			}
		}
	case SeenPending:
		if !seen {
			d.state = NotSeen
			d.seenAt = time.Time{}
		} else if d.now().Sub(d.seenAt) >= d.minDwell {
			d.state = Confirmed
		}
	}
	return d.state
}

// Complete records the authoritative completion event.
func (d *Detector) Complete() {
	d.mu.Lock()
	d.state = Confirmed
	d.mu.Unlock()
}

func (d *Detector) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

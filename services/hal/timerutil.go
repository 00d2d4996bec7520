package hal

import "time"

// idle is the timer period used when nothing is scheduled.
const idle = time.Hour

// resetTimer stops, drains and re-arms t. Negative durations fire at once.
func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		drainTimer(t)
	}
	if d < 0 {
		d = 0
	}
	t.Reset(d)
}

func drainTimer(t *time.Timer) {
	select {
	case <-t.C:
	default:
	}
}

// newStoppedTimer returns a timer that will not fire until reset.
func newStoppedTimer() *time.Timer {
	t := time.NewTimer(idle)
	if !t.Stop() {
		drainTimer(t)
	}
	return t
}

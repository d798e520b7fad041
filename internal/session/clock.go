package session

import "time"

// Clock supplies the current time and periodic ticks to the monitor.
type Clock interface {
	Now() time.Time
	// Tick returns a channel firing every d and a function stopping it.
	Tick(d time.Duration) (<-chan time.Time, func())
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) Tick(d time.Duration) (<-chan time.Time, func()) {
	t := time.NewTicker(d)
	return t.C, t.Stop
}

// SystemClock is the wall clock.
var SystemClock Clock = systemClock{}

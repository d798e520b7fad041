package models

import "time"

// ActivityState represents the liveness of the current signed-in session.
type ActivityState struct {
	LastActivity     time.Time
	Warning          bool
	SecondsRemaining int
}

// Expired returns true once no time remains in the session.
func (s ActivityState) Expired() bool {
	return s.SecondsRemaining <= 0
}

package clock

import "time"

// Clock abstracts wall-clock reads so time-driven policy can be tested
// without sleeping.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now().UTC()
}

// NewSystem returns a Clock backed by the system clock.
func NewSystem() Clock {
	return systemClock{}
}

package broker

import "time"

// TimerHandle cancels a scheduled callback. Stop reports whether the call stopped
// the callback from running.
type TimerHandle interface {
	Stop() bool
}

// Timer schedules callbacks. Tests inject a manual implementation instead of sleeping.
type Timer interface {
	Schedule(d time.Duration, fn func()) TimerHandle
}

type systemTimer struct{}

// SystemTimer returns a Timer backed by time.AfterFunc.
func SystemTimer() Timer { return systemTimer{} }

func (systemTimer) Schedule(d time.Duration, fn func()) TimerHandle {
	return time.AfterFunc(d, fn)
}

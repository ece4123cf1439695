package transfer

import "time"

// Timer is a scheduled action that can be cancelled.
type Timer interface {
	Stop() bool
}

// Clock schedules the receiver's stall timer. Tests substitute a manual clock.
type Clock interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// RealClock is backed by time.AfterFunc.
var RealClock Clock = realClock{}

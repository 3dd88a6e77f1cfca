package model

import "time"

// Clock returns the current time in Unix milliseconds, the unit of every
// updatedAt, timestamp and deletedAt field.
type Clock interface {
	NowMillis() int64
}

// SystemClock reads the wall clock.
type SystemClock struct{}

// NowMillis implements Clock.
func (SystemClock) NowMillis() int64 {
	return time.Now().UnixMilli()
}

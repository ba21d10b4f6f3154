package inter

import (
	"time"
)

// Timestamp is a logical block time in whole seconds since the unix epoch.
type Timestamp uint64

// FromMillis truncates a millisecond timestamp, as set by the timestamp
// inherent, down to whole seconds.
func FromMillis(ms uint64) Timestamp {
	return Timestamp(ms / 1000)
}

// FromUnix converts a time.Time into a Timestamp, dropping sub-second precision.
func FromUnix(t time.Time) Timestamp {
	return Timestamp(t.Unix())
}

// Unix returns the timestamp as seconds.
func (t Timestamp) Unix() int64 {
	return int64(t)
}

// Time returns the timestamp as time.Time in UTC.
func (t Timestamp) Time() time.Time {
	return time.Unix(int64(t), 0).UTC()
}

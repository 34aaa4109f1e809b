package types

import (
	"fmt"
	"strconv"
	"time"
)

// Timestamp is milliseconds since the Unix epoch. It is the on-wire and
// in-memory representation for every event in the system; comparisons and
// arithmetic are plain int64 operations, with no timezone ambiguity.
type Timestamp int64

// Now returns the current time as a Timestamp.
func Now() Timestamp {
	return Timestamp(time.Now().UnixMilli())
}

// FromTime converts a time.Time to a Timestamp.
func FromTime(t time.Time) Timestamp {
	return Timestamp(t.UnixMilli())
}

// Time converts back to time.Time (UTC).
func (t Timestamp) Time() time.Time {
	return time.UnixMilli(int64(t)).UTC()
}

// ParseTimestamp accepts either an integer-millisecond string or an
// RFC3339 timestamp, matching the two shapes venue APIs tend to emit.
func ParseTimestamp(s string) (Timestamp, error) {
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return Timestamp(ms), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return 0, fmt.Errorf("types: parse timestamp %q: %w", s, err)
	}
	return FromTime(t), nil
}

func (t Timestamp) String() string {
	return strconv.FormatInt(int64(t), 10)
}

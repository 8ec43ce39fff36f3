package mesh

import (
	"fmt"
	"math/rand/v2"
	"time"
)

// timestampLayout is the second-resolution part of MESH timestamps. A
// six-digit microsecond field follows it.
const timestampLayout = "20060102150405"

// Clock yields UTC wall-clock times that never go backwards. Readings are
// derived from the monotonic clock relative to when the Clock was created,
// so adjustments to the system clock do not reorder message IDs.
type Clock struct {
	start  time.Time
	origin time.Time
}

// NewClock returns a Clock anchored at the current time.
func NewClock() *Clock {
	return NewClockAt(time.Now())
}

// NewClockAt returns a Clock whose first reading is t. Later readings
// advance with the monotonic clock.
func NewClockAt(t time.Time) *Clock {
	return &Clock{start: t, origin: time.Now()}
}

// Now returns the current time in UTC.
func (c *Clock) Now() time.Time {
	return c.start.Add(time.Since(c.origin)).UTC()
}

// FormatTimestamp renders t as yyyyMMddHHmmss followed by microseconds.
func FormatTimestamp(t time.Time) string {
	t = t.UTC()
	return fmt.Sprintf("%s%06d", t.Format(timestampLayout), t.Nanosecond()/int(time.Microsecond))
}

// FormatMessageID builds a message ID from a timestamp and a sequence
// number.
func FormatMessageID(t time.Time, seq int64) string {
	return fmt.Sprintf("%s_%09d", FormatTimestamp(t), seq)
}

// internalID is the opaque request identifier returned by the count
// endpoint.
func internalID(t time.Time) string {
	return fmt.Sprintf("%s_%06d_%d", FormatTimestamp(t), rand.IntN(1_000_000), t.Unix())
}

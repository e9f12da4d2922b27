package index

import (
	"time"

	"github.com/ltfscore/ltfscore/internal/dentry"
)

// dentryTimeToTime and timeToDentryTime convert between the on-tape
// {seconds, nanoseconds} pair (spec.md §9, "Timestamps": retained verbatim,
// not clamped) and time.Time, which the XML layer needs for formatting.
func dentryTimeToTime(ts dentry.Timestamp) time.Time {
	return time.Unix(ts.Seconds, int64(ts.Nanoseconds)).UTC()
}

func timeToDentryTime(t time.Time) dentry.Timestamp {
	return dentry.Timestamp{Seconds: t.Unix(), Nanoseconds: int32(t.Nanosecond())}
}

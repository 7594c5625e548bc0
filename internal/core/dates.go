package core

import "time"

const millisPerDay = 24 * 60 * 60 * 1000

// FormatDateLong renders an instant as dd.mm.yyyy (accounting import format).
func FormatDateLong(t time.Time) string {
	return t.Format("02.01.2006")
}

// FormatDateShort renders an instant as dd.mm.yy.
func FormatDateShort(t time.Time) string {
	return t.Format("02.01.06")
}

// TimeFromMillis converts an epoch-millisecond timestamp to UTC time.
// All bill window timestamps are epoch milliseconds; both export paths
// share this conversion so their dates agree.
func TimeFromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// WindowDay returns the calendar instant of a relative day index within a
// billing window that starts at startMillis.
func WindowDay(startMillis int64, dayIndex uint32) time.Time {
	return TimeFromMillis(startMillis + int64(dayIndex)*millisPerDay)
}

// DayIndexOf maps an absolute purchase timestamp to its whole-day offset
// from the window start. Timestamps before the window start map to day 0.
func DayIndexOf(startMillis, tsMillis int64) uint32 {
	if tsMillis <= startMillis {
		return 0
	}
	return uint32((tsMillis - startMillis) / millisPerDay)
}

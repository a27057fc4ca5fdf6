// Package tz pins the institution timezone. All booking intervals are stored
// and compared in MSK (UTC+3, no DST).
package tz

import "time"

// MSK is Europe/Moscow as a fixed offset. The fixed zone avoids a tzdata
// dependency and is exact because MSK has no daylight saving.
var MSK = time.FixedZone("MSK", 3*60*60)

// ToMSK converts t to MSK. Zero times pass through unchanged.
func ToMSK(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return t.In(MSK)
}

// Package policy decides whether a user may book a room. The decision is a
// pure function over the inputs: no lookups, no clock reads, no side effects.
package policy

import (
	"time"

	"github.com/innohassle/room-booking-backend/internal/room"
	"github.com/innohassle/room-booking-backend/internal/tz"
)

// Roles are the caller's roles as reported by the accounts service.
type Roles struct {
	IsStudent bool
	IsStaff   bool
	IsCollege bool
}

// Request carries everything CanBook needs to decide.
type Request struct {
	Roles        Roles
	Room         *room.Room
	Start        time.Time
	End          time.Time
	Now          time.Time
	InAccessList bool
	IsUpdate     bool
}

const (
	maxAdvance     = 14 * 24 * time.Hour
	longBookingCap = 3 * time.Hour
)

// CanBook returns whether the booking is allowed. Reason is a user-facing
// message and is empty exactly when allow is true. Validation rules run
// first, in order; the first failing rule wins.
func CanBook(req Request) (bool, string) {
	start := tz.ToMSK(req.Start)
	end := tz.ToMSK(req.End)
	now := tz.ToMSK(req.Now)

	if !start.Before(end) {
		return false, "Start must be before end."
	}
	// A currently-running booking may still be moved, so updates skip the
	// start-in-the-past check.
	if (start.Before(now) && !req.IsUpdate) || end.Before(now) {
		return false, "Booking cannot be in the past."
	}
	if d := start.Sub(now); d > maxAdvance || d < -maxAdvance {
		return false, "Booking cannot be more than two weeks in the future."
	}

	return checkRules(
		req.Room,
		end.Sub(start) > longBookingCap,
		highestRole(req.Roles),
		req.InAccessList,
		isRestrictedTime(start, end),
	)
}

type role int

const (
	roleNone role = iota
	roleStudent
	roleStaff
)

func highestRole(r Roles) role {
	switch {
	case r.IsStaff:
		return roleStaff
	case r.IsStudent:
		return roleStudent
	default:
		return roleNone
	}
}

func checkRules(rm *room.Room, longerThan3h bool, highest role, inAccessList, restrictedTime bool) (bool, string) {
	if highest == roleNone {
		return false, "You must be a student or staff to book rooms (college students can't book rooms)."
	}

	if rm.ID == "309A" && inAccessList && longerThan3h {
		return false, "309A can't be booked for more than 3 hours."
	}

	// Staff book yellow and red rooms with no duration cap.
	if highest == roleStaff && (rm.AccessLevel == room.AccessYellow || rm.AccessLevel == room.AccessRed) {
		return true, ""
	}
	if highest == roleStaff && inAccessList {
		return true, ""
	}
	if highest == roleStaff {
		return false, "You don't have rights to book this room."
	}

	if highest == roleStudent && longerThan3h {
		if inAccessList {
			return true, ""
		}
		if rm.AccessLevel == room.AccessYellow {
			return false, "Students can't create booking for more than 3 hours."
		}
	}

	if inAccessList {
		return true, ""
	}

	if highest == roleStudent && rm.AccessLevel == room.AccessRed {
		return false, "Students can't book rooms with red access level."
	}

	if rm.AccessLevel == room.AccessYellow && !rm.RestrictDaytime {
		return true, ""
	}

	if rm.AccessLevel == room.AccessYellow && rm.RestrictDaytime {
		if restrictedTime {
			return false, "Students can't book lecture rooms during working hours."
		}
		return true, ""
	}

	return false, "You don't have rights to book this room."
}

const (
	restrictedFromHour = 8
	restrictedToHour   = 19
)

// isRestrictedTime reports whether [start, end] touches working hours
// (Mon-Fri 08:00-19:00 MSK). It assumes the booking is shorter than the
// 3-hour cap: a multi-day interval counts as restricted as soon as either
// endpoint lies inside a weekday's working window.
func isRestrictedTime(start, end time.Time) bool {
	start = tz.ToMSK(start)
	end = tz.ToMSK(end)

	startOnWeekday := isWeekday(start)
	endOnWeekday := isWeekday(end)

	if sameDate(start, end) {
		if !startOnWeekday {
			return false
		}
		if !dayTime(end).After(dayMark(restrictedFromHour)) {
			return false
		}
		if !dayTime(start).Before(dayMark(restrictedToHour)) {
			return false
		}
		return true
	}

	startsOutside := !startOnWeekday || !dayTime(start).Before(dayMark(restrictedToHour))
	endsOutside := !endOnWeekday || !dayTime(end).After(dayMark(restrictedFromHour))
	return !(startsOutside && endsOutside)
}

func isWeekday(t time.Time) bool {
	wd := t.Weekday()
	return wd != time.Saturday && wd != time.Sunday
}

func sameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// dayTime strips the date, leaving the time of day on a fixed reference date.
func dayTime(t time.Time) time.Time {
	return time.Date(0, 1, 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), tz.MSK)
}

func dayMark(hour int) time.Time {
	return time.Date(0, 1, 1, hour, 0, 0, 0, tz.MSK)
}

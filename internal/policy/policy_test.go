package policy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/innohassle/room-booking-backend/internal/room"
	"github.com/innohassle/room-booking-backend/internal/tz"
)

var (
	student = Roles{IsStudent: true}
	staff   = Roles{IsStaff: true}
	college = Roles{IsCollege: true}
)

func msk(year int, month time.Month, day, hour, min int) time.Time {
	return time.Date(year, month, day, hour, min, 0, 0, tz.MSK)
}

// 2025-03-10 is a Monday.
var testNow = msk(2025, 3, 9, 12, 0)

func yellowRoom() *room.Room {
	return &room.Room{ID: "101", AccessLevel: room.AccessYellow}
}

func check(t *testing.T, req Request, wantAllow bool, wantReason string) {
	t.Helper()
	if req.Now.IsZero() {
		req.Now = testNow
	}
	allow, reason := CanBook(req)
	assert.Equal(t, wantAllow, allow)
	assert.Equal(t, wantReason, reason)
}

func TestValidationOrder(t *testing.T) {
	rm := yellowRoom()

	t.Run("start after end", func(t *testing.T) {
		check(t, Request{Roles: staff, Room: rm,
			Start: msk(2025, 3, 10, 13, 0), End: msk(2025, 3, 10, 12, 0)},
			false, "Start must be before end.")
	})

	t.Run("start equals end", func(t *testing.T) {
		check(t, Request{Roles: staff, Room: rm,
			Start: msk(2025, 3, 10, 12, 0), End: msk(2025, 3, 10, 12, 0)},
			false, "Start must be before end.")
	})

	t.Run("booking in the past", func(t *testing.T) {
		check(t, Request{Roles: staff, Room: rm,
			Start: msk(2025, 3, 8, 10, 0), End: msk(2025, 3, 8, 11, 0)},
			false, "Booking cannot be in the past.")
	})

	t.Run("running booking may be updated", func(t *testing.T) {
		check(t, Request{Roles: staff, Room: rm, IsUpdate: true,
			Start: msk(2025, 3, 9, 11, 0), End: msk(2025, 3, 9, 13, 0)},
			true, "")
	})

	t.Run("running booking may not be created", func(t *testing.T) {
		check(t, Request{Roles: staff, Room: rm,
			Start: msk(2025, 3, 9, 11, 0), End: msk(2025, 3, 9, 13, 0)},
			false, "Booking cannot be in the past.")
	})

	t.Run("more than two weeks ahead", func(t *testing.T) {
		check(t, Request{Roles: staff, Room: rm,
			Start: msk(2025, 3, 24, 12, 1), End: msk(2025, 3, 24, 13, 0)},
			false, "Booking cannot be more than two weeks in the future.")
	})
}

func TestStudentLongBookingYellowRoom(t *testing.T) {
	// 4 hours in a yellow room without an access grant.
	check(t, Request{Roles: student, Room: yellowRoom(),
		Start: msk(2025, 3, 10, 9, 0), End: msk(2025, 3, 10, 13, 0)},
		false, "Students can't create booking for more than 3 hours.")
}

func TestStudentLongBookingWithAccessGrant(t *testing.T) {
	check(t, Request{Roles: student, Room: yellowRoom(), InAccessList: true,
		Start: msk(2025, 3, 10, 9, 0), End: msk(2025, 3, 10, 13, 0)},
		true, "")
}

func TestSpecialRoom309ACap(t *testing.T) {
	rm := &room.Room{ID: "309A", AccessLevel: room.AccessSpecial}

	check(t, Request{Roles: staff, Room: rm, InAccessList: true,
		Start: msk(2025, 3, 10, 9, 0), End: msk(2025, 3, 10, 12, 1)},
		false, "309A can't be booked for more than 3 hours.")

	// Under the cap it falls through to the staff access-list rule.
	check(t, Request{Roles: staff, Room: rm, InAccessList: true,
		Start: msk(2025, 3, 10, 9, 0), End: msk(2025, 3, 10, 12, 0)},
		true, "")
}

func TestCollegeStudentsCannotBook(t *testing.T) {
	check(t, Request{Roles: college, Room: yellowRoom(),
		Start: msk(2025, 3, 10, 9, 0), End: msk(2025, 3, 10, 10, 0)},
		false, "You must be a student or staff to book rooms (college students can't book rooms).")
}

func TestStaffRules(t *testing.T) {
	t.Run("yellow allowed", func(t *testing.T) {
		check(t, Request{Roles: staff, Room: yellowRoom(),
			Start: msk(2025, 3, 10, 9, 0), End: msk(2025, 3, 10, 18, 0)},
			true, "")
	})

	t.Run("red allowed", func(t *testing.T) {
		rm := &room.Room{ID: "vault", AccessLevel: room.AccessRed}
		check(t, Request{Roles: staff, Room: rm,
			Start: msk(2025, 3, 10, 9, 0), End: msk(2025, 3, 10, 10, 0)},
			true, "")
	})

	t.Run("special denied without grant", func(t *testing.T) {
		rm := &room.Room{ID: "music", AccessLevel: room.AccessSpecial}
		check(t, Request{Roles: staff, Room: rm,
			Start: msk(2025, 3, 10, 9, 0), End: msk(2025, 3, 10, 10, 0)},
			false, "You don't have rights to book this room.")
	})
}

func TestStudentRedRoomDenied(t *testing.T) {
	rm := &room.Room{ID: "vault", AccessLevel: room.AccessRed}
	check(t, Request{Roles: student, Room: rm,
		Start: msk(2025, 3, 10, 9, 0), End: msk(2025, 3, 10, 10, 0)},
		false, "Students can't book rooms with red access level.")
}

func TestRestrictedDaytime(t *testing.T) {
	rm := &room.Room{ID: "313", AccessLevel: room.AccessYellow, RestrictDaytime: true}

	t.Run("weekday working hours denied", func(t *testing.T) {
		// Tuesday 10:00-11:00.
		check(t, Request{Roles: student, Room: rm,
			Start: msk(2025, 3, 11, 10, 0), End: msk(2025, 3, 11, 11, 0)},
			false, "Students can't book lecture rooms during working hours.")
	})

	t.Run("saturday allowed", func(t *testing.T) {
		check(t, Request{Roles: student, Room: rm,
			Start: msk(2025, 3, 15, 10, 0), End: msk(2025, 3, 15, 11, 0)},
			true, "")
	})

	t.Run("weekday evening allowed", func(t *testing.T) {
		check(t, Request{Roles: student, Room: rm,
			Start: msk(2025, 3, 11, 19, 0), End: msk(2025, 3, 11, 21, 0)},
			true, "")
	})

	t.Run("weekday early morning allowed", func(t *testing.T) {
		check(t, Request{Roles: student, Room: rm,
			Start: msk(2025, 3, 11, 6, 0), End: msk(2025, 3, 11, 8, 0)},
			true, "")
	})

	t.Run("overnight crossing into working hours denied", func(t *testing.T) {
		// Tuesday 23:00 -> Wednesday 09:00 ends inside the window.
		check(t, Request{Roles: staff, Room: rm, Now: testNow,
			Start: msk(2025, 3, 11, 23, 0), End: msk(2025, 3, 12, 9, 0)}, true, "")
		check(t, Request{Roles: student, Room: rm,
			Start: msk(2025, 3, 11, 23, 0), End: msk(2025, 3, 12, 9, 0)},
			false, "Students can't book lecture rooms during working hours.")
	})

	t.Run("overnight outside working hours allowed", func(t *testing.T) {
		// Tuesday 21:00 -> Wednesday 07:00.
		check(t, Request{Roles: student, Room: rm,
			Start: msk(2025, 3, 11, 21, 0), End: msk(2025, 3, 12, 7, 0)},
			true, "")
	})

	t.Run("grant bypasses the daytime restriction", func(t *testing.T) {
		check(t, Request{Roles: student, Room: rm, InAccessList: true,
			Start: msk(2025, 3, 11, 10, 0), End: msk(2025, 3, 11, 11, 0)},
			true, "")
	})
}

func TestOtherZoneTimestampsConvert(t *testing.T) {
	rm := &room.Room{ID: "313", AccessLevel: room.AccessYellow, RestrictDaytime: true}
	// 07:00 UTC == 10:00 MSK on a Tuesday, inside working hours.
	utcStart := time.Date(2025, 3, 11, 7, 0, 0, 0, time.UTC)
	check(t, Request{Roles: student, Room: rm,
		Start: utcStart, End: utcStart.Add(time.Hour)},
		false, "Students can't book lecture rooms during working hours.")
}

func TestCanBookIsPure(t *testing.T) {
	req := Request{Roles: student, Room: yellowRoom(), Now: testNow,
		Start: msk(2025, 3, 10, 9, 0), End: msk(2025, 3, 10, 13, 0)}
	a1, r1 := CanBook(req)
	a2, r2 := CanBook(req)
	assert.Equal(t, a1, a2)
	assert.Equal(t, r1, r2)
}

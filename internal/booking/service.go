package booking

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/innohassle/room-booking-backend/internal/clock"
	"github.com/innohassle/room-booking-backend/internal/exchange"
	"github.com/innohassle/room-booking-backend/internal/pkg/apperror"
	"github.com/innohassle/room-booking-backend/internal/policy"
	"github.com/innohassle/room-booking-backend/internal/room"
	"github.com/innohassle/room-booking-backend/internal/singleflight"
	"github.com/innohassle/room-booking-backend/internal/tz"
)

// ProviderURL is appended to item bodies so recipients can trace the origin.
const ProviderURL = "https://innohassle.ru/room-booking"

const (
	confirmTries     = 10
	confirmDelay     = time.Second
	confirmInitDelay = 2 * time.Second
)

// CreateRequest describes a booking to create on behalf of the organizer.
type CreateRequest struct {
	RoomID            string
	Title             string
	Start             time.Time
	End               time.Time
	OrganizerEmail    string
	ParticipantEmails []string
	Roles             policy.Roles
}

// UpdateRequest carries the changed fields; nil means keep the current value.
type UpdateRequest struct {
	Start       *time.Time
	End         *time.Time
	Title       *string
	CallerEmail string
	Roles       policy.Roles
}

type Service interface {
	// BookingsForRooms returns merged bookings for the given rooms in
	// [start, end). Unknown room ids are skipped.
	BookingsForRooms(ctx context.Context, roomIDs []string, start, end time.Time) ([]Booking, error)
	// BookingsForAllRooms covers every registered room, excluding red-access
	// rooms unless includeRed.
	BookingsForAllRooms(ctx context.Context, start, end time.Time, includeRed bool) ([]Booking, error)
	// UserBookings returns the bookings the user participates in.
	UserBookings(ctx context.Context, userEmail string, start, end time.Time) ([]Booking, error)
	Get(ctx context.Context, itemID string) (*Booking, error)
	Create(ctx context.Context, req CreateRequest) (*Booking, error)
	// Update applies the changes and waits for the room to re-confirm.
	// A nil booking with nil error means the confirmation timed out.
	Update(ctx context.Context, itemID string, req UpdateRequest) (*Booking, error)
	Cancel(ctx context.Context, itemID, callerEmail string) error
}

// Config tunes the service caches.
type Config struct {
	// TTLCalendar is the calendar-view window cache TTL. Default 60s.
	TTLCalendar time.Duration
	// TTLFreeBusy is the free/busy window cache TTL. Default 60s.
	TTLFreeBusy time.Duration
	// TTLRecent is the recent-overlay TTL. Default 300s.
	TTLRecent time.Duration
}

func (c *Config) fillDefaults() {
	if c.TTLCalendar <= 0 {
		c.TTLCalendar = 60 * time.Second
	}
	if c.TTLFreeBusy <= 0 {
		c.TTLFreeBusy = 60 * time.Second
	}
	if c.TTLRecent <= 0 {
		c.TTLRecent = 300 * time.Second
	}
}

type windowKey struct {
	start int64
	end   int64
}

type service struct {
	reg     *room.Registry
	gateway exchange.Gateway
	clk     clock.Clock
	log     *zap.Logger

	ttlCalendar time.Duration
	calCache    *WindowCache
	fbCache     *WindowCache
	overlay     *RecentOverlay

	// calFlight dedups calendar-view fetches per window; one fetch covers
	// every registered room. fbFlight dedups free/busy fetches per
	// (rooms, window). cancelFlight coalesces duplicate cancels per item.
	calFlight    *singleflight.Group[windowKey, map[string][]Booking]
	fbFlight     *singleflight.Group[string, map[string][]Booking]
	cancelFlight *singleflight.Group[string, struct{}]
}

func NewService(reg *room.Registry, gw exchange.Gateway, clk clock.Clock, cfg Config, log *zap.Logger) Service {
	cfg.fillDefaults()
	return &service{
		reg:          reg,
		gateway:      gw,
		clk:          clk,
		log:          log,
		ttlCalendar:  cfg.TTLCalendar,
		calCache:     NewWindowCache(cfg.TTLCalendar, clk, "calendar"),
		fbCache:      NewWindowCache(cfg.TTLFreeBusy, clk, "freebusy"),
		overlay:      NewRecentOverlay(cfg.TTLRecent, clk),
		calFlight:    singleflight.NewGroup[windowKey, map[string][]Booking](),
		fbFlight:     singleflight.NewGroup[string, map[string][]Booking](),
		cancelFlight: singleflight.NewGroup[string, struct{}](),
	}
}

// ---- reads ----

func (s *service) BookingsForRooms(ctx context.Context, roomIDs []string, start, end time.Time) ([]Booking, error) {
	rooms := make([]*room.Room, 0, len(roomIDs))
	for _, r := range s.reg.ByIDs(roomIDs) {
		if r != nil {
			rooms = append(rooms, r)
		}
	}
	return s.fetchMerged(ctx, rooms, tz.ToMSK(start), tz.ToMSK(end))
}

func (s *service) BookingsForAllRooms(ctx context.Context, start, end time.Time, includeRed bool) ([]Booking, error) {
	all := s.reg.All(includeRed)
	rooms := make([]*room.Room, len(all))
	for i := range all {
		rooms[i] = &all[i]
	}
	return s.fetchMerged(ctx, rooms, tz.ToMSK(start), tz.ToMSK(end))
}

// fetchMerged runs the two read paths concurrently, merges the two views of
// the same truth, reconciles the recent overlay and sorts the result.
func (s *service) fetchMerged(ctx context.Context, rooms []*room.Room, start, end time.Time) ([]Booking, error) {
	if len(rooms) == 0 {
		return []Booking{}, nil
	}
	roomIDs := make([]string, len(rooms))
	for i, r := range rooms {
		roomIDs[i] = r.ID
	}

	var calendar, freeBusy map[string][]Booking
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		calendar, err = s.calendarBookings(gctx, roomIDs, start, end)
		return err
	})
	g.Go(func() error {
		var err error
		freeBusy, err = s.freeBusyBookings(gctx, rooms, start, end)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := mergeSources(calendar, freeBusy)
	merged = s.applyOverlay(merged, roomIDs)

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Start.After(merged[j].Start)
	})
	return merged, nil
}

// calendarBookings serves the calendar-view path from the window cache,
// fetching misses through the single-flight group. One backend fetch covers
// every registered room, so the whole window is cached in one shot.
func (s *service) calendarBookings(ctx context.Context, roomIDs []string, start, end time.Time) (map[string][]Booking, error) {
	hits, misses := s.calCache.GetMulti(roomIDs, start, end)
	if len(misses) == 0 {
		return hits, nil
	}

	key := windowKey{start: start.Unix(), end: end.Unix()}
	// The fetch outlives any one waiter: other callers share it and its
	// cache write must land even if this caller goes away.
	fetchCtx := context.WithoutCancel(ctx)
	fetched, err := s.calFlight.Do(ctx, key, func() (map[string][]Booking, error) {
		return s.fetchCalendarView(fetchCtx, start, end)
	}, true)
	if err != nil {
		return nil, err
	}

	for roomID := range misses {
		hits[roomID] = fetched[roomID]
	}
	return hits, nil
}

func (s *service) fetchCalendarView(ctx context.Context, start, end time.Time) (map[string][]Booking, error) {
	items, err := s.gateway.CalendarView(ctx, start, end)
	if err != nil {
		return nil, err
	}

	byRoom := make(map[string][]Booking)
	for _, r := range s.reg.All(true) {
		byRoom[r.ID] = []Booking{}
	}
	for i := range items {
		item := &items[i]
		roomID := firstRoomID(s.reg, item)
		if roomID == "" {
			// Item without a known room attendee: not ours, drop silently.
			continue
		}
		b, ok := itemToBooking(s.reg, item, roomID)
		if !ok {
			continue
		}
		byRoom[roomID] = append(byRoom[roomID], b)
	}

	s.calCache.PutMany(byRoom, start, end)
	return byRoom, nil
}

// freeBusyBookings mirrors calendarBookings for the free/busy path, fetching
// only the rooms that missed the cache.
func (s *service) freeBusyBookings(ctx context.Context, rooms []*room.Room, start, end time.Time) (map[string][]Booking, error) {
	roomIDs := make([]string, len(rooms))
	byID := make(map[string]*room.Room, len(rooms))
	for i, r := range rooms {
		roomIDs[i] = r.ID
		byID[r.ID] = r
	}

	hits, misses := s.fbCache.GetMulti(roomIDs, start, end)
	if len(misses) == 0 {
		return hits, nil
	}

	missed := make([]*room.Room, 0, len(misses))
	for roomID := range misses {
		missed = append(missed, byID[roomID])
	}
	sort.Slice(missed, func(i, j int) bool { return missed[i].ID < missed[j].ID })

	key := freeBusyKey(missed, start, end)
	fetchCtx := context.WithoutCancel(ctx)
	fetched, err := s.fbFlight.Do(ctx, key, func() (map[string][]Booking, error) {
		return s.fetchFreeBusy(fetchCtx, missed, start, end)
	}, true)
	if err != nil {
		return nil, err
	}

	for roomID := range misses {
		hits[roomID] = fetched[roomID]
	}
	return hits, nil
}

func freeBusyKey(rooms []*room.Room, start, end time.Time) string {
	var sb strings.Builder
	for _, r := range rooms {
		sb.WriteString(r.ID)
		sb.WriteByte(',')
	}
	fmt.Fprintf(&sb, "%d-%d", start.Unix(), end.Unix())
	return sb.String()
}

func (s *service) fetchFreeBusy(ctx context.Context, rooms []*room.Room, start, end time.Time) (map[string][]Booking, error) {
	emails := make([]string, len(rooms))
	for i, r := range rooms {
		emails[i] = r.ResourceEmail
	}
	events, err := s.gateway.FreeBusy(ctx, emails, start, end)
	if err != nil {
		return nil, err
	}

	byRoom := make(map[string][]Booking, len(rooms))
	for _, r := range rooms {
		bookings := []Booking{}
		for _, ev := range events[r.ResourceEmail] {
			bookings = append(bookings, eventToBooking(r, ev))
		}
		byRoom[r.ID] = bookings
	}

	s.fbCache.PutMany(byRoom, start, end)
	return byRoom, nil
}

// mergeSources reconciles the calendar view (richer: attendees, item ids)
// with the free/busy view (catches items the service account did not
// organize). At each (room, start, end) key: a single entry wins outright, a
// populated calendar side contributes its first entry, otherwise the
// free/busy entries pass through.
func mergeSources(calendar, freeBusy map[string][]Booking) []Booking {
	type mergeKey struct {
		roomID     string
		start, end int64
	}
	keyOf := func(b *Booking) mergeKey {
		return mergeKey{roomID: b.RoomID, start: b.Start.Unix(), end: b.End.Unix()}
	}

	calReg := make(map[mergeKey][]Booking)
	for _, bookings := range calendar {
		for _, b := range bookings {
			calReg[keyOf(&b)] = append(calReg[keyOf(&b)], b)
		}
	}
	fbReg := make(map[mergeKey][]Booking)
	for _, bookings := range freeBusy {
		for _, b := range bookings {
			fbReg[keyOf(&b)] = append(fbReg[keyOf(&b)], b)
		}
	}

	keys := make(map[mergeKey]struct{}, len(calReg)+len(fbReg))
	for k := range calReg {
		keys[k] = struct{}{}
	}
	for k := range fbReg {
		keys[k] = struct{}{}
	}

	var out []Booking
	for k := range keys {
		ac := calReg[k]
		bi := fbReg[k]
		switch {
		case len(ac)+len(bi) == 1:
			out = append(out, ac...)
			out = append(out, bi...)
		case len(ac) > 0:
			out = append(out, ac[0])
		default:
			out = append(out, bi...)
		}
	}
	return out
}

// applyOverlay reconciles recent mutations into a fetched result set:
// canceled items disappear, updated items are replaced while the calendar
// cache may still be stale, and created items not yet visible on the
// backend are appended.
func (s *service) applyOverlay(bookings []Booking, roomIDs []string) []Booking {
	canceled := s.overlay.Canceled()
	created := s.overlay.Created()

	requested := make(map[string]struct{}, len(roomIDs))
	for _, id := range roomIDs {
		requested[id] = struct{}{}
	}

	now := s.clk.Now()
	seen := make(map[string]struct{})
	out := make([]Booking, 0, len(bookings))
	for _, b := range bookings {
		if b.OutlookID != "" {
			if _, ok := canceled[b.OutlookID]; ok {
				continue
			}
			seen[b.OutlookID] = struct{}{}
			if upd, ts, ok := s.overlay.UpdatedEntry(b.OutlookID); ok && now.Sub(ts) < s.ttlCalendar {
				// The fetch may predate the update; trust the overlay until
				// one calendar TTL has passed.
				out = append(out, upd)
				continue
			}
		}
		out = append(out, b)
	}

	for id, b := range created {
		if _, ok := seen[id]; ok {
			// The backend already shows it; the fetched version wins.
			continue
		}
		if _, ok := canceled[id]; ok {
			continue
		}
		if _, ok := requested[b.RoomID]; !ok {
			continue
		}
		out = append(out, b)
	}
	return out
}

// UserBookings serves the calendar-view path only: free/busy events carry no
// attendees, so participation cannot be decided there.
func (s *service) UserBookings(ctx context.Context, userEmail string, start, end time.Time) ([]Booking, error) {
	all := s.reg.All(false)
	roomIDs := make([]string, len(all))
	for i := range all {
		roomIDs[i] = all[i].ID
	}

	byRoom, err := s.calendarBookings(ctx, roomIDs, tz.ToMSK(start), tz.ToMSK(end))
	if err != nil {
		return nil, err
	}

	canceled := s.overlay.Canceled()
	var out []Booking
	for _, bookings := range byRoom {
		for _, b := range bookings {
			if b.OutlookID != "" {
				if _, ok := canceled[b.OutlookID]; ok {
					continue
				}
			}
			if userParticipates(&b, userEmail) {
				out = append(out, b)
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Start.After(out[j].Start)
	})
	return out, nil
}

// userParticipates requires the user as a non-declined attendee and every
// room attendee to be non-declined.
func userParticipates(b *Booking, userEmail string) bool {
	userOK := false
	for _, a := range b.Attendees {
		if a.AssociatedRoomID != "" && a.Status == StatusDecline {
			return false
		}
		if a.Email == userEmail && a.Status != StatusDecline {
			userOK = true
		}
	}
	return userOK
}

// ---- mutations ----

func (s *service) Get(ctx context.Context, itemID string) (*Booking, error) {
	item, err := s.gateway.GetItem(ctx, itemID)
	if errors.Is(err, exchange.ErrItemNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	roomID := firstRoomID(s.reg, item)
	if roomID == "" {
		return nil, apperror.New(http.StatusNotFound, "room attendee not found in booking attendees")
	}
	b, ok := itemToBooking(s.reg, item, roomID)
	if !ok {
		return nil, apperror.New(http.StatusNotFound, "room attendee not found in booking attendees")
	}
	return &b, nil
}

func rolesLabel(r policy.Roles) string {
	var roles []string
	if r.IsStaff {
		roles = append(roles, "staff")
	}
	if r.IsStudent {
		roles = append(roles, "student")
	}
	if r.IsCollege {
		roles = append(roles, "college")
	}
	if len(roles) == 0 {
		return "none"
	}
	return strings.Join(roles, ", ")
}

func (s *service) Create(ctx context.Context, req CreateRequest) (*Booking, error) {
	rm := s.reg.ByID(req.RoomID)
	if rm == nil {
		return nil, ErrRoomNotFound
	}

	allow, reason := policy.CanBook(policy.Request{
		Roles:        req.Roles,
		Room:         rm,
		Start:        req.Start,
		End:          req.End,
		Now:          s.clk.Now(),
		InAccessList: s.reg.UserHasAccess(req.OrganizerEmail, rm.ID),
	})
	if !allow {
		return nil, apperror.New(http.StatusForbidden, reason)
	}

	start := tz.ToMSK(req.Start)
	end := tz.ToMSK(req.End)
	itemID, err := s.gateway.CreateItem(ctx, exchange.CreateItemParams{
		Start:   start,
		End:     end,
		Subject: req.Title,
		Body: fmt.Sprintf("Booking on request from %s\nOrganizer roles: %s\nProvider: %s",
			req.OrganizerEmail, rolesLabel(req.Roles), ProviderURL),
		// The email in parentheses is parsed back out of free/busy event
		// locations; keep the format in sync with the location regex.
		Location:  fmt.Sprintf("%s (%s)", rm.Title, req.OrganizerEmail),
		Resources: []string{rm.ResourceEmail},
		RequiredAttendees: append(
			[]string{rm.ResourceEmail, req.OrganizerEmail},
			req.ParticipantEmails...),
	})
	if err != nil {
		return nil, err
	}

	return s.confirmCreate(ctx, itemID, rm, req, start, end)
}

// confirmCreate polls until the room resource responds. The backend is
// eventually consistent with respect to resource responses, so a single
// fetch is not enough.
func (s *service) confirmCreate(ctx context.Context, itemID string, rm *room.Room, req CreateRequest, start, end time.Time) (*Booking, error) {
	if err := s.clk.Sleep(ctx, confirmInitDelay); err != nil {
		return nil, err
	}

	var last *Booking
	for try := 0; try < confirmTries; try++ {
		if try > 0 {
			if err := s.clk.Sleep(ctx, confirmDelay); err != nil {
				return nil, err
			}
		}

		item, err := s.gateway.GetItem(ctx, itemID)
		if errors.Is(err, exchange.ErrItemNotFound) {
			if s.overlay.IsCanceled(itemID) {
				return nil, ErrDeclinedByRoom
			}
			return nil, ErrNotFound
		}
		if err != nil {
			return nil, err
		}

		idx := exchange.AttendeeIndex(item)
		roomAttendee, ok := idx[rm.ResourceEmail]
		if !ok {
			s.log.Warn("created item has no room attendee",
				zap.String("item_id", itemID), zap.String("room_id", rm.ID))
			return nil, ErrNotFound
		}

		if roomAttendee.ResponseType == exchange.ResponseDecline {
			body := fmt.Sprintf("Canceled by %s\nProvider: %s", rm.ResourceEmail, ProviderURL)
			if err := s.gateway.CancelItem(ctx, itemID, body); err != nil {
				s.log.Warn("failed to cancel declined item", zap.String("item_id", itemID), zap.Error(err))
			}
			s.overlay.MarkCanceled(itemID)
			return nil, ErrDeclinedByRoom
		}

		if b, ok := itemToBooking(s.reg, item, rm.ID); ok {
			last = &b
		}

		if roomAttendee.LastResponseTime != nil {
			if last == nil {
				break
			}
			s.overlay.MarkCreated(itemID, *last)
			s.calCache.AddBooking(*last)
			return last, nil
		}
	}

	// Confirmation timed out; trust the create and let the overlay carry it.
	if last == nil {
		last = &Booking{
			RoomID:    rm.ID,
			Title:     req.Title,
			Start:     start,
			End:       end,
			OutlookID: itemID,
		}
	}
	s.overlay.MarkCreated(itemID, *last)
	s.calCache.AddBooking(*last)
	return last, nil
}

func (s *service) Update(ctx context.Context, itemID string, req UpdateRequest) (*Booking, error) {
	item, err := s.gateway.GetItem(ctx, itemID)
	if errors.Is(err, exchange.ErrItemNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	idx := exchange.AttendeeIndex(item)
	if _, ok := idx[req.CallerEmail]; !ok {
		return nil, ErrNotParticipant
	}
	roomID := firstRoomID(s.reg, item)
	if roomID == "" {
		return nil, apperror.New(http.StatusBadRequest, "booking has no room attendee")
	}
	rm := s.reg.ByID(roomID)

	newStart := item.Start
	newEnd := item.End
	if req.Start != nil {
		newStart = *req.Start
	}
	if req.End != nil {
		newEnd = *req.End
	}
	allow, reason := policy.CanBook(policy.Request{
		Roles:        req.Roles,
		Room:         rm,
		Start:        newStart,
		End:          newEnd,
		Now:          s.clk.Now(),
		InAccessList: s.reg.UserHasAccess(req.CallerEmail, rm.ID),
		IsUpdate:     true,
	})
	if !allow {
		return nil, apperror.New(http.StatusForbidden, reason)
	}

	oldResponse := idx[rm.ResourceEmail].LastResponseTime

	fields := exchange.UpdateItemFields{Subject: req.Title}
	if req.Start != nil {
		t := tz.ToMSK(*req.Start)
		fields.Start = &t
	}
	if req.End != nil {
		t := tz.ToMSK(*req.End)
		fields.End = &t
	}
	if err := s.gateway.UpdateItem(ctx, itemID, fields); err != nil {
		return nil, err
	}

	return s.confirmUpdate(ctx, itemID, rm, oldResponse)
}

// confirmUpdate waits for the room resource to re-respond to the moved item:
// its last response time changing is the only confirmation signal.
func (s *service) confirmUpdate(ctx context.Context, itemID string, rm *room.Room, oldResponse *time.Time) (*Booking, error) {
	if err := s.clk.Sleep(ctx, confirmInitDelay); err != nil {
		return nil, err
	}

	for try := 0; try < confirmTries; try++ {
		if err := s.clk.Sleep(ctx, confirmDelay); err != nil {
			return nil, err
		}

		item, err := s.gateway.GetItem(ctx, itemID)
		if errors.Is(err, exchange.ErrItemNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}

		roomAttendee, ok := exchange.AttendeeIndex(item)[rm.ResourceEmail]
		if !ok {
			continue
		}
		if !responseChanged(oldResponse, roomAttendee.LastResponseTime) {
			continue
		}

		b, ok := itemToBooking(s.reg, item, rm.ID)
		if !ok {
			return nil, ErrDeclinedByRoom
		}
		s.overlay.MarkUpdated(itemID, b)
		s.calCache.RemoveBooking(Booking{OutlookID: itemID})
		s.calCache.AddBooking(b)
		return &b, nil
	}

	// Timed out: the caller gets a null booking and may poll the read path.
	return nil, nil
}

func responseChanged(old, current *time.Time) bool {
	if old == nil || current == nil {
		return old != current
	}
	return !old.Equal(*current)
}

func (s *service) Cancel(ctx context.Context, itemID, callerEmail string) error {
	if s.overlay.IsCanceled(itemID) {
		return nil
	}

	item, err := s.gateway.GetItem(ctx, itemID)
	if errors.Is(err, exchange.ErrItemNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if _, ok := exchange.AttendeeIndex(item)[callerEmail]; !ok {
		return ErrNotParticipant
	}

	cancelCtx := context.WithoutCancel(ctx)
	_, err = s.cancelFlight.Do(ctx, itemID, func() (struct{}, error) {
		if s.overlay.IsCanceled(itemID) {
			return struct{}{}, nil
		}
		body := fmt.Sprintf("Canceled by %s\nProvider: %s", callerEmail, ProviderURL)
		if err := s.gateway.CancelItem(cancelCtx, itemID, body); err != nil {
			return struct{}{}, err
		}
		s.overlay.MarkCanceled(itemID)

		if roomID := firstRoomID(s.reg, item); roomID != "" {
			if b, ok := itemToBooking(s.reg, item, roomID); ok {
				s.calCache.RemoveBooking(b)
				// The free/busy twin has no item id; strip it by interval.
				s.fbCache.RemoveBooking(Booking{RoomID: b.RoomID, Start: b.Start, End: b.End})
			}
		}
		return struct{}{}, nil
	}, true)
	return err
}

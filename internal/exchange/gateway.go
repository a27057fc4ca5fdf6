// Package exchange defines the abstract client for the EWS backend. The wire
// protocol lives behind the Gateway interface; the rest of the system only
// sees calendar items, free/busy events and opaque item ids.
package exchange

import (
	"context"
	"errors"
	"time"
)

// ErrItemNotFound reports that a calendar item id does not resolve on the
// backend (deleted, declined-and-removed, or never propagated).
var ErrItemNotFound = errors.New("exchange: item not found")

// ResponseType is a meeting attendee's response as reported by the backend.
type ResponseType string

const (
	ResponseAccept    ResponseType = "Accept"
	ResponseTentative ResponseType = "Tentative"
	ResponseDecline   ResponseType = "Decline"
	ResponseUnknown   ResponseType = "Unknown"
)

// Attendee is a required attendee on a calendar item. LastResponseTime is nil
// until the attendee (for rooms: the resource mailbox auto-responder) has
// answered the invitation.
type Attendee struct {
	Email            string
	ResponseType     ResponseType
	LastResponseTime *time.Time
}

// Item is a calendar item from the service account's calendar view.
type Item struct {
	ID                string
	Subject           string
	Start             time.Time
	End               time.Time
	RequiredAttendees []Attendee
}

// Event is one busy interval from a resource mailbox's free/busy view.
// There is no attendee list; subject and location may be empty.
type Event struct {
	Start    time.Time
	End      time.Time
	Subject  string
	Location string
}

// CreateItemParams are the fields of a new calendar item.
type CreateItemParams struct {
	Start             time.Time
	End               time.Time
	Subject           string
	Body              string
	Location          string
	Resources         []string
	RequiredAttendees []string
}

// UpdateItemFields are the mutable fields of an item; nil means unchanged.
// Saves use send-to-all semantics so the room resource re-evaluates.
type UpdateItemFields struct {
	Start   *time.Time
	End     *time.Time
	Subject *string
}

// Subscription identifies a push subscription on the backend.
type Subscription struct {
	ID        string
	Watermark string
}

// Gateway is the abstract EWS client. Calls may be slow and may fail; all of
// them honor ctx cancellation and deadlines.
type Gateway interface {
	// CalendarView lists the service account's calendar items in [start, end).
	CalendarView(ctx context.Context, start, end time.Time) ([]Item, error)
	// FreeBusy returns busy intervals per resource mailbox for [start, end).
	FreeBusy(ctx context.Context, emails []string, start, end time.Time) (map[string][]Event, error)
	CreateItem(ctx context.Context, p CreateItemParams) (string, error)
	// GetItem returns ErrItemNotFound when the id does not resolve.
	GetItem(ctx context.Context, id string) (*Item, error)
	UpdateItem(ctx context.Context, id string, fields UpdateItemFields) error
	CancelItem(ctx context.Context, id, body string) error
	PushSubscribe(ctx context.Context, callbackURL string, eventTypes []string) (Subscription, error)
}

// AttendeeIndex maps attendee emails to attendees for one item.
func AttendeeIndex(item *Item) map[string]Attendee {
	idx := make(map[string]Attendee, len(item.RequiredAttendees))
	for _, a := range item.RequiredAttendees {
		if a.Email != "" {
			idx[a.Email] = a
		}
	}
	return idx
}

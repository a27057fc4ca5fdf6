package room

import "fmt"

// Registry is the static table of rooms and per-room access lists.
// It is built once at startup from config and never mutated afterwards,
// so lookups need no locking.
type Registry struct {
	rooms       []Room
	byID        map[string]*Room
	byEmail     map[string]*Room
	accessLists map[string][]AccessGrant
	// user email -> room id -> grant
	grantsByEmail map[string]map[string]AccessGrant
}

// NewRegistry validates the access lists against the room table and builds
// the lookup indexes. A grant referencing an unknown room is a config error.
func NewRegistry(rooms []Room, accessLists map[string][]AccessGrant) (*Registry, error) {
	r := &Registry{
		rooms:         rooms,
		byID:          make(map[string]*Room, len(rooms)),
		byEmail:       make(map[string]*Room, len(rooms)),
		accessLists:   accessLists,
		grantsByEmail: make(map[string]map[string]AccessGrant),
	}
	for i := range rooms {
		r.byID[rooms[i].ID] = &rooms[i]
		r.byEmail[rooms[i].ResourceEmail] = &rooms[i]
	}
	for roomID, grants := range accessLists {
		if _, ok := r.byID[roomID]; !ok {
			return nil, fmt.Errorf("access list references unknown room %q", roomID)
		}
		for _, g := range grants {
			byRoom, ok := r.grantsByEmail[g.Email]
			if !ok {
				byRoom = make(map[string]AccessGrant)
				r.grantsByEmail[g.Email] = byRoom
			}
			g.RoomID = roomID
			byRoom[roomID] = g
		}
	}
	return r, nil
}

// All returns every room, excluding red-access rooms unless includeRed is set.
func (r *Registry) All(includeRed bool) []Room {
	out := make([]Room, 0, len(r.rooms))
	for _, room := range r.rooms {
		if room.AccessLevel == AccessRed && !includeRed {
			continue
		}
		out = append(out, room)
	}
	return out
}

// ByID returns the room with the given id, or nil.
func (r *Registry) ByID(id string) *Room {
	return r.byID[id]
}

// ByIDs resolves ids preserving order; unknown ids yield nil entries.
func (r *Registry) ByIDs(ids []string) []*Room {
	out := make([]*Room, len(ids))
	for i, id := range ids {
		out[i] = r.byID[id]
	}
	return out
}

// ByEmail returns the room whose resource mailbox is email, or nil.
func (r *Registry) ByEmail(email string) *Room {
	return r.byEmail[email]
}

// GrantsForUser returns the user's grants keyed by room id.
func (r *Registry) GrantsForUser(email string) map[string]AccessGrant {
	return r.grantsByEmail[email]
}

// GrantsForRoom returns the room's access list.
func (r *Registry) GrantsForRoom(roomID string) []AccessGrant {
	return r.accessLists[roomID]
}

// UserHasAccess reports whether the user is on the room's access list.
func (r *Registry) UserHasAccess(email, roomID string) bool {
	_, ok := r.grantsByEmail[email][roomID]
	return ok
}

package room

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRooms() []Room {
	return []Room{
		{ID: "101", Title: "Meeting room 101", ResourceEmail: "101@innopolis.university", AccessLevel: AccessYellow},
		{ID: "313", Title: "Lecture room 313", ResourceEmail: "313@innopolis.university", AccessLevel: AccessYellow, RestrictDaytime: true},
		{ID: "vault", Title: "Vault", ResourceEmail: "vault@innopolis.university", AccessLevel: AccessRed},
	}
}

func TestNewRegistryRejectsUnknownRoomInAccessList(t *testing.T) {
	_, err := NewRegistry(testRooms(), map[string][]AccessGrant{
		"no-such-room": {{Email: "u@innopolis.university"}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no-such-room")
}

func TestRegistryLookups(t *testing.T) {
	reg, err := NewRegistry(testRooms(), map[string][]AccessGrant{
		"101": {{Email: "u@innopolis.university", Reason: "club lead"}},
	})
	require.NoError(t, err)

	t.Run("ByID", func(t *testing.T) {
		require.NotNil(t, reg.ByID("101"))
		assert.Equal(t, "Meeting room 101", reg.ByID("101").Title)
		assert.Nil(t, reg.ByID("999"))
	})

	t.Run("ByIDs preserves order and nils unknown", func(t *testing.T) {
		got := reg.ByIDs([]string{"313", "nope", "101"})
		require.Len(t, got, 3)
		assert.Equal(t, "313", got[0].ID)
		assert.Nil(t, got[1])
		assert.Equal(t, "101", got[2].ID)
	})

	t.Run("ByEmail", func(t *testing.T) {
		require.NotNil(t, reg.ByEmail("313@innopolis.university"))
		assert.Equal(t, "313", reg.ByEmail("313@innopolis.university").ID)
		assert.Nil(t, reg.ByEmail("u@innopolis.university"))
	})

	t.Run("All excludes red by default", func(t *testing.T) {
		assert.Len(t, reg.All(false), 2)
		assert.Len(t, reg.All(true), 3)
	})

	t.Run("access list", func(t *testing.T) {
		assert.True(t, reg.UserHasAccess("u@innopolis.university", "101"))
		assert.False(t, reg.UserHasAccess("u@innopolis.university", "313"))
		assert.False(t, reg.UserHasAccess("stranger@innopolis.university", "101"))

		grants := reg.GrantsForUser("u@innopolis.university")
		require.Len(t, grants, 1)
		assert.Equal(t, "club lead", grants["101"].Reason)
		assert.Equal(t, "101", grants["101"].RoomID)
	})
}

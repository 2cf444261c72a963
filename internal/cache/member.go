package cache

import (
	"time"

	"github.com/gearbot/GearBot-2/internal/snowflake"
)

// Member is guild-scoped and holds a shared reference to a User. Updates to
// the underlying user propagate by replacement: Member.User is swapped to
// point at whatever object is currently reachable from the global user map
// under that user's id, it is never mutated in place.
type Member struct {
	User        *User
	Nick        string
	Avatar      string
	Roles       []snowflake.ID
	JoinedAt    time.Time
	Pending     bool
	CommDisabledUntil *time.Time
}

// Clone returns a shallow copy of the member with its own Roles slice, so
// callers exposed to it cannot mutate cache-owned state through the slice
// header. The User pointer is intentionally shared: cloning a Member does
// not clone the User it observes.
func (m *Member) Clone() *Member {
	cp := *m
	if m.Roles != nil {
		cp.Roles = append([]snowflake.ID(nil), m.Roles...)
	}
	return &cp
}

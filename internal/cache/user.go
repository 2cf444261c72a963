package cache

import (
	"sync/atomic"

	"github.com/gearbot/GearBot-2/internal/snowflake"
)

// MaxMutualGuilds is the external saturation constraint on the mutual-guild
// counter: Discord does not let a single bot session report more mutual
// guilds for a user than fit in a byte, and we saturate well under that.
const MaxMutualGuilds = 200

// User is process-wide and shared by every guild that can currently see it.
// Updates propagate by replacing the User a Member points to, never by
// mutating fields on a User reachable from another goroutine.
type User struct {
	ID            snowflake.ID
	Username      string
	Discriminator string
	Avatar        string
	Bot           bool
	PublicFlags   uint32

	// mutualGuilds is the number of guilds in the cache whose member map
	// contains this user. It is the sole purge trigger: a User is present
	// in the global user map iff this is >= 1.
	mutualGuilds uint32
}

// MutualGuilds returns the current mutual-guild counter.
func (u *User) MutualGuilds() uint32 {
	return atomic.LoadUint32(&u.mutualGuilds)
}

// incrMutual increments the counter by one, saturating at MaxMutualGuilds.
func (u *User) incrMutual() {
	for {
		cur := atomic.LoadUint32(&u.mutualGuilds)
		if cur >= MaxMutualGuilds {
			return
		}
		if atomic.CompareAndSwapUint32(&u.mutualGuilds, cur, cur+1) {
			return
		}
	}
}

// decrMutual decrements the counter by one, and reports whether it reached
// zero. A saturating decrement on an already-zero counter never wraps.
func (u *User) decrMutual() (reachedZero bool) {
	for {
		cur := atomic.LoadUint32(&u.mutualGuilds)
		if cur == 0 {
			return true
		}
		next := cur - 1
		if atomic.CompareAndSwapUint32(&u.mutualGuilds, cur, next) {
			return next == 0
		}
	}
}

// Clone returns a shallow copy suitable for exposing to callers that must
// not be able to mutate the cache's shared User through field writes.
func (u *User) Clone() User {
	cp := *u
	cp.mutualGuilds = u.MutualGuilds()
	return cp
}

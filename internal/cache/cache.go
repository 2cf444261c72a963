// Package cache implements the concurrent in-memory mirror of the remote
// service's guild tree: guilds, channels, roles, members, users and voice
// states, with the mutual-guild reference-counting invariant from spec §3
// and §4.A.
package cache

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/gearbot/GearBot-2/internal/snowflake"
)

// MetricsSink receives cache-state and population deltas. It is satisfied
// by *metrics.Registry; the interface lives here so this package does not
// have to import metrics, mirroring how the teacher's State never imported
// its producer's wire-format package.
type MetricsSink interface {
	SetGuildState(shard int, guildID snowflake.ID, old, new State)
	ClearGuildState(shard int, guildID snowflake.ID, state State)
	SetMembers(delta int)
	SetUsers(delta int)
}

type noopSink struct{}

func (noopSink) SetGuildState(int, snowflake.ID, State, State) {}
func (noopSink) ClearGuildState(int, snowflake.ID, State)      {}
func (noopSink) SetMembers(int)                                {}
func (noopSink) SetUsers(int)                                  {}

// Cache is the top-level, process-wide mirror. It owns exactly one guild
// map, one user map and one unavailable-guild list, each behind its own
// reader-writer lock held only for the duration of a single map operation.
type Cache struct {
	log     zerolog.Logger
	metrics MetricsSink

	guildsMu sync.RWMutex
	guilds   map[snowflake.ID]*Guild

	usersMu sync.RWMutex
	users   map[snowflake.ID]*User

	unavailableMu sync.RWMutex
	unavailable   map[snowflake.ID]struct{}
}

// New constructs an empty Cache. Pass nil for metrics to disable metric
// updates (used by tests).
func New(log zerolog.Logger, metrics MetricsSink) *Cache {
	if metrics == nil {
		metrics = noopSink{}
	}
	return &Cache{
		log:         log,
		metrics:     metrics,
		guilds:      make(map[snowflake.ID]*Guild),
		users:       make(map[snowflake.ID]*User),
		unavailable: make(map[snowflake.ID]struct{}),
	}
}

// NewGuildPayload is the data insert_guild needs: summary metadata plus the
// members/channels/roles to seed the new Guild with. This is the cache's
// boundary type — the dispatcher translates gateway payloads into this
// shape before calling Cache methods, so the cache package never needs to
// know about the gateway wire format.
type NewGuildPayload struct {
	Meta     GuildMeta
	Roles    []*Role
	Channels []*Channel
	Members  []MemberSeed
	Emoji    []snowflake.ID
}

// MemberSeed is one member entry inside a NewGuildPayload: enough of a user
// plus guild-scoped fields to build a Member and (if new) a User.
type MemberSeed struct {
	User     User
	Nick     string
	Avatar   string
	Roles    []snowflake.ID
	JoinedAt time.Time
}

// Guild looks up a guild by id.
func (c *Cache) Guild(id snowflake.ID) (*Guild, bool) {
	c.guildsMu.RLock()
	defer c.guildsMu.RUnlock()
	g, ok := c.guilds[id]
	return g, ok
}

// Guilds returns a snapshot slice of every cached guild.
func (c *Cache) Guilds() []*Guild {
	c.guildsMu.RLock()
	defer c.guildsMu.RUnlock()
	out := make([]*Guild, 0, len(c.guilds))
	for _, g := range c.guilds {
		out = append(out, g)
	}
	return out
}

// User looks up a user by id in the global user map.
func (c *Cache) User(id snowflake.ID) (*User, bool) {
	c.usersMu.RLock()
	defer c.usersMu.RUnlock()
	u, ok := c.users[id]
	return u, ok
}

// UserCount returns the number of distinct users currently referenced by
// at least one cached member.
func (c *Cache) UserCount() int {
	c.usersMu.RLock()
	defer c.usersMu.RUnlock()
	return len(c.users)
}

// IsUnavailable reports whether a guild id is currently on the
// unavailable list.
func (c *Cache) IsUnavailable(id snowflake.ID) bool {
	c.unavailableMu.RLock()
	defer c.unavailableMu.RUnlock()
	_, ok := c.unavailable[id]
	return ok
}

// InsertGuild implements insert_guild(shard, guild_id, new): removes the
// guild from the unavailable list if present, swaps it into the guild map,
// and runs cleanup on any old guild's members. The new guild starts in
// state Created.
func (c *Cache) InsertGuild(shard int, id snowflake.ID, payload NewGuildPayload) *Guild {
	c.unavailableMu.Lock()
	delete(c.unavailable, id)
	c.unavailableMu.Unlock()

	g := newGuild(id, payload.Meta)
	for _, r := range payload.Roles {
		g.roles[r.ID] = r
	}
	for _, ch := range payload.Channels {
		g.channels[ch.ID] = ch
	}
	for _, e := range payload.Emoji {
		g.emoji[e] = struct{}{}
	}

	c.guildsMu.Lock()
	old, existed := c.guilds[id]
	c.guilds[id] = g
	c.guildsMu.Unlock()

	if existed {
		c.cleanupGuildMembers(shard, old)
	}

	inserted := 0
	if len(payload.Members) > 0 {
		inserted = c.ingestMembers(g, payload.Members)
	}

	c.metrics.SetGuildState(shard, id, old.safeState(), StateCreated)
	c.log.Debug().
		Uint64("guild_id", uint64(id)).
		Bool("replaced_existing", existed).
		Int("seed_members", len(payload.Members)).
		Int("new_users", inserted).
		Msg("guild inserted")
	return g
}

// ingestMembers implements the bulk-chunk ingestion path shared by
// insert_guild's seed members and MemberChunk handling (§4.C): each member
// is looked up globally, attached to an existing user if found, or a new
// user is synthesized and batch-inserted. It returns the count of users
// newly inserted into the global map.
func (c *Cache) ingestMembers(g *Guild, seeds []MemberSeed) int {
	g.membersMu.Lock()
	defer g.membersMu.Unlock()

	c.usersMu.Lock()
	defer c.usersMu.Unlock()

	inserted := 0
	for _, s := range seeds {
		u, ok := c.users[s.User.ID]
		if !ok {
			u = &User{
				ID:            s.User.ID,
				Username:      s.User.Username,
				Discriminator: s.User.Discriminator,
				Avatar:        s.User.Avatar,
				Bot:           s.User.Bot,
				PublicFlags:   s.User.PublicFlags,
			}
			c.users[s.User.ID] = u
			inserted++
		}
		u.incrMutual()
		g.members[s.User.ID] = &Member{
			User:     u,
			Nick:     s.Nick,
			Avatar:   s.Avatar,
			Roles:    s.Roles,
			JoinedAt: s.JoinedAt,
		}
	}

	if inserted > 0 {
		c.metrics.SetUsers(inserted)
	}
	c.metrics.SetMembers(len(seeds))
	return inserted
}

// safeState returns StateCreated's zero-ish sentinel for a possibly-nil
// previous guild, used only so InsertGuild can report a transition even
// when there was no prior guild to transition from.
func (g *Guild) safeState() State {
	if g == nil {
		return StateCreated
	}
	return g.State()
}

// UpdateGuild implements update_guild(guild_id, partial): it replaces the
// cached guild's metadata in place under its metadata lock, so the
// existing channels/members/voice-states/cache-state stay on the same
// *Guild untouched and no new guild value is constructed. Returns false if
// the guild is not cached.
func (c *Cache) UpdateGuild(id snowflake.ID, meta GuildMeta) (*Guild, bool) {
	c.guildsMu.RLock()
	g, ok := c.guilds[id]
	c.guildsMu.RUnlock()
	if !ok {
		return nil, false
	}
	g.setMeta(meta)
	return g, true
}

// RemoveGuild implements remove_guild(shard, guild_id, unavailable):
// removes the guild and runs cleanup; if unavailable is true the guild id
// is appended to the unavailable list instead of being dropped outright.
func (c *Cache) RemoveGuild(shard int, id snowflake.ID, unavailable bool) {
	c.guildsMu.Lock()
	g, ok := c.guilds[id]
	if ok {
		delete(c.guilds, id)
	}
	c.guildsMu.Unlock()

	if !ok {
		if unavailable {
			c.unavailableMu.Lock()
			c.unavailable[id] = struct{}{}
			c.unavailableMu.Unlock()
		}
		return
	}

	oldState := g.State()
	c.cleanupGuildMembers(shard, g)

	if unavailable {
		c.unavailableMu.Lock()
		c.unavailable[id] = struct{}{}
		c.unavailableMu.Unlock()
		c.metrics.SetGuildState(shard, id, oldState, StateUnavailable)
	} else {
		c.metrics.ClearGuildState(shard, id, oldState)
	}
}

// cleanupGuildMembers decrements the mutual-guild counter for every member
// of a removed/replaced guild, purging any user whose counter reaches
// zero. The members read lock is released before the users write lock is
// taken, per spec §4.A's lock-ordering rule, to avoid a lock-order
// inversion against the member-ingest paths (which take members-write
// then observe the global user map).
func (c *Cache) cleanupGuildMembers(shard int, g *Guild) {
	g.membersMu.RLock()
	ids := make([]snowflake.ID, 0, len(g.members))
	for uid := range g.members {
		ids = append(ids, uid)
	}
	g.membersMu.RUnlock()

	purged := 0
	for _, uid := range ids {
		c.usersMu.Lock()
		u, ok := c.users[uid]
		if ok && u.decrMutual() {
			delete(c.users, uid)
			purged++
		}
		c.usersMu.Unlock()
	}

	if purged > 0 {
		c.metrics.SetUsers(-purged)
	}
	c.metrics.SetMembers(-len(ids))
}

// AddMember implements the single-add member-ingestion path used by
// MemberAdd: the mutual-guild counter is incremented before the member
// lands in the guild's map, and a previously-absent user is created. A
// member already present in the guild is replaced without a second
// increment, so the counter keeps counting guilds, not adds. The
// increment happens-before the map insert, and both happen under the
// guild's members write-lock, so a concurrent purge for the same user
// cannot race a concurrent add for that guild (spec §4.A "Ordering &
// tie-breaks").
func (c *Cache) AddMember(g *Guild, seedUser User, nick, avatar string, roles []snowflake.ID, joinedAt time.Time) *Member {
	g.membersMu.Lock()
	defer g.membersMu.Unlock()

	u := c.getOrCreateUser(seedUser)
	_, alreadyMember := g.members[seedUser.ID]
	if !alreadyMember {
		u.incrMutual()
	}

	m := &Member{
		User:     u,
		Nick:     nick,
		Avatar:   avatar,
		Roles:    roles,
		JoinedAt: joinedAt,
	}
	g.members[seedUser.ID] = m
	if !alreadyMember {
		c.metrics.SetMembers(1)
	}
	return m
}

// RemoveMember implements the MemberRemove path: decrements the mutual-
// guild counter and purges the user if it reaches zero. Returns false if
// the member was not present, which callers use to decide whether to log
// the benign cached/uncached race warned about in spec §4.E.
func (c *Cache) RemoveMember(g *Guild, userID snowflake.ID) bool {
	g.membersMu.Lock()
	_, ok := g.members[userID]
	if ok {
		delete(g.members, userID)
	}
	g.membersMu.Unlock()

	if !ok {
		return false
	}

	c.usersMu.Lock()
	u, uok := c.users[userID]
	purged := false
	if uok && u.decrMutual() {
		delete(c.users, userID)
		purged = true
	}
	c.usersMu.Unlock()

	c.metrics.SetMembers(-1)
	if purged {
		c.metrics.SetUsers(-1)
	}
	return true
}

// ReplaceMember swaps in a new Member object wholesale, used by
// MemberUpdate when the member's own fields (not the embedded user)
// changed. It does not touch the mutual-guild counter.
func (c *Cache) ReplaceMember(g *Guild, m *Member) {
	g.membersMu.Lock()
	defer g.membersMu.Unlock()
	g.members[m.User.ID] = m
}

// PropagateUserUpdate replaces the shared User object in the global user
// map and in every guild member that currently points at the old user,
// per the MemberUpdate "embedded user changed" rule in spec §4.E. The new
// User retains the old one's mutual-guild counter.
func (c *Cache) PropagateUserUpdate(updated User) *User {
	c.usersMu.Lock()
	old, existed := c.users[updated.ID]
	next := &User{
		ID:            updated.ID,
		Username:      updated.Username,
		Discriminator: updated.Discriminator,
		Avatar:        updated.Avatar,
		Bot:           updated.Bot,
		PublicFlags:   updated.PublicFlags,
	}
	if existed {
		next.mutualGuilds = old.MutualGuilds()
	}
	c.users[updated.ID] = next
	c.usersMu.Unlock()

	for _, g := range c.Guilds() {
		g.membersMu.Lock()
		if m, ok := g.members[updated.ID]; ok {
			replacement := *m
			replacement.User = next
			g.members[updated.ID] = &replacement
		}
		g.membersMu.Unlock()
	}

	return next
}

// getOrCreateUser returns the shared User for an id, creating and
// inserting it into the global map if it was previously absent. Callers
// must not hold usersMu.
func (c *Cache) getOrCreateUser(seed User) *User {
	c.usersMu.Lock()
	defer c.usersMu.Unlock()
	if u, ok := c.users[seed.ID]; ok {
		return u
	}
	u := &User{
		ID:            seed.ID,
		Username:      seed.Username,
		Discriminator: seed.Discriminator,
		Avatar:        seed.Avatar,
		Bot:           seed.Bot,
		PublicFlags:   seed.PublicFlags,
	}
	c.users[seed.ID] = u
	c.metrics.SetUsers(1)
	return u
}

// SetState transitions a guild's cache-state under its dedicated lock and
// reports the delta to the metrics sink, so the `guilds` gauge family
// never observes two labels for the same (shard, guild) at once (spec §8).
func (c *Cache) SetState(shard int, g *Guild, s State) {
	old := g.setState(s)
	if old != s {
		c.metrics.SetGuildState(shard, g.ID, old, s)
	}
}

package cache

import (
	"sync"

	"github.com/gearbot/GearBot-2/internal/snowflake"
)

// State is a guild's progress label through the cache-state machine
// described in spec §3.
type State int

const (
	// StateCreated is the initial state after insert_guild, before any
	// member chunk has arrived.
	StateCreated State = iota
	// StateReceivingMembers is entered on the first non-last member chunk.
	StateReceivingMembers
	// StateCached is entered on the last member chunk, or directly from
	// Created for an empty guild.
	StateCached
	// StateUnavailable is entered on a GuildDelete with unavailable=true.
	StateUnavailable
)

// String renders the state the way the metrics label expects it.
func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateReceivingMembers:
		return "receiving_members"
	case StateCached:
		return "cached"
	case StateUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// GuildMeta holds the summary metadata fields carried on a guild, separate
// from its owned entity maps so UpdateGuild can replace metadata without
// touching the maps.
type GuildMeta struct {
	Name              string
	Icon              string
	OwnerID           snowflake.ID
	VerificationLevel int
	MFALevel          int
	Features          []string
	MaxMembers        int
	MaxPresences      int
	PreferredLocale   string
	NSFWLevel         int
}

// Guild owns its own roles/emoji/channels/members/voice-state maps behind
// independent reader-writer locks, plus a cache-state label behind a
// dedicated lock so state transitions never stall member reads.
type Guild struct {
	ID snowflake.ID

	metaMu sync.RWMutex
	meta   GuildMeta

	stateMu sync.RWMutex
	state   State

	rolesMu sync.RWMutex
	roles   map[snowflake.ID]*Role

	emojiMu sync.RWMutex
	emoji   map[snowflake.ID]struct{} // emoji ids are opaque to the cache beyond presence tracking

	channelsMu sync.RWMutex
	channels   map[snowflake.ID]*Channel

	membersMu sync.RWMutex
	members   map[snowflake.ID]*Member

	voiceMu     sync.RWMutex
	voiceStates map[snowflake.ID]*VoiceState
}

// newGuild constructs an empty guild shell in state Created.
func newGuild(id snowflake.ID, meta GuildMeta) *Guild {
	return &Guild{
		ID:          id,
		meta:        meta,
		state:       StateCreated,
		roles:       make(map[snowflake.ID]*Role),
		emoji:       make(map[snowflake.ID]struct{}),
		channels:    make(map[snowflake.ID]*Channel),
		members:     make(map[snowflake.ID]*Member),
		voiceStates: make(map[snowflake.ID]*VoiceState),
	}
}

// Meta returns a copy of the guild's summary metadata.
func (g *Guild) Meta() GuildMeta {
	g.metaMu.RLock()
	defer g.metaMu.RUnlock()
	return g.meta
}

// setMeta replaces the guild's summary metadata, leaving its entity maps
// and state untouched.
func (g *Guild) setMeta(meta GuildMeta) {
	g.metaMu.Lock()
	defer g.metaMu.Unlock()
	g.meta = meta
}

// State returns the guild's current cache-state label.
func (g *Guild) State() State {
	g.stateMu.RLock()
	defer g.stateMu.RUnlock()
	return g.state
}

// setState transitions the guild to a new state and returns the previous
// one, so callers (the metrics surface) can update gauges atomically with
// the transition.
func (g *Guild) setState(s State) State {
	g.stateMu.Lock()
	defer g.stateMu.Unlock()
	old := g.state
	g.state = s
	return old
}

// Role looks up a role by id.
func (g *Guild) Role(id snowflake.ID) (*Role, bool) {
	g.rolesMu.RLock()
	defer g.rolesMu.RUnlock()
	r, ok := g.roles[id]
	return r, ok
}

// Roles returns a snapshot slice of every role in the guild.
func (g *Guild) Roles() []*Role {
	g.rolesMu.RLock()
	defer g.rolesMu.RUnlock()
	out := make([]*Role, 0, len(g.roles))
	for _, r := range g.roles {
		out = append(out, r)
	}
	return out
}

// SetRole inserts or replaces a role.
func (g *Guild) SetRole(r *Role) {
	g.rolesMu.Lock()
	defer g.rolesMu.Unlock()
	g.roles[r.ID] = r
}

// RemoveRole deletes a role by id.
func (g *Guild) RemoveRole(id snowflake.ID) {
	g.rolesMu.Lock()
	defer g.rolesMu.Unlock()
	delete(g.roles, id)
}

// ReplaceRoles wholesale-replaces the role map, e.g. after a role reorder.
func (g *Guild) ReplaceRoles(roles map[snowflake.ID]*Role) {
	g.rolesMu.Lock()
	defer g.rolesMu.Unlock()
	g.roles = roles
}

// ReplaceEmoji wholesale-replaces the emoji set, per GuildEmojisUpdate.
func (g *Guild) ReplaceEmoji(ids []snowflake.ID) {
	g.emojiMu.Lock()
	defer g.emojiMu.Unlock()
	next := make(map[snowflake.ID]struct{}, len(ids))
	for _, id := range ids {
		next[id] = struct{}{}
	}
	g.emoji = next
}

// EmojiCount returns the number of custom emoji currently tracked for the
// guild.
func (g *Guild) EmojiCount() int {
	g.emojiMu.RLock()
	defer g.emojiMu.RUnlock()
	return len(g.emoji)
}

// Channel looks up a channel by id.
func (g *Guild) Channel(id snowflake.ID) (*Channel, bool) {
	g.channelsMu.RLock()
	defer g.channelsMu.RUnlock()
	c, ok := g.channels[id]
	return c, ok
}

// Channels returns a snapshot slice of every channel in the guild.
func (g *Guild) Channels() []*Channel {
	g.channelsMu.RLock()
	defer g.channelsMu.RUnlock()
	out := make([]*Channel, 0, len(g.channels))
	for _, c := range g.channels {
		out = append(out, c)
	}
	return out
}

// SetChannel inserts or replaces a channel.
func (g *Guild) SetChannel(c *Channel) {
	g.channelsMu.Lock()
	defer g.channelsMu.Unlock()
	g.channels[c.ID] = c
}

// RemoveChannel deletes a channel by id.
func (g *Guild) RemoveChannel(id snowflake.ID) {
	g.channelsMu.Lock()
	defer g.channelsMu.Unlock()
	delete(g.channels, id)
}

// Member looks up a member by user id.
func (g *Guild) Member(userID snowflake.ID) (*Member, bool) {
	g.membersMu.RLock()
	defer g.membersMu.RUnlock()
	m, ok := g.members[userID]
	return m, ok
}

// MemberCount returns the number of members currently cached for the guild.
func (g *Guild) MemberCount() int {
	g.membersMu.RLock()
	defer g.membersMu.RUnlock()
	return len(g.members)
}

// Members returns a snapshot slice of every member in the guild.
func (g *Guild) Members() []*Member {
	g.membersMu.RLock()
	defer g.membersMu.RUnlock()
	out := make([]*Member, 0, len(g.members))
	for _, m := range g.members {
		out = append(out, m)
	}
	return out
}

// VoiceState looks up a voice state by user id.
func (g *Guild) VoiceState(userID snowflake.ID) (*VoiceState, bool) {
	g.voiceMu.RLock()
	defer g.voiceMu.RUnlock()
	vs, ok := g.voiceStates[userID]
	return vs, ok
}

// SetVoiceState inserts or replaces a voice state.
func (g *Guild) SetVoiceState(vs *VoiceState) {
	g.voiceMu.Lock()
	defer g.voiceMu.Unlock()
	g.voiceStates[vs.UserID] = vs
}

// RemoveVoiceState deletes a voice state by user id, e.g. on a VoiceStateUpdate
// with a nil channel id.
func (g *Guild) RemoveVoiceState(userID snowflake.ID) {
	g.voiceMu.Lock()
	defer g.voiceMu.Unlock()
	delete(g.voiceStates, userID)
}

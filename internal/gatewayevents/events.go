// Package gatewayevents defines the wire-format payloads the gateway
// client decodes gateway dispatch events into, plus the conversions into
// internal/cache's boundary types. Grounded on the teacher's events.go and
// structs.go: same field set and JSON tags (ids as strings, timestamps as
// RFC3339), but every id-bearing field is typed as snowflake.ID instead of
// string (UnmarshalJSON does the string->uint64 parse the teacher left to
// callers), and entity payloads carry only what internal/cache needs
// rather than the teacher's full surface (presence, nitro, etc.) since
// this cluster never tracks those.
package gatewayevents

import (
	"time"

	"github.com/gearbot/GearBot-2/internal/cache"
	"github.com/gearbot/GearBot-2/internal/snowflake"
)

// User is the wire shape of a Discord user.
type User struct {
	ID            snowflake.ID `json:"id"`
	Username      string       `json:"username"`
	Discriminator string       `json:"discriminator"`
	Avatar        string       `json:"avatar"`
	Bot           bool         `json:"bot"`
	PublicFlags   uint32       `json:"public_flags"`
}

// ToCache converts the wire user into a cache.User seed. The mutual-guild
// counter is intentionally left unset: the cache package owns it.
func (u User) ToCache() cache.User {
	return cache.User{
		ID:            u.ID,
		Username:      u.Username,
		Discriminator: u.Discriminator,
		Avatar:        u.Avatar,
		Bot:           u.Bot,
		PublicFlags:   u.PublicFlags,
	}
}

// Role is the wire shape of a guild role.
type Role struct {
	ID           snowflake.ID `json:"id"`
	Name         string       `json:"name"`
	Color        int          `json:"color"`
	Hoist        bool         `json:"hoist"`
	Icon         string       `json:"icon"`
	UnicodeEmoji string       `json:"unicode_emoji"`
	Position     int          `json:"position"`
	Permissions  uint64       `json:"permissions,string"`
	Managed      bool         `json:"managed"`
}

func (r Role) ToCache() *cache.Role {
	return &cache.Role{
		ID:           r.ID,
		Name:         r.Name,
		Color:        r.Color,
		Hoist:        r.Hoist,
		Icon:         r.Icon,
		UnicodeEmoji: r.UnicodeEmoji,
		Position:     r.Position,
		Permissions:  r.Permissions,
		Managed:      r.Managed,
	}
}

// PermissionOverwrite is the wire shape of a channel permission overwrite.
type PermissionOverwrite struct {
	ID    snowflake.ID `json:"id"`
	Type  int          `json:"type"`
	Allow uint64       `json:"allow,string"`
	Deny  uint64       `json:"deny,string"`
}

// ThreadMetadata is the wire shape of a thread channel's extra fields.
type ThreadMetadata struct {
	Archived            bool `json:"archived"`
	AutoArchiveDuration int  `json:"auto_archive_duration"`
	Locked              bool `json:"locked"`
	Invitable           bool `json:"invitable"`
}

// Channel is the wire shape of a guild channel, covering the fields every
// one of the seven tracked channel types can carry; the gateway only
// populates the ones that apply to ChannelType.
type Channel struct {
	ID                   snowflake.ID          `json:"id"`
	GuildID              snowflake.ID          `json:"guild_id"`
	Type                 cache.ChannelType     `json:"type"`
	Name                 string                `json:"name"`
	ParentID             snowflake.ID          `json:"parent_id"`
	PermissionOverwrites []PermissionOverwrite `json:"permission_overwrites"`
	Topic                string                `json:"topic"`
	NSFW                 bool                  `json:"nsfw"`
	RateLimitPerUser     int                   `json:"rate_limit_per_user"`
	Bitrate              int                   `json:"bitrate"`
	UserLimit            int                   `json:"user_limit"`
	ThreadMetadata       *ThreadMetadata       `json:"thread_metadata,omitempty"`
}

func (c Channel) ToCache() *cache.Channel {
	out := &cache.Channel{
		ID:               c.ID,
		GuildID:          c.GuildID,
		Type:             c.Type,
		Name:             c.Name,
		ParentID:         c.ParentID,
		Topic:            c.Topic,
		NSFW:             c.NSFW,
		RateLimitPerUser: c.RateLimitPerUser,
		Bitrate:          c.Bitrate,
		UserLimit:        c.UserLimit,
	}
	if len(c.PermissionOverwrites) > 0 {
		out.PermissionOverwrites = make([]cache.PermissionOverwrite, len(c.PermissionOverwrites))
		for i, po := range c.PermissionOverwrites {
			out.PermissionOverwrites[i] = cache.PermissionOverwrite{ID: po.ID, Type: po.Type, Allow: po.Allow, Deny: po.Deny}
		}
	}
	if c.ThreadMetadata != nil {
		out.ThreadMetadata = &cache.ThreadMetadata{
			Archived:            c.ThreadMetadata.Archived,
			AutoArchiveDuration: c.ThreadMetadata.AutoArchiveDuration,
			Locked:              c.ThreadMetadata.Locked,
			Invitable:           c.ThreadMetadata.Invitable,
		}
	}
	return out
}

// Emoji is the wire shape of a custom guild emoji. The cache only tracks
// presence, not these fields, but they're kept here since the dispatcher
// needs the id to build the Emoji id list insert_guild/GuildEmojisUpdate
// pass to the cache.
type Emoji struct {
	ID      snowflake.ID `json:"id"`
	Name    string       `json:"name"`
	Managed bool         `json:"managed"`
}

// Member is the wire shape of a guild member.
type Member struct {
	User     User           `json:"user"`
	Nick     string         `json:"nick"`
	Avatar   string         `json:"avatar"`
	Roles    []snowflake.ID `json:"roles"`
	JoinedAt time.Time      `json:"joined_at"`
}

func (m Member) ToSeed() cache.MemberSeed {
	return cache.MemberSeed{
		User:     m.User.ToCache(),
		Nick:     m.Nick,
		Avatar:   m.Avatar,
		Roles:    m.Roles,
		JoinedAt: m.JoinedAt,
	}
}

// VoiceState is the wire shape of a guild voice state.
type VoiceState struct {
	UserID    snowflake.ID `json:"user_id"`
	ChannelID snowflake.ID `json:"channel_id"`
	SelfMute  bool         `json:"self_mute"`
	SelfDeaf  bool         `json:"self_deaf"`
	Mute      bool         `json:"mute"`
	Deaf      bool         `json:"deaf"`
	SelfVideo bool         `json:"self_video"`
	Streaming bool         `json:"self_stream"`
}

func (v VoiceState) ToCache() *cache.VoiceState {
	return &cache.VoiceState{
		UserID:    v.UserID,
		ChannelID: v.ChannelID,
		SelfMute:  v.SelfMute,
		SelfDeaf:  v.SelfDeaf,
		Mute:      v.Mute,
		Deaf:      v.Deaf,
		Video:     v.SelfVideo,
		Streaming: v.Streaming,
	}
}

// Guild is the full wire shape of a GUILD_CREATE payload: summary fields
// plus the roles/channels/members/emoji/voice-states the gateway bulk-sends
// with it. GUILD_UPDATE reuses only the summary fields.
type Guild struct {
	ID                snowflake.ID `json:"id"`
	Name              string       `json:"name"`
	Icon              string       `json:"icon"`
	OwnerID           snowflake.ID `json:"owner_id"`
	VerificationLevel int          `json:"verification_level"`
	MFALevel          int          `json:"mfa_level"`
	Features          []string     `json:"features"`
	MaxMembers        int          `json:"max_members"`
	MaxPresences      int          `json:"max_presences"`
	PreferredLocale   string       `json:"preferred_locale"`
	NSFWLevel         int          `json:"nsfw_level"`
	Unavailable       bool         `json:"unavailable"`

	Roles    []Role       `json:"roles"`
	Emojis   []Emoji      `json:"emojis"`
	Channels []Channel    `json:"channels"`
	Members  []Member     `json:"members"`
	Voices   []VoiceState `json:"voice_states"`

	// MemberCount is Discord's member_count field. It is decoded but not
	// read: the dispatcher decides a guild's initial state from
	// len(Members).
	MemberCount int `json:"member_count"`
}

func (g Guild) ToMeta() cache.GuildMeta {
	return cache.GuildMeta{
		Name:              g.Name,
		Icon:              g.Icon,
		OwnerID:           g.OwnerID,
		VerificationLevel: g.VerificationLevel,
		MFALevel:          g.MFALevel,
		Features:          g.Features,
		MaxMembers:        g.MaxMembers,
		MaxPresences:      g.MaxPresences,
		PreferredLocale:   g.PreferredLocale,
		NSFWLevel:         g.NSFWLevel,
	}
}

// ToNewGuildPayload converts the full create payload into the shape
// cache.InsertGuild expects.
func (g Guild) ToNewGuildPayload() cache.NewGuildPayload {
	roles := make([]*cache.Role, len(g.Roles))
	for i, r := range g.Roles {
		roles[i] = r.ToCache()
	}
	channels := make([]*cache.Channel, len(g.Channels))
	for i, c := range g.Channels {
		channels[i] = c.ToCache()
	}
	members := make([]cache.MemberSeed, len(g.Members))
	for i, m := range g.Members {
		members[i] = m.ToSeed()
	}
	emoji := make([]snowflake.ID, len(g.Emojis))
	for i, e := range g.Emojis {
		emoji[i] = e.ID
	}
	return cache.NewGuildPayload{
		Meta:     g.ToMeta(),
		Roles:    roles,
		Channels: channels,
		Members:  members,
		Emoji:    emoji,
	}
}

// Ready is the READY event payload.
type Ready struct {
	SessionID string              `json:"session_id"`
	User      User                `json:"user"`
	Guilds    []UnavailableGuild  `json:"guilds"`
}

// UnavailableGuild is one entry of READY's guilds list: every guild starts
// unavailable until its GUILD_CREATE arrives.
type UnavailableGuild struct {
	ID          snowflake.ID `json:"id"`
	Unavailable bool         `json:"unavailable"`
}

// GuildDelete is the GUILD_DELETE payload: a bare id plus whether this is
// an outage (unavailable=true, guild stays known) or an actual leave
// (unavailable omitted/false, guild should be forgotten and marked left).
type GuildDelete struct {
	ID          snowflake.ID `json:"id"`
	Unavailable bool         `json:"unavailable"`
}

// GuildRoleCreate/Update share this shape; GuildRoleDelete only needs the id.
type GuildRoleEvent struct {
	GuildID snowflake.ID `json:"guild_id"`
	Role    Role         `json:"role"`
}

type GuildRoleDelete struct {
	GuildID snowflake.ID `json:"guild_id"`
	RoleID  snowflake.ID `json:"role_id"`
}

type GuildEmojisUpdate struct {
	GuildID snowflake.ID `json:"guild_id"`
	Emojis  []Emoji      `json:"emojis"`
}

// GuildMembersChunk is one page of a member backfill request's response.
type GuildMembersChunk struct {
	GuildID    snowflake.ID `json:"guild_id"`
	Members    []Member     `json:"members"`
	ChunkIndex int          `json:"chunk_index"`
	ChunkCount int          `json:"chunk_count"`
}

// GuildMemberRemove is fired when a member leaves or is kicked/banned.
type GuildMemberRemove struct {
	GuildID snowflake.ID `json:"guild_id"`
	User    User         `json:"user"`
}

// GuildMemberUpdate carries the fields of a member that can change without
// a full GUILD_MEMBER_ADD.
type GuildMemberUpdate struct {
	GuildID snowflake.ID   `json:"guild_id"`
	User    User           `json:"user"`
	Nick    string         `json:"nick"`
	Avatar  string         `json:"avatar"`
	Roles   []snowflake.ID `json:"roles"`
}

type ChannelDelete struct {
	ID      snowflake.ID `json:"id"`
	GuildID snowflake.ID `json:"guild_id"`
}

type VoiceStateUpdate struct {
	VoiceState
	GuildID snowflake.ID `json:"guild_id"`
}

// StickerItem is the wire shape of a message's sticker_items entry.
type StickerItem struct {
	ID   snowflake.ID `json:"id"`
	Name string       `json:"name"`
}

// MessageAttachment is the wire shape of a message attachment.
type MessageAttachment struct {
	ID          snowflake.ID `json:"id"`
	Filename    string       `json:"filename"`
	Description string       `json:"description"`
}

// MessageCreate is the MESSAGE_CREATE payload. GuildID is the zero
// snowflake for a DM, which this cluster never persists.
type MessageCreate struct {
	ID           snowflake.ID        `json:"id"`
	ChannelID    snowflake.ID        `json:"channel_id"`
	GuildID      snowflake.ID        `json:"guild_id"`
	Author       User                `json:"author"`
	Content      string              `json:"content"`
	Pinned       bool                `json:"pinned"`
	Type         int                 `json:"type"`
	Attachments  []MessageAttachment `json:"attachments"`
	StickerItems []StickerItem       `json:"sticker_items"`
}

// MessageUpdate is the MESSAGE_UPDATE payload. The gateway omits fields it
// didn't change; only the ones the persistence layer touches are here.
type MessageUpdate struct {
	ID          snowflake.ID        `json:"id"`
	ChannelID   snowflake.ID        `json:"channel_id"`
	GuildID     snowflake.ID        `json:"guild_id"`
	Content     string              `json:"content"`
	Pinned      bool                `json:"pinned"`
	Attachments []MessageAttachment `json:"attachments"`
}

package cache

import "github.com/gearbot/GearBot-2/internal/snowflake"

// ChannelType distinguishes the variants of the Channel tagged union.
type ChannelType int

const (
	ChannelTypeText ChannelType = iota
	ChannelTypeVoice
	ChannelTypeStage
	ChannelTypeCategory
	ChannelTypeNewsThread
	ChannelTypePublicThread
	ChannelTypePrivateThread
)

// PermissionOverwrite is a single permission-overwrite entry on a channel.
type PermissionOverwrite struct {
	ID    snowflake.ID
	Type  int
	Allow uint64
	Deny  uint64
}

// ThreadMetadata carries the type-specific fields thread channels need.
type ThreadMetadata struct {
	Archived            bool
	AutoArchiveDuration  int
	Locked              bool
	Invitable           bool
}

// Channel is a tagged union over the seven channel kinds the cache tracks.
// Fields that do not apply to a given Type are left at their zero value;
// accessors common to every variant (ID, ParentID, PermissionOverwrites)
// are plain fields rather than an interface, since every variant needs
// them and Go has no sum-type inheritance to hang them off of.
type Channel struct {
	ID                   snowflake.ID
	GuildID              snowflake.ID
	Type                 ChannelType
	Name                 string
	ParentID             snowflake.ID
	PermissionOverwrites []PermissionOverwrite

	// Text / news / thread fields.
	Topic               string
	NSFW                bool
	RateLimitPerUser    int

	// Voice / stage fields.
	Bitrate   int
	UserLimit int

	// Thread fields.
	ThreadMetadata *ThreadMetadata
}

// IsThread reports whether this channel is one of the three thread variants.
func (c *Channel) IsThread() bool {
	switch c.Type {
	case ChannelTypeNewsThread, ChannelTypePublicThread, ChannelTypePrivateThread:
		return true
	default:
		return false
	}
}

// Clone returns a copy of the channel with its own overwrite slice and
// thread-metadata pointer, so callers cannot mutate cache-owned state.
func (c *Channel) Clone() *Channel {
	cp := *c
	if c.PermissionOverwrites != nil {
		cp.PermissionOverwrites = append([]PermissionOverwrite(nil), c.PermissionOverwrites...)
	}
	if c.ThreadMetadata != nil {
		tm := *c.ThreadMetadata
		cp.ThreadMetadata = &tm
	}
	return &cp
}

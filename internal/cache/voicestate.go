package cache

import "github.com/gearbot/GearBot-2/internal/snowflake"

// VoiceState is present only while the user is attached to a voice/stage
// channel. Its absence from Guild.VoiceStates means the user is not
// connected to voice.
type VoiceState struct {
	UserID    snowflake.ID
	ChannelID snowflake.ID
	SelfMute  bool
	SelfDeaf  bool
	Mute      bool
	Deaf      bool
	Video     bool
	Streaming bool
}

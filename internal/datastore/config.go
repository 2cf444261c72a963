package datastore

import (
	"encoding/json"
	"fmt"

	"github.com/gearbot/GearBot-2/internal/xerrors"
)

// CurrentConfigVersion is the highest config version this build knows
// about and supports. Reading a stored version above this is an error.
const CurrentConfigVersion = 2

// LogStyle is the v1 moderation-log rendering mode, carried forward
// unchanged into v2.
type LogStyle int

const (
	LogStyleText LogStyle = iota
	LogStyleEmbed
)

// ModLog is the moderation-log section of a guild config.
type ModLog struct {
	Style LogStyle `json:"style"`
}

// MessageLogs is the message-log section of a guild config.
type MessageLogs struct {
	Enabled bool `json:"enabled"`
}

// AntiSpam is the v2-only anti-spam section.
type AntiSpam struct {
	Enabled bool `json:"enabled"`
}

// GuildConfig is the current (v2) guild configuration shape.
type GuildConfig struct {
	ModerationLogs ModLog      `json:"moderation_logs"`
	MessageLogs    MessageLogs `json:"message_logs"`
	AntiSpam       AntiSpam    `json:"anti_spam"`
}

// DefaultGuildConfig is the config a newly-seen guild gets.
func DefaultGuildConfig() GuildConfig {
	return GuildConfig{
		ModerationLogs: ModLog{Style: LogStyleText},
		MessageLogs:    MessageLogs{Enabled: false},
		AntiSpam:       AntiSpam{Enabled: false},
	}
}

// configV1 is the dropped-field predecessor: no anti_spam section.
type configV1 struct {
	ModerationLogs ModLog      `json:"moderation_logs"`
	MessageLogs    MessageLogs `json:"message_logs"`
}

func (v1 configV1) migrate() GuildConfig {
	return GuildConfig{
		ModerationLogs: v1.ModerationLogs,
		MessageLogs:    v1.MessageLogs,
		AntiSpam:       AntiSpam{Enabled: false},
	}
}

// MarshalConfig serializes a config under CurrentConfigVersion's tag,
// which is the only version writers ever produce.
func MarshalConfig(cfg GuildConfig) ([]byte, error) {
	tagged := struct {
		Version int `json:"version"`
		GuildConfig
	}{Version: CurrentConfigVersion, GuildConfig: cfg}
	return json.Marshal(tagged)
}

// UnmarshalConfig deserializes the tagged envelope and applies migration
// functions version-by-version until it reaches CurrentConfigVersion.
// Reading a version above what this build supports is a fatal-class error,
// since it means the database is ahead of the running binary.
func UnmarshalConfig(raw []byte) (GuildConfig, error) {
	var tag struct {
		Version int `json:"version"`
	}
	if err := json.Unmarshal(raw, &tag); err != nil {
		return GuildConfig{}, xerrors.Fatal("decoding guild config envelope", err)
	}

	switch {
	case tag.Version > CurrentConfigVersion:
		return GuildConfig{}, xerrors.Fatal(
			fmt.Sprintf("config is version %d but this build only supports up to %d", tag.Version, CurrentConfigVersion),
			nil,
		)
	case tag.Version == CurrentConfigVersion:
		var cfg GuildConfig
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return GuildConfig{}, xerrors.Fatal("decoding v2 guild config", err)
		}
		return cfg, nil
	case tag.Version == 1:
		var v1 configV1
		if err := json.Unmarshal(raw, &v1); err != nil {
			return GuildConfig{}, xerrors.Fatal("decoding v1 guild config", err)
		}
		return v1.migrate(), nil
	default:
		return GuildConfig{}, xerrors.Fatal(fmt.Sprintf("unknown config version %d", tag.Version), nil)
	}
}

package gatewayevents

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gearbot/GearBot-2/internal/cache"
	"github.com/gearbot/GearBot-2/internal/snowflake"
)

func TestGuildJSONDecodesIDsAsSnowflakes(t *testing.T) {
	raw := `{
		"id": "123456789012345678",
		"name": "Test Guild",
		"owner_id": "2",
		"roles": [{"id": "3", "name": "admin", "permissions": "8"}],
		"channels": [{"id": "4", "guild_id": "123456789012345678", "type": 0, "name": "general"}],
		"members": [{"user": {"id": "5", "username": "bob", "discriminator": "0001"}, "joined_at": "2021-01-01T00:00:00Z"}],
		"emojis": [{"id": "6", "name": "pog"}]
	}`

	var g Guild
	require.NoError(t, json.Unmarshal([]byte(raw), &g))
	assert.Equal(t, snowflake.ID(123456789012345678), g.ID)
	assert.Equal(t, snowflake.ID(2), g.OwnerID)
	require.Len(t, g.Roles, 1)
	assert.Equal(t, uint64(8), g.Roles[0].Permissions)
}

func TestGuildToNewGuildPayloadConvertsEveryList(t *testing.T) {
	g := Guild{
		ID:   1,
		Name: "g",
		Roles: []Role{
			{ID: 2, Name: "r"},
		},
		Channels: []Channel{
			{ID: 3, Name: "c"},
		},
		Members: []Member{
			{User: User{ID: 4, Username: "u"}},
		},
		Emojis: []Emoji{
			{ID: 5, Name: "e"},
		},
	}

	payload := g.ToNewGuildPayload()
	require.Len(t, payload.Roles, 1)
	assert.Equal(t, snowflake.ID(2), payload.Roles[0].ID)
	require.Len(t, payload.Channels, 1)
	assert.Equal(t, snowflake.ID(3), payload.Channels[0].ID)
	require.Len(t, payload.Members, 1)
	assert.Equal(t, snowflake.ID(4), payload.Members[0].User.ID)
	require.Len(t, payload.Emoji, 1)
	assert.Equal(t, snowflake.ID(5), payload.Emoji[0])
}

func TestChannelToCacheCopiesOverwritesAndThreadMetadata(t *testing.T) {
	c := Channel{
		ID:   1,
		Type: cache.ChannelTypePublicThread,
		PermissionOverwrites: []PermissionOverwrite{
			{ID: 2, Type: 0, Allow: 1, Deny: 2},
		},
		ThreadMetadata: &ThreadMetadata{Archived: true, AutoArchiveDuration: 60},
	}

	cc := c.ToCache()
	require.Len(t, cc.PermissionOverwrites, 1)
	assert.Equal(t, snowflake.ID(2), cc.PermissionOverwrites[0].ID)
	require.NotNil(t, cc.ThreadMetadata)
	assert.True(t, cc.ThreadMetadata.Archived)
	assert.True(t, cc.IsThread())
}

func TestVoiceStateUpdateEmbedsVoiceStateFields(t *testing.T) {
	raw := `{"user_id":"1","channel_id":"2","guild_id":"3","self_mute":true}`
	var v VoiceStateUpdate
	require.NoError(t, json.Unmarshal([]byte(raw), &v))
	assert.Equal(t, snowflake.ID(1), v.UserID)
	assert.Equal(t, snowflake.ID(3), v.GuildID)
	assert.True(t, v.SelfMute)
}

package dispatch

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gearbot/GearBot-2/internal/backfill"
	"github.com/gearbot/GearBot-2/internal/cache"
	"github.com/gearbot/GearBot-2/internal/gatewayevents"
	"github.com/gearbot/GearBot-2/internal/snowflake"
)

type fakeRequester struct{}

func (fakeRequester) RequestGuildMembers(shard int, guildID snowflake.ID) error { return nil }

func newTestDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	c := cache.New(zerolog.Nop(), nil)
	b := backfill.New(zerolog.Nop(), c, fakeRequester{}, nil, 1)
	return New(zerolog.Nop(), c, b, nil, nil)
}

func raw(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func testGuild() gatewayevents.Guild {
	return gatewayevents.Guild{
		ID:   snowflake.ID(123),
		Name: "test guild",
	}
}

func testUser(id uint64) gatewayevents.User {
	return gatewayevents.User{ID: snowflake.ID(id), Username: "someone"}
}

func testMember(id uint64) gatewayevents.Member {
	return gatewayevents.Member{User: testUser(id), Nick: "seed-nick"}
}

func TestDispatchUnknownEventTypeIsDroppedNotPanicked(t *testing.T) {
	d := newTestDispatcher(t)
	assert.NotPanics(t, func() {
		d.Dispatch(context.Background(), 0, "SOME_UNKNOWN_EVENT", json.RawMessage(`{}`))
	})
}

func TestGuildCreateInsertsEmptyGuildDirectlyIntoCached(t *testing.T) {
	d := newTestDispatcher(t)
	g := testGuild()
	d.Dispatch(context.Background(), 0, "GUILD_CREATE", raw(t, g))

	got, ok := d.cache.Guild(g.ID)
	require.True(t, ok)
	assert.Equal(t, cache.StateCached, got.State())
	assert.Equal(t, "test guild", got.Meta().Name)
}

func TestGuildCreateWithMembersLeavesStateCreatedForBackfill(t *testing.T) {
	d := newTestDispatcher(t)
	g := testGuild()
	g.Members = []gatewayevents.Member{testMember(1001)}
	d.Dispatch(context.Background(), 0, "GUILD_CREATE", raw(t, g))

	got, ok := d.cache.Guild(g.ID)
	require.True(t, ok)
	assert.Equal(t, cache.StateCreated, got.State())
}

func TestGuildDeleteUnavailableMarksGuildUnavailable(t *testing.T) {
	d := newTestDispatcher(t)
	g := testGuild()
	d.Dispatch(context.Background(), 0, "GUILD_CREATE", raw(t, g))
	d.Dispatch(context.Background(), 0, "GUILD_DELETE", raw(t, gatewayevents.GuildDelete{
		ID:          g.ID,
		Unavailable: true,
	}))

	_, ok := d.cache.Guild(g.ID)
	assert.False(t, ok)
	assert.True(t, d.cache.IsUnavailable(g.ID))
}

func TestGuildMemberAddThenRemoveRoundTrips(t *testing.T) {
	d := newTestDispatcher(t)
	g := testGuild()
	d.Dispatch(context.Background(), 0, "GUILD_CREATE", raw(t, g))

	d.Dispatch(context.Background(), 0, "GUILD_MEMBER_ADD", raw(t, gatewayevents.GuildMemberUpdate{
		GuildID: g.ID,
		User:    testUser(42),
		Nick:    "nick",
		Roles:   []snowflake.ID{},
	}))

	cached, ok := d.cache.Guild(g.ID)
	require.True(t, ok)
	m, ok := cached.Member(snowflake.ID(42))
	require.True(t, ok)
	assert.Equal(t, "nick", m.Nick)

	d.Dispatch(context.Background(), 0, "GUILD_MEMBER_REMOVE", raw(t, gatewayevents.GuildMemberRemove{
		GuildID: g.ID,
		User:    testUser(42),
	}))
	_, ok = cached.Member(snowflake.ID(42))
	assert.False(t, ok)
}

func TestGuildRoleCreateUpdateDeleteRoundTrips(t *testing.T) {
	d := newTestDispatcher(t)
	g := testGuild()
	d.Dispatch(context.Background(), 0, "GUILD_CREATE", raw(t, g))

	d.Dispatch(context.Background(), 0, "GUILD_ROLE_CREATE", raw(t, gatewayevents.GuildRoleEvent{
		GuildID: g.ID,
		Role:    gatewayevents.Role{ID: snowflake.ID(555), Name: "mod"},
	}))
	cached, _ := d.cache.Guild(g.ID)
	r, ok := cached.Role(snowflake.ID(555))
	require.True(t, ok)
	assert.Equal(t, "mod", r.Name)

	d.Dispatch(context.Background(), 0, "GUILD_ROLE_DELETE", raw(t, gatewayevents.GuildRoleDelete{
		GuildID: g.ID,
		RoleID:  snowflake.ID(555),
	}))
	_, ok = cached.Role(snowflake.ID(555))
	assert.False(t, ok)
}

func TestChannelCreateUpdateDeleteRoundTrips(t *testing.T) {
	d := newTestDispatcher(t)
	g := testGuild()
	d.Dispatch(context.Background(), 0, "GUILD_CREATE", raw(t, g))

	d.Dispatch(context.Background(), 0, "CHANNEL_CREATE", raw(t, gatewayevents.Channel{
		ID:      snowflake.ID(777),
		GuildID: g.ID,
		Name:    "general",
	}))
	cached, _ := d.cache.Guild(g.ID)
	_, ok := cached.Channel(snowflake.ID(777))
	require.True(t, ok)

	d.Dispatch(context.Background(), 0, "CHANNEL_DELETE", raw(t, gatewayevents.ChannelDelete{
		ID:      snowflake.ID(777),
		GuildID: g.ID,
	}))
	_, ok = cached.Channel(snowflake.ID(777))
	assert.False(t, ok)
}

func TestVoiceStateUpdateSetsAndClearsOnNilChannel(t *testing.T) {
	d := newTestDispatcher(t)
	g := testGuild()
	d.Dispatch(context.Background(), 0, "GUILD_CREATE", raw(t, g))

	d.Dispatch(context.Background(), 0, "VOICE_STATE_UPDATE", raw(t, gatewayevents.VoiceStateUpdate{
		VoiceState: gatewayevents.VoiceState{UserID: snowflake.ID(42), ChannelID: snowflake.ID(999)},
		GuildID:    g.ID,
	}))
	cached, _ := d.cache.Guild(g.ID)
	_, ok := cached.VoiceState(snowflake.ID(42))
	require.True(t, ok)

	d.Dispatch(context.Background(), 0, "VOICE_STATE_UPDATE", raw(t, gatewayevents.VoiceStateUpdate{
		VoiceState: gatewayevents.VoiceState{UserID: snowflake.ID(42), ChannelID: snowflake.Nil},
		GuildID:    g.ID,
	}))
	_, ok = cached.VoiceState(snowflake.ID(42))
	assert.False(t, ok)
}

func TestUserUpdatePropagatesToExistingMember(t *testing.T) {
	d := newTestDispatcher(t)
	g := testGuild()
	g.Members = []gatewayevents.Member{testMember(42)}
	d.Dispatch(context.Background(), 0, "GUILD_CREATE", raw(t, g))

	d.Dispatch(context.Background(), 0, "USER_UPDATE", raw(t, gatewayevents.User{
		ID:       snowflake.ID(42),
		Username: "renamed",
	}))

	cached, _ := d.cache.Guild(g.ID)
	m, ok := cached.Member(snowflake.ID(42))
	require.True(t, ok)
	assert.Equal(t, "renamed", m.User.Username)
}

func TestReadyRegistersGuildsWithoutPanicking(t *testing.T) {
	d := newTestDispatcher(t)
	assert.NotPanics(t, func() {
		d.Dispatch(context.Background(), 0, "READY", raw(t, gatewayevents.Ready{
			SessionID: "abc",
			User:      testUser(1),
			Guilds: []gatewayevents.UnavailableGuild{
				{ID: snowflake.ID(100), Unavailable: true},
			},
		}))
	})
}

func TestMessageCreateWithNilStoreIsNoop(t *testing.T) {
	d := newTestDispatcher(t)
	assert.NotPanics(t, func() {
		d.Dispatch(context.Background(), 0, "MESSAGE_CREATE", raw(t, gatewayevents.MessageCreate{
			ID:      1, GuildID: 10, ChannelID: 2, Content: "hi",
		}))
	})
}

func TestMessageCreateDMIsSkippedWithoutGuildID(t *testing.T) {
	d := newTestDispatcher(t)
	assert.NotPanics(t, func() {
		d.Dispatch(context.Background(), 0, "MESSAGE_CREATE", raw(t, gatewayevents.MessageCreate{
			ID: 1, ChannelID: 2, Content: "hi",
		}))
	})
}

func TestMessageUpdateWithNilStoreIsNoop(t *testing.T) {
	d := newTestDispatcher(t)
	assert.NotPanics(t, func() {
		d.Dispatch(context.Background(), 0, "MESSAGE_UPDATE", raw(t, gatewayevents.MessageUpdate{
			ID: 1, GuildID: 10, Content: "edited",
		}))
	})
}

func TestThreadCreateUpdateDeleteRouteToChannelHandlers(t *testing.T) {
	d := newTestDispatcher(t)
	g := testGuild()
	d.Dispatch(context.Background(), 0, "GUILD_CREATE", raw(t, g))
	guild, ok := d.cache.Guild(g.ID)
	require.True(t, ok)

	d.Dispatch(context.Background(), 0, "THREAD_CREATE", raw(t, gatewayevents.Channel{
		ID: 55, GuildID: g.ID, Type: cache.ChannelTypeNewsThread, Name: "thread",
	}))
	_, ok = guild.Channel(55)
	require.True(t, ok)

	d.Dispatch(context.Background(), 0, "THREAD_UPDATE", raw(t, gatewayevents.Channel{
		ID: 55, GuildID: g.ID, Type: cache.ChannelTypeNewsThread, Name: "renamed-thread",
	}))
	ch, ok := guild.Channel(55)
	require.True(t, ok)
	assert.Equal(t, "renamed-thread", ch.Name)

	d.Dispatch(context.Background(), 0, "THREAD_DELETE", raw(t, gatewayevents.ChannelDelete{ID: 55, GuildID: g.ID}))
	_, ok = guild.Channel(55)
	assert.False(t, ok)
}

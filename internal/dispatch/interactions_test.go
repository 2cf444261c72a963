package dispatch

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gearbot/GearBot-2/internal/cache"
	"github.com/gearbot/GearBot-2/internal/gatewayevents"
	"github.com/gearbot/GearBot-2/internal/queue"
	"github.com/gearbot/GearBot-2/internal/snowflake"
)

type capturedFollowup struct {
	token     string
	content   string
	ephemeral bool
}

type fakeFollowupSender struct {
	mu   sync.Mutex
	sent []capturedFollowup
	fail error
}

func (f *fakeFollowupSender) SendFollowup(ctx context.Context, token, content string, ephemeral bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, capturedFollowup{token: token, content: content, ephemeral: ephemeral})
	return f.fail
}

func (f *fakeFollowupSender) last() capturedFollowup {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sent[len(f.sent)-1]
}

func (f *fakeFollowupSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func TestHandleInteractionDebugCacheReportsCounts(t *testing.T) {
	d := newTestDispatcher(t)
	g := testGuild()
	g.Members = []gatewayevents.Member{testMember(1)}
	d.Dispatch(context.Background(), 0, "GUILD_CREATE", raw(t, g))
	d.Dispatch(context.Background(), 0, "GUILD_MEMBERS_CHUNK", raw(t, gatewayevents.GuildMembersChunk{
		GuildID:    g.ID,
		Members:    []gatewayevents.Member{testMember(1)},
		ChunkIndex: 0,
		ChunkCount: 1,
	}))

	followups := &fakeFollowupSender{}
	h := NewInteractionHandler(d, followups)

	h.HandleInteraction(context.Background(), "tok", "en-US", queue.InteractionCommand{
		Kind:      queue.CommandDebug,
		Component: "cache",
	})

	require.Equal(t, 1, followups.count())
	got := followups.last()
	assert.Equal(t, "tok", got.token)
	assert.False(t, got.ephemeral)
	assert.Contains(t, got.content, "Guilds: 1")
}

func TestHandleInteractionDebugUnknownComponentSendsEphemeralError(t *testing.T) {
	d := newTestDispatcher(t)
	followups := &fakeFollowupSender{}
	h := NewInteractionHandler(d, followups)

	h.HandleInteraction(context.Background(), "tok", "en-US", queue.InteractionCommand{
		Kind:      queue.CommandDebug,
		Component: "nonsense",
	})

	require.Equal(t, 1, followups.count())
	got := followups.last()
	assert.True(t, got.ephemeral)
}

func TestHandleInteractionUnknownKindSendsEphemeralError(t *testing.T) {
	d := newTestDispatcher(t)
	followups := &fakeFollowupSender{}
	h := NewInteractionHandler(d, followups)

	h.HandleInteraction(context.Background(), "tok", "en-US", queue.InteractionCommand{
		Kind: "bogus",
	})

	require.Equal(t, 1, followups.count())
	assert.True(t, followups.last().ephemeral)
}

func TestHandleInteractionUserinfoFindsGuildMemberFirst(t *testing.T) {
	d := newTestDispatcher(t)
	g := testGuild()
	d.Dispatch(context.Background(), 0, "GUILD_CREATE", raw(t, g))
	d.Dispatch(context.Background(), 0, "GUILD_MEMBER_ADD", raw(t, gatewayevents.GuildMemberUpdate{
		GuildID: g.ID,
		User:    testUser(42),
	}))

	followups := &fakeFollowupSender{}
	h := NewInteractionHandler(d, followups)

	h.HandleInteraction(context.Background(), "tok", "en-US", queue.InteractionCommand{
		Kind:    queue.CommandUserinfo,
		GuildID: g.ID,
		UserID:  snowflake.ID(42),
	})

	got := followups.last()
	assert.False(t, got.ephemeral)
	assert.Contains(t, got.content, "someone")
	assert.Contains(t, got.content, "joined")
}

func TestHandleInteractionUserinfoFallsBackToGlobalUser(t *testing.T) {
	d := newTestDispatcher(t)
	d.cache.PropagateUserUpdate(cache.User{ID: snowflake.ID(99), Username: "ghost"})

	followups := &fakeFollowupSender{}
	h := NewInteractionHandler(d, followups)

	h.HandleInteraction(context.Background(), "tok", "en-US", queue.InteractionCommand{
		Kind:    queue.CommandUserinfo,
		GuildID: snowflake.ID(0),
		UserID:  snowflake.ID(99),
	})

	got := followups.last()
	assert.False(t, got.ephemeral)
	assert.Contains(t, got.content, "ghost")
}

func TestHandleInteractionUserinfoNotFoundIsEphemeralError(t *testing.T) {
	d := newTestDispatcher(t)
	followups := &fakeFollowupSender{}
	h := NewInteractionHandler(d, followups)

	h.HandleInteraction(context.Background(), "tok", "en-US", queue.InteractionCommand{
		Kind:    queue.CommandUserinfo,
		GuildID: snowflake.ID(1),
		UserID:  snowflake.ID(404),
	})

	got := followups.last()
	assert.True(t, got.ephemeral)
}

func TestHandleInteractionLogsWhenFollowupDeliveryFails(t *testing.T) {
	d := newTestDispatcher(t)
	followups := &fakeFollowupSender{fail: assertErr{}}
	h := NewInteractionHandler(d, followups)

	assert.NotPanics(t, func() {
		h.HandleInteraction(context.Background(), "tok", "en-US", queue.InteractionCommand{
			Kind:      queue.CommandDebug,
			Component: "cache",
		})
	})
}

type assertErr struct{}

func (assertErr) Error() string { return "delivery failed" }

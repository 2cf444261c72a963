package backfill

import (
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gearbot/GearBot-2/internal/cache"
	"github.com/gearbot/GearBot-2/internal/snowflake"
)

type fakeRequester struct {
	mu       sync.Mutex
	requests []snowflake.ID
	fail     map[snowflake.ID]bool
}

func newFakeRequester() *fakeRequester {
	return &fakeRequester{fail: make(map[snowflake.ID]bool)}
}

func (f *fakeRequester) RequestGuildMembers(shard int, guildID snowflake.ID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, guildID)
	if f.fail[guildID] {
		return assertErr
	}
	return nil
}

func (f *fakeRequester) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func (f *fakeRequester) last() snowflake.ID {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

var assertErr = &sendErr{}

type sendErr struct{}

func (*sendErr) Error() string { return "send failed" }

type fakeGate struct {
	mu      sync.Mutex
	fired   bool
}

func (g *fakeGate) OnAllShardsBackfilled() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.fired = true
}

func (g *fakeGate) didFire() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.fired
}

func TestOnGuildCreateRequestsImmediatelyWhenIdle(t *testing.T) {
	c := cache.New(zerolog.Nop(), nil)
	req := newFakeRequester()
	s := New(zerolog.Nop(), c, req, nil, 1)

	c.InsertGuild(0, 10, cache.NewGuildPayload{})
	s.OnGuildCreate(0, 10)

	assert.Equal(t, 1, req.count())
	assert.Equal(t, snowflake.ID(10), req.last())
}

func TestOnGuildCreateQueuesWhenInFlight(t *testing.T) {
	c := cache.New(zerolog.Nop(), nil)
	req := newFakeRequester()
	s := New(zerolog.Nop(), c, req, nil, 1)

	c.InsertGuild(0, 10, cache.NewGuildPayload{})
	c.InsertGuild(0, 20, cache.NewGuildPayload{})

	s.OnGuildCreate(0, 10)
	s.OnGuildCreate(0, 20)
	assert.Equal(t, 1, req.count(), "second guild must be queued, not requested immediately")

	st := s.shard(0)
	st.mu.Lock()
	pendingLen := len(st.pending)
	st.mu.Unlock()
	assert.Equal(t, 1, pendingLen)
}

func TestOnGuildCreateDedupesPending(t *testing.T) {
	c := cache.New(zerolog.Nop(), nil)
	req := newFakeRequester()
	s := New(zerolog.Nop(), c, req, nil, 1)

	c.InsertGuild(0, 10, cache.NewGuildPayload{})
	c.InsertGuild(0, 20, cache.NewGuildPayload{})

	s.OnGuildCreate(0, 10)
	s.OnGuildCreate(0, 20)
	s.OnGuildCreate(0, 20)

	st := s.shard(0)
	st.mu.Lock()
	pendingLen := len(st.pending)
	st.mu.Unlock()
	assert.Equal(t, 1, pendingLen, "duplicate guild ids must not appear twice in the pending list")
}

func TestLastChunkAdvancesToNextPendingGuild(t *testing.T) {
	c := cache.New(zerolog.Nop(), nil)
	req := newFakeRequester()
	s := New(zerolog.Nop(), c, req, nil, 1)

	g1 := c.InsertGuild(0, 10, cache.NewGuildPayload{})
	c.InsertGuild(0, 20, cache.NewGuildPayload{})

	s.OnGuildCreate(0, 10)
	s.OnGuildCreate(0, 20)
	require.Equal(t, 1, req.count())

	s.OnChunkReceived(0, g1, nil, 0, 1)

	assert.Equal(t, 2, req.count())
	assert.Equal(t, snowflake.ID(20), req.last())
	assert.Equal(t, cache.StateCached, g1.State())
}

func TestOnChunkReceivedIngestsSeeds(t *testing.T) {
	c := cache.New(zerolog.Nop(), nil)
	req := newFakeRequester()
	s := New(zerolog.Nop(), c, req, nil, 1)

	g := c.InsertGuild(0, 10, cache.NewGuildPayload{})
	s.OnGuildCreate(0, 10)

	seeds := []cache.MemberSeed{
		{User: cache.User{ID: 1}, JoinedAt: time.Now()},
		{User: cache.User{ID: 2}, JoinedAt: time.Now()},
	}
	s.OnChunkReceived(0, g, seeds, 0, 1)

	assert.Equal(t, 2, g.MemberCount())
	assert.Equal(t, cache.StateCached, g.State())
}

func TestRequestNextGuildMarksShardDoneAndFiresGate(t *testing.T) {
	c := cache.New(zerolog.Nop(), nil)
	req := newFakeRequester()
	gate := &fakeGate{}
	s := New(zerolog.Nop(), c, req, gate, 1)

	c.InsertGuild(0, 10, cache.NewGuildPayload{})
	s.OnGuildCreate(0, 10)
	s.OnChunkReceived(0, mustGuild(c, 10), nil, 0, 1)

	assert.True(t, gate.didFire())
}

func TestOnReadyClearsInFlightFlag(t *testing.T) {
	c := cache.New(zerolog.Nop(), nil)
	req := newFakeRequester()
	s := New(zerolog.Nop(), c, req, nil, 1)

	c.InsertGuild(0, 10, cache.NewGuildPayload{})
	s.OnGuildCreate(0, 10)

	st := s.shard(0)
	st.mu.Lock()
	assert.True(t, st.inFlight)
	st.mu.Unlock()

	s.OnReady(0)
	st.mu.Lock()
	assert.False(t, st.inFlight)
	st.mu.Unlock()
}

func TestOnResumeRetriesPendingGuild(t *testing.T) {
	c := cache.New(zerolog.Nop(), nil)
	req := newFakeRequester()
	s := New(zerolog.Nop(), c, req, nil, 1)

	c.InsertGuild(0, 10, cache.NewGuildPayload{})
	c.InsertGuild(0, 20, cache.NewGuildPayload{})
	s.OnGuildCreate(0, 10)
	s.OnGuildCreate(0, 20)

	st := s.shard(0)
	st.mu.Lock()
	st.inFlight = false
	st.mu.Unlock()

	s.OnResume(0)
	assert.Equal(t, snowflake.ID(20), req.last())
}

func TestTerminateClearsPendingAndBlocksFurtherRequests(t *testing.T) {
	c := cache.New(zerolog.Nop(), nil)
	req := newFakeRequester()
	s := New(zerolog.Nop(), c, req, nil, 1)

	c.InsertGuild(0, 10, cache.NewGuildPayload{})
	c.InsertGuild(0, 20, cache.NewGuildPayload{})
	s.OnGuildCreate(0, 10)
	s.OnGuildCreate(0, 20)

	s.Terminate()
	before := req.count()

	st := s.shard(0)
	st.mu.Lock()
	pendingLen := len(st.pending)
	st.mu.Unlock()
	assert.Equal(t, 0, pendingLen, "Terminate must clear the pending list")

	s.OnGuildCreate(0, 30)
	assert.Equal(t, before, req.count(), "no further requests may be issued once terminating")
}

func mustGuild(c *cache.Cache, id snowflake.ID) *cache.Guild {
	g, ok := c.Guild(id)
	if !ok {
		panic("guild not found")
	}
	return g
}

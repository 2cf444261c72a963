// Package backfill schedules the per-shard member-chunk requests that
// populate each guild's member map after GuildCreate, one guild at a time
// per shard, tolerating reconnects and resumes. Grounded on spec §4.C and
// on the teacher's per-shard bookkeeping in state.go/manager.go, which
// keeps one map of shard state guarded by a single mutex; this package
// narrows that to the two data elements §4.C actually names per shard.
package backfill

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/gearbot/GearBot-2/internal/cache"
	"github.com/gearbot/GearBot-2/internal/snowflake"
)

// Requester sends the "request all guild members" gateway command for a
// guild on a shard's connection. Implemented by internal/gatewayclient;
// kept as an interface here so this package never imports the websocket
// transport, mirroring the MetricsSink split in internal/cache.
type Requester interface {
	RequestGuildMembers(shard int, guildID snowflake.ID) error
}

// ReadinessGate is notified once every shard this instance owns has
// finished its initial backfill pass, so the Controller can drive the
// Starting->Standby/Primary decision (§4.D). Implemented by
// internal/controller.
type ReadinessGate interface {
	OnAllShardsBackfilled()
}

type shardState struct {
	mu       sync.Mutex
	pending  []snowflake.ID
	pendingSet map[snowflake.ID]struct{}
	inFlight bool
	done     bool
}

// Scheduler holds one shardState per shard index.
type Scheduler struct {
	log       zerolog.Logger
	cache     *cache.Cache
	requester Requester
	gate      ReadinessGate

	mu      sync.Mutex
	shards  map[int]*shardState
	total   int
	terminating bool
}

// New constructs a Scheduler for totalShards shards owned by this
// instance. gate may be nil if readiness signaling is not wired (tests).
func New(log zerolog.Logger, c *cache.Cache, requester Requester, gate ReadinessGate, totalShards int) *Scheduler {
	return &Scheduler{
		log:       log,
		cache:     c,
		requester: requester,
		gate:      gate,
		shards:    make(map[int]*shardState),
		total:     totalShards,
	}
}

// SetTotalShards updates the shard count used by allShardsDone. Exists for
// cmd/gearbot, where the real shard count is only known after the gateway
// manager's Open call, which itself is constructed with this Scheduler as
// its Requester.
func (s *Scheduler) SetTotalShards(totalShards int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.total = totalShards
}

func (s *Scheduler) shard(id int) *shardState {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.shards[id]
	if !ok {
		st = &shardState{pendingSet: make(map[snowflake.ID]struct{})}
		s.shards[id] = st
	}
	return st
}

// OnGuildCreate implements the "On new guild (GuildCreate)" rule: if the
// in-flight flag is set, append guildID to the pending list (deduplicated);
// otherwise atomically set the flag and request members immediately.
func (s *Scheduler) OnGuildCreate(shard int, guildID snowflake.ID) {
	if s.isTerminating() {
		return
	}
	st := s.shard(shard)
	st.mu.Lock()
	if st.inFlight {
		st.enqueue(guildID)
		st.mu.Unlock()
		return
	}
	st.inFlight = true
	st.mu.Unlock()

	if err := s.requester.RequestGuildMembers(shard, guildID); err != nil {
		s.log.Warn().Err(err).Int("shard", shard).Uint64("guild_id", uint64(guildID)).Msg("member-chunk request failed, clearing in-flight flag")
		st.mu.Lock()
		st.inFlight = false
		st.mu.Unlock()
	}
}

func (st *shardState) enqueue(id snowflake.ID) {
	if _, ok := st.pendingSet[id]; ok {
		return
	}
	st.pendingSet[id] = struct{}{}
	st.pending = append(st.pending, id)
}

func (st *shardState) pop() (snowflake.ID, bool) {
	if len(st.pending) == 0 {
		return 0, false
	}
	id := st.pending[0]
	st.pending = st.pending[1:]
	delete(st.pendingSet, id)
	return id, true
}

// OnChunkReceived ingests a member chunk into the guild cache and, if this
// was the guild's last chunk (chunkIndex == chunkCount-1), clears the
// in-flight flag and dispatches RequestNextGuild for the shard.
func (s *Scheduler) OnChunkReceived(shard int, g *cache.Guild, seeds []cache.MemberSeed, chunkIndex, chunkCount int) {
	last := chunkIndex == chunkCount-1
	if chunkIndex == 0 && !last {
		s.cache.SetState(shard, g, cache.StateReceivingMembers)
	}
	if len(seeds) > 0 {
		s.ingestChunk(g, seeds)
	}

	if !last {
		return
	}

	s.cache.SetState(shard, g, cache.StateCached)

	st := s.shard(shard)
	st.mu.Lock()
	st.inFlight = false
	st.mu.Unlock()

	s.RequestNextGuild(shard)
}

// ingestChunk is a thin adapter so this package does not need to reach
// into cache.Cache's unexported bulk-ingest path; Cache exposes
// NewGuildPayload-shaped ingestion only through InsertGuild, so chunk
// ingestion for an already-created guild goes through the guild's own
// per-member AddMember, one per seed.
func (s *Scheduler) ingestChunk(g *cache.Guild, seeds []cache.MemberSeed) {
	for _, seed := range seeds {
		s.cache.AddMember(g, seed.User, seed.Nick, seed.Avatar, seed.Roles, seed.JoinedAt)
	}
}

// RequestNextGuild implements request_next_guild(shard): pop the pending
// list if non-empty; otherwise scan the cache for guilds owned by this
// shard still in Created or ReceivingMembers, retry one and requeue the
// rest; otherwise mark the shard done and, if every shard is now done,
// notify the readiness gate.
func (s *Scheduler) RequestNextGuild(shard int) {
	if s.isTerminating() {
		return
	}

	st := s.shard(shard)
	st.mu.Lock()
	next, ok := st.pop()
	if ok {
		st.inFlight = true
	}
	st.mu.Unlock()

	if ok {
		s.sendOrRetreat(shard, st, next)
		return
	}

	unfinished := s.scanUnfinished(shard)
	if len(unfinished) == 0 {
		s.markShardDone(shard)
		return
	}

	first := unfinished[0]
	st.mu.Lock()
	st.inFlight = true
	for _, id := range unfinished[1:] {
		st.enqueue(id)
	}
	st.mu.Unlock()
	s.sendOrRetreat(shard, st, first)
}

func (s *Scheduler) sendOrRetreat(shard int, st *shardState, guildID snowflake.ID) {
	if err := s.requester.RequestGuildMembers(shard, guildID); err != nil {
		s.log.Warn().Err(err).Int("shard", shard).Uint64("guild_id", uint64(guildID)).Msg("member-chunk request failed, clearing in-flight flag")
		st.mu.Lock()
		st.inFlight = false
		st.mu.Unlock()
	}
}

func (s *Scheduler) scanUnfinished(shard int) []snowflake.ID {
	var out []snowflake.ID
	for _, g := range s.cache.Guilds() {
		if g.ID.ShardID(s.total) != shard {
			continue
		}
		switch g.State() {
		case cache.StateCreated, cache.StateReceivingMembers:
			out = append(out, g.ID)
		}
	}
	return out
}

func (s *Scheduler) markShardDone(shard int) {
	st := s.shard(shard)
	st.mu.Lock()
	st.done = true
	st.mu.Unlock()

	if s.gate == nil {
		return
	}
	if s.allShardsDone() {
		s.gate.OnAllShardsBackfilled()
	}
}

func (s *Scheduler) allShardsDone() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.shards) < s.total {
		return false
	}
	for _, st := range s.shards {
		st.mu.Lock()
		done := st.done
		st.mu.Unlock()
		if !done {
			return false
		}
	}
	return true
}

// OnReady implements disconnect handling: a gateway Ready event means the
// shard reconnected from scratch, so its in-flight flag is cleared and
// fresh GuildCreate events will re-prime backfill.
func (s *Scheduler) OnReady(shard int) {
	st := s.shard(shard)
	st.mu.Lock()
	st.inFlight = false
	st.done = false
	st.mu.Unlock()
}

// OnResume implements resume handling: a session-resumed shard keeps its
// pending list, so if it still has pending guilds, RequestNextGuild is
// invoked to pick up where it left off.
func (s *Scheduler) OnResume(shard int) {
	st := s.shard(shard)
	st.mu.Lock()
	hasPending := len(st.pending) > 0
	inFlight := st.inFlight
	st.mu.Unlock()

	if hasPending && !inFlight {
		s.RequestNextGuild(shard)
	}
}

// Terminate implements cancellation: clears every shard's pending list and
// prevents any further requests from being issued.
func (s *Scheduler) Terminate() {
	s.mu.Lock()
	s.terminating = true
	shards := make([]*shardState, 0, len(s.shards))
	for _, st := range s.shards {
		shards = append(shards, st)
	}
	s.mu.Unlock()

	for _, st := range shards {
		st.mu.Lock()
		st.pending = nil
		st.pendingSet = make(map[snowflake.ID]struct{})
		st.mu.Unlock()
	}
}

func (s *Scheduler) isTerminating() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.terminating
}

// Package dispatch routes decoded gateway events into cache/backfill/
// datastore operations, and routes decoded interaction commands into their
// handlers. Grounded on the teacher's marshal.go/marshals.go: a
// map[string]handler registry keyed by gateway event type, each handler
// unmarshaling Event.RawData into a typed payload and reporting back
// whether/how caching changed — except this port's handlers drive
// internal/cache directly instead of building a StreamEvent to re-publish,
// since this cluster is the cache's sole owner rather than a relay in
// front of independent consumers.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/gearbot/GearBot-2/internal/backfill"
	"github.com/gearbot/GearBot-2/internal/cache"
	"github.com/gearbot/GearBot-2/internal/datastore"
	"github.com/gearbot/GearBot-2/internal/gatewayevents"
	"github.com/gearbot/GearBot-2/internal/metrics"
	"github.com/gearbot/GearBot-2/internal/snowflake"
)

// Dispatcher owns the event-type -> handler registry and the collaborators
// every handler needs.
type Dispatcher struct {
	log      zerolog.Logger
	cache    *cache.Cache
	backfill *backfill.Scheduler
	store    *datastore.Store
	metrics  *metrics.Registry

	handlers map[string]func(ctx context.Context, shard int, raw json.RawMessage) error
}

// New builds a Dispatcher with every known gateway event type registered.
func New(log zerolog.Logger, c *cache.Cache, b *backfill.Scheduler, store *datastore.Store, m *metrics.Registry) *Dispatcher {
	d := &Dispatcher{log: log, cache: c, backfill: b, store: store, metrics: m}
	d.handlers = map[string]func(context.Context, int, json.RawMessage) error{
		"READY":                    d.onReady,
		"RESUMED":                  d.onResumed,
		"GUILD_CREATE":             d.onGuildCreate,
		"GUILD_UPDATE":             d.onGuildUpdate,
		"GUILD_DELETE":             d.onGuildDelete,
		"GUILD_MEMBERS_CHUNK":      d.onGuildMembersChunk,
		"GUILD_MEMBER_ADD":         d.onGuildMemberAdd,
		"GUILD_MEMBER_UPDATE":      d.onGuildMemberUpdate,
		"GUILD_MEMBER_REMOVE":      d.onGuildMemberRemove,
		"GUILD_ROLE_CREATE":        d.onGuildRoleCreate,
		"GUILD_ROLE_UPDATE":        d.onGuildRoleUpdate,
		"GUILD_ROLE_DELETE":        d.onGuildRoleDelete,
		"GUILD_EMOJIS_UPDATE":      d.onGuildEmojisUpdate,
		"CHANNEL_CREATE":           d.onChannelCreate,
		"CHANNEL_UPDATE":           d.onChannelUpdate,
		"CHANNEL_DELETE":           d.onChannelDelete,
		"THREAD_CREATE":            d.onChannelCreate,
		"THREAD_UPDATE":            d.onChannelCreate,
		"THREAD_DELETE":            d.onChannelDelete,
		"VOICE_STATE_UPDATE":       d.onVoiceStateUpdate,
		"USER_UPDATE":              d.onUserUpdate,
		"MESSAGE_CREATE":           d.onMessageCreate,
		"MESSAGE_UPDATE":           d.onMessageUpdate,
	}
	return d
}

// Dispatch routes one decoded gateway event. An unknown type is logged and
// dropped, matching the teacher's "no available marshaler" warning path.
func (d *Dispatcher) Dispatch(ctx context.Context, shard int, eventType string, raw json.RawMessage) {
	if d.metrics != nil {
		d.metrics.RecordGatewayEvent(shard, eventType)
	}
	h, ok := d.handlers[eventType]
	if !ok {
		d.log.Debug().Str("type", eventType).Msg("no handler registered for event type")
		return
	}
	if err := h(ctx, shard, raw); err != nil {
		d.log.Warn().Err(err).Str("type", eventType).Msg("failed to handle gateway event")
	}
}

func (d *Dispatcher) onReady(ctx context.Context, shard int, raw json.RawMessage) error {
	var ready gatewayevents.Ready
	if err := json.Unmarshal(raw, &ready); err != nil {
		return fmt.Errorf("dispatch: decoding READY: %w", err)
	}
	for _, g := range ready.Guilds {
		d.backfill.OnGuildCreate(shard, g.ID)
	}
	d.backfill.OnReady(shard)
	return nil
}

func (d *Dispatcher) onResumed(ctx context.Context, shard int, raw json.RawMessage) error {
	d.backfill.OnResume(shard)
	return nil
}

func (d *Dispatcher) onGuildCreate(ctx context.Context, shard int, raw json.RawMessage) error {
	var g gatewayevents.Guild
	if err := json.Unmarshal(raw, &g); err != nil {
		return fmt.Errorf("dispatch: decoding GUILD_CREATE: %w", err)
	}
	if g.ID.IsNil() {
		return fmt.Errorf("dispatch: GUILD_CREATE with guild id 0")
	}
	if g.Unavailable {
		d.cache.RemoveGuild(shard, g.ID, true)
		return nil
	}

	if d.store != nil {
		if _, err := d.store.GetOrCreateGuildInfo(ctx, g.ID); err != nil {
			d.log.Error().Err(err).Uint64("guild_id", uint64(g.ID)).Msg("failed to load guild datastore info")
		}
	}

	guild := d.cache.InsertGuild(shard, g.ID, g.ToNewGuildPayload())
	if len(g.Members) == 0 {
		d.cache.SetState(shard, guild, cache.StateCached)
	}
	d.backfill.OnGuildCreate(shard, g.ID)
	return nil
}

func (d *Dispatcher) onGuildUpdate(ctx context.Context, shard int, raw json.RawMessage) error {
	var g gatewayevents.Guild
	if err := json.Unmarshal(raw, &g); err != nil {
		return fmt.Errorf("dispatch: decoding GUILD_UPDATE: %w", err)
	}
	d.cache.UpdateGuild(g.ID, g.ToMeta())
	return nil
}

func (d *Dispatcher) onGuildDelete(ctx context.Context, shard int, raw json.RawMessage) error {
	var g gatewayevents.GuildDelete
	if err := json.Unmarshal(raw, &g); err != nil {
		return fmt.Errorf("dispatch: decoding GUILD_DELETE: %w", err)
	}
	d.cache.RemoveGuild(shard, g.ID, g.Unavailable)
	if !g.Unavailable && d.store != nil {
		if err := d.store.MarkLeft(ctx, g.ID, time.Now()); err != nil {
			d.log.Error().Err(err).Uint64("guild_id", uint64(g.ID)).Msg("failed to record guild departure")
		}
	}
	return nil
}

func (d *Dispatcher) onGuildMembersChunk(ctx context.Context, shard int, raw json.RawMessage) error {
	var chunk gatewayevents.GuildMembersChunk
	if err := json.Unmarshal(raw, &chunk); err != nil {
		return fmt.Errorf("dispatch: decoding GUILD_MEMBERS_CHUNK: %w", err)
	}
	g, ok := d.cache.Guild(chunk.GuildID)
	if !ok {
		return fmt.Errorf("dispatch: members chunk for unknown guild %d", chunk.GuildID)
	}
	seeds := make([]cache.MemberSeed, len(chunk.Members))
	for i, m := range chunk.Members {
		seeds[i] = m.ToSeed()
	}
	d.backfill.OnChunkReceived(shard, g, seeds, chunk.ChunkIndex, chunk.ChunkCount)
	return nil
}

func (d *Dispatcher) onGuildMemberAdd(ctx context.Context, shard int, raw json.RawMessage) error {
	var m gatewayevents.GuildMemberUpdate
	if err := json.Unmarshal(raw, &m); err != nil {
		return fmt.Errorf("dispatch: decoding GUILD_MEMBER_ADD: %w", err)
	}
	g, ok := d.cache.Guild(m.GuildID)
	if !ok {
		return fmt.Errorf("dispatch: member add for unknown guild %d", m.GuildID)
	}
	d.cache.AddMember(g, m.User.ToCache(), m.Nick, m.Avatar, m.Roles, time.Now())
	return nil
}

func (d *Dispatcher) onGuildMemberUpdate(ctx context.Context, shard int, raw json.RawMessage) error {
	var m gatewayevents.GuildMemberUpdate
	if err := json.Unmarshal(raw, &m); err != nil {
		return fmt.Errorf("dispatch: decoding GUILD_MEMBER_UPDATE: %w", err)
	}
	g, ok := d.cache.Guild(m.GuildID)
	if !ok {
		return fmt.Errorf("dispatch: member update for unknown guild %d", m.GuildID)
	}
	existing, ok := g.Member(m.User.ID)
	joinedAt := time.Now()
	if ok {
		joinedAt = existing.JoinedAt
	}
	d.cache.ReplaceMember(g, &cache.Member{
		User:     d.cache.PropagateUserUpdate(m.User.ToCache()),
		Nick:     m.Nick,
		Avatar:   m.Avatar,
		Roles:    m.Roles,
		JoinedAt: joinedAt,
	})
	return nil
}

func (d *Dispatcher) onGuildMemberRemove(ctx context.Context, shard int, raw json.RawMessage) error {
	var m gatewayevents.GuildMemberRemove
	if err := json.Unmarshal(raw, &m); err != nil {
		return fmt.Errorf("dispatch: decoding GUILD_MEMBER_REMOVE: %w", err)
	}
	g, ok := d.cache.Guild(m.GuildID)
	if !ok {
		return nil
	}
	if !d.cache.RemoveMember(g, m.User.ID) && g.State() == cache.StateCached {
		d.log.Warn().Uint64("guild_id", uint64(g.ID)).Uint64("user_id", uint64(m.User.ID)).Msg("member remove for a member not present in a cached guild")
	}
	return nil
}

func (d *Dispatcher) onGuildRoleCreate(ctx context.Context, shard int, raw json.RawMessage) error {
	var ev gatewayevents.GuildRoleEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return fmt.Errorf("dispatch: decoding GUILD_ROLE_CREATE: %w", err)
	}
	g, ok := d.cache.Guild(ev.GuildID)
	if !ok {
		return nil
	}
	g.SetRole(ev.Role.ToCache())
	return nil
}

func (d *Dispatcher) onGuildRoleUpdate(ctx context.Context, shard int, raw json.RawMessage) error {
	return d.onGuildRoleCreate(ctx, shard, raw)
}

func (d *Dispatcher) onGuildRoleDelete(ctx context.Context, shard int, raw json.RawMessage) error {
	var ev gatewayevents.GuildRoleDelete
	if err := json.Unmarshal(raw, &ev); err != nil {
		return fmt.Errorf("dispatch: decoding GUILD_ROLE_DELETE: %w", err)
	}
	g, ok := d.cache.Guild(ev.GuildID)
	if !ok {
		return nil
	}
	g.RemoveRole(ev.RoleID)
	return nil
}

func (d *Dispatcher) onGuildEmojisUpdate(ctx context.Context, shard int, raw json.RawMessage) error {
	var ev gatewayevents.GuildEmojisUpdate
	if err := json.Unmarshal(raw, &ev); err != nil {
		return fmt.Errorf("dispatch: decoding GUILD_EMOJIS_UPDATE: %w", err)
	}
	g, ok := d.cache.Guild(ev.GuildID)
	if !ok {
		return nil
	}
	ids := make([]snowflake.ID, len(ev.Emojis))
	for i, e := range ev.Emojis {
		ids[i] = e.ID
	}
	g.ReplaceEmoji(ids)
	return nil
}

func (d *Dispatcher) onChannelCreate(ctx context.Context, shard int, raw json.RawMessage) error {
	var c gatewayevents.Channel
	if err := json.Unmarshal(raw, &c); err != nil {
		return fmt.Errorf("dispatch: decoding CHANNEL_CREATE: %w", err)
	}
	g, ok := d.cache.Guild(c.GuildID)
	if !ok {
		return nil
	}
	g.SetChannel(c.ToCache())
	return nil
}

func (d *Dispatcher) onChannelUpdate(ctx context.Context, shard int, raw json.RawMessage) error {
	return d.onChannelCreate(ctx, shard, raw)
}

func (d *Dispatcher) onChannelDelete(ctx context.Context, shard int, raw json.RawMessage) error {
	var c gatewayevents.ChannelDelete
	if err := json.Unmarshal(raw, &c); err != nil {
		return fmt.Errorf("dispatch: decoding CHANNEL_DELETE: %w", err)
	}
	g, ok := d.cache.Guild(c.GuildID)
	if !ok {
		return nil
	}
	g.RemoveChannel(c.ID)
	return nil
}

func (d *Dispatcher) onVoiceStateUpdate(ctx context.Context, shard int, raw json.RawMessage) error {
	var v gatewayevents.VoiceStateUpdate
	if err := json.Unmarshal(raw, &v); err != nil {
		return fmt.Errorf("dispatch: decoding VOICE_STATE_UPDATE: %w", err)
	}
	g, ok := d.cache.Guild(v.GuildID)
	if !ok {
		return nil
	}
	if v.ChannelID.IsNil() {
		g.RemoveVoiceState(v.UserID)
		return nil
	}
	g.SetVoiceState(v.VoiceState.ToCache())
	return nil
}

func (d *Dispatcher) onUserUpdate(ctx context.Context, shard int, raw json.RawMessage) error {
	var u gatewayevents.User
	if err := json.Unmarshal(raw, &u); err != nil {
		return fmt.Errorf("dispatch: decoding USER_UPDATE: %w", err)
	}
	d.cache.PropagateUserUpdate(u.ToCache())
	return nil
}

// onMessageCreate decodes MESSAGE_CREATE and, for guild messages, spawns
// the encrypt-and-persist work as an independent task per spec §5 so a
// slow database round trip never holds up the shard's event stream.
func (d *Dispatcher) onMessageCreate(ctx context.Context, shard int, raw json.RawMessage) error {
	var m gatewayevents.MessageCreate
	if err := json.Unmarshal(raw, &m); err != nil {
		return fmt.Errorf("dispatch: decoding MESSAGE_CREATE: %w", err)
	}
	if m.GuildID.IsNil() || d.store == nil {
		return nil
	}
	go d.persistMessageCreate(ctx, m)
	return nil
}

func (d *Dispatcher) onMessageUpdate(ctx context.Context, shard int, raw json.RawMessage) error {
	var m gatewayevents.MessageUpdate
	if err := json.Unmarshal(raw, &m); err != nil {
		return fmt.Errorf("dispatch: decoding MESSAGE_UPDATE: %w", err)
	}
	if m.GuildID.IsNil() || d.store == nil {
		return nil
	}
	go d.persistMessageUpdate(ctx, m)
	return nil
}

// guildInfoForMessageLogs loads the guild's datastore info and reports
// whether message_logs is enabled, per the original's "do we want
// messages logged for this guild?" gate in events/message.rs.
func (d *Dispatcher) guildInfoForMessageLogs(ctx context.Context, guildID snowflake.ID) (datastore.GuildInfo, bool) {
	info, err := d.store.GetOrCreateGuildInfo(ctx, guildID)
	if err != nil {
		d.log.Error().Err(err).Uint64("guild_id", uint64(guildID)).Msg("failed to load guild info for message persistence")
		return datastore.GuildInfo{}, false
	}
	return info, info.Config.MessageLogs.Enabled
}

func (d *Dispatcher) persistMessageCreate(ctx context.Context, m gatewayevents.MessageCreate) {
	info, enabled := d.guildInfoForMessageLogs(ctx, m.GuildID)
	if !enabled {
		return
	}

	stickers, err := json.Marshal(m.StickerItems)
	if err != nil {
		d.log.Error().Err(err).Uint64("message_id", uint64(m.ID)).Msg("failed to marshal sticker items")
		return
	}

	content, err := datastore.Encrypt(info.EncryptionKey, uint64(m.ID), []byte(m.Content))
	if err != nil {
		d.log.Error().Err(err).Uint64("message_id", uint64(m.ID)).Msg("failed to encrypt message content")
		return
	}

	if err := d.store.SaveMessage(ctx, datastore.Message{
		ID:              m.ID,
		Content:         content,
		AuthorID:        m.Author.ID,
		ChannelID:       m.ChannelID,
		GuildID:         m.GuildID,
		StickersJSON:    stickers,
		Kind:            datastore.MessageKind(m.Type),
		AttachmentCount: len(m.Attachments),
		Pinned:          m.Pinned,
	}); err != nil {
		d.log.Error().Err(err).Uint64("message_id", uint64(m.ID)).Msg("failed to save message")
		return
	}

	for _, a := range m.Attachments {
		name, err := datastore.Encrypt(info.EncryptionKey, uint64(a.ID), []byte(a.Filename))
		if err != nil {
			d.log.Error().Err(err).Uint64("attachment_id", uint64(a.ID)).Msg("failed to encrypt attachment name")
			continue
		}
		description, err := datastore.Encrypt(info.EncryptionKey, uint64(a.ID), []byte(a.Description))
		if err != nil {
			d.log.Error().Err(err).Uint64("attachment_id", uint64(a.ID)).Msg("failed to encrypt attachment description")
			continue
		}
		if err := d.store.SaveAttachment(ctx, datastore.Attachment{
			ID:              a.ID,
			Name:            name,
			Description:     description,
			OwningMessageID: m.ID,
		}); err != nil {
			d.log.Error().Err(err).Uint64("attachment_id", uint64(a.ID)).Msg("failed to save attachment")
		}
	}
}

func (d *Dispatcher) persistMessageUpdate(ctx context.Context, m gatewayevents.MessageUpdate) {
	info, enabled := d.guildInfoForMessageLogs(ctx, m.GuildID)
	if !enabled {
		return
	}

	content, err := datastore.Encrypt(info.EncryptionKey, uint64(m.ID), []byte(m.Content))
	if err != nil {
		d.log.Error().Err(err).Uint64("message_id", uint64(m.ID)).Msg("failed to encrypt message content")
		return
	}

	if err := d.store.SaveMessage(ctx, datastore.Message{
		ID:              m.ID,
		Content:         content,
		ChannelID:       m.ChannelID,
		GuildID:         m.GuildID,
		AttachmentCount: len(m.Attachments),
		Pinned:          m.Pinned,
	}); err != nil {
		d.log.Error().Err(err).Uint64("message_id", uint64(m.ID)).Msg("failed to save updated message")
	}
}

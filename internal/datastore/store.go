// Package datastore persists per-guild configuration and per-guild
// encryption keys, and encrypts/decrypts message and attachment records
// before they reach the database. Grounded on original_source/'s
// gearbot_2_lib/src/datastore, carried into Go with jackc/pgx/v5's
// pgxpool in place of sqlx.
package datastore

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/gearbot/GearBot-2/internal/snowflake"
	"github.com/gearbot/GearBot-2/internal/xerrors"
)

// GuildInfo is the config plus derived encryption key for one guild, the
// shape get_or_create_guild_info and get_guild_info_bulk hand back.
type GuildInfo struct {
	GuildID       snowflake.ID
	Config        GuildConfig
	EncryptionKey []byte
}

// Store persists guild_config, message and attachment rows over a pgx
// connection pool, and derives per-guild encryption keys from a master
// key loaded at startup.
type Store struct {
	pool   *pgxpool.Pool
	master MasterKey
	log    zerolog.Logger
}

// Open connects to databaseURL with the given pool size and validates the
// master key. It does not run migrations: schema ownership is an external
// collaborator's responsibility (see the datastore's SQL schema Non-goal).
func Open(ctx context.Context, databaseURL string, poolConnections int32, masterKeyRaw []byte, log zerolog.Logger) (*Store, error) {
	master, err := ParseMasterKey(masterKeyRaw)
	if err != nil {
		return nil, err
	}

	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, xerrors.Fatal("parsing DATABASE_URL", err)
	}
	if poolConnections > 0 {
		cfg.MaxConns = poolConnections
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, xerrors.Fatal("connecting to database", err)
	}

	s := &Store{pool: pool, master: master, log: log}

	if err := s.rotateMessageStorage(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return s, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// rotateMessageStorage calls the `cleanup_if_needed()` stored procedure
// once at startup, matching the original's rotate_message_storage.
func (s *Store) rotateMessageStorage(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, "SELECT cleanup_if_needed()"); err != nil {
		return xerrors.Fatal("running message-storage rotation", err)
	}
	s.log.Info().Msg("message storage rotation complete")
	return nil
}

// GetOrCreateGuildInfo runs in a single transaction: attempt to
// update-returning (clearing left_at); if no row exists, insert a freshly
// generated key plus a default config and return it.
func (s *Store) GetOrCreateGuildInfo(ctx context.Context, guildID snowflake.ID) (GuildInfo, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return GuildInfo{}, xerrors.Transient("beginning guild-info transaction", err)
	}
	defer tx.Rollback(ctx)

	var version int
	var rawConfig []byte
	var key []byte

	row := tx.QueryRow(ctx,
		`UPDATE guild_config SET left_at = NULL WHERE id = $1 RETURNING version, config, encryption_key`,
		int64(guildID),
	)
	err = row.Scan(&version, &rawConfig, &key)

	var info GuildInfo
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		info, err = s.insertNewGuild(ctx, tx, guildID)
		if err != nil {
			return GuildInfo{}, err
		}
	case err != nil:
		return GuildInfo{}, xerrors.Transient("fetching guild config", err)
	default:
		if version > CurrentConfigVersion {
			return GuildInfo{}, xerrors.Fatal(
				"guild config version is newer than this build supports", nil)
		}
		cfg, cerr := UnmarshalConfig(rawConfig)
		if cerr != nil {
			return GuildInfo{}, cerr
		}
		info = GuildInfo{GuildID: guildID, Config: cfg, EncryptionKey: key}
	}

	if err := tx.Commit(ctx); err != nil {
		return GuildInfo{}, xerrors.Transient("committing guild-info transaction", err)
	}
	return info, nil
}

func (s *Store) insertNewGuild(ctx context.Context, tx pgx.Tx, guildID snowflake.ID) (GuildInfo, error) {
	cfg := DefaultGuildConfig()
	rawConfig, err := MarshalConfig(cfg)
	if err != nil {
		return GuildInfo{}, xerrors.Fatal("marshaling default guild config", err)
	}

	key, err := DeriveGuildKey(s.master, guildID)
	if err != nil {
		return GuildInfo{}, err
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO guild_config (id, version, encryption_key, config) VALUES ($1, $2, $3, $4)`,
		int64(guildID), CurrentConfigVersion, key, rawConfig,
	); err != nil {
		return GuildInfo{}, xerrors.Transient("inserting new guild config", err)
	}

	return GuildInfo{GuildID: guildID, Config: cfg, EncryptionKey: key}, nil
}

// GetGuildInfoBulk returns the subset of the given ids already present in
// the store, clearing each row's left-at timestamp in the same statement.
// Ids with no row are silently omitted; callers fall back to
// GetOrCreateGuildInfo for those.
func (s *Store) GetGuildInfoBulk(ctx context.Context, guildIDs []snowflake.ID) (map[snowflake.ID]GuildInfo, error) {
	ids := make([]int64, len(guildIDs))
	for i, id := range guildIDs {
		ids[i] = int64(id)
	}

	rows, err := s.pool.Query(ctx,
		`UPDATE guild_config SET left_at = NULL WHERE id = ANY($1) RETURNING id, version, config, encryption_key`,
		ids,
	)
	if err != nil {
		return nil, xerrors.Transient("bulk-fetching guild configs", err)
	}
	defer rows.Close()

	result := make(map[snowflake.ID]GuildInfo, len(guildIDs))
	for rows.Next() {
		var rawID int64
		var version int
		var rawConfig []byte
		var key []byte
		if err := rows.Scan(&rawID, &version, &rawConfig, &key); err != nil {
			return nil, xerrors.Transient("scanning bulk guild config row", err)
		}
		if version > CurrentConfigVersion {
			return nil, xerrors.Fatal("guild config version is newer than this build supports", nil)
		}
		cfg, err := UnmarshalConfig(rawConfig)
		if err != nil {
			return nil, err
		}
		id := snowflake.ID(rawID)
		result[id] = GuildInfo{GuildID: id, Config: cfg, EncryptionKey: key}
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Transient("iterating bulk guild config rows", err)
	}
	return result, nil
}

// SaveGuildConfig persists a config under CurrentConfigVersion's tag.
func (s *Store) SaveGuildConfig(ctx context.Context, guildID snowflake.ID, cfg GuildConfig) error {
	raw, err := MarshalConfig(cfg)
	if err != nil {
		return xerrors.Fatal("marshaling guild config", err)
	}
	if _, err := s.pool.Exec(ctx,
		`UPDATE guild_config SET version = $1, config = $2 WHERE id = $3`,
		CurrentConfigVersion, raw, int64(guildID),
	); err != nil {
		return xerrors.Transient("saving guild config", err)
	}
	return nil
}

// MarkLeft stamps a guild's left_at timestamp, used when the cluster
// observes a GuildDelete with unavailable=false (the bot was removed, not
// a temporary outage).
func (s *Store) MarkLeft(ctx context.Context, guildID snowflake.ID, at time.Time) error {
	if _, err := s.pool.Exec(ctx,
		`UPDATE guild_config SET left_at = $1 WHERE id = $2`,
		at, int64(guildID),
	); err != nil {
		return xerrors.Transient("marking guild left", err)
	}
	return nil
}

// MessageKind mirrors the gateway's message type enum, stored as a plain
// int per the relational schema.
type MessageKind int

// Message is a message_logs record: content is encrypted before it
// reaches this layer, this struct only shapes the row.
type Message struct {
	ID              snowflake.ID
	Content         []byte // ciphertext, see Encrypt
	AuthorID        snowflake.ID
	ChannelID       snowflake.ID
	GuildID         snowflake.ID
	StickersJSON    []byte
	Kind            MessageKind
	AttachmentCount int
	Pinned          bool
}

// SaveMessage persists a message row. Callers must have already encrypted
// Content with the guild's key and the message's own id (see Encrypt);
// this layer does not perform encryption itself, so that batched paths
// can encrypt once and reuse the ciphertext across retries.
func (s *Store) SaveMessage(ctx context.Context, m Message) error {
	if _, err := s.pool.Exec(ctx,
		`INSERT INTO message (id, content, author, channel, guild, stickers, type, attachments, pinned)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (id) DO UPDATE SET content = EXCLUDED.content, pinned = EXCLUDED.pinned`,
		int64(m.ID), m.Content, int64(m.AuthorID), int64(m.ChannelID), int64(m.GuildID),
		m.StickersJSON, int(m.Kind), m.AttachmentCount, m.Pinned,
	); err != nil {
		return xerrors.Transient("saving message record", err)
	}
	return nil
}

// Attachment is an attachment_logs record: name and description are
// encrypted under the owning message's guild key before reaching here.
type Attachment struct {
	ID              snowflake.ID
	Name            []byte
	Description     []byte
	OwningMessageID snowflake.ID
}

// SaveAttachment persists an attachment row.
func (s *Store) SaveAttachment(ctx context.Context, a Attachment) error {
	if _, err := s.pool.Exec(ctx,
		`INSERT INTO attachment (id, name, description, message_id) VALUES ($1, $2, $3, $4)`,
		int64(a.ID), a.Name, a.Description, int64(a.OwningMessageID),
	); err != nil {
		return xerrors.Transient("saving attachment record", err)
	}
	return nil
}

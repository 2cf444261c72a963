package datastore

import (
	"context"
	"os"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/gearbot/GearBot-2/internal/snowflake"
)

// These exercise Store against a real Postgres instance carrying the
// guild_config/message/attachment schema and the cleanup_if_needed()
// procedure (owned externally, see the datastore's SQL schema Non-goal).
// Skipped unless TEST_DATABASE_URL is set, mirroring JantsoP-dutil's
// skip-without-live-credentials pattern.
func testStore(t *testing.T) *Store {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping datastore integration test")
	}
	key := make([]byte, KeySize)
	for i := range key {
		key[i] = byte(i)
	}
	s, err := Open(context.Background(), url, 5, key, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func TestGetOrCreateGuildInfoCreatesOnFirstCall(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	info, err := s.GetOrCreateGuildInfo(ctx, snowflake.ID(123456789))
	require.NoError(t, err)
	require.Len(t, info.EncryptionKey, KeySize)
	require.Equal(t, DefaultGuildConfig(), info.Config)

	again, err := s.GetOrCreateGuildInfo(ctx, snowflake.ID(123456789))
	require.NoError(t, err)
	require.Equal(t, info.EncryptionKey, again.EncryptionKey, "second call must return the same stored key, not derive a new one")
}

func TestGetGuildInfoBulkOmitsUnknownIDs(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	known := snowflake.ID(987654321)
	_, err := s.GetOrCreateGuildInfo(ctx, known)
	require.NoError(t, err)

	result, err := s.GetGuildInfoBulk(ctx, []snowflake.ID{known, snowflake.ID(111)})
	require.NoError(t, err)
	_, ok := result[known]
	require.True(t, ok)
	_, ok = result[snowflake.ID(111)]
	require.False(t, ok, "ids with no row must be silently omitted")
}

func TestSaveGuildConfigRoundTrips(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	id := snowflake.ID(55555)
	_, err := s.GetOrCreateGuildInfo(ctx, id)
	require.NoError(t, err)

	cfg := DefaultGuildConfig()
	cfg.AntiSpam.Enabled = true
	require.NoError(t, s.SaveGuildConfig(ctx, id, cfg))

	got, err := s.GetOrCreateGuildInfo(ctx, id)
	require.NoError(t, err)
	require.True(t, got.Config.AntiSpam.Enabled)
}

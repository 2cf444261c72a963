// Package snowflake implements the 64-bit opaque identifiers used
// throughout the cache: guilds, channels, roles, members and users are all
// keyed by one of these.
package snowflake

import (
	"fmt"
	"strconv"
	"time"
)

// Epoch is the fixed reference point snowflake timestamps are relative to.
const Epoch int64 = 1420070400000

// ID is a 64-bit opaque identifier. The top 42 bits encode a creation
// timestamp as a millisecond offset from Epoch.
type ID uint64

// Nil is not a legal id anywhere in the cache.
const Nil ID = 0

// Timestamp returns the creation time encoded in the id.
func (id ID) Timestamp() time.Time {
	ms := int64(id>>22) + Epoch
	return time.UnixMilli(ms)
}

// IsNil reports whether the id is the zero value.
func (id ID) IsNil() bool {
	return id == Nil
}

// String renders the id the way it appears on the wire: a base-10 string,
// since the values can exceed what some JSON/metrics consumers treat as a
// safe integer.
func (id ID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// MarshalJSON renders the id as a quoted decimal string, matching how the
// gateway sends every id over the wire (raw JSON numbers lose precision
// above 2^53, so Discord quotes them and so do we).
func (id ID) MarshalJSON() ([]byte, error) {
	return []byte(`"` + id.String() + `"`), nil
}

// UnmarshalJSON accepts either a quoted string or a bare JSON number, since
// some internal call sites build payloads without bothering to quote them.
func (id *ID) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	if s == "" || s == "null" {
		*id = Nil
		return nil
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return fmt.Errorf("snowflake: invalid id %q: %w", s, err)
	}
	*id = ID(v)
	return nil
}

// ShardID returns the shard that owns a guild with this id, per
// (guild_id >> 22) mod total_shards.
func (id ID) ShardID(totalShards int) int {
	if totalShards <= 0 {
		return 0
	}
	return int((uint64(id) >> 22) % uint64(totalShards))
}

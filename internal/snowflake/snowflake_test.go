package snowflake

import (
	"encoding/json"
	"testing"
)

func TestShardID(t *testing.T) {
	cases := []struct {
		id          ID
		totalShards int
		want        int
	}{
		{ID(0), 4, 0},
		{ID(1 << 22), 4, 1},
		{ID(5 << 22), 4, 1},
		{ID(4 << 22), 1, 0},
	}

	for _, c := range cases {
		if got := c.id.ShardID(c.totalShards); got != c.want {
			t.Errorf("ID(%d).ShardID(%d) = %d, want %d", c.id, c.totalShards, got, c.want)
		}
	}
}

func TestIsNil(t *testing.T) {
	if !Nil.IsNil() {
		t.Error("Nil should report IsNil")
	}
	if ID(1).IsNil() {
		t.Error("ID(1) should not report IsNil")
	}
}

func TestJSONRoundTripsAsQuotedString(t *testing.T) {
	id := ID(175928847299117063)
	raw, err := json.Marshal(id)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(raw) != `"175928847299117063"` {
		t.Errorf("got %s, want quoted decimal string", raw)
	}

	var got ID
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got != id {
		t.Errorf("got %d, want %d", got, id)
	}
}

func TestUnmarshalJSONAcceptsNull(t *testing.T) {
	var got ID = 5
	if err := json.Unmarshal([]byte("null"), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got != Nil {
		t.Errorf("got %d, want Nil", got)
	}
}

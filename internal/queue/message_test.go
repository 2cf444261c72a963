package queue

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack"

	"github.com/gearbot/GearBot-2/internal/snowflake"
)

func TestEncodeDecodeHello(t *testing.T) {
	raw, err := Encode(Message{Kind: KindGeneral, General: Hello()})
	require.NoError(t, err)

	got, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, KindGeneral, got.Kind)
	assert.Equal(t, GeneralHello, got.General.Kind)
}

func TestEncodeDecodeShutdownAt(t *testing.T) {
	id := uuid.New()
	at := time.Now().Truncate(time.Millisecond)
	raw, err := Encode(Message{Kind: KindGeneral, General: NewShutdownAt(at, id)})
	require.NoError(t, err)

	got, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, GeneralShutdownAt, got.General.Kind)
	assert.Equal(t, id, got.General.UUID)
	assert.True(t, at.Equal(got.General.Time))
}

func TestEncodeDecodeInteractionDebug(t *testing.T) {
	msg := Message{
		Kind: KindInteraction,
		Interaction: Interaction{
			Token:  "tok",
			Locale: "en-US",
			Command: InteractionCommand{
				Kind:      CommandDebug,
				Component: "cache",
				GuildID:   snowflake.ID(123),
			},
		},
	}
	raw, err := Encode(msg)
	require.NoError(t, err)

	got, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, KindInteraction, got.Kind)
	assert.Equal(t, CommandDebug, got.Interaction.Command.Kind)
	assert.Equal(t, "cache", got.Interaction.Command.Component)
	assert.Equal(t, snowflake.ID(123), got.Interaction.Command.GuildID)
}

func TestEncodeDecodeInteractionUserinfo(t *testing.T) {
	msg := Message{
		Kind: KindInteraction,
		Interaction: Interaction{
			Token:  "tok2",
			Locale: "de",
			Command: InteractionCommand{
				Kind:    CommandUserinfo,
				UserID:  snowflake.ID(42),
				GuildID: snowflake.ID(99),
			},
		},
	}
	raw, err := Encode(msg)
	require.NoError(t, err)

	got, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, CommandUserinfo, got.Interaction.Command.Kind)
	assert.Equal(t, snowflake.ID(42), got.Interaction.Command.UserID)
	assert.Equal(t, snowflake.ID(99), got.Interaction.Command.GuildID)
}

func TestDecodeRejectsUnknownKind(t *testing.T) {
	raw, err := msgpack.Marshal(wireEnvelope{Kind: "bogus"})
	require.NoError(t, err)
	_, err = Decode(raw)
	assert.Error(t, err)
}

// Package queue defines the cluster's wire message format and wraps
// franz-go producer/consumer access to it. Grounded on spec §6's message
// schema and on the teacher's events.go/manager.go, which marshal a
// StreamEvent{Type string, Data interface{}} envelope with msgpack before
// publishing to NATS Streaming; this package keeps that envelope shape
// but swaps the transport for Kafka via twmb/franz-go.
package queue

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack"

	"github.com/gearbot/GearBot-2/internal/snowflake"
)

// Kind discriminates the top-level Message union.
type Kind string

const (
	KindGeneral     Kind = "general"
	KindInteraction Kind = "interaction"
)

// GeneralKind discriminates the General sub-union.
type GeneralKind string

const (
	GeneralHello       GeneralKind = "hello"
	GeneralShutdownAt  GeneralKind = "shutdown_at"
)

// General is Hello | ShutdownAt{time, uuid}. Fields irrelevant to Kind
// are left at their zero value, the same flattened-tagged-union shape
// internal/cache.Channel uses for Discord's channel variants.
type General struct {
	Kind GeneralKind `msgpack:"kind"`

	// ShutdownAt fields.
	Time time.Time `msgpack:"time,omitempty"`
	UUID uuid.UUID `msgpack:"uuid,omitempty"`
}

// Hello builds the loneliness-check marker message.
func Hello() General {
	return General{Kind: GeneralHello}
}

// NewShutdownAt builds a scheduled-takeover marker.
func NewShutdownAt(at time.Time, self uuid.UUID) General {
	return General{Kind: GeneralShutdownAt, Time: at, UUID: self}
}

// InteractionCommandKind discriminates the InteractionCommand sub-union.
type InteractionCommandKind string

const (
	CommandDebug     InteractionCommandKind = "debug"
	CommandUserinfo  InteractionCommandKind = "userinfo"
)

// InteractionCommand is Debug{component, guild_id} | Userinfo{user_id, guild_id}.
type InteractionCommand struct {
	Kind InteractionCommandKind `msgpack:"kind"`

	Component string       `msgpack:"component,omitempty"`
	UserID    snowflake.ID `msgpack:"user_id,omitempty"`
	GuildID   snowflake.ID `msgpack:"guild_id"`
}

// Interaction carries a parsed command through to its destination
// cluster along with the token/locale the front-end resolved it with.
type Interaction struct {
	Token   string              `msgpack:"token"`
	Locale  string              `msgpack:"locale"`
	Command InteractionCommand  `msgpack:"command"`
}

// Message is the top-level tagged union every wire frame carries:
// General(General) | Interaction(Interaction).
type Message struct {
	Kind        Kind
	General     General
	Interaction Interaction
}

// wireEnvelope is the on-the-wire shape: a kind discriminator plus the
// raw-encoded payload, decoded in two passes so a reader never needs to
// know the payload's shape before it knows the kind. msgpack.RawMessage
// defers decoding the same way encoding/json.RawMessage does.
type wireEnvelope struct {
	Kind Kind                `msgpack:"kind"`
	Data msgpack.RawMessage  `msgpack:"data"`
}

// Encode serializes a Message for publication.
func Encode(m Message) ([]byte, error) {
	var payload interface{}
	switch m.Kind {
	case KindGeneral:
		payload = m.General
	case KindInteraction:
		payload = m.Interaction
	default:
		return nil, fmt.Errorf("queue: unknown message kind %q", m.Kind)
	}

	raw, err := msgpack.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("queue: marshaling %s payload: %w", m.Kind, err)
	}

	return msgpack.Marshal(wireEnvelope{Kind: m.Kind, Data: raw})
}

// Decode deserializes a Message received from the broker.
func Decode(raw []byte) (Message, error) {
	var env wireEnvelope
	if err := msgpack.Unmarshal(raw, &env); err != nil {
		return Message{}, fmt.Errorf("queue: decoding envelope: %w", err)
	}

	var m Message
	m.Kind = env.Kind
	switch env.Kind {
	case KindGeneral:
		if err := msgpack.Unmarshal(env.Data, &m.General); err != nil {
			return Message{}, fmt.Errorf("queue: decoding general payload: %w", err)
		}
	case KindInteraction:
		if err := msgpack.Unmarshal(env.Data, &m.Interaction); err != nil {
			return Message{}, fmt.Errorf("queue: decoding interaction payload: %w", err)
		}
	default:
		return Message{}, fmt.Errorf("queue: unknown message kind %q", env.Kind)
	}
	return m, nil
}

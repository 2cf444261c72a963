package queue

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// These exercise Producer/Consumer against a real Kafka-compatible broker.
// Skipped unless TEST_KAFKA_BOOTSTRAP is set, mirroring the datastore
// package's TEST_DATABASE_URL skip (see internal/datastore/store_test.go):
// neither a broker nor a database can be faked without reimplementing it.
func testBrokers(t *testing.T) []string {
	t.Helper()
	addr := os.Getenv("TEST_KAFKA_BOOTSTRAP")
	if addr == "" {
		t.Skip("TEST_KAFKA_BOOTSTRAP not set, skipping queue integration test")
	}
	return []string{addr}
}

func TestProducerConsumerRoundTrip(t *testing.T) {
	brokers := testBrokers(t)
	topic := "gearbot_test_roundtrip"
	group := topic

	var mu sync.Mutex
	var received []Message
	done := make(chan struct{}, 1)

	consumer, err := NewConsumer(brokers, topic, group, func(_ context.Context, m Message) {
		mu.Lock()
		received = append(received, m)
		mu.Unlock()
		select {
		case done <- struct{}{}:
		default:
		}
	}, zerolog.Nop())
	require.NoError(t, err)
	consumer.Start()
	defer consumer.Stop()

	producer, err := NewProducer(brokers, topic, zerolog.Nop())
	require.NoError(t, err)
	defer producer.Close()

	producer.Publish(Message{Kind: KindGeneral, General: Hello()})

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for message round trip")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 1)
	require.Equal(t, GeneralHello, received[0].General.Kind)
}

func TestGroupMemberCountOnFreshGroupIsZero(t *testing.T) {
	brokers := testBrokers(t)
	topic := "gearbot_test_lonely"
	consumer, err := NewConsumer(brokers, topic, topic, func(context.Context, Message) {}, zerolog.Nop())
	require.NoError(t, err)
	defer consumer.Stop()

	count, err := consumer.GroupMemberCount(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, count, "a group with no active consumer loop running must report zero members")
}

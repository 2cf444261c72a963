package queue

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/twmb/franz-go/pkg/kgo"
)

// bufferSize matches the teacher's produceChannel buffering in manager.go.
const bufferSize = 256

// Producer publishes Messages to a single cluster topic. It mirrors the
// teacher's ForwardProduce: a buffered channel fed by callers, drained by
// one goroutine that marshals and publishes, so a slow broker never blocks
// the caller beyond the buffer.
type Producer struct {
	log    zerolog.Logger
	client *kgo.Client
	topic  string
	ch     chan Message
	done   chan struct{}
}

// NewProducer dials the given brokers and starts the forwarding loop.
func NewProducer(brokers []string, topic string, log zerolog.Logger) (*Producer, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
	)
	if err != nil {
		return nil, err
	}

	p := &Producer{
		log:    log,
		client: client,
		topic:  topic,
		ch:     make(chan Message, bufferSize),
		done:   make(chan struct{}),
	}
	go p.forward()
	return p, nil
}

// Publish queues a message for publication. It never blocks the caller
// beyond the buffer filling up.
func (p *Producer) Publish(m Message) {
	p.ch <- m
}

func (p *Producer) forward() {
	defer close(p.done)
	for m := range p.ch {
		raw, err := Encode(m)
		if err != nil {
			p.log.Warn().Err(err).Str("kind", string(m.Kind)).Msg("failed to encode queue message")
			continue
		}
		p.client.Produce(context.Background(), &kgo.Record{Topic: p.topic, Value: raw}, func(_ *kgo.Record, err error) {
			if err != nil {
				p.log.Warn().Err(err).Str("kind", string(m.Kind)).Msg("failed to publish queue message")
			}
		})
	}
}

// Close drains the send buffer, flushes outstanding produces, and closes
// the underlying client.
func (p *Producer) Close() {
	close(p.ch)
	<-p.done
	p.client.Flush(context.Background())
	p.client.Close()
}

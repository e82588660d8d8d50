package auditchain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/twmb/franz-go/pkg/kgo"

	"trustnet/pkg/platform/circuit"
)

// ErrMirrorSuspended is returned while the broker breaker is open. The chain keeps
// appending; only the mirror falls behind.
var ErrMirrorSuspended = errors.New("audit mirror suspended after repeated broker failures")

// KafkaPublisher mirrors appended entries onto a topic keyed by sequence number,
// so downstream consumers can keep an independent copy of the chain.
type KafkaPublisher struct {
	client  *kgo.Client
	topic   string
	breaker *circuit.Breaker
}

// NewKafkaPublisher connects to brokers. The client is lazy; no broker round trip
// happens until the first produce.
func NewKafkaPublisher(brokers []string, topic string, opts ...circuit.Option) (*KafkaPublisher, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return &KafkaPublisher{
		client:  client,
		topic:   topic,
		breaker: circuit.New("audit-kafka", opts...),
	}, nil
}

func (p *KafkaPublisher) Publish(ctx context.Context, e *Entry) error {
	if !p.breaker.Allow() {
		return ErrMirrorSuspended
	}
	value, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode audit entry: %w", err)
	}
	record := &kgo.Record{
		Key:   []byte(strconv.FormatInt(e.Seq, 10)),
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: "action", Value: []byte(e.Action)},
		},
	}
	if err := p.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		p.breaker.RecordFailure()
		return fmt.Errorf("produce audit entry: %w", err)
	}
	p.breaker.RecordSuccess()
	return nil
}

func (p *KafkaPublisher) Close() {
	p.client.Close()
}

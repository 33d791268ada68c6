package events

import (
	"context"
	"encoding/json"

	"github.com/IBM/sarama"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// KafkaOptions configures the Kafka sink.
type KafkaOptions struct {
	Brokers  []string
	Topic    string
	Username string
	Password string
}

// NewSaramaConfig builds the producer configuration. Events are keyed by
// session, so the hash partitioner keeps one session on one partition.
func NewSaramaConfig(opts KafkaOptions) *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_8_0_0
	cfg.ClientID = "supportdesk"

	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 3
	cfg.Producer.Return.Successes = true
	cfg.Producer.Partitioner = sarama.NewHashPartitioner

	if opts.Username != "" && opts.Password != "" {
		cfg.Net.SASL.Enable = true
		cfg.Net.SASL.Mechanism = sarama.SASLTypePlaintext
		cfg.Net.SASL.User = opts.Username
		cfg.Net.SASL.Password = opts.Password
		cfg.Net.SASL.Handshake = true
	}
	return cfg
}

// KafkaPublisher sends events to a Kafka topic through a sync producer.
type KafkaPublisher struct {
	producer sarama.SyncProducer
	topic    string
}

// NewKafkaPublisher dials the brokers.
func NewKafkaPublisher(opts KafkaOptions) (*KafkaPublisher, error) {
	if len(opts.Brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	if opts.Topic == "" {
		return nil, errors.New("kafka topic is required")
	}
	producer, err := sarama.NewSyncProducer(opts.Brokers, NewSaramaConfig(opts))
	if err != nil {
		return nil, errors.Wrap(err, "create kafka producer")
	}
	return NewKafkaPublisherWithProducer(producer, opts.Topic), nil
}

// NewKafkaPublisherWithProducer wraps an existing producer.
func NewKafkaPublisherWithProducer(producer sarama.SyncProducer, topic string) *KafkaPublisher {
	return &KafkaPublisher{producer: producer, topic: topic}
}

// Publish implements Publisher.
func (p *KafkaPublisher) Publish(_ context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return errors.Wrap(err, "encode event")
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(event.Key()),
		Value: sarama.ByteEncoder(payload),
	}
	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		return errors.Wrapf(err, "send %s to kafka", event.Type)
	}

	log.WithFields(log.Fields{
		"event":     event.Type,
		"partition": partition,
		"offset":    offset,
	}).Trace("event delivered")
	return nil
}

// Close flushes and closes the producer.
func (p *KafkaPublisher) Close() error {
	return p.producer.Close()
}

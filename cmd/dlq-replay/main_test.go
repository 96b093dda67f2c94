package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"io"
	"testing"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/dormside/internal/messaging/kafka"
)

type fakeClient struct {
	partitions []int32
	oldest     map[int32]int64
	newest     map[int32]int64
}

func (c *fakeClient) GetOffset(_ string, partition int32, which int64) (int64, error) {
	if which == sarama.OffsetOldest {
		return c.oldest[partition], nil
	}
	return c.newest[partition], nil
}

func (c *fakeClient) Partitions(string) ([]int32, error) { return c.partitions, nil }
func (c *fakeClient) Close() error                       { return nil }

type fakePartition struct {
	messages chan *sarama.ConsumerMessage
	errors   chan *sarama.ConsumerError
}

func (p *fakePartition) Messages() <-chan *sarama.ConsumerMessage { return p.messages }
func (p *fakePartition) Errors() <-chan *sarama.ConsumerError     { return p.errors }
func (p *fakePartition) Close() error                             { return nil }

type fakeConsumer struct {
	byPartition map[int32][]*sarama.ConsumerMessage
	starts      map[int32]int64
}

func (c *fakeConsumer) ConsumePartition(_ string, partition int32, offset int64) (partitionConsumer, error) {
	if c.starts == nil {
		c.starts = make(map[int32]int64)
	}
	c.starts[partition] = offset

	pc := &fakePartition{
		messages: make(chan *sarama.ConsumerMessage, len(c.byPartition[partition])),
		errors:   make(chan *sarama.ConsumerError),
	}
	for _, msg := range c.byPartition[partition] {
		if msg.Offset >= offset {
			pc.messages <- msg
		}
	}
	return pc, nil
}

func (c *fakeConsumer) Close() error { return nil }

type fakeProducer struct {
	sent []*sarama.ProducerMessage
	err  error
}

func (p *fakeProducer) SendMessage(msg *sarama.ProducerMessage) (int32, int64, error) {
	if p.err != nil {
		return 0, 0, p.err
	}
	p.sent = append(p.sent, msg)
	return 0, int64(len(p.sent)), nil
}

func (p *fakeProducer) Close() error { return nil }

func deadLetter(t *testing.T, partition int32, offset int64, orderID, eventType string) *sarama.ConsumerMessage {
	t.Helper()

	inner, err := json.Marshal(kafka.DeadLetterPayload{
		OutboxID:      "evt-" + orderID,
		AggregateType: "order",
		AggregateID:   orderID,
		EventType:     eventType,
		Payload:       json.RawMessage(`{"status":"paid"}`),
		PublishError:  "broker unavailable",
	})
	require.NoError(t, err)

	outer, err := json.Marshal(kafka.OrderEventEnvelope{
		ID:            "evt-" + orderID,
		AggregateType: "order",
		AggregateID:   orderID,
		EventType:     eventType,
		Payload:       inner,
	})
	require.NoError(t, err)

	return &sarama.ConsumerMessage{
		Topic:     kafka.TopicDeadLetterQueue,
		Partition: partition,
		Offset:    offset,
		Value:     outer,
	}
}

func quietLogger() *log.Entry {
	logger := log.New()
	logger.SetOutput(io.Discard)
	return log.NewEntry(logger)
}

func testConfig() config {
	return config{
		brokers:     []string{"localhost:9092"},
		sourceTopic: kafka.TopicDeadLetterQueue,
		targetTopic: kafka.TopicOrderEvents,
		limit:       100,
		idleTimeout: 50 * time.Millisecond,
	}
}

func newTestReplayer(cfg config, consumer *fakeConsumer, producer *fakeProducer) *replayer {
	client := &fakeClient{oldest: map[int32]int64{}, newest: map[int32]int64{}}
	for partition, msgs := range consumer.byPartition {
		client.partitions = append(client.partitions, partition)
		if len(msgs) > 0 {
			client.oldest[partition] = msgs[0].Offset
			client.newest[partition] = msgs[len(msgs)-1].Offset + 1
		}
	}

	r := &replayer{
		cfg:      cfg,
		client:   client,
		consumer: consumer,
		logger:   quietLogger(),
		now:      func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) },
	}
	if producer != nil {
		r.producer = producer
	}
	return r
}

func TestParseFlags(t *testing.T) {
	env := map[string]string{"KAFKA_BROKERS": " kafka-1:9092, ,kafka-2:9092 "}
	getenv := func(key string) string { return env[key] }

	cfg, err := parseFlags(flag.NewFlagSet("test", flag.ContinueOnError), []string{"-execute", "-order-id", " order-1 "}, getenv)
	require.NoError(t, err)

	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.brokers)
	assert.Equal(t, kafka.TopicDeadLetterQueue, cfg.sourceTopic)
	assert.Equal(t, kafka.TopicOrderEvents, cfg.targetTopic)
	assert.Equal(t, "order-1", cfg.orderID)
	assert.True(t, cfg.execute)
	assert.Equal(t, defaultLimit, cfg.limit)
}

func TestParseFlags_Invalid(t *testing.T) {
	noEnv := func(string) string { return "" }

	tests := []struct {
		name string
		args []string
	}{
		{name: "no brokers", args: nil},
		{name: "zero limit", args: []string{"-brokers", "k:9092", "-limit", "0"}},
		{name: "zero idle timeout", args: []string{"-brokers", "k:9092", "-idle-timeout", "0s"}},
		{name: "same topics", args: []string{"-brokers", "k:9092", "-target-topic", kafka.TopicDeadLetterQueue}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := flag.NewFlagSet("test", flag.ContinueOnError)
			fs.SetOutput(io.Discard)
			_, err := parseFlags(fs, tt.args, noEnv)
			assert.Error(t, err)
		})
	}
}

func TestDecodeDeadLetter(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	replay, err := decodeDeadLetter(deadLetter(t, 2, 7, "order-1", "order.paid"), now)
	require.NoError(t, err)

	assert.Equal(t, "order-1", replay.key)
	assert.Equal(t, "evt-order-1", replay.envelope.ID)
	assert.Equal(t, "order.paid", replay.envelope.EventType)
	assert.JSONEq(t, `{"status":"paid"}`, string(replay.envelope.Payload))
	assert.Equal(t, now, replay.envelope.PublishedAt)
	assert.Equal(t, kafka.TopicDeadLetterQueue+"/2/7", replay.origin)
}

func TestDecodeDeadLetter_Rejects(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name  string
		value string
	}{
		{name: "not json", value: `not-json`},
		{name: "no payload", value: `{"id":"evt-1"}`},
		{name: "no original payload", value: `{"id":"evt-1","payload":{"outbox_id":"evt-1","aggregate_id":"order-1"}}`},
		{name: "null original payload", value: `{"id":"evt-1","payload":{"outbox_id":"evt-1","payload":null}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := decodeDeadLetter(&sarama.ConsumerMessage{Value: []byte(tt.value)}, now)
			assert.Error(t, err)
		})
	}
}

func TestReplayer_DryRunDoesNotPublish(t *testing.T) {
	consumer := &fakeConsumer{byPartition: map[int32][]*sarama.ConsumerMessage{
		0: {deadLetter(t, 0, 0, "order-1", "order.paid"), deadLetter(t, 0, 1, "order-2", "order.created")},
	}}
	producer := &fakeProducer{}

	stats, err := newTestReplayer(testConfig(), consumer, producer).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, replayStats{scanned: 2, replayed: 2}, stats)
	assert.Empty(t, producer.sent)
}

func TestReplayer_ExecutePublishesOriginalEvents(t *testing.T) {
	bad := &sarama.ConsumerMessage{Topic: kafka.TopicDeadLetterQueue, Partition: 1, Offset: 4, Value: []byte(`garbage`)}
	consumer := &fakeConsumer{byPartition: map[int32][]*sarama.ConsumerMessage{
		1: {deadLetter(t, 1, 3, "order-1", "order.paid"), bad},
		0: {deadLetter(t, 0, 0, "order-2", "order.created")},
	}}
	producer := &fakeProducer{}

	cfg := testConfig()
	cfg.execute = true

	stats, err := newTestReplayer(cfg, consumer, producer).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, replayStats{scanned: 3, replayed: 2, skipped: 1}, stats)
	require.Len(t, producer.sent, 2)

	first := producer.sent[0]
	assert.Equal(t, kafka.TopicOrderEvents, first.Topic)
	key, err := first.Key.Encode()
	require.NoError(t, err)
	assert.Equal(t, "order-2", string(key))

	value, err := first.Value.Encode()
	require.NoError(t, err)
	var envelope kafka.OrderEventEnvelope
	require.NoError(t, json.Unmarshal(value, &envelope))
	assert.Equal(t, "order.created", envelope.EventType)
	assert.JSONEq(t, `{"status":"paid"}`, string(envelope.Payload))

	headers := make(map[string]string)
	for _, h := range first.Headers {
		headers[string(h.Key)] = string(h.Value)
	}
	assert.Equal(t, "order.created", headers[kafka.HeaderEventType])
	assert.Equal(t, kafka.TopicDeadLetterQueue+"/0/0", headers[headerReplayedFrom])
}

func TestReplayer_FiltersByOrderAndEventType(t *testing.T) {
	consumer := &fakeConsumer{byPartition: map[int32][]*sarama.ConsumerMessage{
		0: {
			deadLetter(t, 0, 0, "order-1", "order.created"),
			deadLetter(t, 0, 1, "order-1", "order.paid"),
			deadLetter(t, 0, 2, "order-2", "order.paid"),
		},
	}}
	producer := &fakeProducer{}

	cfg := testConfig()
	cfg.execute = true
	cfg.orderID = "order-1"
	cfg.eventType = "order.paid"

	stats, err := newTestReplayer(cfg, consumer, producer).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, replayStats{scanned: 3, replayed: 1, skipped: 2}, stats)
	require.Len(t, producer.sent, 1)
}

func TestReplayer_LimitAndFromNewest(t *testing.T) {
	var msgs []*sarama.ConsumerMessage
	for offset := int64(10); offset < 15; offset++ {
		msgs = append(msgs, deadLetter(t, 0, offset, "order-1", "order.paid"))
	}
	consumer := &fakeConsumer{byPartition: map[int32][]*sarama.ConsumerMessage{0: msgs}}

	cfg := testConfig()
	cfg.limit = 2
	cfg.fromNewest = true

	stats, err := newTestReplayer(cfg, consumer, nil).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, stats.scanned)
	assert.Equal(t, int64(13), consumer.starts[0])
}

func TestReplayer_ExecuteRequiresProducer(t *testing.T) {
	cfg := testConfig()
	cfg.execute = true

	_, err := newTestReplayer(cfg, &fakeConsumer{}, nil).Run(context.Background())
	assert.Error(t, err)
}

func TestReplayer_PublishFailureStops(t *testing.T) {
	consumer := &fakeConsumer{byPartition: map[int32][]*sarama.ConsumerMessage{
		0: {deadLetter(t, 0, 0, "order-1", "order.paid"), deadLetter(t, 0, 1, "order-2", "order.paid")},
	}}
	producer := &fakeProducer{err: errors.New("broker down")}

	cfg := testConfig()
	cfg.execute = true

	stats, err := newTestReplayer(cfg, consumer, producer).Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, stats.scanned)
	assert.Zero(t, stats.replayed)
}

func TestReplayer_CanceledContext(t *testing.T) {
	consumer := &fakeConsumer{byPartition: map[int32][]*sarama.ConsumerMessage{0: {}}}
	r := newTestReplayer(testConfig(), consumer, nil)
	r.client.(*fakeClient).newest[0] = 5

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

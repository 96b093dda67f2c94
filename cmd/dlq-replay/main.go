package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/dormside/internal/messaging/kafka"
)

const (
	defaultLimit       = 100
	defaultIdleTimeout = 2 * time.Second

	headerReplayedFrom = "x-replayed-from"
)

var errSkip = errors.New("skip")

type config struct {
	brokers     []string
	sourceTopic string
	targetTopic string
	orderID     string
	eventType   string
	limit       int
	execute     bool
	fromNewest  bool
	idleTimeout time.Duration
}

// replayMessage — событие, готовое к повторной публикации в targetTopic.
type replayMessage struct {
	key      string
	envelope kafka.OrderEventEnvelope
	origin   string
}

type offsetClient interface {
	GetOffset(topic string, partition int32, time int64) (int64, error)
	Partitions(topic string) ([]int32, error)
	Close() error
}

type partitionConsumer interface {
	Messages() <-chan *sarama.ConsumerMessage
	Errors() <-chan *sarama.ConsumerError
	Close() error
}

type consumerSource interface {
	ConsumePartition(topic string, partition int32, offset int64) (partitionConsumer, error)
	Close() error
}

type replayProducer interface {
	SendMessage(msg *sarama.ProducerMessage) (partition int32, offset int64, err error)
	Close() error
}

type saramaConsumer struct {
	consumer sarama.Consumer
}

func (c saramaConsumer) ConsumePartition(topic string, partition int32, offset int64) (partitionConsumer, error) {
	pc, err := c.consumer.ConsumePartition(topic, partition, offset)
	if err != nil {
		return nil, err
	}
	return pc, nil
}

func (c saramaConsumer) Close() error {
	return c.consumer.Close()
}

// replayer сканирует DLQ и возвращает события заказов обратно в основной topic.
type replayer struct {
	cfg      config
	client   offsetClient
	consumer consumerSource
	producer replayProducer
	logger   *log.Entry
	now      func() time.Time
}

type replayStats struct {
	scanned  int
	replayed int
	skipped  int
}

func (s *replayStats) add(other replayStats) {
	s.scanned += other.scanned
	s.replayed += other.replayed
	s.skipped += other.skipped
}

var dial = func(cfg config) (offsetClient, consumerSource, replayProducer, error) {
	consumerConfig := sarama.NewConfig()
	consumerConfig.ClientID = "dormside-dlq-replay"
	consumerConfig.Consumer.Return.Errors = true

	client, err := sarama.NewClient(cfg.brokers, consumerConfig)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create kafka client: %w", err)
	}

	consumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, nil, nil, fmt.Errorf("create kafka consumer: %w", err)
	}

	if !cfg.execute {
		return client, saramaConsumer{consumer: consumer}, nil, nil
	}

	producerConfig := sarama.NewConfig()
	producerConfig.ClientID = "dormside-dlq-replay"
	producerConfig.Producer.RequiredAcks = sarama.WaitForAll
	producerConfig.Producer.Retry.Max = 5
	producerConfig.Producer.Return.Successes = true
	producerConfig.Producer.Idempotent = true
	producerConfig.Net.MaxOpenRequests = 1

	producer, err := sarama.NewSyncProducer(cfg.brokers, producerConfig)
	if err != nil {
		_ = consumer.Close()
		_ = client.Close()
		return nil, nil, nil, fmt.Errorf("create kafka producer: %w", err)
	}

	return client, saramaConsumer{consumer: consumer}, producer, nil
}

func main() {
	_ = godotenv.Load()
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	cfg, err := parseFlags(flag.CommandLine, os.Args[1:], os.Getenv)
	if err != nil {
		log.WithError(err).Fatal("invalid flags")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Fatal("dlq replay failed")
	}
}

func parseFlags(fs *flag.FlagSet, args []string, getenv func(string) string) (config, error) {
	var (
		brokersRaw string
		cfg        config
	)

	fs.StringVar(&brokersRaw, "brokers", "", "comma-separated Kafka brokers (fallback: KAFKA_BROKERS)")
	fs.StringVar(&cfg.sourceTopic, "source-topic", kafka.TopicDeadLetterQueue, "DLQ topic to scan")
	fs.StringVar(&cfg.targetTopic, "target-topic", kafka.TopicOrderEvents, "topic to replay order events into")
	fs.StringVar(&cfg.orderID, "order-id", "", "replay only events of this order")
	fs.StringVar(&cfg.eventType, "event-type", "", "replay only events of this type, e.g. order.paid")
	fs.IntVar(&cfg.limit, "limit", defaultLimit, "max number of DLQ messages to scan")
	fs.BoolVar(&cfg.execute, "execute", false, "publish events; without it the tool only logs candidates")
	fs.BoolVar(&cfg.fromNewest, "from-newest", false, "scan the newest messages of each partition")
	fs.DurationVar(&cfg.idleTimeout, "idle-timeout", defaultIdleTimeout, "stop reading a partition after this idle period")
	if err := fs.Parse(args); err != nil {
		return config{}, err
	}

	if strings.TrimSpace(brokersRaw) == "" {
		brokersRaw = getenv("KAFKA_BROKERS")
	}
	cfg.brokers = splitBrokers(brokersRaw)
	cfg.orderID = strings.TrimSpace(cfg.orderID)
	cfg.eventType = strings.TrimSpace(cfg.eventType)

	switch {
	case len(cfg.brokers) == 0:
		return config{}, errors.New("kafka brokers are required (-brokers or KAFKA_BROKERS)")
	case strings.TrimSpace(cfg.sourceTopic) == "":
		return config{}, errors.New("source-topic is required")
	case strings.TrimSpace(cfg.targetTopic) == "":
		return config{}, errors.New("target-topic is required")
	case cfg.sourceTopic == cfg.targetTopic:
		return config{}, errors.New("source-topic and target-topic must differ")
	case cfg.limit <= 0:
		return config{}, errors.New("limit must be > 0")
	case cfg.idleTimeout <= 0:
		return config{}, errors.New("idle-timeout must be > 0")
	}

	return cfg, nil
}

func splitBrokers(raw string) []string {
	var brokers []string
	for _, chunk := range strings.Split(raw, ",") {
		if broker := strings.TrimSpace(chunk); broker != "" {
			brokers = append(brokers, broker)
		}
	}
	return brokers
}

func run(ctx context.Context, cfg config) error {
	client, consumer, producer, err := dial(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if producer != nil {
			_ = producer.Close()
		}
		_ = consumer.Close()
		_ = client.Close()
	}()

	r := &replayer{
		cfg:      cfg,
		client:   client,
		consumer: consumer,
		producer: producer,
		logger:   log.WithField("component", "dlq-replay"),
		now:      time.Now,
	}
	_, err = r.Run(ctx)
	return err
}

// Run обходит партиции sourceTopic по возрастанию, пока не просканирует limit сообщений.
func (r *replayer) Run(ctx context.Context) (replayStats, error) {
	var total replayStats

	if r.cfg.execute && r.producer == nil {
		return total, errors.New("producer is required in execute mode")
	}

	partitions, err := r.client.Partitions(r.cfg.sourceTopic)
	if err != nil {
		return total, fmt.Errorf("list partitions of %s: %w", r.cfg.sourceTopic, err)
	}
	sort.Slice(partitions, func(i, j int) bool { return partitions[i] < partitions[j] })

	r.logger.WithFields(log.Fields{
		"source_topic": r.cfg.sourceTopic,
		"target_topic": r.cfg.targetTopic,
		"partitions":   len(partitions),
		"execute":      r.cfg.execute,
		"order_id":     r.cfg.orderID,
		"event_type":   r.cfg.eventType,
	}).Info("dlq replay started")

	for _, partition := range partitions {
		remaining := r.cfg.limit - total.scanned
		if remaining <= 0 {
			break
		}
		stats, err := r.replayPartition(ctx, partition, remaining)
		total.add(stats)
		if err != nil {
			return total, err
		}
	}

	r.logger.WithFields(log.Fields{
		"scanned":  total.scanned,
		"replayed": total.replayed,
		"skipped":  total.skipped,
		"execute":  r.cfg.execute,
	}).Info("dlq replay finished")

	return total, nil
}

func (r *replayer) replayPartition(ctx context.Context, partition int32, limit int) (replayStats, error) {
	var stats replayStats

	oldest, err := r.client.GetOffset(r.cfg.sourceTopic, partition, sarama.OffsetOldest)
	if err != nil {
		return stats, fmt.Errorf("oldest offset of partition %d: %w", partition, err)
	}
	newest, err := r.client.GetOffset(r.cfg.sourceTopic, partition, sarama.OffsetNewest)
	if err != nil {
		return stats, fmt.Errorf("newest offset of partition %d: %w", partition, err)
	}
	if newest <= oldest {
		return stats, nil
	}

	start := oldest
	if r.cfg.fromNewest && newest-int64(limit) > oldest {
		start = newest - int64(limit)
	}

	pc, err := r.consumer.ConsumePartition(r.cfg.sourceTopic, partition, start)
	if err != nil {
		return stats, fmt.Errorf("consume partition %d: %w", partition, err)
	}
	defer func() { _ = pc.Close() }()

	idle := time.NewTimer(r.cfg.idleTimeout)
	defer idle.Stop()

	for stats.scanned < limit {
		select {
		case <-ctx.Done():
			return stats, ctx.Err()
		case <-idle.C:
			return stats, nil
		case cerr := <-pc.Errors():
			if cerr != nil {
				return stats, fmt.Errorf("partition %d: %w", partition, cerr)
			}
		case msg, ok := <-pc.Messages():
			if !ok || msg == nil || msg.Offset >= newest {
				return stats, nil
			}
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(r.cfg.idleTimeout)

			stats.scanned++
			if err := r.handle(msg); err != nil {
				if errors.Is(err, errSkip) {
					stats.skipped++
					continue
				}
				return stats, err
			}
			stats.replayed++

			if msg.Offset+1 >= newest {
				return stats, nil
			}
		}
	}

	return stats, nil
}

func (r *replayer) handle(msg *sarama.ConsumerMessage) error {
	logger := r.logger.WithFields(log.Fields{
		"partition": msg.Partition,
		"offset":    msg.Offset,
	})

	replay, err := decodeDeadLetter(msg, r.now().UTC())
	if err != nil {
		logger.WithError(err).Warn("skip undecodable dlq message")
		return errSkip
	}
	if !r.matches(replay.envelope) {
		return errSkip
	}

	logger = logger.WithFields(log.Fields{
		"order_id":   replay.envelope.AggregateID,
		"event_type": replay.envelope.EventType,
	})
	if !r.cfg.execute {
		logger.Info("dlq replay candidate")
		return nil
	}

	out, err := r.producerMessage(replay)
	if err != nil {
		return err
	}
	if _, _, err := r.producer.SendMessage(out); err != nil {
		return fmt.Errorf("replay %s: %w", replay.envelope.ID, err)
	}
	logger.Info("order event replayed")
	return nil
}

func (r *replayer) matches(envelope kafka.OrderEventEnvelope) bool {
	if r.cfg.orderID != "" && envelope.AggregateID != r.cfg.orderID {
		return false
	}
	if r.cfg.eventType != "" && envelope.EventType != r.cfg.eventType {
		return false
	}
	return true
}

func (r *replayer) producerMessage(replay replayMessage) (*sarama.ProducerMessage, error) {
	value, err := json.Marshal(replay.envelope)
	if err != nil {
		return nil, fmt.Errorf("encode replay envelope: %w", err)
	}

	headers := map[string]string{
		kafka.HeaderEventType:     replay.envelope.EventType,
		kafka.HeaderAggregateType: replay.envelope.AggregateType,
		kafka.HeaderOutboxID:      replay.envelope.ID,
		headerReplayedFrom:        replay.origin,
	}
	msg := &sarama.ProducerMessage{
		Topic:     r.cfg.targetTopic,
		Key:       sarama.StringEncoder(replay.key),
		Value:     sarama.ByteEncoder(value),
		Timestamp: replay.envelope.PublishedAt,
	}
	for name, v := range headers {
		msg.Headers = append(msg.Headers, sarama.RecordHeader{Key: []byte(name), Value: []byte(v)})
	}
	return msg, nil
}

// decodeDeadLetter разворачивает сообщение DLQ: внешний OrderEventEnvelope
// содержит DeadLetterPayload, внутри которого лежит исходное событие.
func decodeDeadLetter(msg *sarama.ConsumerMessage, now time.Time) (replayMessage, error) {
	var outer kafka.OrderEventEnvelope
	if err := json.Unmarshal(msg.Value, &outer); err != nil {
		return replayMessage{}, fmt.Errorf("decode dlq envelope: %w", err)
	}
	if len(outer.Payload) == 0 {
		return replayMessage{}, errors.New("dlq envelope has no payload")
	}

	var dead kafka.DeadLetterPayload
	if err := json.Unmarshal(outer.Payload, &dead); err != nil {
		return replayMessage{}, fmt.Errorf("decode dead letter: %w", err)
	}
	if len(dead.Payload) == 0 || string(dead.Payload) == "null" {
		return replayMessage{}, errors.New("dead letter has no original payload")
	}

	envelope := kafka.OrderEventEnvelope{
		ID:            firstNonEmpty(dead.OutboxID, outer.ID),
		AggregateType: firstNonEmpty(dead.AggregateType, outer.AggregateType),
		AggregateID:   firstNonEmpty(dead.AggregateID, outer.AggregateID),
		EventType:     firstNonEmpty(dead.EventType, outer.EventType),
		Payload:       dead.Payload,
		PublishedAt:   now,
	}

	return replayMessage{
		key:      firstNonEmpty(envelope.AggregateID, envelope.ID),
		envelope: envelope,
		origin:   msg.Topic + "/" + strconv.Itoa(int(msg.Partition)) + "/" + strconv.FormatInt(msg.Offset, 10),
	}, nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

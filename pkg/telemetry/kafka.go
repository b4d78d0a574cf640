package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/cenkalti/backoff/v4"

	"github.com/vladbarosan/oav-express/pkg/logging"
	"github.com/vladbarosan/oav-express/pkg/metrics"
)

const (
	kafkaMaxRetries     = 3
	kafkaInitialBackoff = 100 * time.Millisecond
	kafkaMaxBackoff     = 5 * time.Second
	kafkaQueueSize      = 1024
)

// KafkaConfig configures the Kafka trace publisher
type KafkaConfig struct {
	Brokers   []string
	Topic     string
	QueueSize int
}

// KafkaPublisher ships trace records to a Kafka topic. Records are queued in
// memory and sent by a single goroutine; when the queue is full new records
// are dropped.
type KafkaPublisher struct {
	topic    string
	producer sarama.SyncProducer
	queue    chan TraceRecord
	logger   *logging.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewKafkaConfig returns the producer configuration used for trace records
func NewKafkaConfig() *sarama.Config {
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForLocal
	config.Producer.Retry.Max = kafkaMaxRetries
	config.Producer.Return.Successes = true
	config.Producer.Compression = sarama.CompressionSnappy
	config.Producer.Flush.Frequency = 500 * time.Millisecond
	config.ClientID = "oav-express"
	return config
}

// NewKafkaPublisher connects to the brokers and starts the send loop
func NewKafkaPublisher(cfg KafkaConfig, logger *logging.Logger) (*KafkaPublisher, error) {
	producer, err := sarama.NewSyncProducer(cfg.Brokers, NewKafkaConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}
	return NewKafkaPublisherWithProducer(producer, cfg, logger), nil
}

// NewKafkaPublisherWithProducer wraps an existing producer
func NewKafkaPublisherWithProducer(producer sarama.SyncProducer, cfg KafkaConfig, logger *logging.Logger) *KafkaPublisher {
	if logger == nil {
		logger = logging.Nop()
	}
	size := cfg.QueueSize
	if size <= 0 {
		size = kafkaQueueSize
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &KafkaPublisher{
		topic:    cfg.Topic,
		producer: producer,
		queue:    make(chan TraceRecord, size),
		logger:   logger.WithField("publisher", "kafka"),
		ctx:      ctx,
		cancel:   cancel,
	}

	p.wg.Add(1)
	go p.run()
	return p
}

// Publish enqueues the record without blocking
func (p *KafkaPublisher) Publish(record TraceRecord) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		metrics.TelemetryDropped.WithLabelValues("kafka").Inc()
		return
	}

	select {
	case p.queue <- record:
	default:
		metrics.TelemetryDropped.WithLabelValues("kafka").Inc()
	}
}

func (p *KafkaPublisher) run() {
	defer p.wg.Done()
	for record := range p.queue {
		if err := p.send(record); err != nil {
			metrics.TelemetryDropped.WithLabelValues("kafka").Inc()
			p.logger.Warn("Dropping trace record after retries", map[string]interface{}{
				"session_id": record.SessionID,
				"error":      err,
			})
			continue
		}
		metrics.TelemetryPublished.WithLabelValues("kafka").Inc()
	}
}

func (p *KafkaPublisher) send(record TraceRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal trace record: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(record.SessionID), // Keep a session's records on one partition
		Value: sarama.ByteEncoder(data),
		Headers: []sarama.RecordHeader{
			{Key: []byte("validation_id"), Value: []byte(record.SessionID)},
			{Key: []byte("operation_id"), Value: []byte(record.OperationID)},
		},
		Timestamp: record.Timestamp,
	}

	operation := func() error {
		_, _, err := p.producer.SendMessage(msg)
		return err
	}

	strategy := backoff.WithContext(
		backoff.WithMaxRetries(
			backoff.NewExponentialBackOff(
				backoff.WithInitialInterval(kafkaInitialBackoff),
				backoff.WithMaxInterval(kafkaMaxBackoff),
			),
			kafkaMaxRetries,
		),
		p.ctx,
	)

	return backoff.RetryNotify(operation, strategy, func(err error, d time.Duration) {
		p.logger.Debug("Retrying Kafka publish", map[string]interface{}{
			"session_id": record.SessionID,
			"error":      err,
			"next_in":    d.String(),
		})
	})
}

// Close drains queued records and closes the producer
func (p *KafkaPublisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		// Stop retrying; whatever is left is dropped
		p.cancel()
		<-done
	}
	p.cancel()

	if err := p.producer.Close(); err != nil {
		return fmt.Errorf("failed to close Kafka producer: %w", err)
	}
	return nil
}

package stamper

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"
)

type KafkaOutput struct {
	producer sarama.AsyncProducer
	topic    string
	attempt  atomic.Uint64
	logger   *zap.Logger
}

// ackTag is carried in the producer message metadata. A failed SendBatch can
// leave acks in the producer channels, and a retry of the same batch reuses
// the IDs, so acks are matched on the attempt as well.
type ackTag struct {
	attempt uint64
	id      int64
}

func requiredAcks(acks string) sarama.RequiredAcks {
	switch acks {
	case "0":
		return sarama.NoResponse
	case "all":
		return sarama.WaitForAll
	default:
		return sarama.WaitForLocal
	}
}

func NewKafkaOutput(logger *zap.Logger, cfg *Config) (*KafkaOutput, error) {
	saramaCfg := sarama.NewConfig()
	saramaCfg.Producer.Return.Successes = true
	saramaCfg.Producer.Flush.Messages = cfg.FlushMessages
	saramaCfg.Producer.Flush.Frequency = cfg.FlushFrequency
	saramaCfg.ChannelBufferSize = cfg.ChannelBufferSize
	saramaCfg.Producer.RequiredAcks = requiredAcks(cfg.Acks)

	producer, err := sarama.NewAsyncProducer(cfg.Brokers, saramaCfg)
	if err != nil {
		logger.Error("failed to create Kafka producer", zap.Error(err))
		return nil, err
	}

	logger.Info("kafka producer initialized",
		zap.Strings("brokers", cfg.Brokers),
		zap.String("topic", cfg.OutputTopic),
		zap.String("acks", cfg.Acks),
	)
	return newKafkaOutput(logger, cfg.OutputTopic, producer), nil
}

func newKafkaOutput(logger *zap.Logger, topic string, producer sarama.AsyncProducer) *KafkaOutput {
	return &KafkaOutput{
		producer: producer,
		topic:    topic,
		logger:   logger,
	}
}

func toProducerMessage(topic string, attempt uint64, r Record) *sarama.ProducerMessage {
	id := FormatID(r.ID)
	headers := make([]sarama.RecordHeader, 0, len(r.Headers)+1)
	for _, h := range r.Headers {
		headers = append(headers, sarama.RecordHeader{Key: []byte(h.Key), Value: h.Value})
	}
	headers = append(headers, sarama.RecordHeader{Key: []byte(HeaderID), Value: []byte(id)})

	return &sarama.ProducerMessage{
		Topic:    topic,
		Key:      sarama.StringEncoder(id),
		Value:    sarama.ByteEncoder(r.Value),
		Headers:  headers,
		Metadata: ackTag{attempt: attempt, id: r.ID},
	}
}

// SendBatch publishes the batch and returns once every record was
// acknowledged, the producer reported an error, or ctx is done.
func (k *KafkaOutput) SendBatch(ctx context.Context, batch []Record) error {
	logger := k.logger.With(zap.String("method", "SendBatch"))
	if err := ctx.Err(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	attempt := k.attempt.Add(1)
	current := func(metadata any) (int64, bool) {
		tag, ok := metadata.(ackTag)
		if !ok || tag.attempt != attempt {
			return 0, false
		}
		return tag.id, true
	}

	remaining := make(map[int64]struct{}, len(batch))
	for _, r := range batch {
		remaining[r.ID] = struct{}{}
	}

	done := make(chan struct{})
	errChan := make(chan error, 1)

	go func() {
		for {
			select {
			case msg := <-k.producer.Successes():
				id, ok := current(msg.Metadata)
				if !ok {
					logger.Debug("kafka ack from a previous attempt")
					continue
				}
				if _, ok := remaining[id]; !ok {
					logger.Debug("kafka acked id outside current batch", zap.Int64("id", id))
					continue
				}
				delete(remaining, id)
				if len(remaining) == 0 {
					close(done)
					return
				}

			case err := <-k.producer.Errors():
				if err.Msg == nil {
					logger.Error("kafka send error", zap.Error(err.Err))
					errChan <- err.Err
					return
				}
				if _, ok := current(err.Msg.Metadata); !ok {
					logger.Debug("kafka error from a previous attempt", zap.Error(err.Err))
					continue
				}
				logger.Error("kafka send error", zap.Error(err.Err))
				errChan <- err.Err
				return

			case <-ctx.Done():
				return
			}
		}
	}()

	for _, r := range batch {
		select {
		case k.producer.Input() <- toProducerMessage(k.topic, attempt, r):
		case <-ctx.Done():
			logger.Warn("context cancelled while sending to kafka")
			return ctx.Err()
		case <-time.After(1 * time.Second):
			logger.Warn("timeout on Kafka input queue")
			return fmt.Errorf("timeout on input queue")
		}
	}

	select {
	case <-done:
		return nil
	case err := <-errChan:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (k *KafkaOutput) Close(ctx context.Context) error {
	k.logger.Info("kafka producer shutting down...")
	done := make(chan struct{})

	go func() {
		if err := k.producer.Close(); err != nil {
			k.logger.Warn("error while closing Kafka producer", zap.Error(err))
		}
		close(done)
	}()

	select {
	case <-done:
		k.logger.Info("kafka producer closed")
		return nil
	case <-ctx.Done():
		k.logger.Warn("kafka producer close timeout", zap.Error(ctx.Err()))
		return ctx.Err()
	}
}

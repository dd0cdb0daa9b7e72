package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/couchcryptid/weather-collector/internal/config"
	"github.com/couchcryptid/weather-collector/internal/domain"
	kafkago "github.com/segmentio/kafka-go"
)

// messageWriter is the subset of *kafkago.Writer the Publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Publisher forwards saved observations and run summaries to Kafka.
// It implements pipeline.Publisher.
type Publisher struct {
	writer   messageWriter
	obsTopic string
	runTopic string
	logger   *slog.Logger
}

// NewPublisher creates a Kafka producer. The topic is set per message so a
// single writer serves both streams.
func NewPublisher(cfg *config.Config, logger *slog.Logger) *Publisher {
	w := &kafkago.Writer{
		Addr:                   kafkago.TCP(cfg.KafkaBrokers...),
		Balancer:               &kafkago.Hash{},
		RequiredAcks:           kafkago.RequireAll,
		AllowAutoTopicCreation: true,
		BatchTimeout:           50 * time.Millisecond,
	}
	return &Publisher{
		writer:   w,
		obsTopic: cfg.KafkaObsTopic,
		runTopic: cfg.KafkaRunTopic,
		logger:   logger,
	}
}

// PublishObservations writes all saved observations of a run in a single
// WriteMessages call, keyed by entity so each key stays on one partition.
func (p *Publisher) PublishObservations(ctx context.Context, runID string, obs []domain.Observation) error {
	if len(obs) == 0 {
		return nil
	}
	msgs := make([]kafkago.Message, len(obs))
	for i := range obs {
		msg, err := observationMessage(p.obsTopic, runID, obs[i])
		if err != nil {
			return err
		}
		msgs[i] = msg
	}
	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("publish observations: %w", err)
	}
	p.logger.Debug("observations published", "run_id", runID, "count", len(msgs))
	return nil
}

// PublishSummary writes the run summary keyed by run id.
func (p *Publisher) PublishSummary(ctx context.Context, summary domain.RunSummary) error {
	msg, err := summaryMessage(p.runTopic, summary)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish run summary: %w", err)
	}
	return nil
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}

func observationMessage(topic, runID string, obs domain.Observation) (kafkago.Message, error) {
	data, err := json.Marshal(obs)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize observation: %w", err)
	}
	return kafkago.Message{
		Topic: topic,
		Key:   []byte(obs.EntityKey),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "run_id", Value: []byte(runID)},
			{Key: "observation_id", Value: []byte(strconv.FormatInt(obs.ID, 10))},
			{Key: "created_at", Value: []byte(obs.CreatedAt.Format(time.RFC3339))},
		},
	}, nil
}

func summaryMessage(topic string, s domain.RunSummary) (kafkago.Message, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize run summary: %w", err)
	}
	return kafkago.Message{
		Topic: topic,
		Key:   []byte(s.RunID),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "finished_at", Value: []byte(s.FinishedAt.Format(time.RFC3339))},
		},
	}, nil
}

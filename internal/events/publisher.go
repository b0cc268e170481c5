package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

// CourseEvent is the wire format published on course status transitions.
type CourseEvent struct {
	Type      string                 `json:"type"`
	CourseID  string                 `json:"course_id"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// Publisher writes course lifecycle events to kafka, keyed by course id so a
// course's history stays ordered within a partition. Publish failures are
// logged and dropped; the transition already committed.
type Publisher struct {
	writer *kafka.Writer
	log    zerolog.Logger
}

// NewPublisher returns nil when no brokers are configured; callers treat a
// nil publisher as disabled.
func NewPublisher(brokers []string, topic string, log zerolog.Logger) *Publisher {
	if len(brokers) == 0 {
		return nil
	}
	return &Publisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			RequiredAcks: kafka.RequireOne,
			Async:        true,
		},
		log: log,
	}
}

func (p *Publisher) Publish(ctx context.Context, eventType string, courseID uuid.UUID, payload map[string]interface{}) {
	event := CourseEvent{
		Type:      eventType,
		CourseID:  courseID.String(),
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}

	value, err := json.Marshal(event)
	if err != nil {
		p.log.Error().Err(err).Str("type", eventType).Msg("failed to marshal course event")
		return
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.CourseID),
		Value: value,
	})
	if err != nil {
		p.log.Error().Err(err).
			Str("type", eventType).
			Str("course_id", event.CourseID).
			Msg("failed to publish course event")
	}
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}

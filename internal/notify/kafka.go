package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/steve-dickinson/agentic-environmental-intelligence/internal/model"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Kafka produces one message per incident, keyed by incident id.
type Kafka struct {
	writer messageWriter
}

// NewKafka creates a producer for topic.
func NewKafka(brokers []string, topic string) *Kafka {
	return &Kafka{writer: &kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
	}}
}

func (k *Kafka) Publish(ctx context.Context, inc *model.Incident) error {
	msg, err := toMessage(inc)
	if err != nil {
		return err
	}
	return eris.Wrapf(k.writer.WriteMessages(ctx, msg), "notify: kafka publish %s", inc.ID)
}

func (k *Kafka) Close() error {
	return k.writer.Close()
}

func toMessage(inc *model.Incident) (kafkago.Message, error) {
	data, err := json.Marshal(NewEvent(inc))
	if err != nil {
		return kafkago.Message{}, eris.Wrap(err, "notify: marshal event")
	}
	return kafkago.Message{
		Key:   []byte(inc.ID),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "priority", Value: []byte(inc.Priority())},
			{Key: "created_at", Value: []byte(inc.CreatedAt.UTC().Format(time.RFC3339))},
		},
	}, nil
}

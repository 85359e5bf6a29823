package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"pixiset/internal/models"
)

// buildJob is the payload handed to the build service.
type buildJob struct {
	JobID     string              `json:"jobId"`
	WebsiteID uuid.UUID           `json:"websiteId"`
	Settings  models.SiteSettings `json:"settings"`
}

// BuildResult is the completion event the build service reports back, either
// on the results topic or through the HTTP callback route.
type BuildResult struct {
	JobID   string `json:"jobId"`
	Success bool   `json:"success"`
	Reason  string `json:"reason,omitempty"`
}

// KafkaBuilder enqueues build jobs on a Kafka topic.
type KafkaBuilder struct {
	writer *kafka.Writer
}

var _ Builder = (*KafkaBuilder)(nil)

func NewKafkaBuilder(broker, topic string) *KafkaBuilder {
	return &KafkaBuilder{
		writer: kafka.NewWriter(kafka.WriterConfig{
			Brokers: []string{broker},
			Topic:   topic,
		}),
	}
}

func (b *KafkaBuilder) Enqueue(ctx context.Context, websiteID uuid.UUID, snapshot models.SiteSettings) (string, error) {
	const op = "publish.KafkaBuilder.Enqueue"

	job := buildJob{JobID: uuid.NewString(), WebsiteID: websiteID, Settings: snapshot}
	payload, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	err = b.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(websiteID.String()),
		Value: payload,
	})
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return job.JobID, nil
}

func (b *KafkaBuilder) Close() error {
	return b.writer.Close()
}

// ConsumeBuildResults reads completion events until the context is canceled
// and feeds them to the machine. Malformed messages are logged and skipped.
func ConsumeBuildResults(ctx context.Context, reader *kafka.Reader, machine *Machine, log *slog.Logger) {
	log = log.With("component", "build-results")
	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			log.Error("read build result", "error", err)
			continue
		}
		var result BuildResult
		if err := json.Unmarshal(msg.Value, &result); err != nil {
			log.Error("malformed build result", "error", err)
			continue
		}
		if err := machine.HandleBuildResult(ctx, result.JobID, result.Success, result.Reason); err != nil {
			log.Error("handle build result", "job_id", result.JobID, "error", err)
		}
	}
}

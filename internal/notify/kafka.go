package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"otp-auth-service/internal/util"
)

// Producer is the slice of client.KafkaProducer the outbox needs.
type Producer interface {
	ProduceMessage(ctx context.Context, topic string, key, value []byte, headers map[string]string) error
}

// EmailJob is the outbox record a mail worker consumes.
type EmailJob struct {
	ID        string    `json:"id"`
	To        string    `json:"to"`
	Subject   string    `json:"subject"`
	HTMLBody  string    `json:"html"`
	CreatedAt time.Time `json:"created_at"`
}

// KafkaNotifier hands mail to a delivery worker through a topic. Success
// means the broker accepted the job, not that the mail arrived.
type KafkaNotifier struct {
	producer Producer
	topic    string
	timeout  time.Duration
	logger   *zap.Logger
}

func NewKafkaNotifier(producer Producer, topic string, timeout time.Duration, logger *zap.Logger) *KafkaNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &KafkaNotifier{
		producer: producer,
		topic:    topic,
		timeout:  timeout,
		logger:   logger,
	}
}

func (n *KafkaNotifier) Send(ctx context.Context, to, subject, htmlBody string) Result {
	job := EmailJob{
		ID:        uuid.NewString(),
		To:        to,
		Subject:   subject,
		HTMLBody:  htmlBody,
		CreatedAt: time.Now().UTC(),
	}
	value, err := json.Marshal(job)
	if err != nil {
		return failed(fmt.Errorf("encode email job: %w", err))
	}

	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	headers := map[string]string{
		"content-type": "application/json",
		"job-id":       job.ID,
		"kind":         "email",
	}
	if err := n.producer.ProduceMessage(ctx, n.topic, []byte(to), value, headers); err != nil {
		n.logger.Warn("Failed to enqueue email job",
			util.Email("to", to),
			util.String("topic", n.topic),
			util.ErrorField(err),
		)
		return failed(err)
	}

	n.logger.Debug("Email job enqueued",
		util.String("job_id", job.ID),
		util.String("topic", n.topic),
	)
	return ok()
}

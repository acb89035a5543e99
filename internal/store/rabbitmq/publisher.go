package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// JobMessage is the body of every message on the chat job queue.
type JobMessage struct {
	JobID string `json:"job_id"`
}

// Declarer is the part of *amqp.Channel needed to declare queues.
type Declarer interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
}

// Topology returns the main, retry and dead-letter queue names for queue.
func Topology(queue string) (mainQ, retryQ, dlqQ string) {
	return queue, queue + ".retry", queue + ".dlq"
}

// DeclareTopology declares the job queue with its retry and dead-letter queues. Publisher and
// worker must declare the main queue with identical arguments or the broker rejects the second one.
func DeclareTopology(ch Declarer, queue string) error {
	mainQ, retryQ, dlqQ := Topology(queue)

	if _, err := ch.QueueDeclare(dlqQ, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare %s: %w", dlqQ, err)
	}

	// Retry queue: message TTL -> dead-letter back to main queue
	if _, err := ch.QueueDeclare(retryQ, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": mainQ,
	}); err != nil {
		return fmt.Errorf("declare %s: %w", retryQ, err)
	}

	// Main queue: dead-letter to DLQ on reject/nack(requeue=false)
	if _, err := ch.QueueDeclare(mainQ, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": dlqQ,
	}); err != nil {
		return fmt.Errorf("declare %s: %w", mainQ, err)
	}
	return nil
}

type Publisher struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
}

func NewPublisher(url, queue string) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("rabbit dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("rabbit channel: %w", err)
	}
	if err := DeclareTopology(ch, queue); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	return &Publisher{conn: conn, ch: ch, queue: queue}, nil
}

func (p *Publisher) Close() error {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

// EncodeJob builds the persistent message for jobID.
func EncodeJob(jobID string, now time.Time) (amqp.Publishing, error) {
	body, err := json.Marshal(JobMessage{JobID: jobID})
	if err != nil {
		return amqp.Publishing{}, err
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
		Timestamp:    now,
	}, nil
}

// DecodeJob parses a delivery body; a message without a job id is rejected.
func DecodeJob(body []byte) (string, error) {
	var m JobMessage
	if err := json.Unmarshal(body, &m); err != nil {
		return "", fmt.Errorf("decode job message: %w", err)
	}
	if m.JobID == "" {
		return "", fmt.Errorf("decode job message: missing job_id")
	}
	return m.JobID, nil
}

func (p *Publisher) PublishJob(ctx context.Context, jobID string) error {
	msg, err := EncodeJob(jobID, time.Now())
	if err != nil {
		return err
	}

	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	return p.ch.PublishWithContext(cctx,
		"",      // default exchange
		p.queue, // routing key = queue
		false,
		false,
		msg,
	)
}

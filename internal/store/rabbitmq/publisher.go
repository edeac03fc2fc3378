package rabbitmq

import (
	"context"
	"encoding/json"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher enqueues pattern-reduction jobs by id. The worker loads the job
// row and does the actual work, so the message stays tiny.
type Publisher struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
}

type ReduceMessage struct {
	JobID string `json:"job_id"`
}

// NewPublisher dials the broker and declares the reduce-job topology.
// retryTTL is how long a message parks on the retry queue before it
// dead-letters back to the main queue. The worker declares the same
// topology, so either side can start first.
func NewPublisher(url, queue string, retryTTL time.Duration) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := DeclareTopology(ch, queue, retryTTL); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	return &Publisher{conn: conn, ch: ch, queue: queue}, nil
}

// DeclareTopology sets up three durable queues around the given name:
// the main queue dead-letters to <queue>.dlq on reject, and <queue>.retry
// holds messages for retryTTL before routing them back to the main queue.
func DeclareTopology(ch *amqp.Channel, queue string, retryTTL time.Duration) error {
	if retryTTL <= 0 {
		retryTTL = 30 * time.Second
	}

	declare := func(name string, args amqp.Table) error {
		_, err := ch.QueueDeclare(name, true, false, false, false, args)
		return err
	}

	if err := declare(queue+".dlq", nil); err != nil {
		return err
	}
	if err := declare(queue+".retry", amqp.Table{
		"x-message-ttl":             retryTTL.Milliseconds(),
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": queue,
	}); err != nil {
		return err
	}
	return declare(queue, amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": queue + ".dlq",
	})
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

func (p *Publisher) PublishReduceJob(ctx context.Context, jobID string) error {
	body, err := json.Marshal(ReduceMessage{JobID: jobID})
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
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
			Timestamp:    time.Now(),
		},
	)
}

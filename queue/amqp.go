package queue

import (
	"context"
	"fmt"
	"strconv"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/livecast/ad-transcoder/log"
)

const (
	retryCountHeader = "x-retry-count"

	// How many unacked messages we pull off the broker at once. Also the
	// upper bound of a handler batch.
	prefetchCount = 16

	// How long we wait to fill a batch before handing over what we have.
	batchWindow = 250 * time.Millisecond
)

// AMQPClient consumes job messages from a durable queue and publishes new
// ones to it. Delayed retries use a companion wait queue whose dead letter
// exchange routes expired messages back onto the job queue, so a process
// crash during the delay never loses the message.
type AMQPClient struct {
	conn      *amqp.Connection
	channel   *amqp.Channel
	queueName string
	waitQueue string
}

func NewAMQPClient(url, queueName string) (*AMQPClient, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("error connecting to AMQP broker: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("error opening AMQP channel: %w", err)
	}

	if _, err := channel.QueueDeclare(queueName, true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("error declaring queue %q: %w", queueName, err)
	}
	waitQueue := queueName + ".wait"
	if _, err := channel.QueueDeclare(waitQueue, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": queueName,
	}); err != nil {
		return nil, fmt.Errorf("error declaring wait queue %q: %w", waitQueue, err)
	}
	if err := channel.Qos(prefetchCount, 0, false); err != nil {
		return nil, fmt.Errorf("error setting QoS: %w", err)
	}

	return &AMQPClient{
		conn:      conn,
		channel:   channel,
		queueName: queueName,
		waitQueue: waitQueue,
	}, nil
}

func (c *AMQPClient) Close() error {
	return c.conn.Close()
}

// Publish enqueues a new job message with a zero retry count.
func (c *AMQPClient) Publish(ctx context.Context, body []byte) error {
	return c.channel.PublishWithContext(ctx, "", c.queueName, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
}

// Consume pulls deliveries from the job queue until ctx is canceled, handing
// them to handler in small batches. The handler is invoked on its own
// goroutine per batch so slow handling never stalls the broker reads.
func (c *AMQPClient) Consume(ctx context.Context, handler BatchHandler) error {
	deliveries, err := c.channel.Consume(c.queueName, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("error starting consumer on %q: %w", c.queueName, err)
	}

	batch := make([]Delivery, 0, prefetchCount)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		toHandle := batch
		batch = make([]Delivery, 0, prefetchCount)
		go handler.HandleBatch(toHandle)
	}

	timer := time.NewTimer(batchWindow)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			flush()
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				flush()
				return fmt.Errorf("AMQP deliveries channel closed")
			}
			batch = append(batch, &amqpDelivery{d: d, client: c})
			if len(batch) >= prefetchCount {
				flush()
			}
		case <-timer.C:
			flush()
			timer.Reset(batchWindow)
		}
	}
}

type amqpDelivery struct {
	d      amqp.Delivery
	client *AMQPClient
}

func (a *amqpDelivery) Body() []byte {
	return a.d.Body
}

func (a *amqpDelivery) RetryCount() int {
	if a.d.Headers == nil {
		return 0
	}
	switch v := a.d.Headers[retryCountHeader].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case string:
		n, _ := strconv.Atoi(v)
		return n
	}
	return 0
}

func (a *amqpDelivery) Ack() error {
	return a.d.Ack(false)
}

func (a *amqpDelivery) RetryAfter(delay time.Duration, body []byte) error {
	expiration := strconv.FormatInt(delay.Milliseconds(), 10)
	err := a.client.channel.PublishWithContext(context.Background(), "", a.client.waitQueue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Expiration:   expiration,
		Headers:      amqp.Table{retryCountHeader: int32(a.RetryCount() + 1)},
		Body:         body,
	})
	if err != nil {
		// Leave the original unacked so the broker redelivers it rather
		// than dropping the job on the floor.
		return fmt.Errorf("error scheduling retry: %w", err)
	}
	return a.d.Ack(false)
}

func (a *amqpDelivery) Reject() error {
	log.LogNoRequestID("dropping unprocessable message", "exchange", a.d.Exchange, "routing_key", a.d.RoutingKey)
	return a.d.Ack(false)
}

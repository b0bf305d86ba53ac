package amqp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"allocator/internal/log"
	"allocator/internal/metrics"
)

// Circuit breaker states
const (
	StateClosed int32 = iota
	StateOpen
	StateHalfOpen
)

const (
	maxFailures = 5
	openTimeout = 30 * time.Second
	maxBackoff  = 30 * time.Second

	// directReplyTo is RabbitMQ's pseudo-queue for request/reply without a
	// declared reply queue.
	directReplyTo = "amq.rabbitmq.reply-to"
)

var ErrCircuitOpen = errors.New("circuit breaker is open")

// RequestHandler computes the reply for one request. Domain failures belong
// in the reply; a returned error means the request could not be processed
// at all and the message is requeued once.
type RequestHandler func(ctx context.Context, msg *AllocationRequestMessage) (*AllocationReplyMessage, error)

// replyFunc publishes a reply; swapped out in tests.
type replyFunc func(ctx context.Context, replyTo, correlationID string, reply *AllocationReplyMessage) error

type Client struct {
	url          string
	exchangeName string
	queueName    string
	prefetch     int
	logger       *log.Logger
	metrics      *metrics.Metrics

	mu      sync.Mutex
	conn    *amqp091.Connection
	channel *amqp091.Channel

	state        int32
	failureCount int64
	failMu       sync.Mutex
	lastFailure  time.Time
}

func NewClient(url, exchangeName, queueName string, logger *log.Logger, m *metrics.Metrics) (*Client, error) {
	if logger == nil {
		logger = log.Default()
	}
	c := &Client{
		url:          url,
		exchangeName: exchangeName,
		queueName:    queueName,
		prefetch:     10,
		logger:       logger.WithComponent(log.ComponentAMQP),
		metrics:      m,
	}
	if err := c.connect(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) connect() error {
	conn, err := amqp091.Dial(c.url)
	if err != nil {
		return fmt.Errorf("dial AMQP: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}

	if err := c.setup(channel); err != nil {
		channel.Close()
		conn.Close()
		return fmt.Errorf("setup exchange and queue: %w", err)
	}

	c.mu.Lock()
	c.conn, c.channel = conn, channel
	c.mu.Unlock()
	return nil
}

func (c *Client) setup(ch *amqp091.Channel) error {
	err := ch.ExchangeDeclare(
		c.exchangeName, // name
		"direct",       // type
		true,           // durable
		false,          // auto-deleted
		false,          // internal
		false,          // no-wait
		nil,            // arguments
	)
	if err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}

	_, err = ch.QueueDeclare(
		c.queueName, // name
		true,        // durable
		false,       // delete when unused
		false,       // exclusive
		false,       // no-wait
		nil,         // arguments
	)
	if err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}

	// routing key is the queue name, as usual for a direct exchange
	if err := ch.QueueBind(c.queueName, c.queueName, c.exchangeName, false, nil); err != nil {
		return fmt.Errorf("bind queue: %w", err)
	}

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}
	return nil
}

func (c *Client) currentChannel() (*amqp091.Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.channel == nil || c.channel.IsClosed() {
		return nil, amqp091.ErrClosed
	}
	return c.channel, nil
}

// reconnect replaces a dead connection, backing off between attempts until
// ctx is done.
func (c *Client) reconnect(ctx context.Context) error {
	c.closeConn()
	for attempt := 0; ; attempt++ {
		err := c.connect()
		if err == nil {
			c.recordSuccess()
			c.logger.InfoContext(ctx, "Reconnected to AMQP broker", "attempt", attempt+1)
			return nil
		}
		c.recordFailure()
		wait := exponentialBackoff(attempt)
		c.logger.WarnContext(ctx, "AMQP reconnect failed", log.FieldError, err.Error(), "retry_in", wait.String())

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// exponentialBackoff returns 1s, 2s, 4s, ... capped at maxBackoff.
func exponentialBackoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > 5 {
		return maxBackoff
	}
	d := time.Second << attempt
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

// isConnectionError reports whether err means the broker connection is gone.
func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, amqp091.ErrClosed) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"connection", "eof", "broken pipe", "closed network"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

func (c *Client) isCircuitOpen() bool {
	if atomic.LoadInt32(&c.state) != StateOpen {
		return false
	}
	c.failMu.Lock()
	last := c.lastFailure
	c.failMu.Unlock()
	if time.Since(last) > openTimeout {
		atomic.CompareAndSwapInt32(&c.state, StateOpen, StateHalfOpen)
		return false
	}
	return true
}

func (c *Client) recordSuccess() {
	atomic.StoreInt64(&c.failureCount, 0)
	atomic.StoreInt32(&c.state, StateClosed)
}

func (c *Client) recordFailure() {
	n := atomic.AddInt64(&c.failureCount, 1)
	c.failMu.Lock()
	c.lastFailure = time.Now()
	c.failMu.Unlock()
	if n >= maxFailures || atomic.LoadInt32(&c.state) == StateHalfOpen {
		atomic.StoreInt32(&c.state, StateOpen)
	}
}

func (c *Client) publish(ctx context.Context, ch *amqp091.Channel, exchange, key string, msg amqp091.Publishing) error {
	if c.isCircuitOpen() {
		return fmt.Errorf("publish to %q: %w", key, ErrCircuitOpen)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if ch == nil {
		var err error
		if ch, err = c.currentChannel(); err != nil {
			c.recordFailure()
			return fmt.Errorf("publish message: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	msg.ContentType = "application/json"
	msg.Timestamp = time.Now()
	if err := ch.PublishWithContext(ctx, exchange, key, false, false, msg); err != nil {
		if isConnectionError(err) {
			c.recordFailure()
		}
		return fmt.Errorf("publish message: %w", err)
	}
	c.recordSuccess()
	return nil
}

// PublishAllocationRequest enqueues a request without waiting for a reply.
func (c *Client) PublishAllocationRequest(ctx context.Context, msg *AllocationRequestMessage) error {
	return c.publishRequest(ctx, nil, msg, "")
}

func (c *Client) publishRequest(ctx context.Context, ch *amqp091.Channel, msg *AllocationRequestMessage, replyTo string) error {
	if c.isCircuitOpen() {
		return fmt.Errorf("publish request: %w", ErrCircuitOpen)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	body, err := msg.ToJSON()
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	err = c.publish(ctx, ch, c.exchangeName, c.queueName, amqp091.Publishing{
		DeliveryMode:  amqp091.Persistent,
		MessageId:     msg.RequestID,
		CorrelationId: msg.RequestID,
		ReplyTo:       replyTo,
		Body:          body,
	})
	if err != nil {
		return err
	}
	c.logger.InfoContext(ctx, "Published allocation request",
		log.FieldRequestID, msg.RequestID,
		log.FieldPlan, msg.Plan,
		"exchange", c.exchangeName,
		"queue", c.queueName)
	return nil
}

// Request publishes msg and waits for the worker's reply on a private
// channel using direct reply-to.
func (c *Client) Request(ctx context.Context, msg *AllocationRequestMessage) (*AllocationReplyMessage, error) {
	if c.isCircuitOpen() {
		return nil, fmt.Errorf("request: %w", ErrCircuitOpen)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil || conn.IsClosed() {
		return nil, fmt.Errorf("request: %w", amqp091.ErrClosed)
	}
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open reply channel: %w", err)
	}
	defer ch.Close()

	// direct reply-to requires the consumer to exist before publishing
	replies, err := ch.Consume(directReplyTo, "", true, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("consume replies: %w", err)
	}
	if err := c.publishRequest(ctx, ch, msg, directReplyTo); err != nil {
		return nil, err
	}

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case d, ok := <-replies:
			if !ok {
				return nil, errors.New("reply channel closed")
			}
			if d.CorrelationId != msg.RequestID {
				continue
			}
			reply, err := AllocationReplyFromJSON(d.Body)
			if err != nil {
				return nil, fmt.Errorf("decode reply: %w", err)
			}
			return reply, nil
		}
	}
}

// Reply publishes reply to the queue named by replyTo via the default exchange.
func (c *Client) Reply(ctx context.Context, replyTo, correlationID string, reply *AllocationReplyMessage) error {
	body, err := reply.ToJSON()
	if err != nil {
		return fmt.Errorf("marshal reply: %w", err)
	}
	return c.publish(ctx, nil, "", replyTo, amqp091.Publishing{
		CorrelationId: correlationID,
		Body:          body,
	})
}

// ConsumeAllocationRequests consumes requests until ctx is done, reconnecting
// when the broker goes away.
func (c *Client) ConsumeAllocationRequests(ctx context.Context, handler RequestHandler) error {
	for {
		err := c.consumeOnce(ctx, handler)
		if ctx.Err() != nil {
			c.logger.InfoContext(ctx, "Stopping message consumption", "reason", ctx.Err().Error())
			return ctx.Err()
		}
		if !isConnectionError(err) {
			return err
		}
		c.logger.WarnContext(ctx, "AMQP consumer lost its connection", log.FieldError, err.Error())
		if err := c.reconnect(ctx); err != nil {
			return err
		}
	}
}

func (c *Client) consumeOnce(ctx context.Context, handler RequestHandler) error {
	ch, err := c.currentChannel()
	if err != nil {
		return err
	}
	msgs, err := ch.Consume(
		c.queueName, // queue
		"",          // consumer
		false,       // auto-ack (we want manual ack)
		false,       // exclusive
		false,       // no-local
		false,       // no-wait
		nil,         // args
	)
	if err != nil {
		return fmt.Errorf("start consuming: %w", err)
	}

	c.logger.InfoContext(ctx, "Started consuming allocation requests", "queue", c.queueName)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case delivery, ok := <-msgs:
			if !ok {
				return fmt.Errorf("message channel closed: %w", amqp091.ErrClosed)
			}
			c.handleDelivery(ctx, delivery, handler, c.Reply)
		}
	}
}

// handleDelivery runs one delivery through handler and settles it: malformed
// messages are dropped, handler errors are requeued once, and everything
// else is acked after the reply is sent.
func (c *Client) handleDelivery(ctx context.Context, d amqp091.Delivery, handler RequestHandler, reply replyFunc) {
	msg, err := AllocationRequestFromJSON(d.Body)
	if err != nil {
		c.logger.ErrorContext(ctx, "Failed to unmarshal message", log.FieldError, err.Error())
		c.metrics.ObserveAMQPMessage(metrics.OutcomeRejected)
		_ = d.Nack(false, false)
		return
	}

	logger := c.logger.With(log.FieldRequestID, msg.RequestID)
	logger.DebugContext(ctx, "Processing allocation request", log.FieldPlan, msg.Plan)

	res, err := handler(ctx, msg)
	if err != nil {
		requeue := !d.Redelivered
		logger.ErrorContext(ctx, "Failed to handle message", log.FieldError, err.Error(), "requeue", requeue)
		_ = d.Nack(false, requeue)
		return
	}

	if d.ReplyTo != "" && res != nil {
		correlationID := d.CorrelationId
		if correlationID == "" {
			correlationID = msg.RequestID
		}
		if err := reply(ctx, d.ReplyTo, correlationID, res); err != nil {
			requeue := !d.Redelivered
			logger.ErrorContext(ctx, "Failed to publish reply",
				log.FieldError, err.Error(), "reply_to", d.ReplyTo, "requeue", requeue)
			_ = d.Nack(false, requeue)
			return
		}
	}
	_ = d.Ack(false)
}

func (c *Client) closeConn() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.channel != nil {
		c.channel.Close()
		c.channel = nil
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.channel != nil {
		c.channel.Close()
		c.channel = nil
	}
	if c.conn != nil {
		err := c.conn.Close()
		c.conn = nil
		return err
	}
	return nil
}

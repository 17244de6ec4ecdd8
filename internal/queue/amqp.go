package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

// AMQPConfig names the topology shared by publisher and consumer.
type AMQPConfig struct {
	Exchange   string
	Queue      string
	RoutingKey string
	Prefetch   int
}

// Publisher sends job ids to a durable topic exchange.
type Publisher struct {
	mu       sync.Mutex
	channel  *amqp.Channel
	cfg      AMQPConfig
	logger   zerolog.Logger
	attempts int
	backoff  time.Duration
}

func NewPublisher(conn *amqp.Connection, cfg AMQPConfig, logger zerolog.Logger) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}
	if err := declareExchange(ch, cfg.Exchange); err != nil {
		_ = ch.Close()
		return nil, err
	}
	return &Publisher{
		channel:  ch,
		cfg:      cfg,
		logger:   logger,
		attempts: 3,
		backoff:  200 * time.Millisecond,
	}, nil
}

// Enqueue publishes a persistent message, retrying transient failures with
// exponential backoff.
func (p *Publisher) Enqueue(ctx context.Context, jobID string) error {
	body, err := encode(jobID, time.Now())
	if err != nil {
		return err
	}
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    jobID,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}

	delay := p.backoff
	for attempt := 1; ; attempt++ {
		p.mu.Lock()
		err = p.channel.PublishWithContext(ctx, p.cfg.Exchange, p.cfg.RoutingKey, false, false, msg)
		p.mu.Unlock()
		if err == nil {
			return nil
		}
		if attempt >= p.attempts {
			return fmt.Errorf("publish job %s: %w", jobID, err)
		}
		p.logger.Warn().Err(err).Str("job_id", jobID).Int("attempt", attempt).Msg("queue: publish failed, retrying")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.channel.Close()
}

// Consumer reads job ids with manual acknowledgement.
type Consumer struct {
	channel *amqp.Channel
	cfg     AMQPConfig
	logger  zerolog.Logger
}

func NewConsumer(conn *amqp.Connection, cfg AMQPConfig, logger zerolog.Logger) (*Consumer, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 1
	}
	if err := declareExchange(ch, cfg.Exchange); err != nil {
		_ = ch.Close()
		return nil, err
	}
	if _, err := ch.QueueDeclare(cfg.Queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("declare queue %s: %w", cfg.Queue, err)
	}
	if err := ch.QueueBind(cfg.Queue, cfg.RoutingKey, cfg.Exchange, false, nil); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("bind queue %s: %w", cfg.Queue, err)
	}
	if err := ch.Qos(cfg.Prefetch, 0, false); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("set qos: %w", err)
	}
	return &Consumer{channel: ch, cfg: cfg, logger: logger}, nil
}

// Run delivers messages to h until ctx is done or the channel closes.
// In-flight handlers are awaited before returning so their acks still reach
// the broker.
func (c *Consumer) Run(ctx context.Context, h Handler) error {
	msgs, err := c.channel.Consume(c.cfg.Queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", c.cfg.Queue, err)
	}

	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		select {
		case <-ctx.Done():
			c.logger.Info().Msg("queue: consumer shutting down")
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return errors.New("queue: amqp delivery channel closed")
			}
			wg.Add(1)
			go func(d amqp.Delivery) {
				defer wg.Done()
				settle(ctx, d, h, c.logger)
			}(msg)
		}
	}
}

func (c *Consumer) Close() error {
	return c.channel.Close()
}

// settle runs h and acknowledges the delivery. Undecodable messages and
// handler failures are dropped; ErrRequeue puts the message back.
func settle(ctx context.Context, d amqp.Delivery, h Handler, logger zerolog.Logger) {
	jobID, err := decode(d.Body)
	if err != nil {
		logger.Error().Err(err).Uint64("delivery_tag", d.DeliveryTag).Msg("queue: rejecting malformed message")
		_ = d.Nack(false, false)
		return
	}
	err = h(ctx, jobID)
	switch {
	case err == nil:
		_ = d.Ack(false)
	case errors.Is(err, ErrRequeue):
		logger.Info().Str("job_id", jobID).Msg("queue: requeueing interrupted job")
		_ = d.Nack(false, true)
	default:
		// the sweeper redelivers jobs left PENDING
		logger.Error().Err(err).Str("job_id", jobID).Msg("queue: handler failed")
		_ = d.Nack(false, false)
	}
}

func declareExchange(ch *amqp.Channel, name string) error {
	if err := ch.ExchangeDeclare(name, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", name, err)
	}
	return nil
}

var _ Trigger = (*Publisher)(nil)

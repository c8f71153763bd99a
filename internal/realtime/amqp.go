package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

// ErrPoison marks a delivery that can never be processed.
var ErrPoison = errors.New("poison message")

type AMQPConfig struct {
	URL                         string
	Exchange                    string
	ReconnectBackoffBaseSeconds int
	ReconnectBackoffCapSeconds  int
	ReconnectJitterPercent      int
}

// AMQPSource reads change events from a RabbitMQ topic exchange. Every open
// channel gets its own exclusive auto-delete queue bound to the exchange and
// reconnects with jittered backoff when the broker goes away.
type AMQPSource struct {
	cfg AMQPConfig
	log logrus.FieldLogger

	mu   sync.Mutex
	conn *amqp.Connection
}

func NewAMQPSource(cfg AMQPConfig, log logrus.FieldLogger) *AMQPSource {
	if cfg.Exchange == "" {
		cfg.Exchange = "crm.changes"
	}
	return &AMQPSource{cfg: cfg, log: log.WithField("component", "amqp")}
}

func (s *AMQPSource) connection() (*amqp.Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil && !s.conn.IsClosed() {
		return s.conn, nil
	}
	conn, err := amqp.Dial(s.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	s.conn = conn
	return conn, nil
}

func (s *AMQPSource) declare(ch *amqp.Channel) error {
	return ch.ExchangeDeclare(s.cfg.Exchange, "topic", true, false, false, false, nil)
}

// Publish sends ev to the exchange under RoutingKey(ev).
func (s *AMQPSource) Publish(ctx context.Context, ev ChangeEvent) error {
	conn, err := s.connection()
	if err != nil {
		return err
	}
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()
	if err := s.declare(ch); err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return ch.PublishWithContext(ctx, s.cfg.Exchange, RoutingKey(ev), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Transient,
		Timestamp:    time.Now(),
		Body:         body,
	})
}

func (s *AMQPSource) Open(ctx context.Context, topic Topic, handler func(ChangeEvent)) (Channel, error) {
	c := &amqpChannel{
		src:     s,
		topic:   topic,
		handler: handler,
		done:    make(chan struct{}),
		log:     s.log.WithField("topic", topic.String()),
	}
	// The first attempt is synchronous so a misconfigured broker fails Subscribe.
	ready := make(chan error, 1)
	c.wg.Add(1)
	go c.run(ready)
	select {
	case err := <-ready:
		if err != nil {
			c.Close()
			return nil, err
		}
	case <-ctx.Done():
		c.Close()
		return nil, ctx.Err()
	}
	return c, nil
}

// Close closes the shared connection.
func (s *AMQPSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil && !s.conn.IsClosed() {
		return s.conn.Close()
	}
	return nil
}

type amqpChannel struct {
	src     *AMQPSource
	topic   Topic
	handler func(ChangeEvent)
	log     logrus.FieldLogger

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

func (c *amqpChannel) Close() error {
	c.once.Do(func() { close(c.done) })
	c.wg.Wait()
	return nil
}

func (c *amqpChannel) run(ready chan<- error) {
	defer c.wg.Done()

	base := dsec(c.src.cfg.ReconnectBackoffBaseSeconds, 1)
	capd := dsec(c.src.cfg.ReconnectBackoffCapSeconds, 30)
	backoff := base
	first := true

	for {
		err := c.consume(func() {
			if first {
				first = false
				ready <- nil
			}
			backoff = base
		})
		if first {
			ready <- err
			return
		}
		select {
		case <-c.done:
			return
		default:
		}

		wait := jitteredDelay(backoff, capd, c.src.cfg.ReconnectJitterPercent)
		c.log.WithError(err).WithField("retry_in", wait).Warn("amqp channel lost, reconnecting")
		select {
		case <-c.done:
			return
		case <-time.After(wait):
		}
		if backoff*2 < capd {
			backoff *= 2
		}
	}
}

// consume runs one channel lifetime. It returns nil when closed on purpose.
func (c *amqpChannel) consume(started func()) error {
	conn, err := c.src.connection()
	if err != nil {
		return err
	}
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	if err := c.src.declare(ch); err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}
	if err := ch.QueueBind(q.Name, c.topic.bindingKey(), c.src.cfg.Exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue: %w", err)
	}
	msgs, err := ch.Consume(q.Name, "", false, true, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}
	closeCh := ch.NotifyClose(make(chan *amqp.Error, 1))
	started()

	for {
		select {
		case <-c.done:
			return nil
		case aerr, ok := <-closeCh:
			if !ok || aerr == nil {
				return errors.New("channel closed")
			}
			return aerr
		case d, ok := <-msgs:
			if !ok {
				return errors.New("delivery channel closed")
			}
			if err := c.deliver(d); errors.Is(err, ErrPoison) {
				c.log.WithField("routing_key", d.RoutingKey).Warn("dropping undecodable change event")
			}
			_ = d.Ack(false)
		}
	}
}

func (c *amqpChannel) deliver(d amqp.Delivery) error {
	var ev ChangeEvent
	if err := json.Unmarshal(d.Body, &ev); err != nil {
		return ErrPoison
	}
	if !c.topic.Matches(ev) {
		return nil
	}
	c.handler(ev)
	return nil
}

func dsec(v, def int) time.Duration {
	if v <= 0 {
		return time.Duration(def) * time.Second
	}
	return time.Duration(v) * time.Second
}

func jitteredDelay(base, max time.Duration, jitterPct int) time.Duration {
	if jitterPct <= 0 {
		jitterPct = 25
	}
	delta := (rand.Float64()*2 - 1) * float64(jitterPct) / 100.0
	wait := time.Duration(float64(base) * (1 + delta))
	if wait < 0 {
		wait = base
	}
	if wait > max {
		wait = max
	}
	return wait
}

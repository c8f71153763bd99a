package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus"
)

// PGSource turns NOTIFY payloads sent by the crm_notify_change trigger into
// change events. One dedicated connection LISTENs while at least one channel
// is open.
type PGSource struct {
	url     string
	channel string
	log     logrus.FieldLogger

	mu       sync.Mutex
	next     int
	channels map[int]*pgChannel
	cancel   context.CancelFunc
	done     chan struct{}
}

type pgChannel struct {
	src     *PGSource
	id      int
	topic   Topic
	handler func(ChangeEvent)
	once    sync.Once
}

func NewPGSource(url, channel string, log logrus.FieldLogger) *PGSource {
	if channel == "" {
		channel = "crm_changes"
	}
	return &PGSource{
		url:      url,
		channel:  channel,
		log:      log.WithField("component", "pglisten"),
		channels: make(map[int]*pgChannel),
	}
}

func (s *PGSource) Open(ctx context.Context, topic Topic, handler func(ChangeEvent)) (Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		conn, err := s.connect(ctx)
		if err != nil {
			return nil, err
		}
		lctx, cancel := context.WithCancel(context.Background())
		s.cancel = cancel
		s.done = make(chan struct{})
		go s.listen(lctx, conn, s.done)
	}

	ch := &pgChannel{src: s, id: s.next, topic: topic, handler: handler}
	s.next++
	s.channels[ch.id] = ch
	return ch, nil
}

func (s *PGSource) connect(ctx context.Context) (*pgx.Conn, error) {
	conn, err := pgx.Connect(ctx, s.url)
	if err != nil {
		return nil, fmt.Errorf("connect listener: %w", err)
	}
	if _, err := conn.Exec(ctx, "listen "+pgx.Identifier{s.channel}.Sanitize()); err != nil {
		conn.Close(ctx)
		return nil, fmt.Errorf("listen %s: %w", s.channel, err)
	}
	return conn, nil
}

// listen waits for notifications and reconnects with backoff when the
// connection drops. Notifications sent while disconnected are lost.
func (s *PGSource) listen(ctx context.Context, conn *pgx.Conn, done chan struct{}) {
	defer close(done)

	backoff := time.Second
	for {
		err := s.wait(ctx, conn)
		cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		conn.Close(cctx)
		cancel()
		if ctx.Err() != nil {
			return
		}
		s.log.WithError(err).Error("listener connection lost")

		for {
			select {
			case <-ctx.Done():
				return
			case <-time.After(jitteredDelay(backoff, 30*time.Second, 25)):
			}
			conn, err = s.connect(ctx)
			if err == nil {
				backoff = time.Second
				break
			}
			s.log.WithError(err).Warn("listener reconnect failed")
			if backoff < 30*time.Second {
				backoff *= 2
			}
		}
	}
}

func (s *PGSource) wait(ctx context.Context, conn *pgx.Conn) error {
	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		var ev ChangeEvent
		if err := json.Unmarshal([]byte(n.Payload), &ev); err != nil {
			s.log.WithError(err).Warn("dropping undecodable notification")
			continue
		}
		s.dispatch(ev)
	}
}

func (s *PGSource) dispatch(ev ChangeEvent) {
	s.mu.Lock()
	var targets []*pgChannel
	for _, ch := range s.channels {
		if ch.topic.Matches(ev) {
			targets = append(targets, ch)
		}
	}
	s.mu.Unlock()

	for _, ch := range targets {
		ch.handler(ev)
	}
}

func (c *pgChannel) Close() error {
	c.once.Do(func() {
		s := c.src
		s.mu.Lock()
		delete(s.channels, c.id)
		var cancel context.CancelFunc
		var done chan struct{}
		if len(s.channels) == 0 && s.cancel != nil {
			cancel, done = s.cancel, s.done
			s.cancel, s.done = nil, nil
		}
		s.mu.Unlock()

		if cancel != nil {
			cancel()
			<-done
		}
	})
	return nil
}

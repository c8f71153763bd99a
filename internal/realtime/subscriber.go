package realtime

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Source opens physical channels for topics.
type Source interface {
	Open(ctx context.Context, topic Topic, handler func(ChangeEvent)) (Channel, error)
}

type Channel interface {
	Close() error
}

// Binding applies change events to local state.
type Binding interface {
	Apply(ctx context.Context, ev ChangeEvent) error
}

type BindingFunc func(ctx context.Context, ev ChangeEvent) error

func (f BindingFunc) Apply(ctx context.Context, ev ChangeEvent) error { return f(ctx, ev) }

// bindingTimeout bounds one event's pass through the bindings of a channel.
const bindingTimeout = 10 * time.Second

type channelState struct {
	topic    Topic
	ch       Channel
	next     int
	bindings map[int]Binding
	order    []int
}

// Subscriber multiplexes bindings onto one channel per topic. The first
// binding for a topic opens the channel and the last unsubscribe closes it.
type Subscriber struct {
	source Source
	log    logrus.FieldLogger

	mu       sync.Mutex
	channels map[string]*channelState
}

func NewSubscriber(source Source, log logrus.FieldLogger) *Subscriber {
	return &Subscriber{
		source:   source,
		log:      log.WithField("component", "realtime"),
		channels: make(map[string]*channelState),
	}
}

// Subscribe attaches b to topic and returns the function that detaches it.
// The channel is opened without holding the lock; when two callers race to
// open the same topic the loser's channel is closed again.
func (s *Subscriber) Subscribe(ctx context.Context, topic Topic, b Binding) (func(), error) {
	id := topic.String()

	s.mu.Lock()
	st, ok := s.channels[id]
	if ok {
		bid := st.add(b)
		s.mu.Unlock()
		return s.detach(id, st, bid), nil
	}
	s.mu.Unlock()

	fresh := &channelState{topic: topic, bindings: make(map[int]Binding)}
	ch, err := s.source.Open(ctx, topic, func(ev ChangeEvent) { s.dispatch(id, fresh, ev) })
	if err != nil {
		return nil, fmt.Errorf("open channel %s: %w", id, err)
	}

	s.mu.Lock()
	st, ok = s.channels[id]
	if !ok {
		fresh.ch = ch
		s.channels[id] = fresh
		st = fresh
	}
	bid := st.add(b)
	s.mu.Unlock()

	if ok {
		if err := ch.Close(); err != nil {
			s.log.WithError(err).WithField("topic", id).Warn("close duplicate channel failed")
		}
	} else {
		s.log.WithField("topic", id).Debug("channel opened")
	}
	return s.detach(id, st, bid), nil
}

func (st *channelState) add(b Binding) int {
	bid := st.next
	st.next++
	st.bindings[bid] = b
	st.order = append(st.order, bid)
	return bid
}

func (s *Subscriber) detach(id string, st *channelState, bid int) func() {
	var once sync.Once
	return func() {
		once.Do(func() { s.unsubscribe(id, st, bid) })
	}
}

func (s *Subscriber) unsubscribe(id string, from *channelState, bid int) {
	s.mu.Lock()
	st, ok := s.channels[id]
	if !ok || st != from {
		s.mu.Unlock()
		return
	}
	delete(st.bindings, bid)
	for i, o := range st.order {
		if o == bid {
			st.order = append(st.order[:i], st.order[i+1:]...)
			break
		}
	}
	if len(st.bindings) > 0 {
		s.mu.Unlock()
		return
	}
	delete(s.channels, id)
	s.mu.Unlock()

	if err := st.ch.Close(); err != nil {
		s.log.WithError(err).WithField("topic", id).Warn("close channel failed")
		return
	}
	s.log.WithField("topic", id).Debug("channel closed")
}

// dispatch runs every binding of the channel in subscription order. Events
// from a channel that is no longer the registered one for the topic are
// dropped. Errors are logged and never reach the source.
func (s *Subscriber) dispatch(id string, from *channelState, ev ChangeEvent) {
	s.mu.Lock()
	st, ok := s.channels[id]
	if !ok || st != from {
		s.mu.Unlock()
		return
	}
	bindings := make([]Binding, 0, len(st.order))
	for _, bid := range st.order {
		bindings = append(bindings, st.bindings[bid])
	}
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), bindingTimeout)
	defer cancel()
	for _, b := range bindings {
		if err := b.Apply(ctx, ev); err != nil {
			s.log.WithError(err).WithFields(logrus.Fields{
				"topic": id,
				"type":  ev.Type,
			}).Warn("realtime binding failed")
		}
	}
}

// Topics lists the open channels.
func (s *Subscriber) Topics() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.channels))
	for id := range s.channels {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Close detaches every binding and closes every channel.
func (s *Subscriber) Close() {
	s.mu.Lock()
	channels := s.channels
	s.channels = make(map[string]*channelState)
	s.mu.Unlock()

	for id, st := range channels {
		if err := st.ch.Close(); err != nil {
			s.log.WithError(err).WithField("topic", id).Warn("close channel failed")
		}
	}
}

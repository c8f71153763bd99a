package realtime

import (
	"context"
	"sync"
)

// MemorySource is an in-process broker. Publish delivers synchronously, in
// call order, to every open channel whose topic matches.
type MemorySource struct {
	mu       sync.Mutex
	next     int
	channels map[int]*memoryChannel
}

type memoryChannel struct {
	src     *MemorySource
	id      int
	topic   Topic
	handler func(ChangeEvent)
	once    sync.Once
}

func NewMemorySource() *MemorySource {
	return &MemorySource{channels: make(map[int]*memoryChannel)}
}

func (m *MemorySource) Open(_ context.Context, topic Topic, handler func(ChangeEvent)) (Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch := &memoryChannel{src: m, id: m.next, topic: topic, handler: handler}
	m.next++
	m.channels[ch.id] = ch
	return ch, nil
}

func (m *MemorySource) Publish(_ context.Context, ev ChangeEvent) error {
	m.mu.Lock()
	var targets []*memoryChannel
	for _, ch := range m.channels {
		if ch.topic.Matches(ev) {
			targets = append(targets, ch)
		}
	}
	m.mu.Unlock()

	for _, ch := range targets {
		ch.handler(ev)
	}
	return nil
}

// OpenChannels reports the number of open channels.
func (m *MemorySource) OpenChannels() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.channels)
}

func (c *memoryChannel) Close() error {
	c.once.Do(func() {
		c.src.mu.Lock()
		delete(c.src.channels, c.id)
		c.src.mu.Unlock()
	})
	return nil
}

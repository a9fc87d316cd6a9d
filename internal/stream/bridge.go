// Package stream is the broadcast channel between sample producers and the
// plotting session.
package stream

import (
	"errors"
	"sync"
	"sync/atomic"

	"sleepywoodpecker/rp-goes-plot/internal/sample"
)

var ErrNotActivated = errors.New("[stream] data stream not activated")

type Bridge struct {
	mu      sync.Mutex
	channel *Channel
}

func NewBridge() *Bridge {
	return &Bridge{}
}

// Activate creates the broadcast channel if it does not exist yet.
func (b *Bridge) Activate() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.channel == nil {
		b.channel = &Channel{}
	}
}

func (b *Bridge) Channel() (*Channel, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.channel == nil {
		return nil, ErrNotActivated
	}
	return b.channel, nil
}

// Emit publishes on the channel. Emitting before activation is an error
// since nobody could have subscribed.
func (b *Bridge) Emit(s sample.Sample) error {
	ch, err := b.Channel()
	if err != nil {
		return err
	}
	ch.Emit(s)
	return nil
}

// Channel delivers every emitted sample synchronously to the current
// subscribers, in subscription order. Late subscribers miss earlier samples.
type Channel struct {
	mu          sync.Mutex
	subscribers []*Subscription
}

type Subscription struct {
	onSample func(sample.Sample)
	channel  *Channel
	disposed atomic.Bool
}

func (c *Channel) Subscribe(onSample func(sample.Sample)) *Subscription {
	sub := &Subscription{
		onSample: onSample,
		channel:  c,
	}

	c.mu.Lock()
	c.subscribers = append(c.subscribers, sub)
	c.mu.Unlock()

	return sub
}

// Emit dispatches over a snapshot of the subscriber list so callbacks may
// subscribe or dispose without disturbing the current dispatch.
func (c *Channel) Emit(s sample.Sample) {
	c.mu.Lock()
	snapshot := make([]*Subscription, len(c.subscribers))
	copy(snapshot, c.subscribers)
	c.mu.Unlock()

	for _, sub := range snapshot {
		if sub.disposed.Load() {
			continue
		}
		sub.onSample(s)
	}
}

func (c *Channel) SubscriberCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.subscribers)
}

func (c *Channel) remove(target *Subscription) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, sub := range c.subscribers {
		if sub == target {
			c.subscribers = append(c.subscribers[:i], c.subscribers[i+1:]...)
			return
		}
	}
}

// Dispose detaches the subscription. Safe to call more than once.
func (s *Subscription) Dispose() {
	if s.disposed.Swap(true) {
		return
	}
	s.channel.remove(s)
}

func (s *Subscription) Disposed() bool {
	return s.disposed.Load()
}

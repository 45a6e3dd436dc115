package store

import (
	"context"
	"sync"
)

// Broadcaster fans values out to per-topic subscribers. Every subscriber
// channel holds at most one value: a publish replaces whatever the
// subscriber has not read yet, so slow readers see the newest state only.
type Broadcaster[T any] struct {
	mu   sync.Mutex
	subs map[string]map[chan T]struct{}
}

func NewBroadcaster[T any]() *Broadcaster[T] {
	return &Broadcaster[T]{subs: make(map[string]map[chan T]struct{})}
}

// Subscribe registers a subscriber primed with initial. The channel is
// closed once ctx is done.
func (b *Broadcaster[T]) Subscribe(ctx context.Context, topic string, initial T) <-chan T {
	ch := make(chan T, 1)
	ch <- initial

	b.mu.Lock()
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[chan T]struct{})
	}
	b.subs[topic][ch] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs[topic], ch)
		if len(b.subs[topic]) == 0 {
			delete(b.subs, topic)
		}
		close(ch)
		b.mu.Unlock()
	}()

	return ch
}

func (b *Broadcaster[T]) Publish(topic string, value T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for ch := range b.subs[topic] {
		select {
		case ch <- value:
			continue
		default:
		}
		// Drop the unread value; sends only happen under b.mu so the
		// second send cannot block.
		select {
		case <-ch:
		default:
		}
		ch <- value
	}
}

func (b *Broadcaster[T]) HasSubscribers(topic string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[topic]) > 0
}

func (b *Broadcaster[T]) Topics() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	topics := make([]string, 0, len(b.subs))
	for topic := range b.subs {
		topics = append(topics, topic)
	}
	return topics
}

// Refresher reloads a collection and publishes it to the collection's
// subscribers. Reloads run one at a time, so a snapshot loaded earlier is
// never published after a newer one.
type Refresher struct {
	mu   sync.Mutex
	bus  *Broadcaster[Snapshot]
	load func(ctx context.Context, collection string) (Snapshot, error)
}

func NewRefresher(bus *Broadcaster[Snapshot], load func(ctx context.Context, collection string) (Snapshot, error)) *Refresher {
	return &Refresher{bus: bus, load: load}
}

// Refresh does nothing for a collection without subscribers.
func (r *Refresher) Refresh(ctx context.Context, collection string) error {
	if !r.bus.HasSubscribers(collection) {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	snap, err := r.load(ctx, collection)
	if err != nil {
		return err
	}
	r.bus.Publish(collection, snap)
	return nil
}

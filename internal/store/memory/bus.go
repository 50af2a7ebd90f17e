package memory

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/alanyoungcy/matrixnet/internal/domain"
)

var _ domain.SignalBus = (*Bus)(nil)

// Bus is an in-process domain.SignalBus. Publish never blocks: a subscriber
// whose buffer is full misses the message, matching Redis pub/sub delivery.
type Bus struct {
	mu      sync.Mutex
	subs    map[string][]chan []byte
	streams map[string][]domain.StreamMessage
}

// NewBus creates an empty Bus.
func NewBus() *Bus {
	return &Bus{
		subs:    make(map[string][]chan []byte),
		streams: make(map[string][]domain.StreamMessage),
	}
}

func (b *Bus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs[channel] {
		select {
		case ch <- payload:
		default:
		}
	}
	return nil
}

// Subscribe returns a channel that is closed when ctx is cancelled.
func (b *Bus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	ch := make(chan []byte, 128)
	b.mu.Lock()
	b.subs[channel] = append(b.subs[channel], ch)
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.subs[channel]
		for i, c := range subs {
			if c == ch {
				b.subs[channel] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		close(ch)
	}()
	return ch, nil
}

func (b *Bus) StreamAppend(_ context.Context, stream string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := strconv.Itoa(len(b.streams[stream]) + 1)
	b.streams[stream] = append(b.streams[stream], domain.StreamMessage{ID: id, Payload: payload})
	return nil
}

// StreamRead returns up to count messages after lastID. "0" and "" read
// from the beginning.
func (b *Bus) StreamRead(_ context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	start := 0
	if lastID != "" && lastID != "0" && lastID != "0-0" {
		n, err := strconv.Atoi(lastID)
		if err != nil {
			return nil, fmt.Errorf("memory: stream read %s: bad id %q", stream, lastID)
		}
		start = n
	}
	msgs := b.streams[stream]
	if start >= len(msgs) {
		return nil, nil
	}
	out := msgs[start:]
	if count > 0 && len(out) > count {
		out = out[:count]
	}
	return append([]domain.StreamMessage(nil), out...), nil
}

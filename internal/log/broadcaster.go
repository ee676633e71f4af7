package log

import (
	"sync"
)

const subscriberBuffer = 256

// Broadcaster copies every log line written to it to all subscribers. A
// subscriber that falls behind loses lines; Write never blocks on it.
type Broadcaster struct {
	mu     sync.RWMutex
	subs   map[chan []byte]struct{}
	buffer int
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[chan []byte]struct{}), buffer: subscriberBuffer}
}

func (b *Broadcaster) Write(p []byte) (int, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.subs) == 0 {
		return len(p), nil
	}

	line := append([]byte(nil), p...)
	for ch := range b.subs {
		select {
		case ch <- line:
		default:
		}
	}
	return len(p), nil
}

// Subscribe registers a new line channel. Pass it to Unsubscribe when done.
func (b *Broadcaster) Subscribe() chan []byte {
	ch := make(chan []byte, b.buffer)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe closes ch; calling it twice is harmless.
func (b *Broadcaster) Unsubscribe(ch chan []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(ch)
	}
}

package system

import (
	"sync"
	"time"
)

// DefaultSinkTimeout is how long Push waits on a full sink before it starts
// dropping the oldest buffered value.
const DefaultSinkTimeout = 10 * time.Millisecond

// SinkPool fans values out to every registered channel without letting a slow
// reader block the publisher.
type SinkPool[T any] struct {
	mu      sync.RWMutex
	sinks   []chan T
	timeout time.Duration
}

// NewSinkPool returns a new empty SinkPool.
func NewSinkPool[T any]() *SinkPool[T] {
	return &SinkPool[T]{timeout: DefaultSinkTimeout}
}

// On adds a channel to the pool.
func (p *SinkPool[T]) On(c chan T) {
	p.mu.Lock()
	p.sinks = append(p.sinks, c)
	p.mu.Unlock()
}

// Off removes and closes a channel. Unknown channels are ignored.
func (p *SinkPool[T]) Off(c chan T) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, sink := range p.sinks {
		if c != sink {
			continue
		}
		// Keep the registration order intact.
		copy(p.sinks[i:], p.sinks[i+1:])
		p.sinks[len(p.sinks)-1] = nil
		p.sinks = p.sinks[:len(p.sinks)-1]
		if c != nil {
			close(c)
		}
		return
	}
}

// Len returns the number of registered channels.
func (p *SinkPool[T]) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.sinks)
}

// Destroy closes and removes every channel in the pool.
func (p *SinkPool[T]) Destroy() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, c := range p.sinks {
		if c != nil {
			close(c)
		}
	}
	p.sinks = nil
}

// Push sends v to every channel concurrently. A channel that stays full for
// longer than the pool timeout has its oldest value dropped to make room, so
// a reader that falls behind loses old values rather than stalling everyone
// else. An unbuffered channel nobody is reading from is skipped.
func (p *SinkPool[T]) Push(v T) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	timeout := p.timeout
	if timeout == 0 {
		timeout = DefaultSinkTimeout
	}

	var wg sync.WaitGroup
	wg.Add(len(p.sinks))
	for _, c := range p.sinks {
		go func(c chan T) {
			defer wg.Done()
			t := time.NewTimer(timeout)
			defer t.Stop()
			select {
			case c <- v:
			case <-t.C:
				if len(c) == 0 {
					return
				}
				select {
				case <-c:
				default:
				}
				select {
				case c <- v:
				default:
				}
			}
		}(c)
	}
	wg.Wait()
}

// Package logstream captures the managed server's output into a bounded ring
// buffer and fans it out to read-only subscribers.
package logstream

import (
	"sync"
	"sync/atomic"
	"time"

	"blockyard/internal/domain"
)

// DefaultCapacity is the number of lines retained when none is configured.
const DefaultCapacity = 5000

type entry struct {
	seq  uint64
	line domain.LogLine
}

// Buffer is a fixed-capacity ring of log lines. Appends are serialized; Tail
// takes no lock and may run concurrently with appends.
type Buffer struct {
	mu    sync.Mutex
	slots []atomic.Pointer[entry]
	next  atomic.Uint64
	now   func() time.Time

	subsMu sync.RWMutex
	subs   map[*Subscription]struct{}
}

// NewBuffer creates a buffer retaining at most capacity lines.
func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{
		slots: make([]atomic.Pointer[entry], capacity),
		now:   time.Now,
		subs:  make(map[*Subscription]struct{}),
	}
}

// Capacity returns the maximum number of retained lines.
func (b *Buffer) Capacity() int { return len(b.slots) }

// Total returns the number of lines ever appended.
func (b *Buffer) Total() uint64 { return b.next.Load() }

// Len returns the number of lines currently retained.
func (b *Buffer) Len() int {
	return int(min(b.next.Load(), uint64(len(b.slots))))
}

// Append stores a line, evicting the oldest once full, and publishes it to
// subscribers without blocking.
func (b *Buffer) Append(stream domain.Stream, sev domain.Severity, text string) domain.LogLine {
	b.mu.Lock()
	defer b.mu.Unlock()

	seq := b.next.Load()
	line := domain.LogLine{Time: b.now(), Severity: sev, Stream: stream, Text: text}
	b.slots[seq%uint64(len(b.slots))].Store(&entry{seq: seq, line: line})
	b.next.Store(seq + 1)

	b.publish(line)
	return line
}

// Tail returns at most n of the most recent lines in chronological order.
func (b *Buffer) Tail(n int) []domain.LogLine {
	end := b.next.Load()
	if n <= 0 || end == 0 {
		return nil
	}
	count := min(uint64(n), end, uint64(len(b.slots)))
	out := make([]domain.LogLine, 0, count)
	for seq := end - count; seq < end; seq++ {
		e := b.slots[seq%uint64(len(b.slots))].Load()
		if e == nil || e.seq != seq {
			// overwritten by a concurrent append; only what follows is still a suffix
			out = out[:0]
			continue
		}
		out = append(out, e.line)
	}
	return out
}

// Subscription receives lines appended after it was created. Lines are
// dropped rather than delivered late when the consumer falls behind.
type Subscription struct {
	C       <-chan domain.LogLine
	ch      chan domain.LogLine
	buf     *Buffer
	dropped atomic.Uint64
	once    sync.Once
}

// Subscribe registers a new subscriber with the given channel size.
func (b *Buffer) Subscribe(size int) *Subscription {
	if size <= 0 {
		size = 256
	}
	ch := make(chan domain.LogLine, size)
	s := &Subscription{C: ch, ch: ch, buf: b}
	b.subsMu.Lock()
	b.subs[s] = struct{}{}
	b.subsMu.Unlock()
	return s
}

// Dropped returns how many lines this subscriber missed.
func (s *Subscription) Dropped() uint64 { return s.dropped.Load() }

// Close unregisters the subscription and closes its channel.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.buf.subsMu.Lock()
		delete(s.buf.subs, s)
		close(s.ch)
		s.buf.subsMu.Unlock()
	})
}

func (b *Buffer) publish(line domain.LogLine) {
	b.subsMu.RLock()
	defer b.subsMu.RUnlock()
	for s := range b.subs {
		select {
		case s.ch <- line:
		default:
			s.dropped.Add(1)
		}
	}
}

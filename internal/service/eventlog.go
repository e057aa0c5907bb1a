package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/raphaelgruber/finrag-go/internal/models"
)

// Envelope is an event with its position in the job's log. Seq is 0 for
// events generated per consumer (replay marker, heartbeats).
type Envelope struct {
	Seq   int64
	Event models.Event
}

// eventLog is a bounded, append-only event buffer. When full, the oldest
// event is dropped. Followers are woken on every append.
type eventLog struct {
	mu      sync.Mutex
	ring    []Envelope
	head    int
	size    int
	next    int64
	dropped int
	closed  bool
	wake    chan struct{}
}

func newEventLog(capacity int) *eventLog {
	if capacity <= 0 {
		capacity = 1
	}
	return &eventLog{
		ring: make([]Envelope, capacity),
		next: 1,
		wake: make(chan struct{}),
	}
}

// append adds e. After a terminal event the log is closed and further
// appends are ignored.
func (l *eventLog) append(e models.Event) (Envelope, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return Envelope{}, false
	}

	env := Envelope{Seq: l.next, Event: e}
	l.next++
	if l.size == len(l.ring) {
		l.ring[l.head] = env
		l.head = (l.head + 1) % len(l.ring)
		l.dropped++
	} else {
		l.ring[(l.head+l.size)%len(l.ring)] = env
		l.size++
	}
	if models.IsTerminal(e) {
		l.closed = true
	}

	close(l.wake)
	l.wake = make(chan struct{})
	return env, true
}

// since returns buffered events after seq, a channel closed by the next
// append, and whether the log is closed.
func (l *eventLog) since(seq int64) ([]Envelope, <-chan struct{}, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []Envelope
	for i := range l.size {
		env := l.ring[(l.head+i)%len(l.ring)]
		if env.Seq > seq {
			out = append(out, env)
		}
	}
	return out, l.wake, l.closed
}

func (l *eventLog) counts() (produced int, dropped int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return int(l.next - 1), l.dropped
}

// follow sends the log to out until a terminal event is delivered or ctx
// is done, then closes out. A consumer arriving after events were produced
// first receives a replaying marker. Heartbeats are sent every interval.
func (l *eventLog) follow(ctx context.Context, out chan<- Envelope, interval time.Duration, started time.Time) {
	defer close(out)

	send := func(env Envelope) bool {
		select {
		case out <- env:
			return true
		case <-ctx.Done():
			return false
		}
	}

	pending, wake, closed := l.since(0)
	if produced, dropped := l.counts(); produced > 0 {
		msg := fmt.Sprintf("replaying %d buffered events", len(pending))
		if dropped > 0 {
			msg += fmt.Sprintf(" (%d older events dropped)", dropped)
		}
		if !send(Envelope{Event: models.PhaseEvent{Phase: models.PhaseReplaying, Message: msg}}) {
			return
		}
	}

	heartbeat := time.NewTicker(interval)
	defer heartbeat.Stop()

	var last int64
	for {
		for _, env := range pending {
			if !send(env) {
				return
			}
			last = env.Seq
			if models.IsTerminal(env.Event) {
				return
			}
		}
		if closed {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-wake:
		case <-heartbeat.C:
			hb := models.HeartbeatEvent{ElapsedSeconds: int(time.Since(started).Seconds())}
			if !send(Envelope{Event: hb}) {
				return
			}
		}
		pending, wake, closed = l.since(last)
	}
}

package job

import (
	"time"

	"github.com/arcana-app/arcana-go/internal/models"
)

// DefaultSubscriberBuffer bounds the live portion of a subscriber's channel.
// A consumer that falls further behind than this loses its oldest buffered
// events and receives a resync marker instead of stalling the producer.
const DefaultSubscriberBuffer = 64

// Subscription is one observer's view of a job's event stream: the full
// backlog from seq 0, then live events in order. The channel closes once the
// job is terminal and everything up to the terminal event was handed over.
type Subscription struct {
	C      <-chan models.Event
	cancel func()
}

// Close detaches the subscriber. Safe to call more than once.
func (s *Subscription) Close() {
	if s.cancel != nil {
		s.cancel()
	}
}

// subscriber is the actor-side state for one attached stream consumer.
type subscriber struct {
	ch     chan models.Event
	closed bool
	// lossy marks that the previous delivery overflowed, so exactly one
	// resync marker precedes the next delivered event.
	lossy bool
}

// subscribe registers a consumer. Caller holds a.mu. The channel is sized to
// hold the entire current backlog plus the live buffer, so backlog replay
// never blocks and never drops.
func (a *actor) subscribe() *Subscription {
	ch := make(chan models.Event, len(a.events)+DefaultSubscriberBuffer)
	for _, ev := range a.events {
		ch <- ev
	}

	if a.view.State.Terminal() {
		// Late joiner: full backlog, then immediate closure.
		close(ch)
		return &Subscription{C: ch}
	}

	sub := &subscriber{ch: ch}
	id := a.nextSubID
	a.nextSubID++
	a.subs[id] = sub

	cancel := func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		if s, ok := a.subs[id]; ok {
			delete(a.subs, id)
			if !s.closed {
				s.closed = true
				close(s.ch)
			}
		}
	}
	return &Subscription{C: ch, cancel: cancel}
}

// publish fans an appended event out to every subscriber. Caller holds a.mu.
// Slow consumers cost themselves events, never the producer: on overflow the
// oldest buffered events are discarded and a resync marker is queued so the
// client knows to refetch.
func (a *actor) publish(ev models.Event) {
	for _, sub := range a.subs {
		if sub.closed {
			continue
		}
		select {
		case sub.ch <- ev:
			sub.lossy = false
			continue
		default:
		}

		// Overflow: make room for the marker plus the event. Only this
		// goroutine sends on the channel, so space freed here stays free.
		for len(sub.ch) > cap(sub.ch)-2 {
			select {
			case <-sub.ch:
			default:
			}
		}
		if !sub.lossy {
			sub.lossy = true
			sub.ch <- models.Event{
				JobID:     ev.JobID,
				Seq:       ev.Seq,
				Type:      models.EventResync,
				Data:      map[string]any{"resume_from": ev.Seq},
				Timestamp: time.Now().UTC(),
			}
		}
		sub.ch <- ev
	}
}

// closeSubscribers ends every stream after a terminal event was published.
// Caller holds a.mu. Buffered events remain readable after close.
func (a *actor) closeSubscribers() {
	for id, sub := range a.subs {
		if !sub.closed {
			sub.closed = true
			close(sub.ch)
		}
		delete(a.subs, id)
	}
}

// subscriberCount reports attached consumers. Caller holds a.mu.
func (a *actor) subscriberCount() int {
	return len(a.subs)
}

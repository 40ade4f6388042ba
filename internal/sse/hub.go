// Package sse holds the live event-stream targets waiting on invoice
// payment and fires a one-shot "paid" event at them.
package sse

import (
	"log"
	"sync"
)

const (
	EventReady = "READY"
	EventPaid  = "PAID"
)

// Target is one connected event-stream client. Messages are delivered over a
// small buffered channel; Close is idempotent and also fires when the HTTP
// side disconnects.
type Target struct {
	msgs chan string
	done chan struct{}
	once sync.Once
}

func NewTarget() *Target {
	return &Target{
		msgs: make(chan string, 4),
		done: make(chan struct{}),
	}
}

// Send queues a message for the target. A closed or saturated target drops
// the message; the hub's events are one-shot signals, not a history.
func (t *Target) Send(msg string) {
	select {
	case <-t.done:
	case t.msgs <- msg:
	default:
	}
}

func (t *Target) Close() error {
	t.once.Do(func() { close(t.done) })
	return nil
}

func (t *Target) Messages() <-chan string { return t.msgs }
func (t *Target) Done() <-chan struct{}   { return t.done }

// Hub is the collection of live targets keyed by "<sessionId> <invoiceId>".
type Hub struct {
	mu      sync.Mutex
	targets map[string][]*Target
}

func NewHub() *Hub {
	return &Hub{targets: make(map[string][]*Target)}
}

// AddTarget registers a target under key and immediately emits READY to it.
// When the target's own done channel fires, it is removed from the list, and
// the list is dropped entirely once empty.
func (h *Hub) AddTarget(key string, target *Target) {
	h.mu.Lock()
	h.targets[key] = append(h.targets[key], target)
	h.mu.Unlock()

	go func() {
		<-target.Done()
		h.remove(key, target)
	}()

	target.Send(EventReady)
}

func (h *Hub) remove(key string, target *Target) {
	h.mu.Lock()
	defer h.mu.Unlock()

	list := h.targets[key]
	for i, t := range list {
		if t == target {
			h.targets[key] = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(h.targets[key]) == 0 {
		delete(h.targets, key)
	}
}

// OnPayment emits one PAID event to every target currently registered for
// key, then closes each target. It keeps no history: a subscriber arriving
// after payment must re-check paid status itself.
func (h *Hub) OnPayment(key string) {
	h.mu.Lock()
	list := append([]*Target(nil), h.targets[key]...)
	h.mu.Unlock()

	for _, target := range list {
		target.Send(EventPaid)
		if err := target.Close(); err != nil {
			log.Printf("sse close error: %v", err)
		}
	}
}

// Close shuts down every target across all keys, best-effort.
func (h *Hub) Close() {
	h.mu.Lock()
	var all []*Target
	for _, list := range h.targets {
		all = append(all, list...)
	}
	h.mu.Unlock()

	for _, target := range all {
		if err := target.Close(); err != nil {
			log.Printf("sse close error: %v", err)
		}
	}
}

// Key builds the hub key for a session's invoice.
func Key(sessionID, invoiceID string) string {
	return sessionID + " " + invoiceID
}

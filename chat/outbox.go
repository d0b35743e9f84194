package chat

import (
	"sync"
	"time"
)

// OutboundMessage is a message waiting to be sent.
type OutboundMessage struct {
	Text      string    `json:"text"`
	NotBefore time.Time `json:"not_before,omitzero"`
}

// Outbox is a bounded FIFO of outbound messages. Only the head is eligible,
// so messages leave in the order they were queued.
type Outbox struct {
	mu    sync.Mutex
	queue []OutboundMessage
	limit int
}

// NewOutbox returns an Outbox holding at most limit messages (0 = 100).
func NewOutbox(limit int) *Outbox {
	if limit <= 0 {
		limit = 100
	}
	return &Outbox{limit: limit}
}

// Push appends msg. It reports false when the outbox is full or msg is empty.
func (o *Outbox) Push(msg OutboundMessage) bool {
	if msg.Text == "" {
		return false
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.queue) >= o.limit {
		return false
	}
	o.queue = append(o.queue, msg)
	return true
}

// Requeue puts msg back at the head after a retryable failure.
func (o *Outbox) Requeue(msg OutboundMessage) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.queue = append([]OutboundMessage{msg}, o.queue...)
	if len(o.queue) > o.limit {
		o.queue = o.queue[:o.limit]
	}
}

// PopDue removes and returns the head if it is due at now.
func (o *Outbox) PopDue(now time.Time) (OutboundMessage, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.queue) == 0 || now.Before(o.queue[0].NotBefore) {
		return OutboundMessage{}, false
	}
	msg := o.queue[0]
	o.queue = o.queue[1:]
	return msg, true
}

// Len returns the number of queued messages.
func (o *Outbox) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.queue)
}

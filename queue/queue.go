// Package queue decouples mailbox I/O from message processing. Each device
// owns one Queue, fed by the receiver and drained by a single processor so
// that processing order equals arrival order.
package queue

import (
	"sync"
	"time"

	"github.com/brodyxchen/swmailbox/models"
	"github.com/brodyxchen/swmailbox/socket"
)

type Source int

const (
	Local Source = iota
	Remote
)

func (s Source) String() string {
	if s == Local {
		return "local"
	}
	return "remote"
}

// Handler interprets a message instead of relaying it. When handled is
// true the reply, if any, goes back to where the message came from.
type Handler func(env *models.Envelope) (reply *models.Envelope, handled bool)

// Message is moved from the receiver into the queue and out to the
// processor; nobody else holds it meanwhile.
type Message struct {
	Source   Source
	Local    socket.Endpoint
	Remote   socket.Endpoint
	Handler  Handler
	Envelope *models.Envelope

	Received time.Time
}

type Queue struct {
	mutex  sync.Mutex
	msgs   []*Message
	signal chan struct{}
}

func New() *Queue {
	return &Queue{
		msgs:   make([]*Message, 0),
		signal: make(chan struct{}, 1),
	}
}

// Push never blocks the producer.
func (q *Queue) Push(msg *Message) {
	q.mutex.Lock()
	q.msgs = append(q.msgs, msg)
	q.mutex.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// Pop waits up to timeout for the head message.
func (q *Queue) Pop(timeout time.Duration) (*Message, bool) {
	var timer *time.Timer
	for {
		if msg, ok := q.tryPop(); ok {
			if timer != nil {
				timer.Stop()
			}
			return msg, true
		}

		if timer == nil {
			if timeout <= 0 {
				return nil, false
			}
			timer = time.NewTimer(timeout)
		}

		select {
		case <-q.signal:
		case <-timer.C:
			return q.tryPop()
		}
	}
}

func (q *Queue) tryPop() (*Message, bool) {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	if len(q.msgs) == 0 {
		return nil, false
	}
	msg := q.msgs[0]
	q.msgs[0] = nil
	q.msgs = q.msgs[1:]

	// a leftover token may belong to a message still queued
	if len(q.msgs) > 0 {
		select {
		case q.signal <- struct{}{}:
		default:
		}
	}
	return msg, true
}

func (q *Queue) Len() int {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	return len(q.msgs)
}

package queue

import (
	"sync"
	"testing"
	"time"

	"github.com/brodyxchen/swmailbox/models"
)

func newMsg(id uint64) *Message {
	return &Message{Envelope: models.NewEnvelope(nil, id, models.FlagRequest)}
}

func TestFIFO(t *testing.T) {
	q := New()
	for id := uint64(1); id <= 3; id++ {
		q.Push(newMsg(id))
	}
	for id := uint64(1); id <= 3; id++ {
		msg, ok := q.Pop(time.Second)
		if !ok {
			t.Fatalf("pop %d timed out", id)
		}
		if msg.Envelope.ID != id {
			t.Fatalf("got id %d, want %d", msg.Envelope.ID, id)
		}
	}
	if q.Len() != 0 {
		t.Fatalf("len = %d", q.Len())
	}
}

func TestPopTimeout(t *testing.T) {
	q := New()
	start := time.Now()
	if _, ok := q.Pop(30 * time.Millisecond); ok {
		t.Fatal("pop on empty queue returned a message")
	}
	if time.Since(start) < 30*time.Millisecond {
		t.Fatal("pop returned before timeout")
	}
}

func TestPopWakesOnPush(t *testing.T) {
	q := New()
	go func() {
		time.Sleep(20 * time.Millisecond)
		q.Push(newMsg(9))
	}()
	msg, ok := q.Pop(5 * time.Second)
	if !ok || msg.Envelope.ID != 9 {
		t.Fatalf("pop = %v, %v", msg, ok)
	}
}

// Two producers each push an ordered stream; the consumer must see each
// producer's stream in order and nothing lost.
func TestMultiProducerOrder(t *testing.T) {
	q := New()
	const n = 500

	var wg sync.WaitGroup
	for p := uint64(0); p < 2; p++ {
		wg.Add(1)
		go func(p uint64) {
			defer wg.Done()
			for i := uint64(0); i < n; i++ {
				q.Push(newMsg(p<<32 | i))
			}
		}(p)
	}

	next := [2]uint64{}
	for got := 0; got < 2*n; got++ {
		msg, ok := q.Pop(5 * time.Second)
		if !ok {
			t.Fatalf("timed out after %d messages", got)
		}
		p, i := msg.Envelope.ID>>32, msg.Envelope.ID&0xffffffff
		if i != next[p] {
			t.Fatalf("producer %d: got %d, want %d", p, i, next[p])
		}
		next[p]++
	}
	wg.Wait()
}

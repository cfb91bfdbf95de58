package device

import (
	"bytes"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/brodyxchen/swmailbox/models"
	"github.com/brodyxchen/swmailbox/socket"
	"github.com/google/go-cmp/cmp"
)

// fakeNode behaves like the driver: one message per read, EMSGSIZE with
// only the header copied when the buffer is short.
type fakeNode struct {
	msgs    [][]byte
	reads   []int
	written bytes.Buffer
}

func (f *fakeNode) Read(p []byte) (int, error) {
	f.reads = append(f.reads, len(p))
	if len(f.msgs) == 0 {
		return 0, &os.PathError{Op: "read", Path: "mailbox", Err: os.ErrDeadlineExceeded}
	}
	msg := f.msgs[0]
	if len(p) < len(msg) {
		copy(p, msg[:models.HeaderSize])
		return 0, &os.PathError{Op: "read", Path: "mailbox", Err: syscall.EMSGSIZE}
	}
	f.msgs = f.msgs[1:]
	return copy(p, msg), nil
}

func (f *fakeNode) Write(p []byte) (int, error) { return f.written.Write(p) }
func (f *fakeNode) SetReadDeadline(t time.Time) error { return nil }
func (f *fakeNode) Close() error { return nil }

func TestMailboxNodeGrowsForLargeMessages(t *testing.T) {
	small := models.NewEnvelope([]byte("probe"), 1, models.FlagRequest)
	large := models.NewEnvelope(bytes.Repeat([]byte{0xab}, 10000), 2, models.FlagRequest)
	node := newMailboxNode(&fakeNode{msgs: [][]byte{small.Encode(), large.Encode(), small.Encode()}})

	for _, want := range []*models.Envelope{small, large, small} {
		got, err := socket.ReadEnvelope(node)
		if err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Fatal(diff)
		}
	}

	reads := node.file.(*fakeNode).reads
	if reads[len(reads)-1] != len(node.buf) || len(node.buf) > 4<<10 {
		t.Fatalf("buffer not shrunk after large message: reads %v", reads)
	}
}

func TestMailboxNodeWritesWholeEnvelope(t *testing.T) {
	f := &fakeNode{}
	node := newMailboxNode(f)
	env := models.NewStatusResponse(9, 0)
	if err := socket.WriteEnvelope(node, env); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(f.written.Bytes(), env.Encode()) {
		t.Fatalf("written % x", f.written.Bytes())
	}
}

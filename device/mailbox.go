package device

import (
	"encoding/binary"
	"os"
	"syscall"
	"time"

	"github.com/brodyxchen/swmailbox/constant"
	"github.com/brodyxchen/swmailbox/errors"
	"github.com/brodyxchen/swmailbox/models"
	"github.com/brodyxchen/swmailbox/socket"
)

// mailboxNode turns the message-oriented mailbox node into a byte stream.
// The driver hands out one whole message per read and fails with EMSGSIZE,
// after copying the header, when the buffer is too small.
type mailboxNode struct {
	file socket.Endpoint
	buf  []byte
	data []byte
}

func openNode(path string) (socket.Endpoint, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, err
	}
	return newMailboxNode(f), nil
}

func newMailboxNode(file socket.Endpoint) *mailboxNode {
	return &mailboxNode{
		file: file,
		buf:  make([]byte, constant.MaxReadBufferSize),
	}
}

func (m *mailboxNode) Read(p []byte) (int, error) {
	if len(m.data) == 0 {
		if err := m.fill(); err != nil {
			return 0, err
		}
	}
	n := copy(p, m.data)
	m.data = m.data[n:]
	return n, nil
}

func (m *mailboxNode) fill() error {
	if len(m.buf) > constant.MaxReadBufferSize {
		m.buf = make([]byte, constant.MaxReadBufferSize)
	}

	for {
		n, err := m.file.Read(m.buf)
		if err == nil {
			m.data = m.buf[:n]
			return nil
		}
		if !errors.Is(err, syscall.EMSGSIZE) {
			return err
		}

		size := binary.LittleEndian.Uint32(m.buf)
		if size > constant.MaxPayloadSize {
			return errors.ErrExceedPayload
		}
		need := models.HeaderSize + int(size)
		if need <= len(m.buf) {
			return err
		}
		m.buf = make([]byte, need)
	}
}

// Write must carry one whole envelope; the driver does not accept partial
// messages.
func (m *mailboxNode) Write(p []byte) (int, error) {
	return m.file.Write(p)
}

func (m *mailboxNode) SetReadDeadline(t time.Time) error {
	return m.file.SetReadDeadline(t)
}

func (m *mailboxNode) Close() error {
	return m.file.Close()
}

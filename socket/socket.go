package socket

import (
	"bufio"
	"encoding/binary"
	"io"
	"os"
	"time"

	"github.com/brodyxchen/swmailbox/constant"
	"github.com/brodyxchen/swmailbox/errors"
	"github.com/brodyxchen/swmailbox/models"
)

// Endpoint is either side of the relay: the mailbox node (*os.File) or the
// peer connection (net.Conn).
type Endpoint interface {
	io.ReadWriteCloser
	SetReadDeadline(t time.Time) error
}

// ReadEnvelope reads exactly one envelope. Short reads are retried until the
// declared size is satisfied or the reader fails.
func ReadEnvelope(reader io.Reader) (*models.Envelope, error) {
	headerBuf := make([]byte, models.HeaderSize)
	if _, err := io.ReadFull(reader, headerBuf); err != nil {
		if err == io.EOF {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}

	size, flags, id, err := models.ParseHeader(headerBuf)
	if err != nil {
		return nil, err
	}
	if size > constant.MaxPayloadSize {
		return nil, errors.ErrExceedPayload
	}

	payload := make([]byte, size)
	if _, err = io.ReadFull(reader, payload); err != nil {
		if err == io.EOF {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}

	env := &models.Envelope{Size: size, Flags: flags, ID: id, Payload: payload}
	if !env.IsValid() {
		return nil, errors.ErrInvalidEnvelope
	}
	return env, nil
}

// WriteEnvelope writes env in a single buffer so the mailbox driver sees
// the whole message in one write.
func WriteEnvelope(writer io.Writer, env *models.Envelope) error {
	if !env.IsValid() {
		return errors.ErrInvalidEnvelope
	}
	if env.Size > constant.MaxPayloadSize {
		return errors.ErrExceedPayload
	}

	buf := env.Encode()
	n, err := writer.Write(buf)
	if err != nil {
		return errors.Wrap(errors.ErrWriteSocketErr, err)
	}
	if n != len(buf) {
		return errors.Wrap(errors.ErrWriteSocketErr, io.ErrShortWrite)
	}

	if bw, ok := writer.(*bufio.Writer); ok {
		if err = bw.Flush(); err != nil {
			return errors.Wrap(errors.ErrWriteSocketErr, err)
		}
	}
	return nil
}

// WaitReadable blocks until reader has data or wait elapses. It returns
// (false, nil) on timeout so the caller can re-check its running flag.
// Endpoints that cannot take deadlines block until data arrives.
func WaitReadable(ep Endpoint, reader *bufio.Reader, wait time.Duration) (bool, error) {
	if reader.Buffered() > 0 {
		return true, nil
	}

	deadline := wait > 0
	if deadline {
		if err := ep.SetReadDeadline(time.Now().Add(wait)); err != nil {
			deadline = false
		}
	}

	_, err := reader.Peek(1)
	if deadline {
		_ = ep.SetReadDeadline(time.Time{})
	}
	if err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return false, nil
		}
		return false, errors.Wrap(errors.ErrReadSocketErr, err)
	}
	return true, nil
}

// WriteID sends the handshake id in network byte order.
func WriteID(w io.Writer, id uint32) error {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, id)
	_, err := w.Write(buf)
	return err
}

func ReadID(r io.Reader) (uint32, error) {
	buf := make([]byte, 4)
	if _, err := io.ReadFull(r, buf); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(buf), nil
}

// Handshake status values written back by msd.
const (
	HandshakeAccepted = uint32(0)
	HandshakeRejected = uint32(1)
)

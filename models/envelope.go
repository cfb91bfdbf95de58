package models

import (
	"encoding/binary"

	"github.com/brodyxchen/swmailbox/errors"
)

// HeaderSize is the packed sw channel header: u32 size, u64 flags, u64 id.
const HeaderSize = 20

const (
	FlagResponse = uint64(1 << 0)
	FlagRequest  = uint64(1 << 1)
)

// Envelope is one message on the software channel, as read from the
// mailbox node or the peer socket.
type Envelope struct {
	Size    uint32
	Flags   uint64
	ID      uint64
	Payload []byte
}

func NewEnvelope(payload []byte, id, flags uint64) *Envelope {
	return &Envelope{
		Size:    uint32(len(payload)),
		Flags:   flags,
		ID:      id,
		Payload: payload,
	}
}

// NewStatusResponse builds the 4-byte return-code response most requests expect.
func NewStatusResponse(id uint64, code int32) *Envelope {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, uint32(code))
	return NewEnvelope(buf, id, FlagResponse)
}

func (e *Envelope) IsValid() bool {
	return e != nil && int(e.Size) == len(e.Payload)
}

func (e *Envelope) IsRequest() bool {
	return e.Flags&FlagRequest != 0
}

func (e *Envelope) IsResponse() bool {
	return e.Flags&FlagResponse != 0
}

func (e *Envelope) Len() int {
	return HeaderSize + len(e.Payload)
}

func (e *Envelope) Encode() []byte {
	buf := make([]byte, HeaderSize+len(e.Payload))
	PutHeader(buf, e.Size, e.Flags, e.ID)
	copy(buf[HeaderSize:], e.Payload)
	return buf
}

func PutHeader(buf []byte, size uint32, flags, id uint64) {
	binary.LittleEndian.PutUint32(buf, size)
	binary.LittleEndian.PutUint64(buf[4:], flags)
	binary.LittleEndian.PutUint64(buf[12:], id)
}

// ParseHeader reads the fixed header; the payload is not inspected.
func ParseHeader(buf []byte) (size uint32, flags, id uint64, err error) {
	if len(buf) < HeaderSize {
		return 0, 0, 0, errors.ErrShortEnvelope
	}
	size = binary.LittleEndian.Uint32(buf)
	flags = binary.LittleEndian.Uint64(buf[4:])
	id = binary.LittleEndian.Uint64(buf[12:])
	return size, flags, id, nil
}

func DecodeEnvelope(buf []byte) (*Envelope, error) {
	size, flags, id, err := ParseHeader(buf)
	if err != nil {
		return nil, err
	}
	if uint64(size)+HeaderSize != uint64(len(buf)) {
		return nil, errors.ErrInvalidEnvelope
	}

	payload := make([]byte, size)
	copy(payload, buf[HeaderSize:])
	return &Envelope{
		Size:    size,
		Flags:   flags,
		ID:      id,
		Payload: payload,
	}, nil
}

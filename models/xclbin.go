package models

import (
	"bytes"
	"encoding/binary"

	"github.com/brodyxchen/swmailbox/errors"
)

var XclbinMagic = []byte("xclbin2\x00")

const (
	// offset of m_header.m_length inside struct axlf
	xclbinLengthOffset = 304

	XclbinHeaderSize = xclbinLengthOffset + 8
)

// Xclbin is a bounds-checked view of an xclbin container. Only the magic and
// the total length are inspected; the sections are opaque here.
type Xclbin struct {
	Length uint64
	Data   []byte
}

func ParseXclbin(data []byte) (*Xclbin, error) {
	if len(data) < XclbinHeaderSize {
		return nil, errors.ErrInvalidRequest
	}
	if !bytes.Equal(data[:len(XclbinMagic)], XclbinMagic) {
		return nil, errors.ErrInvalidRequest
	}

	length := binary.LittleEndian.Uint64(data[xclbinLengthOffset:])
	if length < XclbinHeaderSize || length > uint64(len(data)) {
		return nil, errors.ErrInvalidRequest
	}
	return &Xclbin{Length: length, Data: data[:length]}, nil
}

// NewXclbinHeader returns a minimal container of the given total length,
// enough for the download path to accept it.
func NewXclbinHeader(length int) []byte {
	if length < XclbinHeaderSize {
		length = XclbinHeaderSize
	}
	buf := make([]byte, length)
	copy(buf, XclbinMagic)
	binary.LittleEndian.PutUint64(buf[xclbinLengthOffset:], uint64(length))
	return buf
}

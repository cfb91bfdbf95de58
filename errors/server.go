package errors

import (
	"errors"
	"syscall"
)

type Status struct {
	code    syscall.Errno
	message string
}

func NewStatus(code syscall.Errno, message string) *Status {
	return &Status{code: code, message: message}
}

func (st *Status) Error() string {
	return st.message
}

func (st *Status) Code() syscall.Errno {
	return st.code
}

var (
	ErrShortEnvelope   = errors.New("envelope shorter than header")
	ErrInvalidEnvelope = errors.New("invalid envelope size")
	ErrExceedPayload   = errors.New("exceed payload size")
	ErrInvalidRequest  = errors.New("invalid mailbox request")
	ErrNotSupported    = errors.New("request not supported")
	ErrNoPeer          = errors.New("no peer connected")
	ErrLocalMailbox    = errors.New("local mailbox failure")
)

var (
	StatusHandlerPanic = &Status{syscall.EIO, "handler panic"}
	StatusNoDevice     = &Status{syscall.ENODEV, "device not found"}
)

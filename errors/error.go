package errors

import (
	"errors"
	"syscall"
)

func New(text string) error {
	return errors.New(text)
}

func Wrap(classify, reason error) error {
	return &wrapped{classify: classify, reason: reason}
}

// wrapped keeps the classification reachable through Is/As.
type wrapped struct {
	classify error
	reason   error
}

func (w *wrapped) Error() string {
	return w.classify.Error() + " | " + w.reason.Error()
}

func (w *wrapped) Unwrap() []error {
	return []error{w.classify, w.reason}
}

func Is(err, target error) bool {
	return errors.Is(err, target)
}

func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// Errno maps err to the negative errno carried in mailbox status responses.
func Errno(err error) int32 {
	if err == nil {
		return 0
	}

	var st *Status
	if errors.As(err, &st) {
		return -int32(st.code)
	}

	var en syscall.Errno
	if errors.As(err, &en) {
		return -int32(en)
	}

	switch {
	case errors.Is(err, ErrNotSupported):
		return -int32(syscall.ENOTSUP)
	case errors.Is(err, ErrInvalidRequest), errors.Is(err, ErrInvalidEnvelope):
		return -int32(syscall.EINVAL)
	}
	return -int32(syscall.EIO)
}

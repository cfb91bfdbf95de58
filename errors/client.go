package errors

import "errors"

var (
	ErrHandshake      = errors.New("handshake rejected by msd")
	ErrUnknownHost    = errors.New("can't resolve msd host")
	ErrConnectFailed  = errors.New("failed to connect to msd")
	ErrNoMailbox      = errors.New("no mailbox sub-device")
	ErrInvalidConfig  = errors.New("invalid mailbox config")
	ErrPairNotJoined  = errors.New("previous thread pair not joined")
	ErrRemoteConnErr  = errors.New("plugin failed to provide remote connection")
	ErrReadSocketErr  = errors.New("read socket err")
	ErrWriteSocketErr = errors.New("write socket err")
	ErrClosed         = errors.New("channel is closed")
	ErrInvalidPlugin  = errors.New("invalid plugin")
)

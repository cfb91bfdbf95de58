package hotplug

import (
	"context"
	"os"
	"time"

	"github.com/brodyxchen/swmailbox/constant"
	"github.com/brodyxchen/swmailbox/errors"
	"github.com/brodyxchen/swmailbox/log"
	"golang.org/x/sys/unix"
)

const (
	kernelGroup = 1
	bufferSize  = 8 << 10
	rcvBufSize  = 1 << 20
)

type Listener struct {
	// Wait bounds each receive in Run so that shutdown is noticed.
	Wait time.Duration

	file *os.File
	buf  []byte
}

// Listen subscribes to kernel uevents.
func Listen() (*Listener, error) {
	fd, err := unix.Socket(unix.AF_NETLINK, unix.SOCK_RAW|unix.SOCK_CLOEXEC|unix.SOCK_NONBLOCK, unix.NETLINK_KOBJECT_UEVENT)
	if err != nil {
		return nil, os.NewSyscallError("socket", err)
	}

	sa := &unix.SockaddrNetlink{
		Family: unix.AF_NETLINK,
		Groups: kernelGroup,
	}
	if err = unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return nil, os.NewSyscallError("bind", err)
	}
	if err = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_RCVBUF, rcvBufSize); err != nil {
		log.Warnf("uevent SO_RCVBUF: %v", err)
	}

	return &Listener{
		file: os.NewFile(uintptr(fd), "uevent"),
		buf:  make([]byte, bufferSize),
	}, nil
}

// Next waits up to wait for one event. It returns (nil, nil) on timeout
// and for datagrams that are not uevents.
func (l *Listener) Next(wait time.Duration) (*Event, error) {
	if err := l.file.SetReadDeadline(time.Now().Add(wait)); err != nil {
		return nil, err
	}

	n, err := l.file.Read(l.buf)
	if err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return nil, nil
		}
		return nil, err
	}
	ev, err := ParseEvent(l.buf[:n])
	if err != nil {
		log.Debugf("uevent skipped: %v", err)
		return nil, nil
	}
	return ev, nil
}

// Run delivers events to handle until ctx is done or the socket fails.
// A receive buffer overrun loses events but is not fatal.
func (l *Listener) Run(ctx context.Context, handle func(*Event)) error {
	for ctx.Err() == nil {
		ev, err := l.Next(l.wait())
		if err != nil {
			if errors.Is(err, unix.ENOBUFS) {
				log.Warnf("uevent: %v", err)
				continue
			}
			return err
		}
		if ev != nil {
			handle(ev)
		}
	}
	return nil
}

func (l *Listener) wait() time.Duration {
	if l.Wait > 0 {
		return l.Wait
	}
	return constant.WaitInterval
}

func (l *Listener) Close() error {
	return l.file.Close()
}

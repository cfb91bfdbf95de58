package client

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/brodyxchen/swmailbox/constant"
	"github.com/brodyxchen/swmailbox/device"
	"github.com/brodyxchen/swmailbox/errors"
	"github.com/brodyxchen/swmailbox/log"
	"github.com/brodyxchen/swmailbox/models"
	"github.com/brodyxchen/swmailbox/socket"
	"github.com/jpillora/backoff"
	"github.com/mdlayher/vsock"
)

// Transport connects to the msd serving a device and proves the device id.
type Transport struct {
	Timeout time.Duration
	Retries int

	// Resolve maps a host name to the address to dial; nil uses DNS.
	Resolve func(ctx context.Context, host string) (string, error)

	backoff backoff.Backoff
}

func NewTransport(cfg *Config) *Transport {
	return &Transport{
		Timeout: cfg.GetConnectTimeout(),
		Retries: cfg.GetConnectRetries(),
		backoff: backoff.Backoff{
			Min:    200 * time.Millisecond,
			Max:    2 * time.Second,
			Factor: 2,
			Jitter: true,
		},
	}
}

func (tp *Transport) timeout() time.Duration {
	if tp.Timeout > 0 {
		return tp.Timeout
	}
	return constant.ConnectTimeout
}

func (tp *Transport) retries() int {
	if tp.Retries > 0 {
		return tp.Retries
	}
	return constant.ConnectRetries
}

// Dial connects to conf.Host:conf.Port and runs the id handshake, retrying
// with exponential backoff. A rejected handshake is not retried.
func (tp *Transport) Dial(ctx context.Context, conf device.Config) (net.Conn, error) {
	addr, err := tp.resolve(ctx, conf.Host, conf.Port)
	if err != nil {
		return nil, err
	}

	b := tp.backoff
	b.Reset()
	for attempt := 1; ; attempt++ {
		conn, err := tp.dialOnce(addr, conf.ID)
		if err == nil {
			return conn, nil
		}
		if errors.Is(err, errors.ErrHandshake) || attempt >= tp.retries() {
			return nil, err
		}

		d := b.Duration()
		log.Debugf("connect to %s failed (attempt %d), retry in %v: %v", addr.GetAddr(), attempt, d, err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(d):
		}
	}
}

func (tp *Transport) resolve(ctx context.Context, host string, port uint16) (models.Addr, error) {
	addr, err := models.ParseAddr(host, port)
	if err != nil {
		return nil, errors.Wrap(errors.ErrUnknownHost, err)
	}

	ta, ok := addr.(*models.TcpAddr)
	if !ok {
		return addr, nil
	}

	resolve := tp.Resolve
	if resolve == nil {
		resolve = lookupIP
	}
	ip, err := resolve(ctx, ta.IP)
	if err != nil {
		return nil, errors.Wrap(errors.ErrUnknownHost, err)
	}
	ta.IP = ip
	return ta, nil
}

// lookupIP prefers an IPv4 address, as msd usually listens on one.
func lookupIP(ctx context.Context, host string) (string, error) {
	addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return "", err
	}
	if len(addrs) == 0 {
		return "", fmt.Errorf("no address for %s", host)
	}
	for _, a := range addrs {
		if a.IP.To4() != nil {
			return a.IP.String(), nil
		}
	}
	return addrs[0].IP.String(), nil
}

func (tp *Transport) dialOnce(addr models.Addr, id uint32) (net.Conn, error) {
	var (
		conn net.Conn
		err  error
	)
	switch ad := addr.(type) {
	case *models.VSockAddr:
		conn, err = vsock.Dial(ad.ContextId, ad.Port, nil)
	case *models.TcpAddr:
		conn, err = net.DialTimeout("tcp", ad.GetAddr(), tp.timeout())
	default:
		return nil, fmt.Errorf("unsupported addr %T", addr)
	}
	if err != nil {
		return nil, errors.Wrap(errors.ErrConnectFailed, err)
	}

	if err = handshake(conn, id); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

func handshake(conn net.Conn, id uint32) error {
	_ = conn.SetDeadline(time.Now().Add(constant.HandshakeTimeout))
	defer conn.SetDeadline(time.Time{})

	if err := socket.WriteID(conn, id); err != nil {
		return errors.Wrap(errors.ErrConnectFailed, err)
	}
	status, err := socket.ReadID(conn)
	if err != nil {
		return errors.Wrap(errors.ErrConnectFailed, err)
	}
	if status != socket.HandshakeAccepted {
		return errors.ErrHandshake
	}
	return nil
}

package server

import (
	"bufio"
	"context"
	"net"
	"runtime"
	"time"

	"github.com/brodyxchen/swmailbox/constant"
	"github.com/brodyxchen/swmailbox/device"
	"github.com/brodyxchen/swmailbox/errors"
	"github.com/brodyxchen/swmailbox/log"
	"github.com/brodyxchen/swmailbox/models"
	"github.com/brodyxchen/swmailbox/queue"
	"github.com/brodyxchen/swmailbox/relay"
	"github.com/brodyxchen/swmailbox/socket"
	"github.com/brodyxchen/swmailbox/statistics"
	"golang.org/x/sync/errgroup"
)

// Conn is one accepted peer of a device.
type Conn struct {
	Name   string
	server *Server
	ch     *device.Channel

	rwc       net.Conn
	bufReader *bufio.Reader // from rwc

	local  socket.Endpoint
	localR *bufio.Reader // shared by every Conn of the device, one at a time
}

// handshake checks the id the peer presents against the published one.
// A rejected peer is closed.
func (c *Conn) handshake(id uint32) bool {
	_ = c.rwc.SetDeadline(time.Now().Add(constant.HandshakeTimeout))
	defer c.rwc.SetDeadline(time.Time{})

	peer, err := socket.ReadID(c.rwc)
	if err != nil {
		c.ch.Logf(log.LevelWarn, "%s: failed to read id: %v", c.Name, err)
		c.rwc.Close()
		return false
	}

	if peer != id {
		statistics.Rejected.Inc(1)
		c.ch.Logf(log.LevelWarn, "%s: id %#x not recognized, want %#x", c.Name, peer, id)
		_ = socket.WriteID(c.rwc, socket.HandshakeRejected)
		c.rwc.Close()
		return false
	}

	if err = socket.WriteID(c.rwc, socket.HandshakeAccepted); err != nil {
		c.ch.Logf(log.LevelWarn, "%s: failed to accept: %v", c.Name, err)
		c.rwc.Close()
		return false
	}
	c.ch.Logf(log.LevelInfo, "%s: peer connected from %v", c.Name, c.rwc.RemoteAddr())
	return true
}

// serve relays until the peer goes away, the mailbox fails or ctx is
// done. Mailbox failures are reported as errors.ErrLocalMailbox.
func (c *Conn) serve(ctx context.Context) error {
	c.bufReader = getBufReader(c.rwc)
	defer func() {
		c.rwc.Close()
		putBufReader(c.bufReader)
	}()

	sctx, stop := context.WithCancel(ctx)
	defer stop()

	q := queue.New()
	g := new(errgroup.Group)
	g.Go(func() error {
		defer stop()
		if err := c.receive(sctx, queue.Local, c.local, c.localR, q, nil); err != nil {
			return errors.Wrap(errors.ErrLocalMailbox, err)
		}
		return nil
	})
	g.Go(func() error {
		defer stop()
		return c.receive(sctx, queue.Remote, c.rwc, c.bufReader, q, c.loadXclbin)
	})
	g.Go(func() error {
		defer stop()
		return c.process(sctx, q)
	})

	err := g.Wait()
	if err != nil {
		c.ch.Logf(log.LevelWarn, "%s: closed: %v", c.Name, err)
	}
	c.discard(q)
	return err
}

// discard counts what the session read but never delivered.
func (c *Conn) discard(q *queue.Queue) int {
	n := q.Len()
	if n > 0 {
		statistics.Dropped.Inc(int64(n))
		c.ch.Logf(log.LevelWarn, "%s: %d queued messages dropped", c.Name, n)
	}
	return n
}

func (c *Conn) receive(ctx context.Context, source queue.Source, ep socket.Endpoint, reader *bufio.Reader, q *queue.Queue, handler queue.Handler) error {
	wait := c.server.Config.GetWaitInterval()
	for ctx.Err() == nil {
		ok, err := socket.WaitReadable(ep, reader, wait)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if !ok {
			continue
		}

		env, err := socket.ReadEnvelope(reader)
		if err != nil {
			return err
		}
		if source == queue.Local {
			statistics.LocalMessages.Inc(1)
		} else {
			statistics.RemoteMessages.Inc(1)
		}
		q.Push(&queue.Message{
			Source:   source,
			Local:    c.local,
			Remote:   c.rwc,
			Handler:  handler,
			Envelope: env,
			Received: time.Now(),
		})
	}
	return nil
}

func (c *Conn) process(ctx context.Context, q *queue.Queue) error {
	wait := c.server.Config.GetWaitInterval()
	for ctx.Err() == nil {
		msg, ok := q.Pop(wait)
		if !ok {
			continue
		}
		route, err := relay.Process(msg)
		if err != nil {
			if route == relay.ToLocal {
				return errors.Wrap(errors.ErrLocalMailbox, err)
			}
			return err
		}
	}
	return nil
}

// loadXclbin programs a LOAD_XCLBIN request from the peer on this host and
// answers the peer; everything else is relayed to the mailbox.
func (c *Conn) loadXclbin(env *models.Envelope) (*models.Envelope, bool) {
	if !env.IsRequest() {
		return nil, false
	}
	req, err := models.ParseRequest(env.Payload)
	if err != nil || req.Kind != models.ReqLoadXclbin {
		return nil, false
	}

	err = c.program(req.Data)
	code := errors.Errno(err)
	if err != nil {
		statistics.HandlerErrors.Inc(1)
		c.ch.Logf(log.LevelError, "%s: xclbin download failed: %v", c.Name, err)
	} else {
		c.ch.Logf(log.LevelInfo, "%s: xclbin downloaded", c.Name)
	}
	return models.NewStatusResponse(env.ID, code), true
}

func (c *Conn) program(data []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			const size = 64 << 10
			buf := make([]byte, size)
			buf = buf[:runtime.Stack(buf, false)]
			c.ch.Logf(log.LevelError, "%s: panic programming xclbin: %v\n%s", c.Name, r, buf)
			err = errors.StatusHandlerPanic
		}
	}()

	xclbin, err := models.ParseXclbin(data)
	if err != nil {
		return err
	}

	image, err := c.server.Plugins.Plugin().RetrieveXclbin(c.ch.Index, xclbin.Data)
	switch {
	case errors.Is(err, errors.ErrNotSupported):
		image = xclbin.Data
	case err != nil:
		return err
	default:
		if xclbin, err = models.ParseXclbin(image); err != nil {
			return err
		}
		image = xclbin.Data
	}
	return c.server.Programmer.Download(c.ch, image)
}

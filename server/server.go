// Package server is the msd side: for every mgmt PF it publishes where it
// listens, accepts the mpd of that device and relays mailbox messages.
package server

import (
	"bufio"
	"context"
	"fmt"
	"math"
	"net"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/brodyxchen/swmailbox/constant"
	"github.com/brodyxchen/swmailbox/device"
	"github.com/brodyxchen/swmailbox/errors"
	"github.com/brodyxchen/swmailbox/log"
	"github.com/brodyxchen/swmailbox/models"
	"github.com/brodyxchen/swmailbox/plugin"
	"github.com/brodyxchen/swmailbox/socket"
	"github.com/brodyxchen/swmailbox/statistics"
	"github.com/brodyxchen/swmailbox/status"
	"github.com/mdlayher/vsock"
	"golang.org/x/sync/errgroup"
)

type Server struct {
	Config     *Config
	Plugins    *plugin.Table
	Status     *status.Publisher
	Programmer Programmer

	connIndex int64 // atomic visit
}

func New(cfg *Config, plugins *plugin.Table) *Server {
	if cfg == nil {
		cfg = &Config{}
	}
	if plugins == nil {
		plugins = plugin.Empty()
	}
	return &Server{
		Config:     cfg,
		Plugins:    plugins,
		Programmer: &ICAP{MgmtRoot: cfg.GetMgmtRoot()},
	}
}

func (srv *Server) getConnIndex() int64 {
	return atomic.AddInt64(&srv.connIndex, 1)
}

// Run serves every mgmt PF until ctx is done. It fails only when no device
// could be set up at all.
func (srv *Server) Run(ctx context.Context) error {
	channels, err := device.Enumerate(&srv.Config.Device, constant.MgmtDriver)
	if err != nil {
		return err
	}
	if len(channels) == 0 {
		log.Info("no device found")
		<-ctx.Done()
		return nil
	}

	var serving int32
	g := new(errgroup.Group)
	for _, ch := range channels {
		ch := ch
		g.Go(func() error {
			err := srv.ServeDevice(ctx, ch, func() { atomic.AddInt32(&serving, 1) })
			if err != nil {
				ch.Logf(log.LevelError, "msd thread exit: %v", err)
			}
			return err
		})
	}
	err = g.Wait()
	if atomic.LoadInt32(&serving) == 0 {
		return fmt.Errorf("no device could be served: %w", err)
	}
	return nil
}

// ServeDevice publishes the listen address of ch and relays between its
// mailbox and one peer at a time. ready is called once the address is
// published. The published config is cleared on return.
func (srv *Server) ServeDevice(ctx context.Context, ch *device.Channel, ready func()) error {
	defer ch.Close()

	mb, err := ch.OpenMailbox()
	if err != nil {
		return err
	}

	ln, host, err := srv.listen(ch.Index)
	if err != nil {
		return err
	}
	defer ln.Close()

	port, err := listenPort(ln)
	if err != nil {
		return err
	}
	conf, err := ch.UpdateConf(host, port, srv.Config.ChannelSwitch)
	if err != nil {
		return err
	}
	defer func() {
		if err := ch.RestoreConf(); err != nil {
			ch.Logf(log.LevelWarn, "failed to restore config: %v", err)
		}
		srv.Status.Publish(ch.Name, status.Removed)
	}()
	ch.Logf(log.LevelInfo, "listening on %s, port=%d, id=%#x", conf.Host, conf.Port, conf.ID)
	srv.Status.Publish(ch.Name, status.Listening)
	if ready != nil {
		ready()
	}

	local := bufio.NewReaderSize(mb, constant.MaxReadBufferSize)
	var tempDelay time.Duration // how long to sleep on accept failure
	for ctx.Err() == nil {
		rw, err := srv.accept(ln)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			if ne, ok := err.(interface{ Temporary() bool }); ok && ne.Temporary() {
				tempDelay = srv.sleep(tempDelay)
				continue
			}
			return err
		}
		tempDelay = 0

		c := srv.newConn(ch, rw, mb, local)
		if !c.handshake(conf.ID) {
			continue
		}
		srv.Status.Publish(ch.Name, status.Connected)
		err = c.serve(ctx)
		srv.Status.Publish(ch.Name, status.Disconnected)
		if errors.Is(err, errors.ErrLocalMailbox) {
			return err
		}
	}
	return nil
}

type deadlineListener interface {
	net.Listener
	SetDeadline(t time.Time) error
}

func (srv *Server) listen(index int) (deadlineListener, string, error) {
	port := uint32(0)
	if srv.Config.ListenPort != 0 {
		port = uint32(srv.Config.ListenPort) + uint32(index)
	}

	host := srv.Config.GetListenHost()
	if host == VSockHost {
		cid, err := vsock.ContextID()
		if err != nil {
			return nil, "", err
		}
		ln, err := vsock.Listen(port, nil)
		if err != nil {
			return nil, "", err
		}
		return ln, models.VSockPrefix + strconv.FormatUint(uint64(cid), 10), nil
	}

	ln, err := net.Listen("tcp", net.JoinHostPort("", strconv.FormatUint(uint64(port), 10)))
	if err != nil {
		return nil, "", err
	}
	return ln.(*net.TCPListener), host, nil
}

// listenPort is the port to publish. The comm id carries 16 bits, which
// an auto-bound vsock port usually exceeds.
func listenPort(ln net.Listener) (uint16, error) {
	var port uint32
	switch addr := ln.Addr().(type) {
	case *net.TCPAddr:
		port = uint32(addr.Port)
	case *vsock.Addr:
		port = addr.Port
	}
	if port == 0 || port > math.MaxUint16 {
		return 0, fmt.Errorf("%v: port %d cannot be published, set listen_port", ln.Addr(), port)
	}
	return uint16(port), nil
}

// accept waits one wait interval at most so that shutdown is noticed.
func (srv *Server) accept(ln deadlineListener) (net.Conn, error) {
	_ = ln.SetDeadline(time.Now().Add(srv.Config.GetWaitInterval()))
	return ln.Accept()
}

func (srv *Server) newConn(ch *device.Channel, rw net.Conn, mb socket.Endpoint, local *bufio.Reader) *Conn {
	statistics.Connections.Inc(1)
	return &Conn{
		Name:   "srv-" + strconv.FormatInt(srv.getConnIndex(), 10),
		server: srv,
		ch:     ch,
		rwc:    rw,
		local:  mb,
		localR: local,
	}
}

func (srv *Server) sleep(tempDelay time.Duration) time.Duration {
	if tempDelay == 0 {
		tempDelay = 5 * time.Millisecond
	} else {
		tempDelay *= 2
	}
	if max := 1 * time.Second; tempDelay > max {
		tempDelay = max
	}
	time.Sleep(tempDelay)
	return tempDelay
}

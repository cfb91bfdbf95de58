package client

import (
	"bufio"
	"context"
	"net"
	"time"

	"github.com/brodyxchen/swmailbox/constant"
	"github.com/brodyxchen/swmailbox/device"
	"github.com/brodyxchen/swmailbox/errors"
	"github.com/brodyxchen/swmailbox/log"
	"github.com/brodyxchen/swmailbox/models"
	"github.com/brodyxchen/swmailbox/plugin"
	"github.com/brodyxchen/swmailbox/queue"
	"github.com/brodyxchen/swmailbox/relay"
	"github.com/brodyxchen/swmailbox/socket"
	"github.com/brodyxchen/swmailbox/statistics"
	"github.com/brodyxchen/swmailbox/status"
	"golang.org/x/sync/errgroup"
)

// notifyID tags the MGMT_STATE requests mpd makes up; the driver rejects
// id 0.
const notifyID = 0x1234

// Pair is the receiver and processor of one device. Both live and die
// together: whichever returns first stops the other.
type Pair struct {
	ch        *device.Channel
	transport *Transport
	plugin    plugin.Plugin
	publisher *status.Publisher
	wait      time.Duration

	queue *queue.Queue

	ctx  context.Context
	stop context.CancelFunc
	done chan struct{}
}

func newPair(ch *device.Channel, cli *Client) *Pair {
	ctx, cancel := context.WithCancel(context.Background())
	return &Pair{
		ch:        ch,
		transport: cli.transport,
		plugin:    cli.Plugins.Plugin(),
		publisher: cli.Status,
		wait:      cli.Config.GetWaitInterval(),
		queue:     queue.New(),
		ctx:       ctx,
		stop:      cancel,
		done:      make(chan struct{}),
	}
}

func (p *Pair) start() {
	statistics.Pairs.Inc(1)
	go p.run()
}

// Stop asks both goroutines to return; they notice within one wait
// interval.
func (p *Pair) Stop() {
	p.stop()
}

// Done is closed once the pair has fully joined and the mailbox is closed.
func (p *Pair) Done() <-chan struct{} {
	return p.done
}

func (p *Pair) Joined() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

func (p *Pair) isStopped() bool {
	return p.ctx.Err() != nil
}

func (p *Pair) run() {
	defer func() {
		statistics.Pairs.Dec(1)
		close(p.done)
	}()
	defer p.stop()

	remote, handler, err := p.connect()
	if err != nil {
		p.ch.Logf(log.LevelError, "failed to set up channel: %v", err)
		p.ch.Close()
		return
	}
	if remote != nil {
		defer remote.Close()
	}

	mb, err := p.ch.OpenMailbox()
	if err != nil {
		p.ch.Logf(log.LevelError, "failed to open mailbox %s: %v", p.ch.NodePath(), err)
		p.ch.Close()
		return
	}
	defer p.ch.Close()

	p.notify(mb, true)
	p.publisher.Publish(p.ch.Name, status.Connected)

	g := new(errgroup.Group)
	g.Go(func() error {
		defer p.Stop()
		return p.receive(queue.Local, mb, mb, remote, handler)
	})
	if remote != nil {
		g.Go(func() error {
			defer p.Stop()
			return p.receive(queue.Remote, remote, mb, remote, nil)
		})
	}
	g.Go(func() error {
		defer p.Stop()
		return p.process()
	})
	if err = g.Wait(); err != nil {
		p.ch.Logf(log.LevelWarn, "channel stopped: %v", err)
	}

	// the processor is gone, write directly
	if err = socket.WriteEnvelope(mb, notifyEnvelope(false)); err != nil {
		p.ch.Logf(log.LevelWarn, "offline notification failed: %v", err)
	}
	p.mgmtState(false)
	p.publisher.Publish(p.ch.Name, status.Disconnected)
	p.ch.Logf(log.LevelInfo, "channel pair exit")
}

// connect picks the channel: a plugin that provides its own connection
// takes over interpretation of local requests; otherwise the peer msd
// published in sysfs is dialed.
func (p *Pair) connect() (net.Conn, queue.Handler, error) {
	conn, err := p.plugin.RemoteConn(p.ch.Index)
	if err == nil {
		in := relay.NewInterpreter(p.ch.Index, p.ch.Name, p.plugin)
		return conn, in.Handle, nil
	}
	if !errors.Is(err, errors.ErrNotSupported) {
		return nil, nil, errors.Wrap(errors.ErrRemoteConnErr, err)
	}

	conf, err := p.ch.LoadConf()
	if err != nil {
		return nil, nil, err
	}
	p.ch.Logf(log.LevelInfo, "peer msd host=%s, port=%d, id=%#x", conf.Host, conf.Port, conf.ID)

	conn, err = p.transport.Dial(p.ctx, conf)
	if err != nil {
		return nil, nil, err
	}
	p.ch.Logf(log.LevelInfo, "successfully connected to msd")
	return conn, nil, nil
}

func notifyEnvelope(online bool) *models.Envelope {
	return models.NewEnvelope(models.NewMgmtState(online), notifyID, models.FlagRequest)
}

// notify tells the driver a peer is (or is no longer) serving the device.
// The request goes through the queue like one from the peer.
func (p *Pair) notify(mb socket.Endpoint, online bool) {
	p.queue.Push(&queue.Message{
		Source:   queue.Remote,
		Local:    mb,
		Envelope: notifyEnvelope(online),
		Received: time.Now(),
	})
	p.mgmtState(online)
}

func (p *Pair) mgmtState(online bool) {
	if err := p.plugin.MgmtState(p.ch.Index, online); err != nil && !errors.Is(err, errors.ErrNotSupported) {
		p.ch.Logf(log.LevelWarn, "plugin mgmt state hook: %v", err)
	}
}

// receive reads envelopes from src until stopped or failing.
func (p *Pair) receive(source queue.Source, src, local, remote socket.Endpoint, handler queue.Handler) error {
	reader := bufio.NewReaderSize(src, constant.MaxReadBufferSize)
	for !p.isStopped() {
		ok, err := socket.WaitReadable(src, reader, p.wait)
		if err != nil {
			if p.isStopped() {
				return nil
			}
			return errors.Wrap(errors.ErrReadSocketErr, err)
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

		p.queue.Push(&queue.Message{
			Source:   source,
			Local:    local,
			Remote:   remote,
			Handler:  handler,
			Envelope: env,
			Received: time.Now(),
		})
	}
	return nil
}

// process drains the queue in arrival order.
func (p *Pair) process() error {
	for !p.isStopped() {
		msg, ok := p.queue.Pop(p.wait)
		if !ok {
			continue
		}
		if _, err := relay.Process(msg); err != nil {
			return err
		}
	}
	return nil
}

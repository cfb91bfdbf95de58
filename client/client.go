// Package client is the mpd side: it follows mailbox sub-devices of the
// user PF through hotplug and runs one relay pair per device between the
// local mailbox and the peer msd (or a vendor plugin).
package client

import (
	"context"
	"time"

	"github.com/brodyxchen/swmailbox/constant"
	"github.com/brodyxchen/swmailbox/device"
	"github.com/brodyxchen/swmailbox/errors"
	"github.com/brodyxchen/swmailbox/hotplug"
	"github.com/brodyxchen/swmailbox/log"
	"github.com/brodyxchen/swmailbox/plugin"
	"github.com/brodyxchen/swmailbox/status"
)

type Client struct {
	Config  *Config
	Plugins *plugin.Table
	Status  *status.Publisher
	Forward Forwarder

	transport *Transport
	registry  *Registry
}

func New(cfg *Config, plugins *plugin.Table) *Client {
	if cfg == nil {
		cfg = &Config{}
	}
	if plugins == nil {
		plugins = plugin.Empty()
	}
	return &Client{
		Config:    cfg,
		Plugins:   plugins,
		Forward:   logForwarder,
		transport: NewTransport(cfg),
		registry:  NewRegistry(),
	}
}

// Start adds every user PF already present.
func (cli *Client) Start() error {
	channels, err := device.Enumerate(&cli.Config.Device, constant.UserDriver)
	if err != nil {
		return err
	}
	if len(channels) == 0 {
		log.Info("no device found")
	}
	for _, ch := range channels {
		if err := cli.Add(ch.Name); err != nil {
			log.Errorf("%s: %v", ch.Name, err)
		}
	}
	return nil
}

// Run starts the existing devices, then follows hotplug events until ctx
// is done. All pairs are stopped and joined before it returns.
func (cli *Client) Run(ctx context.Context, events *hotplug.Listener) error {
	defer cli.Shutdown()

	if err := cli.Start(); err != nil {
		return err
	}
	if events == nil {
		<-ctx.Done()
		return nil
	}
	events.Wait = cli.Config.GetWaitInterval()
	return events.Run(ctx, cli.HandleEvent)
}

func (cli *Client) HandleEvent(ev *hotplug.Event) {
	name, ok := ev.Mailbox()
	if !ok {
		cli.Forward.Forward(ev)
		return
	}

	switch ev.Action {
	case hotplug.ActionAdd:
		if !device.BoundTo(&cli.Config.Device, name, constant.UserDriver) {
			log.Debugf("%s: not bound to %s, ignored", name, constant.UserDriver)
			return
		}
		if err := cli.Add(name); err != nil {
			log.Errorf("%s: %v", name, err)
		}
	case hotplug.ActionRemove:
		cli.Remove(name)
	}
}

// Add moves the device to Added and starts a fresh pair. Adding an Added
// device is a no-op. A previous pair still joining is waited for, bounded
// by the join timeout.
func (cli *Client) Add(name string) error {
	e := cli.registry.GetOrCreate(name)

	e.mutex.Lock()
	if e.state == Added {
		e.mutex.Unlock()
		return nil
	}
	prev := e.pair
	e.mutex.Unlock()

	if prev != nil && !cli.join(name, prev) {
		return errors.ErrPairNotJoined
	}

	e.mutex.Lock()
	if e.state == Added {
		e.mutex.Unlock()
		return nil
	}
	if e.pair != nil && !e.pair.Joined() {
		e.mutex.Unlock()
		return errors.ErrPairNotJoined
	}

	ch, err := device.New(&cli.Config.Device, name, e.index)
	if err != nil {
		e.mutex.Unlock()
		return err
	}
	e.pair = newPair(ch, cli)
	e.state = Added
	e.pair.start()
	e.mutex.Unlock()

	cli.Status.Publish(name, status.Added)
	log.Infof("%s: added (index %d)", name, e.index)
	return nil
}

// Remove moves the device to Removed and stops its pair. The join happens
// in the background; a pair that does not join in time is logged.
func (cli *Client) Remove(name string) {
	e, ok := cli.registry.Get(name)
	if !ok {
		return
	}

	e.mutex.Lock()
	if e.state == Removed {
		e.mutex.Unlock()
		return
	}
	e.state = Removed
	pair := e.pair
	e.mutex.Unlock()

	pair.Stop()
	cli.Status.Publish(name, status.Removed)
	log.Infof("%s: removed", name)

	go cli.join(name, pair)
}

func (cli *Client) join(name string, pair *Pair) bool {
	timer := time.NewTimer(cli.Config.GetJoinTimeout())
	defer timer.Stop()

	select {
	case <-pair.Done():
		return true
	case <-timer.C:
		log.Warnf("%s: channel pair not joined after %v", name, cli.Config.GetJoinTimeout())
		return false
	}
}

// State reports the lifecycle state of name.
func (cli *Client) State(name string) State {
	e, ok := cli.registry.Get(name)
	if !ok {
		return Removed
	}
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return e.state
}

// Shutdown stops every pair and waits for each one, bounded by the join
// timeout.
func (cli *Client) Shutdown() {
	var pairs []*Pair
	cli.registry.ForEach(func(e *entry) {
		e.mutex.Lock()
		e.state = Removed
		if e.pair != nil {
			e.pair.Stop()
			pairs = append(pairs, e.pair)
		}
		e.mutex.Unlock()
	})

	for _, p := range pairs {
		cli.join(p.ch.Name, p)
	}
	cli.registry.ForEach(func(e *entry) {
		cli.registry.Remove(e.name)
	})
}

package client

import (
	"github.com/brodyxchen/swmailbox/hotplug"
	"github.com/brodyxchen/swmailbox/log"
)

type State int

const (
	Removed State = iota
	Added
)

func (s State) String() string {
	if s == Added {
		return "added"
	}
	return "removed"
}

// Forwarder receives the hotplug events that are not about a mailbox,
// e.g. to update container device permissions.
type Forwarder interface {
	Forward(ev *hotplug.Event)
}

type ForwardFunc func(ev *hotplug.Event)

func (f ForwardFunc) Forward(ev *hotplug.Event) {
	f(ev)
}

var logForwarder = ForwardFunc(func(ev *hotplug.Event) {
	log.Debugf("uevent %s not forwarded", ev)
})

// Package relay decides where each mailbox message goes: straight through
// to the other side, or into a handler that answers it in place.
package relay

import (
	"github.com/brodyxchen/swmailbox/errors"
	"github.com/brodyxchen/swmailbox/log"
	"github.com/brodyxchen/swmailbox/models"
	"github.com/brodyxchen/swmailbox/queue"
	"github.com/brodyxchen/swmailbox/socket"
	"github.com/brodyxchen/swmailbox/statistics"
)

type Route int

const (
	Drop Route = iota
	ToLocal
	ToRemote
)

func (r Route) String() string {
	switch r {
	case ToLocal:
		return "local"
	case ToRemote:
		return "remote"
	}
	return "drop"
}

func back(src queue.Source) Route {
	if src == queue.Local {
		return ToLocal
	}
	return ToRemote
}

func across(src queue.Source) Route {
	if src == queue.Local {
		return ToRemote
	}
	return ToLocal
}

// Dispatch returns the envelope to send and its destination. Invalid
// envelopes are never forwarded.
func Dispatch(msg *queue.Message) (*models.Envelope, Route) {
	env := msg.Envelope
	if !env.IsValid() {
		log.Errorf("%s message dropped: invalid envelope", msg.Source)
		return nil, Drop
	}

	if msg.Handler != nil {
		if reply, handled := msg.Handler(env); handled {
			if reply == nil {
				return nil, Drop
			}
			return reply, back(msg.Source)
		}
	}
	return env, across(msg.Source)
}

// Deliver writes env to the endpoint named by route.
func Deliver(msg *queue.Message, env *models.Envelope, route Route) error {
	var ep socket.Endpoint
	switch route {
	case ToLocal:
		ep = msg.Local
	case ToRemote:
		ep = msg.Remote
	default:
		return nil
	}
	if ep == nil {
		return errors.Wrap(errors.ErrNoPeer, errors.New(route.String()))
	}
	return socket.WriteEnvelope(ep, env)
}

// Process dispatches and delivers one message. The returned route tells
// the caller which side failed when err is not nil.
func Process(msg *queue.Message) (Route, error) {
	env, route := Dispatch(msg)
	if route == Drop {
		statistics.Dropped.Inc(1)
		return Drop, nil
	}

	err := Deliver(msg, env, route)
	if err == nil {
		statistics.ObserveDispatch(msg.Received)
	}
	return route, err
}

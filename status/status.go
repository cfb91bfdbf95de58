// Package status publishes per-device relay state to redis so that
// operators can watch the daemons without reading syslog.
package status

import (
	"time"

	"github.com/brodyxchen/swmailbox/log"
	"github.com/garyburd/redigo/redis"
)

const (
	Added        = "added"
	Connected    = "connected"
	Removed      = "removed"
	Listening    = "listening"
	Disconnected = "disconnected"

	dialTimeout = 500 * time.Millisecond
)

// Publisher writes HSET <key> <device> <state> and announces the change on
// channel <key>. A nil Publisher drops everything.
type Publisher struct {
	key  string
	pool *redis.Pool
}

func New(addr, key string) *Publisher {
	return NewWithDial(key, func() (redis.Conn, error) {
		return redis.Dial("tcp", addr,
			redis.DialConnectTimeout(dialTimeout),
			redis.DialReadTimeout(dialTimeout),
			redis.DialWriteTimeout(dialTimeout))
	})
}

func NewWithDial(key string, dial func() (redis.Conn, error)) *Publisher {
	return &Publisher{
		key: key,
		pool: &redis.Pool{
			MaxIdle:     1,
			IdleTimeout: time.Minute,
			Dial:        dial,
		},
	}
}

func (p *Publisher) Publish(device, state string) {
	if p == nil {
		return
	}

	conn := p.pool.Get()
	defer conn.Close()

	conn.Send("HSET", p.key, device, state)
	conn.Send("PUBLISH", p.key, device+" "+state)
	if _, err := conn.Do(""); err != nil {
		log.Debugf("status %s %s: %v", device, state, err)
	}
}

// Get reads back the last published state of device.
func (p *Publisher) Get(device string) (string, error) {
	conn := p.pool.Get()
	defer conn.Close()
	return redis.String(conn.Do("HGET", p.key, device))
}

func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}
	return p.pool.Close()
}

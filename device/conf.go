package device

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/brodyxchen/swmailbox/errors"
	"github.com/google/uuid"
)

// Config is what msd publishes for mpd to find it. It is either fully
// valid or zero.
type Config struct {
	Host   string
	Port   uint16
	ID     uint32
	Switch uint64
}

func (c Config) Valid() bool {
	return c.Host != "" && c.Port != 0 && c.ID != 0
}

func (c Config) commID() string {
	if !c.Valid() {
		return ""
	}
	return fmt.Sprintf("host=%s\nport=%d\nid=%x\n", c.Host, c.Port, c.ID)
}

func parseCommID(s string) (Config, error) {
	var (
		conf                    Config
		hasHost, hasPort, hasID bool
	)

	scanner := bufio.NewScanner(strings.NewReader(s))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return Config{}, fmt.Errorf("malformed line %q", line)
		}
		key, value = strings.TrimSpace(key), strings.TrimSpace(value)

		switch key {
		case "host":
			conf.Host = value
			hasHost = value != ""
		case "port":
			port, err := strconv.ParseUint(value, 10, 16)
			if err != nil {
				return Config{}, fmt.Errorf("port: %w", err)
			}
			conf.Port = uint16(port)
			hasPort = port != 0
		case "id":
			id, err := strconv.ParseUint(strings.TrimPrefix(value, "0x"), 16, 32)
			if err != nil {
				return Config{}, fmt.Errorf("id: %w", err)
			}
			conf.ID = uint32(id)
			hasID = id != 0
		}
	}
	if err := scanner.Err(); err != nil {
		return Config{}, err
	}

	if !hasHost || !hasPort || !hasID {
		return Config{}, fmt.Errorf("incomplete comm id %q", s)
	}
	return conf, nil
}

func (ch *Channel) Config() Config {
	ch.mutex.Lock()
	defer ch.mutex.Unlock()
	return ch.conf
}

// LoadConf reads the comm id and channel switch from sysfs. Any missing or
// malformed field clears the in-memory config.
func (ch *Channel) LoadConf() (Config, error) {
	ch.mutex.Lock()
	defer ch.mutex.Unlock()

	ch.conf = Config{}

	b, err := os.ReadFile(ch.attrPath(attrCommID))
	if err != nil {
		return Config{}, errors.Wrap(errors.ErrInvalidConfig, err)
	}
	conf, err := parseCommID(string(b))
	if err != nil {
		return Config{}, errors.Wrap(errors.ErrInvalidConfig, err)
	}

	if b, err = os.ReadFile(ch.attrPath(attrChannelSwitch)); err == nil {
		if s := strings.TrimSpace(string(b)); s != "" {
			conf.Switch, err = strconv.ParseUint(s, 10, 64)
			if err != nil {
				return Config{}, errors.Wrap(errors.ErrInvalidConfig, err)
			}
		}
	} else if !os.IsNotExist(err) {
		return Config{}, errors.Wrap(errors.ErrInvalidConfig, err)
	}

	ch.conf = conf
	return conf, nil
}

// UpdateConf publishes host/port with a freshly generated id. Memory is only
// updated once both attributes are written.
func (ch *Channel) UpdateConf(host string, port uint16, chanSwitch uint64) (Config, error) {
	conf := Config{Host: host, Port: port, ID: newID(), Switch: chanSwitch}
	if !conf.Valid() {
		return Config{}, errors.ErrInvalidConfig
	}

	ch.mutex.Lock()
	defer ch.mutex.Unlock()

	if err := ch.store(conf); err != nil {
		return Config{}, err
	}
	ch.conf = conf
	return conf, nil
}

// RestoreConf clears the published config, which tells the peer that no
// msd is serving this device.
func (ch *Channel) RestoreConf() error {
	ch.mutex.Lock()
	defer ch.mutex.Unlock()

	ch.conf = Config{}
	return ch.store(Config{})
}

func (ch *Channel) store(conf Config) error {
	idPath := ch.attrPath(attrCommID)
	prev, _ := os.ReadFile(idPath)

	if err := writeAttr(idPath, conf.commID()); err != nil {
		return err
	}
	if err := writeAttr(ch.attrPath(attrChannelSwitch), strconv.FormatUint(conf.Switch, 10)); err != nil {
		_ = writeAttr(idPath, string(prev))
		return err
	}
	return nil
}

func writeAttr(path, value string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC, 0)
	if err != nil {
		return err
	}
	if _, err = f.WriteString(value); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func newID() uint32 {
	for {
		u := uuid.New()
		if id := binary.BigEndian.Uint32(u[:4]); id != 0 {
			return id
		}
	}
}

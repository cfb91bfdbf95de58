// Package device is the per-PCI-function view used by both daemons to reach
// the kernel mailbox: its sysfs attributes and its character node.
package device

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/brodyxchen/swmailbox/constant"
	"github.com/brodyxchen/swmailbox/errors"
	"github.com/brodyxchen/swmailbox/log"
	"github.com/brodyxchen/swmailbox/socket"
)

const (
	attrCommID        = "config_mailbox_comm_id"
	attrChannelSwitch = "config_mailbox_channel_switch"
	attrInstance      = "instance"

	mailboxPrefix = "mailbox."
)

// OpenFunc opens the mailbox node. Tests replace it with in-memory pipes.
type OpenFunc func(path string) (socket.Endpoint, error)

type Options struct {
	SysfsRoot string
	DevRoot   string
	Open      OpenFunc
}

func (o *Options) sysfsRoot() string {
	if o != nil && o.SysfsRoot != "" {
		return o.SysfsRoot
	}
	return constant.SysfsRoot
}

func (o *Options) devRoot() string {
	if o != nil && o.DevRoot != "" {
		return o.DevRoot
	}
	return constant.DevRoot
}

func (o *Options) open() OpenFunc {
	if o != nil && o.Open != nil {
		return o.Open
	}
	return openNode
}

type Channel struct {
	Name  string // bus:device.function, e.g. 0000:03:00.1
	Index int

	sysfsDir string
	subdev   string
	devRoot  string
	open     OpenFunc

	mutex   sync.Mutex
	mailbox socket.Endpoint
	closed  bool
	conf    Config
}

// New binds a channel to the PCI function name, which must expose a
// mailbox sub-device in sysfs.
func New(opts *Options, name string, index int) (*Channel, error) {
	dir := filepath.Join(opts.sysfsRoot(), name)
	subdev, err := findMailbox(dir)
	if err != nil {
		return nil, err
	}

	return &Channel{
		Name:     name,
		Index:    index,
		sysfsDir: dir,
		subdev:   subdev,
		devRoot:  opts.devRoot(),
		open:     opts.open(),
	}, nil
}

func findMailbox(dir string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, mailboxPrefix+"*"))
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "", errors.Wrap(errors.ErrNoMailbox, fmt.Errorf("%s", filepath.Base(dir)))
	}
	sort.Strings(matches)
	return filepath.Base(matches[0]), nil
}

// BoundTo reports whether the PCI function name is bound to driver.
func BoundTo(opts *Options, name, driver string) bool {
	link, err := os.Readlink(filepath.Join(opts.sysfsRoot(), name, "driver"))
	return err == nil && filepath.Base(link) == driver
}

// Enumerate lists the PCI functions bound to driver that carry a mailbox,
// indexed in bus order.
func Enumerate(opts *Options, driver string) ([]*Channel, error) {
	root := opts.sysfsRoot()
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if BoundTo(opts, e.Name(), driver) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	channels := make([]*Channel, 0, len(names))
	for _, name := range names {
		ch, err := New(opts, name, len(channels))
		if err != nil {
			log.Debugf("%s: skipped: %v", name, err)
			continue
		}
		channels = append(channels, ch)
	}
	return channels, nil
}

// NodePath maps sysfs sub-device mailbox.<role>.<instance> to the node
// <devRoot>/mailbox.<role><instance>.
func (ch *Channel) NodePath() string {
	parts := strings.SplitN(ch.subdev, ".", 3)
	node := ch.subdev
	if len(parts) == 3 {
		node = parts[0] + "." + parts[1] + parts[2]
	}
	return filepath.Join(ch.devRoot, node)
}

func (ch *Channel) attrPath(attr string) string {
	return filepath.Join(ch.sysfsDir, ch.subdev, attr)
}

// OpenMailbox returns the cached mailbox endpoint, opening it on first use.
func (ch *Channel) OpenMailbox() (socket.Endpoint, error) {
	ch.mutex.Lock()
	defer ch.mutex.Unlock()

	if ch.closed {
		return nil, errors.ErrClosed
	}
	if ch.mailbox != nil {
		return ch.mailbox, nil
	}

	mb, err := ch.open(ch.NodePath())
	if err != nil {
		return nil, err
	}
	ch.mailbox = mb
	return mb, nil
}

// Close releases the mailbox exactly once; later calls are no-ops.
func (ch *Channel) Close() error {
	ch.mutex.Lock()
	defer ch.mutex.Unlock()

	if ch.closed {
		return nil
	}
	ch.closed = true

	var err error
	if ch.mailbox != nil {
		err = ch.mailbox.Close()
		ch.mailbox = nil
	}
	return err
}

// Instance is the driver instance number used to name the mgmt node.
func (ch *Channel) Instance() (string, error) {
	b, err := os.ReadFile(filepath.Join(ch.sysfsDir, attrInstance))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

func (ch *Channel) Logf(level log.Level, format string, args ...interface{}) {
	if !log.Enabled(level) {
		return
	}
	log.Print(level, ch.Name+": "+fmt.Sprintf(format, args...))
}

// Package hotplug listens for kernel uevents so that mpd can follow
// mailbox sub-devices as they come and go.
package hotplug

import (
	"bytes"
	"fmt"
	"path"
	"strings"
)

const (
	ActionAdd    = "add"
	ActionRemove = "remove"
)

type Event struct {
	Action    string
	DevPath   string
	Subsystem string
	Env       map[string]string
}

// ParseEvent decodes one kernel uevent datagram:
// "ACTION@DEVPATH\0KEY=VALUE\0...".
func ParseEvent(buf []byte) (*Event, error) {
	fields := bytes.Split(bytes.TrimRight(buf, "\x00"), []byte{0})
	head := string(fields[0])

	action, devpath, ok := strings.Cut(head, "@")
	if !ok || action == "" || devpath == "" {
		return nil, fmt.Errorf("malformed uevent header %q", head)
	}

	ev := &Event{
		Action:  action,
		DevPath: devpath,
		Env:     make(map[string]string, len(fields)-1),
	}
	for _, f := range fields[1:] {
		key, value, ok := strings.Cut(string(f), "=")
		if !ok {
			continue
		}
		ev.Env[key] = value
	}

	if v := ev.Env["ACTION"]; v != "" {
		ev.Action = v
	}
	if v := ev.Env["DEVPATH"]; v != "" {
		ev.DevPath = v
	}
	ev.Subsystem = ev.Env["SUBSYSTEM"]
	return ev, nil
}

// Mailbox reports whether the event is about a mailbox sub-device and
// returns the name of the PCI function that owns it.
func (e *Event) Mailbox() (string, bool) {
	dir, base := path.Split(strings.TrimRight(e.DevPath, "/"))
	if !strings.HasPrefix(base, "mailbox.") {
		return "", false
	}
	parent := path.Base(strings.TrimRight(dir, "/"))
	if parent == "" || parent == "." || parent == "/" {
		return "", false
	}
	return parent, true
}

func (e *Event) String() string {
	return e.Action + "@" + e.DevPath
}

package plugin

import (
	"fmt"
	"os"
	goplugin "plugin"
	"sync"

	"github.com/brodyxchen/swmailbox/errors"
	"github.com/brodyxchen/swmailbox/log"
)

// InitSymbol is the function a plugin module exports:
//
//	func Init() (plugin.Plugin, error)
const InitSymbol = "Init"

var (
	registeredMutex sync.Mutex
	registered      Plugin
)

// Register installs a statically linked plugin; Load prefers it over any
// file on disk.
func Register(p Plugin) {
	registeredMutex.Lock()
	registered = p
	registeredMutex.Unlock()
}

func registeredPlugin() Plugin {
	registeredMutex.Lock()
	defer registeredMutex.Unlock()
	return registered
}

// Load opens the plugin module at path. A missing file is not an error.
// On any other failure the returned table is empty so the daemon keeps
// its default behavior for every request kind.
func Load(path string) (*Table, error) {
	if p := registeredPlugin(); p != nil {
		log.Infof("using registered plugin %T", p)
		return New(p), nil
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return Empty(), nil
		}
		return Empty(), err
	}
	log.Infof("found plugin: %s", path)

	mod, err := goplugin.Open(path)
	if err != nil {
		return Empty(), err
	}
	sym, err := mod.Lookup(InitSymbol)
	if err != nil {
		return Empty(), err
	}
	initFn, ok := sym.(func() (Plugin, error))
	if !ok {
		return Empty(), errors.Wrap(errors.ErrInvalidPlugin, fmt.Errorf("%s has type %T", InitSymbol, sym))
	}

	p, err := initFn()
	if err != nil {
		return Empty(), errors.Wrap(errors.ErrInvalidPlugin, err)
	}
	if p == nil {
		return Empty(), errors.Wrap(errors.ErrInvalidPlugin, fmt.Errorf("%s returned no plugin", InitSymbol))
	}
	return New(p), nil
}

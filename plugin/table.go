package plugin

import (
	"sync"
)

// Table holds the loaded plugin, if any. It is read-only once loaded.
type Table struct {
	plugin    Plugin
	closeOnce sync.Once
}

// Empty is the table of a daemon without plugin: nothing is interpreted.
func Empty() *Table {
	return &Table{}
}

func New(p Plugin) *Table {
	return &Table{plugin: p}
}

func (t *Table) Loaded() bool {
	return t != nil && t.plugin != nil
}

// Plugin never returns nil; an empty table answers with Unsupported.
func (t *Table) Plugin() Plugin {
	if !t.Loaded() {
		return Unsupported{}
	}
	return t.plugin
}

// Close calls the plugin's Fini once. Callers must have joined every
// goroutine that may still run a hook.
func (t *Table) Close() {
	if !t.Loaded() {
		return
	}
	t.closeOnce.Do(t.plugin.Fini)
}

package client

import (
	"sort"
	"sync"
)

// entry is the lifecycle record of one PCI function. Its fields are
// guarded by mutex; the registry mutex only guards the map.
type entry struct {
	name  string
	index int

	mutex sync.Mutex
	state State
	pair  *Pair
}

type Registry struct {
	mutex   sync.Mutex
	entries map[string]*entry
	next    int
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// GetOrCreate returns the entry of name. A new entry gets the next device
// index, which it keeps for the life of the process.
func (r *Registry) GetOrCreate(name string) *entry {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if e, ok := r.entries[name]; ok {
		return e
	}
	e := &entry{name: name, index: r.next, state: Removed}
	r.next++
	r.entries[name] = e
	return e
}

func (r *Registry) Get(name string) (*entry, bool) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	e, ok := r.entries[name]
	return e, ok
}

func (r *Registry) Remove(name string) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	delete(r.entries, name)
}

// ForEach calls fn on a snapshot of the entries in name order, without
// holding the registry lock.
func (r *Registry) ForEach(fn func(e *entry)) {
	r.mutex.Lock()
	list := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		list = append(list, e)
	}
	r.mutex.Unlock()

	sort.Slice(list, func(i, j int) bool { return list[i].name < list[j].name })
	for _, e := range list {
		fn(e)
	}
}

func (r *Registry) Len() int {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return len(r.entries)
}

package monitor

import (
	"sort"
	"sync"
)

// Registry owns the monitored channels keyed by platform and normalized name.
type Registry struct {
	mu       sync.RWMutex
	channels map[Platform]map[string]*Channel
}

func NewRegistry() *Registry {
	return &Registry{channels: make(map[Platform]map[string]*Channel)}
}

// Add inserts a new channel unless one with the same key exists, in which
// case the existing channel is returned and added is false.
func (r *Registry) Add(platform Platform, name, userID string) (ch *Channel, added bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	byName, ok := r.channels[platform]
	if !ok {
		byName = make(map[string]*Channel)
		r.channels[platform] = byName
	}
	if existing, ok := byName[name]; ok {
		return existing, false
	}
	ch = newChannel(platform, name, userID)
	byName[name] = ch
	return ch, true
}

func (r *Registry) Remove(platform Platform, name string) (*Channel, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch, ok := r.channels[platform][name]
	if !ok {
		return nil, false
	}
	delete(r.channels[platform], name)
	if len(r.channels[platform]) == 0 {
		delete(r.channels, platform)
	}
	return ch, true
}

func (r *Registry) Get(platform Platform, name string) (*Channel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.channels[platform][name]
	return ch, ok
}

// LookupByUserID maps a platform user id, as found in push topics, back to
// its channel.
func (r *Registry) LookupByUserID(platform Platform, userID string) (*Channel, bool) {
	if userID == "" {
		return nil, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, ch := range r.channels[platform] {
		if ch.UserID == userID {
			return ch, true
		}
	}
	return nil, false
}

// List returns the channels of a platform sorted by name.
func (r *Registry) List(platform Platform) []*Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := make([]*Channel, 0, len(r.channels[platform]))
	for _, ch := range r.channels[platform] {
		list = append(list, ch)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
	return list
}

func (r *Registry) Count(platform Platform) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.channels[platform])
}

// Reset drops every channel and returns what was removed.
func (r *Registry) Reset() []*Channel {
	r.mu.Lock()
	defer r.mu.Unlock()

	var removed []*Channel
	for _, byName := range r.channels {
		for _, ch := range byName {
			removed = append(removed, ch)
		}
	}
	r.channels = make(map[Platform]map[string]*Channel)
	return removed
}

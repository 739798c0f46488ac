package monitor

import (
	"context"
	"strings"
	"sync"
	"time"
)

type Platform string

const (
	PlatformTwitch  Platform = "twitch"
	PlatformYouTube Platform = "youtube"
)

// NormalizeName turns user input such as "@LofiGirl" into the registry key.
// Twitch logins are case-insensitive, other platforms keep their casing.
func NormalizeName(platform Platform, rawName string) string {
	name := strings.TrimPrefix(strings.TrimSpace(rawName), "@")
	if platform == PlatformTwitch {
		name = strings.ToLower(name)
	}
	return name
}

type Category struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Image string `json:"image"`
}

func (c Category) same(other Category) bool {
	return c.ID == other.ID && c.Name == other.Name
}

type Stream struct {
	ID          string
	VodID       string
	StartedAt   time.Time
	Title       string
	Categories  []Category
	Viewers     int
	Thumbnail   string
	ManifestURL string
}

// Category returns the current category, the last one appended.
func (s *Stream) Category() Category {
	if len(s.Categories) == 0 {
		return Category{}
	}
	return s.Categories[len(s.Categories)-1]
}

func (s *Stream) clone() *Stream {
	if s == nil {
		return nil
	}
	c := *s
	c.Categories = append([]Category(nil), s.Categories...)
	return &c
}

type StreamState int

const (
	StateLive StreamState = iota
	StateEnded
)

func (s StreamState) String() string {
	if s == StateEnded {
		return "ended"
	}
	return "live"
}

// StreamUpdate is a partial snapshot of one stream. Nil fields leave the
// stored value untouched.
type StreamUpdate struct {
	VodID       string
	State       StreamState
	StartedAt   *time.Time
	Title       *string
	Category    *Category
	Viewers     *int
	Thumbnail   *string
	ManifestURL *string
}

// merge overlays u on top of old and returns a new stream. A category is
// appended only when it differs from the current one.
func (u StreamUpdate) merge(old *Stream) *Stream {
	merged := old.clone()
	if merged == nil {
		merged = &Stream{VodID: u.VodID}
	}
	if u.StartedAt != nil {
		merged.StartedAt = *u.StartedAt
	}
	if u.Title != nil {
		merged.Title = *u.Title
	}
	if u.Category != nil {
		if len(merged.Categories) == 0 || !merged.Category().same(*u.Category) {
			merged.Categories = append(merged.Categories, *u.Category)
		}
	}
	if u.Viewers != nil {
		merged.Viewers = max(*u.Viewers, 0)
	}
	if u.Thumbnail != nil {
		merged.Thumbnail = *u.Thumbnail
	}
	if u.ManifestURL != nil {
		merged.ManifestURL = *u.ManifestURL
	}
	return merged
}

// Snapshot is a point-in-time read of a channel returned by a Fetcher.
type Snapshot struct {
	UserID string
	Login  string
	Live   bool
	Stream StreamUpdate
}

type Channel struct {
	Platform   Platform
	Name       string
	UserID     string
	Monitoring bool

	mu      sync.RWMutex
	streams map[string]*Stream

	// ctx is cancelled when the channel is disconnected; background work
	// started on behalf of the channel stops with it.
	ctx    context.Context
	cancel context.CancelFunc
}

func newChannel(platform Platform, name, userID string) *Channel {
	ctx, cancel := context.WithCancel(context.Background())
	return &Channel{
		Platform: platform,
		Name:     name,
		UserID:   userID,
		streams:  make(map[string]*Stream),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// ChannelInfo is a copy of a channel without its streams.
type ChannelInfo struct {
	Platform   Platform
	Name       string
	UserID     string
	Monitoring bool
}

func (c *Channel) info() ChannelInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return ChannelInfo{Platform: c.Platform, Name: c.Name, UserID: c.UserID, Monitoring: c.Monitoring}
}

func (c *Channel) setMonitoring(v bool) {
	c.mu.Lock()
	c.Monitoring = v
	c.mu.Unlock()
}

func (c *Channel) stream(vodID string) *Stream {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.streams[vodID].clone()
}

func (c *Channel) vodIDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]string, 0, len(c.streams))
	for id := range c.streams {
		ids = append(ids, id)
	}
	return ids
}

func (c *Channel) snapshotStreams() []*Stream {
	c.mu.RLock()
	defer c.mu.RUnlock()
	streams := make([]*Stream, 0, len(c.streams))
	for _, s := range c.streams {
		streams = append(streams, s.clone())
	}
	return streams
}

func ptr[T any](v T) *T {
	return &v
}

package metrics

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antlu/stream-monitor/internal/monitor"
)

type staticLister struct {
	channels map[monitor.Platform][]monitor.ChannelInfo
	streams  map[string][]*monitor.Stream
}

func (l staticLister) ListChannels(p monitor.Platform) []monitor.ChannelInfo {
	return l.channels[p]
}

func (l staticLister) Streams(p monitor.Platform, name string) []*monitor.Stream {
	return l.streams[string(p)+"/"+name]
}

type staticStats struct{ hits, misses int64 }

func (s staticStats) HitCount() int64  { return s.hits }
func (s staticStats) MissCount() int64 { return s.misses }

func TestListener_CountsEvents(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	listen := m.Listener()
	ch := monitor.ChannelInfo{Platform: monitor.PlatformTwitch, Name: "chan"}

	listen(monitor.Event{Kind: monitor.EventConnected, Platform: monitor.PlatformTwitch, Channel: ch})
	listen(monitor.Event{Kind: monitor.EventStreamUp, Platform: monitor.PlatformTwitch, Channel: ch, Stream: &monitor.Stream{Viewers: 5}})
	listen(monitor.Event{Kind: monitor.EventViewCount, Platform: monitor.PlatformTwitch, Channel: ch, Viewers: 12})
	listen(monitor.Event{Kind: monitor.EventViewCount, Platform: monitor.PlatformTwitch, Channel: ch, Viewers: 15})

	assert.Equal(t, 2.0, testutil.ToFloat64(m.events.WithLabelValues("twitch", "viewCount")))
	assert.Equal(t, 15.0, testutil.ToFloat64(m.viewers.WithLabelValues("twitch", "chan")))

	listen(monitor.Event{Kind: monitor.EventStreamDown, Platform: monitor.PlatformTwitch, Channel: ch})
	assert.Equal(t, 0, testutil.CollectAndCount(m.viewers))
}

func TestListener_DisconnectDropsViewers(t *testing.T) {
	m := New(prometheus.NewRegistry())
	listen := m.Listener()
	a := monitor.ChannelInfo{Platform: monitor.PlatformTwitch, Name: "a"}
	b := monitor.ChannelInfo{Platform: monitor.PlatformTwitch, Name: "b"}

	listen(monitor.Event{Kind: monitor.EventStreamUp, Platform: monitor.PlatformTwitch, Channel: a, Stream: &monitor.Stream{Viewers: 5}})
	listen(monitor.Event{Kind: monitor.EventStreamUp, Platform: monitor.PlatformTwitch, Channel: b, Stream: &monitor.Stream{Viewers: 7}})
	listen(monitor.Event{Kind: monitor.EventDisconnected, Platform: monitor.PlatformTwitch, Channel: a})

	assert.Equal(t, 1, testutil.CollectAndCount(m.viewers))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.viewers.WithLabelValues("twitch", "b")))
}

func TestWatchChannels_LiveStreamsFollowMonitor(t *testing.T) {
	reg := prometheus.NewRegistry()
	fetcher := liveFetcher{}
	mon := monitor.New(monitor.WithPolling(monitor.PlatformYouTube, fetcher, time.Hour, 0))
	defer mon.Close()
	New(reg).WatchChannels(mon, monitor.PlatformYouTube)

	ctx := context.Background()
	_, err := mon.Connect(ctx, monitor.PlatformYouTube, "a")
	require.NoError(t, err)
	_, err = mon.Apply(ctx, monitor.PlatformYouTube, "a", monitor.StreamUpdate{VodID: "v1", State: monitor.StateLive})
	require.NoError(t, err)

	expected := `
# HELP stream_monitor_live_streams Number of streams currently live
# TYPE stream_monitor_live_streams gauge
stream_monitor_live_streams{platform="youtube"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "stream_monitor_live_streams"))

	require.NoError(t, mon.Disconnect(ctx, monitor.PlatformYouTube, "a"))
	expected = `
# HELP stream_monitor_live_streams Number of streams currently live
# TYPE stream_monitor_live_streams gauge
stream_monitor_live_streams{platform="youtube"} 0
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "stream_monitor_live_streams"))
}

// liveFetcher reports every known stream as still live.
type liveFetcher struct{}

func (liveFetcher) ResolveIdentity(_ context.Context, name string) (string, error) {
	return "UC-" + name, nil
}

func (liveFetcher) FetchSnapshot(_ context.Context, name string) (*monitor.Snapshot, error) {
	return &monitor.Snapshot{UserID: "UC-" + name, Login: name}, nil
}

func (liveFetcher) FetchStream(_ context.Context, name, vodID string) (*monitor.Snapshot, error) {
	return &monitor.Snapshot{UserID: "UC-" + name, Login: name, Live: true, Stream: monitor.StreamUpdate{VodID: vodID}}, nil
}

func TestWatchChannels(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.WatchChannels(staticLister{
		channels: map[monitor.Platform][]monitor.ChannelInfo{
			monitor.PlatformTwitch: {{Name: "a"}, {Name: "b"}},
		},
		streams: map[string][]*monitor.Stream{
			"twitch/a": {{VodID: "v1"}},
			"twitch/b": {{VodID: "v2"}, {VodID: "v3"}},
		},
	}, monitor.PlatformTwitch, monitor.PlatformYouTube)

	expected := `
# HELP stream_monitor_channels Number of monitored channels
# TYPE stream_monitor_channels gauge
stream_monitor_channels{platform="twitch"} 2
stream_monitor_channels{platform="youtube"} 0
# HELP stream_monitor_live_streams Number of streams currently live
# TYPE stream_monitor_live_streams gauge
stream_monitor_live_streams{platform="twitch"} 3
stream_monitor_live_streams{platform="youtube"} 0
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "stream_monitor_channels", "stream_monitor_live_streams"))
}

func TestWatchIdentityCache(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.WatchIdentityCache(monitor.PlatformTwitch, staticStats{hits: 3, misses: 1})
	m.WatchIdentityCache(monitor.PlatformYouTube, staticStats{hits: 7})

	expected := `
# HELP stream_monitor_identity_cache_hits_total Total number of identity cache hits
# TYPE stream_monitor_identity_cache_hits_total counter
stream_monitor_identity_cache_hits_total{platform="twitch"} 3
stream_monitor_identity_cache_hits_total{platform="youtube"} 7
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "stream_monitor_identity_cache_hits_total"))
}

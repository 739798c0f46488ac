package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/antlu/stream-monitor/internal/monitor"
)

const namespace = "stream_monitor"

type ChannelLister interface {
	ListChannels(platform monitor.Platform) []monitor.ChannelInfo
	Streams(platform monitor.Platform, name string) []*monitor.Stream
}

type CacheStats interface {
	HitCount() int64
	MissCount() int64
}

// Metrics turns monitor events into prometheus series.
type Metrics struct {
	factory promauto.Factory
	events  *prometheus.CounterVec
	viewers *prometheus.GaugeVec
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		factory: factory,
		events: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Total number of emitted monitor events",
		}, []string{"platform", "kind"}),

		viewers: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "viewers",
			Help:      "Last reported viewer count per channel",
		}, []string{"platform", "channel"}),
	}
}

// WatchChannels exports the number of registered channels and of their live
// streams per platform. Both are read from the monitor at scrape time, so a
// disconnect drops the channel's streams without a stream-down.
func (m *Metrics) WatchChannels(lister ChannelLister, platforms ...monitor.Platform) {
	for _, platform := range platforms {
		labels := prometheus.Labels{"platform": string(platform)}
		m.factory.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "channels",
			Help:        "Number of monitored channels",
			ConstLabels: labels,
		}, func() float64 {
			return float64(len(lister.ListChannels(platform)))
		})
		m.factory.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "live_streams",
			Help:        "Number of streams currently live",
			ConstLabels: labels,
		}, func() float64 {
			var live int
			for _, ch := range lister.ListChannels(platform) {
				live += len(lister.Streams(platform, ch.Name))
			}
			return float64(live)
		})
	}
}

func (m *Metrics) WatchIdentityCache(platform monitor.Platform, stats CacheStats) {
	labels := prometheus.Labels{"platform": string(platform)}
	m.factory.NewCounterFunc(prometheus.CounterOpts{
		Namespace:   namespace,
		Name:        "identity_cache_hits_total",
		Help:        "Total number of identity cache hits",
		ConstLabels: labels,
	}, func() float64 {
		return float64(stats.HitCount())
	})
	m.factory.NewCounterFunc(prometheus.CounterOpts{
		Namespace:   namespace,
		Name:        "identity_cache_misses_total",
		Help:        "Total number of identity cache misses",
		ConstLabels: labels,
	}, func() float64 {
		return float64(stats.MissCount())
	})
}

func (m *Metrics) Listener() monitor.Listener {
	return func(e monitor.Event) {
		platform := string(e.Platform)
		m.events.WithLabelValues(platform, string(e.Kind)).Inc()

		switch e.Kind {
		case monitor.EventStreamUp:
			if e.Stream != nil {
				m.viewers.WithLabelValues(platform, e.Channel.Name).Set(float64(e.Stream.Viewers))
			}
		case monitor.EventStreamDown, monitor.EventDisconnected:
			m.viewers.DeleteLabelValues(platform, e.Channel.Name)
		case monitor.EventViewCount:
			m.viewers.WithLabelValues(platform, e.Channel.Name).Set(float64(e.Viewers))
		}
	}
}

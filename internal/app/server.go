package app

import (
	"errors"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/antlu/stream-monitor/internal/monitor"
)

type channelStatus struct {
	Platform   monitor.Platform `json:"platform"`
	Name       string           `json:"name"`
	UserID     string           `json:"user_id"`
	Monitoring bool             `json:"monitoring"`
	Streams    []streamStatus   `json:"streams"`
}

type streamStatus struct {
	VodID     string    `json:"vod_id"`
	StartedAt time.Time `json:"started_at"`
	Title     string    `json:"title"`
	Category  string    `json:"category"`
	Viewers   int       `json:"viewers"`
	Thumbnail string    `json:"thumbnail"`
}

func (a *App) channels() []channelStatus {
	out := []channelStatus{}
	for _, platform := range a.platforms {
		for _, info := range a.monitor.ListChannels(platform) {
			status := channelStatus{
				Platform:   info.Platform,
				Name:       info.Name,
				UserID:     info.UserID,
				Monitoring: info.Monitoring,
				Streams:    []streamStatus{},
			}
			for _, st := range a.monitor.Streams(platform, info.Name) {
				status.Streams = append(status.Streams, streamStatus{
					VodID:     st.VodID,
					StartedAt: st.StartedAt,
					Title:     st.Title,
					Category:  st.Category().Name,
					Viewers:   st.Viewers,
					Thumbnail: st.Thumbnail,
				})
			}
			out = append(out, status)
		}
	}
	return out
}

func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()

	if a.registry != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
	}

	mux.HandleFunc("GET /channels", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(a.channels()); err != nil {
			a.log.Warn().Err(err).Msg("Error encoding channels")
		}
	})

	return mux
}

func (a *App) StartServer() {
	a.server = &http.Server{
		Addr:              a.conf.Metrics.Addr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		a.log.Info().Str("addr", a.server.Addr).Msg("Server is listening")
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error().Err(err).Msg("Server stopped")
		}
	}()
}

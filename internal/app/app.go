package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/antlu/stream-monitor/internal/config"
	"github.com/antlu/stream-monitor/internal/crypto"
	"github.com/antlu/stream-monitor/internal/identity"
	"github.com/antlu/stream-monitor/internal/journal"
	"github.com/antlu/stream-monitor/internal/metrics"
	"github.com/antlu/stream-monitor/internal/monitor"
	"github.com/antlu/stream-monitor/internal/pubsub"
	"github.com/antlu/stream-monitor/internal/twitch"
	"github.com/antlu/stream-monitor/internal/watchlist"
	"github.com/antlu/stream-monitor/internal/youtube"
)

type App struct {
	conf      *config.Config
	log       zerolog.Logger
	monitor   *monitor.Monitor
	journal   *journal.Journal
	watchlist *watchlist.File
	registry  *prometheus.Registry
	server    *http.Server
	platforms []monitor.Platform
}

func New(ctx context.Context, conf *config.Config, log zerolog.Logger) (*App, error) {
	a := &App{conf: conf, log: log}

	if conf.Journal != "" {
		j, err := journal.Open(conf.Journal, log)
		if err != nil {
			return nil, err
		}
		a.journal = j
	}

	opts := []monitor.Option{
		monitor.WithLogger(log),
		monitor.WithStreamUpRetry(conf.StreamUp.Delay, conf.StreamUp.Attempts),
	}
	caches := map[monitor.Platform]*identity.Cache{}

	if conf.Twitch.Enabled {
		fetcher, err := a.twitchFetcher(ctx)
		if err != nil {
			a.closeJournal()
			return nil, err
		}
		cached := identity.Wrap(fetcher, conf.Cache.Size, conf.Cache.TTL)
		if c, ok := cached.(*identity.Cache); ok {
			caches[monitor.PlatformTwitch] = c
		}

		transport := pubsub.NewClient(pubsub.Options{
			Addr:           conf.Twitch.PubSubURL,
			PingMessage:    twitch.PingMessage,
			PingInterval:   conf.Twitch.PingInterval,
			ReconnectDelay: conf.Twitch.ReconnectDelay,
			Logger:         log,
		})
		opts = append(opts, monitor.WithPush(monitor.PlatformTwitch, cached, transport, twitch.NewPubSubProtocol()))
		a.platforms = append(a.platforms, monitor.PlatformTwitch)
	}

	if conf.YouTube.Enabled {
		cached := identity.Wrap(youtube.NewFetcher(conf.YouTube.Headers, log), conf.Cache.Size, conf.Cache.TTL)
		if c, ok := cached.(*identity.Cache); ok {
			caches[monitor.PlatformYouTube] = c
		}
		opts = append(opts, monitor.WithPolling(monitor.PlatformYouTube, cached, conf.YouTube.Interval, conf.YouTube.StreamDelay))
		a.platforms = append(a.platforms, monitor.PlatformYouTube)
	}

	a.monitor = monitor.New(opts...)
	events := a.monitor.Events()
	events.OnAny(a.logEvent)

	if a.journal != nil {
		events.OnAny(a.journal.Listener())
	}
	if conf.Watchlist != "" {
		a.watchlist = watchlist.New(conf.Watchlist, log)
		events.On(monitor.EventStreamUp, a.watchlist.Listener())
	}
	if conf.Metrics.Enabled {
		a.registry = prometheus.NewRegistry()
		m := metrics.New(a.registry)
		m.WatchChannels(a.monitor, a.platforms...)
		for platform, c := range caches {
			m.WatchIdentityCache(platform, c)
		}
		events.OnAny(m.Listener())
	}

	return a, nil
}

func (a *App) twitchFetcher(ctx context.Context) (monitor.Fetcher, error) {
	tc := a.conf.Twitch
	opts := twitch.ApiOptions{ClientID: tc.ClientID, AccessToken: tc.AccessToken}
	if opts.AccessToken == "" {
		var store twitch.TokenStore
		if a.journal != nil {
			store = a.journal
		}
		cipher := crypto.Cipher(a.conf.SecretKey)
		if store != nil {
			if err := cipher.Validate(); err != nil {
				return nil, fmt.Errorf("invalid secret_key: %w", err)
			}
		}

		tokens := twitch.NewTokenManager(tc.ClientID, tc.ClientSecret, store, cipher, a.log)
		token, err := tokens.AccessToken(ctx)
		if err != nil {
			return nil, fmt.Errorf("error getting twitch access token: %w", err)
		}
		opts.AccessToken = token
		opts.Tokens = tokens
	}

	api, err := twitch.NewApiClient(opts)
	if err != nil {
		return nil, err
	}
	return twitch.NewFetcher(api, twitch.NewPlaybackClient(tc.GQLHeaders), a.log), nil
}

func (a *App) Monitor() *monitor.Monitor {
	return a.monitor
}

func (a *App) logEvent(e monitor.Event) {
	ev := a.log.Info()
	switch e.Kind {
	case monitor.EventViewCount, monitor.EventThumbnail:
		ev = a.log.Debug()
	case monitor.EventError, monitor.EventSocketClose:
		ev = a.log.Warn().Err(e.Err)
	}

	ev = ev.Str("platform", string(e.Platform)).Str("event", string(e.Kind))
	if e.Channel.Name != "" {
		ev = ev.Str("channel", e.Channel.Name)
	}
	if e.Stream != nil {
		ev = ev.Str("vod_id", e.Stream.VodID)
	}

	switch e.Kind {
	case monitor.EventViewCount:
		ev.Int("viewers", e.Viewers).Int("delta", e.ViewerDelta).Msg("Viewer count changed")
	case monitor.EventTitle:
		ev.Str("title", e.Title).Msg("Title changed")
	case monitor.EventCategory:
		ev.Str("category", e.Category.Name).Msg("Category changed")
	case monitor.EventStreamUp:
		ev.Str("title", e.Stream.Title).Msg("Stream started")
	case monitor.EventStreamDown:
		ev.Msg("Stream ended")
	default:
		ev.Msg("Monitor event")
	}
}

// Run connects the watchlist, serves HTTP when enabled and blocks until ctx
// is done.
func (a *App) Run(ctx context.Context) error {
	if a.conf.Metrics.Enabled {
		a.StartServer()
	}
	if a.watchlist != nil {
		if err := a.PrepareChannels(ctx); err != nil {
			return err
		}
	}

	<-ctx.Done()
	return nil
}

func (a *App) closeJournal() error {
	if a.journal == nil {
		return nil
	}
	return a.journal.Close()
}

func (a *App) Close() error {
	var errs []error
	if a.server != nil {
		errs = append(errs, a.server.Close())
	}
	if a.monitor != nil {
		errs = append(errs, a.monitor.Close())
	}
	errs = append(errs, a.closeJournal())
	return errors.Join(errs...)
}

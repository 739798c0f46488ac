package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// pollStrategy runs one loop per platform that visits every channel in
// turn. Channels are never fetched concurrently.
type pollStrategy struct {
	m           *Monitor
	platform    Platform
	fetcher     Fetcher
	interval    time.Duration
	streamDelay time.Duration
	log         zerolog.Logger

	mu      sync.Mutex
	running bool
}

func newPollStrategy(m *Monitor, platform Platform, fetcher Fetcher, interval, streamDelay time.Duration) *pollStrategy {
	return &pollStrategy{
		m:           m,
		platform:    platform,
		fetcher:     fetcher,
		interval:    interval,
		streamDelay: streamDelay,
		log:         m.log.With().Str("platform", string(platform)).Logger(),
	}
}

func (p *pollStrategy) activate(ch *Channel) {
	ch.setMonitoring(true)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	p.running = true
	go p.loop(p.m.ctx)
}

// The loop notices removed channels on its next pass.
func (p *pollStrategy) deactivate(*Channel) {}

func (p *pollStrategy) close() error {
	return nil
}

func (p *pollStrategy) loop(ctx context.Context) {
	p.log.Debug().Msg("Poll loop started")
	for {
		if !p.keepRunning(ctx) {
			p.log.Debug().Msg("Poll loop stopped")
			return
		}
		p.pass(ctx)
		if !p.sleep(ctx, p.interval) {
			p.keepRunning(ctx)
			return
		}
	}
}

// keepRunning reports whether another pass is needed and clears the running
// flag when it is not, so the next activate starts a fresh loop.
func (p *pollStrategy) keepRunning(ctx context.Context) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ctx.Err() != nil || p.m.registry.Count(p.platform) == 0 {
		p.running = false
		return false
	}
	return true
}

func (p *pollStrategy) pass(ctx context.Context) {
	for _, ch := range p.m.registry.List(p.platform) {
		if ctx.Err() != nil {
			return
		}
		p.pollChannel(ctx, ch)
	}
}

func (p *pollStrategy) pollChannel(ctx context.Context, ch *Channel) {
	log := p.log.With().Str("channel", ch.Name).Logger()

	known := ch.vodIDs()

	snap, err := p.fetcher.FetchSnapshot(ctx, ch.Name)
	switch {
	case err != nil:
		log.Warn().Err(err).Msg("Error fetching channel snapshot")
	case snap.Live && snap.Stream.VodID != "" && ch.stream(snap.Stream.VodID) == nil:
		u := snap.Stream
		u.State = StateLive
		p.apply(ctx, ch, u)
	}

	for _, vodID := range known {
		if !p.sleep(ctx, p.streamDelay) {
			return
		}
		snap, err := p.fetcher.FetchStream(ctx, ch.Name, vodID)
		if err != nil {
			log.Warn().Err(err).Str("vod_id", vodID).Msg("Error fetching stream")
			continue
		}
		u := snap.Stream
		u.VodID = vodID
		if snap.Live {
			u.State = StateLive
		} else {
			u.State = StateEnded
		}
		p.apply(ctx, ch, u)
	}
}

func (p *pollStrategy) apply(ctx context.Context, ch *Channel, u StreamUpdate) {
	if _, err := p.m.applyQueued(ch, u).Wait(ctx); err != nil {
		p.log.Debug().Err(err).Str("channel", ch.Name).Msg("Update not applied")
	}
}

func (p *pollStrategy) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	select {
	case <-ctx.Done():
		return false
	case <-p.m.clock.After(d):
		return true
	}
}

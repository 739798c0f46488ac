package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/juju/clock"
	"github.com/rs/zerolog"
)

// Fetcher is the platform collaborator that reads public channel data.
// Transport failures must wrap ErrNetwork; unknown channels ErrNotFound.
type Fetcher interface {
	ResolveIdentity(ctx context.Context, name string) (userID string, err error)
	FetchSnapshot(ctx context.Context, name string) (*Snapshot, error)
	FetchStream(ctx context.Context, name, vodID string) (*Snapshot, error)
}

type strategy interface {
	activate(ch *Channel)
	deactivate(ch *Channel)
	close() error
}

type driver struct {
	fetcher  Fetcher
	strategy strategy
}

type Option func(*Monitor)

func WithLogger(log zerolog.Logger) Option {
	return func(m *Monitor) {
		m.log = log
	}
}

func WithClock(clk clock.Clock) Option {
	return func(m *Monitor) {
		m.clock = clk
	}
}

// WithStreamUpRetry bounds the wait for a stream id after a push stream-up
// signal.
func WithStreamUpRetry(delay time.Duration, attempts int) Option {
	return func(m *Monitor) {
		m.retryDelay = delay
		m.retryAttempts = attempts
	}
}

// WithPush makes platform use realtime topic subscriptions over transport.
func WithPush(platform Platform, fetcher Fetcher, transport PushTransport, protocol PushProtocol) Option {
	return func(m *Monitor) {
		m.builders = append(m.builders, func() {
			m.drivers[platform] = &driver{
				fetcher:  fetcher,
				strategy: newPushStrategy(m, platform, fetcher, transport, protocol),
			}
		})
	}
}

// WithPolling makes platform use a shared polling loop.
func WithPolling(platform Platform, fetcher Fetcher, interval, streamDelay time.Duration) Option {
	return func(m *Monitor) {
		m.builders = append(m.builders, func() {
			m.drivers[platform] = &driver{
				fetcher:  fetcher,
				strategy: newPollStrategy(m, platform, fetcher, interval, streamDelay),
			}
		})
	}
}

// Monitor tracks channels across platforms and reports their stream changes
// through an EventBus.
type Monitor struct {
	log           zerolog.Logger
	clock         clock.Clock
	retryDelay    time.Duration
	retryAttempts int

	queue    *Queue
	registry *Registry
	store    *Store
	bus      *EventBus
	drivers  map[Platform]*driver
	builders []func()

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.RWMutex
	closed bool
}

func New(opts ...Option) *Monitor {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Monitor{
		log:           zerolog.Nop(),
		clock:         clock.WallClock,
		retryDelay:    time.Second,
		retryAttempts: 10,
		queue:         NewQueue(),
		registry:      NewRegistry(),
		store:         NewStore(),
		bus:           NewEventBus(),
		drivers:       make(map[Platform]*driver),
		ctx:           ctx,
		cancel:        cancel,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.log = m.log.With().Str("component", "monitor").Logger()
	for _, build := range m.builders {
		build()
	}
	m.builders = nil
	return m
}

func (m *Monitor) Events() *EventBus {
	return m.bus
}

func queueKey(platform Platform, name string) string {
	return string(platform) + "/" + name
}

func (m *Monitor) isClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}

func (m *Monitor) emit(events ...Event) {
	for _, ev := range events {
		m.bus.Emit(ev)
	}
}

// Connect starts monitoring a channel. Connecting an already registered
// channel returns it unchanged.
func (m *Monitor) Connect(ctx context.Context, platform Platform, rawName string) (ChannelInfo, error) {
	d, ok := m.drivers[platform]
	if !ok {
		return ChannelInfo{}, fmt.Errorf("%w: %s", ErrUnknownPlatform, platform)
	}
	name := NormalizeName(platform, rawName)
	if name == "" {
		return ChannelInfo{}, fmt.Errorf("%w: empty channel name", ErrNotFound)
	}

	f := m.queue.Submit(queueKey(platform, name), func() (any, error) {
		if m.isClosed() {
			return nil, ErrClosed
		}
		if ch, ok := m.registry.Get(platform, name); ok {
			return ch.info(), nil
		}

		userID, err := d.fetcher.ResolveIdentity(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("error resolving %s/%s: %w", platform, name, err)
		}
		if userID == "" {
			return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, platform, name)
		}
		ch, err := m.register(platform, name, userID)
		if err != nil {
			return nil, err
		}
		m.log.Info().Str("platform", string(platform)).Str("channel", name).Str("user_id", userID).Msg("Channel connected")
		m.emit(Event{Kind: EventConnected, Platform: platform, Channel: ch.info()})

		// Close resets the registry itself; a closed monitor must not
		// reopen a transport it already shut down.
		m.mu.RLock()
		defer m.mu.RUnlock()
		if m.closed {
			return nil, ErrClosed
		}
		d.strategy.activate(ch)
		return ch.info(), nil
	})

	v, err := f.Wait(ctx)
	if err != nil {
		return ChannelInfo{}, err
	}
	return v.(ChannelInfo), nil
}

// register adds the channel unless the monitor is closed. Holding the read
// lock orders the insert before the registry reset done by Close.
func (m *Monitor) register(platform Platform, name, userID string) (*Channel, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	ch, _ := m.registry.Add(platform, name, userID)
	return ch, nil
}

func (m *Monitor) Disconnect(ctx context.Context, platform Platform, rawName string) error {
	d, ok := m.drivers[platform]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPlatform, platform)
	}
	name := NormalizeName(platform, rawName)

	// Stop background fetches early so they do not hold up the queue.
	if ch, ok := m.registry.Get(platform, name); ok {
		ch.cancel()
	}

	f := m.queue.Submit(queueKey(platform, name), func() (any, error) {
		if m.isClosed() {
			return nil, ErrClosed
		}
		ch, ok := m.registry.Remove(platform, name)
		if !ok {
			return nil, fmt.Errorf("%w: %s/%s", ErrNotConnected, platform, name)
		}
		ch.cancel()
		ch.setMonitoring(false)
		m.log.Info().Str("platform", string(platform)).Str("channel", name).Msg("Channel disconnected")
		m.emit(Event{Kind: EventDisconnected, Platform: platform, Channel: ch.info()})
		d.strategy.deactivate(ch)
		return nil, nil
	})

	_, err := f.Wait(ctx)
	return err
}

// Apply merges an update into a channel's stream through the channel's
// command queue and returns the stored stream, nil if it ended.
func (m *Monitor) Apply(ctx context.Context, platform Platform, rawName string, u StreamUpdate) (*Stream, error) {
	ch, ok := m.registry.Get(platform, NormalizeName(platform, rawName))
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotConnected, platform, rawName)
	}
	v, err := m.applyQueued(ch, u).Wait(ctx)
	if err != nil {
		return nil, err
	}
	st, _ := v.(*Stream)
	return st, nil
}

func (m *Monitor) applyQueued(ch *Channel, u StreamUpdate) *Future {
	return m.queue.Submit(queueKey(ch.Platform, ch.Name), func() (any, error) {
		if err := m.checkCurrent(ch); err != nil {
			return nil, err
		}
		st, events := m.store.Apply(ch, u)
		m.emit(events...)
		return st, nil
	})
}

// applyToKnown applies the update built by fn to every stream the channel
// knows about when the queued operation runs. Channels without streams are
// left untouched.
func (m *Monitor) applyToKnown(ch *Channel, fn func(vodID string) StreamUpdate) *Future {
	return m.queue.Submit(queueKey(ch.Platform, ch.Name), func() (any, error) {
		if err := m.checkCurrent(ch); err != nil {
			return nil, err
		}
		for _, vodID := range ch.vodIDs() {
			_, events := m.store.Apply(ch, fn(vodID))
			m.emit(events...)
		}
		return nil, nil
	})
}

// checkCurrent rejects work for channels that were disconnected after the
// work was scheduled.
func (m *Monitor) checkCurrent(ch *Channel) error {
	if m.isClosed() {
		return ErrClosed
	}
	if cur, ok := m.registry.Get(ch.Platform, ch.Name); !ok || cur != ch {
		return fmt.Errorf("%w: %s/%s", ErrNotConnected, ch.Platform, ch.Name)
	}
	return nil
}

func (m *Monitor) GetChannel(platform Platform, rawName string) (ChannelInfo, bool) {
	ch, ok := m.registry.Get(platform, NormalizeName(platform, rawName))
	if !ok {
		return ChannelInfo{}, false
	}
	return ch.info(), true
}

func (m *Monitor) GetStream(platform Platform, rawName, vodID string) (*Stream, bool) {
	ch, ok := m.registry.Get(platform, NormalizeName(platform, rawName))
	if !ok {
		return nil, false
	}
	st := ch.stream(vodID)
	return st, st != nil
}

// Streams returns copies of the live streams of a channel.
func (m *Monitor) Streams(platform Platform, rawName string) []*Stream {
	ch, ok := m.registry.Get(platform, NormalizeName(platform, rawName))
	if !ok {
		return nil
	}
	return ch.snapshotStreams()
}

func (m *Monitor) ListChannels(platform Platform) []ChannelInfo {
	channels := m.registry.List(platform)
	infos := make([]ChannelInfo, 0, len(channels))
	for _, ch := range channels {
		infos = append(infos, ch.info())
	}
	return infos
}

// SubscriptionState reports the push subscription state of a channel.
// Polled platforms always report Unsubscribed.
func (m *Monitor) SubscriptionState(platform Platform, rawName string) SubscriptionState {
	d, ok := m.drivers[platform]
	if !ok {
		return Unsubscribed
	}
	push, ok := d.strategy.(*pushStrategy)
	if !ok {
		return Unsubscribed
	}
	return push.state(NormalizeName(platform, rawName))
}

// Close unsubscribes and stops everything and clears all state. Later
// commands fail with ErrClosed and no further events are emitted.
func (m *Monitor) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	m.bus.Close()
	m.cancel()

	var errs []error
	for platform, d := range m.drivers {
		if err := d.strategy.close(); err != nil {
			errs = append(errs, fmt.Errorf("error closing %s: %w", platform, err))
		}
	}
	for _, ch := range m.registry.Reset() {
		ch.cancel()
		ch.setMonitoring(false)
	}
	m.log.Info().Msg("Monitor closed")
	return errors.Join(errs...)
}

package monitor

import (
	"errors"
	"fmt"
	"sync"

	"github.com/juju/retry"
	"github.com/rs/zerolog"
)

// PushTransport is a persistent text-message connection that replays the
// registered messages every time it (re)connects.
type PushTransport interface {
	Open()
	IsConnected() bool
	Send(text string) error
	SendOnConnect(text string)
	RemoveSendOnConnect(text string)
	OnText(fn func(text string))
	OnOpen(fn func())
	OnClose(fn func(err error))
	OnError(fn func(err error))
	Close() error
}

// PushRequest is one subscribe or unsubscribe message and the nonce the
// server echoes back when acknowledging it.
type PushRequest struct {
	Nonce string
	Text  string
}

type PushMessageKind int

const (
	PushIgnored PushMessageKind = iota
	PushAck
	PushReconnect
	PushStreamUp
	PushStreamDown
	PushViewers
	PushSettings
)

// PushMessage is a decoded push payload. UserID identifies the channel for
// every kind but PushAck, PushReconnect and PushIgnored.
type PushMessage struct {
	Kind     PushMessageKind
	UserID   string
	Nonce    string
	Error    string
	Viewers  int
	Title    *string
	Category *Category
}

// PushProtocol encodes topic subscriptions and decodes incoming messages
// of one platform's realtime protocol.
type PushProtocol interface {
	Subscribe(userID string) []PushRequest
	Unsubscribe(userID string) []PushRequest
	Decode(text string) (PushMessage, error)
}

type SubscriptionState int

const (
	Unsubscribed SubscriptionState = iota
	SubscribePending
	Subscribed
)

func (s SubscriptionState) String() string {
	switch s {
	case SubscribePending:
		return "subscribe-pending"
	case Subscribed:
		return "subscribed"
	default:
		return "unsubscribed"
	}
}

type pushSubscription struct {
	state  SubscriptionState
	userID string
	listen []PushRequest
}

var errStreamNotReady = errors.New("stream id not available yet")

type pushStrategy struct {
	m         *Monitor
	platform  Platform
	fetcher   Fetcher
	transport PushTransport
	protocol  PushProtocol
	log       zerolog.Logger

	mu   sync.Mutex
	subs map[string]*pushSubscription
}

func newPushStrategy(m *Monitor, platform Platform, fetcher Fetcher, transport PushTransport, protocol PushProtocol) *pushStrategy {
	p := &pushStrategy{
		m:         m,
		platform:  platform,
		fetcher:   fetcher,
		transport: transport,
		protocol:  protocol,
		log:       m.log.With().Str("platform", string(platform)).Logger(),
		subs:      make(map[string]*pushSubscription),
	}

	transport.OnText(p.handleText)
	transport.OnOpen(func() {
		p.log.Info().Msg("Push transport opened")
		m.emit(Event{Kind: EventSocketOpen, Platform: platform})
	})
	transport.OnClose(func(err error) {
		p.log.Info().Err(err).Msg("Push transport closed")
		m.emit(Event{Kind: EventSocketClose, Platform: platform, Err: err})
	})
	transport.OnError(func(err error) {
		p.log.Warn().Err(err).Msg("Push transport error")
		m.emit(Event{Kind: EventError, Platform: platform, Err: err})
	})
	return p
}

func (p *pushStrategy) activate(ch *Channel) {
	if ch.UserID == "" {
		p.log.Warn().Str("channel", ch.Name).Msg("No user id, not subscribing")
		return
	}

	listen := p.protocol.Subscribe(ch.UserID)
	p.mu.Lock()
	p.subs[ch.Name] = &pushSubscription{state: SubscribePending, userID: ch.UserID, listen: listen}
	p.mu.Unlock()

	for _, req := range listen {
		p.transport.SendOnConnect(req.Text)
	}
	if !p.transport.IsConnected() {
		p.transport.Open()
	}
	ch.setMonitoring(true)
	p.syncLive(ch)
}

// syncLive queues one snapshot read behind the connect so a channel that is
// already live gets its stream. The platform only signals stream-up once per
// broadcast, and deltas for a channel without a known stream are dropped.
func (p *pushStrategy) syncLive(ch *Channel) {
	p.m.queue.Submit(queueKey(ch.Platform, ch.Name), func() (any, error) {
		if err := p.m.checkCurrent(ch); err != nil {
			return nil, err
		}
		snap, err := p.fetcher.FetchSnapshot(ch.ctx, ch.Name)
		if err != nil {
			if ch.ctx.Err() == nil {
				p.log.Warn().Err(err).Str("channel", ch.Name).Msg("Error fetching channel snapshot")
			}
			return nil, err
		}
		if !snap.Live || snap.Stream.VodID == "" {
			return nil, nil
		}
		if err := p.m.checkCurrent(ch); err != nil {
			return nil, err
		}

		u := snap.Stream
		u.State = StateLive
		st, events := p.m.store.Apply(ch, u)
		p.m.emit(events...)
		return st, nil
	})
}

func (p *pushStrategy) deactivate(ch *Channel) {
	p.mu.Lock()
	sub, ok := p.subs[ch.Name]
	delete(p.subs, ch.Name)
	p.mu.Unlock()
	if ok {
		p.unsubscribe(sub)
	}
}

func (p *pushStrategy) unsubscribe(sub *pushSubscription) {
	for _, req := range sub.listen {
		p.transport.RemoveSendOnConnect(req.Text)
	}
	if !p.transport.IsConnected() {
		return
	}
	for _, req := range p.protocol.Unsubscribe(sub.userID) {
		if err := p.transport.Send(req.Text); err != nil {
			p.log.Warn().Err(err).Str("user_id", sub.userID).Msg("Error sending unsubscribe")
		}
	}
}

func (p *pushStrategy) close() error {
	p.mu.Lock()
	subs := p.subs
	p.subs = make(map[string]*pushSubscription)
	p.mu.Unlock()

	for _, sub := range subs {
		p.unsubscribe(sub)
	}
	return p.transport.Close()
}

func (p *pushStrategy) state(name string) SubscriptionState {
	p.mu.Lock()
	defer p.mu.Unlock()
	if sub, ok := p.subs[name]; ok {
		return sub.state
	}
	return Unsubscribed
}

// markSubscribed records that the server delivered something for the
// channel, the only evidence of a live subscription the protocol gives.
func (p *pushStrategy) markSubscribed(name string) {
	p.mu.Lock()
	if sub, ok := p.subs[name]; ok {
		sub.state = Subscribed
	}
	p.mu.Unlock()
}

func (p *pushStrategy) acknowledge(msg PushMessage) {
	p.mu.Lock()
	var (
		name string
		sub  *pushSubscription
	)
	for n, s := range p.subs {
		for _, req := range s.listen {
			if req.Nonce != "" && req.Nonce == msg.Nonce {
				name, sub = n, s
			}
		}
	}
	if sub != nil && msg.Error == "" {
		sub.state = Subscribed
	}
	p.mu.Unlock()

	if sub == nil || msg.Error == "" {
		return
	}
	p.log.Warn().Str("channel", name).Str("error", msg.Error).Msg("Subscription rejected")
	p.m.emit(Event{
		Kind:     EventError,
		Platform: p.platform,
		Channel:  ChannelInfo{Platform: p.platform, Name: name, UserID: sub.userID},
		Err:      fmt.Errorf("subscription for %s rejected: %s", name, msg.Error),
	})
}

func (p *pushStrategy) handleText(text string) {
	if p.m.isClosed() {
		return
	}

	msg, err := p.protocol.Decode(text)
	if err != nil {
		p.log.Debug().Err(err).Msg("Dropping push message")
		return
	}

	switch msg.Kind {
	case PushIgnored:
		return
	case PushAck:
		p.acknowledge(msg)
		return
	case PushReconnect:
		if r, ok := p.transport.(interface{ Reconnect() }); ok {
			p.log.Info().Msg("Reconnect requested by server")
			r.Reconnect()
		}
		return
	}

	ch, ok := p.m.registry.LookupByUserID(p.platform, msg.UserID)
	if !ok {
		p.log.Debug().Str("user_id", msg.UserID).Msg("No channel for push message")
		return
	}
	p.markSubscribed(ch.Name)

	switch msg.Kind {
	case PushStreamUp:
		go p.waitForStream(ch)
	case PushStreamDown:
		p.m.applyToKnown(ch, func(vodID string) StreamUpdate {
			return StreamUpdate{VodID: vodID, State: StateEnded}
		})
	case PushViewers:
		viewers := msg.Viewers
		p.m.applyToKnown(ch, func(vodID string) StreamUpdate {
			return StreamUpdate{VodID: vodID, Viewers: &viewers}
		})
	case PushSettings:
		p.m.applyToKnown(ch, func(vodID string) StreamUpdate {
			return StreamUpdate{VodID: vodID, Title: msg.Title, Category: msg.Category}
		})
	}
}

// waitForStream polls the fetcher until the stream started by a push signal
// has an id and a manifest. The push payload itself carries neither.
func (p *pushStrategy) waitForStream(ch *Channel) {
	var found *Snapshot
	err := retry.Call(retry.CallArgs{
		Func: func() error {
			snap, err := p.fetcher.FetchSnapshot(ch.ctx, ch.Name)
			if err != nil {
				return err
			}
			if !snap.Live || snap.Stream.VodID == "" || snap.Stream.ManifestURL == nil || *snap.Stream.ManifestURL == "" {
				return errStreamNotReady
			}
			found = snap
			return nil
		},
		NotifyFunc: func(err error, attempt int) {
			p.log.Debug().Err(err).Int("attempt", attempt).Str("channel", ch.Name).Msg("Waiting for stream id")
		},
		Attempts: p.m.retryAttempts,
		Delay:    p.m.retryDelay,
		Clock:    p.m.clock,
		Stop:     ch.ctx.Done(),
	})
	if err != nil {
		if !retry.IsRetryStopped(err) {
			p.log.Warn().Err(retry.LastError(err)).Str("channel", ch.Name).Msg("Gave up waiting for stream id")
		}
		return
	}

	u := found.Stream
	u.State = StateLive
	p.m.applyQueued(ch, u)
}

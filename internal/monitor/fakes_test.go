package monitor

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeFetcher struct {
	resolve  func(ctx context.Context, name string) (string, error)
	snapshot func(ctx context.Context, name string) (*Snapshot, error)
	stream   func(ctx context.Context, name, vodID string) (*Snapshot, error)

	resolveCalls  atomic.Int32
	snapshotCalls atomic.Int32
	streamCalls   atomic.Int32
}

func (f *fakeFetcher) ResolveIdentity(ctx context.Context, name string) (string, error) {
	f.resolveCalls.Add(1)
	if f.resolve != nil {
		return f.resolve(ctx, name)
	}
	return "id-" + name, nil
}

func (f *fakeFetcher) FetchSnapshot(ctx context.Context, name string) (*Snapshot, error) {
	f.snapshotCalls.Add(1)
	if f.snapshot != nil {
		return f.snapshot(ctx, name)
	}
	return &Snapshot{UserID: "id-" + name, Login: name}, nil
}

func (f *fakeFetcher) FetchStream(ctx context.Context, name, vodID string) (*Snapshot, error) {
	f.streamCalls.Add(1)
	if f.stream != nil {
		return f.stream(ctx, name, vodID)
	}
	return &Snapshot{UserID: "id-" + name, Login: name}, nil
}

type fakeTransport struct {
	mu        sync.Mutex
	connected bool
	opened    int
	closed    bool
	replay    []string
	sent      []string

	onText  func(string)
	onOpen  func()
	onClose func(error)
	onError func(error)
}

func (t *fakeTransport) Open() {
	t.mu.Lock()
	t.connected = true
	t.opened++
	t.sent = append(t.sent, t.replay...)
	onOpen := t.onOpen
	t.mu.Unlock()
	if onOpen != nil {
		onOpen()
	}
}

// reconnect simulates a dropped connection followed by a successful redial.
func (t *fakeTransport) reconnect() {
	t.mu.Lock()
	t.connected = false
	onClose := t.onClose
	t.mu.Unlock()
	if onClose != nil {
		onClose(errors.New("connection reset"))
	}
	t.Open()
}

func (t *fakeTransport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

func (t *fakeTransport) Send(text string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.connected {
		return errors.New("not connected")
	}
	t.sent = append(t.sent, text)
	return nil
}

func (t *fakeTransport) SendOnConnect(text string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.replay = append(t.replay, text)
	if t.connected {
		t.sent = append(t.sent, text)
	}
}

func (t *fakeTransport) RemoveSendOnConnect(text string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, r := range t.replay {
		if r == text {
			t.replay = append(t.replay[:i], t.replay[i+1:]...)
			return
		}
	}
}

func (t *fakeTransport) OnText(fn func(string)) { t.onText = fn }
func (t *fakeTransport) OnOpen(fn func())       { t.onOpen = fn }
func (t *fakeTransport) OnClose(fn func(error)) { t.onClose = fn }
func (t *fakeTransport) OnError(fn func(error)) { t.onError = fn }

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	t.connected = false
	return nil
}

func (t *fakeTransport) deliver(text string) {
	t.onText(text)
}

func (t *fakeTransport) replaySet() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.replay...)
}

func (t *fakeTransport) sentMessages() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.sent...)
}

// lineProtocol is a plain text protocol: "UP <uid>", "DOWN <uid>",
// "VIEWERS <uid> <n>", "TITLE <uid> <title>", "ACK <nonce> [error]".
type lineProtocol struct{}

func (lineProtocol) Subscribe(userID string) []PushRequest {
	return []PushRequest{{Nonce: "n-" + userID, Text: "LISTEN " + userID}}
}

func (lineProtocol) Unsubscribe(userID string) []PushRequest {
	return []PushRequest{{Nonce: "u-" + userID, Text: "UNLISTEN " + userID}}
}

func (lineProtocol) Decode(text string) (PushMessage, error) {
	parts := strings.SplitN(text, " ", 3)
	switch {
	case parts[0] == "PONG":
		return PushMessage{Kind: PushIgnored}, nil
	case parts[0] == "ACK" && len(parts) >= 2:
		msg := PushMessage{Kind: PushAck, Nonce: parts[1]}
		if len(parts) == 3 {
			msg.Error = parts[2]
		}
		return msg, nil
	case parts[0] == "UP" && len(parts) == 2:
		return PushMessage{Kind: PushStreamUp, UserID: parts[1]}, nil
	case parts[0] == "DOWN" && len(parts) == 2:
		return PushMessage{Kind: PushStreamDown, UserID: parts[1]}, nil
	case parts[0] == "VIEWERS" && len(parts) == 3:
		n, err := strconv.Atoi(parts[2])
		if err != nil {
			return PushMessage{}, ErrMalformedMessage
		}
		return PushMessage{Kind: PushViewers, UserID: parts[1], Viewers: n}, nil
	case parts[0] == "TITLE" && len(parts) == 3:
		return PushMessage{Kind: PushSettings, UserID: parts[1], Title: &parts[2]}, nil
	}
	return PushMessage{}, ErrMalformedMessage
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func record(bus *EventBus) *recorder {
	r := &recorder{}
	bus.OnAny(func(ev Event) {
		r.mu.Lock()
		r.events = append(r.events, ev)
		r.mu.Unlock()
	})
	return r
}

func (r *recorder) all() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func (r *recorder) of(kind EventKind) []Event {
	var out []Event
	for _, ev := range r.all() {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

func (r *recorder) waitFor(t *testing.T, kind EventKind, n int) []Event {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(r.of(kind)) >= n
	}, 2*time.Second, 5*time.Millisecond, "waiting for %d %s events", n, kind)
	return r.of(kind)
}

func liveSnapshot(name, vodID string, viewers int) *Snapshot {
	return &Snapshot{
		UserID: "id-" + name,
		Login:  name,
		Live:   true,
		Stream: StreamUpdate{
			VodID:       vodID,
			StartedAt:   ptr(time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)),
			Title:       ptr("hello"),
			Category:    &Category{ID: "509658", Name: "Just Chatting"},
			Viewers:     ptr(viewers),
			Thumbnail:   ptr("https://thumb/" + vodID),
			ManifestURL: ptr("https://usher/" + name + ".m3u8"),
		},
	}
}

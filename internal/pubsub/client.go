package pubsub

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/juju/clock"
	"github.com/juju/retry"
	"github.com/lxzan/gws"
	"github.com/rs/zerolog"

	"github.com/antlu/stream-monitor/internal/monitor"
)

type Options struct {
	Addr   string
	Header http.Header
	// PingMessage is sent every PingInterval while connected. Empty disables it.
	PingMessage       string
	PingInterval      time.Duration
	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration
	Clock             clock.Clock
	Logger            zerolog.Logger
}

// Client is a self-healing websocket connection. Messages registered with
// SendOnConnect are sent on every (re)connect.
type Client struct {
	opts Options
	log  zerolog.Logger

	mu        sync.Mutex
	conn      *gws.Conn
	connected bool
	stopPing  chan struct{}
	replay    []string
	cancel    context.CancelFunc
	done      chan struct{}

	onText  func(string)
	onOpen  func()
	onClose func(error)
	onError func(error)
}

func NewClient(opts Options) *Client {
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = time.Second
	}
	if opts.MaxReconnectDelay < opts.ReconnectDelay {
		opts.MaxReconnectDelay = time.Minute
	}
	if opts.Clock == nil {
		opts.Clock = clock.WallClock
	}
	return &Client{
		opts: opts,
		log:  opts.Logger.With().Str("component", "pubsub").Str("addr", opts.Addr).Logger(),
	}
}

func (c *Client) OnText(fn func(string)) { c.mu.Lock(); c.onText = fn; c.mu.Unlock() }
func (c *Client) OnOpen(fn func())       { c.mu.Lock(); c.onOpen = fn; c.mu.Unlock() }
func (c *Client) OnClose(fn func(error)) { c.mu.Lock(); c.onClose = fn; c.mu.Unlock() }
func (c *Client) OnError(fn func(error)) { c.mu.Lock(); c.onError = fn; c.mu.Unlock() }

// Open starts the connect loop. It returns immediately; calling it while the
// loop runs does nothing.
func (c *Client) Open() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.done = make(chan struct{})
	go c.run(ctx, c.done)
}

func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *Client) Send(text string) error {
	c.mu.Lock()
	conn, connected := c.conn, c.connected
	c.mu.Unlock()
	if !connected || conn == nil {
		return monitor.ErrNotConnected
	}
	return conn.WriteString(text)
}

func (c *Client) SendOnConnect(text string) {
	c.mu.Lock()
	for _, r := range c.replay {
		if r == text {
			c.mu.Unlock()
			return
		}
	}
	c.replay = append(c.replay, text)
	c.mu.Unlock()

	if err := c.Send(text); err != nil && !errors.Is(err, monitor.ErrNotConnected) {
		c.log.Warn().Err(err).Msg("Error sending message")
	}
}

func (c *Client) RemoveSendOnConnect(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, r := range c.replay {
		if r == text {
			c.replay = append(c.replay[:i], c.replay[i+1:]...)
			return
		}
	}
}

// Reconnect drops the current connection; the connect loop dials again.
func (c *Client) Reconnect() {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		conn.WriteClose(1000, []byte("reconnect"))
	}
}

// Close stops the connect loop and waits for the connection to go away.
func (c *Client) Close() error {
	c.mu.Lock()
	cancel, done, conn := c.cancel, c.done, c.conn
	c.cancel = nil
	if cancel != nil {
		cancel()
	}
	c.mu.Unlock()
	if cancel == nil {
		return nil
	}

	if conn != nil {
		conn.WriteClose(1000, []byte("bye"))
	}
	<-done
	return nil
}

func (c *Client) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		var conn *gws.Conn
		err := retry.Call(retry.CallArgs{
			Func: func() error {
				var err error
				conn, _, err = gws.NewClient(&handler{c}, &gws.ClientOption{
					Addr:          c.opts.Addr,
					RequestHeader: c.opts.Header,
				})
				return err
			},
			NotifyFunc: func(err error, attempt int) {
				c.log.Warn().Err(err).Int("attempt", attempt).Msg("Error connecting")
				c.emitError(fmt.Errorf("%w: dialing %s: %v", monitor.ErrNetwork, c.opts.Addr, err))
			},
			Attempts:    retry.UnlimitedAttempts,
			Delay:       c.opts.ReconnectDelay,
			MaxDelay:    c.opts.MaxReconnectDelay,
			BackoffFunc: retry.DoubleDelay,
			Clock:       c.opts.Clock,
			Stop:        ctx.Done(),
		})
		if err != nil {
			return
		}

		c.mu.Lock()
		if ctx.Err() != nil {
			c.mu.Unlock()
			conn.WriteClose(1000, []byte("bye"))
			return
		}
		c.conn = conn
		c.mu.Unlock()
		conn.ReadLoop()

		select {
		case <-ctx.Done():
			return
		case <-c.opts.Clock.After(c.opts.ReconnectDelay):
		}
	}
}

func (c *Client) emitError(err error) {
	c.mu.Lock()
	fn := c.onError
	c.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}

func (c *Client) ping(conn *gws.Conn, stop chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case <-c.opts.Clock.After(c.opts.PingInterval):
			if err := conn.WriteString(c.opts.PingMessage); err != nil {
				c.log.Debug().Err(err).Msg("Error sending ping")
				return
			}
		}
	}
}

type handler struct {
	c *Client
}

func (h *handler) OnOpen(conn *gws.Conn) {
	c := h.c
	c.log.Info().Msg("WebSocket connection opened")

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	replay := append([]string(nil), c.replay...)
	if c.opts.PingMessage != "" && c.opts.PingInterval > 0 {
		c.stopPing = make(chan struct{})
		go c.ping(conn, c.stopPing)
	}
	onOpen := c.onOpen
	c.mu.Unlock()

	for _, text := range replay {
		if err := conn.WriteString(text); err != nil {
			c.log.Warn().Err(err).Msg("Error replaying message")
		}
	}
	if onOpen != nil {
		onOpen()
	}
}

func (h *handler) OnClose(conn *gws.Conn, err error) {
	c := h.c
	c.log.Info().Err(err).Msg("WebSocket connection closed")

	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.connected = false
	if c.stopPing != nil {
		close(c.stopPing)
		c.stopPing = nil
	}
	onClose := c.onClose
	c.mu.Unlock()

	if onClose != nil {
		onClose(err)
	}
}

func (h *handler) OnPing(conn *gws.Conn, payload []byte) {
	conn.WritePong(payload)
}

func (h *handler) OnPong(conn *gws.Conn, payload []byte) {
}

func (h *handler) OnMessage(conn *gws.Conn, message *gws.Message) {
	defer message.Close()
	if message.Opcode != gws.OpcodeText {
		return
	}

	h.c.mu.Lock()
	onText := h.c.onText
	h.c.mu.Unlock()
	if onText != nil {
		onText(message.Data.String())
	}
}

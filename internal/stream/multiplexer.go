// multiplexer.go owns the two WebSocket channels to the venue.
//
//   - Market channel (public): subscribes by token ID, receives "book"
//     snapshots, "price_change" deltas, and "trade" prints.
//
//   - User channel (authenticated): subscribes by condition ID, receives
//     order lifecycle events for our own orders.
//
// Both channels auto-reconnect after a fixed delay and re-send the full
// subscription set on reconnection. The venue checks an application-layer
// "PING" text frame, not transport pings; a read deadline of three ping
// windows turns a silent server into a reconnect. Decoded events from both
// channels merge into a single bounded stream; when the consumer lags, the
// receive loops block rather than drop.
package stream

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"polytrader/pkg/types"
)

const (
	defaultBufferSize  = 256
	writeTimeout       = 10 * time.Second
	initialDumpTimeout = 5 * time.Second // Subscribing → Live even if a book never arrives
	missedPingWindows  = 3
)

// ChannelState tracks one channel through its connection lifecycle.
type ChannelState int32

const (
	StateDisconnected ChannelState = iota
	StateConnecting
	StateSubscribing
	StateLive
)

func (s ChannelState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateSubscribing:
		return "subscribing"
	case StateLive:
		return "live"
	default:
		return "disconnected"
	}
}

// Config tunes the multiplexer. Auth enables the user channel; without it
// the multiplexer runs the market channel alone.
type Config struct {
	MarketURL      string
	UserURL        string
	Auth           *types.WSAuth
	PingInterval   time.Duration
	ReconnectDelay time.Duration
	AutoReconnect  bool
	BufferSize     int
}

// Multiplexer merges both channels into one event stream.
type Multiplexer struct {
	events chan types.MarketEvent
	market *channel
	user   *channel // nil when no credentials are configured
	logger *slog.Logger
}

// NewMultiplexer creates a multiplexer from config. The user channel is only
// wired when cfg.Auth is set.
func NewMultiplexer(cfg Config, logger *slog.Logger) *Multiplexer {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 5 * time.Second
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 5 * time.Second
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}

	events := make(chan types.MarketEvent, cfg.BufferSize)
	m := &Multiplexer{
		events: events,
		logger: logger.With("component", "stream"),
	}
	m.market = newChannel("market", cfg.MarketURL, cfg.Auth, cfg, events, logger)
	if cfg.Auth != nil && cfg.UserURL != "" {
		m.user = newChannel("user", cfg.UserURL, cfg.Auth, cfg, events, logger)
	}
	return m
}

// Events returns the merged stream of decoded events from both channels.
func (m *Multiplexer) Events() <-chan types.MarketEvent { return m.events }

// SubscribeMarket adds token IDs to the market-channel subscription set.
// If the channel is connected, the full set is re-sent (subscription is
// idempotent); otherwise it goes out with the next connect.
func (m *Multiplexer) SubscribeMarket(tokenIDs []string) error {
	return m.market.subscribe(tokenIDs)
}

// SubscribeUser adds condition IDs to the user-channel subscription set.
// Without credentials this logs and skips; it is not an error.
func (m *Multiplexer) SubscribeUser(conditionIDs []string) error {
	if m.user == nil {
		m.logger.Info("user channel disabled, skipping subscription", "conditions", len(conditionIDs))
		return nil
	}
	return m.user.subscribe(conditionIDs)
}

// MarketState returns the market channel's connection state.
func (m *Multiplexer) MarketState() ChannelState { return m.market.currentState() }

// UserState returns the user channel's state, or StateDisconnected when the
// channel is not configured.
func (m *Multiplexer) UserState() ChannelState {
	if m.user == nil {
		return StateDisconnected
	}
	return m.user.currentState()
}

// Run drives both channels until ctx is cancelled. With auto-reconnect off,
// the first channel failure terminates the run.
func (m *Multiplexer) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		errCh <- m.market.run(runCtx)
	}()
	if m.user != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errCh <- m.user.run(runCtx)
		}()
	}

	var err error
	select {
	case <-ctx.Done():
		err = ctx.Err()
	case err = <-errCh:
	}

	// Unblock any in-flight socket reads, then wait for the loops to exit.
	cancel()
	m.market.closeConn()
	if m.user != nil {
		m.user.closeConn()
	}
	wg.Wait()
	return err
}

// channel manages a single WebSocket connection.
type channel struct {
	name           string // "market" or "user"
	url            string
	auth           *types.WSAuth
	pingInterval   time.Duration
	reconnectDelay time.Duration
	autoReconnect  bool
	out            chan<- types.MarketEvent

	connMu sync.Mutex // protects conn reads/writes
	conn   *websocket.Conn

	// Track subscriptions for automatic re-subscribe on reconnect.
	subscribedMu sync.RWMutex
	subscribed   map[string]bool

	state atomic.Int32

	// Subscribing-phase buffer: events are held until the initial dump has
	// delivered a book for every awaited token, or the timeout fires.
	bufMu    sync.Mutex
	pending  []types.MarketEvent
	awaiting map[string]bool

	logger *slog.Logger
}

func newChannel(name, url string, auth *types.WSAuth, cfg Config, out chan<- types.MarketEvent, logger *slog.Logger) *channel {
	return &channel{
		name:           name,
		url:            url,
		auth:           auth,
		pingInterval:   cfg.PingInterval,
		reconnectDelay: cfg.ReconnectDelay,
		autoReconnect:  cfg.AutoReconnect,
		out:            out,
		subscribed:     make(map[string]bool),
		logger:         logger.With("component", "ws_"+name),
	}
}

func (c *channel) currentState() ChannelState { return ChannelState(c.state.Load()) }
func (c *channel) setState(s ChannelState)    { c.state.Store(int32(s)) }

func (c *channel) subscribe(ids []string) error {
	c.subscribedMu.Lock()
	for _, id := range ids {
		c.subscribed[id] = true
	}
	c.subscribedMu.Unlock()

	switch c.currentState() {
	case StateSubscribing, StateLive:
		return c.sendSubscribe()
	}
	return nil // goes out with the connect-time subscribe frame
}

func (c *channel) subscribedIDs() []string {
	c.subscribedMu.RLock()
	defer c.subscribedMu.RUnlock()
	ids := make([]string, 0, len(c.subscribed))
	for id := range c.subscribed {
		ids = append(ids, id)
	}
	return ids
}

// run maintains the connection, reconnecting after a fixed delay.
func (c *channel) run(ctx context.Context) error {
	for {
		c.setState(StateConnecting)
		err := c.connectAndRead(ctx)
		c.setState(StateDisconnected)

		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !c.autoReconnect {
			return fmt.Errorf("%s channel: %w", c.name, err)
		}

		c.logger.Warn("websocket disconnected, reconnecting",
			"error", err,
			"delay", c.reconnectDelay,
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.reconnectDelay):
		}
	}
}

func (c *channel) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()

	defer func() {
		c.connMu.Lock()
		conn.Close()
		c.conn = nil
		c.connMu.Unlock()
	}()

	// Reset the Subscribing phase. The market channel waits for a book per
	// subscribed token; the user channel has no initial dump and goes Live
	// right after the subscribe frame.
	c.bufMu.Lock()
	c.pending = nil
	c.awaiting = make(map[string]bool)
	if c.name == "market" {
		for _, id := range c.subscribedIDs() {
			c.awaiting[id] = true
		}
	}
	c.bufMu.Unlock()
	c.setState(StateSubscribing)

	if err := c.sendSubscribe(); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	c.logger.Info("websocket connected", "channel", c.name, "subscriptions", len(c.subscribedIDs()))

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.bufMu.Lock()
	if len(c.awaiting) == 0 {
		c.goLiveLocked(connCtx)
	} else {
		go func() {
			select {
			case <-connCtx.Done():
			case <-time.After(initialDumpTimeout):
				c.bufMu.Lock()
				c.goLiveLocked(connCtx)
				c.bufMu.Unlock()
			}
		}()
	}
	c.bufMu.Unlock()

	readTimeout := time.Duration(missedPingWindows) * c.pingInterval
	for {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.handleFrame(connCtx, msg)
	}
}

func (c *channel) sendSubscribe() error {
	ids := c.subscribedIDs()

	var msg types.WSSubscribeMsg
	if c.name == "market" {
		msg = types.WSSubscribeMsg{
			Type:        "MARKET",
			AssetIDs:    ids,
			InitialDump: true,
			Auth:        c.auth,
		}
	} else {
		msg = types.WSSubscribeMsg{
			Type:    "USER",
			Auth:    c.auth,
			Markets: ids,
		}
	}
	return c.writeJSON(msg)
}

func (c *channel) handleFrame(ctx context.Context, data []byte) {
	events, err := Decode(data)
	if err != nil {
		c.logger.Warn("dropping undecodable frame", "error", err)
	}
	if len(events) == 0 {
		return
	}

	c.bufMu.Lock()
	if c.currentState() == StateSubscribing {
		for _, ev := range events {
			c.pending = append(c.pending, ev)
			if snap, ok := ev.(types.BookSnapshot); ok {
				delete(c.awaiting, snap.TokenID)
			}
		}
		if len(c.awaiting) == 0 {
			c.goLiveLocked(ctx)
		}
		c.bufMu.Unlock()
		return
	}
	c.bufMu.Unlock()

	for _, ev := range events {
		select {
		case c.out <- ev:
		case <-ctx.Done():
			return
		}
	}
}

// goLiveLocked flushes the Subscribing buffer, transitions to Live, and
// starts the keepalive loop. Callers hold bufMu. Flushing blocks on the
// outbound channel; that backpressure is intentional.
func (c *channel) goLiveLocked(ctx context.Context) {
	if c.currentState() != StateSubscribing {
		return
	}
	for _, ev := range c.pending {
		select {
		case c.out <- ev:
		case <-ctx.Done():
			return
		}
	}
	c.pending = nil
	c.setState(StateLive)
	go c.pingLoop(ctx)
}

// pingLoop sends the application-layer PING while the connection is Live.
func (c *channel) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.writeMessage(websocket.TextMessage, []byte("PING")); err != nil {
				c.logger.Warn("ping failed", "error", err)
				return
			}
		}
	}
}

func (c *channel) closeConn() {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn != nil {
		c.conn.Close()
	}
}

func (c *channel) writeJSON(v interface{}) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("websocket not connected")
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteJSON(v)
}

func (c *channel) writeMessage(msgType int, data []byte) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("websocket not connected")
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(msgType, data)
}

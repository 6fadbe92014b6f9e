package relay

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/matheus3301/dmsync/internal/bus"
	"github.com/matheus3301/dmsync/internal/metrics"
	"github.com/matheus3301/dmsync/internal/protocol"
	"github.com/matheus3301/dmsync/internal/status"
	"go.uber.org/zap"
)

const (
	DefaultPingInterval = 25 * time.Second
	defaultDialTimeout  = 10 * time.Second
	writeTimeout        = 5 * time.Second
	readLimit           = 64 * 1024
)

// ErrUnknownEvent is returned by On for events outside the inbound table.
var ErrUnknownEvent = errors.New("unknown inbound event")

// Config describes how to reach the relay.
type Config struct {
	URL          string
	PingInterval time.Duration
	DialTimeout  time.Duration
	Reconnect    ReconnectPolicy
}

// Handler receives one inbound frame.
type Handler func(env protocol.Envelope)

// Conn is the single persistent channel to the relay. Inbound frames are
// read and dispatched by one goroutine, so handlers see them in receive
// order.
type Conn struct {
	cfg     Config
	machine *status.Machine
	bus     *bus.Bus
	logger  *zap.Logger

	mu         sync.Mutex
	ws         *websocket.Conn
	token      string
	userID     string
	closing    bool
	gen        int
	sessCancel context.CancelFunc
	life       context.Context
	lifeCancel context.CancelFunc

	hmu      sync.RWMutex
	handlers map[string][]Handler

	pingSent atomic.Int64
	latency  atomic.Int64
}

// New creates a disconnected connection.
func New(cfg Config, machine *status.Machine, b *bus.Bus, logger *zap.Logger) *Conn {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = DefaultPingInterval
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	if cfg.Reconnect.BaseDelay <= 0 {
		cfg.Reconnect.BaseDelay = DefaultReconnectPolicy().BaseDelay
	}
	if cfg.Reconnect.MaxDelay <= 0 {
		cfg.Reconnect.MaxDelay = DefaultReconnectPolicy().MaxDelay
	}
	return &Conn{
		cfg:      cfg,
		machine:  machine,
		bus:      b,
		logger:   logger,
		handlers: make(map[string][]Handler),
	}
}

// State returns the connection state.
func (c *Conn) State() status.State { return c.machine.Current() }

// UserID returns the user the connection was opened for.
func (c *Conn) UserID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

// Latency returns the last ping round trip, or zero before the first pong.
func (c *Conn) Latency() time.Duration { return time.Duration(c.latency.Load()) }

// On registers h for an inbound event.
func (c *Conn) On(event string, h Handler) error {
	if !protocol.IsInbound(event) {
		return fmt.Errorf("%w: %s", ErrUnknownEvent, event)
	}
	c.hmu.Lock()
	c.handlers[event] = append(c.handlers[event], h)
	c.hmu.Unlock()
	return nil
}

func (c *Conn) dispatch(env protocol.Envelope) {
	c.hmu.RLock()
	hs := c.handlers[env.Event]
	c.hmu.RUnlock()
	for _, h := range hs {
		h(env)
	}
}

// dispatchLocal delivers a frame generated by the client itself, such as
// disconnect or reconnect_attempt.
func (c *Conn) dispatchLocal(event string, payload any) {
	env, err := protocol.Encode(event, payload)
	if err != nil {
		return
	}
	if e, err := protocol.Decode(env); err == nil {
		c.dispatch(e)
	}
}

// Connect dials the relay. It is a no-op unless the connection is
// disconnected. A failed dial schedules reconnection and returns the error.
func (c *Conn) Connect(ctx context.Context, token, userID string) error {
	c.mu.Lock()
	if !c.machine.Is(status.Disconnected) {
		c.mu.Unlock()
		return nil
	}
	c.token, c.userID = token, userID
	c.closing = false
	if c.lifeCancel != nil {
		c.lifeCancel()
	}
	life, cancel := context.WithCancel(context.Background())
	c.life, c.lifeCancel = life, cancel
	if err := c.machine.Transition(status.Connecting); err != nil {
		c.mu.Unlock()
		return err
	}
	c.mu.Unlock()

	ws, err := c.dial(ctx)
	if err != nil {
		c.logger.Warn("relay dial failed", zap.String("url", c.cfg.URL), zap.Error(err))
		c.mu.Lock()
		if !c.closing {
			c.machine.Transition(status.Error)
			go c.reconnectLoop(life)
		}
		c.mu.Unlock()
		return fmt.Errorf("connect relay: %w", err)
	}
	c.established(ws)
	return nil
}

func (c *Conn) dial(ctx context.Context) (*websocket.Conn, error) {
	c.mu.Lock()
	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.token)
	header.Set("X-User-ID", c.userID)
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
	defer cancel()
	ws, _, err := websocket.Dial(ctx, c.cfg.URL, &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		return nil, err
	}
	ws.SetReadLimit(readLimit)
	return ws, nil
}

// established installs ws as the live socket and starts its loops. It
// reports false when a Disconnect won the race.
func (c *Conn) established(ws *websocket.Conn) bool {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		ws.Close(websocket.StatusNormalClosure, "client disconnect")
		return false
	}
	c.gen++
	gen := c.gen
	sess, cancel := context.WithCancel(context.Background())
	c.ws = ws
	c.sessCancel = cancel
	c.machine.Transition(status.Connected)
	userID := c.userID
	c.mu.Unlock()

	c.logger.Info("relay connected", zap.String("url", c.cfg.URL), zap.String("user_id", userID))
	go c.readLoop(sess, ws, gen)
	go c.heartbeat(sess)
	c.Send(protocol.Ping, protocol.PingPayload{UserID: userID})
	c.bus.Emit(bus.KindConnEstablished, nil)
	return true
}

func (c *Conn) readLoop(ctx context.Context, ws *websocket.Conn, gen int) {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			c.lost(gen, err)
			return
		}
		env, err := protocol.Decode(data)
		if err != nil {
			c.logger.Debug("dropping malformed frame", zap.Error(err))
			continue
		}
		if !protocol.IsInbound(env.Event) {
			c.logger.Debug("ignoring unknown event", zap.String("event", env.Event))
			continue
		}
		metrics.FramesReceived.WithLabelValues(env.Event).Inc()
		if env.Event == protocol.Pong {
			c.recordPong()
		}
		c.dispatch(env)
	}
}

func (c *Conn) recordPong() {
	sent := c.pingSent.Swap(0)
	if sent == 0 {
		return
	}
	rtt := time.Since(time.Unix(0, sent))
	c.latency.Store(int64(rtt))
	metrics.PingLatency.Observe(rtt.Seconds())
}

func (c *Conn) heartbeat(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Send(protocol.Ping, protocol.PingPayload{UserID: c.UserID()})
		}
	}
}

// lost handles the unexpected end of socket generation gen.
func (c *Conn) lost(gen int, err error) {
	c.mu.Lock()
	if c.closing || gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.ws = nil
	if c.sessCancel != nil {
		c.sessCancel()
		c.sessCancel = nil
	}
	next := status.Error
	if websocket.CloseStatus(err) != -1 {
		next = status.Closed
	}
	c.machine.TransitionFrom(status.Connected, next)
	life := c.life
	c.mu.Unlock()

	c.logger.Warn("relay connection lost", zap.String("state", string(next)), zap.Error(err))
	if next == status.Error {
		c.dispatchLocal(protocol.Error, protocol.Reason{Message: err.Error()})
	}
	c.dispatchLocal(protocol.Disconnect, protocol.Reason{Message: err.Error()})
	go c.reconnectLoop(life)
}

// step performs a state transition unless Disconnect was called.
func (c *Conn) step(to status.State) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closing {
		return false
	}
	return c.machine.Transition(to) == nil
}

func (c *Conn) reconnectLoop(ctx context.Context) {
	policy := c.cfg.Reconnect
	for attempt := 1; ; attempt++ {
		if policy.Exhausted(attempt) {
			if c.step(status.Disconnected) {
				c.logger.Error("relay unreachable, giving up", zap.Int("attempts", attempt-1))
				c.bus.Emit(bus.KindConnPersistentDown, attempt-1)
				c.bus.Notify(bus.KindNotifyError, "Connection to the relay lost", "")
			}
			return
		}
		if !c.step(status.Reconnecting) {
			return
		}
		metrics.ReconnectAttempts.Inc()
		c.dispatchLocal(protocol.ReconnectAttempt, protocol.Attempt{Attempt: attempt})

		select {
		case <-ctx.Done():
			return
		case <-time.After(policy.Delay(attempt)):
		}

		if !c.step(status.Connecting) {
			return
		}
		ws, err := c.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Debug("reconnect attempt failed", zap.Int("attempt", attempt), zap.Error(err))
			if !c.step(status.Error) {
				return
			}
			continue
		}
		if c.established(ws) {
			c.logger.Info("relay reconnected", zap.Int("attempt", attempt))
			c.dispatchLocal(protocol.Reconnect, protocol.Attempt{Attempt: attempt})
		}
		return
	}
}

// Send writes one frame. It reports false, without error, when the
// connection is not up or the write fails.
func (c *Conn) Send(event string, payload any) bool {
	if !protocol.IsOutbound(event) {
		c.logger.Debug("refusing to send unknown event", zap.String("event", event))
		return false
	}
	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()
	if ws == nil || !c.machine.Is(status.Connected) {
		metrics.SendFailures.WithLabelValues(event).Inc()
		return false
	}

	data, err := protocol.Encode(event, payload)
	if err != nil {
		c.logger.Error("encode frame", zap.String("event", event), zap.Error(err))
		return false
	}
	if event == protocol.Ping {
		c.pingSent.Store(time.Now().UnixNano())
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := ws.Write(ctx, websocket.MessageText, data); err != nil {
		metrics.SendFailures.WithLabelValues(event).Inc()
		c.logger.Warn("relay write failed", zap.String("event", event), zap.Error(err))
		return false
	}
	metrics.FramesSent.WithLabelValues(event).Inc()
	return true
}

// Disconnect closes the socket with a normal closure, stops reconnection
// and heartbeat, and moves to DISCONNECTED. It is safe to call at any time
// and more than once.
func (c *Conn) Disconnect() {
	c.mu.Lock()
	c.closing = true
	c.gen++
	ws := c.ws
	c.ws = nil
	sessCancel, lifeCancel := c.sessCancel, c.lifeCancel
	c.sessCancel, c.lifeCancel = nil, nil
	c.mu.Unlock()

	if lifeCancel != nil {
		lifeCancel()
	}
	if ws != nil {
		if err := ws.Close(websocket.StatusNormalClosure, "client disconnect"); err != nil {
			c.logger.Debug("close relay socket", zap.Error(err))
		}
	}
	if sessCancel != nil {
		sessCancel()
	}

	c.mu.Lock()
	if !c.machine.Is(status.Disconnected) {
		c.machine.Transition(status.Disconnected)
	}
	c.mu.Unlock()
	c.pingSent.Store(0)
}

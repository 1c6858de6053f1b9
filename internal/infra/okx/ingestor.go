package okx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"trade_sim/internal/domain"
	"trade_sim/internal/infra"
	"trade_sim/internal/service"
)

// =====================================================
// Ingestor - OKX orderbook WebSocket
// =====================================================

// State is the connection lifecycle of an Ingestor.
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Config configures one Ingestor.
type Config struct {
	URL              string
	Channel          string
	InstID           string
	Depth            int
	MaxRetries       int
	RetryDelay       time.Duration
	QueueSize        int
	HandshakeTimeout time.Duration
	PingInterval     time.Duration // 0 disables keepalive
	ReadTimeout      time.Duration // 0 disables the read deadline
}

// DefaultConfig returns the settings for instID against the public OKX endpoint.
func DefaultConfig(instID string) Config {
	return Config{
		URL:              DefaultURL,
		Channel:          DefaultChannel,
		InstID:           instID,
		Depth:            DefaultDepth,
		MaxRetries:       DefaultMaxRetries,
		RetryDelay:       DefaultRetryDelay,
		QueueSize:        DefaultQueueSize,
		HandshakeTimeout: DefaultHandshakeTimeout,
		PingInterval:     DefaultPingInterval,
		ReadTimeout:      DefaultReadTimeout,
	}
}

// Ingestor streams orderbook frames from one websocket endpoint into a BookStore.
// A receive loop pushes raw frames onto a bounded queue; a single consumer parses them
// in order and publishes snapshots. When the queue is full the oldest frame is dropped.
type Ingestor struct {
	cfg     Config
	store   *service.BookStore
	metrics *infra.Metrics

	conn    *websocket.Conn
	mu      sync.RWMutex
	writeMu sync.Mutex

	state    atomic.Int32
	running  atomic.Bool
	queue    chan []byte
	fatal    chan error
	done     chan struct{}
	doneOnce sync.Once
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	warnMalformed rate.Sometimes
}

// NewIngestor creates an ingestor publishing into store. A nil metrics uses GlobalMetrics.
func NewIngestor(cfg Config, store *service.BookStore, metrics *infra.Metrics) *Ingestor {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.Channel == "" {
		cfg.Channel = DefaultChannel
	}
	if store == nil {
		store = service.NewBookStore()
	}
	if metrics == nil {
		metrics = infra.GlobalMetrics
	}
	return &Ingestor{
		cfg:           cfg,
		store:         store,
		metrics:       metrics,
		queue:         make(chan []byte, cfg.QueueSize),
		fatal:         make(chan error, 1),
		done:          make(chan struct{}),
		warnMalformed: rate.Sometimes{First: 5, Interval: 5 * time.Second},
	}
}

var _ domain.OrderbookFeed = (*Ingestor)(nil)

// Start launches the connection loop and the consumer. It does not wait for the first
// connection; exhausting the retry budget is reported on Fatal.
func (i *Ingestor) Start(ctx context.Context) error {
	if i.cfg.URL == "" || i.cfg.InstID == "" {
		return &domain.ConfigError{Field: "exchange", Err: errors.New("url and instrument are required")}
	}
	if i.State() == StateStopped {
		return domain.ErrStopped
	}
	if !i.running.CompareAndSwap(false, true) {
		return domain.ErrAlreadyRunning
	}

	ctx, i.cancel = context.WithCancel(ctx)
	context.AfterFunc(ctx, i.markDone)

	i.wg.Add(2)
	go i.connectionLoop(ctx)
	go i.consumeLoop(ctx)

	slog.Info("OKX ingestor started",
		slog.String("url", i.cfg.URL),
		slog.String("instId", i.cfg.InstID),
	)
	return nil
}

func (i *Ingestor) markDone() {
	i.doneOnce.Do(func() { close(i.done) })
}

func (i *Ingestor) connectionLoop(ctx context.Context) {
	defer i.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			slog.Error("OKX connection loop panic recovered", slog.Any("panic", r))
			i.fail(domain.NewFatalNetworkError("connect", fmt.Errorf("%w: panic: %v", domain.ErrFatalConnection, r)))
		}
	}()

	failures := 0
	for {
		if ctx.Err() != nil {
			return
		}

		if failures > 0 {
			i.setState(StateReconnecting)
		} else {
			i.setState(StateConnecting)
		}

		conn, err := i.connect(ctx)
		if err == nil {
			failures = 0
			i.setState(StateConnected)
			i.metrics.IncrementConnections()
			err = i.serve(ctx, conn)
			i.metrics.DecrementConnections()
		}
		if ctx.Err() != nil {
			return
		}

		failures++
		i.metrics.RecordConnectFailure()
		slog.Warn("OKX connection failed",
			slog.Any("error", err),
			slog.Int("attempt", failures),
			slog.Int("maxRetries", i.cfg.MaxRetries),
		)

		if failures >= i.cfg.MaxRetries {
			i.fail(domain.NewFatalNetworkError("connect",
				fmt.Errorf("%w after %d attempts: %v", domain.ErrFatalConnection, failures, err)))
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(i.cfg.RetryDelay):
		}
	}
}

func (i *Ingestor) connect(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: i.cfg.HandshakeTimeout}

	conn, _, err := dialer.DialContext(ctx, i.cfg.URL, nil)
	if err != nil {
		return nil, domain.NewNetworkError("dial", err)
	}

	i.mu.Lock()
	if ctx.Err() != nil {
		i.mu.Unlock()
		conn.Close()
		return nil, ctx.Err()
	}
	i.conn = conn
	i.mu.Unlock()

	if err := i.subscribe(); err != nil {
		i.closeConnection(false)
		return nil, domain.NewNetworkError("subscribe", err)
	}

	slog.Info("OKX WebSocket connected", slog.String("instId", i.cfg.InstID))
	return conn, nil
}

func (i *Ingestor) subscribe() error {
	req := subscribeRequest{
		Op: "subscribe",
		Args: []subscribeArg{{
			Channel: i.cfg.Channel,
			InstID:  i.cfg.InstID,
			Depth:   i.cfg.Depth,
		}},
	}
	msgBytes, err := json.Marshal(req)
	if err != nil {
		return err
	}
	return i.threadSafeWrite(websocket.TextMessage, msgBytes)
}

func (i *Ingestor) threadSafeWrite(messageType int, data []byte) error {
	i.writeMu.Lock()
	defer i.writeMu.Unlock()

	i.mu.RLock()
	conn := i.conn
	i.mu.RUnlock()

	if conn == nil {
		return fmt.Errorf("connection is nil")
	}
	return conn.WriteMessage(messageType, data)
}

// serve runs the read loop and keepalive for one connection until it drops or ctx ends.
func (i *Ingestor) serve(ctx context.Context, conn *websocket.Conn) error {
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if i.cfg.PingInterval > 0 {
		i.wg.Add(1)
		go i.pingLoop(connCtx)
	}
	return i.readLoop(connCtx, conn)
}

func (i *Ingestor) pingLoop(ctx context.Context) {
	defer i.wg.Done()
	ticker := time.NewTicker(i.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := i.threadSafeWrite(websocket.TextMessage, []byte("ping")); err != nil {
				slog.Warn("OKX ping failed", slog.Any("error", err))
			}
		}
	}
}

func (i *Ingestor) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		if i.cfg.ReadTimeout > 0 {
			conn.SetReadDeadline(time.Now().Add(i.cfg.ReadTimeout))
		}
		_, message, err := conn.ReadMessage()
		if err != nil {
			i.closeConnection(false)
			if ctx.Err() != nil {
				return nil
			}
			return domain.NewNetworkError("read", err)
		}

		if string(message) == "pong" {
			continue
		}
		i.metrics.RecordFrame()
		i.enqueue(message)
	}
}

// enqueue never blocks the reader: a full queue loses its oldest frame.
func (i *Ingestor) enqueue(message []byte) {
	select {
	case i.queue <- message:
		return
	default:
	}

	select {
	case <-i.queue:
		i.metrics.RecordDroppedFrame()
	default:
	}

	select {
	case i.queue <- message:
	default:
		i.metrics.RecordDroppedFrame()
	}
}

func (i *Ingestor) consumeLoop(ctx context.Context) {
	defer i.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			slog.Error("OKX consumer panic recovered", slog.Any("panic", r))
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case message := <-i.queue:
			i.handleMessage(message)
		}
	}
}

func (i *Ingestor) handleMessage(message []byte) {
	msg, err := ParseMessage(message, time.Now())
	if err != nil {
		i.metrics.RecordMalformed()
		i.warnMalformed.Do(func() {
			slog.Warn("OKX frame dropped", slog.Any("error", err), slog.Int("bytes", len(message)))
		})
		return
	}

	if msg.Event != nil {
		if msg.Event.IsError() {
			slog.Warn("OKX error event",
				slog.String("code", msg.Event.Code),
				slog.String("msg", msg.Event.Msg),
			)
		} else {
			slog.Debug("OKX event", slog.String("event", msg.Event.Event))
		}
		return
	}

	i.store.Publish(msg.Snapshot)
	i.metrics.RecordSnapshot()
}

// fail moves to the terminal state and reports err once.
func (i *Ingestor) fail(err error) {
	i.setState(StateStopped)
	select {
	case i.fatal <- err:
	default:
	}
	slog.Error("OKX ingestor stopped", slog.Any("error", err))
	if i.cancel != nil {
		i.cancel()
	}
}

// closeConnection closes the current socket exactly once.
func (i *Ingestor) closeConnection(sendClose bool) {
	i.mu.Lock()
	conn := i.conn
	i.conn = nil
	i.mu.Unlock()

	if conn == nil {
		return
	}

	if sendClose {
		i.writeMu.Lock()
		err := conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(closeWriteTimeout))
		i.writeMu.Unlock()
		if err != nil && !errors.Is(err, websocket.ErrCloseSent) && !errors.Is(err, net.ErrClosed) {
			slog.Warn("OKX close frame failed", slog.Any("error", err))
		}
	}
	if err := conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		slog.Warn("OKX close failed", slog.Any("error", err))
	}
}

// Stop cancels both loops, closes the socket and waits. Calling it again is a no-op.
func (i *Ingestor) Stop() error {
	if !i.running.CompareAndSwap(true, false) {
		return nil
	}
	if i.cancel != nil {
		i.cancel()
	}
	i.closeConnection(true)
	i.wg.Wait()
	i.setState(StateStopped)

	slog.Info("OKX ingestor stopped", slog.String("instId", i.cfg.InstID))
	return nil
}

// Fatal delivers the terminal connection error, at most once.
func (i *Ingestor) Fatal() <-chan error {
	return i.fatal
}

// State returns the current lifecycle state.
func (i *Ingestor) State() State {
	return State(i.state.Load())
}

func (i *Ingestor) setState(s State) {
	i.state.Store(int32(s))
}

// LatestOrderbook returns the current snapshot, waiting for the first one if needed.
// The wait ends early with ErrStopped once the ingestor stops.
func (i *Ingestor) LatestOrderbook(ctx context.Context) (*domain.OrderbookSnapshot, error) {
	if snap, ok := i.store.Latest(); ok {
		return snap, nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-i.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	snap, err := i.store.Wait(ctx)
	if err != nil {
		select {
		case <-i.done:
			return nil, domain.ErrStopped
		default:
		}
		return nil, err
	}
	return snap, nil
}

// Current returns the current snapshot without waiting.
func (i *Ingestor) Current() (*domain.OrderbookSnapshot, bool) {
	return i.store.Latest()
}

// MidPrice returns the mid of the current snapshot; ok is false before the first one.
func (i *Ingestor) MidPrice() (float64, bool) {
	snap, _ := i.store.Latest()
	return snap.MidPrice()
}

// Spread returns the spread of the current snapshot; ok is false before the first one.
func (i *Ingestor) Spread() (float64, bool) {
	snap, _ := i.store.Latest()
	return snap.Spread()
}

// Depth returns copies of the top levels of the current snapshot.
func (i *Ingestor) Depth(levels int) (asks, bids []domain.Level, ok bool) {
	snap, ok := i.store.Latest()
	if !ok {
		return nil, nil, false
	}
	asks, bids = snap.Depth(levels)
	return asks, bids, true
}

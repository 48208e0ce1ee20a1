package binance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/RedKier/crypto-trading-bot/pkg/metrics"
	"github.com/RedKier/crypto-trading-bot/pkg/models"
)

const (
	ChannelBookTicker = "bookTicker"
	ChannelAggTrade   = "aggTrade"

	DefaultReconnectDelay = 2 * time.Second

	pingInterval     = 30 * time.Second
	writeTimeout     = 5 * time.Second
	handshakeTimeout = 10 * time.Second
)

type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateOpen
	StateClosing
	StateError
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// EventHandler receives decoded market events in arrival order. A returned
// error is logged; it never closes the connection.
type EventHandler interface {
	OnBookTicker(ev models.BookTicker) error
	OnAggTrade(ev models.AggTrade) error
}

// Dialer is satisfied by *websocket.Dialer.
type Dialer interface {
	DialContext(ctx context.Context, urlStr string, requestHeader http.Header) (*websocket.Conn, *http.Response, error)
}

type StreamConfig struct {
	URL            string
	ReconnectDelay time.Duration
	Dialer         Dialer
}

type subscribeMessage struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int64    `json:"id"`
}

// Stream owns the market data connection for the life of the process and
// reconnects until its context is cancelled or Stop is called.
type Stream struct {
	url            string
	dialer         Dialer
	reconnectDelay time.Duration
	handler        EventHandler
	logger         *logrus.Logger
	wait           func(ctx context.Context, d time.Duration) bool

	state   atomic.Int32
	onState func(State)

	mu      sync.Mutex
	conn    *websocket.Conn
	nextID  int64
	watch   map[string]map[string]struct{} // channel -> symbols
	cancel  context.CancelFunc
	stopped bool
}

func NewStream(cfg StreamConfig, handler EventHandler, logger *logrus.Logger) *Stream {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
		}
	}
	delay := cfg.ReconnectDelay
	if delay <= 0 {
		delay = DefaultReconnectDelay
	}

	return &Stream{
		url:            cfg.URL,
		dialer:         dialer,
		reconnectDelay: delay,
		handler:        handler,
		logger:         logger,
		wait:           sleepContext,
		watch:          make(map[string]map[string]struct{}),
	}
}

// OnStateChange registers fn to observe every state transition. Call it
// before Run.
func (s *Stream) OnStateChange(fn func(State)) {
	s.onState = fn
}

func (s *Stream) State() State {
	return State(s.state.Load())
}

func (s *Stream) setState(st State) {
	s.state.Store(int32(st))
	if s.onState != nil {
		s.onState(st)
	}
}

// Run connects and keeps reconnecting after any failure, waiting the
// reconnect delay between attempts. It returns once ctx is cancelled or
// Stop is called.
func (s *Stream) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.cancel = cancel
	s.mu.Unlock()

	for {
		err := s.connectAndServe(ctx)
		if ctx.Err() != nil {
			s.setState(StateClosing)
			s.setState(StateDisconnected)
			s.logger.Info("Binance websocket stream stopped")
			return nil
		}

		s.setState(StateError)
		s.logger.WithError(err).Error("Binance websocket error")
		s.setState(StateDisconnected)

		metrics.StreamReconnectWaits.Inc()
		if !s.wait(ctx, s.reconnectDelay) {
			s.logger.Info("Binance websocket stream stopped")
			return nil
		}
	}
}

// Stop ends Run cooperatively: the loop context is cancelled and the
// active connection closed.
func (s *Stream) Stop() {
	s.mu.Lock()
	s.stopped = true
	cancel := s.cancel
	conn := s.conn
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = conn.Close()
	}
}

func (s *Stream) connectAndServe(ctx context.Context) error {
	s.setState(StateConnecting)

	conn, _, err := s.dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to websocket: %w", err)
	}

	s.mu.Lock()
	s.conn = conn
	s.nextID = 1
	s.mu.Unlock()

	connCtx, stop := context.WithCancel(ctx)
	defer func() {
		stop()
		s.mu.Lock()
		if s.conn == conn {
			s.conn = nil
		}
		s.mu.Unlock()
		_ = conn.Close()
	}()

	s.setState(StateOpen)
	metrics.StreamConnects.Inc()
	s.logger.Info("Binance websocket connection established")

	s.resubscribe()

	go func() {
		<-connCtx.Done()
		_ = conn.Close()
	}()
	go s.keepAlive(connCtx, conn)

	return s.readLoop(conn)
}

// resubscribe replays the whole watch set on a fresh connection, book
// tickers first.
func (s *Stream) resubscribe() {
	s.mu.Lock()
	defer s.mu.Unlock()

	channels := make([]string, 0, len(s.watch))
	for channel := range s.watch {
		if channel != ChannelBookTicker {
			channels = append(channels, channel)
		}
	}
	sort.Strings(channels)
	channels = append([]string{ChannelBookTicker}, channels...)

	for _, channel := range channels {
		symbols := sortedKeys(s.watch[channel])
		if len(symbols) == 0 {
			continue
		}
		if err := s.sendLocked("SUBSCRIBE", symbols, channel); err != nil {
			return
		}
	}
}

// Subscribe adds symbols to the watch set for channel and, when connected,
// subscribes immediately. While disconnected the symbols are subscribed on
// the next successful connection.
func (s *Stream) Subscribe(symbols []string, channel string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	set, ok := s.watch[channel]
	if !ok {
		set = make(map[string]struct{})
		s.watch[channel] = set
	}
	for _, symbol := range symbols {
		set[strings.ToUpper(symbol)] = struct{}{}
	}

	if s.conn == nil {
		s.logger.WithFields(logrus.Fields{
			"channel": channel,
			"count":   len(symbols),
		}).Debug("Websocket not connected, subscription deferred")
		return nil
	}
	return s.sendLocked("SUBSCRIBE", symbols, channel)
}

// Unsubscribe removes symbols from the watch set for channel.
func (s *Stream) Unsubscribe(symbols []string, channel string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if set, ok := s.watch[channel]; ok {
		for _, symbol := range symbols {
			delete(set, strings.ToUpper(symbol))
		}
	}
	if s.conn == nil {
		return nil
	}
	return s.sendLocked("UNSUBSCRIBE", symbols, channel)
}

// Watched returns the symbols tracked for channel.
func (s *Stream) Watched(channel string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedKeys(s.watch[channel])
}

// sendLocked writes a (UN)SUBSCRIBE request. The request id only advances
// after a successful write. s.mu must be held.
func (s *Stream) sendLocked(method string, symbols []string, channel string) error {
	params := make([]string, 0, len(symbols))
	for _, symbol := range symbols {
		params = append(params, strings.ToLower(symbol)+"@"+channel)
	}
	msg := subscribeMessage{
		Method: method,
		Params: params,
		ID:     s.nextID,
	}

	_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := s.conn.WriteJSON(msg); err != nil {
		s.logger.WithError(err).Errorf("Websocket error while subscribing to %d %s updates", len(symbols), channel)
		return fmt.Errorf("binance: %s %s: %w", strings.ToLower(method), channel, err)
	}
	s.nextID++
	return nil
}

func (s *Stream) readLoop(conn *websocket.Conn) error {
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		s.handleMessage(msg)
	}
}

func (s *Stream) handleMessage(msg []byte) {
	var envelope struct {
		Event string `json:"e"`
	}
	if err := json.Unmarshal(msg, &envelope); err != nil {
		s.logger.WithError(err).Debug("Ignoring undecodable websocket message")
		return
	}

	switch envelope.Event {
	case ChannelBookTicker:
		metrics.StreamMessages.WithLabelValues(envelope.Event).Inc()
		ev, err := ParseBookTicker(msg)
		if err != nil {
			s.logger.WithError(err).Error("Failed to map book ticker event")
			return
		}
		if err := s.handler.OnBookTicker(ev); err != nil {
			metrics.DispatchErrors.WithLabelValues(envelope.Event).Inc()
			s.logger.WithError(err).WithField("symbol", ev.Symbol).Error("Error while dispatching book ticker")
		}
	case ChannelAggTrade:
		metrics.StreamMessages.WithLabelValues(envelope.Event).Inc()
		ev, err := ParseAggTrade(msg)
		if err != nil {
			s.logger.WithError(err).Error("Failed to map aggregated trade event")
			return
		}
		if err := s.handler.OnAggTrade(ev); err != nil {
			metrics.DispatchErrors.WithLabelValues(envelope.Event).Inc()
			s.logger.WithError(err).WithField("symbol", ev.Symbol).Error("Error while dispatching aggregated trade")
		}
	}
}

func (s *Stream) keepAlive(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				if !errors.Is(err, websocket.ErrCloseSent) {
					s.logger.WithError(err).Error("Failed to send ping")
				}
				_ = conn.Close()
				return
			}
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

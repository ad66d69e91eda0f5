package coinbase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"coinbase-trader/internal/domain"
)

// DefaultWSURL is the Advanced Trade market data endpoint.
const DefaultWSURL = "wss://advanced-trade-ws.coinbase.com"

// QuoteSink receives quotes decoded from the ticker channel.
type QuoteSink interface {
	Update(q domain.Quote)
}

// FeedConfig configures TickerFeed connection behavior.
type FeedConfig struct {
	// ReconnectDelay is initial delay before reconnect attempt.
	ReconnectDelay time.Duration
	// MaxReconnectDelay is maximum delay between reconnect attempts.
	MaxReconnectDelay time.Duration
	// PingInterval is interval for sending ping frames.
	PingInterval time.Duration
	// ReadTimeout is timeout for reading messages.
	ReadTimeout time.Duration
	// WriteTimeout is timeout for writing messages.
	WriteTimeout time.Duration
}

// DefaultFeedConfig returns default feed configuration.
func DefaultFeedConfig() FeedConfig {
	return FeedConfig{
		ReconnectDelay:    1 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
		PingInterval:      20 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
}

// FeedOptions for creating a TickerFeed.
type FeedOptions struct {
	Endpoint string
	Symbols  []string
	Sink     QuoteSink
	Signer   *Signer // optional; the ticker channel is public
	Config   *FeedConfig
	Logger   zerolog.Logger
}

// TickerFeed streams the ticker channel into a QuoteSink, reconnecting with
// exponential backoff and resubscribing after every reconnect.
type TickerFeed struct {
	endpoint string
	symbols  []string
	sink     QuoteSink
	signer   *Signer
	config   FeedConfig
	logger   zerolog.Logger

	conn   *websocket.Conn
	connMu sync.Mutex
	closed atomic.Bool

	reconnects  atomic.Int64
	lastMessage atomic.Int64 // unix nanos

	done chan struct{}
	wg   sync.WaitGroup
}

// NewTickerFeed connects, subscribes and starts streaming.
func NewTickerFeed(ctx context.Context, opts FeedOptions) (*TickerFeed, error) {
	if opts.Sink == nil {
		return nil, errors.New("ticker feed: nil sink")
	}
	if len(opts.Symbols) == 0 {
		return nil, errors.New("ticker feed: no symbols")
	}
	cfg := DefaultFeedConfig()
	if opts.Config != nil {
		cfg = *opts.Config
	}
	endpoint := opts.Endpoint
	if endpoint == "" {
		endpoint = DefaultWSURL
	}

	f := &TickerFeed{
		endpoint: endpoint,
		symbols:  append([]string(nil), opts.Symbols...),
		sink:     opts.Sink,
		signer:   opts.Signer,
		config:   cfg,
		logger:   opts.Logger,
		done:     make(chan struct{}),
	}
	if err := f.connect(ctx); err != nil {
		return nil, err
	}

	f.wg.Add(2)
	go f.readLoop()
	go f.pingLoop()
	return f, nil
}

// Reconnects returns the number of successful reconnects.
func (f *TickerFeed) Reconnects() int64 {
	return f.reconnects.Load()
}

// LastMessage returns the time of the last message received.
func (f *TickerFeed) LastMessage() time.Time {
	n := f.lastMessage.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// Close stops the feed.
func (f *TickerFeed) Close() error {
	if f.closed.Swap(true) {
		return nil
	}
	close(f.done)

	f.connMu.Lock()
	if f.conn != nil {
		f.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		f.conn.Close()
	}
	f.connMu.Unlock()

	f.wg.Wait()
	return nil
}

type subscribeMessage struct {
	Type       string   `json:"type"`
	ProductIDs []string `json:"product_ids,omitempty"`
	Channel    string   `json:"channel"`
	JWT        string   `json:"jwt,omitempty"`
}

// connect dials and subscribes to ticker and heartbeats.
func (f *TickerFeed) connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, f.endpoint, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}

	subs := []subscribeMessage{
		{Type: "subscribe", ProductIDs: f.symbols, Channel: "ticker"},
		{Type: "subscribe", Channel: "heartbeats"},
	}
	for _, sub := range subs {
		if f.signer != nil {
			token, err := f.signer.Token("", "", "")
			if err != nil {
				conn.Close()
				return fmt.Errorf("subscribe %s: %w", sub.Channel, err)
			}
			sub.JWT = token
		}
		conn.SetWriteDeadline(time.Now().Add(f.config.WriteTimeout))
		if err := conn.WriteJSON(sub); err != nil {
			conn.Close()
			return fmt.Errorf("subscribe %s: %w", sub.Channel, err)
		}
	}

	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.closed.Load() {
		conn.Close()
		return errors.New("ticker feed closed")
	}
	f.conn = conn
	return nil
}

func (f *TickerFeed) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = f.config.ReconnectDelay
	b.MaxInterval = f.config.MaxReconnectDelay
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// readLoop reads messages and reconnects on failure.
func (f *TickerFeed) readLoop() {
	defer f.wg.Done()

	b := f.newBackOff()
	for !f.closed.Load() {
		f.connMu.Lock()
		conn := f.conn
		f.connMu.Unlock()

		if conn == nil {
			if !f.reconnect(b) {
				return
			}
			continue
		}

		conn.SetReadDeadline(time.Now().Add(f.config.ReadTimeout))
		_, message, err := conn.ReadMessage()
		if err != nil {
			if f.closed.Load() {
				return
			}
			f.logger.Warn().Err(err).Msg("ticker feed read failed; reconnecting")
			f.connMu.Lock()
			if f.conn == conn {
				f.conn.Close()
				f.conn = nil
			}
			f.connMu.Unlock()
			continue
		}

		b.Reset()
		f.lastMessage.Store(time.Now().UnixNano())
		f.handleMessage(message)
	}
}

// reconnect waits out the next backoff interval and dials again. It
// returns false when the feed was closed while waiting.
func (f *TickerFeed) reconnect(b *backoff.ExponentialBackOff) bool {
	select {
	case <-f.done:
		return false
	case <-time.After(b.NextBackOff()):
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := f.connect(ctx); err != nil {
		f.logger.Warn().Err(err).Msg("ticker feed reconnect failed")
		return true
	}
	f.reconnects.Add(1)
	f.logger.Info().Int64("reconnects", f.reconnects.Load()).Msg("ticker feed reconnected")
	return true
}

// pingLoop sends periodic ping frames to keep connection alive.
func (f *TickerFeed) pingLoop() {
	defer f.wg.Done()

	ticker := time.NewTicker(f.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-f.done:
			return
		case <-ticker.C:
			f.connMu.Lock()
			if f.conn != nil {
				f.conn.SetWriteDeadline(time.Now().Add(f.config.WriteTimeout))
				// A dead connection surfaces as a read error.
				_ = f.conn.WriteMessage(websocket.PingMessage, nil)
			}
			f.connMu.Unlock()
		}
	}
}

type wsEnvelope struct {
	Type      string    `json:"type"`
	Message   string    `json:"message"`
	Channel   string    `json:"channel"`
	Timestamp time.Time `json:"timestamp"`
	Events    []struct {
		Type    string     `json:"type"`
		Tickers []wsTicker `json:"tickers"`
	} `json:"events"`
}

type wsTicker struct {
	ProductID string `json:"product_id"`
	Price     string `json:"price"`
	BestBid   string `json:"best_bid"`
	BestAsk   string `json:"best_ask"`
}

func (f *TickerFeed) handleMessage(message []byte) {
	var env wsEnvelope
	if err := json.Unmarshal(message, &env); err != nil {
		f.logger.Debug().Err(err).Msg("ticker feed: undecodable message")
		return
	}
	if env.Type == "error" {
		f.logger.Error().Str("message", env.Message).Msg("ticker feed error")
		return
	}
	if env.Channel != "ticker" {
		return
	}
	for _, ev := range env.Events {
		for _, t := range ev.Tickers {
			f.sink.Update(domain.Quote{
				Symbol: t.ProductID,
				Bid:    num(t.BestBid),
				Ask:    num(t.BestAsk),
				Last:   num(t.Price),
				Time:   env.Timestamp,
			})
		}
	}
}

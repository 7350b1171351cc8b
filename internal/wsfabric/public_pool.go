// Package wsfabric implements the WebSocket fabric: WSPublicPool (a bounded
// pool of public sockets) and WSPrivateSession (the single authenticated
// session), built on a reconnect/backoff/fan-out shape with bounded-pool
// eviction.
package wsfabric

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"bitfinex-trading-core/internal/apierr"
	"bitfinex-trading-core/internal/metrics"
)

// Handler receives decoded channel messages for a subscription.
type Handler func(msg json.RawMessage)

type subscribeFrame struct {
	Event     string `json:"event"`
	Channel   string `json:"channel"`
	Symbol    string `json:"symbol"`
	Key       string `json:"key,omitempty"`
	Timeframe string `json:"timeframe,omitempty"`
}

type unsubscribeFrame struct {
	Event string `json:"event"`
	ChanID int64 `json:"chanId"`
}

type subInfo struct {
	subKey    string
	channel   string
	symbol    string
	timeframe string
	handler   Handler
	chanID    int64 // bound once the exchange acks the subscribe frame
}

// socket owns up to maxSubsPerSocket subscriptions on a single connection.
type socket struct {
	mu        sync.Mutex
	conn      *websocket.Conn
	subs      map[string]*subInfo // subKey -> info
	byChanID  map[int64]*subInfo
	closed    bool
}

// Pool is the WSPublicPool collaborator: a bounded set of sockets, each with
// a bounded subscription count, with idempotent subscribe/unsubscribe and
// reconnect-with-resubscribe on connection loss.
type Pool struct {
	mu             sync.Mutex
	url            string
	dial           func(ctx context.Context, url string) (*websocket.Conn, error)
	sockets        []*socket
	subKeyToSocket map[string]*socket
	maxSockets     int
	maxSubsPerSock int
	reconnect      ReconnectConfig
	log            *slog.Logger
	metrics        *metrics.Store
}

// NewPool builds a Pool. dial defaults to a plain gorilla/websocket dial
// when nil, overridable for tests.
func NewPool(url string, maxSockets, maxSubsPerSocket int, log *slog.Logger, m *metrics.Store) *Pool {
	return &Pool{
		url:            url,
		subKeyToSocket: map[string]*socket{},
		maxSockets:     maxSockets,
		maxSubsPerSock: maxSubsPerSocket,
		reconnect:      DefaultReconnectConfig(),
		log:            log,
		metrics:        m,
		dial: func(ctx context.Context, u string) (*websocket.Conn, error) {
			conn, _, err := websocket.DefaultDialer.DialContext(ctx, u, nil)
			return conn, err
		},
	}
}

// Subscribe normalizes symbol, picks (or opens) a socket with spare
// capacity, and sends the subscribe frame. Repeated calls with the same
// sub key are idempotent: the second call is a no-op returning nil.
func (p *Pool) Subscribe(ctx context.Context, channel, symbol, timeframe string, handler Handler) error {
	sym := NormalizeSymbol(symbol)
	key := SubKey(channel, sym, timeframe)

	p.mu.Lock()
	if _, exists := p.subKeyToSocket[key]; exists {
		p.mu.Unlock()
		return nil
	}

	sock, err := p.socketWithCapacity(ctx)
	if err != nil {
		p.mu.Unlock()
		return err
	}
	p.subKeyToSocket[key] = sock
	p.mu.Unlock()

	info := &subInfo{subKey: key, channel: channel, symbol: sym, timeframe: timeframe, handler: handler}
	sock.mu.Lock()
	sock.subs[key] = info
	sock.mu.Unlock()

	frame := subscribeFrame{Event: "subscribe", Channel: channel, Symbol: sym, Timeframe: timeframe}
	return p.send(sock, frame)
}

// Unsubscribe sends the unsubscribe frame for key (if bound to a known
// channel id) and removes local bookkeeping. If the owning socket becomes
// empty it is closed.
func (p *Pool) Unsubscribe(key string) error {
	p.mu.Lock()
	sock, ok := p.subKeyToSocket[key]
	if !ok {
		p.mu.Unlock()
		return nil
	}
	delete(p.subKeyToSocket, key)
	p.mu.Unlock()

	sock.mu.Lock()
	info, ok := sock.subs[key]
	delete(sock.subs, key)
	if ok && info.chanID != 0 {
		delete(sock.byChanID, info.chanID)
	}
	empty := len(sock.subs) == 0
	sock.mu.Unlock()

	if ok && info.chanID != 0 {
		_ = p.send(sock, unsubscribeFrame{Event: "unsubscribe", ChanID: info.chanID})
	}
	if empty {
		p.closeSocket(sock)
	}
	return nil
}

func (p *Pool) socketWithCapacity(ctx context.Context) (*socket, error) {
	for _, s := range p.sockets {
		s.mu.Lock()
		n := len(s.subs)
		closed := s.closed
		s.mu.Unlock()
		if !closed && n < p.maxSubsPerSock {
			return s, nil
		}
	}
	if len(p.sockets) >= p.maxSockets {
		return nil, apierr.New(apierr.PoolSaturated, "")
	}
	s, err := p.openSocket(ctx)
	if err != nil {
		return nil, apierr.Wrap(apierr.WSNotConnected, "", err)
	}
	p.sockets = append(p.sockets, s)
	return s, nil
}

func (p *Pool) openSocket(ctx context.Context) (*socket, error) {
	conn, err := p.dial(ctx, p.url)
	if err != nil {
		return nil, err
	}
	s := &socket{conn: conn, subs: map[string]*subInfo{}, byChanID: map[int64]*subInfo{}}
	go p.readLoop(s)
	return s, nil
}

func (p *Pool) closeSocket(s *socket) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	conn := s.conn
	s.mu.Unlock()
	_ = conn.Close()

	p.mu.Lock()
	for i, sock := range p.sockets {
		if sock == s {
			p.sockets = append(p.sockets[:i], p.sockets[i+1:]...)
			break
		}
	}
	p.mu.Unlock()
}

func (p *Pool) send(s *socket, frame any) error {
	s.mu.Lock()
	conn := s.conn
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return apierr.New(apierr.WSNotConnected, "")
	}
	data, err := json.Marshal(frame)
	if err != nil {
		return apierr.Wrap(apierr.InternalError, "marshal_frame", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return apierr.Wrap(apierr.WSNotConnected, "", err)
	}
	return nil
}

// readLoop dispatches incoming frames to the right handler by channel id and
// reconnects with backoff on read failure, re-subscribing all owned subs
// idempotently.
func (p *Pool) readLoop(s *socket) {
	attempt := 0
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return
			}
			p.logWarn("public ws read error, reconnecting", "err", err)
			if !p.reconnect.Enabled {
				p.closeSocket(s)
				return
			}
			time.Sleep(p.reconnect.Backoff(attempt))
			attempt++
			if p.reconnect.MaxRetries > 0 && attempt > p.reconnect.MaxRetries {
				p.closeSocket(s)
				return
			}
			if err := p.reconnectSocket(s); err != nil {
				continue
			}
			attempt = 0
			continue
		}
		p.dispatch(s, data)
	}
}

func (p *Pool) reconnectSocket(s *socket) error {
	conn, err := p.dial(context.Background(), p.url)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.conn = conn
	subs := make([]*subInfo, 0, len(s.subs))
	for _, info := range s.subs {
		info.chanID = 0
		subs = append(subs, info)
	}
	s.byChanID = map[int64]*subInfo{}
	s.mu.Unlock()

	for _, info := range subs {
		_ = p.send(s, subscribeFrame{Event: "subscribe", Channel: info.channel, Symbol: info.symbol, Timeframe: info.timeframe})
	}
	return nil
}

// dispatch handles both event-envelope ack frames ({"event":"subscribed",...})
// and positional array data frames ([chanId, payload]).
func (p *Pool) dispatch(s *socket, data []byte) {
	var ack struct {
		Event     string `json:"event"`
		ChanID    int64  `json:"chanId"`
		Channel   string `json:"channel"`
		Symbol    string `json:"symbol"`
		Timeframe string `json:"timeframe"`
	}
	if err := json.Unmarshal(data, &ack); err == nil && ack.Event == "subscribed" {
		key := SubKey(ack.Channel, ack.Symbol, ack.Timeframe)
		s.mu.Lock()
		if info, ok := s.subs[key]; ok {
			info.chanID = ack.ChanID
			s.byChanID[ack.ChanID] = info
		}
		s.mu.Unlock()
		return
	}

	var arr []json.RawMessage
	if err := json.Unmarshal(data, &arr); err != nil || len(arr) < 2 {
		return
	}
	var chanID int64
	if err := json.Unmarshal(arr[0], &chanID); err != nil {
		return
	}
	s.mu.Lock()
	info, ok := s.byChanID[chanID]
	s.mu.Unlock()
	if !ok || info.handler == nil {
		return
	}
	info.handler(data)
}

func (p *Pool) logWarn(msg string, args ...any) {
	if p.log != nil {
		p.log.Warn(msg, args...)
	}
}

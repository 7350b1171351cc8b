package wsfabric

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"bitfinex-trading-core/internal/apierr"
	"bitfinex-trading-core/internal/transport"
)

// PrivateEventKind enumerates the Bitfinex private-channel event codes this
// session decodes.
type PrivateEventKind string

const (
	OrderSnapshot      PrivateEventKind = "os"
	OrderNew           PrivateEventKind = "on"
	OrderUpdate        PrivateEventKind = "ou"
	OrderClose         PrivateEventKind = "oc"
	TradeExecuted      PrivateEventKind = "te"
	TradeUpdate        PrivateEventKind = "tu"
	PositionSnapshot   PrivateEventKind = "ps"
	PositionNew        PrivateEventKind = "pn"
	PositionUpdate     PrivateEventKind = "pu"
	PositionClose      PrivateEventKind = "pc"
	WalletSnapshot     PrivateEventKind = "ws"
	WalletUpdate       PrivateEventKind = "wu"
)

// PrivateEvent is the decoded shape handed to registered handlers.
type PrivateEvent struct {
	Kind    PrivateEventKind
	Payload json.RawMessage
}

// PrivateHandler receives decoded private events.
type PrivateHandler func(PrivateEvent)

// Session is the WSPrivateSession collaborator: the single authenticated
// connection carrying order/trade/position/wallet events, guarded by a
// dead-man switch that the exchange tears down if not re-armed.
type Session struct {
	mu             sync.Mutex
	url            string
	signer         *transport.Signer
	dial           func(ctx context.Context, url string) (*websocket.Conn, error)
	conn           *websocket.Conn
	reconnect      ReconnectConfig
	deadManSeconds int
	log            *slog.Logger
	handler        PrivateHandler
	cancel         context.CancelFunc
	authenticated  bool
}

// NewSession builds a Session. deadManSeconds is the exchange-side dms
// timeout (default 60s, re-armed immediately on each successful auth, no
// grace period).
func NewSession(url string, signer *transport.Signer, deadManSeconds int, log *slog.Logger) *Session {
	return &Session{
		url:            url,
		signer:         signer,
		reconnect:      DefaultReconnectConfig(),
		deadManSeconds: deadManSeconds,
		log:            log,
		dial: func(ctx context.Context, u string) (*websocket.Conn, error) {
			conn, _, err := websocket.DefaultDialer.DialContext(ctx, u, nil)
			return conn, err
		},
	}
}

// Run connects, authenticates, and dispatches private events to handler
// until ctx is cancelled. Reconnects with backoff on connection loss,
// re-authenticating (which re-arms the dead-man switch) on each reconnect.
func (s *Session) Run(ctx context.Context, handler PrivateHandler) error {
	if !s.signer.Creds().Configured() {
		return apierr.New(apierr.AuthNotConfigured, "")
	}
	s.handler = handler
	runCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	attempt := 0
	for {
		if runCtx.Err() != nil {
			return nil
		}
		if err := s.connectAndAuth(runCtx); err != nil {
			s.log.Warn("private ws connect/auth failed", "err", err)
			if !s.reconnect.Enabled {
				return err
			}
			select {
			case <-time.After(s.reconnect.Backoff(attempt)):
			case <-runCtx.Done():
				return nil
			}
			attempt++
			continue
		}
		attempt = 0
		s.readLoop(runCtx)
		if runCtx.Err() != nil {
			return nil
		}
	}
}

// Stop tears down the session.
func (s *Session) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
	if s.conn != nil {
		_ = s.conn.Close()
	}
}

func (s *Session) connectAndAuth(ctx context.Context) error {
	conn, err := s.dial(ctx, s.url)
	if err != nil {
		return apierr.Wrap(apierr.WSNotConnected, "", err)
	}
	payload, err := s.signer.WSAuthFrame(s.deadManSeconds)
	if err != nil {
		_ = conn.Close()
		return apierr.Wrap(apierr.InternalError, "ws_auth_frame", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		_ = conn.Close()
		return apierr.Wrap(apierr.WSNotConnected, "", err)
	}

	conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		_ = conn.Close()
		return apierr.Wrap(apierr.WSNotConnected, "auth_response_read", err)
	}
	conn.SetReadDeadline(time.Time{})

	var ack struct {
		Event  string `json:"event"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(data, &ack); err != nil || ack.Event != "auth" || ack.Status != "OK" {
		_ = conn.Close()
		return apierr.New(apierr.DeadManSwitchFail, "ws_auth_rejected")
	}

	s.mu.Lock()
	s.conn = conn
	s.authenticated = true
	s.mu.Unlock()
	s.log.Info("private ws authenticated", "dead_man_seconds", s.deadManSeconds)
	return nil
}

func (s *Session) readLoop(ctx context.Context) {
	for {
		s.mu.Lock()
		conn := s.conn
		s.mu.Unlock()
		if conn == nil {
			return
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			s.mu.Lock()
			s.authenticated = false
			s.mu.Unlock()
			s.log.Warn("private ws read error", "err", err)
			return
		}
		s.dispatch(data)
		if ctx.Err() != nil {
			return
		}
	}
}

func (s *Session) dispatch(data []byte) {
	var arr []json.RawMessage
	if err := json.Unmarshal(data, &arr); err != nil || len(arr) < 2 {
		return
	}
	var chanID int
	if err := json.Unmarshal(arr[0], &chanID); err != nil {
		return
	}
	var kind string
	if err := json.Unmarshal(arr[1], &kind); err != nil {
		return
	}
	pk := PrivateEventKind(kind)
	switch pk {
	case OrderSnapshot, OrderNew, OrderUpdate, OrderClose,
		TradeExecuted, TradeUpdate,
		PositionSnapshot, PositionNew, PositionUpdate, PositionClose,
		WalletSnapshot, WalletUpdate:
		var payload json.RawMessage
		if len(arr) >= 3 {
			payload = arr[2]
		}
		if s.handler != nil {
			s.handler(PrivateEvent{Kind: pk, Payload: payload})
		}
	}
}

// Authenticated reports whether the last auth handshake succeeded and no
// subsequent read error has torn the connection down.
func (s *Session) Authenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authenticated
}

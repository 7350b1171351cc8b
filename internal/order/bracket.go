package order

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"bitfinex-trading-core/internal/wsfabric"
	"bitfinex-trading-core/pkg/jsonstore"
)

// Canceller cancels a live order by exchange id.
type Canceller interface {
	CancelOrder(ctx context.Context, orderID int64) error
}

// Resizer amends a live order's amount, preserving its sign.
type Resizer interface {
	ResizeOrder(ctx context.Context, orderID int64, newAmount float64) error
}

// Group is one OCO bracket: an entry plus its linked stop-loss/take-profit
// legs, tracked as a linked entry/SL/TP triplet with sibling-cancel on
// whichever leg fills first.
type Group struct {
	GID               string         `json:"gid"`
	EntryID           int64          `json:"entry_id"`
	EntrySide         Side           `json:"entry_side"`
	SLID              int64          `json:"sl_id"`
	TPID              int64          `json:"tp_id"`
	EntryTargetSize   float64        `json:"entry_target_size"`
	EntryFilledSize   float64        `json:"entry_filled_size"`
	Active            bool           `json:"active"`
	ProcessedTradeIDs map[int64]bool `json:"processed_trade_ids"`
}

type bracketFile struct {
	Groups map[string]*Group `json:"groups"` // keyed by gid
}

// Manager is the BracketManager collaborator.
type Manager struct {
	mu            sync.Mutex
	path          string
	file          bracketFile
	canceller     Canceller
	resizer       Resizer
	partialAdjust bool
	backoff       wsfabric.ReconnectConfig
	log           *slog.Logger
	onAlert       func(reason string) // failed-cancel alert hook; NewManager leaves it nil, so no alert is raised unless it is set
}

func NewManager(path string, canceller Canceller, resizer Resizer, partialAdjust bool, log *slog.Logger) (*Manager, error) {
	m := &Manager{
		path:          path,
		canceller:     canceller,
		resizer:       resizer,
		partialAdjust: partialAdjust,
		backoff:       cancelRetryBackoff(),
		log:           log,
	}
	var f bracketFile
	if err := jsonstore.Load(path, &f); err != nil {
		log.Warn("bracket manager: load failed, starting fresh", "err", err)
	}
	if f.Groups == nil {
		f.Groups = map[string]*Group{}
	}
	m.file = f
	return m, nil
}

// RegisterGroup persists a new active bracket linking entryID to its sl/tp
// children. entrySide is the entry order's side; the SL/TP legs always carry
// the opposite sign, which resizeSiblings needs to amend them correctly.
func (m *Manager) RegisterGroup(gid string, entryID, slID, tpID int64, entryTargetSize float64, entrySide Side) error {
	m.mu.Lock()
	m.file.Groups[gid] = &Group{
		GID:               gid,
		EntryID:           entryID,
		EntrySide:         entrySide,
		SLID:              slID,
		TPID:              tpID,
		EntryTargetSize:   entryTargetSize,
		Active:            true,
		ProcessedTradeIDs: map[int64]bool{},
	}
	f := m.file
	m.mu.Unlock()
	return jsonstore.Save(m.path, f)
}

// OnTradeExecuted reacts to a private te/tu event: execID identifies the
// exchange's trade record (for idempotent replay protection), orderID names
// which leg traded, and execAmount is the signed fill amount from the
// exchange payload.
func (m *Manager) OnTradeExecuted(ctx context.Context, execID, orderID int64, execAmount float64) {
	m.mu.Lock()
	group := m.groupForOrder(orderID)
	if group == nil || !group.Active || group.ProcessedTradeIDs[execID] {
		m.mu.Unlock()
		return
	}
	group.ProcessedTradeIDs[execID] = true

	switch orderID {
	case group.SLID, group.TPID:
		group.Active = false
		sibling := group.TPID
		if orderID == group.TPID {
			sibling = group.SLID
		}
		f := m.file
		m.mu.Unlock()
		_ = jsonstore.Save(m.path, f)
		m.cancelWithRetry(ctx, sibling)
		return

	case group.EntryID:
		group.EntryFilledSize += abs(execAmount)
		resizeNeeded := m.partialAdjust
		newSize := group.EntryFilledSize
		entrySide := group.EntrySide
		slID, tpID := group.SLID, group.TPID
		f := m.file
		m.mu.Unlock()
		if err := jsonstore.Save(m.path, f); err != nil {
			m.log.Warn("bracket manager: persist failed", "err", err)
		}
		if resizeNeeded {
			m.resizeSiblings(ctx, slID, tpID, newSize, entrySide)
		}
		return
	}
	m.mu.Unlock()
}

// groupForOrder must be called with m.mu held.
func (m *Manager) groupForOrder(orderID int64) *Group {
	for _, g := range m.file.Groups {
		if g.EntryID == orderID || g.SLID == orderID || g.TPID == orderID {
			return g
		}
	}
	return nil
}

func (m *Manager) cancelWithRetry(ctx context.Context, orderID int64) {
	if orderID == 0 {
		return
	}
	attempt := 0
	for {
		if err := m.canceller.CancelOrder(ctx, orderID); err == nil {
			return
		} else if attempt >= 5 {
			m.log.Error("bracket manager: giving up cancelling sibling order", "order_id", orderID, "err", err)
			if m.onAlert != nil {
				m.onAlert("sibling_cancel_failed")
			}
			m.mu.Lock()
			if g := m.groupForOrder(orderID); g != nil {
				g.Active = true
			}
			f := m.file
			m.mu.Unlock()
			_ = jsonstore.Save(m.path, f)
			return
		} else {
			delay := m.backoff.Backoff(attempt)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return
			}
			attempt++
		}
	}
}

// resizeSiblings amends both legs to newSize, signed opposite the entry:
// ResizeOrder's contract requires the order's own signed amount, and an
// SL/TP leg always closes in the direction opposite its entry.
func (m *Manager) resizeSiblings(ctx context.Context, slID, tpID int64, newSize float64, entrySide Side) {
	signed := signedSize(entrySide, newSize)
	for _, id := range []int64{slID, tpID} {
		if id == 0 {
			continue
		}
		if err := m.resizer.ResizeOrder(ctx, id, signed); err != nil {
			m.log.Warn("bracket manager: resize sibling failed", "order_id", id, "err", err)
		}
	}
}

// signedSize returns size carrying the sign an SL/TP leg needs given the
// entry's side: a buy entry's exit legs sell (negative), and vice versa.
func signedSize(entrySide Side, size float64) float64 {
	size = abs(size)
	if entrySide == Buy {
		return -size
	}
	return size
}

// cancelRetryBackoff mirrors WSPublicPool's exponential-backoff shape at a
// much shorter scale: sibling-cancel retries are a local REST call, not a
// socket reconnect, and should not make a fill handler block for seconds.
func cancelRetryBackoff() wsfabric.ReconnectConfig {
	cfg := wsfabric.DefaultReconnectConfig()
	cfg.InitialDelay = 50 * time.Millisecond
	cfg.MaxDelay = 2 * time.Second
	return cfg
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

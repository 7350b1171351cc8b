// Package risk implements TradingWindow, TradeCounter, RiskGuards, and the
// RiskPolicyEngine that composes them into one allow/deny decision: several
// independent sub-checks evaluated in a fixed priority order, the first
// rejection supplying the reason. Decisions are returned, not recorded.
package risk

import (
	"fmt"
	"sync"
	"time"

	"bitfinex-trading-core/internal/apierr"
	"bitfinex-trading-core/pkg/jsonstore"
)

// DayWindow is one open interval within a day, in HH:MM wall-clock form.
type DayWindow struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

type windowFile struct {
	Timezone string                 `json:"timezone"`
	Windows  map[string][]DayWindow `json:"windows"` // weekday name -> windows
	Paused   bool                   `json:"paused"`
}

// TradingWindow answers whether trading is currently allowed by time-of-day
// policy, persisted as atomic JSON like NonceSource.
type TradingWindow struct {
	mu   sync.RWMutex
	path string
	loc  *time.Location
	file windowFile
}

// NewTradingWindow loads state from path (or seeds an always-open default if
// missing) and validates timezone against the tzdata database.
func NewTradingWindow(path, timezone string) (*TradingWindow, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, apierr.Wrap(apierr.InvalidTimezone, timezone, err)
	}
	tw := &TradingWindow{path: path, loc: loc}
	var f windowFile
	if err := jsonstore.Load(path, &f); err != nil {
		return nil, fmt.Errorf("trading window: load: %w", err)
	}
	if f.Timezone == "" {
		f.Timezone = timezone
		f.Windows = map[string][]DayWindow{}
	}
	tw.file = f
	return tw, nil
}

// IsOpen reports whether now (converted to the configured timezone) falls
// inside any configured window for its weekday. An empty window list for a
// day means no trading that day; an empty Windows map entirely means
// always-open (no restriction has been configured yet).
func (w *TradingWindow) IsOpen(now time.Time) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if len(w.file.Windows) == 0 {
		return true
	}
	local := now.In(w.loc)
	day := local.Weekday().String()
	windows, ok := w.file.Windows[day]
	if !ok || len(windows) == 0 {
		return false
	}
	cur := local.Format("15:04")
	for _, win := range windows {
		if cur >= win.Start && cur <= win.End {
			return true
		}
	}
	return false
}

// IsPaused reports the operator-controlled pause flag, independent of
// time-of-day windows.
func (w *TradingWindow) IsPaused() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.file.Paused
}

// SetPaused flips the pause flag and persists it.
func (w *TradingWindow) SetPaused(v bool) error {
	w.mu.Lock()
	w.file.Paused = v
	f := w.file
	w.mu.Unlock()
	return jsonstore.Save(w.path, f)
}

// SetWindows replaces the configured per-weekday windows and persists them.
func (w *TradingWindow) SetWindows(windows map[string][]DayWindow) error {
	w.mu.Lock()
	w.file.Windows = windows
	f := w.file
	w.mu.Unlock()
	return jsonstore.Save(w.path, f)
}

// NextOpen computes the next time at or after now that a window opens, or
// the zero time if none is configured (always-open).
func (w *TradingWindow) NextOpen(now time.Time) time.Time {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if len(w.file.Windows) == 0 {
		return time.Time{}
	}
	local := now.In(w.loc)
	for offset := 0; offset < 8; offset++ {
		day := local.AddDate(0, 0, offset)
		windows := w.file.Windows[day.Weekday().String()]
		for _, win := range windows {
			start, err := time.ParseInLocation("2006-01-02 15:04", day.Format("2006-01-02")+" "+win.Start, w.loc)
			if err != nil {
				continue
			}
			if !start.Before(now) {
				return start
			}
		}
	}
	return time.Time{}
}

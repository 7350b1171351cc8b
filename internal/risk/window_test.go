package risk

import (
	"path/filepath"
	"testing"
	"time"
)

func TestTradingWindowAlwaysOpenByDefault(t *testing.T) {
	tw, err := NewTradingWindow(filepath.Join(t.TempDir(), "window.json"), "UTC")
	if err != nil {
		t.Fatalf("new window: %v", err)
	}
	if !tw.IsOpen(time.Now()) {
		t.Fatalf("expected always-open with no configured windows")
	}
}

func TestTradingWindowRespectsConfiguredRange(t *testing.T) {
	tw, err := NewTradingWindow(filepath.Join(t.TempDir(), "window.json"), "UTC")
	if err != nil {
		t.Fatalf("new window: %v", err)
	}
	monday := time.Date(2026, 8, 3, 10, 0, 0, 0, time.UTC) // a Monday
	if err := tw.SetWindows(map[string][]DayWindow{
		"Monday": {{Start: "09:00", End: "17:00"}},
	}); err != nil {
		t.Fatalf("set windows: %v", err)
	}
	if !tw.IsOpen(monday) {
		t.Fatalf("expected open at 10:00 on configured Monday window")
	}
	if tw.IsOpen(monday.Add(10 * time.Hour)) { // 20:00
		t.Fatalf("expected closed outside window")
	}
	tuesday := monday.AddDate(0, 0, 1)
	if tw.IsOpen(tuesday) {
		t.Fatalf("expected closed on unconfigured weekday")
	}
}

func TestTradingWindowInvalidTimezone(t *testing.T) {
	_, err := NewTradingWindow(filepath.Join(t.TempDir(), "window.json"), "Not/A_Zone")
	if err == nil {
		t.Fatalf("expected error for invalid timezone")
	}
}

func TestTradingWindowPause(t *testing.T) {
	tw, err := NewTradingWindow(filepath.Join(t.TempDir(), "window.json"), "UTC")
	if err != nil {
		t.Fatalf("new window: %v", err)
	}
	if tw.IsPaused() {
		t.Fatalf("expected not paused initially")
	}
	if err := tw.SetPaused(true); err != nil {
		t.Fatalf("set paused: %v", err)
	}
	if !tw.IsPaused() {
		t.Fatalf("expected paused after SetPaused(true)")
	}
}

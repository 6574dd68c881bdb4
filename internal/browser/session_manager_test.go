package browser

import (
	"context"
	"errors"
	"testing"

	"neetlink/internal/config"

	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap/zaptest"
)

func boolPtr(b bool) *bool { return &b }

func TestNewSessionManager(t *testing.T) {
	m := NewSessionManager(zaptest.NewLogger(t), config.BrowserConfig{})
	if m.IsConnected() {
		t.Error("new manager should not be connected")
	}
	if m.ControlURL() != "" {
		t.Errorf("expected empty control URL, got %q", m.ControlURL())
	}
	if tabs := m.Tabs(); len(tabs) != 0 {
		t.Errorf("expected no tabs, got %d", len(tabs))
	}
}

func TestStartRequiresBrowserConfig(t *testing.T) {
	m := NewSessionManager(zaptest.NewLogger(t), config.BrowserConfig{})
	if err := m.Start(context.Background()); err == nil {
		t.Fatal("expected error without debugger_url or launch")
	}
	if m.IsConnected() {
		t.Error("failed start should leave manager disconnected")
	}
}

func TestOperationsRequireConnection(t *testing.T) {
	ctx := context.Background()
	m := NewSessionManager(zaptest.NewLogger(t), config.BrowserConfig{})

	if err := m.OpenTab(ctx, "https://neetcode.io/solutions/two-sum"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("OpenTab: expected ErrNotConnected, got %v", err)
	}
	if _, err := m.Attach("tab"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Attach: expected ErrNotConnected, got %v", err)
	}
	if _, err := m.Events(ctx); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Events: expected ErrNotConnected, got %v", err)
	}
	if _, err := m.TabUpdates(ctx); !errors.Is(err, ErrNotConnected) {
		t.Errorf("TabUpdates: expected ErrNotConnected, got %v", err)
	}
	if _, _, err := m.ActiveTab(ctx); !errors.Is(err, ErrNotConnected) {
		t.Errorf("ActiveTab: expected ErrNotConnected, got %v", err)
	}
	if _, err := m.Surface("tab"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Surface: expected ErrNotConnected, got %v", err)
	}
	if _, err := m.OnLoad(ctx, "tab", func() {}); !errors.Is(err, ErrNotConnected) {
		t.Errorf("OnLoad: expected ErrNotConnected, got %v", err)
	}
}

func TestShutdownWithoutStart(t *testing.T) {
	m := NewSessionManager(zaptest.NewLogger(t), config.BrowserConfig{})
	if err := m.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown without Start: %v", err)
	}
}

func TestParseLaunchFlags(t *testing.T) {
	got := parseLaunchFlags([]string{
		"--remote-debugging-port=9222",
		"--no-first-run",
		"  ",
		"-user-data-dir=/tmp/profile=x",
	})

	want := []launchFlag{
		{name: "remote-debugging-port", value: "9222"},
		{name: "no-first-run"},
		{name: "user-data-dir", value: "/tmp/profile=x"},
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d flags, got %d: %+v", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("flag %d: got %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestTrackAndUntrack(t *testing.T) {
	m := NewSessionManager(zaptest.NewLogger(t), config.BrowserConfig{})

	m.track(&proto.TargetTargetInfo{TargetID: "A", Type: proto.TargetTargetInfoTypePage, URL: "https://leetcode.com/problems/two-sum/", Title: "Two Sum"})
	m.track(&proto.TargetTargetInfo{TargetID: "A", Type: proto.TargetTargetInfoTypePage, URL: "https://leetcode.com/problems/3sum/", Title: "3Sum"})

	tabs := m.Tabs()
	if len(tabs) != 1 {
		t.Fatalf("expected 1 tab, got %d", len(tabs))
	}
	if tabs[0].URL != "https://leetcode.com/problems/3sum/" || tabs[0].Title != "3Sum" {
		t.Errorf("tab not updated: %+v", tabs[0])
	}
	if tabs[0].Attached {
		t.Error("tab should not be attached")
	}
	if _, ok := m.Page("A"); ok {
		t.Error("Page should report no attached page")
	}

	m.untrack("A")
	if len(m.Tabs()) != 0 {
		t.Error("expected tab to be dropped")
	}
}

func TestIsPageTarget(t *testing.T) {
	if isPageTarget(nil) {
		t.Error("nil is not a page")
	}
	if isPageTarget(&proto.TargetTargetInfo{Type: proto.TargetTargetInfoTypeServiceWorker}) {
		t.Error("service worker is not a page")
	}
	if !isPageTarget(&proto.TargetTargetInfo{Type: proto.TargetTargetInfoTypePage}) {
		t.Error("page target not recognised")
	}
}

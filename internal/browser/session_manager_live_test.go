package browser

import (
	"context"
	"os"
	"testing"
	"time"

	"neetlink/internal/config"
	"neetlink/internal/widget"

	"github.com/go-rod/rod/lib/launcher"
	"go.uber.org/zap/zaptest"
)

// TestLiveSurface mounts the button into a real page and drives it through
// the event relay. It needs a local Chrome.
func TestLiveSurface(t *testing.T) {
	if os.Getenv("SKIP_LIVE_TESTS") != "" {
		t.Skip("Skipping live browser tests (SKIP_LIVE_TESTS set)")
	}
	bin, ok := launcher.LookPath()
	if !ok {
		t.Skip("Chrome not found")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	logger := zaptest.NewLogger(t)
	m := NewSessionManager(logger, config.BrowserConfig{
		Launch:   []string{bin, "--no-first-run"},
		Headless: boolPtr(true),
	})
	if err := m.Start(ctx); err != nil {
		t.Skipf("Chrome failed to start: %v", err)
	}
	defer func() {
		if err := m.Shutdown(ctx); err != nil {
			t.Logf("Shutdown warning: %v", err)
		}
	}()

	events, err := m.Events(ctx)
	if err != nil {
		t.Fatalf("Events: %v", err)
	}

	const url = "data:text/html,problem"
	if err := m.OpenTab(ctx, url); err != nil {
		t.Fatalf("OpenTab: %v", err)
	}

	var tabID string
	for tabID == "" {
		select {
		case ev := <-events:
			if ev.Kind == TabNavigated && ev.URL == url {
				tabID = ev.TabID
			}
		case <-ctx.Done():
			t.Fatal("tab never reported")
		}
	}

	surface, err := m.Surface(tabID)
	if err != nil {
		t.Fatalf("Surface: %v", err)
	}

	loc, err := surface.Location(ctx)
	if err != nil || loc != url {
		t.Fatalf("Location: %q, %v", loc, err)
	}

	opener := &recordingOpener{}
	btn := widget.NewButton(logger, "two-sum", "https://neetcode.io/solutions/two-sum", surface, opener, widget.Options{Top: 10, Right: 10})
	if err := surface.Mount(ctx, btn.Spec()); err != nil {
		t.Fatalf("Mount: %v", err)
	}

	page, _ := m.Page(tabID)
	if _, err := page.Context(ctx).Eval(`() => document.getElementById("neetcode-button").click()`); err != nil {
		t.Fatalf("clicking button: %v", err)
	}

	relay := NewRelay(logger, surface, staticButtons{btn}, time.Millisecond, nil)
	relay.Flush(ctx)
	if opener.count() != 1 {
		t.Errorf("expected the click to be relayed, got %d opens", opener.count())
	}

	if err := surface.DispatchNoSolution(ctx, "two-sum"); err != nil {
		t.Errorf("DispatchNoSolution: %v", err)
	}
	if err := surface.Unmount(ctx); err != nil {
		t.Errorf("Unmount: %v", err)
	}
	res, err := page.Context(ctx).Eval(`() => document.getElementById("neetcode-button") === null`)
	if err != nil || !res.Value.Bool() {
		t.Errorf("button still present after Unmount: %v", err)
	}
}

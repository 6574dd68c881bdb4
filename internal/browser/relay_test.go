package browser

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"neetlink/internal/widget"

	"github.com/ysmood/gson"
	"go.uber.org/zap/zaptest"
)

type recordingRenderer struct {
	mu      sync.Mutex
	patches []widget.Patch
}

func (r *recordingRenderer) Apply(ctx context.Context, p widget.Patch) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.patches = append(r.patches, p)
	return nil
}

type recordingOpener struct {
	mu   sync.Mutex
	urls []string
}

func (o *recordingOpener) OpenTab(ctx context.Context, url string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.urls = append(o.urls, url)
	return nil
}

func (o *recordingOpener) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.urls)
}

type staticButtons struct{ btn *widget.Button }

func (s staticButtons) Button() *widget.Button { return s.btn }

type queueDrainer struct {
	mu      sync.Mutex
	batches [][]WidgetEvent
	err     error
	calls   int
}

func (d *queueDrainer) Drain(ctx context.Context) ([]WidgetEvent, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if d.err != nil {
		return nil, d.err
	}
	if len(d.batches) == 0 {
		return nil, nil
	}
	b := d.batches[0]
	d.batches = d.batches[1:]
	return b, nil
}

func newTestButton(t *testing.T) (*widget.Button, *recordingRenderer, *recordingOpener) {
	r := &recordingRenderer{}
	o := &recordingOpener{}
	btn := widget.NewButton(zaptest.NewLogger(t), "two-sum", "https://neetcode.io/solutions/two-sum", r, o, widget.Options{Top: 10, Right: 10})
	return btn, r, o
}

func TestDecodeEvents(t *testing.T) {
	v := gson.NewFrom(`[
		{"type":"down","x":120,"y":40,"rect":{"left":100,"top":10,"width":200,"height":44},"ts":1},
		{"type":"move","x":130,"y":60,"rect":{"left":100,"top":10,"width":200,"height":44},"ts":2}
	]`)

	events, err := decodeEvents(v)
	if err != nil {
		t.Fatalf("decodeEvents: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Type != "down" || events[0].X != 120 || events[0].Rect.Left != 100 || events[0].Rect.Height != 44 {
		t.Errorf("unexpected first event: %+v", events[0])
	}
	if events[1].TS != 2 {
		t.Errorf("unexpected ts %d", events[1].TS)
	}
}

func TestDecodeEventsNil(t *testing.T) {
	events, err := decodeEvents(gson.JSON{})
	if err != nil || events != nil {
		t.Errorf("expected nil events for nil value, got %v, %v", events, err)
	}
}

func TestDecodeEventsWrongShape(t *testing.T) {
	if _, err := decodeEvents(gson.NewFrom(`{"type":"down"}`)); err == nil {
		t.Error("expected error for non-array value")
	}
}

func TestDispatchPlainClickOpens(t *testing.T) {
	ctx := context.Background()
	btn, _, opener := newTestButton(t)

	seq := []WidgetEvent{
		{Type: "down", X: 110, Y: 20, Rect: widget.Rect{Left: 100, Top: 10, Width: 200, Height: 44}},
		{Type: "up", X: 110, Y: 20},
		{Type: "click", X: 110, Y: 20},
	}
	var opened bool
	for _, ev := range seq {
		o, err := Dispatch(ctx, btn, ev)
		if err != nil {
			t.Fatalf("Dispatch %s: %v", ev.Type, err)
		}
		opened = opened || o
	}
	if !opened || opener.count() != 1 {
		t.Errorf("expected one opened tab, opened=%v count=%d", opened, opener.count())
	}
}

func TestDispatchDragSuppressesClick(t *testing.T) {
	ctx := context.Background()
	btn, renderer, opener := newTestButton(t)

	seq := []WidgetEvent{
		{Type: "down", X: 110, Y: 20, Rect: widget.Rect{Left: 100, Top: 10, Width: 200, Height: 44}},
		{Type: "move", X: 310, Y: 220},
		{Type: "up", X: 310, Y: 220},
		{Type: "click", X: 310, Y: 220},
	}
	for _, ev := range seq {
		if _, err := Dispatch(ctx, btn, ev); err != nil {
			t.Fatalf("Dispatch %s: %v", ev.Type, err)
		}
	}
	if opener.count() != 0 {
		t.Errorf("drag should not open the solution")
	}

	snap := btn.Snapshot()
	if snap.Position.X != 300 || snap.Position.Y != 210 {
		t.Errorf("unexpected position %+v", snap.Position)
	}

	renderer.mu.Lock()
	defer renderer.mu.Unlock()
	found := false
	for _, p := range renderer.patches {
		if p["left"] == "300px" && p["top"] == "210px" && p["right"] == "auto" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a positioning patch, got %+v", renderer.patches)
	}
}

func TestDispatchUnknownType(t *testing.T) {
	btn, renderer, _ := newTestButton(t)
	opened, err := Dispatch(context.Background(), btn, WidgetEvent{Type: "wheel"})
	if opened || err != nil {
		t.Errorf("unknown event should be ignored, got %v, %v", opened, err)
	}
	if len(renderer.patches) != 0 {
		t.Errorf("unknown event should not render")
	}
}

func TestRelayFlush(t *testing.T) {
	btn, _, opener := newTestButton(t)
	drainer := &queueDrainer{batches: [][]WidgetEvent{
		{{Type: "enter"}, {Type: "click"}},
	}}

	var clicks []bool
	relay := NewRelay(zaptest.NewLogger(t), drainer, staticButtons{btn}, time.Millisecond, func(slug string, opened bool) {
		if slug != "two-sum" {
			t.Errorf("unexpected slug %q", slug)
		}
		clicks = append(clicks, opened)
	})

	relay.Flush(context.Background())

	if opener.count() != 1 {
		t.Errorf("expected click to open the solution")
	}
	if len(clicks) != 1 || !clicks[0] {
		t.Errorf("expected one reported click, got %v", clicks)
	}
	if !btn.Snapshot().Hovered {
		t.Error("enter should mark the button hovered")
	}
}

func TestRelayFlushWithoutButtonDiscards(t *testing.T) {
	drainer := &queueDrainer{batches: [][]WidgetEvent{{{Type: "click"}}}}
	relay := NewRelay(zaptest.NewLogger(t), drainer, staticButtons{}, time.Millisecond, nil)

	relay.Flush(context.Background())

	if len(drainer.batches) != 0 {
		t.Error("events should be drained even without a button")
	}
}

func TestRelayFlushDrainError(t *testing.T) {
	btn, _, opener := newTestButton(t)
	drainer := &queueDrainer{err: errors.New("execution context was destroyed")}
	relay := NewRelay(zaptest.NewLogger(t), drainer, staticButtons{btn}, time.Millisecond, nil)

	relay.Flush(context.Background())

	if opener.count() != 0 {
		t.Error("nothing should be dispatched on drain error")
	}
}

func TestRelayRunPollsUntilCancelled(t *testing.T) {
	btn, _, opener := newTestButton(t)
	drainer := &queueDrainer{batches: [][]WidgetEvent{{{Type: "click"}}}}
	relay := NewRelay(zaptest.NewLogger(t), drainer, staticButtons{btn}, 5*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- relay.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for opener.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
	if opener.count() != 1 {
		t.Errorf("expected the polled click to open once, got %d", opener.count())
	}
}

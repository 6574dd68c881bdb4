package browser

import (
	"context"
	"errors"
	"time"

	"neetlink/internal/widget"

	"go.uber.org/zap"
)

// Drainer empties a page's widget event buffer.
type Drainer interface {
	Drain(ctx context.Context) ([]WidgetEvent, error)
}

// ButtonSource yields the currently mounted button, or nil.
type ButtonSource interface {
	Button() *widget.Button
}

// ClickFunc observes clicks that reached the button.
type ClickFunc func(slug string, opened bool)

// Relay polls a page for widget events and feeds them to the Go button.
type Relay struct {
	logger   *zap.Logger
	drainer  Drainer
	buttons  ButtonSource
	interval time.Duration
	onClick  ClickFunc
}

// NewRelay creates a relay polling every interval.
func NewRelay(logger *zap.Logger, drainer Drainer, buttons ButtonSource, interval time.Duration, onClick ClickFunc) *Relay {
	if interval <= 0 {
		interval = 50 * time.Millisecond
	}
	return &Relay{
		logger:   logger.Named("relay"),
		drainer:  drainer,
		buttons:  buttons,
		interval: interval,
		onClick:  onClick,
	}
}

// Run polls until ctx ends.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.Flush(ctx)
		}
	}
}

// Flush drains once and dispatches what it found.
func (r *Relay) Flush(ctx context.Context) {
	events, err := r.drainer.Drain(ctx)
	if err != nil {
		if ctx.Err() == nil && !errors.Is(err, context.DeadlineExceeded) {
			r.logger.Debug("Draining widget events failed", zap.Error(err))
		}
		return
	}
	if len(events) == 0 {
		return
	}

	btn := r.buttons.Button()
	if btn == nil {
		return
	}
	for _, ev := range events {
		opened, err := Dispatch(ctx, btn, ev)
		if err != nil {
			r.logger.Warn("Widget event failed", zap.String("type", ev.Type), zap.Error(err))
			continue
		}
		if ev.Type == "click" && r.onClick != nil {
			r.onClick(btn.Slug(), opened)
		}
	}
}

// Dispatch applies one captured event to btn. opened is true when a click
// opened the solution.
func Dispatch(ctx context.Context, btn *widget.Button, ev WidgetEvent) (opened bool, err error) {
	p := widget.Point{X: ev.X, Y: ev.Y}
	switch ev.Type {
	case "down":
		return false, btn.PointerDown(ctx, p, ev.Rect)
	case "move":
		return false, btn.PointerMove(ctx, p)
	case "up":
		return false, btn.PointerUp(ctx)
	case "click":
		return btn.Click(ctx)
	case "enter":
		return false, btn.Enter(ctx)
	case "leave":
		return false, btn.Leave(ctx)
	default:
		return false, nil
	}
}

// Package navigation watches tab URL changes and forwards qualifying ones to
// the page controller of that tab.
package navigation

import (
	"context"
	"errors"
	"fmt"

	"neetlink/internal/bus"
	"neetlink/internal/solution"

	"go.uber.org/zap"
)

// ErrNotProblemPage is returned by OpenFromMenu outside problem pages.
var ErrNotProblemPage = errors.New("not a problem page")

// TabUpdate reports a tab whose URL changed. An empty URL means some other
// property changed and is ignored.
type TabUpdate struct {
	TabID string `json:"tab_id"`
	URL   string `json:"url"`
}

// TabSource streams tab updates until ctx ends.
type TabSource interface {
	TabUpdates(ctx context.Context) (<-chan TabUpdate, error)
}

// ActiveTabQuerier resolves the active tab of the focused window.
type ActiveTabQuerier interface {
	ActiveTab(ctx context.Context) (tabID string, ok bool, err error)
}

// Notifier delivers a navigation event to one tab.
type Notifier interface {
	PublishNavigation(ctx context.Context, tabID string, ev bus.NavigationEvent) error
}

// TabOpener opens a URL in a new browsing context.
type TabOpener interface {
	OpenTab(ctx context.Context, url string) error
}

// Options holds the URL conventions used by the watcher.
type Options struct {
	ProblemPrefix string
	SolutionBase  string
}

// Watcher applies the two forwarding rules to every tab update.
type Watcher struct {
	logger   *zap.Logger
	source   TabSource
	active   ActiveTabQuerier
	notifier Notifier
	opener   TabOpener
	prefix   string
	base     string
}

// NewWatcher creates a Watcher. active and opener may be nil, which disables
// the active-tab rule and OpenFromMenu respectively.
func NewWatcher(logger *zap.Logger, source TabSource, active ActiveTabQuerier, notifier Notifier, opener TabOpener, opts Options) *Watcher {
	prefix := opts.ProblemPrefix
	if prefix == "" {
		prefix = solution.DefaultProblemPrefix
	}
	base := opts.SolutionBase
	if base == "" {
		base = solution.DefaultBase
	}
	return &Watcher{
		logger:   logger.Named("navigation"),
		source:   source,
		active:   active,
		notifier: notifier,
		opener:   opener,
		prefix:   prefix,
		base:     base,
	}
}

// Run consumes tab updates until the source closes or ctx ends.
func (w *Watcher) Run(ctx context.Context) error {
	updates, err := w.source.TabUpdates(ctx)
	if err != nil {
		return fmt.Errorf("subscribing to tab updates: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case upd, ok := <-updates:
			if !ok {
				w.logger.Debug("Tab update source closed")
				return nil
			}
			w.Handle(ctx, upd)
		}
	}
}

// Handle applies both rules to one update. They are independent, so a problem
// page in the active tab is notified twice.
func (w *Watcher) Handle(ctx context.Context, upd TabUpdate) {
	if upd.URL == "" {
		return
	}
	ev := bus.NewNavigationEvent(upd.URL)

	if solution.IsProblemPage(upd.URL, w.prefix) {
		w.logger.Info("Navigated to problem page", zap.String("tab", upd.TabID), zap.String("url", upd.URL))
		w.notify(ctx, upd.TabID, ev)
	}

	if w.active == nil {
		return
	}
	activeID, ok, err := w.active.ActiveTab(ctx)
	if err != nil {
		w.logger.Warn("Active tab lookup failed", zap.String("tab", upd.TabID), zap.Error(err))
		return
	}
	if ok && activeID == upd.TabID {
		w.logger.Info("Active tab URL changed", zap.String("tab", upd.TabID), zap.String("url", upd.URL))
		w.notify(ctx, upd.TabID, ev)
	}
}

func (w *Watcher) notify(ctx context.Context, tabID string, ev bus.NavigationEvent) {
	if err := w.notifier.PublishNavigation(ctx, tabID, ev); err != nil {
		w.logger.Warn("Navigation notify failed", zap.String("tab", tabID), zap.Error(err))
	}
}

// OpenFromMenu opens the solution for the problem shown at tabURL without
// checking that it exists. It returns the opened URL.
func (w *Watcher) OpenFromMenu(ctx context.Context, tabURL string) (string, error) {
	if !solution.IsProblemPage(tabURL, w.prefix) {
		return "", fmt.Errorf("%w: %s", ErrNotProblemPage, tabURL)
	}
	slug := solution.SlugFromMenuURL(tabURL)
	if slug == "" {
		return "", fmt.Errorf("%w: no slug in %s", ErrNotProblemPage, tabURL)
	}
	if w.opener == nil {
		return "", errors.New("no tab opener configured")
	}

	target := solution.TargetURL(w.base, slug)
	if err := w.opener.OpenTab(ctx, target); err != nil {
		return "", fmt.Errorf("opening %s: %w", target, err)
	}
	w.logger.Info("Opened solution from menu", zap.String("slug", slug), zap.String("url", target))
	return target, nil
}

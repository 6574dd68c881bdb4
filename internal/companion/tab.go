package companion

import (
	"context"
	"errors"
	"time"

	"neetlink/internal/browser"
	"neetlink/internal/mangle"
	"neetlink/internal/page"
	"neetlink/internal/widget"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// tabState is the controller of one host tab and the goroutines serving it.
type tabState struct {
	ctl    *page.Controller
	cancel context.CancelFunc
	done   chan struct{}
}

// Controller returns the page controller of a tab, if one is running.
func (c *Companion) Controller(tabID string) (*page.Controller, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.tabs[tabID]
	if !ok {
		return nil, false
	}
	return t.ctl, true
}

func (c *Companion) ensureTab(ctx context.Context, tabID string) {
	c.mu.Lock()
	_, exists := c.tabs[tabID]
	c.mu.Unlock()
	if exists {
		return
	}

	surface, err := c.rt.Attach(ctx, tabID)
	if err != nil {
		c.logger.Warn("Attaching to tab failed", zap.String("tab", tabID), zap.Error(err))
		return
	}

	t := c.startTab(ctx, tabID, surface)

	c.mu.Lock()
	c.tabs[tabID] = t
	c.mu.Unlock()
}

func (c *Companion) startTab(ctx context.Context, tabID string, surface TabSurface) *tabState {
	logger := c.logger.With(zap.String("tab", tabID))
	tctx, cancel := context.WithCancel(ctx)

	ctl := page.NewController(c.logger, tabID, c.bus, surface, c.OpenerFor(mangle.SourceButton), page.Options{
		SolutionBase: c.checker.Base(),
		Widget: widget.Options{
			Label:   c.cfg.Widget.Label,
			LogoURL: c.cfg.Widget.LogoURL,
			Top:     c.cfg.Widget.Top,
			Right:   c.cfg.Widget.Right,
		},
	})
	ctl.OnMount(func(ev page.MountEvent) {
		c.record(mangle.WidgetMountedFact(ev.TabID, ev.Slug, ev.At))
		c.log("widget.mounted", ev.TabID, ev)
	})
	ctl.OnNoSolution(func(ev page.NoSolutionEvent) {
		c.record(mangle.SolutionMissingFact(ev.TabID, ev.Slug, ev.At))
		c.log("page.no_solution", ev.TabID, ev)
	})

	relay := browser.NewRelay(c.logger, surface, ctl, c.cfg.Browser.PollInterval(), func(slug string, opened bool) {
		c.log("widget.click", tabID, map[string]interface{}{"slug": slug, "opened": opened})
	})

	sub, unsubscribe := c.bus.SubscribeNavigation(tabID)

	g, gctx := errgroup.WithContext(tctx)
	g.Go(func() error {
		return ctl.Run(gctx, sub)
	})
	g.Go(func() error {
		return relay.Run(gctx)
	})

	load := func() {
		if err := ctl.Load(gctx); err != nil && !errors.Is(err, page.ErrNoSlug) {
			logger.Warn("Page load handling failed", zap.Error(err))
		}
	}
	wait, err := c.rt.OnLoad(gctx, tabID, func() {
		c.log("page.loaded", tabID, nil)
		load()
	})
	if err != nil {
		logger.Warn("Watching page loads failed", zap.Error(err))
	} else {
		g.Go(func() error {
			wait()
			return nil
		})
	}

	// The document is already there when we attach.
	load()

	t := &tabState{ctl: ctl, cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(t.done)
		if err := g.Wait(); err != nil {
			logger.Warn("Tab stopped", zap.Error(err))
		}
		unsubscribe()
		ctl.Wait()
	}()

	logger.Debug("Tab attached")
	return t
}

func (c *Companion) dropTab(tabID string) {
	c.mu.Lock()
	t, ok := c.tabs[tabID]
	delete(c.tabs, tabID)
	c.mu.Unlock()
	if !ok {
		return
	}
	t.stop(c.logger)
}

func (c *Companion) dropAllTabs() {
	c.mu.Lock()
	tabs := c.tabs
	c.tabs = make(map[string]*tabState)
	c.mu.Unlock()

	for _, t := range tabs {
		t.stop(c.logger)
	}
}

func (t *tabState) stop(logger *zap.Logger) {
	t.cancel()
	select {
	case <-t.done:
	case <-time.After(10 * time.Second):
		logger.Warn("Tab goroutines did not stop in time", zap.String("tab", t.ctl.TabID()))
	}
}

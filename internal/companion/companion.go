// Package companion owns every long-lived piece of the running companion: the
// message bus and its check handler, the navigation watcher, one page
// controller per problem tab, and the diagnostics taps.
package companion

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"neetlink/internal/browser"
	"neetlink/internal/bus"
	"neetlink/internal/config"
	"neetlink/internal/mangle"
	"neetlink/internal/mcp"
	"neetlink/internal/navigation"
	"neetlink/internal/recorder"
	"neetlink/internal/solution"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Options tune construction; the zero value is fine.
type Options struct {
	// HTTPClient overrides the probe client.
	HTTPClient *http.Client
	// BusBuffer is the per-subscriber navigation buffer (default 16).
	BusBuffer int
}

// Companion is the service object. Create it with New, drive it with Run and
// release it with Close.
type Companion struct {
	logger *zap.Logger
	cfg    config.Config
	rt     Runtime

	bus        *bus.Bus
	unregister func()
	checker    *solution.Checker
	engine     *mangle.Engine
	recorder   *recorder.Recorder
	menu       *navigation.Watcher
	mcpMenu    *navigation.Watcher

	mu      sync.Mutex
	tabs    map[string]*tabState
	running bool

	closeOnce sync.Once
}

// New wires the components described by cfg on top of rt.
func New(logger *zap.Logger, cfg config.Config, rt Runtime, opts Options) (*Companion, error) {
	if rt == nil {
		return nil, errors.New("companion requires a browser runtime")
	}
	if opts.BusBuffer <= 0 {
		opts.BusBuffer = 16
	}

	c := &Companion{
		logger: logger.Named("companion"),
		cfg:    cfg,
		rt:     rt,
		tabs:   make(map[string]*tabState),
	}

	c.bus = bus.New(logger, opts.BusBuffer)

	probeOpts := solution.OptionsFromConfig(cfg.Site, cfg.Probe)
	probeOpts.Client = opts.HTTPClient
	c.checker = solution.NewChecker(logger, probeOpts)
	c.unregister = c.bus.HandleCheck(c.checker.Handle)

	if cfg.Mangle.Enable {
		engine, err := mangle.NewEngine(logger, cfg.Mangle)
		if err != nil {
			c.bus.Shutdown()
			return nil, fmt.Errorf("creating diagnostics engine: %w", err)
		}
		c.engine = engine
		c.bus.AddTap(mangle.NewBusTap(logger, engine).Observe)
	}

	if cfg.Recorder.Enable {
		rec, err := recorder.New(cfg.Recorder.Dir)
		if err != nil {
			c.bus.Shutdown()
			return nil, err
		}
		runID, err := rec.Start("")
		if err != nil {
			c.bus.Shutdown()
			return nil, fmt.Errorf("starting trace: %w", err)
		}
		c.recorder = rec
		c.bus.AddTap(rec.Observe)
		c.logger.Info("Recording bus traffic", zap.String("run_id", runID), zap.String("path", rec.Path()))
	}

	navOpts := navigation.Options{ProblemPrefix: cfg.Site.ProblemPrefix, SolutionBase: c.checker.Base()}
	c.menu = navigation.NewWatcher(logger, nil, nil, nil, c.OpenerFor(mangle.SourceMenu), navOpts)
	c.mcpMenu = navigation.NewWatcher(logger, nil, nil, nil, c.OpenerFor(mangle.SourceMCP), navOpts)

	return c, nil
}

// Bus returns the message bus.
func (c *Companion) Bus() *bus.Bus { return c.bus }

// Checker returns the existence checker.
func (c *Companion) Checker() *solution.Checker { return c.checker }

// Engine returns the diagnostics engine, or nil when disabled.
func (c *Companion) Engine() *mangle.Engine { return c.engine }

// Recorder returns the trace recorder, or nil when disabled.
func (c *Companion) Recorder() *recorder.Recorder { return c.recorder }

// OpenFromMenu opens the solution for a problem page URL, as the context
// menu entry does.
func (c *Companion) OpenFromMenu(ctx context.Context, tabURL string) (string, error) {
	return c.menu.OpenFromMenu(ctx, tabURL)
}

// MCPDeps exposes the companion to the MCP server.
func (c *Companion) MCPDeps() mcp.Deps {
	deps := mcp.Deps{
		Checker: c.checker,
		Menu:    c.mcpMenu,
		Opener:  c.OpenerFor(mangle.SourceMCP),
		Tabs:    c.rt,
	}
	if c.engine != nil {
		deps.Facts = c.engine
	}
	return deps
}

// Run follows the browser's tabs until ctx ends or the tab stream closes.
func (c *Companion) Run(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return errors.New("companion already running")
	}
	c.running = true
	c.mu.Unlock()

	defer func() {
		c.dropAllTabs()
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
	}()

	g, gctx := errgroup.WithContext(ctx)

	events, err := c.rt.Events(gctx)
	if err != nil {
		return fmt.Errorf("subscribing to tab events: %w", err)
	}

	updates := make(chan navigation.TabUpdate, 16)
	watcher := navigation.NewWatcher(c.logger, updateSource(updates), c.rt, c.bus, c.OpenerFor(mangle.SourceMenu), navigation.Options{
		ProblemPrefix: c.cfg.Site.ProblemPrefix,
		SolutionBase:  c.checker.Base(),
	})

	g.Go(func() error {
		return watcher.Run(gctx)
	})
	g.Go(func() error {
		defer close(updates)
		return c.dispatch(gctx, events, updates)
	})

	c.logger.Info("Companion running")
	err = g.Wait()
	c.logger.Info("Companion stopped")
	return err
}

func (c *Companion) dispatch(ctx context.Context, events <-chan browser.TabEvent, updates chan<- navigation.TabUpdate) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			switch ev.Kind {
			case browser.TabOpened:
				c.log("tab.opened", ev.TabID, map[string]string{"url": ev.URL})
				if c.onHost(ev.URL) {
					c.ensureTab(ctx, ev.TabID)
				}
			case browser.TabNavigated:
				if c.onHost(ev.URL) {
					c.ensureTab(ctx, ev.TabID)
				} else {
					c.dropTab(ev.TabID)
				}
				select {
				case updates <- navigation.TabUpdate{TabID: ev.TabID, URL: ev.URL}:
				case <-ctx.Done():
					return nil
				}
			case browser.TabClosed:
				c.log("tab.closed", ev.TabID, nil)
				c.dropTab(ev.TabID)
			}
		}
	}
}

// onHost reports whether a page controller belongs in a document at url.
func (c *Companion) onHost(url string) bool {
	origin := c.cfg.Site.HostOrigin
	if origin == "" {
		return solution.IsProblemPage(url, c.cfg.Site.ProblemPrefix)
	}
	return strings.HasPrefix(url, origin)
}

// Close releases the bus, the check handler and the trace file. Call it after
// Run has returned.
func (c *Companion) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.dropAllTabs()
		c.unregister()
		c.bus.Shutdown()
		if c.recorder != nil {
			err = c.recorder.Close()
		}
	})
	return err
}

// OpenerFor returns a tab opener that records which surface opened a solution.
func (c *Companion) OpenerFor(source string) navigation.TabOpener {
	return trackedOpener{c: c, source: source}
}

type trackedOpener struct {
	c      *Companion
	source string
}

func (o trackedOpener) OpenTab(ctx context.Context, url string) error {
	if err := o.c.rt.OpenTab(ctx, url); err != nil {
		return err
	}
	slug := strings.TrimPrefix(url, o.c.checker.Base())
	o.c.record(mangle.SolutionOpenedFact(slug, o.source, time.Now().UTC()))
	o.c.log("solution.opened", "", map[string]string{"slug": slug, "url": url, "source": o.source})
	return nil
}

func (c *Companion) record(facts ...mangle.Fact) {
	if c.engine == nil {
		return
	}
	if err := c.engine.AddFacts(context.Background(), facts); err != nil {
		c.logger.Warn("Recording facts failed", zap.Error(err))
	}
}

func (c *Companion) log(eventType, tabID string, data interface{}) {
	if c.recorder == nil {
		return
	}
	c.recorder.Log(eventType, tabID, data)
}

type updateSource <-chan navigation.TabUpdate

func (s updateSource) TabUpdates(ctx context.Context) (<-chan navigation.TabUpdate, error) {
	return s, nil
}

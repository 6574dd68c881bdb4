// Package page runs the per-tab controller that decides whether a solution
// button belongs on the current problem page.
package page

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"neetlink/internal/bus"
	"neetlink/internal/solution"
	"neetlink/internal/widget"

	"go.uber.org/zap"
)

// ErrNoSlug is returned by Init when the current URL names no problem. The
// controller stays Unchecked; it is not a failure.
var ErrNoSlug = errors.New("no problem slug in page url")

// State is the controller lifecycle.
type State int

const (
	// Unchecked covers a fresh document or a navigation whose check has not
	// been answered yet.
	Unchecked State = iota
	// Resolved means a button is mounted or the no-solution event fired.
	Resolved
)

func (s State) String() string {
	switch s {
	case Unchecked:
		return "unchecked"
	case Resolved:
		return "resolved"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Checker sends existence checks. *bus.Bus implements it.
type Checker interface {
	RequestCheck(ctx context.Context, req bus.CheckRequest) <-chan bus.CheckResponse
}

// Surface is the page document as seen by the controller.
type Surface interface {
	widget.Renderer
	// Location returns the full URL of the document.
	Location(ctx context.Context) (string, error)
	Mount(ctx context.Context, spec widget.Spec) error
	Unmount(ctx context.Context) error
	// DispatchNoSolution fires the in-page NO_NEETCODE_SOLUTION event.
	DispatchNoSolution(ctx context.Context, slug string) error
}

// NoSolutionEvent is emitted when a check comes back negative.
type NoSolutionEvent struct {
	TabID string    `json:"tab_id"`
	Slug  string    `json:"slug"`
	Error string    `json:"error,omitempty"`
	At    time.Time `json:"at"`
}

// MountEvent is emitted after a button is mounted.
type MountEvent struct {
	TabID string    `json:"tab_id"`
	Slug  string    `json:"slug"`
	URL   string    `json:"url"`
	At    time.Time `json:"at"`
}

// Options configure button construction.
type Options struct {
	SolutionBase string
	Widget       widget.Options
}

// Controller owns the button handle of one tab. All state changes happen
// under mu, so racing replies cannot mount twice; DOM calls run outside it.
type Controller struct {
	logger  *zap.Logger
	tabID   string
	checker Checker
	surface Surface
	opener  widget.Opener
	opts    Options

	mu       sync.Mutex
	state    State
	slug     string
	button   *widget.Button
	epoch    uint64
	onNoSol  []func(NoSolutionEvent)
	onMount  []func(MountEvent)
	inflight sync.WaitGroup
}

// NewController creates the controller for tabID.
func NewController(logger *zap.Logger, tabID string, checker Checker, surface Surface, opener widget.Opener, opts Options) *Controller {
	if opts.SolutionBase == "" {
		opts.SolutionBase = solution.DefaultBase
	}
	return &Controller{
		logger:  logger.Named("page").With(zap.String("tab", tabID)),
		tabID:   tabID,
		checker: checker,
		surface: surface,
		opener:  opener,
		opts:    opts,
		state:   Unchecked,
	}
}

// TabID returns the tab the controller serves.
func (c *Controller) TabID() string { return c.tabID }

// OnNoSolution registers a listener for negative checks.
func (c *Controller) OnNoSolution(fn func(NoSolutionEvent)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onNoSol = append(c.onNoSol, fn)
}

// OnMount registers a listener for mounted buttons.
func (c *Controller) OnMount(fn func(MountEvent)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onMount = append(c.onMount, fn)
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Slug returns the slug of the last initialization.
func (c *Controller) Slug() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.slug
}

// Button returns the mounted button, or nil.
func (c *Controller) Button() *widget.Button {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.button
}

// Load handles a new document in the tab. The old document and its button are
// gone, and replies to checks it sent are dropped.
func (c *Controller) Load(ctx context.Context) error {
	c.mu.Lock()
	c.epoch++
	c.button = nil
	c.state = Unchecked
	c.mu.Unlock()
	return c.Init(ctx)
}

// Navigate handles a URL_CHANGED notification. It can arrive several times per
// navigation and is safe to repeat.
func (c *Controller) Navigate(ctx context.Context, ev bus.NavigationEvent) error {
	c.logger.Debug("Navigation received", zap.String("url", ev.URL))
	return c.Init(ctx)
}

// Init reads the slug from the current location and requests a check. The
// reply is applied asynchronously; Wait blocks until it has been.
func (c *Controller) Init(ctx context.Context) error {
	loc, err := c.surface.Location(ctx)
	if err != nil {
		return fmt.Errorf("reading page location: %w", err)
	}
	slug := solution.SlugFromURL(loc)

	c.mu.Lock()
	var stale *widget.Button
	if c.button != nil {
		if c.button.Slug() == slug {
			c.mu.Unlock()
			c.logger.Debug("Button already mounted", zap.String("slug", slug))
			return nil
		}
		stale = c.button
		c.button = nil
	}
	c.state = Unchecked
	c.slug = slug
	epoch := c.epoch
	c.mu.Unlock()

	// Client-side route change to another problem.
	if stale != nil {
		if err := c.surface.Unmount(ctx); err != nil {
			c.logger.Warn("Unmounting stale button failed", zap.String("slug", stale.Slug()), zap.Error(err))
		}
	}

	if slug == "" {
		return ErrNoSlug
	}

	reply := c.checker.RequestCheck(ctx, bus.NewCheckRequest(slug))
	c.inflight.Add(1)
	go func() {
		defer c.inflight.Done()
		resp, ok := <-reply
		if !ok {
			resp = bus.CheckResponse{Exists: false, Error: "reply channel closed"}
		}
		c.resolve(ctx, epoch, slug, resp)
	}()
	return nil
}

// Wait blocks until every outstanding reply has been applied.
func (c *Controller) Wait() {
	c.inflight.Wait()
}

// Run applies navigation envelopes until events closes or ctx ends.
func (c *Controller) Run(ctx context.Context, events <-chan bus.Envelope) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case env, ok := <-events:
			if !ok {
				return nil
			}
			ev, isNav := env.Payload.(bus.NavigationEvent)
			if !isNav {
				c.logger.Warn("Ignoring unexpected payload", zap.String("type", string(env.Type)))
				continue
			}
			if err := c.Navigate(ctx, ev); err != nil && !errors.Is(err, ErrNoSlug) {
				c.logger.Warn("Navigation handling failed", zap.String("url", ev.URL), zap.Error(err))
			}
		}
	}
}

func (c *Controller) resolve(ctx context.Context, epoch uint64, slug string, resp bus.CheckResponse) {
	c.mu.Lock()
	if epoch != c.epoch {
		c.mu.Unlock()
		c.logger.Debug("Dropping reply for replaced document", zap.String("slug", slug))
		return
	}
	if slug != c.slug {
		c.mu.Unlock()
		c.logger.Debug("Dropping reply for previous route", zap.String("slug", slug), zap.String("current", c.slug))
		return
	}

	if resp.Exists {
		if c.button != nil {
			c.state = Resolved
			c.mu.Unlock()
			c.logger.Debug("Late reply ignored, button present", zap.String("slug", slug))
			return
		}
		target := solution.TargetURL(c.opts.SolutionBase, slug)
		btn := widget.NewButton(c.logger, slug, target, c.surface, c.opener, c.opts.Widget)
		// The handle is taken before the DOM call; later replies see it.
		c.button = btn
		c.state = Resolved
		listeners := append([]func(MountEvent){}, c.onMount...)
		c.mu.Unlock()

		if err := c.surface.Mount(ctx, btn.Spec()); err != nil {
			c.mu.Lock()
			if c.button == btn {
				c.button = nil
				c.state = Unchecked
			}
			c.mu.Unlock()
			c.logger.Error("Mounting button failed", zap.String("slug", slug), zap.Error(err))
			return
		}

		c.mu.Lock()
		orphaned := c.button == nil
		current := c.button == btn
		c.mu.Unlock()
		if orphaned {
			// The route changed away while the element was being inserted.
			if err := c.surface.Unmount(ctx); err != nil {
				c.logger.Warn("Unmounting superseded button failed", zap.String("slug", slug), zap.Error(err))
			}
			return
		}
		if !current {
			return
		}

		c.logger.Info("Solution button mounted", zap.String("slug", slug))
		ev := MountEvent{TabID: c.tabID, Slug: slug, URL: target, At: time.Now().UTC()}
		for _, fn := range listeners {
			fn(ev)
		}
		return
	}

	c.state = Resolved
	listeners := append([]func(NoSolutionEvent){}, c.onNoSol...)
	c.mu.Unlock()

	if err := c.surface.DispatchNoSolution(ctx, slug); err != nil {
		c.logger.Warn("Dispatching no-solution event failed", zap.String("slug", slug), zap.Error(err))
	}
	if resp.Error != "" {
		c.logger.Warn("Solution check failed", zap.String("slug", slug), zap.String("error", resp.Error))
	}
	c.logger.Info("No solution found for problem", zap.String("slug", slug))
	ev := NoSolutionEvent{TabID: c.tabID, Slug: slug, Error: resp.Error, At: time.Now().UTC()}
	for _, fn := range listeners {
		fn(ev)
	}
}

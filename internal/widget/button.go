// Package widget models the draggable solution button. The button state lives
// here; the page only renders style patches and reports pointer events.
package widget

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"go.uber.org/zap"
)

// ElementID is the DOM id of the mounted button and the idempotency marker for
// the page.
const ElementID = "neetcode-button"

// DefaultLabel is the visible button text.
const DefaultLabel = "View NeetCode Solution"

// DefaultIcon is shown in place of the logo when no logo URL is configured.
const DefaultIcon = "🚀"

const (
	cursorGrab     = "grab"
	cursorGrabbing = "grabbing"

	shadowRest  = "0 4px 6px rgba(0, 0, 0, 0.1)"
	shadowHover = "0 6px 8px rgba(0, 0, 0, 0.15)"
)

// Patch maps CSS property names to values.
type Patch map[string]string

// Point is a viewport coordinate in CSS pixels.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Rect is an element bounding box in CSS pixels.
type Rect struct {
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Renderer applies a style patch to the mounted element.
type Renderer interface {
	Apply(ctx context.Context, patch Patch) error
}

// Opener opens a URL in a new browsing context.
type Opener interface {
	OpenTab(ctx context.Context, url string) error
}

// Options customise the rendered button.
type Options struct {
	Label   string
	LogoURL string
	Top     int
	Right   int
}

// Spec describes the element to insert when the button is mounted.
type Spec struct {
	ID        string `json:"id"`
	Label     string `json:"label"`
	Icon      string `json:"icon,omitempty"`
	LogoURL   string `json:"logo_url,omitempty"`
	Style     Patch  `json:"style"`
	LogoStyle Patch  `json:"logo_style,omitempty"`
}

// Snapshot is a copy of the interaction state.
type Snapshot struct {
	Dragging bool
	Moved    bool
	Hovered  bool
	Anchored bool
	Cursor   string
	Offset   Point
	Position Point
}

// Button is the interaction state machine of one mounted button.
type Button struct {
	logger   *zap.Logger
	slug     string
	url      string
	renderer Renderer
	opener   Opener
	opts     Options

	mu       sync.Mutex
	dragging bool
	moved    bool
	hovered  bool
	anchored bool
	cursor   string
	offset   Point
	position Point
}

// NewButton creates a button that opens url when clicked.
func NewButton(logger *zap.Logger, slug, url string, renderer Renderer, opener Opener, opts Options) *Button {
	if opts.Label == "" {
		opts.Label = DefaultLabel
	}
	return &Button{
		logger:   logger.Named("widget").With(zap.String("slug", slug)),
		slug:     slug,
		url:      url,
		renderer: renderer,
		opener:   opener,
		opts:     opts,
		anchored: true,
		cursor:   cursorGrab,
	}
}

// Slug returns the problem the button belongs to.
func (b *Button) Slug() string { return b.slug }

// URL returns the solution URL the button opens.
func (b *Button) URL() string { return b.url }

// Spec returns the element description, including the resting style.
func (b *Button) Spec() Spec {
	spec := Spec{
		ID:    ElementID,
		Label: b.opts.Label,
		Style: Patch{
			"position":      "fixed",
			"top":           px(float64(b.opts.Top)),
			"right":         px(float64(b.opts.Right)),
			"z-index":       "1000",
			"padding":       "10px 15px",
			"font-size":     "16px",
			"font-weight":   "bold",
			"display":       "flex",
			"align-items":   "center",
			"gap":           "8px",
			"background":    "#2c2c2c",
			"color":         "white",
			"border":        "none",
			"border-radius": "5px",
			"box-shadow":    shadowRest,
			"cursor":        cursorGrab,
			"transition":    "transform 0.2s, box-shadow 0.2s",
		},
	}
	if b.opts.LogoURL != "" {
		spec.LogoURL = b.opts.LogoURL
		spec.LogoStyle = Patch{
			"height":        "24px",
			"width":         "24px",
			"object-fit":    "contain",
			"border-radius": "50%",
		}
	} else {
		spec.Icon = DefaultIcon
	}
	return spec
}

// Snapshot returns the current interaction state.
func (b *Button) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{
		Dragging: b.dragging,
		Moved:    b.moved,
		Hovered:  b.hovered,
		Anchored: b.anchored,
		Cursor:   b.cursor,
		Offset:   b.offset,
		Position: b.position,
	}
}

// PointerDown starts a drag gesture at p over an element occupying rect.
func (b *Button) PointerDown(ctx context.Context, p Point, rect Rect) error {
	b.mu.Lock()
	b.dragging = true
	b.moved = false
	b.offset = Point{X: p.X - rect.Left, Y: p.Y - rect.Top}
	b.cursor = cursorGrabbing
	b.mu.Unlock()

	return b.render(ctx, Patch{"cursor": cursorGrabbing})
}

// PointerMove repositions the button while a drag is in progress. Moves outside
// a drag are ignored.
func (b *Button) PointerMove(ctx context.Context, p Point) error {
	b.mu.Lock()
	if !b.dragging {
		b.mu.Unlock()
		return nil
	}
	b.position = Point{X: p.X - b.offset.X, Y: p.Y - b.offset.Y}
	b.anchored = false
	b.moved = true
	pos := b.position
	b.mu.Unlock()

	return b.render(ctx, Patch{
		"top":   px(pos.Y),
		"left":  px(pos.X),
		"right": "auto",
	})
}

// PointerUp ends any drag. It is safe to call without a preceding PointerDown.
func (b *Button) PointerUp(ctx context.Context) error {
	b.mu.Lock()
	b.dragging = false
	b.cursor = cursorGrab
	b.mu.Unlock()

	return b.render(ctx, Patch{"cursor": cursorGrab})
}

// Click opens the solution unless it ends a drag. A gesture that moved the
// button swallows exactly one click. It reports whether a tab was opened.
func (b *Button) Click(ctx context.Context) (bool, error) {
	b.mu.Lock()
	suppressed := b.cursor == cursorGrabbing || b.moved
	b.moved = false
	b.mu.Unlock()

	if suppressed {
		b.logger.Debug("Click suppressed after drag")
		return false, nil
	}
	if err := b.opener.OpenTab(ctx, b.url); err != nil {
		return false, fmt.Errorf("opening solution: %w", err)
	}
	b.logger.Info("Opened solution", zap.String("url", b.url))
	return true, nil
}

// Enter applies the hover emphasis.
func (b *Button) Enter(ctx context.Context) error {
	b.mu.Lock()
	b.hovered = true
	b.mu.Unlock()
	return b.render(ctx, Patch{"transform": "scale(1.05)", "box-shadow": shadowHover})
}

// Leave reverts the hover emphasis.
func (b *Button) Leave(ctx context.Context) error {
	b.mu.Lock()
	b.hovered = false
	b.mu.Unlock()
	return b.render(ctx, Patch{"transform": "scale(1)", "box-shadow": shadowRest})
}

func (b *Button) render(ctx context.Context, patch Patch) error {
	if b.renderer == nil {
		return nil
	}
	if err := b.renderer.Apply(ctx, patch); err != nil {
		return fmt.Errorf("applying style: %w", err)
	}
	return nil
}

func px(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64) + "px"
}

package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"neetlink/internal/widget"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/ysmood/gson"
	"go.uber.org/zap"
)

const noSolutionEvent = "NO_NEETCODE_SOLUTION"

const locationJS = `() => window.location.href`

// mountJS replaces any existing element with a fresh button and routes its
// pointer events into window.__neetlinkEvents. Document-level listeners are
// installed once per document.
const mountJS = `(spec) => {
	const old = document.getElementById(spec.id);
	if (old) old.remove();

	const queue = (window.__neetlinkEvents = window.__neetlinkEvents || []);
	const push = (type, e) => {
		const el = document.getElementById(spec.id);
		const r = el ? el.getBoundingClientRect() : { left: 0, top: 0, width: 0, height: 0 };
		const ev = {
			type,
			x: e.clientX,
			y: e.clientY,
			rect: { left: r.left, top: r.top, width: r.width, height: r.height },
			ts: Date.now(),
		};
		const last = queue[queue.length - 1];
		if (type === "move" && last && last.type === "move") {
			queue[queue.length - 1] = ev;
		} else {
			queue.push(ev);
		}
	};

	const btn = document.createElement("button");
	btn.id = spec.id;
	if (spec.logo_url) {
		const img = document.createElement("img");
		img.src = spec.logo_url;
		img.alt = "";
		for (const [k, v] of Object.entries(spec.logo_style || {})) img.style.setProperty(k, v);
		btn.appendChild(img);
	} else if (spec.icon) {
		const icon = document.createElement("span");
		icon.textContent = spec.icon;
		btn.appendChild(icon);
	}
	const label = document.createElement("span");
	label.textContent = spec.label;
	btn.appendChild(label);
	for (const [k, v] of Object.entries(spec.style || {})) btn.style.setProperty(k, v);

	btn.addEventListener("mousedown", (e) => {
		window.__neetlinkDragging = true;
		push("down", e);
	});
	btn.addEventListener("click", (e) => {
		e.preventDefault();
		push("click", e);
	});
	btn.addEventListener("mouseenter", (e) => push("enter", e));
	btn.addEventListener("mouseleave", (e) => push("leave", e));

	if (!window.__neetlinkDocListeners) {
		window.__neetlinkDocListeners = true;
		document.addEventListener("mousemove", (e) => {
			if (window.__neetlinkDragging) push("move", e);
		});
		document.addEventListener("mouseup", (e) => {
			if (!window.__neetlinkDragging) return;
			window.__neetlinkDragging = false;
			push("up", e);
		});
	}

	document.body.appendChild(btn);
	return true;
}`

const unmountJS = `(id) => {
	const el = document.getElementById(id);
	if (el) el.remove();
	window.__neetlinkDragging = false;
	window.__neetlinkEvents = [];
	return !!el;
}`

const applyJS = `(id, patch) => {
	const el = document.getElementById(id);
	if (!el) return false;
	for (const [k, v] of Object.entries(patch)) el.style.setProperty(k, v);
	return true;
}`

const dispatchJS = `(name, slug) => {
	if (!window.__neetlinkNoSolutionListener) {
		window.__neetlinkNoSolutionListener = true;
		document.addEventListener(name, (e) => {
			console.log("No NeetCode solution found for problem: " + e.detail);
		});
	}
	document.dispatchEvent(new CustomEvent(name, { detail: slug }));
	return true;
}`

const drainJS = `() => {
	const q = window.__neetlinkEvents || [];
	window.__neetlinkEvents = [];
	return q;
}`

// Surface drives the widget element of one tab through CDP evaluations.
// It implements page.Surface.
type Surface struct {
	logger  *zap.Logger
	page    *rod.Page
	timeout time.Duration
}

// NewSurface wraps an attached page. Each evaluation is bounded by timeout.
func NewSurface(logger *zap.Logger, page *rod.Page, timeout time.Duration) *Surface {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Surface{
		logger:  logger.Named("surface"),
		page:    page,
		timeout: timeout,
	}
}

func (s *Surface) eval(ctx context.Context, js string, args ...interface{}) (*proto.RuntimeRemoteObject, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.page.Context(ctx).Evaluate(rod.Eval(js, args...))
}

// Location returns the document URL.
func (s *Surface) Location(ctx context.Context) (string, error) {
	res, err := s.eval(ctx, locationJS)
	if err != nil {
		return "", err
	}
	return res.Value.Str(), nil
}

// Mount inserts the button element described by spec.
func (s *Surface) Mount(ctx context.Context, spec widget.Spec) error {
	if _, err := s.eval(ctx, mountJS, spec); err != nil {
		return fmt.Errorf("mount %s: %w", spec.ID, err)
	}
	return nil
}

// Unmount removes the button element if present.
func (s *Surface) Unmount(ctx context.Context) error {
	if _, err := s.eval(ctx, unmountJS, widget.ElementID); err != nil {
		return fmt.Errorf("unmount: %w", err)
	}
	return nil
}

// Apply sets inline styles on the mounted element.
func (s *Surface) Apply(ctx context.Context, patch widget.Patch) error {
	res, err := s.eval(ctx, applyJS, widget.ElementID, patch)
	if err != nil {
		return err
	}
	if !res.Value.Bool() {
		s.logger.Debug("Style patch skipped, element missing")
	}
	return nil
}

// DispatchNoSolution fires the in-page no-solution event with slug as detail.
func (s *Surface) DispatchNoSolution(ctx context.Context, slug string) error {
	if _, err := s.eval(ctx, dispatchJS, noSolutionEvent, slug); err != nil {
		return fmt.Errorf("dispatch %s: %w", noSolutionEvent, err)
	}
	return nil
}

// Drain empties the in-page event buffer.
func (s *Surface) Drain(ctx context.Context) ([]WidgetEvent, error) {
	res, err := s.eval(ctx, drainJS)
	if err != nil {
		return nil, err
	}
	return decodeEvents(res.Value)
}

// WidgetEvent is one pointer or hover event captured in the page.
type WidgetEvent struct {
	Type string      `json:"type"`
	X    float64     `json:"x"`
	Y    float64     `json:"y"`
	Rect widget.Rect `json:"rect"`
	TS   int64       `json:"ts"`
}

func decodeEvents(v gson.JSON) ([]WidgetEvent, error) {
	if v.Nil() {
		return nil, nil
	}
	raw, err := v.MarshalJSON()
	if err != nil {
		return nil, err
	}
	var events []WidgetEvent
	if err := json.Unmarshal(raw, &events); err != nil {
		return nil, fmt.Errorf("decode widget events: %w", err)
	}
	return events, nil
}

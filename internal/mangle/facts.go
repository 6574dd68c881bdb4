package mangle

import (
	"context"
	"sync"
	"time"

	"neetlink/internal/bus"

	"go.uber.org/zap"
)

// Extensional predicates of the embedded schema.
const (
	PredSolutionCheck   = "solution_check"
	PredSolutionMissing = "solution_missing"
	PredNavigationEvent = "navigation_event"
	PredWidgetMounted   = "widget_mounted"
	PredSolutionOpened  = "solution_opened"
)

// Outcomes recorded by solution_check.
const (
	OutcomeExists  = "exists"
	OutcomeMissing = "missing"
	OutcomeError   = "error"
)

// Sources recorded by solution_opened.
const (
	SourceButton = "button"
	SourceMenu   = "menu"
	SourceMCP    = "mcp"
)

// CheckOutcome classifies a check reply.
func CheckOutcome(resp bus.CheckResponse) string {
	switch {
	case resp.Error != "":
		return OutcomeError
	case resp.Exists:
		return OutcomeExists
	default:
		return OutcomeMissing
	}
}

func newFact(predicate string, at time.Time, args ...interface{}) Fact {
	if at.IsZero() {
		at = time.Now().UTC()
	}
	return Fact{Predicate: predicate, Args: args, Timestamp: at}
}

// SolutionCheckFact records the outcome of one existence check.
func SolutionCheckFact(slug, outcome string, at time.Time) Fact {
	return newFact(PredSolutionCheck, at, slug, outcome)
}

// SolutionMissingFact records a no-solution notification in a tab.
func SolutionMissingFact(tabID, slug string, at time.Time) Fact {
	return newFact(PredSolutionMissing, at, tabID, slug)
}

// NavigationFact records a URL_CHANGED delivery.
func NavigationFact(tabID, url string, at time.Time) Fact {
	return newFact(PredNavigationEvent, at, tabID, url)
}

// WidgetMountedFact records a mounted button.
func WidgetMountedFact(tabID, slug string, at time.Time) Fact {
	return newFact(PredWidgetMounted, at, tabID, slug)
}

// SolutionOpenedFact records an opened solution tab.
func SolutionOpenedFact(slug, source string, at time.Time) Fact {
	return newFact(PredSolutionOpened, at, slug, source)
}

// BusTap turns bus traffic into facts. Check replies carry no slug, so the
// slug of each request is held until its reply is seen.
type BusTap struct {
	engine *Engine
	logger *zap.Logger

	mu      sync.Mutex
	pending map[string]string
}

// NewBusTap creates a tap feeding engine.
func NewBusTap(logger *zap.Logger, engine *Engine) *BusTap {
	return &BusTap{
		engine:  engine,
		logger:  logger.Named("mangle.tap"),
		pending: make(map[string]string),
	}
}

// Observe is a bus.Tap.
func (t *BusTap) Observe(env bus.Envelope) {
	var facts []Fact
	switch payload := env.Payload.(type) {
	case bus.CheckRequest:
		t.mu.Lock()
		t.pending[env.ID] = payload.Slug
		t.mu.Unlock()
	case bus.CheckResponse:
		t.mu.Lock()
		slug, ok := t.pending[env.ID]
		delete(t.pending, env.ID)
		t.mu.Unlock()
		if !ok {
			return
		}
		facts = append(facts, SolutionCheckFact(slug, CheckOutcome(payload), env.Timestamp))
	case bus.NavigationEvent:
		facts = append(facts, NavigationFact(env.TabID, payload.URL, env.Timestamp))
	}
	if len(facts) == 0 {
		return
	}
	if err := t.engine.AddFacts(context.Background(), facts); err != nil {
		t.logger.Warn("Recording facts failed", zap.Error(err))
	}
}

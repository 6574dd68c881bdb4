// Package bus is the in-process message channel between the background side
// (existence checks, navigation watching) and per-tab page controllers.
package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrShutdown is returned (or carried in a CheckResponse) once the bus is closed.
var ErrShutdown = errors.New("bus is shut down")

// CheckHandler answers a check asynchronously. It runs on its own goroutine and
// its return value is the single reply for the request.
type CheckHandler func(ctx context.Context, req CheckRequest) CheckResponse

// Bus routes check requests to the registered handler and navigation events to
// the subscribers of a tab.
type Bus struct {
	logger *zap.Logger

	mu          sync.RWMutex
	handler     CheckHandler
	handlerGen  uint64
	subscribers map[string][]chan Envelope
	taps        []Tap
	bufferSize  int

	// handlers tracks check handler goroutines still running.
	handlers sync.WaitGroup
	// activePosts tracks PublishNavigation calls attempting delivery.
	activePosts sync.WaitGroup

	shutdownChan chan struct{}
	shutdownOnce sync.Once
	shutdownMu   sync.Mutex
	isShutdown   bool
}

// New creates a bus whose subscriber channels hold bufferSize envelopes.
func New(logger *zap.Logger, bufferSize int) *Bus {
	if bufferSize < 0 {
		bufferSize = 0
	}
	return &Bus{
		logger:       logger.Named("bus"),
		subscribers:  make(map[string][]chan Envelope),
		bufferSize:   bufferSize,
		shutdownChan: make(chan struct{}),
	}
}

// AddTap registers an observer for every envelope, including check replies.
func (b *Bus) AddTap(tap Tap) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.taps = append(b.taps, tap)
}

// HandleCheck installs the check handler, replacing any previous one. The
// returned func removes it again if it is still the installed handler.
func (b *Bus) HandleCheck(h CheckHandler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlerGen++
	gen := b.handlerGen
	b.handler = h
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if b.handlerGen == gen {
			b.handler = nil
		}
	}
}

// RequestCheck sends a check request. The returned channel receives exactly one
// response and is then closed, whatever happens to the handler.
func (b *Bus) RequestCheck(ctx context.Context, req CheckRequest) <-chan CheckResponse {
	reply := make(chan CheckResponse, 1)
	env := b.envelope(TypeCheckSolution, "", req)
	b.tap(env)

	finish := func(resp CheckResponse) {
		b.tap(Envelope{
			ID:        env.ID,
			Timestamp: time.Now().UTC(),
			Type:      TypeCheckSolution,
			Payload:   resp,
		})
		reply <- resp
		close(reply)
	}

	b.shutdownMu.Lock()
	if b.isShutdown {
		b.shutdownMu.Unlock()
		finish(CheckResponse{Exists: false, Error: ErrShutdown.Error()})
		return reply
	}
	b.handlers.Add(1)
	b.shutdownMu.Unlock()

	if req.Type != TypeCheckSolution {
		b.handlers.Done()
		finish(CheckResponse{Exists: false, Error: fmt.Sprintf("unsupported message type %q", req.Type)})
		return reply
	}

	b.mu.RLock()
	h := b.handler
	b.mu.RUnlock()
	if h == nil {
		b.handlers.Done()
		finish(CheckResponse{Exists: false, Error: "no check handler registered"})
		return reply
	}

	b.logger.Debug("Dispatching check", zap.String("id", env.ID), zap.String("slug", req.Slug))

	go func() {
		defer b.handlers.Done()
		defer func() {
			if r := recover(); r != nil {
				b.logger.Error("Check handler panicked", zap.String("slug", req.Slug), zap.Any("panic", r))
				finish(CheckResponse{Exists: false, Error: fmt.Sprintf("check handler panicked: %v", r)})
			}
		}()
		finish(h(ctx, req))
	}()

	return reply
}

// PublishNavigation delivers ev to every subscriber of tabID. It blocks while a
// subscriber buffer is full, until ctx ends or the bus shuts down.
func (b *Bus) PublishNavigation(ctx context.Context, tabID string, ev NavigationEvent) error {
	b.shutdownMu.Lock()
	if b.isShutdown {
		b.shutdownMu.Unlock()
		return ErrShutdown
	}
	b.activePosts.Add(1)
	b.shutdownMu.Unlock()
	defer b.activePosts.Done()

	env := b.envelope(TypeURLChanged, tabID, ev)
	b.tap(env)

	b.mu.RLock()
	subs := make([]chan Envelope, len(b.subscribers[tabID]))
	copy(subs, b.subscribers[tabID])
	b.mu.RUnlock()

	if len(subs) == 0 {
		b.logger.Debug("No subscriber for navigation", zap.String("tab", tabID), zap.String("url", ev.URL))
		return nil
	}

	for _, ch := range subs {
		select {
		case ch <- env:
		case <-ctx.Done():
			return ctx.Err()
		case <-b.shutdownChan:
			return ErrShutdown
		}
	}
	return nil
}

// SubscribeNavigation returns a channel of URL_CHANGED envelopes for one tab and
// a func to stop receiving. The channel is closed by Shutdown.
func (b *Bus) SubscribeNavigation(tabID string) (<-chan Envelope, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.isShutdownLocked() {
		closed := make(chan Envelope)
		close(closed)
		return closed, func() {}
	}

	ch := make(chan Envelope, b.bufferSize)
	b.subscribers[tabID] = append(b.subscribers[tabID], ch)

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			subs := b.subscribers[tabID]
			for i, c := range subs {
				if c == ch {
					b.subscribers[tabID] = append(subs[:i], subs[i+1:]...)
					break
				}
			}
			if len(b.subscribers[tabID]) == 0 {
				delete(b.subscribers, tabID)
			}
		})
	}
	return ch, unsubscribe
}

// Shutdown stops accepting messages, waits for in-flight check handlers and
// closes all subscriber channels. Safe to call more than once.
func (b *Bus) Shutdown() {
	b.shutdownOnce.Do(func() {
		b.shutdownMu.Lock()
		b.isShutdown = true
		b.shutdownMu.Unlock()

		close(b.shutdownChan)
		b.activePosts.Wait()

		b.mu.Lock()
		unique := make(map[chan Envelope]struct{})
		for _, subs := range b.subscribers {
			for _, ch := range subs {
				unique[ch] = struct{}{}
			}
		}
		for ch := range unique {
			close(ch)
		}
		b.subscribers = make(map[string][]chan Envelope)
		b.mu.Unlock()

		b.handlers.Wait()
		b.logger.Debug("Bus shut down")
	})
}

func (b *Bus) isShutdownLocked() bool {
	b.shutdownMu.Lock()
	defer b.shutdownMu.Unlock()
	return b.isShutdown
}

func (b *Bus) envelope(t MessageType, tabID string, payload interface{}) Envelope {
	return Envelope{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Type:      t,
		TabID:     tabID,
		Payload:   payload,
	}
}

func (b *Bus) tap(env Envelope) {
	b.mu.RLock()
	taps := make([]Tap, len(b.taps))
	copy(taps, b.taps)
	b.mu.RUnlock()
	for _, t := range taps {
		t(env)
	}
}

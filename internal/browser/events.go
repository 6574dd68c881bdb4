package browser

import (
	"context"
	"fmt"
	"sync"

	"neetlink/internal/navigation"

	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"
)

// TabEventKind classifies a TabEvent.
type TabEventKind int

const (
	TabOpened TabEventKind = iota
	TabNavigated
	TabClosed
)

func (k TabEventKind) String() string {
	switch k {
	case TabOpened:
		return "opened"
	case TabNavigated:
		return "navigated"
	case TabClosed:
		return "closed"
	default:
		return fmt.Sprintf("TabEventKind(%d)", int(k))
	}
}

// TabEvent is a lifecycle change of a page target.
type TabEvent struct {
	Kind  TabEventKind
	TabID string
	URL   string
}

// targetTracker turns raw target notifications into TabEvents for one
// subscriber. Navigated fires only when a page's URL differs from the last
// one this subscriber saw.
type targetTracker struct {
	mu   sync.Mutex
	seen map[string]string
}

func newTargetTracker() *targetTracker {
	return &targetTracker{seen: make(map[string]string)}
}

func (t *targetTracker) update(info *proto.TargetTargetInfo) []TabEvent {
	if !isPageTarget(info) {
		return nil
	}
	id := string(info.TargetID)

	t.mu.Lock()
	defer t.mu.Unlock()

	var out []TabEvent
	last, known := t.seen[id]
	if !known {
		out = append(out, TabEvent{Kind: TabOpened, TabID: id, URL: info.URL})
	}
	t.seen[id] = info.URL
	if info.URL != "" && (!known || last != info.URL) {
		out = append(out, TabEvent{Kind: TabNavigated, TabID: id, URL: info.URL})
	}
	return out
}

func (t *targetTracker) destroy(id string) []TabEvent {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.seen[id]; !ok {
		return nil
	}
	delete(t.seen, id)
	return []TabEvent{{Kind: TabClosed, TabID: id}}
}

// Events streams tab lifecycle changes until ctx is cancelled. Tabs that
// already exist are announced first.
func (m *SessionManager) Events(ctx context.Context) (<-chan TabEvent, error) {
	b, err := m.connected()
	if err != nil {
		return nil, err
	}

	out := make(chan TabEvent, 64)
	tracker := newTargetTracker()
	emit := func(events []TabEvent) {
		for _, ev := range events {
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}
	observe := func(info *proto.TargetTargetInfo) {
		if isPageTarget(info) {
			m.track(info)
		}
		emit(tracker.update(info))
	}

	scoped := b.Context(ctx)
	wait := scoped.EachEvent(
		func(e *proto.TargetTargetCreated) { observe(e.TargetInfo) },
		func(e *proto.TargetTargetInfoChanged) { observe(e.TargetInfo) },
		func(e *proto.TargetTargetDestroyed) {
			m.untrack(string(e.TargetID))
			emit(tracker.destroy(string(e.TargetID)))
		},
	)

	go func() {
		defer close(out)

		res, err := proto.TargetGetTargets{}.Call(scoped)
		if err != nil {
			m.logger.Warn("Listing existing targets failed", zap.Error(err))
		} else {
			for _, info := range res.TargetInfos {
				observe(info)
			}
		}

		wait()
	}()

	return out, nil
}

// TabUpdates adapts Events to navigation.TabSource.
func (m *SessionManager) TabUpdates(ctx context.Context) (<-chan navigation.TabUpdate, error) {
	events, err := m.Events(ctx)
	if err != nil {
		return nil, err
	}
	return navigationUpdates(ctx, events), nil
}

func navigationUpdates(ctx context.Context, events <-chan TabEvent) <-chan navigation.TabUpdate {
	out := make(chan navigation.TabUpdate)
	go func() {
		defer close(out)
		for {
			var ev TabEvent
			select {
			case <-ctx.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				ev = e
			}
			if ev.Kind != TabNavigated {
				continue
			}
			select {
			case out <- navigation.TabUpdate{TabID: ev.TabID, URL: ev.URL}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

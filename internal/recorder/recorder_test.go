package recorder

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"strings"
	"testing"
	"time"

	"neetlink/internal/bus"

	"go.uber.org/zap/zaptest"
)

func readEntries(t *testing.T, path string) []Entry {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	var out []Entry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e Entry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			t.Fatalf("bad trace line %q: %v", scanner.Text(), err)
		}
		out = append(out, e)
	}
	return out
}

func TestRecorderRotation(t *testing.T) {
	dir := t.TempDir()
	r, err := New(dir)
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < MaxTraceFiles+2; i++ {
		if _, err := r.Start(""); err != nil {
			t.Fatal(err)
		}
		r.Log("page.loaded", "tab", map[string]string{"slug": "two-sum"})
		time.Sleep(10 * time.Millisecond) // distinct mod times
	}
	r.Close()

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != MaxTraceFiles {
		t.Errorf("expected %d files, got %d", MaxTraceFiles, len(entries))
	}
}

func TestRecorderLogBeforeStart(t *testing.T) {
	r, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	r.Log("ignored", "", nil)
	if r.Path() != "" {
		t.Errorf("expected no trace path before Start, got %q", r.Path())
	}
	if err := r.Close(); err != nil {
		t.Errorf("Close without Start: %v", err)
	}
}

func TestRecorderObservesBus(t *testing.T) {
	r, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	runID, err := r.Start("run-1")
	if err != nil {
		t.Fatal(err)
	}
	if runID != "run-1" {
		t.Errorf("unexpected run id %q", runID)
	}

	b := bus.New(zaptest.NewLogger(t), 1)
	b.AddTap(r.Observe)
	b.HandleCheck(func(ctx context.Context, req bus.CheckRequest) bus.CheckResponse {
		return bus.CheckResponse{Exists: true}
	})

	ctx := context.Background()
	<-b.RequestCheck(ctx, bus.NewCheckRequest("two-sum"))
	if err := b.PublishNavigation(ctx, "tab-1", bus.NewNavigationEvent("https://leetcode.com/problems/two-sum/")); err != nil {
		t.Fatal(err)
	}
	b.Shutdown()
	r.Log("widget.click", "tab-1", map[string]bool{"opened": true})
	path := r.Path()
	if err := r.Close(); err != nil {
		t.Fatal(err)
	}

	if !strings.Contains(path, "trace_run-1_") {
		t.Errorf("unexpected trace path %q", path)
	}

	entries := readEntries(t, path)
	if len(entries) != 4 {
		t.Fatalf("expected 4 entries, got %d: %+v", len(entries), entries)
	}

	wantTypes := []string{"CHECK_NEETCODE", "CHECK_NEETCODE.reply", "URL_CHANGED", "widget.click"}
	for i, want := range wantTypes {
		if entries[i].Type != want {
			t.Errorf("entry %d: type %q, want %q", i, entries[i].Type, want)
		}
		if entries[i].RunID != "run-1" {
			t.Errorf("entry %d: run id %q", i, entries[i].RunID)
		}
	}
	if entries[0].MessageID == "" || entries[0].MessageID != entries[1].MessageID {
		t.Errorf("request and reply should share a message id: %q vs %q", entries[0].MessageID, entries[1].MessageID)
	}
	if entries[2].TabID != "tab-1" {
		t.Errorf("navigation entry missing tab id: %+v", entries[2])
	}
}

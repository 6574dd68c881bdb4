// Package recorder writes bus traffic and page events to rotating JSONL traces.
package recorder

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"neetlink/internal/bus"

	"github.com/google/uuid"
)

const (
	// MaxTraceFiles is how many trace files survive a new run.
	MaxTraceFiles = 3
	// DefaultDir is used when no directory is configured.
	DefaultDir = "data/traces"
)

// Entry is one line of a trace file.
type Entry struct {
	Timestamp time.Time   `json:"ts"`
	Type      string      `json:"type"`
	RunID     string      `json:"run_id"`
	TabID     string      `json:"tab_id,omitempty"`
	MessageID string      `json:"message_id,omitempty"`
	Data      interface{} `json:"data"`
}

// Recorder appends entries to the trace file of the current run.
type Recorder struct {
	dir string

	mu      sync.Mutex
	runID   string
	path    string
	file    *os.File
	encoder *json.Encoder
}

// New creates a recorder writing under dir, creating it if needed.
func New(dir string) (*Recorder, error) {
	if dir == "" {
		dir = DefaultDir
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create trace dir: %w", err)
	}
	return &Recorder{dir: dir}, nil
}

// Start opens a new trace file, pruning old ones. An empty runID gets a
// generated one. It returns the run id in use.
func (r *Recorder) Start(runID string) (string, error) {
	if runID == "" {
		runID = uuid.NewString()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file != nil {
		_ = r.file.Close()
		r.file, r.encoder = nil, nil
	}
	if err := r.prune(); err != nil {
		return "", fmt.Errorf("prune traces: %w", err)
	}

	path := filepath.Join(r.dir, fmt.Sprintf("trace_%s_%d.jsonl", runID, time.Now().UnixMilli()))
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	r.runID = runID
	r.path = path
	r.file = f
	r.encoder = json.NewEncoder(f)
	return runID, nil
}

// Path returns the current trace file, or "" before Start.
func (r *Recorder) Path() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.path
}

// Observe is a bus.Tap that writes every envelope.
func (r *Recorder) Observe(env bus.Envelope) {
	kind := string(env.Type)
	if _, ok := env.Payload.(bus.CheckResponse); ok {
		kind += ".reply"
	}
	r.write(Entry{
		Timestamp: env.Timestamp,
		Type:      kind,
		TabID:     env.TabID,
		MessageID: env.ID,
		Data:      env.Payload,
	})
}

// Log writes an event that did not travel over the bus.
func (r *Recorder) Log(eventType, tabID string, data interface{}) {
	r.write(Entry{
		Timestamp: time.Now().UTC(),
		Type:      eventType,
		TabID:     tabID,
		Data:      data,
	})
}

func (r *Recorder) write(e Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.encoder == nil {
		return
	}
	e.RunID = r.runID
	_ = r.encoder.Encode(e)
}

// prune removes the oldest traces so that, with the file about to be created,
// at most MaxTraceFiles remain.
func (r *Recorder) prune() error {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return err
	}

	type trace struct {
		name    string
		modTime time.Time
	}
	var traces []trace
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".jsonl" {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		traces = append(traces, trace{e.Name(), info.ModTime()})
	}

	sort.Slice(traces, func(i, j int) bool {
		return traces[i].modTime.After(traces[j].modTime)
	})

	for i := MaxTraceFiles - 1; i < len(traces); i++ {
		_ = os.Remove(filepath.Join(r.dir, traces[i].name))
	}
	return nil
}

// Close ends the current run.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file, r.encoder = nil, nil
	return err
}

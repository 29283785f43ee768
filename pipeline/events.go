// ABOUTME: Typed lifecycle event bus: row/step start and end, retries, artifacts.
// ABOUTME: Artifact persistence is a subscriber task, decoupled from the engine's hot path.
package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType identifies the kind of engine lifecycle event.
type EventType string

const (
	EventRowStart  EventType = "row:start"
	EventRowEnd    EventType = "row:end"
	EventStepStart EventType = "step:start"
	EventStepEnd   EventType = "step:end"
	EventArtifact  EventType = "artifact"
)

// Event is one lifecycle event emitted during batch execution.
type Event struct {
	ID        string
	Type      EventType
	RowIndex  int
	StepIndex int
	Data      map[string]any
	Timestamp time.Time
}

// Bus fans events out to subscribers on buffered channels. Publishing never
// blocks the engine: a subscriber that falls behind drops events rather than
// stalling row processing.
type Bus struct {
	mu     sync.RWMutex
	subs   []chan Event
	closed bool
}

const subscriberBuffer = 256

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers a new subscriber and returns its channel. The channel
// is closed when the bus closes.
func (b *Bus) Subscribe() <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan Event, subscriberBuffer)
	if b.closed {
		close(ch)
		return ch
	}
	b.subs = append(b.subs, ch)
	return ch
}

// Publish delivers an event to all subscribers, stamping ID and time.
func (b *Bus) Publish(evt Event) {
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- evt:
		default:
			// Slow subscriber; drop rather than stall the batch.
		}
	}
}

// Close closes all subscriber channels. Publish becomes a no-op.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, ch := range b.subs {
		close(ch)
	}
	b.subs = nil
}

// publish is a nil-safe helper so the engine can run without a bus in tests.
func (b *Bus) publish(evt Event) {
	if b == nil {
		return
	}
	b.Publish(evt)
}

// ArtifactWriter subscribes to artifact events and persists their payloads
// under a base directory. Run it in its own goroutine; it exits when the bus
// closes.
type ArtifactWriter struct {
	BaseDir string
}

// Consume drains events until the channel closes, writing each artifact's
// payload to <BaseDir>/<row>/<name>. Write failures are reported through the
// returned error after the channel drains; artifact persistence never
// interrupts the batch.
func (w *ArtifactWriter) Consume(events <-chan Event) error {
	var firstErr error
	for evt := range events {
		if evt.Type != EventArtifact {
			continue
		}
		name, _ := evt.Data["name"].(string)
		if name == "" {
			name = evt.ID
		}
		payload := artifactPayload(evt.Data["payload"])
		dir := filepath.Join(w.BaseDir, fmt.Sprintf("row-%04d", evt.RowIndex))
		if err := os.MkdirAll(dir, 0o755); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if err := os.WriteFile(filepath.Join(dir, filepath.Base(name)), payload, 0o644); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func artifactPayload(v any) []byte {
	switch t := v.(type) {
	case []byte:
		return t
	case string:
		return []byte(t)
	case nil:
		return nil
	default:
		return []byte(fmt.Sprintf("%v", t))
	}
}

// Package events fans execution and attempt events out to long-lived
// subscribers. Publishing never blocks: slow subscribers drop events and the
// drop is counted.
package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/psgate/psgate/internal/classify"
)

// Kind distinguishes completed executions from zero-duration attempts.
type Kind string

const (
	KindExecution Kind = "execution"
	KindAttempt   Kind = "attempt"
)

// Event is one published record.
type Event struct {
	ID         string         `json:"id"`
	Timestamp  time.Time      `json:"timestamp"`
	Kind       Kind           `json:"kind"`
	Level      classify.Level `json:"level"`
	DurationMs int64          `json:"durationMs"`
	Blocked    bool           `json:"blocked"`
	Truncated  bool           `json:"truncated"`
	TimedOut   bool           `json:"timedOut"`
	ExitCode   *int           `json:"exitCode,omitempty"`
	Preview    string         `json:"preview"`
	Confirmed  bool           `json:"confirmed"`
	ToolName   string         `json:"toolName"`
}

// PreviewLength caps the command preview carried on events.
const PreviewLength = 120

// Preview renders the first PreviewLength characters of a command.
func Preview(command string) string {
	if len(command) <= PreviewLength {
		return command
	}
	return command[:PreviewLength]
}

// defaultBuffer is the per-subscriber channel depth before drops begin.
const defaultBuffer = 64

// Subscription receives events until Close is called.
type Subscription struct {
	id     int64
	C      <-chan Event
	ch     chan Event
	stream *Stream
	once   sync.Once
}

// Close detaches the subscription and releases its buffer.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.stream.remove(s.id)
	})
}

// Stream is the process-wide fan-out hub.
type Stream struct {
	mu      sync.RWMutex
	subs    map[int64]*Subscription
	nextID  atomic.Int64
	dropped atomic.Int64
	// publishMu serializes publishes so every subscriber observes the same
	// global order.
	publishMu sync.Mutex
	buffer    int

	// Attempt events are published by default and can be disabled.
	publishAttempts atomic.Bool
}

// NewStream creates a stream with the default per-subscriber buffer.
func NewStream() *Stream {
	s := &Stream{subs: make(map[int64]*Subscription), buffer: defaultBuffer}
	s.publishAttempts.Store(true)
	return s
}

// SetPublishAttempts toggles zero-duration attempt events.
func (s *Stream) SetPublishAttempts(enabled bool) {
	s.publishAttempts.Store(enabled)
}

// Subscribe registers a new subscriber.
func (s *Stream) Subscribe() *Subscription {
	ch := make(chan Event, s.buffer)
	sub := &Subscription{id: s.nextID.Add(1), C: ch, ch: ch, stream: s}
	s.mu.Lock()
	s.subs[sub.id] = sub
	s.mu.Unlock()
	return sub
}

func (s *Stream) remove(id int64) {
	s.mu.Lock()
	sub, ok := s.subs[id]
	if ok {
		delete(s.subs, id)
	}
	s.mu.Unlock()
	if ok {
		close(sub.ch)
	}
}

// Publish delivers the event to every subscriber; publishes are serialized,
// so each subscriber sees events in global publish order. Full buffers drop
// the event for that subscriber only.
func (s *Stream) Publish(ev Event) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	if ev.Kind == KindAttempt && !s.publishAttempts.Load() {
		return
	}

	s.publishMu.Lock()
	defer s.publishMu.Unlock()

	s.mu.RLock()
	subs := make([]*Subscription, 0, len(s.subs))
	for _, sub := range s.subs {
		subs = append(subs, sub)
	}
	s.mu.RUnlock()

	for _, sub := range subs {
		select {
		case sub.ch <- ev:
		default:
			s.dropped.Add(1)
		}
	}
}

// Dropped reports how many deliveries were skipped for slow subscribers.
func (s *Stream) Dropped() int64 {
	return s.dropped.Load()
}

// SubscriberCount reports the number of active subscribers.
func (s *Stream) SubscriberCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}

// Package events fans recording progress out to live subscribers.
package events

import (
	"sync"
	"sync/atomic"
	"time"

	"runthru/internal/domain"
	"runthru/internal/logging"
)

// Type classifies an Event.
type Type string

const (
	// TypeStatus marks a lifecycle transition.
	TypeStatus Type = "status"
	// TypeProgress marks a progress or current-step update within a state.
	TypeProgress Type = "progress"
	// TypeStep carries a newly recorded step.
	TypeStep Type = "step"
)

// Event is one progress notification. Events are values; subscribers own
// their copy.
type Event struct {
	RecordingID string        `json:"recording_id"`
	Type        Type          `json:"type"`
	Status      domain.Status `json:"status"`
	Progress    int           `json:"progress"`
	CurrentStep string        `json:"current_step,omitempty"`
	Step        *domain.Step  `json:"step,omitempty"`
	Timestamp   time.Time     `json:"timestamp"`
}

// Terminal reports whether the event announces a terminal status.
func (e Event) Terminal() bool {
	return e.Type == TypeStatus && e.Status.Terminal()
}

// AllRecordings subscribes to every recording.
const AllRecordings = ""

const defaultBuffer = 64

// Stats is a snapshot of broadcaster counters.
type Stats struct {
	Sent              int64
	Dropped           int64
	TotalSubscribers  int64
	ActiveSubscribers int64
}

// Broadcaster delivers events to subscribers without ever blocking the
// publisher. A subscriber whose buffer is full misses the event, except
// for terminal events which displace the oldest buffered one.
type Broadcaster struct {
	mu      sync.RWMutex
	subs    map[string][]chan Event
	buffer  int
	logger  logging.Logger
	sent    atomic.Int64
	dropped atomic.Int64
	total   atomic.Int64
	active  atomic.Int64
}

// Option configures a Broadcaster.
type Option func(*Broadcaster)

// WithBuffer sets the per-subscriber channel capacity.
func WithBuffer(n int) Option {
	return func(b *Broadcaster) {
		if n > 0 {
			b.buffer = n
		}
	}
}

func WithLogger(logger logging.Logger) Option {
	return func(b *Broadcaster) { b.logger = logging.OrNop(logger) }
}

func NewBroadcaster(opts ...Option) *Broadcaster {
	b := &Broadcaster{
		subs:   make(map[string][]chan Event),
		buffer: defaultBuffer,
		logger: logging.NewComponentLogger("Broadcaster"),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers a subscriber for recordingID, or for all recordings
// when it is AllRecordings. Only events published after the call are
// delivered. cancel closes the channel and is safe to call more than once.
func (b *Broadcaster) Subscribe(recordingID string) (<-chan Event, func()) {
	ch := make(chan Event, b.buffer)

	b.mu.Lock()
	b.subs[recordingID] = append(b.subs[recordingID], ch)
	b.mu.Unlock()
	b.total.Add(1)
	b.active.Add(1)

	var once sync.Once
	return ch, func() {
		once.Do(func() { b.unsubscribe(recordingID, ch) })
	}
}

func (b *Broadcaster) unsubscribe(recordingID string, ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[recordingID]
	for i, c := range subs {
		if c != ch {
			continue
		}
		b.subs[recordingID] = append(subs[:i:i], subs[i+1:]...)
		if len(b.subs[recordingID]) == 0 {
			delete(b.subs, recordingID)
		}
		close(ch)
		b.active.Add(-1)
		return
	}
}

// Publish delivers e to the recording's subscribers and to subscribers of
// all recordings. It never blocks.
func (b *Broadcaster) Publish(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if e.RecordingID != AllRecordings {
		b.deliver(b.subs[e.RecordingID], e)
	}
	b.deliver(b.subs[AllRecordings], e)
}

func (b *Broadcaster) deliver(subs []chan Event, e Event) {
	for _, ch := range subs {
		select {
		case ch <- e:
			b.sent.Add(1)
			continue
		default:
		}
		if e.Terminal() && b.displaceOldest(ch, e) {
			continue
		}
		b.dropped.Add(1)
		b.logger.Warn("subscriber buffer full for %s, dropping %s event", e.RecordingID, e.Type)
	}
}

// displaceOldest makes room for a terminal event by discarding the oldest
// buffered event.
func (b *Broadcaster) displaceOldest(ch chan Event, e Event) bool {
	select {
	case <-ch:
		b.dropped.Add(1)
	default:
	}
	select {
	case ch <- e:
		b.sent.Add(1)
		return true
	default:
		return false
	}
}

// SubscriberCount returns the live subscribers of recordingID.
func (b *Broadcaster) SubscriberCount(recordingID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[recordingID])
}

func (b *Broadcaster) Stats() Stats {
	return Stats{
		Sent:              b.sent.Load(),
		Dropped:           b.dropped.Load(),
		TotalSubscribers:  b.total.Load(),
		ActiveSubscribers: b.active.Load(),
	}
}

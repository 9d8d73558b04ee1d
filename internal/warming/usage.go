package warming

import (
	"sync"

	"github.com/awscache/awscache/pkg/types"
)

const defaultUsageLogSize = 10000

// UsageLog is a bounded buffer of lookup events feeding warming analysis.
// Record never blocks the lookup path; when the buffer is full the oldest
// event is dropped, which biases analysis toward recent traffic.
type UsageLog struct {
	mu     sync.Mutex
	events []types.UsageEvent
	max    int
}

// NewUsageLog creates a log holding at most max events.
func NewUsageLog(max int) *UsageLog {
	if max <= 0 {
		max = defaultUsageLogSize
	}
	return &UsageLog{max: max}
}

// Record appends one lookup event, evicting the oldest when full.
func (l *UsageLog) Record(event types.UsageEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.events) >= l.max {
		copy(l.events, l.events[1:])
		l.events = l.events[:len(l.events)-1]
	}
	l.events = append(l.events, event)
}

// Drain returns the buffered events and empties the log. Each event is
// analyzed exactly once across warming cycles.
func (l *UsageLog) Drain() []types.UsageEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	events := l.events
	l.events = nil
	return events
}

// Len returns the current number of buffered events.
func (l *UsageLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.events)
}

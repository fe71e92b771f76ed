// Package progress fans import progress events out to subscribers keyed by
// session id. Publishing never blocks the import.
package progress

import (
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Phase names a stage of an import.
type Phase string

const (
	PhaseParsing    Phase = "parsing"
	PhaseValidating Phase = "validating"
	PhaseWriting    Phase = "writing"
	PhaseEvaluating Phase = "evaluating"
	PhaseComplete   Phase = "complete"
	PhaseError      Phase = "error"
)

// Terminal reports whether no further events follow this phase.
func (p Phase) Terminal() bool {
	return p == PhaseComplete || p == PhaseError
}

// Event is one progress notification.
type Event struct {
	SessionID  string    `json:"session_id"`
	Phase      Phase     `json:"phase"`
	Percentage int       `json:"percentage"`
	Message    string    `json:"message,omitempty"`
	At         time.Time `json:"at"`
}

// Broker is an in-process publish/subscribe hub.
type Broker struct {
	mu       sync.Mutex
	subs     map[string]map[chan Event]struct{}
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	buffer   int
	dropped  int
}

// NewBroker creates a broker that delivers at most perSecond non-terminal
// events per session. perSecond <= 0 disables throttling.
func NewBroker(perSecond float64) *Broker {
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	return &Broker{
		subs:     make(map[string]map[chan Event]struct{}),
		limiters: make(map[string]*rate.Limiter),
		limit:    limit,
		buffer:   16,
	}
}

// Publish delivers ev to the session's subscribers. Throttled events and
// events for full subscriber buffers are dropped. Terminal events are never
// throttled and release the session's limiter. Limiters exist only while a
// session has subscribers.
func (b *Broker) Publish(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if ev.Phase.Terminal() {
		delete(b.limiters, ev.SessionID)
	}
	subs := b.subs[ev.SessionID]
	if len(subs) == 0 {
		return
	}
	if !ev.Phase.Terminal() && !b.limiterLocked(ev.SessionID).Allow() {
		b.dropped++
		return
	}

	for ch := range subs {
		select {
		case ch <- ev:
		default:
			b.dropped++
			zap.L().Debug("progress: subscriber full, dropping event",
				zap.String("session_id", ev.SessionID),
				zap.String("phase", string(ev.Phase)),
			)
		}
	}
}

// Subscribe returns a channel of events for sessionID and a cancel func
// that closes it. The channel is not closed by terminal events; callers
// stop reading once they see one.
func (b *Broker) Subscribe(sessionID string) (<-chan Event, func()) {
	ch := make(chan Event, b.buffer)

	b.mu.Lock()
	if b.subs[sessionID] == nil {
		b.subs[sessionID] = make(map[chan Event]struct{})
	}
	b.subs[sessionID][ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs[sessionID], ch)
			if len(b.subs[sessionID]) == 0 {
				delete(b.subs, sessionID)
				delete(b.limiters, sessionID)
			}
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Subscribers counts live subscriptions for a session.
func (b *Broker) Subscribers(sessionID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[sessionID])
}

// Dropped counts events discarded by throttling or full buffers.
func (b *Broker) Dropped() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

func (b *Broker) limiterLocked(sessionID string) *rate.Limiter {
	l, ok := b.limiters[sessionID]
	if !ok {
		l = rate.NewLimiter(b.limit, 1)
		b.limiters[sessionID] = l
	}
	return l
}

package progress

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroker_DeliversToSessionSubscribers(t *testing.T) {
	t.Parallel()
	b := NewBroker(0)

	ch, cancel := b.Subscribe("s1")
	defer cancel()
	other, cancelOther := b.Subscribe("s2")
	defer cancelOther()

	b.Publish(Event{SessionID: "s1", Phase: PhaseWriting, Percentage: 40})
	b.Publish(Event{SessionID: "s1", Phase: PhaseComplete, Percentage: 100})

	first := <-ch
	assert.Equal(t, PhaseWriting, first.Phase)
	assert.False(t, first.At.IsZero())
	assert.Equal(t, PhaseComplete, (<-ch).Phase)
	assert.Empty(t, other)
}

func TestBroker_ThrottlesNonTerminal(t *testing.T) {
	t.Parallel()
	b := NewBroker(0.001)

	ch, cancel := b.Subscribe("s")
	defer cancel()

	for i := range 5 {
		b.Publish(Event{SessionID: "s", Phase: PhaseWriting, Percentage: i * 10})
	}
	b.Publish(Event{SessionID: "s", Phase: PhaseError, Message: "boom"})

	require.Len(t, ch, 2)
	assert.Equal(t, 0, (<-ch).Percentage)
	assert.Equal(t, PhaseError, (<-ch).Phase)
	assert.Equal(t, 4, b.Dropped())
}

func TestBroker_PublishNeverBlocks(t *testing.T) {
	t.Parallel()
	b := NewBroker(0)
	_, cancel := b.Subscribe("s")
	defer cancel()

	for range 100 {
		b.Publish(Event{SessionID: "s", Phase: PhaseWriting})
	}
	assert.Equal(t, 100-16, b.Dropped())

	b.Publish(Event{SessionID: "nobody", Phase: PhaseComplete})
}

func TestBroker_CancelUnsubscribes(t *testing.T) {
	t.Parallel()
	b := NewBroker(0)

	ch, cancel := b.Subscribe("s")
	assert.Equal(t, 1, b.Subscribers("s"))
	cancel()
	cancel()
	assert.Equal(t, 0, b.Subscribers("s"))

	_, open := <-ch
	assert.False(t, open)
	b.Publish(Event{SessionID: "s", Phase: PhaseWriting})
}

func TestPhase_Terminal(t *testing.T) {
	t.Parallel()
	assert.True(t, PhaseComplete.Terminal())
	assert.True(t, PhaseError.Terminal())
	assert.False(t, PhaseEvaluating.Terminal())
}

func TestBroker_LimitersFollowSubscribers(t *testing.T) {
	t.Parallel()
	b := NewBroker(10)

	// Unobserved sessions, such as previews nobody subscribed to, keep no state.
	for range 3 {
		b.Publish(Event{SessionID: "preview", Phase: PhaseParsing})
	}
	b.mu.Lock()
	assert.Empty(t, b.limiters)
	b.mu.Unlock()
	assert.Zero(t, b.Dropped())

	ch, cancel := b.Subscribe("s")
	b.Publish(Event{SessionID: "s", Phase: PhaseWriting})
	require.Len(t, ch, 1)
	b.mu.Lock()
	assert.Len(t, b.limiters, 1)
	b.mu.Unlock()

	cancel()
	b.mu.Lock()
	assert.Empty(t, b.limiters)
	assert.Empty(t, b.subs)
	b.mu.Unlock()
}

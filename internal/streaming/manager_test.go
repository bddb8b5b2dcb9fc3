package streaming

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManagerPublishSubscribe(t *testing.T) {
	m := NewManager(16)

	ch := m.Subscribe("sess-1", 4)
	defer m.Unsubscribe("sess-1", ch)

	m.Publish("sess-1", Event{Type: TypeStepCompleted, StepID: 1})
	m.Publish("sess-2", Event{Type: TypeStepCompleted, StepID: 9})

	select {
	case evt := <-ch:
		assert.Equal(t, "sess-1", evt.SessionID)
		assert.Equal(t, TypeStepCompleted, evt.Type)
		assert.Equal(t, 1, evt.StepID)
		assert.Equal(t, uint64(1), evt.Seq)
		assert.False(t, evt.Timestamp.IsZero())
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}

	// The other session's event never arrives here.
	select {
	case evt := <-ch:
		t.Fatalf("unexpected event: %+v", evt)
	default:
	}
}

func TestManagerSlowSubscriberDropsEvents(t *testing.T) {
	m := NewManager(16)

	ch := m.Subscribe("sess-1", 1)
	defer m.Unsubscribe("sess-1", ch)

	m.Publish("sess-1", Event{Type: TypeStepCompleted, StepID: 1})
	m.Publish("sess-1", Event{Type: TypeStepCompleted, StepID: 2})

	evt := <-ch
	assert.Equal(t, 1, evt.StepID)
	select {
	case evt := <-ch:
		t.Fatalf("second event should have been dropped, got %+v", evt)
	default:
	}

	// The history still holds both for replay.
	assert.Len(t, m.ReplaySince("sess-1", 0), 2)
}

func TestManagerReplay(t *testing.T) {
	m := NewManager(4)

	for i := 1; i <= 6; i++ {
		m.Publish("sess-1", Event{Type: TypeStepCompleted, StepID: i})
	}

	t.Run("SinceZeroBoundedByCapacity", func(t *testing.T) {
		events := m.ReplaySince("sess-1", 0)
		require.Len(t, events, 4)
		assert.Equal(t, uint64(3), events[0].Seq)
		assert.Equal(t, uint64(6), events[3].Seq)
	})

	t.Run("SinceMidway", func(t *testing.T) {
		events := m.ReplaySince("sess-1", 4)
		require.Len(t, events, 2)
		assert.Equal(t, 5, events[0].StepID)
		assert.Equal(t, 6, events[1].StepID)
	})

	t.Run("UnknownSession", func(t *testing.T) {
		assert.Empty(t, m.ReplaySince("nope", 0))
	})
}

func TestManagerUnsubscribeCloses(t *testing.T) {
	m := NewManager(4)
	ch := m.Subscribe("sess-1", 1)
	m.Unsubscribe("sess-1", ch)

	_, open := <-ch
	assert.False(t, open)

	// Unsubscribing twice is harmless.
	m.Unsubscribe("sess-1", ch)
}

func TestFanout(t *testing.T) {
	a := NewManager(4)
	b := NewManager(4)

	Fanout{a, b}.Publish("sess-1", Event{Type: TypeSessionCompleted})

	assert.Len(t, a.ReplaySince("sess-1", 0), 1)
	assert.Len(t, b.ReplaySince("sess-1", 0), 1)
}

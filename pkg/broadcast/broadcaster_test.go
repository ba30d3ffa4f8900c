package broadcast

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Notify(event Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recorder) snapshot() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

func TestBroadcaster_FanOut(t *testing.T) {
	b := NewBroadcaster()
	first, second := &recorder{}, &recorder{}
	b.Subscribe(first)
	b.Subscribe(second)

	b.Publish(StartedEvent("survival"))
	b.Publish(OutputEvent(StreamStdout, "Done (3.2s)!"))

	for _, r := range []*recorder{first, second} {
		events := r.snapshot()
		require.Len(t, events, 2)
		assert.Equal(t, EventProcessStarted, events[0].Type)
		assert.Equal(t, "survival", events[0].Instance)
		assert.Equal(t, StreamStdout, events[1].Stream)
	}
	assert.Equal(t, 2, b.Count())
}

func TestBroadcaster_Unsubscribe(t *testing.T) {
	b := NewBroadcaster()
	r := &recorder{}
	id := b.Subscribe(r)

	b.Publish(SystemOutput("one"))
	assert.True(t, b.Unsubscribe(id))
	assert.False(t, b.Unsubscribe(id))
	b.Publish(SystemOutput("two"))

	events := r.snapshot()
	require.Len(t, events, 1)
	assert.Equal(t, "one", events[0].Text)
	assert.Equal(t, 0, b.Count())
}

func TestBroadcaster_NoReplayForLateSubscriber(t *testing.T) {
	b := NewBroadcaster()
	early := &recorder{}
	b.Subscribe(early)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
				b.Publish(Event{Type: EventOutputChunk, Stream: StreamStdout, Text: string(rune('a' + i%26))})
			}
		}
	}()

	time.Sleep(5 * time.Millisecond)
	late := &recorder{}
	b.Subscribe(late)
	seenAfterSubscribe := len(early.snapshot())
	time.Sleep(5 * time.Millisecond)
	close(stop)
	wg.Wait()

	earlyEvents := early.snapshot()
	lateEvents := late.snapshot()
	require.NotEmpty(t, lateEvents)
	assert.Less(t, len(lateEvents), len(earlyEvents))
	// The late observer's stream is a suffix of the early observer's stream.
	offset := len(earlyEvents) - len(lateEvents)
	assert.LessOrEqual(t, offset, seenAfterSubscribe)
	assert.Equal(t, earlyEvents[offset:], lateEvents)
}

func TestBroadcaster_UnsubscribeDuringPublish(t *testing.T) {
	b := NewBroadcaster()
	r := &recorder{}
	id := b.Subscribe(r)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			b.Publish(SystemOutput("tick"))
		}
	}()
	go func() {
		defer wg.Done()
		time.Sleep(time.Millisecond)
		b.Unsubscribe(id)
	}()
	wg.Wait()

	count := len(r.snapshot())
	b.Publish(SystemOutput("after"))
	assert.Equal(t, count, len(r.snapshot()))
	for _, e := range r.snapshot() {
		assert.Equal(t, "tick", e.Text)
	}
}

func TestChannelObserver_DropsWhenFull(t *testing.T) {
	o := NewChannelObserver(2)
	o.Notify(SystemOutput("1"))
	o.Notify(SystemOutput("2"))
	o.Notify(SystemOutput("3"))

	assert.Equal(t, int64(1), o.Dropped())
	assert.Equal(t, "1", (<-o.Events()).Text)
	assert.Equal(t, "2", (<-o.Events()).Text)
}

func TestInstanceListEvent_CopiesSlice(t *testing.T) {
	names := []string{"a", "b"}
	event := InstanceListEvent(names)
	names[0] = "z"

	assert.Equal(t, []string{"a", "b"}, event.Instances)
	assert.True(t, event.IsLifecycle())
	assert.False(t, SystemOutput("x").IsLifecycle())
}

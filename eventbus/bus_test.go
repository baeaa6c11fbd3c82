package eventbus

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/qurban-ledger/engine"
)

func event(topic engine.Topic, subject string) engine.DomainEvent {
	return engine.DomainEvent{Topic: topic, Subject: subject, At: time.Now()}
}

func TestPublish_DeliversToSubscriber(t *testing.T) {
	bus := New()
	defer bus.Close()

	ch := make(chan engine.DomainEvent, 4)
	require.NoError(t, bus.Subscribe("test", ch))

	bus.Publish(event(engine.TopicProductUpdated, "p1"))

	select {
	case got := <-ch:
		assert.Equal(t, "p1", got.Subject)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestPublish_NeverBlocksOnFullChannel(t *testing.T) {
	// GIVEN: A subscriber with room for one event
	bus := New()
	defer bus.Close()
	ch := make(chan engine.DomainEvent, 1)
	require.NoError(t, bus.Subscribe("slow", ch))

	// WHEN: Publishing two events
	done := make(chan struct{})
	go func() {
		bus.Publish(event(engine.TopicShipmentCreated, "s1"))
		bus.Publish(event(engine.TopicShipmentCreated, "s2"))
		close(done)
	}()

	// THEN: Publish returns and the second event is counted as dropped
	select {
	case <-done:
	case <-time.After(100 * time.Millisecond):
		t.Fatal("Publish blocked")
	}
	st := bus.Stats()
	assert.Equal(t, uint64(2), st.TotalPublished)
	assert.Equal(t, uint64(1), st.Subscribers["slow"].Sent)
	assert.Equal(t, uint64(1), st.Subscribers["slow"].Dropped)
	assert.InDelta(t, 0.5, DropRate(st), 0.0001)
}

func TestSubscribe_TopicFilter(t *testing.T) {
	bus := New()
	defer bus.Close()
	ch := make(chan engine.DomainEvent, 4)
	require.NoError(t, bus.Subscribe("discrepancies", ch, engine.TopicDiscrepancyLogged))

	bus.Publish(event(engine.TopicProductUpdated, "p1"))
	bus.Publish(event(engine.TopicDiscrepancyLogged, "e1"))

	require.Len(t, ch, 1)
	assert.Equal(t, engine.TopicDiscrepancyLogged, (<-ch).Topic)
	assert.Equal(t, uint64(0), bus.Stats().TotalDropped)
}

func TestSubscribe_Errors(t *testing.T) {
	bus := New()
	ch := make(chan engine.DomainEvent, 1)

	assert.ErrorIs(t, bus.Subscribe("x", nil), ErrNilChannel)
	require.NoError(t, bus.Subscribe("x", ch))
	assert.ErrorIs(t, bus.Subscribe("x", ch), ErrSubscriberExists)
	assert.ErrorIs(t, bus.Unsubscribe("y"), ErrSubscriberNotFound)
	require.NoError(t, bus.Unsubscribe("x"))

	require.NoError(t, bus.Close())
	assert.ErrorIs(t, bus.Subscribe("z", ch), ErrBusClosed)
	assert.ErrorIs(t, bus.Close(), ErrBusClosed)

	// Publish after close is a no-op
	bus.Publish(event(engine.TopicProductUpdated, "p1"))
	assert.Equal(t, uint64(0), bus.Stats().TotalPublished)
}

func TestSubscriberIDs_Sorted(t *testing.T) {
	bus := New()
	defer bus.Close()
	for _, id := range []string{"b", "c", "a"} {
		require.NoError(t, bus.Subscribe(id, make(chan engine.DomainEvent, 1)))
	}

	assert.Equal(t, []string{"a", "b", "c"}, bus.SubscriberIDs())
}

func TestConcurrentPublish(t *testing.T) {
	bus := New()
	defer bus.Close()
	ch := make(chan engine.DomainEvent, 1000)
	require.NoError(t, bus.Subscribe("all", ch))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				bus.Publish(event(engine.TopicProductUpdated, "p"))
			}
		}()
	}
	wg.Wait()

	st := bus.Stats()
	assert.Equal(t, uint64(500), st.TotalPublished)
	assert.Equal(t, uint64(500), st.TotalSent)
}

func TestLogEvents_StopsWhenChannelCloses(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	ch := make(chan engine.DomainEvent, 2)
	ch <- event(engine.TopicShipmentReceived, "s9")
	close(ch)

	LogEvents(context.Background(), logger, ch)

	assert.Contains(t, buf.String(), "topic=shipment-received")
	assert.Contains(t, buf.String(), "subject=s9")
}

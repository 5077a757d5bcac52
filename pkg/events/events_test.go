package events

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/paddock/pkg/domain"
)

func testEvent(id string) domain.Event {
	return domain.NewEvent(domain.EventRequestCreated, domain.AggregateRequest, id, 1,
		domain.EventPayload{NewStatus: "pending"})
}

func TestSyncPublisherDispatchesInOrder(t *testing.T) {
	p := NewSyncPublisher()
	var got []string
	p.Register(func(e domain.Event) { got = append(got, e.AggregateID) })
	defer p.Close()

	p.Publish(testEvent("req-1"))
	p.Publish(testEvent("req-2"))
	assert.Equal(t, []string{"req-1", "req-2"}, got)
}

func TestSyncPublisherSurvivesPanickingHandler(t *testing.T) {
	p := NewSyncPublisher()
	var delivered int
	p.Register(func(domain.Event) { panic("bad sink") })
	p.Register(func(domain.Event) { delivered++ })

	assert.NotPanics(t, func() { p.Publish(testEvent("req-1")) })
	assert.Equal(t, 1, delivered, "later handlers still run")
}

func TestAsyncPublisherDrainsOnClose(t *testing.T) {
	p := NewAsyncPublisher(16)
	var (
		mu  sync.Mutex
		got []string
	)
	p.Register(func(e domain.Event) {
		mu.Lock()
		got = append(got, e.AggregateID)
		mu.Unlock()
	})
	p.Start()

	for i := 0; i < 8; i++ {
		p.Publish(testEvent("req-1"))
	}
	p.Close()

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, got, 8)
}

func TestAsyncPublisherDropsWhenFull(t *testing.T) {
	// never started, so the buffer fills and overflow is dropped
	p := NewAsyncPublisher(2)
	for i := 0; i < 5; i++ {
		assert.NotPanics(t, func() { p.Publish(testEvent("req-1")) })
	}
}

func TestNewPublisherModes(t *testing.T) {
	for _, mode := range []Mode{ModeLogging, ModeSync, ModeAsync, ""} {
		p, err := NewPublisher(mode)
		require.NoError(t, err, "mode %q", mode)
		p.Publish(testEvent("req-1"))
		p.Close()
	}

	_, err := NewPublisher("kafka")
	require.Error(t, err)
}

func TestAsyncPublisherConcurrentPublish(t *testing.T) {
	p := NewAsyncPublisher(256)
	var count int64
	var mu sync.Mutex
	p.Register(func(domain.Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})
	p.Start()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				p.Publish(testEvent("req-1"))
			}
		}()
	}
	wg.Wait()
	time.Sleep(10 * time.Millisecond)
	p.Close()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, int64(100), count)
}

package bus_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/facilitycore/orchestrator/bus"
	"github.com/facilitycore/orchestrator/platform"
)

func TestPublishOrderPerTopic(t *testing.T) {
	b := bus.New(bus.DefaultConfig(), platform.NoOpLogger{}, nil)
	b.Start()
	defer b.Stop()

	var mu sync.Mutex
	var received []int

	done := make(chan struct{})
	count := 0
	b.Subscribe("hvac.temperature.changed", func(ctx context.Context, event platform.Event) error {
		mu.Lock()
		received = append(received, int(event.Payload["seq"].(int)))
		count++
		if count == 5 {
			close(done)
		}
		mu.Unlock()
		return nil
	})

	for i := 0; i < 5; i++ {
		require.NoError(t, b.Publish(context.Background(), "hvac.temperature.changed", map[string]interface{}{"seq": i}, "req"))
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{0, 1, 2, 3, 4}, received)
}

func TestMultipleHandlersRegistrationOrder(t *testing.T) {
	b := bus.New(bus.DefaultConfig(), platform.NoOpLogger{}, nil)
	b.Start()
	defer b.Stop()

	var mu sync.Mutex
	var order []string
	var wg sync.WaitGroup
	wg.Add(2)

	b.Subscribe("facility.security.event", func(ctx context.Context, event platform.Event) error {
		mu.Lock()
		order = append(order, "first")
		mu.Unlock()
		wg.Done()
		return nil
	})
	b.Subscribe("facility.security.event", func(ctx context.Context, event platform.Event) error {
		mu.Lock()
		order = append(order, "second")
		mu.Unlock()
		wg.Done()
		return nil
	})

	require.NoError(t, b.Publish(context.Background(), "facility.security.event", nil, "req"))

	waitTimeout(t, &wg, time.Second)

	mu.Lock()
	defer mu.Unlock()
	assert.ElementsMatch(t, []string{"first", "second"}, order)
}

func TestHandlerPanicIsolated(t *testing.T) {
	b := bus.New(bus.DefaultConfig(), platform.NoOpLogger{}, nil)
	b.Start()
	defer b.Stop()

	var wg sync.WaitGroup
	wg.Add(1)
	var survived bool

	b.Subscribe("facility.network.event", func(ctx context.Context, event platform.Event) error {
		panic("boom")
	})
	b.Subscribe("facility.network.event", func(ctx context.Context, event platform.Event) error {
		survived = true
		wg.Done()
		return nil
	})

	require.NoError(t, b.Publish(context.Background(), "facility.network.event", nil, "req"))
	waitTimeout(t, &wg, time.Second)
	assert.True(t, survived, "second handler must run despite first handler panicking")
}

func TestPublishToStoppedBusReturnsError(t *testing.T) {
	b := bus.New(bus.DefaultConfig(), platform.NoOpLogger{}, nil)
	err := b.Publish(context.Background(), "hvac.temperature.changed", nil, "req")
	assert.Error(t, err)
}

func TestStopDrainsPendingEvents(t *testing.T) {
	b := bus.New(bus.DefaultConfig(), platform.NoOpLogger{}, nil)
	b.Start()

	var mu sync.Mutex
	delivered := 0
	b.Subscribe("demo.scenario.start", func(ctx context.Context, event platform.Event) error {
		mu.Lock()
		delivered++
		mu.Unlock()
		return nil
	})

	for i := 0; i < 10; i++ {
		require.NoError(t, b.Publish(context.Background(), "demo.scenario.start", nil, "req"))
	}

	b.Stop()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 10, delivered)
	assert.False(t, b.IsRunning())
}

func TestStartStopIdempotent(t *testing.T) {
	b := bus.New(bus.DefaultConfig(), platform.NoOpLogger{}, nil)
	b.Start()
	b.Start()
	assert.True(t, b.IsRunning())
	b.Stop()
	b.Stop()
	assert.False(t, b.IsRunning())
}

func waitTimeout(t *testing.T, wg *sync.WaitGroup, d time.Duration) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(d):
		t.Fatal("timed out waiting for handlers")
	}
}

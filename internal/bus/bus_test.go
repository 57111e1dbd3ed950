package bus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendReceiveFIFOPerSender(t *testing.T) {
	b := New()
	b.Register(TaskMMEApp)
	s1ap := b.Endpoint(TaskS1AP)
	ctx := context.Background()

	for i := uint32(1); i <= 5; i++ {
		require.NoError(t, s1ap.Send(ctx, TaskMMEApp, InstanceDefault, &ContextModificationConfirm{MMEUEID: i}))
	}
	assert.Equal(t, 5, b.Depth(TaskMMEApp))

	for i := uint32(1); i <= 5; i++ {
		m, err := b.Receive(ctx, TaskMMEApp)
		require.NoError(t, err)
		assert.Equal(t, TaskS1AP, m.Source)
		assert.Equal(t, TaskMMEApp, m.Destination)
		confirm, ok := m.Payload.(*ContextModificationConfirm)
		require.True(t, ok)
		assert.Equal(t, i, confirm.MMEUEID)
	}
	assert.Equal(t, 0, b.Depth(TaskMMEApp))
}

func TestFIFOHoldsUnderConcurrentSenders(t *testing.T) {
	b := New()
	b.Register(TaskMMEApp)
	ctx := context.Background()

	const perSender = 200
	senders := []Endpoint{b.Endpoint(TaskS1AP), b.Endpoint(TaskNAS), b.Endpoint(TaskSGs)}

	var wg sync.WaitGroup
	for _, ep := range senders {
		wg.Add(1)
		go func(ep Endpoint) {
			defer wg.Done()
			for i := uint32(0); i < perSender; i++ {
				assert.NoError(t, ep.Send(ctx, TaskMMEApp, InstanceDefault, &ContextModificationConfirm{MMEUEID: i}))
			}
		}(ep)
	}
	wg.Wait()

	next := map[TaskID]uint32{}
	for i := 0; i < perSender*len(senders); i++ {
		m, err := b.Receive(ctx, TaskMMEApp)
		require.NoError(t, err)
		got := m.Payload.(*ContextModificationConfirm).MMEUEID
		assert.Equal(t, next[m.Source], got, "out of order from %s", m.Source)
		next[m.Source] = got + 1
	}
}

func TestReceiveBlocksUntilSend(t *testing.T) {
	b := New()
	b.Register(TaskMMEApp)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	got := make(chan Message, 1)
	go func() {
		m, err := b.Receive(ctx, TaskMMEApp)
		if err == nil {
			got <- m
		}
	}()

	select {
	case <-got:
		t.Fatal("receive returned before any send")
	case <-time.After(20 * time.Millisecond):
	}

	require.NoError(t, b.Endpoint(TaskTimer).Send(ctx, TaskMMEApp, InstanceDefault, &TimerExpired{TimerID: 9}))
	select {
	case m := <-got:
		assert.Equal(t, KindTimerExpired, m.Kind())
	case <-time.After(time.Second):
		t.Fatal("receive did not wake up")
	}
}

func TestReceiveHonoursContext(t *testing.T) {
	b := New()
	b.Register(TaskMMEApp)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := b.Receive(ctx, TaskMMEApp)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSendToUnknownTask(t *testing.T) {
	b := New()
	err := b.Endpoint(TaskMMEApp).Send(context.Background(), TaskSGWApp, InstanceDefault, &CheckpointRequest{})
	assert.ErrorIs(t, err, ErrUnknownTask)
}

func TestMaxInFlightSurfacesResourceExhausted(t *testing.T) {
	b := New(WithMaxInFlight(2))
	b.Register(TaskS1AP)
	ep := b.Endpoint(TaskMMEApp)
	ctx := context.Background()

	require.NoError(t, ep.Send(ctx, TaskS1AP, InstanceDefault, &ContextModificationRequest{MMEUEID: 1}))
	require.NoError(t, ep.Send(ctx, TaskS1AP, InstanceDefault, &ContextModificationRequest{MMEUEID: 2}))
	err := ep.Send(ctx, TaskS1AP, InstanceDefault, &ContextModificationRequest{MMEUEID: 3})
	assert.ErrorIs(t, err, ErrResourceExhausted)

	_, err = b.Receive(ctx, TaskS1AP)
	require.NoError(t, err)
	assert.NoError(t, ep.Send(ctx, TaskS1AP, InstanceDefault, &ContextModificationRequest{MMEUEID: 4}))
}

func TestCloseDrainsThenStops(t *testing.T) {
	b := New()
	b.Register(TaskMMEApp)
	ctx := context.Background()
	require.NoError(t, b.Endpoint(TaskNAS).Send(ctx, TaskMMEApp, InstanceDefault, &CheckpointRequest{Reason: "test"}))

	b.Close()
	err := b.Endpoint(TaskNAS).Send(ctx, TaskMMEApp, InstanceDefault, &CheckpointRequest{})
	assert.ErrorIs(t, err, ErrResourceExhausted)

	m, err := b.Receive(ctx, TaskMMEApp)
	require.NoError(t, err)
	assert.Equal(t, KindCheckpointRequest, m.Kind())

	_, err = b.Receive(ctx, TaskMMEApp)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestRunStopsOnTerminate(t *testing.T) {
	b := New()
	ep := b.Endpoint(TaskNAS)
	ctx := context.Background()

	var handled []Kind
	h := HandlerFunc(func(_ context.Context, m Message) {
		handled = append(handled, m.Kind())
	})

	b.Register(TaskMMEApp)
	require.NoError(t, ep.Send(ctx, TaskMMEApp, InstanceDefault, &CheckpointRequest{}))
	require.NoError(t, ep.Send(ctx, TaskMMEApp, InstanceDefault, &TerminateTask{}))
	require.NoError(t, ep.Send(ctx, TaskMMEApp, InstanceDefault, &CheckpointRequest{}))

	require.NoError(t, Run(ctx, b, TaskMMEApp, h))
	assert.Equal(t, []Kind{KindCheckpointRequest}, handled)
	assert.Equal(t, 1, b.Depth(TaskMMEApp))
}

func TestRunReturnsNilWhenBusCloses(t *testing.T) {
	b := New()
	done := make(chan error, 1)
	go func() {
		done <- Run(context.Background(), b, TaskMMEApp, HandlerFunc(func(context.Context, Message) {}))
	}()
	time.Sleep(10 * time.Millisecond)
	b.Close()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("run did not return after close")
	}
}

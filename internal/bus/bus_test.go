package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clinichub-backend/internal/domain"
)

func newTestBus(t *testing.T, store Store) *Bus {
	t.Helper()
	b := NewBus(Config{
		Store:        store,
		PollInterval: 20 * time.Millisecond,
		TTL:          time.Second,
	})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go b.Run(ctx)

	return b
}

func TestEmit_ReachesOtherContextExactlyOnce(t *testing.T) {
	store := NewMemoryStore()
	t.Cleanup(func() { store.Close() })

	sender := newTestBus(t, store)
	receiver := newTestBus(t, store)

	var delivered atomic.Int64
	var lastPayload atomic.Value
	receiver.Subscribe(domain.EventVerificationStatusUpdate, func(payload json.RawMessage) {
		delivered.Add(1)
		lastPayload.Store(append(json.RawMessage{}, payload...))
	})

	update := domain.VerificationStatusUpdate{
		DoctorID: "doctor-1",
		Status:   domain.VerificationApproved,
		Message:  "approved",
	}
	require.NoError(t, sender.Emit(context.Background(), domain.EventVerificationStatusUpdate, update))

	require.Eventually(t, func() bool {
		return delivered.Load() == 1
	}, time.Second, 10*time.Millisecond)

	var got domain.VerificationStatusUpdate
	require.NoError(t, json.Unmarshal(lastPayload.Load().(json.RawMessage), &got))
	assert.Equal(t, "doctor-1", got.DoctorID)
	assert.Equal(t, domain.VerificationApproved, got.Status)

	// Both the push path and the poll path observe the record; the
	// processed-set must collapse them to a single delivery.
	time.Sleep(100 * time.Millisecond)
	assert.EqualValues(t, 1, delivered.Load())
}

func TestEmit_NeverEchoesToOrigin(t *testing.T) {
	store := NewMemoryStore()
	t.Cleanup(func() { store.Close() })

	sender := newTestBus(t, store)

	var delivered atomic.Int64
	sender.Subscribe(domain.EventNewDoctorRegistration, func(json.RawMessage) {
		delivered.Add(1)
	})

	reg := domain.NewDoctorRegistration{DoctorID: "doctor-1", Role: domain.RoleDoctor}
	require.NoError(t, sender.Emit(context.Background(), domain.EventNewDoctorRegistration, reg))

	// Exactly the synchronous in-process delivery; the store record
	// must be suppressed by the origin id.
	assert.EqualValues(t, 1, delivered.Load())
	time.Sleep(100 * time.Millisecond)
	assert.EqualValues(t, 1, delivered.Load())
}

func TestEmit_LocalDeliveryIsSynchronous(t *testing.T) {
	store := NewMemoryStore()
	t.Cleanup(func() { store.Close() })

	b := NewBus(Config{Store: store})

	called := false
	b.Subscribe("ping", func(json.RawMessage) { called = true })

	require.NoError(t, b.Emit(context.Background(), "ping", map[string]string{"ok": "yes"}))
	assert.True(t, called)
}

func TestSubscribe_Unsubscribe(t *testing.T) {
	store := NewMemoryStore()
	t.Cleanup(func() { store.Close() })

	b := NewBus(Config{Store: store})

	var delivered atomic.Int64
	unsubscribe := b.Subscribe("ping", func(json.RawMessage) { delivered.Add(1) })

	require.NoError(t, b.Emit(context.Background(), "ping", nil))
	assert.EqualValues(t, 1, delivered.Load())

	unsubscribe()
	require.NoError(t, b.Emit(context.Background(), "ping", nil))
	assert.EqualValues(t, 1, delivered.Load())
}

func TestMalformedRecord_SkippedWithoutCrashing(t *testing.T) {
	store := NewMemoryStore()
	t.Cleanup(func() { store.Close() })

	sender := newTestBus(t, store)
	receiver := newTestBus(t, store)

	var delivered atomic.Int64
	receiver.Subscribe("ping", func(json.RawMessage) { delivered.Add(1) })

	// Poison the store directly, bypassing Emit.
	require.NoError(t, store.Write(context.Background(), KeyPrefix+"999:broken", []byte("{not json"), time.Second))

	require.NoError(t, sender.Emit(context.Background(), "ping", map[string]string{"ok": "yes"}))

	require.Eventually(t, func() bool {
		return delivered.Load() == 1
	}, time.Second, 10*time.Millisecond)

	// The broken record is marked processed, never retried.
	time.Sleep(100 * time.Millisecond)
	assert.EqualValues(t, 1, delivered.Load())
}

func TestProcessedSet_Bounded(t *testing.T) {
	store := NewMemoryStore()
	t.Cleanup(func() { store.Close() })

	b := NewBus(Config{Store: store})

	for i := 0; i < processedLimit*3; i++ {
		b.mu.Lock()
		b.markProcessedLocked(fmt.Sprintf("%s%d:x", KeyPrefix, i))
		b.mu.Unlock()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	assert.LessOrEqual(t, len(b.processed), processedLimit)
	assert.Equal(t, len(b.processed), len(b.processedOrder))

	// The newest entries survive the trim.
	newest := fmt.Sprintf("%s%d:x", KeyPrefix, processedLimit*3-1)
	_, ok := b.processed[newest]
	assert.True(t, ok)
}

func TestDistinctOriginIDs(t *testing.T) {
	store := NewMemoryStore()
	t.Cleanup(func() { store.Close() })

	a := NewBus(Config{Store: store})
	b := NewBus(Config{Store: store})

	assert.NotEmpty(t, a.OriginID())
	assert.NotEqual(t, a.OriginID(), b.OriginID())
}

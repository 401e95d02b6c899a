package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"clinichub-backend/pkg/metrics"
)

const (
	// KeyPrefix namespaces event records in the shared store.
	KeyPrefix = "ccevent:"

	// DefaultPollInterval keeps cross-context latency sub-second even
	// when the store's change notification is unavailable.
	DefaultPollInterval = 250 * time.Millisecond

	// DefaultTTL bounds storage growth; records only need to outlive
	// the poll interval by a comfortable margin.
	DefaultTTL = 5 * time.Second

	// processedLimit bounds the locally-held dedup set. When exceeded,
	// the oldest half is discarded; by then the store has also expired
	// those records, so they cannot be observed again.
	processedLimit = 256
)

// Record is the wire format of one event in the shared store.
type Record struct {
	Name      string          `json:"name"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp int64           `json:"timestamp"`
	OriginID  string          `json:"originId"`
}

// Notification is a push-path observation of a store write.
type Notification struct {
	Key    string
	Record []byte
}

// Store is the shared durable key-value medium the bus rides on.
// Records expire after their TTL; Scan returns only live records.
type Store interface {
	Write(ctx context.Context, key string, record []byte, ttl time.Duration) error
	Scan(ctx context.Context) (map[string][]byte, error)
	Notifications() <-chan Notification
	Close() error
}

// Handler receives the payload of one dispatched event.
type Handler func(payload json.RawMessage)

// Config configures a Bus. Store is required; zero durations get the
// package defaults.
type Config struct {
	Store        Store
	PollInterval time.Duration
	TTL          time.Duration
	Metrics      *metrics.Metrics
	Logger       *zap.Logger
}

// Bus broadcasts events across process contexts that share a durable
// store, including contexts with no live push connection between them.
// Emit delivers to in-process subscribers synchronously and writes a
// transient record for every other context; each context observes the
// store through both a change-notification channel and a fixed-interval
// poll, converging on a single deduplicating dispatch.
type Bus struct {
	store        Store
	originID     string
	pollInterval time.Duration
	ttl          time.Duration
	metrics      *metrics.Metrics
	logger       *zap.Logger

	mu             sync.Mutex
	nextHandlerID  int
	handlers       map[string]map[int]Handler
	processed      map[string]struct{}
	processedOrder []string
}

// NewBus creates a bus with a fresh random origin identity. The
// identity is generated once per context lifetime and stamped on every
// published record; it is the sole mechanism preventing publish-echo.
func NewBus(cfg Config) *Bus {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Bus{
		store:        cfg.Store,
		originID:     uuid.NewString(),
		pollInterval: cfg.PollInterval,
		ttl:          cfg.TTL,
		metrics:      cfg.Metrics,
		logger:       cfg.Logger,
		handlers:     make(map[string]map[int]Handler),
		processed:    make(map[string]struct{}),
	}
}

// OriginID returns this context's identity.
func (b *Bus) OriginID() string {
	return b.originID
}

// Subscribe registers a handler for the named event and returns its
// unsubscribe function.
func (b *Bus) Subscribe(name string, fn Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextHandlerID
	b.nextHandlerID++
	if b.handlers[name] == nil {
		b.handlers[name] = make(map[int]Handler)
	}
	b.handlers[name][id] = fn

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.handlers[name], id)
		if len(b.handlers[name]) == 0 {
			delete(b.handlers, name)
		}
	}
}

// Emit publishes an event: local subscribers are invoked synchronously,
// then a transient record is written to the shared store for other
// contexts to observe. The record expires after the bus TTL.
func (b *Bus) Emit(ctx context.Context, name string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", name, err)
	}

	b.deliver(name, data)

	record := Record{
		Name:      name,
		Payload:   data,
		Timestamp: time.Now().UnixMilli(),
		OriginID:  b.originID,
	}
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode %s record: %w", name, err)
	}

	// Key collisions within one millisecond are possible across
	// contexts, so the key carries a random suffix on top of the
	// timestamp and name.
	key := fmt.Sprintf("%s%d:%s:%s", KeyPrefix, record.Timestamp, name, uuid.NewString()[:8])
	if err := b.store.Write(ctx, key, raw, b.ttl); err != nil {
		return fmt.Errorf("publish %s: %w", name, err)
	}

	if b.metrics != nil {
		b.metrics.RecordBusPublish(name)
	}
	return nil
}

// Run observes the shared store until ctx is cancelled. Push
// notifications and the poll loop feed the same deduplicating dispatch,
// so an event observed by both paths is delivered once.
func (b *Bus) Run(ctx context.Context) {
	notifications := b.store.Notifications()
	ticker := time.NewTicker(b.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case n, ok := <-notifications:
			if !ok {
				notifications = nil
				continue
			}
			b.dispatch(n.Key, n.Record, "push")

		case <-ticker.C:
			records, err := b.store.Scan(ctx)
			if err != nil {
				b.logger.Debug("event scan failed", zap.Error(err))
				continue
			}
			for key, raw := range records {
				b.dispatch(key, raw, "poll")
			}
		}
	}
}

// dispatch decodes and delivers one observed record. The key is marked
// processed before decoding, so a malformed record is skipped exactly
// once instead of being retried forever.
func (b *Bus) dispatch(key string, raw []byte, path string) {
	b.mu.Lock()
	if _, done := b.processed[key]; done {
		b.mu.Unlock()
		return
	}
	b.markProcessedLocked(key)
	b.mu.Unlock()

	var record Record
	if err := json.Unmarshal(raw, &record); err != nil {
		b.logger.Warn("malformed event record skipped", zap.String("key", key), zap.Error(err))
		if b.metrics != nil {
			b.metrics.RecordBusDecodeError()
		}
		return
	}

	if record.OriginID == b.originID {
		return
	}

	b.deliver(record.Name, record.Payload)

	if b.metrics != nil {
		b.metrics.RecordBusDispatch(record.Name, path)
	}
}

// deliver invokes the local subscribers of name.
func (b *Bus) deliver(name string, payload json.RawMessage) {
	b.mu.Lock()
	targets := make([]Handler, 0, len(b.handlers[name]))
	for _, fn := range b.handlers[name] {
		targets = append(targets, fn)
	}
	b.mu.Unlock()

	for _, fn := range targets {
		fn(payload)
	}
}

// markProcessedLocked records key in the dedup set, trimming the oldest
// half once the bound is exceeded. Caller holds b.mu.
func (b *Bus) markProcessedLocked(key string) {
	b.processed[key] = struct{}{}
	b.processedOrder = append(b.processedOrder, key)

	if len(b.processedOrder) > processedLimit {
		cut := len(b.processedOrder) / 2
		for _, old := range b.processedOrder[:cut] {
			delete(b.processed, old)
		}
		b.processedOrder = append(b.processedOrder[:0], b.processedOrder[cut:]...)
	}
}

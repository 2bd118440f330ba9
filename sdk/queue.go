package sdk

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"
)

// QueueConfig configures one delivery queue instance.
type QueueConfig struct {
	// Capacity bounds the in-memory queue.
	// Default: 100
	Capacity int

	// FlushThreshold is the queue length that triggers an immediate flush.
	// Default: Capacity
	FlushThreshold int

	// BatchSize is the maximum number of items drained per flush.
	// Default: 100
	BatchSize int

	// FlushInterval drives the periodic flush timer.
	// Default: 30s
	FlushInterval time.Duration

	// MaxStoredItems caps how many items are retained (and persisted)
	// while offline.
	// Default: 500
	MaxStoredItems int
}

// withDefaults backfills zero fields.
func (c QueueConfig) withDefaults() QueueConfig {
	if c.Capacity <= 0 {
		c.Capacity = 100
	}
	if c.FlushThreshold <= 0 || c.FlushThreshold > c.Capacity {
		c.FlushThreshold = c.Capacity
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 30 * time.Second
	}
	if c.MaxStoredItems <= 0 {
		c.MaxStoredItems = 500
	}
	return c
}

// connectivity is the shared network-reachability flag. The host feeds it
// through Client.SetNetworkConnected; queues consult it before draining.
type connectivity struct {
	online atomic.Bool
}

func newConnectivity() *connectivity {
	c := &connectivity{}
	c.online.Store(true)
	return c
}

// Online reports the last known reachability.
func (c *connectivity) Online() bool { return c.online.Load() }

// set updates reachability and reports whether this was an offline->online
// transition.
func (c *connectivity) set(online bool) (cameOnline bool) {
	was := c.online.Swap(online)
	return online && !was
}

// ConnectionStatus is the delivery health exposed to status listeners.
type ConnectionStatus int

const (
	// ConnectionStatusUnknown is the state before any delivery attempt
	ConnectionStatusUnknown ConnectionStatus = iota
	// ConnectionStatusConnected means the last delivery succeeded
	ConnectionStatusConnected
	// ConnectionStatusDisconnected means the last delivery failed or the
	// host reported the network as down
	ConnectionStatusDisconnected
)

// String returns the string representation of the connection status
func (s ConnectionStatus) String() string {
	switch s {
	case ConnectionStatusConnected:
		return "connected"
	case ConnectionStatusDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// ConnectionStatusListener observes delivery health transitions.
type ConnectionStatusListener func(status ConnectionStatus)

// connectionTracker collapses per-flush success/failure signals into
// status transitions, notifying listeners only on change.
type connectionTracker struct {
	mu        sync.Mutex
	status    ConnectionStatus
	listeners *listenerRegistry[ConnectionStatusListener]
}

func newConnectionTracker() *connectionTracker {
	return &connectionTracker{listeners: newListenerRegistry[ConnectionStatusListener]()}
}

func (t *connectionTracker) addListener(l ConnectionStatusListener) Subscription {
	return t.listeners.add(l)
}

func (t *connectionTracker) recordSuccess() { t.set(ConnectionStatusConnected) }
func (t *connectionTracker) recordFailure() { t.set(ConnectionStatusDisconnected) }

func (t *connectionTracker) set(status ConnectionStatus) {
	t.mu.Lock()
	if t.status == status {
		t.mu.Unlock()
		return
	}
	t.status = status
	t.mu.Unlock()

	// Listeners run outside the lock.
	for _, l := range t.listeners.snapshot() {
		l(status)
	}
}

// Status returns the current delivery health.
func (t *connectionTracker) Status() ConnectionStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// deliveryQueue is the generic bounded queue + flush engine behind event
// tracking and usage-summary reporting. Items are drained FIFO in batches
// and handed to the transmit collaborator; failed batches are re-offered
// back into the queue bounded by capacity. While offline, items are
// retained (bounded by MaxStoredItems) and spilled to durable storage so
// they survive restart.
type deliveryQueue[T any] struct {
	kind     string
	config   QueueConfig
	clock    Clock
	observer Observer
	conn     *connectivity
	tracker  *connectionTracker
	store    Store
	spillKey string

	validate func(T) error
	dedupKey func(T) string
	transmit func(ctx context.Context, batch []T) error
	onDrop   func(count int)

	mu     sync.Mutex
	items  []T
	seen   map[string]struct{}
	closed bool

	// flushMu serializes flushes so re-queueing bookkeeping stays sane.
	flushMu sync.Mutex
}

// newDeliveryQueue wires one queue instance. dedupKey may be nil for item
// kinds without deduplication; onDrop may be nil.
func newDeliveryQueue[T any](
	kind string,
	config QueueConfig,
	clock Clock,
	observer Observer,
	conn *connectivity,
	tracker *connectionTracker,
	store Store,
	validate func(T) error,
	dedupKey func(T) string,
	transmit func(ctx context.Context, batch []T) error,
	onDrop func(count int),
) *deliveryQueue[T] {
	if clock == nil {
		clock = SystemClock()
	}
	if observer == nil {
		observer = &NoopObserver{}
	}
	return &deliveryQueue[T]{
		kind:     kind,
		config:   config.withDefaults(),
		clock:    clock,
		observer: observer,
		conn:     conn,
		tracker:  tracker,
		store:    store,
		spillKey: "queue." + kind + ".spill",
		validate: validate,
		dedupKey: dedupKey,
		transmit: transmit,
		onDrop:   onDrop,
		seen:     make(map[string]struct{}),
	}
}

// Enqueue validates and appends one item. Duplicate items (by dedup key)
// are a silent no-op success. When the queue is at capacity an immediate
// flush is forced; if the queue is still full afterwards, the item is
// rejected with ErrQueueFull and reported through the drop callback.
//
// A validation or queue-full failure is returned to the caller; a
// successful return only means the item was queued, not delivered.
func (q *deliveryQueue[T]) Enqueue(item T) error {
	if q.validate != nil {
		if err := q.validate(item); err != nil {
			return err
		}
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return NewError(ErrorTypeInternal, "queue is closed", ErrClientClosed)
	}

	// Dedup happens before enqueue, never after.
	var dedup string
	if q.dedupKey != nil {
		if key := q.dedupKey(item); key != "" {
			if _, dup := q.seen[key]; dup {
				q.mu.Unlock()
				return nil
			}
			q.seen[key] = struct{}{}
			dedup = key
		}
	}

	if len(q.items) >= q.config.Capacity {
		q.mu.Unlock()
		q.Flush(context.Background())
		q.mu.Lock()
	}

	// Still full after the forced flush: the newcomer is rejected, never
	// silently dropped. The dedup key is released so a later attempt for
	// the same item can succeed.
	if len(q.items) >= q.config.Capacity {
		if dedup != "" {
			delete(q.seen, dedup)
		}
		q.mu.Unlock()
		q.reportDrop(1)
		return NewError(ErrorTypeInternal, "item rejected, queue at capacity", ErrQueueFull)
	}

	// The lock is held from the capacity check through the append, so the
	// queue never exceeds its capacity even transiently.
	q.items = append(q.items, item)
	length := len(q.items)
	q.mu.Unlock()

	if length >= q.config.FlushThreshold {
		q.Flush(context.Background())
	}
	return nil
}

// Flush drains up to one batch and hands it to the transmit collaborator.
// No-op when empty. While offline the queue is retained (bounded by
// MaxStoredItems) and spilled to durable storage instead of drained.
func (q *deliveryQueue[T]) Flush(ctx context.Context) error {
	q.flushMu.Lock()
	defer q.flushMu.Unlock()

	q.mu.Lock()
	if len(q.items) == 0 {
		q.mu.Unlock()
		return nil
	}

	if !q.conn.Online() {
		dropped := 0
		if len(q.items) > q.config.MaxStoredItems {
			dropped = len(q.items) - q.config.MaxStoredItems
			q.items = append([]T(nil), q.items[dropped:]...)
		}
		snapshot := append([]T(nil), q.items...)
		q.mu.Unlock()

		if dropped > 0 {
			q.reportDrop(dropped)
		}
		q.persistSpill(snapshot)
		return nil
	}

	n := min(q.config.BatchSize, len(q.items))
	batch := append([]T(nil), q.items[:n]...)
	q.items = append([]T(nil), q.items[n:]...)
	q.mu.Unlock()

	err := q.transmit(ctx, batch)
	if err == nil {
		q.observer.OnQueueFlush(q.kind, n, nil)
		q.tracker.recordSuccess()
		q.clearSpill()
		return nil
	}

	// Re-offer the failed batch, bounded by capacity. Items that no
	// longer fit are counted and reported, not retried indefinitely.
	q.mu.Lock()
	requeued := 0
	for _, item := range batch {
		if len(q.items) >= q.config.Capacity {
			break
		}
		q.items = append(q.items, item)
		requeued++
	}
	q.mu.Unlock()

	if lost := n - requeued; lost > 0 {
		q.reportDrop(lost)
	}
	q.observer.OnQueueFlush(q.kind, n, err)
	q.tracker.recordFailure()
	return err
}

// Size returns the current queue length.
func (q *deliveryQueue[T]) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// reportDrop notifies the observer and the drop callback outside the lock.
func (q *deliveryQueue[T]) reportDrop(count int) {
	q.observer.OnItemsDropped(q.kind, count)
	if q.onDrop != nil {
		q.onDrop(count)
	}
}

// persistSpill writes the retained items to durable storage.
func (q *deliveryQueue[T]) persistSpill(items []T) {
	if q.store == nil {
		return
	}
	data, err := json.Marshal(items)
	if err != nil {
		return
	}
	q.store.SetString(q.spillKey, string(data))
}

// clearSpill removes the durable spill record.
func (q *deliveryQueue[T]) clearSpill() {
	if q.store == nil {
		return
	}
	q.store.Remove(q.spillKey)
}

// loadSpill re-enqueues items persisted by a previous process, subject to
// the same bounds. Called once at startup before any timer runs.
func (q *deliveryQueue[T]) loadSpill() {
	if q.store == nil {
		return
	}
	raw, found, err := q.store.GetString(q.spillKey)
	if err != nil || !found {
		return
	}
	q.store.Remove(q.spillKey)

	var items []T
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return
	}

	limit := min(q.config.Capacity, q.config.MaxStoredItems)
	dropped := 0
	if len(items) > limit {
		dropped = len(items) - limit
		items = items[:limit]
	}

	q.mu.Lock()
	q.items = append(q.items, items...)
	if q.dedupKey != nil {
		for _, item := range items {
			if key := q.dedupKey(item); key != "" {
				q.seen[key] = struct{}{}
			}
		}
	}
	q.mu.Unlock()

	if dropped > 0 {
		q.reportDrop(dropped)
	}
}

// Close marks the queue closed and spills pending items so they survive
// restart. Further enqueues fail.
func (q *deliveryQueue[T]) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	snapshot := append([]T(nil), q.items...)
	q.mu.Unlock()

	if len(snapshot) > 0 {
		q.persistSpill(snapshot)
	}
}

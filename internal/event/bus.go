package event

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"vigil/internal/buffer"
	"vigil/internal/logging"
	"vigil/internal/metrics"
)

const defaultSubscriberBufferSize = 128
const defaultDropWarningThreshold = 0.01
const defaultDropWarningInterval = 30 * time.Second

type BusOptions struct {
	Name                 string
	SubscriberBufferSize int
	DropWarningThreshold float64
	DropWarningInterval  time.Duration
	HistorySize          int
	Registry             *metrics.Registry
	Logger               *logging.Logger
}

// Bus fans published values out to subscriber channels. Publishing
// never blocks: the supervisor publishes from watcher delivery
// contexts, so a full subscriber loses the value instead of stalling
// the watch. Deliveries run under the bus lock, which keeps
// cancellation from closing a channel mid-send. A bounded history
// window backs replay for late joiners.
type Bus[T any] struct {
	mu          sync.Mutex
	subscribers map[uint64]subscription[T]
	nextSubID   uint64
	closed      bool
	closeOnce   sync.Once
	options     BusOptions
	registry    *metrics.Registry
	logger      *logging.Logger
	history     *buffer.Ring[T]
	published   atomic.Int64
	dropped     atomic.Int64
	lastWarning atomic.Int64
}

type subscription[T any] struct {
	id     uint64
	ch     chan T
	filter func(T) bool
}

func NewBus[T any](ctx context.Context, opts BusOptions) *Bus[T] {
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.SubscriberBufferSize <= 0 {
		opts.SubscriberBufferSize = defaultSubscriberBufferSize
	}
	if opts.DropWarningThreshold <= 0 {
		opts.DropWarningThreshold = defaultDropWarningThreshold
	}
	if opts.DropWarningInterval <= 0 {
		opts.DropWarningInterval = defaultDropWarningInterval
	}
	bus := &Bus[T]{
		subscribers: make(map[uint64]subscription[T]),
		options:     opts,
		registry:    opts.Registry,
		logger:      opts.Logger.With(map[string]string{"vigil.category": "bus"}),
	}
	if opts.HistorySize > 0 {
		bus.history = buffer.NewRing[T](opts.HistorySize)
	}
	if bus.registry == nil {
		bus.registry = metrics.Default
	}
	if done := ctx.Done(); done != nil {
		go func() {
			<-done
			bus.Close()
		}()
	}
	return bus
}

func (b *Bus[T]) Subscribe() (<-chan T, func()) {
	return b.SubscribeFiltered(nil)
}

// SubscribeFiltered registers a subscriber that only receives values
// the filter accepts. The filter runs with the bus lock held and must
// not call back into the bus; a panicking filter evicts its
// subscriber.
func (b *Bus[T]) SubscribeFiltered(filter func(T) bool) (<-chan T, func()) {
	if b == nil {
		ch := make(chan T)
		close(ch)
		return ch, func() {}
	}

	ch := make(chan T, b.options.SubscriberBufferSize)
	id := atomic.AddUint64(&b.nextSubID, 1)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	b.subscribers[id] = subscription[T]{id: id, ch: ch, filter: filter}
	filtered, unfiltered := b.countSubscribersLocked()
	b.mu.Unlock()

	b.setSubscriberCounts(filtered, unfiltered)

	cancel := func() {
		b.removeSubscriber(id)
	}

	return ch, cancel
}

func (b *Bus[T]) Publish(value T) {
	if b == nil {
		return
	}
	if isNil(value) {
		return
	}

	eventType := b.eventType(value)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.history.Add(value)

	dropped := 0
	var evicted []chan T
	for id, sub := range b.subscribers {
		allowed, ok := filterAllows(sub, value)
		if !ok {
			delete(b.subscribers, id)
			evicted = append(evicted, sub.ch)
			continue
		}
		if !allowed {
			continue
		}
		select {
		case sub.ch <- value:
		default:
			dropped++
		}
	}
	var filtered, unfiltered int
	if len(evicted) > 0 {
		filtered, unfiltered = b.countSubscribersLocked()
	}
	b.mu.Unlock()

	b.incPublished(eventType)
	for i := 0; i < dropped; i++ {
		b.incDropped(eventType)
	}
	if len(evicted) > 0 {
		for _, ch := range evicted {
			close(ch)
		}
		b.setSubscriberCounts(filtered, unfiltered)
		b.logger.Warn("subscriber filter panicked, removing", map[string]string{
			"bus":     b.busName(),
			"evicted": fmt.Sprintf("%d", len(evicted)),
		})
	}
	if b.logger.Enabled(logging.LevelDebug) {
		b.logger.Debug("event published", map[string]string{
			"bus":  b.busName(),
			"type": eventType,
		})
	}
}

func (b *Bus[T]) Close() {
	if b == nil {
		return
	}
	b.closeOnce.Do(func() {
		b.mu.Lock()
		b.closed = true
		subscribers := b.subscribers
		b.subscribers = make(map[uint64]subscription[T])
		b.mu.Unlock()

		for _, sub := range subscribers {
			close(sub.ch)
		}
		b.setSubscriberCounts(0, 0)
	})
}

// DumpHistory returns a copy of the retained history window, oldest
// first.
func (b *Bus[T]) DumpHistory() []T {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.history.List()
}

func (b *Bus[T]) SubscriberCount() int {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers)
}

func (b *Bus[T]) removeSubscriber(id uint64) {
	if b == nil {
		return
	}
	var ch chan T
	var filtered int
	var unfiltered int
	removed := false
	b.mu.Lock()
	if existing, ok := b.subscribers[id]; ok {
		delete(b.subscribers, id)
		ch = existing.ch
		removed = true
		filtered, unfiltered = b.countSubscribersLocked()
		close(ch)
	}
	b.mu.Unlock()

	if removed {
		b.setSubscriberCounts(filtered, unfiltered)
	}
}

// filterAllows reports whether the subscription wants the value, and
// ok=false when the filter panicked.
func filterAllows[T any](sub subscription[T], value T) (allowed, ok bool) {
	if sub.filter == nil {
		return true, true
	}
	defer func() {
		if recover() != nil {
			allowed, ok = false, false
		}
	}()
	return sub.filter(value), true
}

func (b *Bus[T]) countSubscribersLocked() (filtered int, unfiltered int) {
	for _, sub := range b.subscribers {
		if sub.filter == nil {
			unfiltered++
		} else {
			filtered++
		}
	}
	return filtered, unfiltered
}

func (b *Bus[T]) busName() string {
	if b.options.Name == "" {
		return "event_bus"
	}
	return b.options.Name
}

// typeLabeled lets any published value contribute a metrics label
// without implementing the full Event interface.
type typeLabeled interface {
	Type() string
}

func (b *Bus[T]) eventType(value T) string {
	typed, ok := any(value).(typeLabeled)
	if !ok {
		return "unknown"
	}
	name := typed.Type()
	if name == "" {
		return "unknown"
	}
	return name
}

func (b *Bus[T]) incPublished(eventType string) {
	b.published.Add(1)
	if b.registry == nil {
		return
	}
	b.registry.IncEventPublished(b.busName(), eventType)
}

func (b *Bus[T]) incDropped(eventType string) {
	b.dropped.Add(1)
	if b.registry != nil {
		b.registry.IncEventDropped(b.busName(), eventType)
	}
	b.maybeWarnDropRate()
}

func (b *Bus[T]) setSubscriberCounts(filtered, unfiltered int) {
	if b.registry == nil {
		return
	}
	b.registry.SetEventSubscriberCounts(b.busName(), filtered, unfiltered)
}

func (b *Bus[T]) maybeWarnDropRate() {
	threshold := b.options.DropWarningThreshold
	if threshold <= 0 {
		return
	}
	published := b.published.Load()
	if published == 0 {
		return
	}
	dropped := b.dropped.Load()
	if dropped == 0 {
		return
	}
	rate := float64(dropped) / float64(published)
	if rate < threshold {
		return
	}
	interval := b.options.DropWarningInterval
	if interval <= 0 {
		interval = defaultDropWarningInterval
	}
	now := time.Now()
	lastNanos := b.lastWarning.Load()
	if lastNanos > 0 {
		last := time.Unix(0, lastNanos)
		if now.Sub(last) < interval {
			return
		}
	}
	if !b.lastWarning.CompareAndSwap(lastNanos, now.UnixNano()) {
		return
	}
	b.logger.Warn("subscriber drop rate above threshold", map[string]string{
		"bus":       b.busName(),
		"rate":      fmt.Sprintf("%.2f%%", rate*100),
		"dropped":   fmt.Sprintf("%d", dropped),
		"published": fmt.Sprintf("%d", published),
	})
}

func isNil[T any](value T) bool {
	kind := reflect.ValueOf(value)
	if !kind.IsValid() {
		return true
	}
	switch kind.Kind() {
	case reflect.Chan, reflect.Func, reflect.Map, reflect.Pointer, reflect.Interface, reflect.Slice:
		return kind.IsNil()
	default:
		return false
	}
}

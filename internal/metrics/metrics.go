package metrics

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

type Registry struct {
	eventsDelivered atomic.Int64
	bufferDrops     atomic.Int64
	overflows       atomic.Int64
	watchesActive   atomic.Int64
	streamsActive   atomic.Int64
	streams         sync.Map
	busCounters     sync.Map
	busSubscribers  sync.Map
}

type streamStats struct {
	delivered atomic.Int64
	lastID    atomic.Uint64
}

type busCounterKey struct {
	bus       string
	eventType string
}

type busCounters struct {
	published atomic.Int64
	dropped   atomic.Int64
}

type busSubscribers struct {
	filtered   atomic.Int64
	unfiltered atomic.Int64
}

var Default = &Registry{}

func (r *Registry) WatchStarted() {
	if r == nil {
		return
	}
	r.watchesActive.Add(1)
}

func (r *Registry) WatchStopped() {
	if r == nil {
		return
	}
	r.watchesActive.Add(-1)
}

func (r *Registry) StreamStarted() {
	if r == nil {
		return
	}
	r.streamsActive.Add(1)
}

func (r *Registry) StreamStopped() {
	if r == nil {
		return
	}
	r.streamsActive.Add(-1)
}

func (r *Registry) IncBufferDrop() {
	if r == nil {
		return
	}
	r.bufferDrops.Add(1)
}

func (r *Registry) IncOverflow() {
	if r == nil {
		return
	}
	r.overflows.Add(1)
}

func (r *Registry) RecordDelivery(stream string, events int, lastID uint64) {
	if r == nil || events <= 0 {
		return
	}
	r.eventsDelivered.Add(int64(events))
	stats := r.streamStats(stream)
	stats.delivered.Add(int64(events))
	if lastID > stats.lastID.Load() {
		stats.lastID.Store(lastID)
	}
}

func (r *Registry) IncEventPublished(bus, eventType string) {
	if r == nil {
		return
	}
	r.busCounterStats(bus, eventType).published.Add(1)
}

func (r *Registry) IncEventDropped(bus, eventType string) {
	if r == nil {
		return
	}
	r.busCounterStats(bus, eventType).dropped.Add(1)
}

func (r *Registry) SetEventSubscriberCounts(bus string, filtered, unfiltered int) {
	if r == nil {
		return
	}
	subs := r.busSubscriberStats(bus)
	subs.filtered.Store(int64(filtered))
	subs.unfiltered.Store(int64(unfiltered))
}

func (r *Registry) WritePrometheus(writer io.Writer) error {
	if r == nil {
		return nil
	}

	writeCounter(writer, "vigil_events_delivered_total", "Total events delivered to sinks", r.eventsDelivered.Load())
	writeCounter(writer, "vigil_buffer_drops_total", "Total events dropped by internal buffers", r.bufferDrops.Load())
	writeCounter(writer, "vigil_overflows_total", "Total kernel queue overflows observed", r.overflows.Load())
	writeGauge(writer, "vigil_watches_active", "Path watchers currently armed", r.watchesActive.Load())
	writeGauge(writer, "vigil_streams_active", "Stream watchers currently started", r.streamsActive.Load())

	streamNames := r.streamNames()
	sort.Strings(streamNames)

	writeHelp(writer, "vigil_stream_delivered_total", "Events delivered per stream")
	fmt.Fprintln(writer, "# TYPE vigil_stream_delivered_total counter")
	writeHelp(writer, "vigil_stream_last_event_id", "Highest event id delivered per stream")
	fmt.Fprintln(writer, "# TYPE vigil_stream_last_event_id gauge")

	for _, name := range streamNames {
		stats := r.streamStats(name)
		label := formatLabel(name)
		fmt.Fprintf(writer, "vigil_stream_delivered_total{stream=%s} %d\n", label, stats.delivered.Load())
		fmt.Fprintf(writer, "vigil_stream_last_event_id{stream=%s} %d\n", label, stats.lastID.Load())
	}

	r.writeBusMetrics(writer)
	return nil
}

func (r *Registry) writeBusMetrics(writer io.Writer) {
	var counterKeys []busCounterKey
	r.busCounters.Range(func(key, value interface{}) bool {
		if typed, ok := key.(busCounterKey); ok {
			counterKeys = append(counterKeys, typed)
		}
		return true
	})
	sort.Slice(counterKeys, func(i, j int) bool {
		if counterKeys[i].bus != counterKeys[j].bus {
			return counterKeys[i].bus < counterKeys[j].bus
		}
		return counterKeys[i].eventType < counterKeys[j].eventType
	})

	if len(counterKeys) > 0 {
		writeHelp(writer, "vigil_events_published_total", "Events published per bus and type")
		fmt.Fprintln(writer, "# TYPE vigil_events_published_total counter")
		writeHelp(writer, "vigil_events_dropped_total", "Events dropped per bus and type")
		fmt.Fprintln(writer, "# TYPE vigil_events_dropped_total counter")
		for _, key := range counterKeys {
			stats := r.busCounterStats(key.bus, key.eventType)
			busLabel := formatLabel(key.bus)
			typeLabel := formatLabel(key.eventType)
			fmt.Fprintf(writer, "vigil_events_published_total{bus=%s,type=%s} %d\n", busLabel, typeLabel, stats.published.Load())
			fmt.Fprintf(writer, "vigil_events_dropped_total{bus=%s,type=%s} %d\n", busLabel, typeLabel, stats.dropped.Load())
		}
	}

	var busNames []string
	r.busSubscribers.Range(func(key, value interface{}) bool {
		if name, ok := key.(string); ok {
			busNames = append(busNames, name)
		}
		return true
	})
	sort.Strings(busNames)

	if len(busNames) > 0 {
		writeHelp(writer, "vigil_event_subscribers", "Current subscribers per bus")
		fmt.Fprintln(writer, "# TYPE vigil_event_subscribers gauge")
		for _, name := range busNames {
			subs := r.busSubscriberStats(name)
			label := formatLabel(name)
			fmt.Fprintf(writer, "vigil_event_subscribers{bus=%s,filtered=\"true\"} %d\n", label, subs.filtered.Load())
			fmt.Fprintf(writer, "vigil_event_subscribers{bus=%s,filtered=\"false\"} %d\n", label, subs.unfiltered.Load())
		}
	}
}

func (r *Registry) streamStats(name string) *streamStats {
	if strings.TrimSpace(name) == "" {
		name = "unknown"
	}
	value, _ := r.streams.LoadOrStore(name, &streamStats{})
	return value.(*streamStats)
}

func (r *Registry) busCounterStats(bus, eventType string) *busCounters {
	key := busCounterKey{bus: bus, eventType: eventType}
	value, _ := r.busCounters.LoadOrStore(key, &busCounters{})
	return value.(*busCounters)
}

func (r *Registry) busSubscriberStats(bus string) *busSubscribers {
	value, _ := r.busSubscribers.LoadOrStore(bus, &busSubscribers{})
	return value.(*busSubscribers)
}

func (r *Registry) streamNames() []string {
	if r == nil {
		return nil
	}
	var names []string
	r.streams.Range(func(key, value interface{}) bool {
		if name, ok := key.(string); ok {
			names = append(names, name)
		}
		return true
	})
	return names
}

func writeHelp(writer io.Writer, metric, help string) {
	fmt.Fprintf(writer, "# HELP %s %s\n", metric, help)
}

func writeCounter(writer io.Writer, metric, help string, value int64) {
	writeHelp(writer, metric, help)
	fmt.Fprintf(writer, "# TYPE %s counter\n", metric)
	fmt.Fprintf(writer, "%s %d\n", metric, value)
}

func writeGauge(writer io.Writer, metric, help string, value int64) {
	writeHelp(writer, metric, help)
	fmt.Fprintf(writer, "# TYPE %s gauge\n", metric)
	fmt.Fprintf(writer, "%s %d\n", metric, value)
}

func formatLabel(value string) string {
	escaped := strings.ReplaceAll(value, "\\", "\\\\")
	escaped = strings.ReplaceAll(escaped, "\"", "\\\"")
	return fmt.Sprintf("\"%s\"", escaped)
}

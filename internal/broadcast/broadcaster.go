// Package broadcast fans committed queue events out to live viewers and
// downstream systems.
//
// Every key gets its own lane: a bounded buffer drained by one goroutine, so
// events of a key reach each sink in commit order while a slow key never
// holds up another. Publish never blocks the mutation that produced the
// event. When a lane is full its oldest pending event is discarded; every
// event carries a full snapshot, so a viewer that misses one recovers on the
// next. Sink failures are logged and counted, never returned.
package broadcast

import (
	"context"
	"sync"
	"time"

	"qms/doctor-queue/internal/models"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Sink delivers one event to a single destination.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, event models.QueueEvent) error
}

type Options struct {
	Buffer      int
	SinkTimeout time.Duration
	Logger      *zap.Logger
}

type Broadcaster struct {
	mu       sync.Mutex
	lanes    map[models.QueueKey]*lane
	retiring map[models.QueueKey]*lane
	closed   bool
	wg       sync.WaitGroup

	sinks   []Sink
	buffer  int
	timeout time.Duration
	log     *zap.Logger
}

func New(options Options, sinks ...Sink) *Broadcaster {
	if options.Buffer <= 0 {
		options.Buffer = 64
	}
	if options.SinkTimeout <= 0 {
		options.SinkTimeout = 5 * time.Second
	}
	if options.Logger == nil {
		options.Logger = zap.NewNop()
	}
	return &Broadcaster{
		lanes:    make(map[models.QueueKey]*lane),
		retiring: make(map[models.QueueKey]*lane),
		sinks:    sinks,
		buffer:   options.Buffer,
		timeout:  options.SinkTimeout,
		log:      options.Logger,
	}
}

// Publish queues the event on its key's lane. Callers serialize Publish per
// key, which is what keeps each lane in commit order.
func (b *Broadcaster) Publish(event models.QueueEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		droppedTotal.Inc()
		return
	}
	events := b.lane(event.Key()).events

	select {
	case events <- event:
		return
	default:
	}
	select {
	case old := <-events:
		droppedTotal.Inc()
		b.log.Warn("broadcast lane full, dropped oldest event",
			zap.String("doctor_id", old.DoctorID),
			zap.String("date", old.Date),
			zap.Uint64("version", old.Version),
		)
	default:
	}
	select {
	case events <- event:
	default:
		droppedTotal.Inc()
		b.log.Warn("broadcast lane full, dropped event", zap.Uint64("version", event.Version))
	}
}

// Close stops accepting events and waits for every lane to drain.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	for _, l := range b.lanes {
		close(l.events)
	}
	b.mu.Unlock()
	b.wg.Wait()
}

type lane struct {
	events chan models.QueueEvent
	done   chan struct{}
}

// lane returns the key's lane, starting its worker on first use. A worker
// that replaces a retiring lane of the same key waits for it to drain first.
// b.mu must be held.
func (b *Broadcaster) lane(key models.QueueKey) *lane {
	if l, ok := b.lanes[key]; ok {
		return l
	}
	l := &lane{
		events: make(chan models.QueueEvent, b.buffer),
		done:   make(chan struct{}),
	}
	prev := b.retiring[key]
	b.lanes[key] = l
	lanesActive.Set(float64(len(b.lanes)))
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer close(l.done)
		if prev != nil {
			<-prev.done
		}
		for event := range l.events {
			b.deliver(event)
		}
		b.mu.Lock()
		if b.retiring[key] == l {
			delete(b.retiring, key)
		}
		b.mu.Unlock()
	}()
	return l
}

// CloseBefore retires the lanes of every key dated before the given day
// (YYYY-MM-DD). Pending events are still delivered; a later event of a
// retired key opens a new lane.
func (b *Broadcaster) CloseBefore(before string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0
	}
	retired := 0
	for key, l := range b.lanes {
		if key.Date >= before {
			continue
		}
		delete(b.lanes, key)
		b.retiring[key] = l
		close(l.events)
		retired++
	}
	lanesActive.Set(float64(len(b.lanes)))
	return retired
}

// deliver sends one event to all sinks concurrently and returns once each has
// finished or timed out, so the next event of the key follows it everywhere.
func (b *Broadcaster) deliver(event models.QueueEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()

	var g errgroup.Group
	for _, sink := range b.sinks {
		g.Go(func() error {
			if err := sink.Deliver(ctx, event); err != nil {
				sinkFailuresTotal.WithLabelValues(sink.Name()).Inc()
				b.log.Error("broadcast sink failed",
					zap.String("sink", sink.Name()),
					zap.String("doctor_id", event.DoctorID),
					zap.String("date", event.Date),
					zap.Uint64("version", event.Version),
					zap.Error(err),
				)
			}
			return nil
		})
	}
	_ = g.Wait()
	deliveredTotal.Inc()
}

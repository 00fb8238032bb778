package audit

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/tendant/simple-idm-login/internal/metrics"
)

// DefaultBufferSize is used when no buffer size is configured.
const DefaultBufferSize = 256

// Dispatcher forwards records to a sink on its own goroutine. Emit never
// blocks: records arriving while the buffer is full are dropped and counted.
type Dispatcher struct {
	sink      Sink
	ch        chan Record
	done      chan struct{}
	wg        sync.WaitGroup
	dropped   atomic.Uint64
	closed    atomic.Bool
	closeOnce sync.Once
}

// NewDispatcher starts a dispatcher writing to sink.
func NewDispatcher(bufferSize int, sink Sink) *Dispatcher {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	d := &Dispatcher{
		sink: sink,
		ch:   make(chan Record, bufferSize),
		done: make(chan struct{}),
	}

	d.wg.Add(1)
	go d.run()
	return d
}

func (d *Dispatcher) run() {
	defer d.wg.Done()

	for {
		select {
		case r := <-d.ch:
			d.sink.Emit(context.Background(), r)
		case <-d.done:
			// drain what was queued before Close
			for {
				select {
				case r := <-d.ch:
					d.sink.Emit(context.Background(), r)
				default:
					return
				}
			}
		}
	}
}

// Emit queues r for the sink.
func (d *Dispatcher) Emit(r Record) {
	if d == nil || d.closed.Load() {
		return
	}
	select {
	case d.ch <- r:
	case <-d.done:
	default:
		d.dropped.Add(1)
		metrics.AuditEventsDropped.Inc()
	}
}

// Close stops accepting records and waits for queued ones to be written.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		close(d.done)
		d.wg.Wait()
	})
}

// Dropped returns how many records were dropped.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}

package telemetry

import (
	"context"
	"sync/atomic"
	"time"

	"kart-drive-core/utils"
)

const (
	defaultQueueDepth = 1024
	defaultBatchSize  = 64
	flushInterval     = 500 * time.Millisecond
)

// Recorder batches samples of one run into the store from a background
// goroutine. Record never blocks the control loop: when the queue is full the
// sample is dropped and counted.
type Recorder struct {
	store   *Store
	runID   string
	queue   chan Sample
	batch   int
	log     *utils.Logger
	dropped atomic.Uint64
	written atomic.Uint64
}

func NewRecorder(store *Store, runID string, depth int, log *utils.Logger) *Recorder {
	if depth <= 0 {
		depth = defaultQueueDepth
	}
	return &Recorder{
		store: store,
		runID: runID,
		queue: make(chan Sample, depth),
		batch: defaultBatchSize,
		log:   log,
	}
}

func (r *Recorder) RunID() string { return r.runID }

// Record enqueues s and reports whether it was accepted.
func (r *Recorder) Record(s Sample) bool {
	select {
	case r.queue <- s:
		return true
	default:
		r.dropped.Add(1)
		return false
	}
}

func (r *Recorder) Dropped() uint64 { return r.dropped.Load() }
func (r *Recorder) Written() uint64 { return r.written.Load() }

// Run writes queued samples until ctx is cancelled, then drains whatever is
// still queued and returns.
func (r *Recorder) Run(ctx context.Context) error {
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	// Writes use their own context so shutdown never aborts a batch halfway.
	pending := make([]Sample, 0, r.batch)
	flush := func() {
		if len(pending) == 0 {
			return
		}
		if err := r.store.InsertTicks(context.Background(), r.runID, pending); err != nil {
			r.log.Error("telemetry: dropped %d ticks: %v", len(pending), err)
		} else {
			r.written.Add(uint64(len(pending)))
		}
		pending = pending[:0]
	}

	for {
		select {
		case s := <-r.queue:
			pending = append(pending, s)
			if len(pending) >= r.batch {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-ctx.Done():
		drain:
			for {
				select {
				case s := <-r.queue:
					pending = append(pending, s)
				default:
					break drain
				}
			}
			flush()
			if n := r.Dropped(); n > 0 {
				r.log.Warn("telemetry: %d samples dropped on a full queue", n)
			}
			return nil
		}
	}
}

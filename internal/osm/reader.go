package osm

import (
	"context"
	"sync"
	"time"

	"github.com/simonwaldherr/openmapd/internal/core"
	"github.com/simonwaldherr/openmapd/internal/pbf"
)

// StreamState is the lifecycle state returned by Start/Stop.
type StreamState int

const (
	StreamIdle StreamState = iota
	StreamRunning
	StreamProcessing
	StreamStopped
	StreamError
)

func (s StreamState) String() string {
	switch s {
	case StreamIdle:
		return "Idle"
	case StreamRunning:
		return "Running"
	case StreamProcessing:
		return "Processing"
	case StreamStopped:
		return "Stopped"
	case StreamError:
		return "Error"
	default:
		return "Unknown"
	}
}

// ScanState is a point-in-time snapshot handed to OnScanStarted/OnScanFinished
// handlers.
type ScanState struct {
	State      StreamState
	Created    int64
	Dispatched int64
	Received   int64
	Finished   int64
}

// ReaderOptions configures a Reader.
type ReaderOptions struct {
	Workers              int
	MaxPendingProcessing int // per-worker queue depth; <=0 defaults to 8
	Decoder              DecoderOptions
	// DrainPollInterval is how often the finish-wait loop checks for
	// quiescence. Workers send no signal on finishing a blob, so this
	// ticker is the only thing that wakes the loop. Defaults to 1s.
	DrainPollInterval time.Duration
}

func (o ReaderOptions) normalized() ReaderOptions {
	out := o
	if out.Workers <= 0 {
		out.Workers = 1
	}
	if out.MaxPendingProcessing <= 0 {
		out.MaxPendingProcessing = 8
	}
	if out.DrainPollInterval <= 0 {
		out.DrainPollInterval = time.Second
	}
	return out
}

// Reader owns a Tokenizer (producer) and N decoder workers wired together by
// per-worker bounded channels under round-robin dispatch. It replaces the
// source's mutex+condvar+flag monitor with context cancellation, buffered
// channels, and a WaitGroup.
type Reader struct {
	stream core.StreamAdapter
	tok    *pbf.Tokenizer
	opts   ReaderOptions

	counters Counters
	rr       *RoundRobin

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	queues  []chan pbf.BlobRecord
	workers sync.WaitGroup
	done    chan struct{} // closed once producer+drain+workers have all finished

	onScanStarted  []func(ScanState)
	onRawBlob      []func(pbf.BlobRecord)
	onOSMElement   []func(Element)
	onScanFinished []func(ScanState)
	onDecodeError  []func(error, pbf.BlobRecord)
}

// NewReader builds a Reader over stream, driven by tok.
func NewReader(stream core.StreamAdapter, tok *pbf.Tokenizer, opts ReaderOptions) *Reader {
	return &Reader{stream: stream, tok: tok, opts: opts.normalized()}
}

func (r *Reader) OnScanStarted(fn func(ScanState))  { r.onScanStarted = append(r.onScanStarted, fn) }
func (r *Reader) OnRawBlob(fn func(pbf.BlobRecord))  { r.onRawBlob = append(r.onRawBlob, fn) }
func (r *Reader) OnOSMElement(fn func(Element))      { r.onOSMElement = append(r.onOSMElement, fn) }
func (r *Reader) OnScanFinished(fn func(ScanState))  { r.onScanFinished = append(r.onScanFinished, fn) }

// OnDecodeError registers a handler fired whenever a worker's Decode call on
// a blob fails (spec.md §7 kinds 4 and 5: unsupported compression and
// invariant violations are dropped with a diagnostic, the pipeline
// continues). The offending blob's record is passed for context.
func (r *Reader) OnDecodeError(fn func(error, pbf.BlobRecord)) {
	r.onDecodeError = append(r.onDecodeError, fn)
}

func (r *Reader) snapshot(state StreamState) ScanState {
	return ScanState{
		State:      state,
		Created:    r.counters.Created(),
		Dispatched: r.counters.Dispatched(),
		Received:   r.counters.Received(),
		Finished:   r.counters.Finished(),
	}
}

func (r *Reader) fireScanStarted(s ScanState) {
	for _, fn := range r.onScanStarted {
		fn(s)
	}
}

func (r *Reader) fireScanFinished(s ScanState) {
	for _, fn := range r.onScanFinished {
		fn(s)
	}
}

func (r *Reader) fireRawBlob(rec pbf.BlobRecord) {
	for _, fn := range r.onRawBlob {
		fn(rec)
	}
}

func (r *Reader) fireElement(el Element) {
	for _, fn := range r.onOSMElement {
		fn(el)
	}
}

func (r *Reader) fireDecodeError(err error, rec pbf.BlobRecord) {
	for _, fn := range r.onDecodeError {
		fn(err, rec)
	}
}

// Start opens the pipeline: spawns N workers and one producer goroutine
// that drives the tokenizer, and returns once they are wired up (not once
// scanning completes — use Join for that).
func (r *Reader) Start(ctx context.Context) (StreamState, error) {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return StreamProcessing, nil
	}
	r.counters.reset()
	n := r.opts.Workers
	r.rr = NewRoundRobin(n)
	r.queues = make([]chan pbf.BlobRecord, n)
	for i := range r.queues {
		r.queues[i] = make(chan pbf.BlobRecord, r.opts.MaxPendingProcessing)
	}
	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})
	r.running = true
	r.mu.Unlock()

	r.workers.Add(n)
	for w := 0; w < n; w++ {
		go r.runWorker(w)
	}

	go r.runProducer(runCtx)

	r.fireScanStarted(r.snapshot(StreamRunning))
	return StreamRunning, nil
}

func (r *Reader) runWorker(idx int) {
	defer r.workers.Done()
	for rec := range r.queues[idx] {
		r.counters.incReceived()
		r.fireRawBlob(rec)
		if err := Decode(rec, r.opts.Decoder, r.fireElement); err != nil {
			// Local decode failures are diagnostic-only: the block's
			// remaining, already-decoded elements (if any) were already
			// emitted before the error was hit.
			r.fireDecodeError(err, rec)
		}
		r.counters.incFinished()
	}
}

func (r *Reader) runProducer(ctx context.Context) {
	finishErrCh := make(chan error, 1)
	r.tok.OnDataReady(func(rec pbf.BlobRecord) {
		r.counters.incCreated()
		w := r.rr.Next()
		select {
		case r.queues[w] <- rec:
			r.counters.incDispatched()
		case <-ctx.Done():
			rec.Payload.Release()
		}
	})
	r.tok.OnFinish(func(err error) {
		finishErrCh <- err
	})

	splitErr := r.tok.Split()

	select {
	case <-finishErrCh:
	default:
	}
	if splitErr != nil {
		r.shutdown(StreamError)
		return
	}

	r.waitQuiescent(ctx)
	r.shutdown(StreamStopped)
}

// waitQuiescent blocks until every dispatched blob has been received and
// finished, or ctx is done. It re-checks the counters once per
// DrainPollInterval tick; no per-blob drain signal wakes it earlier.
func (r *Reader) waitQuiescent(ctx context.Context) {
	ticker := time.NewTicker(r.opts.DrainPollInterval)
	defer ticker.Stop()
	for {
		if r.counters.Quiescent() {
			return
		}
		select {
		case <-ticker.C:
			// poll tick; loop and recheck.
		case <-ctx.Done():
			return
		}
	}
}

func (r *Reader) shutdown(final StreamState) {
	for _, q := range r.queues {
		close(q)
	}
	r.workers.Wait()

	r.mu.Lock()
	r.running = false
	r.mu.Unlock()

	r.fireScanFinished(r.snapshot(final))
	close(r.done)
}

// Join blocks until the pipeline has fully drained and stopped. Idempotent:
// calling it more than once, or after the pipeline was never started, is
// safe.
func (r *Reader) Join() {
	r.mu.Lock()
	done := r.done
	r.mu.Unlock()
	if done == nil {
		return
	}
	<-done
}

// Stop requests the pipeline to end and blocks until it has. Safe to call
// when not running (returns StreamStopped immediately).
func (r *Reader) Stop() (StreamState, error) {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return StreamStopped, nil
	}
	cancel := r.cancel
	r.mu.Unlock()

	cancel()
	r.Join()
	return StreamStopped, nil
}

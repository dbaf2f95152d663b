package session

import "sync"

// StatusSink is notified of orchestrator and synthesis progress. Core code
// never waits on a sink's work; wrap slow sinks in a Dispatcher.
type StatusSink interface {
	OnSessionStateChanged(state string)
	OnTranscriptAppended(text string)
	OnPartialPreview(text string)
	OnError(kind, detail string)
}

// NopSink discards everything.
type NopSink struct{}

func (NopSink) OnSessionStateChanged(string) {}
func (NopSink) OnTranscriptAppended(string)  {}
func (NopSink) OnPartialPreview(string)      {}
func (NopSink) OnError(string, string)       {}

// Dispatcher queues events and delivers them to every sink, in order, on
// its own goroutine. Posting never blocks.
type Dispatcher struct {
	sinks []StatusSink

	mu     sync.Mutex
	queue  []func(StatusSink)
	wake   chan struct{}
	closed bool
	idle   *sync.Cond
	busy   bool
	done   chan struct{}
}

func NewDispatcher(sinks ...StatusSink) *Dispatcher {
	d := &Dispatcher{
		sinks: sinks,
		wake:  make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
	d.idle = sync.NewCond(&d.mu)
	go d.loop()
	return d
}

func (d *Dispatcher) post(ev func(StatusSink)) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.queue = append(d.queue, ev)
	d.mu.Unlock()
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *Dispatcher) loop() {
	defer close(d.done)
	for {
		d.mu.Lock()
		for len(d.queue) == 0 {
			d.busy = false
			d.idle.Broadcast()
			if d.closed {
				d.mu.Unlock()
				return
			}
			d.mu.Unlock()
			<-d.wake
			d.mu.Lock()
		}
		batch := d.queue
		d.queue = nil
		d.busy = true
		d.mu.Unlock()

		for _, ev := range batch {
			for _, s := range d.sinks {
				ev(s)
			}
		}
	}
}

// Flush waits until every event posted so far has been delivered. It must
// not be called from a sink.
func (d *Dispatcher) Flush() {
	d.mu.Lock()
	for len(d.queue) > 0 || d.busy {
		d.idle.Wait()
	}
	d.mu.Unlock()
}

// Close delivers what is queued and stops the goroutine. Later events are
// dropped.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		<-d.done
		return
	}
	d.closed = true
	d.mu.Unlock()
	select {
	case d.wake <- struct{}{}:
	default:
	}
	<-d.done
}

func (d *Dispatcher) OnSessionStateChanged(state string) {
	d.post(func(s StatusSink) { s.OnSessionStateChanged(state) })
}

func (d *Dispatcher) OnTranscriptAppended(text string) {
	d.post(func(s StatusSink) { s.OnTranscriptAppended(text) })
}

func (d *Dispatcher) OnPartialPreview(text string) {
	d.post(func(s StatusSink) { s.OnPartialPreview(text) })
}

func (d *Dispatcher) OnError(kind, detail string) {
	d.post(func(s StatusSink) { s.OnError(kind, detail) })
}

package negotiation

import "sync"

// event is one unit of work for the machine's run goroutine. reply is nil
// for fire-and-forget completions posted from engine callbacks.
type event struct {
	fn    func() error
	reply chan error
}

func (ev event) resolve(err error) {
	if ev.reply != nil {
		ev.reply <- err
	}
}

func (ev event) reject() {
	ev.resolve(ErrClosed)
}

// mailbox is an unbounded FIFO queue. Pushing never blocks, so engine
// callbacks can post events while the run goroutine is inside the engine.
type mailbox struct {
	mu     sync.Mutex
	queue  []event
	closed bool
	signal chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{signal: make(chan struct{}, 1)}
}

// push appends ev. It returns false once the mailbox is closed.
func (b *mailbox) push(ev event) bool {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return false
	}
	b.queue = append(b.queue, ev)
	b.mu.Unlock()

	select {
	case b.signal <- struct{}{}:
	default:
	}
	return true
}

// drain removes and returns every queued event.
func (b *mailbox) drain() []event {
	b.mu.Lock()
	defer b.mu.Unlock()
	q := b.queue
	b.queue = nil
	return q
}

// close rejects future pushes and returns whatever was still queued.
func (b *mailbox) close() []event {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	q := b.queue
	b.queue = nil
	return q
}

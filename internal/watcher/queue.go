package watcher

import "sync"

// Queue runs submitted functions one at a time in submission order.
// Watchers deliver every sink invocation through their queue, so a
// caller-supplied implementation can route deliveries onto an existing
// serial executor. Implementations must keep running submitted work
// until the owning watcher is closed.
type Queue interface {
	Dispatch(fn func())
}

const defaultQueueDepth = 64

// serialQueue is the queue watchers create when the caller does not
// supply one. A single goroutine drains the work channel, which gives
// the serial ordering guarantee for free.
type serialQueue struct {
	work      chan func()
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func newSerialQueue(depth int) *serialQueue {
	if depth <= 0 {
		depth = defaultQueueDepth
	}
	queue := &serialQueue{
		work: make(chan func(), depth),
		done: make(chan struct{}),
	}
	queue.wg.Add(1)
	go queue.loop()
	return queue
}

func (queue *serialQueue) loop() {
	defer queue.wg.Done()
	for {
		select {
		case fn := <-queue.work:
			fn()
		case <-queue.done:
			// Run whatever is still queued so barriers submitted
			// just before close are not lost. Delivery closures
			// guard themselves against cancelled watchers.
			for {
				select {
				case fn := <-queue.work:
					fn()
				default:
					return
				}
			}
		}
	}
}

// Dispatch submits fn. After close the queue goroutine is gone, so fn
// runs on the calling goroutine instead; closures submitted at that
// point are expected to be no-ops or barriers.
func (queue *serialQueue) Dispatch(fn func()) {
	if queue == nil || fn == nil {
		return
	}
	select {
	case <-queue.done:
		fn()
		return
	default:
	}
	select {
	case queue.work <- fn:
	case <-queue.done:
		fn()
	}
}

// close stops the queue and waits for queued work to finish.
func (queue *serialQueue) close() {
	if queue == nil {
		return
	}
	queue.closeOnce.Do(func() {
		close(queue.done)
	})
	queue.wg.Wait()
}

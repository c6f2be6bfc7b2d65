package dag

import (
	"sync"

	"github.com/arcs-skku/SSpark/internal/util"
	log "github.com/sirupsen/logrus"
)

// eventLoop is a single-consumer unbounded FIFO of scheduler events.
// Posting never blocks on handler execution; the consumer goroutine
// owns all scheduler state.
type eventLoop struct {
	name    string
	onEvent func(event)
	onStop  func()

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []event
	stopped bool
	done    chan struct{}
}

func newEventLoop(name string, onEvent func(event), onStop func()) *eventLoop {
	l := &eventLoop{
		name:    name,
		onEvent: onEvent,
		onStop:  onStop,
		done:    make(chan struct{}),
	}
	l.cond = sync.NewCond(&l.mu)
	return l
}

func (l *eventLoop) start() {
	go l.run()
}

// post enqueues an event. Events posted after stop are dropped.
func (l *eventLoop) post(ev event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped {
		log.Debugf("%s: dropping %T posted after stop", l.name, ev)
		return
	}
	l.queue = append(l.queue, ev)
	l.cond.Signal()
}

// stop drains already-queued events, runs the onStop hook on the
// consumer goroutine, and waits for it to exit
func (l *eventLoop) stop() {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		<-l.done
		return
	}
	l.stopped = true
	l.cond.Signal()
	l.mu.Unlock()
	<-l.done
}

func (l *eventLoop) run() {
	for {
		l.mu.Lock()
		for len(l.queue) == 0 && !l.stopped {
			l.cond.Wait()
		}
		if len(l.queue) == 0 {
			l.mu.Unlock()
			break
		}
		ev := l.queue[0]
		l.queue = l.queue[1:]
		l.mu.Unlock()
		l.dispatch(ev)
	}
	if l.onStop != nil {
		l.onStop()
	}
	close(l.done)
}

// dispatch isolates handler panics so one bad event cannot take the
// scheduler down with it
func (l *eventLoop) dispatch(ev event) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("%s: panic handling %T: %v\n%s", l.name, ev, r, util.GetTrace())
		}
	}()
	l.onEvent(ev)
}

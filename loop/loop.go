package loop

import (
	"sync"
)

// Loop runs posted tasks one at a time, in posting order, on a single
// goroutine. Every engine call and every handle listener runs on a Loop.
type Loop struct {
	mutex     sync.Mutex
	tasks     []func()
	wake      chan struct{}
	closed    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func New() *Loop {
	l := &Loop{
		wake:   make(chan struct{}, 1),
		closed: make(chan struct{}),
	}

	l.wg.Add(1)
	go l.run()

	return l
}

// Post enqueues f. It never blocks, so it is safe to call from inside a task.
// Returns false if the loop is already closed.
func (l *Loop) Post(f func()) bool {
	l.mutex.Lock()
	select {
	case <-l.closed:
		l.mutex.Unlock()
		return false
	default:
	}
	l.tasks = append(l.tasks, f)
	l.mutex.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}

	return true
}

// Call posts f and blocks until it has run. Must not be used from a task.
func (l *Loop) Call(f func()) bool {
	done := make(chan struct{})
	ok := l.Post(func() {
		defer close(done)
		f()
	})
	if !ok {
		return false
	}
	<-done
	return true
}

func (l *Loop) Closed() <-chan struct{} {
	return l.closed
}

// Close stops accepting tasks, runs the ones already queued and waits for the
// loop goroutine to exit.
func (l *Loop) Close() {
	l.closeOnce.Do(func() {
		l.mutex.Lock()
		close(l.closed)
		l.mutex.Unlock()
	})
	l.wg.Wait()
}

func (l *Loop) next() (f func(), ok bool) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	if len(l.tasks) == 0 {
		return nil, false
	}
	f = l.tasks[0]
	l.tasks[0] = nil
	l.tasks = l.tasks[1:]
	return f, true
}

func (l *Loop) drain() {
	for {
		f, ok := l.next()
		if !ok {
			return
		}
		f()
	}
}

func (l *Loop) run() {
	defer l.wg.Done()
	for {
		l.drain()
		select {
		case <-l.wake:
		case <-l.closed:
			l.drain()
			return
		}
	}
}

// Package loop provides a serial executor: posted tasks run one at a time,
// in the order they were posted, on a single goroutine.
package loop

import "sync"

// Loop runs posted tasks sequentially. The zero value is not usable; use New.
type Loop struct {
	mu      sync.Mutex
	tasks   []func()
	stopped bool

	wake chan struct{}
	done chan struct{}
}

// New starts a loop goroutine and returns its handle.
func New() *Loop {
	l := &Loop{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go l.run()
	return l
}

// Post enqueues fn. It reports false, and drops fn, once Stop has been called.
func (l *Loop) Post(fn func()) bool {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return false
	}
	l.tasks = append(l.tasks, fn)
	l.mu.Unlock()
	l.signal()
	return true
}

// Stop refuses further tasks. Tasks already queued still run.
func (l *Loop) Stop() {
	l.mu.Lock()
	l.stopped = true
	l.mu.Unlock()
	l.signal()
}

// Done is closed after Stop once the queue has drained.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

func (l *Loop) signal() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

func (l *Loop) run() {
	defer close(l.done)
	for {
		l.mu.Lock()
		if len(l.tasks) == 0 {
			stopped := l.stopped
			l.mu.Unlock()
			if stopped {
				return
			}
			<-l.wake
			continue
		}
		fn := l.tasks[0]
		l.tasks[0] = nil
		l.tasks = l.tasks[1:]
		l.mu.Unlock()
		fn()
	}
}

package importer

import "sync"

// Loop is the single-threaded cooperative scheduling domain that owns all
// session and row state, the same role the UI main loop plays in a desktop
// shell. Workers never touch that state directly; they hand completions back
// with Dispatch. Blocking work does not belong on the loop.
type Loop struct {
	funcs chan func()
	quit  chan struct{}
	done  chan struct{}
	once  sync.Once
}

func NewLoop() *Loop {
	return &Loop{
		funcs: make(chan func(), 64),
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
	}
}

// Run processes dispatched functions until Stop is called. It owns the
// calling goroutine.
func (l *Loop) Run() {
	defer close(l.done)
	for {
		select {
		case fn := <-l.funcs:
			fn()
		case <-l.quit:
			return
		}
	}
}

func (l *Loop) Stop() {
	l.once.Do(func() { close(l.quit) })
}

// Done closes once the loop has finished running.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// Dispatch queues fn to run on the loop. Safe to call from any goroutine;
// after the loop stops the function is dropped.
func (l *Loop) Dispatch(fn func()) {
	select {
	case l.funcs <- fn:
	case <-l.done:
	}
}

// Sync blocks until everything dispatched before it has run.
func (l *Loop) Sync() {
	ch := make(chan struct{})
	l.Dispatch(func() { close(ch) })
	select {
	case <-ch:
	case <-l.done:
	}
}

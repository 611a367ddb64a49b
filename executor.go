package p2pchat

import "sync"

// Executor runs Listener callbacks. Tasks submitted from one goroutine must
// run in submission order.
type Executor interface {
	Execute(task func())
}

// InlineExecutor runs each task on the submitting goroutine.
type InlineExecutor struct{}

// Execute runs task immediately.
func (InlineExecutor) Execute(task func()) {
	task()
}

// SerialExecutor runs tasks one at a time on a dedicated goroutine, the
// way a UI thread would. Tasks submitted after Close are dropped.
type SerialExecutor struct {
	tasks chan func()
	done  chan struct{}
	once  sync.Once
	wg    sync.WaitGroup
}

// NewSerialExecutor starts an executor with room for queueSize pending tasks.
func NewSerialExecutor(queueSize int) *SerialExecutor {
	if queueSize <= 0 {
		queueSize = 64
	}
	e := &SerialExecutor{
		tasks: make(chan func(), queueSize),
		done:  make(chan struct{}),
	}
	e.wg.Add(1)
	go e.loop()
	return e
}

// Execute queues task, blocking while the queue is full.
func (e *SerialExecutor) Execute(task func()) {
	select {
	case <-e.done:
		return
	default:
	}

	select {
	case e.tasks <- task:
	case <-e.done:
	}
}

// Close stops the executor after the task in progress.
// Queued tasks that have not started are dropped. Close must not be
// called from inside a task.
func (e *SerialExecutor) Close() {
	e.once.Do(func() { close(e.done) })
	e.wg.Wait()
}

func (e *SerialExecutor) loop() {
	defer e.wg.Done()
	for {
		select {
		case <-e.done:
			return
		case task := <-e.tasks:
			task()
		}
	}
}

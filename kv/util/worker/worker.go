package worker

import "sync"

type TaskStop struct{}

type Task interface{}

// Worker runs one or more goroutines draining the same task queue.
type Worker struct {
	name     string
	sender   chan<- Task
	receiver <-chan Task
	wg       *sync.WaitGroup

	mu      sync.Mutex
	running int
}

type TaskHandler interface {
	Handle(t Task)
}

type Starter interface {
	Start()
}

// Start adds one goroutine handling tasks with handler.
func (w *Worker) Start(handler TaskHandler) {
	w.mu.Lock()
	w.running++
	w.mu.Unlock()
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		if s, ok := handler.(Starter); ok {
			s.Start()
		}
		for {
			task := <-w.receiver
			if _, ok := task.(TaskStop); ok {
				return
			}
			handler.Handle(task)
		}
	}()
}

// StartPool adds n goroutines, each with its own handler from newHandler.
// Tasks go to whichever goroutine is free, so they may finish in any order.
func (w *Worker) StartPool(n int, newHandler func(i int) TaskHandler) {
	for i := 0; i < n; i++ {
		w.Start(newHandler(i))
	}
}

func (w *Worker) Sender() chan<- Task {
	return w.sender
}

func (w *Worker) Name() string {
	return w.name
}

// Stop asks every goroutine to exit once the tasks queued before it are
// handled. Wait on the WaitGroup to join them.
func (w *Worker) Stop() {
	w.mu.Lock()
	n := w.running
	w.running = 0
	w.mu.Unlock()
	for i := 0; i < n; i++ {
		w.sender <- TaskStop{}
	}
}

const defaultWorkerCapacity = 128

func NewWorker(name string, wg *sync.WaitGroup) *Worker {
	ch := make(chan Task, defaultWorkerCapacity)
	return &Worker{
		sender:   (chan<- Task)(ch),
		receiver: (<-chan Task)(ch),
		name:     name,
		wg:       wg,
	}
}

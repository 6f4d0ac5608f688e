package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"Thalos_Prime/backend/go/internal/models"
	"Thalos_Prime/backend/go/internal/task_service/processor"
	"Thalos_Prime/backend/go/internal/task_service/store"
	"Thalos_Prime/backend/go/pkg/logger"
)

var (
	// ErrInvalidIntent is returned when the submitted intent is empty after trimming.
	ErrInvalidIntent = errors.New("intent must not be empty")
	// ErrClosed is returned for submissions after Close.
	ErrClosed = errors.New("coordinator is closed")
)

// Notifier receives task lifecycle events.
type Notifier interface {
	Notify(ctx context.Context, event models.TaskEvent) error
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ctx context.Context, event models.TaskEvent) error

// Notify implements Notifier.
func (f NotifierFunc) Notify(ctx context.Context, event models.TaskEvent) error {
	return f(ctx, event)
}

// ListFilter narrows List results. Zero values mean no filtering.
type ListFilter struct {
	Status models.TaskStatus
	Limit  int
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithWorkers sets how many workers pull from the work queue. All workers share
// one execution gate, so this never raises the number of running tasks above one.
func WithWorkers(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.workers = n
		}
	}
}

// WithNotifiers registers lifecycle event observers.
func WithNotifiers(notifiers ...Notifier) Option {
	return func(c *Coordinator) {
		c.notifiers = append(c.notifiers, notifiers...)
	}
}

// Coordinator accepts intents and drives their asynchronous execution.
// Submission never blocks on processing; processing is serialized through a
// single gate regardless of how many tasks are queued.
type Coordinator struct {
	store         store.TaskStore
	process       processor.Func
	logger        *logger.Logger
	initializedAt time.Time

	workers   int
	notifiers []Notifier

	work   *queue[string]
	events *queue[models.TaskEvent]
	gate   *gate

	lifecycle sync.RWMutex
	closed    atomic.Bool
	startOnce sync.Once
	cancel    context.CancelFunc
	workerWG  sync.WaitGroup
	eventWG   sync.WaitGroup
}

// NewCoordinator creates a Coordinator. Call Start to begin processing.
func NewCoordinator(taskStore store.TaskStore, process processor.Func, log *logger.Logger, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:         taskStore,
		process:       process,
		logger:        log,
		initializedAt: time.Now().UTC(),
		workers:       1,
		work:          newQueue[string](),
		events:        newQueue[models.TaskEvent](),
		gate:          newGate(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start launches the workers and the event dispatcher. Calling it more than once has no effect.
// Cancelling ctx does not stop them; only Close does, so the running task's
// final event is still delivered.
func (c *Coordinator) Start(ctx context.Context) {
	c.startOnce.Do(func() {
		runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		c.cancel = cancel

		for i := 0; i < c.workers; i++ {
			c.workerWG.Add(1)
			go c.runWorker(runCtx)
		}
		c.eventWG.Add(1)
		go c.dispatchEvents(runCtx)

		c.logger.WithPayload(map[string]interface{}{"workers": c.workers}).Info("Coordinator started")
	})
}

// Submit records a pending task for intent and schedules its execution.
// It returns as soon as the task is queued, so the context is not consulted.
func (c *Coordinator) Submit(_ context.Context, intent string, metadata map[string]string) (models.Task, error) {
	if strings.TrimSpace(intent) == "" {
		return models.Task{}, ErrInvalidIntent
	}

	c.lifecycle.RLock()
	defer c.lifecycle.RUnlock()
	if c.closed.Load() {
		return models.Task{}, ErrClosed
	}

	task := c.store.Create(intent, metadata)
	// The pending event must be queued ahead of anything a worker emits for this task.
	c.emit(task, "task submitted")
	c.work.Push(task.ID)

	c.logger.WithTrace(task.ID).Debug("Task submitted")
	return task, nil
}

// Get returns a snapshot of the task with the given id.
func (c *Coordinator) Get(id string) (models.Task, bool) {
	return c.store.Get(id)
}

// List returns tasks newest first, narrowed by filter.
func (c *Coordinator) List(filter ListFilter) []models.Task {
	tasks := c.store.List()
	if filter.Status != "" {
		kept := tasks[:0]
		for _, t := range tasks {
			if t.Status == filter.Status {
				kept = append(kept, t)
			}
		}
		tasks = kept
	}
	if filter.Limit > 0 && len(tasks) > filter.Limit {
		tasks = tasks[:filter.Limit]
	}
	return tasks
}

// Status returns the task summary together with the coordinator's construction time.
func (c *Coordinator) Status() models.SystemStatus {
	return models.SystemStatus{
		Summary:       c.store.Summary(),
		InitializedAt: c.initializedAt,
	}
}

// QueueDepth returns the number of tasks waiting for a worker.
func (c *Coordinator) QueueDepth() int {
	return c.work.Len()
}

// Close stops accepting submissions, lets the running task finish and waits for
// the workers and the event dispatcher until ctx is done. Tasks still queued stay pending.
func (c *Coordinator) Close(ctx context.Context) error {
	c.lifecycle.Lock()
	if c.closed.Swap(true) {
		c.lifecycle.Unlock()
		return nil
	}
	c.work.Close()
	c.lifecycle.Unlock()

	// A later Start becomes a no-op; without Start there is nothing to wait for.
	c.startOnce.Do(func() {})
	if c.cancel == nil {
		c.events.Close()
		return nil
	}

	if err := c.wait(ctx, &c.workerWG); err != nil {
		c.cancel()
		return fmt.Errorf("waiting for workers: %w", err)
	}
	c.events.Close()
	if err := c.wait(ctx, &c.eventWG); err != nil {
		c.cancel()
		return fmt.Errorf("waiting for event dispatcher: %w", err)
	}
	c.cancel()
	c.logger.Info("Coordinator stopped")
	return nil
}

func (c *Coordinator) wait(ctx context.Context, wg *sync.WaitGroup) error {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Coordinator) runWorker(ctx context.Context) {
	defer c.workerWG.Done()
	for {
		id, err := c.work.Pop(ctx)
		if err != nil {
			return
		}
		if c.closed.Load() {
			c.logger.WithTrace(id).Debug("Coordinator closing, task left pending")
			continue
		}
		c.execute(ctx, id)
	}
}

// execute runs one task under the gate. The gate spans only the processing of this task.
func (c *Coordinator) execute(ctx context.Context, id string) {
	taskLogger := c.logger.WithTrace(id)

	if err := c.gate.Acquire(ctx); err != nil {
		taskLogger.WithError(models.NewErrorInfo(err)).Warn("Gave up waiting for the execution gate, task left pending")
		return
	}
	defer c.gate.Release()

	task, ok := c.store.Get(id)
	if !ok {
		taskLogger.Error("Queued task disappeared from the store")
		return
	}

	running, err := c.store.Transition(id, models.TaskStatusRunning, "")
	if err != nil {
		taskLogger.WithError(models.ErrorInfo{Message: err.Error(), Type: "invariant_violation"}).Error("Failed to mark task running")
		return
	}
	c.emit(running, "task started")

	result, procErr := c.runProcessor(task.Intent)

	var final models.Task
	if procErr != nil {
		final, err = c.store.Transition(id, models.TaskStatusFailed, procErr.Error())
	} else {
		final, err = c.store.Transition(id, models.TaskStatusCompleted, result)
	}
	if err != nil {
		taskLogger.WithError(models.ErrorInfo{Message: err.Error(), Type: "invariant_violation"}).Error("Failed to record task outcome")
		return
	}

	if procErr != nil {
		taskLogger.WithError(models.ErrorInfo{Message: procErr.Error(), Type: "processing_fault"}).Warn("Task execution failed")
		c.emit(final, "task failed")
		return
	}
	taskLogger.Info("Task execution successful")
	c.emit(final, "task completed")
}

func (c *Coordinator) runProcessor(intent string) (result string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("processing panicked: %v", r)
		}
	}()
	return c.process(intent)
}

func (c *Coordinator) emit(task models.Task, message string) {
	if len(c.notifiers) == 0 {
		return
	}
	c.events.Push(models.NewTaskEvent(task, message))
}

// dispatchEvents delivers events to notifiers in the order they were emitted.
func (c *Coordinator) dispatchEvents(ctx context.Context) {
	defer c.eventWG.Done()
	for {
		event, err := c.events.Pop(ctx)
		if err != nil {
			return
		}
		for _, n := range c.notifiers {
			if err := n.Notify(ctx, event); err != nil {
				c.logger.WithTrace(event.TaskID).
					WithError(models.NewErrorInfo(err)).
					WithPayload(map[string]interface{}{"status": event.Status}).
					Warn("Failed to deliver task event")
			}
		}
	}
}

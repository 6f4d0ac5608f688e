package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"Thalos_Prime/backend/go/internal/models"
	"Thalos_Prime/backend/go/internal/task_service/processor"
	"Thalos_Prime/backend/go/internal/task_service/store"
	"Thalos_Prime/backend/go/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = 5 * time.Second
	tick    = 5 * time.Millisecond
)

func newTestCoordinator(t *testing.T, process processor.Func, opts ...Option) (*Coordinator, *store.MemoryTaskStore) {
	t.Helper()
	s := store.NewMemoryTaskStore()
	c := NewCoordinator(s, process, logger.Discard(), opts...)
	c.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitFor)
		defer cancel()
		_ = c.Close(ctx)
	})
	return c, s
}

func waitTerminal(t *testing.T, c *Coordinator, id string) models.Task {
	t.Helper()
	var task models.Task
	require.Eventually(t, func() bool {
		var ok bool
		task, ok = c.Get(id)
		return ok && task.Status.IsTerminal()
	}, waitFor, tick, "task %s never reached a terminal status", id)
	return task
}

// recorder collects every event per task.
type recorder struct {
	mu     sync.Mutex
	events map[string][]models.TaskStatus
}

func newRecorder() *recorder {
	return &recorder{events: make(map[string][]models.TaskStatus)}
}

func (r *recorder) Notify(_ context.Context, e models.TaskEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events[e.TaskID] = append(r.events[e.TaskID], e.Status)
	return nil
}

func (r *recorder) sequence(id string) []models.TaskStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.TaskStatus(nil), r.events[id]...)
}

func TestSubmit_ReturnsPendingWithUniqueIDs(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	c, _ := newTestCoordinator(t, func(string) (string, error) {
		<-block
		return "ok", nil
	})

	seen := map[string]bool{}
	for i := 0; i < 20; i++ {
		task, err := c.Submit(context.Background(), fmt.Sprintf("intent %d", i), nil)
		require.NoError(t, err)
		assert.Equal(t, models.TaskStatusPending, task.Status)
		assert.False(t, seen[task.ID])
		seen[task.ID] = true
	}
}

func TestSubmit_RejectsBlankIntents(t *testing.T) {
	c, _ := newTestCoordinator(t, processor.Default().Process)

	for _, intent := range []string{"", " ", "\t\n  "} {
		before := c.Status().Total
		_, err := c.Submit(context.Background(), intent, nil)
		assert.ErrorIs(t, err, ErrInvalidIntent)
		assert.Equal(t, before, c.Status().Total)
	}
	assert.Equal(t, 0, c.Status().Total)
}

func TestScenarios_DefaultProcessor(t *testing.T) {
	c, _ := newTestCoordinator(t, processor.Default().Process)

	hello, err := c.Submit(context.Background(), "Hello there", nil)
	require.NoError(t, err)
	analyze, err := c.Submit(context.Background(), "Analyze X", nil)
	require.NoError(t, err)
	fail, err := c.Submit(context.Background(), "simulate failure", nil)
	require.NoError(t, err)

	got := waitTerminal(t, c, hello.ID)
	assert.Equal(t, models.TaskStatusCompleted, got.Status)
	require.NotNil(t, got.Result)
	assert.Contains(t, *got.Result, "Thalos Prime")
	assert.Nil(t, got.Error)

	got = waitTerminal(t, c, analyze.ID)
	assert.Equal(t, models.TaskStatusCompleted, got.Status)
	require.NotNil(t, got.Result)
	assert.Contains(t, *got.Result, "X")

	got = waitTerminal(t, c, fail.ID)
	assert.Equal(t, models.TaskStatusFailed, got.Status)
	require.NotNil(t, got.Error)
	assert.Contains(t, *got.Error, processor.ErrSimulatedFailure.Error())
	assert.Nil(t, got.Result)
}

func TestGet_UnknownIDIsNotFound(t *testing.T) {
	c, _ := newTestCoordinator(t, processor.Default().Process)
	_, ok := c.Get("nonexistent-id")
	assert.False(t, ok)
}

func TestSubmit_DoesNotWaitForProcessing(t *testing.T) {
	block := make(chan struct{})
	c, _ := newTestCoordinator(t, func(string) (string, error) {
		<-block
		return "done", nil
	})

	ids := make([]string, 5)
	for i := range ids {
		task, err := c.Submit(context.Background(), fmt.Sprintf("job %d", i), nil)
		require.NoError(t, err)
		ids[i] = task.ID
	}

	require.Eventually(t, func() bool {
		return c.Status().ByStatus[models.TaskStatusRunning] == 1
	}, waitFor, tick)
	sum := c.Status()
	assert.Equal(t, 4, sum.ByStatus[models.TaskStatusPending])

	close(block)
	for _, id := range ids {
		assert.Equal(t, models.TaskStatusCompleted, waitTerminal(t, c, id).Status)
	}
}

func TestExecution_AtMostOneRunning(t *testing.T) {
	var active, peak atomic.Int32
	process := func(intent string) (string, error) {
		n := active.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(3 * time.Millisecond)
		active.Add(-1)
		return "ok:" + intent, nil
	}
	c, _ := newTestCoordinator(t, process, WithWorkers(4))

	stop := make(chan struct{})
	var sampler sync.WaitGroup
	var maxRunning atomic.Int32
	sampler.Add(1)
	go func() {
		defer sampler.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			running := int32(c.Status().ByStatus[models.TaskStatusRunning])
			if running > maxRunning.Load() {
				maxRunning.Store(running)
			}
		}
	}()

	const n = 20
	ids := make(chan string, n)
	var submitters sync.WaitGroup
	for i := 0; i < n; i++ {
		submitters.Add(1)
		go func(i int) {
			defer submitters.Done()
			task, err := c.Submit(context.Background(), fmt.Sprintf("task %d", i), nil)
			assert.NoError(t, err)
			ids <- task.ID
		}(i)
	}
	submitters.Wait()
	close(ids)

	for id := range ids {
		assert.Equal(t, models.TaskStatusCompleted, waitTerminal(t, c, id).Status)
	}
	close(stop)
	sampler.Wait()

	assert.LessOrEqual(t, maxRunning.Load(), int32(1))
	assert.Equal(t, int32(1), peak.Load())
	assert.Equal(t, 1, c.gate.Peak())
}

func TestExecution_StatusSequenceIsMonotonic(t *testing.T) {
	rec := newRecorder()
	c, _ := newTestCoordinator(t, processor.Default().Process, WithNotifiers(rec))

	ok, err := c.Submit(context.Background(), "hello", nil)
	require.NoError(t, err)
	bad, err := c.Submit(context.Background(), "simulate failure", nil)
	require.NoError(t, err)
	waitTerminal(t, c, ok.ID)
	waitTerminal(t, c, bad.ID)

	require.Eventually(t, func() bool {
		return len(rec.sequence(ok.ID)) == 3 && len(rec.sequence(bad.ID)) == 3
	}, waitFor, tick)
	assert.Equal(t, []models.TaskStatus{models.TaskStatusPending, models.TaskStatusRunning, models.TaskStatusCompleted}, rec.sequence(ok.ID))
	assert.Equal(t, []models.TaskStatus{models.TaskStatusPending, models.TaskStatusRunning, models.TaskStatusFailed}, rec.sequence(bad.ID))
}

func TestExecution_PanicBecomesFailure(t *testing.T) {
	c, _ := newTestCoordinator(t, func(intent string) (string, error) {
		if intent == "explode" {
			panic("kaboom")
		}
		return "fine", nil
	})

	boom, err := c.Submit(context.Background(), "explode", nil)
	require.NoError(t, err)
	next, err := c.Submit(context.Background(), "calm", nil)
	require.NoError(t, err)

	got := waitTerminal(t, c, boom.ID)
	assert.Equal(t, models.TaskStatusFailed, got.Status)
	require.NotNil(t, got.Error)
	assert.Contains(t, *got.Error, "kaboom")

	assert.Equal(t, models.TaskStatusCompleted, waitTerminal(t, c, next.ID).Status)
}

func TestNotifierErrorsDoNotAffectTasks(t *testing.T) {
	failing := NotifierFunc(func(context.Context, models.TaskEvent) error {
		return errors.New("sink down")
	})
	c, _ := newTestCoordinator(t, processor.Default().Process, WithNotifiers(failing))

	task, err := c.Submit(context.Background(), "hi", nil)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusCompleted, waitTerminal(t, c, task.ID).Status)
}

func TestStatus_InitializedAtIsStable(t *testing.T) {
	c, _ := newTestCoordinator(t, processor.Default().Process)
	first := c.Status()
	_, err := c.Submit(context.Background(), "hello", nil)
	require.NoError(t, err)
	second := c.Status()

	assert.False(t, first.InitializedAt.IsZero())
	assert.Equal(t, first.InitializedAt, second.InitializedAt)
	assert.Equal(t, 1, second.Total)
}

func TestList_Filter(t *testing.T) {
	c, _ := newTestCoordinator(t, processor.Default().Process)
	var ids []string
	for _, intent := range []string{"hello", "simulate failure", "weather?", "compute"} {
		task, err := c.Submit(context.Background(), intent, nil)
		require.NoError(t, err)
		ids = append(ids, task.ID)
	}
	for _, id := range ids {
		waitTerminal(t, c, id)
	}

	assert.Len(t, c.List(ListFilter{}), 4)
	assert.Len(t, c.List(ListFilter{Limit: 2}), 2)
	failed := c.List(ListFilter{Status: models.TaskStatusFailed})
	require.Len(t, failed, 1)
	assert.Equal(t, ids[1], failed[0].ID)
	assert.Empty(t, c.List(ListFilter{Status: models.TaskStatusRunning}))
}

func TestClose_FinishesRunningTaskAndRejectsNewWork(t *testing.T) {
	block := make(chan struct{})
	c, _ := newTestCoordinator(t, func(string) (string, error) {
		<-block
		return "done", nil
	})

	first, err := c.Submit(context.Background(), "first", nil)
	require.NoError(t, err)
	queued, err := c.Submit(context.Background(), "second", nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		task, _ := c.Get(first.ID)
		return task.Status == models.TaskStatusRunning
	}, waitFor, tick)

	closed := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitFor)
		defer cancel()
		closed <- c.Close(ctx)
	}()
	require.Eventually(t, c.closed.Load, waitFor, tick)

	_, err = c.Submit(context.Background(), "too late", nil)
	assert.ErrorIs(t, err, ErrClosed)

	close(block)
	require.NoError(t, <-closed)

	got, _ := c.Get(first.ID)
	assert.Equal(t, models.TaskStatusCompleted, got.Status)
	got, _ = c.Get(queued.ID)
	assert.Equal(t, models.TaskStatusPending, got.Status)
	assert.Equal(t, 2, c.Status().Total)
}

func TestClose_WithoutStart(t *testing.T) {
	c := NewCoordinator(store.NewMemoryTaskStore(), processor.Default().Process, logger.Discard())
	require.NoError(t, c.Close(context.Background()))
	require.NoError(t, c.Close(context.Background()))
	_, err := c.Submit(context.Background(), "hello", nil)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestClose_DeliversFinalEventAfterStartContextCancelled(t *testing.T) {
	block := make(chan struct{})
	rec := newRecorder()
	c := NewCoordinator(store.NewMemoryTaskStore(), func(string) (string, error) {
		<-block
		return "done", nil
	}, logger.Discard(), WithNotifiers(rec))

	runCtx, cancelRun := context.WithCancel(context.Background())
	c.Start(runCtx)

	task, err := c.Submit(context.Background(), "long job", nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		got, _ := c.Get(task.ID)
		return got.Status == models.TaskStatusRunning
	}, waitFor, tick)

	cancelRun()
	close(block)

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, c.Close(ctx))

	got, _ := c.Get(task.ID)
	assert.Equal(t, models.TaskStatusCompleted, got.Status)
	assert.Equal(t, []models.TaskStatus{models.TaskStatusPending, models.TaskStatusRunning, models.TaskStatusCompleted}, rec.sequence(task.ID))
}

func TestNotifiersReceiveLiveContext(t *testing.T) {
	ctxErrs := make(chan error, 8)
	observer := NotifierFunc(func(ctx context.Context, _ models.TaskEvent) error {
		ctxErrs <- ctx.Err()
		return nil
	})
	c := NewCoordinator(store.NewMemoryTaskStore(), processor.Default().Process, logger.Discard(), WithNotifiers(observer))

	runCtx, cancelRun := context.WithCancel(context.Background())
	c.Start(runCtx)
	cancelRun()

	task, err := c.Submit(context.Background(), "hello", nil)
	require.NoError(t, err)
	waitTerminal(t, c, task.ID)
	require.NoError(t, c.Close(context.Background()))

	close(ctxErrs)
	count := 0
	for err := range ctxErrs {
		assert.NoError(t, err)
		count++
	}
	assert.Equal(t, 3, count)
}

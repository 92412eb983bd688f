package commandqueue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Task is one unit of work executed on a lane.
type Task func(ctx context.Context) (interface{}, error)

type taskResult struct {
	value interface{}
	err   error
}

type taskRecord struct {
	id     string
	task   Task
	ctx    context.Context
	result chan taskResult
}

// laneState holds the FIFO queue and execution state for one lane.
type laneState struct {
	mu          sync.Mutex
	concurrency int
	queue       []*taskRecord
	running     int
}

// Queue serializes tasks per lane. Each lane runs its tasks strictly in
// enqueue order with a concurrency of one unless raised, which is how two
// requests for the same session are kept from interleaving their histories.
type Queue struct {
	mu        sync.RWMutex
	lanes     map[string]*laneState
	taskIDSeq int
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
	logger    zerolog.Logger
}

// New creates an empty queue. Lanes are created on first use.
func New(logger zerolog.Logger) *Queue {
	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		lanes:  make(map[string]*laneState),
		ctx:    ctx,
		cancel: cancel,
		logger: logger.With().Str("component", "commandqueue").Logger(),
	}
}

// Enqueue adds a task to the lane and blocks until it has run. Tasks on the
// same lane run one at a time in arrival order; tasks on different lanes run
// independently.
func (q *Queue) Enqueue(ctx context.Context, lane string, task Task) (interface{}, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	ls := q.ensureLane(lane)

	q.mu.Lock()
	q.taskIDSeq++
	taskID := fmt.Sprintf("%s-%d", lane, q.taskIDSeq)
	q.mu.Unlock()

	record := &taskRecord{
		id:     taskID,
		task:   task,
		ctx:    ctx,
		result: make(chan taskResult, 1),
	}

	ls.mu.Lock()
	ls.queue = append(ls.queue, record)
	queued := len(ls.queue)
	ls.mu.Unlock()

	q.logger.Debug().Str("lane", lane).Str("task_id", taskID).Int("queued", queued).Msg("task enqueued")

	go q.processLane(lane)

	result := <-record.result
	return result.value, result.err
}

func (q *Queue) ensureLane(lane string) *laneState {
	q.mu.Lock()
	defer q.mu.Unlock()

	ls, ok := q.lanes[lane]
	if !ok {
		ls = &laneState{concurrency: 1}
		q.lanes[lane] = ls
	}
	return ls
}

func (q *Queue) processLane(lane string) {
	q.mu.RLock()
	ls := q.lanes[lane]
	q.mu.RUnlock()

	ls.mu.Lock()
	defer ls.mu.Unlock()

	for ls.running < ls.concurrency && len(ls.queue) > 0 {
		record := ls.queue[0]
		ls.queue = ls.queue[1:]
		ls.running++

		q.wg.Add(1)
		go q.executeTask(lane, ls, record)
	}
}

func (q *Queue) executeTask(lane string, ls *laneState, record *taskRecord) {
	defer q.wg.Done()

	runCtx, cancel := context.WithCancel(record.ctx)
	stopCancel := context.AfterFunc(q.ctx, cancel)
	defer func() {
		stopCancel()
		cancel()
	}()

	start := time.Now()
	value, err := record.task(runCtx)

	ls.mu.Lock()
	ls.running--
	ls.mu.Unlock()

	record.result <- taskResult{value: value, err: err}
	close(record.result)

	if err != nil {
		q.logger.Debug().Str("lane", lane).Str("task_id", record.id).Dur("duration", time.Since(start)).Err(err).Msg("task failed")
	} else {
		q.logger.Debug().Str("lane", lane).Str("task_id", record.id).Dur("duration", time.Since(start)).Msg("task completed")
	}

	go q.processLane(lane)
}

// QueueSize returns the number of tasks waiting on a lane, excluding the
// one running.
func (q *Queue) QueueSize(lane string) int {
	q.mu.RLock()
	ls, ok := q.lanes[lane]
	q.mu.RUnlock()

	if !ok {
		return 0
	}
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return len(ls.queue)
}

// Close cancels the run context handed to tasks and waits for in-flight
// tasks to return.
func (q *Queue) Close() error {
	q.cancel()
	q.wg.Wait()
	return nil
}

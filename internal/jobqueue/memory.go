package jobqueue

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Handler is invoked when a job's run time arrives. The send executor behind
// it is pluggable; a fired job whose deal has since been unlinked or reverted
// must treat that as a no-op.
type Handler func(job *Job)

// MemoryQueue is an in-process delayed-job queue satisfying the Queue
// contract. One timer per job; Remove stops the timer before it fires.
type MemoryQueue struct {
	mu      sync.Mutex
	jobs    map[string]*Job
	timers  map[string]*time.Timer
	handler Handler
	log     zerolog.Logger
}

func NewMemoryQueue(handler Handler, logger zerolog.Logger) *MemoryQueue {
	return &MemoryQueue{
		jobs:    make(map[string]*Job),
		timers:  make(map[string]*time.Timer),
		handler: handler,
		log:     logger.With().Str("component", "jobqueue").Logger(),
	}
}

func (q *MemoryQueue) Enqueue(job *Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	j := *job
	q.jobs[j.ID] = &j
	delay := time.Until(j.RunAt)
	if delay < 0 {
		delay = 0
	}
	q.timers[j.ID] = time.AfterFunc(delay, func() { q.fire(j.ID) })
	q.log.Debug().Str("job_id", j.ID).Str("kind", j.Kind).Time("run_at", j.RunAt).Msg("job enqueued")
	return nil
}

func (q *MemoryQueue) Get(id string) (*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[id]
	if !ok {
		return nil, nil
	}
	j := *job
	return &j, nil
}

func (q *MemoryQueue) Remove(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if timer, ok := q.timers[id]; ok {
		timer.Stop()
		delete(q.timers, id)
	}
	delete(q.jobs, id)
	return nil
}

// Stop cancels every pending timer. Jobs already handed to the handler are
// unaffected.
func (q *MemoryQueue) Stop() {
	q.mu.Lock()
	defer q.mu.Unlock()

	for id, timer := range q.timers {
		timer.Stop()
		delete(q.timers, id)
	}
}

func (q *MemoryQueue) fire(id string) {
	q.mu.Lock()
	job, ok := q.jobs[id]
	if ok {
		delete(q.jobs, id)
		delete(q.timers, id)
	}
	handler := q.handler
	q.mu.Unlock()

	if !ok {
		return // removed between the timer firing and the lock
	}
	if handler != nil {
		handler(job)
	}
}

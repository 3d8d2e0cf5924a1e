package jobqueue

import "github.com/rs/zerolog"

// Coordinator executes deferred queue mutations collected during a database
// transaction, strictly after that transaction has committed. The database is
// authoritative: a job that is already gone counts as a successful cancel, and
// queue failures are logged rather than surfaced, since a stray leftover job
// fails safe against a deal whose linkage has already changed.
type Coordinator struct {
	queue Queue
	log   zerolog.Logger
}

func NewCoordinator(queue Queue, logger zerolog.Logger) *Coordinator {
	return &Coordinator{
		queue: queue,
		log:   logger.With().Str("component", "job-coordinator").Logger(),
	}
}

// CancelAfterCommit cancels every job behind the given internal references.
// Callers must invoke it only once the owning transaction has committed.
func (c *Coordinator) CancelAfterCommit(refs []string) {
	for _, ref := range refs {
		id, err := DecodeRef(ref)
		if err != nil {
			c.log.Warn().Str("ref", ref).Err(err).Msg("skipping undecodable job reference")
			continue
		}
		job, err := c.queue.Get(id)
		if err != nil {
			c.log.Error().Str("job_id", id).Err(err).Msg("failed to look up job for cancellation")
			continue
		}
		if job == nil {
			// Already executed or already removed; the cancel is a no-op.
			continue
		}
		if err := c.queue.Remove(id); err != nil {
			c.log.Error().Str("job_id", id).Err(err).Msg("failed to cancel job")
			continue
		}
		c.log.Debug().Str("job_id", id).Msg("job canceled")
	}
}

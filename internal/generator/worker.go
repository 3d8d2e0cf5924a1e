// Package generator materializes due occurrences: it turns a series whose
// next_scheduled_at has arrived into a scheduled deal plus a deferred send
// job, then advances or completes the series.
package generator

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/dealflow/internal/jobqueue"
	"github.com/dealflow/internal/models"
	"github.com/dealflow/internal/notify"
	"github.com/dealflow/internal/recurrence"
)

type Worker struct {
	db       *gorm.DB
	queue    jobqueue.Queue
	events   *notify.Service
	interval time.Duration
	stopChan chan struct{}
	log      zerolog.Logger
}

func NewWorker(db *gorm.DB, queue jobqueue.Queue, events *notify.Service, interval time.Duration, logger zerolog.Logger) *Worker {
	return &Worker{
		db:       db,
		queue:    queue,
		events:   events,
		interval: interval,
		stopChan: make(chan struct{}),
		log:      logger.With().Str("component", "generator").Logger(),
	}
}

func (w *Worker) Start() error {
	if err := w.RunOnce(time.Now()); err != nil {
		return err
	}

	go func() {
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := w.RunOnce(time.Now()); err != nil {
					w.log.Error().Err(err).Msg("generation cycle failed")
				}
			case <-w.stopChan:
				return
			}
		}
	}()

	return nil
}

func (w *Worker) Stop() {
	close(w.stopChan)
}

// RunOnce processes every active series whose next occurrence has arrived.
// Per-series failures are logged and skipped so one bad row cannot stall the
// rest of the cycle.
func (w *Worker) RunOnce(now time.Time) error {
	var due []models.RecurringSeries
	if err := w.db.Where("status = ? AND next_scheduled_at IS NOT NULL AND next_scheduled_at <= ?",
		models.SeriesStatusActive, now).Find(&due).Error; err != nil {
		return fmt.Errorf("failed to find due series: %w", err)
	}

	for i := range due {
		if err := w.generateOne(&due[i], now); err != nil {
			w.log.Error().Str("series", due[i].UUID).Err(err).Msg("failed to generate occurrence")
		}
	}
	return nil
}

// generateOne creates the next deal and advances the series in one
// transaction; the send job is enqueued only after commit. A duplicate job in
// the queue after a crash between commit and enqueue would no-op against a
// deal whose state moved on, so commit-then-enqueue is the safe order.
func (w *Worker) generateOne(s *models.RecurringSeries, now time.Time) error {
	if s.NextScheduledAt == nil {
		return errors.New("series has no next occurrence")
	}
	occurrence := *s.NextScheduledAt
	rule := recurrence.FromSeries(s)

	jobID := jobqueue.NewJobID()
	ref := jobqueue.EncodeRef(jobqueue.KindSendDeal, jobID)
	generated := s.DealsGenerated + 1
	completed := false

	var deal models.Deal
	err := w.db.Transaction(func(tx *gorm.DB) error {
		deal = models.Deal{
			TeamID:            s.TeamID,
			MerchantID:        s.MerchantID,
			IssueDate:         occurrence,
			Status:            models.DealStatusScheduled,
			RecurringSeriesID: &s.ID,
			RecurringSequence: generated,
			ScheduledAt:       &occurrence,
			ScheduledJobRef:   &ref,
		}
		if err := tx.Create(&deal).Error; err != nil {
			return fmt.Errorf("failed to create deal: %w", err)
		}

		next := recurrence.NextOccurrence(rule, occurrence)
		updates := map[string]interface{}{
			"deals_generated":   generated,
			"last_generated_at": now,
			"next_scheduled_at": next,
		}
		if s.EndType == models.EndTypeAfterCount && s.EndCount != nil && generated >= *s.EndCount {
			completed = true
		}
		if s.EndType == models.EndTypeOnDate && s.EndDate != nil && next.After(*s.EndDate) {
			completed = true
		}
		if completed {
			updates["status"] = models.SeriesStatusCompleted
			updates["next_scheduled_at"] = nil
		}
		if err := tx.Model(&models.RecurringSeries{}).Where("id = ?", s.ID).Updates(updates).Error; err != nil {
			return fmt.Errorf("failed to advance series: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if err := w.queue.Enqueue(&jobqueue.Job{
		ID:     jobID,
		Kind:   jobqueue.KindSendDeal,
		DealID: deal.ID,
		RunAt:  occurrence,
	}); err != nil {
		// The deal row is authoritative; the missing job surfaces on the next
		// reconciliation rather than rolling anything back.
		w.log.Error().Str("series", s.UUID).Str("job_id", jobID).Err(err).Msg("failed to enqueue send job")
	}

	w.log.Info().Str("series", s.UUID).Int("sequence", generated).
		Time("occurrence", occurrence).Bool("completed", completed).Msg("occurrence generated")

	w.events.Dispatch(notify.Event{
		Type:   notify.EventDealScheduled,
		TeamID: s.TeamID,
		Payload: map[string]interface{}{
			"series":       s.UUID,
			"deal":         deal.ID,
			"sequence":     generated,
			"scheduled_at": occurrence,
		},
	})

	if completed {
		w.events.Dispatch(notify.Event{
			Type:   notify.EventSeriesCompleted,
			TeamID: s.TeamID,
			Payload: map[string]interface{}{
				"series":          s.UUID,
				"deals_generated": generated,
			},
		})
	}
	return nil
}

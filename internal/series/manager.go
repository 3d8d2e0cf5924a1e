package series

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/dealflow/internal/jobqueue"
	"github.com/dealflow/internal/models"
	"github.com/dealflow/internal/notify"
	"github.com/dealflow/internal/recurrence"
)

// Notifier posts fire-and-forget events; *notify.Service satisfies it.
type Notifier interface {
	Dispatch(event notify.Event)
}

// Manager owns the series lifecycle state machine. Every mutation runs in one
// database transaction; external job-queue cancellations are collected during
// the transaction and executed by the coordinator only after commit.
type Manager struct {
	db     *gorm.DB
	jobs   *jobqueue.Coordinator
	events Notifier
	log    zerolog.Logger
}

func NewManager(db *gorm.DB, jobs *jobqueue.Coordinator, events Notifier, logger zerolog.Logger) *Manager {
	return &Manager{
		db:     db,
		jobs:   jobs,
		events: events,
		log:    logger.With().Str("component", "series").Logger(),
	}
}

// errLinkRaced aborts the create transaction when another request linked the
// deal first; the caller then returns the winner's series.
var errLinkRaced = errors.New("deal linked concurrently")

// Create inserts a new series and optionally links an existing deal as its
// first occurrence. It is idempotent on the deal: a deal already owned by a
// series short-circuits to that series without creating anything.
func (m *Manager) Create(teamID uint, in *CreateInput) (*models.RecurringSeries, error) {
	if teamID == 0 {
		return nil, ErrUnauthorized
	}

	var anchorDeal *models.Deal
	if in.DealID != nil {
		var deal models.Deal
		if err := m.db.Where("team_id = ?", teamID).First(&deal, *in.DealID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, fmt.Errorf("deal %d: %w", *in.DealID, ErrNotFound)
			}
			return nil, fmt.Errorf("failed to look up deal: %w", err)
		}
		if deal.RecurringSeriesID != nil {
			return m.getByRowID(teamID, *deal.RecurringSeriesID)
		}
		anchorDeal = &deal
	} else if in.IssueDate.IsZero() {
		return nil, invalidf("issue_date", "issue_date is required when no deal is linked")
	}

	if err := ValidateCreate(in); err != nil {
		return nil, err
	}
	if err := m.checkMerchant(teamID, in.MerchantID); err != nil {
		return nil, err
	}

	anchor := in.IssueDate
	if anchorDeal != nil {
		anchor = anchorDeal.IssueDate
	}
	timezone := in.Timezone
	if timezone == "" {
		timezone = "UTC"
	}
	endType := in.EndType
	if endType == "" {
		endType = models.EndTypeNever
	}

	next := anchor
	s := &models.RecurringSeries{
		UUID:              uuid.NewString(),
		TeamID:            teamID,
		MerchantID:        in.MerchantID,
		Frequency:         in.Frequency,
		FrequencyDay:      in.FrequencyDay,
		FrequencyWeek:     in.FrequencyWeek,
		FrequencyInterval: in.FrequencyInterval,
		Timezone:          timezone,
		EndType:           endType,
		EndDate:           in.EndDate,
		EndCount:          in.EndCount,
		IssueDate:         anchor,
		NextScheduledAt:   &next,
		Status:            models.SeriesStatusActive,
	}

	var racedSeriesID uint
	err := m.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(s).Error; err != nil {
			return fmt.Errorf("failed to create series: %w", err)
		}

		if anchorDeal != nil {
			// Guarded write: the pre-check above is a check-then-act race
			// under concurrent creates for the same deal, so linking only
			// succeeds while the deal is still unowned.
			res := tx.Model(&models.Deal{}).
				Where("id = ? AND recurring_series_id IS NULL", anchorDeal.ID).
				Updates(map[string]interface{}{
					"recurring_series_id": s.ID,
					"recurring_sequence":  1,
				})
			if res.Error != nil {
				return fmt.Errorf("failed to link deal: %w", res.Error)
			}
			if res.RowsAffected == 0 {
				var current models.Deal
				if err := tx.First(&current, anchorDeal.ID).Error; err != nil {
					return fmt.Errorf("failed to re-read deal: %w", err)
				}
				if current.RecurringSeriesID == nil {
					return fmt.Errorf("failed to link deal %d", anchorDeal.ID)
				}
				racedSeriesID = *current.RecurringSeriesID
				return errLinkRaced
			}
		}

		// A today-or-past anchor already represents the first occurrence:
		// record it as consumed and advance the pointer. A future anchor is
		// primed but nothing has been generated yet.
		if !dayInFuture(anchor, time.Now()) {
			nextOccurrence := recurrence.NextOccurrence(recurrence.FromSeries(s), anchor)
			now := time.Now()
			updates := map[string]interface{}{
				"deals_generated":   1,
				"next_scheduled_at": nextOccurrence,
				"last_generated_at": now,
			}
			if err := tx.Model(s).Updates(updates).Error; err != nil {
				return fmt.Errorf("failed to advance series pointer: %w", err)
			}
			s.DealsGenerated = 1
			s.NextScheduledAt = &nextOccurrence
			s.LastGeneratedAt = &now
		}
		return nil
	})
	if errors.Is(err, errLinkRaced) {
		return m.getByRowID(teamID, racedSeriesID)
	}
	if err != nil {
		return nil, err
	}

	m.events.Dispatch(notify.Event{
		Type:   notify.EventSeriesStarted,
		TeamID: teamID,
		Payload: map[string]interface{}{
			"series":    s.UUID,
			"frequency": string(s.Frequency),
			"merchant":  s.MerchantID,
		},
	})
	m.log.Info().Str("series", s.UUID).Uint("team_id", teamID).Msg("series created")
	return s, nil
}

// Update applies a partial patch after cross-field validation. Dependent rule
// fields the new frequency does not use are cleared unless the payload set
// them explicitly.
func (m *Manager) Update(teamID uint, id string, in *UpdateInput) (*models.RecurringSeries, error) {
	s, err := m.Get(teamID, id)
	if err != nil {
		return nil, err
	}
	if s.Status == models.SeriesStatusCanceled || s.Status == models.SeriesStatusCompleted {
		return nil, invalidf("status", "cannot update a %s series", s.Status)
	}

	if err := ValidateUpdate(in, func() (*models.RecurringSeries, error) { return s, nil }); err != nil {
		return nil, err
	}

	updates := map[string]interface{}{}
	if in.MerchantID.Set {
		if err := m.checkMerchant(teamID, in.MerchantID.Value); err != nil {
			return nil, err
		}
		updates["merchant_id"] = in.MerchantID.Value
	}
	if in.Timezone.Set {
		updates["timezone"] = in.Timezone.Value
	}
	if in.Frequency.Set {
		freq := models.Frequency(in.Frequency.Value)
		updates["frequency"] = in.Frequency.Value
		if freq != models.FrequencyMonthlyWeekday && !in.FrequencyWeek.Set {
			updates["frequency_week"] = nil
		}
		if freq != models.FrequencyCustom && !in.FrequencyInterval.Set {
			updates["frequency_interval"] = nil
		}
		if !freq.RequiresDay() && !in.FrequencyDay.Set {
			updates["frequency_day"] = nil
		}
	}
	if in.FrequencyDay.Set {
		updates["frequency_day"] = optIntValue(in.FrequencyDay)
	}
	if in.FrequencyWeek.Set {
		updates["frequency_week"] = optIntValue(in.FrequencyWeek)
	}
	if in.FrequencyInterval.Set {
		updates["frequency_interval"] = optIntValue(in.FrequencyInterval)
	}
	if in.EndType.Set {
		endType := models.EndType(in.EndType.Value)
		updates["end_type"] = in.EndType.Value
		if endType != models.EndTypeOnDate && !in.EndDate.Set {
			updates["end_date"] = nil
		}
		if endType != models.EndTypeAfterCount && !in.EndCount.Set {
			updates["end_count"] = nil
		}
	}
	if in.EndDate.Set {
		if in.EndDate.Valid {
			updates["end_date"] = in.EndDate.Value
		} else {
			updates["end_date"] = nil
		}
	}
	if in.EndCount.Set {
		updates["end_count"] = optIntValue(in.EndCount)
	}
	if len(updates) == 0 {
		return s, nil
	}

	if err := m.db.Model(&models.RecurringSeries{}).Where("id = ?", s.ID).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("failed to update series: %w", err)
	}
	m.log.Info().Str("series", s.UUID).Uint("team_id", teamID).Msg("series updated")
	return m.getByRowID(teamID, s.ID)
}

// Get returns the series by public id within the team scope.
func (m *Manager) Get(teamID uint, id string) (*models.RecurringSeries, error) {
	if teamID == 0 {
		return nil, ErrUnauthorized
	}
	var s models.RecurringSeries
	if err := m.db.Where("team_id = ? AND uuid = ?", teamID, id).First(&s).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("series %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to look up series: %w", err)
	}
	return &s, nil
}

type ListOptions struct {
	Cursor     uint
	PageSize   int
	Status     models.SeriesStatus
	MerchantID uint
}

type Page struct {
	Items      []models.RecurringSeries `json:"items"`
	NextCursor uint                     `json:"next_cursor,omitempty"`
}

const (
	defaultPageSize = 25
	maxPageSize     = 100
)

// List pages through the team's series, newest first. Cursor is the last
// numeric id seen on the previous page.
func (m *Manager) List(teamID uint, opts ListOptions) (*Page, error) {
	if teamID == 0 {
		return nil, ErrUnauthorized
	}
	size := opts.PageSize
	if size <= 0 {
		size = defaultPageSize
	} else if size > maxPageSize {
		size = maxPageSize
	}

	query := m.db.Where("team_id = ?", teamID)
	if opts.Cursor > 0 {
		query = query.Where("id < ?", opts.Cursor)
	}
	if opts.Status != "" {
		query = query.Where("status = ?", opts.Status)
	}
	if opts.MerchantID > 0 {
		query = query.Where("merchant_id = ?", opts.MerchantID)
	}

	var items []models.RecurringSeries
	if err := query.Order("id desc").Limit(size + 1).Find(&items).Error; err != nil {
		return nil, fmt.Errorf("failed to list series: %w", err)
	}

	page := &Page{Items: items}
	if len(items) > size {
		page.Items = items[:size]
		page.NextCursor = items[size-1].ID
	}
	return page, nil
}

// Pause transitions active -> paused. Every linked deal still in scheduled
// status reverts to draft in the same transaction; the cleared job references
// are canceled against the queue only after commit.
func (m *Manager) Pause(teamID uint, id string) (*models.RecurringSeries, error) {
	s, err := m.Get(teamID, id)
	if err != nil {
		return nil, err
	}
	if s.Status != models.SeriesStatusActive {
		return nil, invalidf("status", "cannot pause a %s series", s.Status)
	}

	refs, err := m.transitionAndRevert(s, models.SeriesStatusPaused)
	if err != nil {
		return nil, fmt.Errorf("failed to pause series: %w", err)
	}
	m.jobs.CancelAfterCommit(refs)
	m.log.Info().Str("series", s.UUID).Int("reverted_deals", len(refs)).Msg("series paused")
	return s, nil
}

// Resume transitions paused -> active. It does not recompute the schedule or
// re-link reverted drafts; the next generation cycle picks the series up.
func (m *Manager) Resume(teamID uint, id string) (*models.RecurringSeries, error) {
	s, err := m.Get(teamID, id)
	if err != nil {
		return nil, err
	}
	if s.Status != models.SeriesStatusPaused {
		return nil, invalidf("status", "cannot resume a %s series", s.Status)
	}

	if err := m.db.Model(&models.RecurringSeries{}).Where("id = ?", s.ID).
		Update("status", models.SeriesStatusActive).Error; err != nil {
		return nil, fmt.Errorf("failed to resume series: %w", err)
	}
	s.Status = models.SeriesStatusActive
	m.log.Info().Str("series", s.UUID).Msg("series resumed")
	return s, nil
}

// Cancel terminates the series with the same deal-reverting side effect as
// Pause. Terminal states cannot be canceled again.
func (m *Manager) Cancel(teamID uint, id string) (*models.RecurringSeries, error) {
	s, err := m.Get(teamID, id)
	if err != nil {
		return nil, err
	}
	if s.Status != models.SeriesStatusActive && s.Status != models.SeriesStatusPaused {
		return nil, invalidf("status", "cannot cancel a %s series", s.Status)
	}

	refs, err := m.transitionAndRevert(s, models.SeriesStatusCanceled)
	if err != nil {
		return nil, fmt.Errorf("failed to cancel series: %w", err)
	}
	m.jobs.CancelAfterCommit(refs)
	m.log.Info().Str("series", s.UUID).Int("reverted_deals", len(refs)).Msg("series canceled")
	return s, nil
}

// Upcoming projects the next future occurrences, honoring the end condition.
// Terminal series have none.
func (m *Manager) Upcoming(teamID uint, id string, limit int) (*models.RecurringSeries, []time.Time, error) {
	s, err := m.Get(teamID, id)
	if err != nil {
		return nil, nil, err
	}
	if limit <= 0 {
		limit = 5
	} else if limit > 52 {
		limit = 52
	}
	if s.Status == models.SeriesStatusCanceled || s.Status == models.SeriesStatusCompleted {
		return s, nil, nil
	}

	if s.EndType == models.EndTypeAfterCount && s.EndCount != nil {
		remaining := *s.EndCount - s.DealsGenerated
		if remaining < limit {
			limit = remaining
		}
		if limit <= 0 {
			return s, nil, nil
		}
	}

	rule := recurrence.FromSeries(s)
	var first time.Time
	if s.NextScheduledAt != nil {
		first = *s.NextScheduledAt
	} else {
		first = recurrence.NextOccurrence(rule, s.IssueDate)
	}

	dates := append([]time.Time{first}, recurrence.Occurrences(rule, first, limit-1)...)
	if s.EndType == models.EndTypeOnDate && s.EndDate != nil {
		trimmed := dates[:0]
		for _, d := range dates {
			if d.After(*s.EndDate) {
				break
			}
			trimmed = append(trimmed, d)
		}
		dates = trimmed
	}
	return s, dates, nil
}

func (m *Manager) transitionAndRevert(s *models.RecurringSeries, to models.SeriesStatus) ([]string, error) {
	var refs []string
	err := m.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.RecurringSeries{}).Where("id = ?", s.ID).
			Update("status", to).Error; err != nil {
			return err
		}

		var deals []models.Deal
		if err := tx.Where("recurring_series_id = ? AND status = ?", s.ID, models.DealStatusScheduled).
			Find(&deals).Error; err != nil {
			return err
		}
		for _, d := range deals {
			if d.ScheduledJobRef != nil {
				refs = append(refs, *d.ScheduledJobRef)
			}
		}
		if len(deals) > 0 {
			if err := tx.Model(&models.Deal{}).
				Where("recurring_series_id = ? AND status = ?", s.ID, models.DealStatusScheduled).
				Updates(map[string]interface{}{
					"status":            models.DealStatusDraft,
					"scheduled_at":      nil,
					"scheduled_job_ref": nil,
				}).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.Status = to
	return refs, nil
}

func (m *Manager) checkMerchant(teamID, merchantID uint) error {
	var merchant models.Merchant
	if err := m.db.Where("team_id = ?", teamID).First(&merchant, merchantID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("merchant %d: %w", merchantID, ErrNotFound)
		}
		return fmt.Errorf("failed to look up merchant: %w", err)
	}
	if !merchant.HasEmail() {
		return invalidf("merchant_id", "merchant %q has no email address; auto-send requires a destination", merchant.Name)
	}
	return nil
}

func (m *Manager) getByRowID(teamID, rowID uint) (*models.RecurringSeries, error) {
	var s models.RecurringSeries
	if err := m.db.Where("team_id = ?", teamID).First(&s, rowID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("series %d: %w", rowID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to look up series: %w", err)
	}
	return &s, nil
}

// dayInFuture compares at UTC-day granularity, not wall clock: a deal issued
// later today still counts as today's occurrence.
func dayInFuture(anchor, now time.Time) bool {
	ay, am, ad := anchor.UTC().Date()
	ny, nm, nd := now.UTC().Date()
	a := time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC)
	n := time.Date(ny, nm, nd, 0, 0, 0, 0, time.UTC)
	return a.After(n)
}

func optIntValue(o OptInt) interface{} {
	if o.Valid {
		return o.Value
	}
	return nil
}

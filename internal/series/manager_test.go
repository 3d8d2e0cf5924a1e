package series

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/dealflow/internal/database"
	"github.com/dealflow/internal/jobqueue"
	"github.com/dealflow/internal/models"
	"github.com/dealflow/internal/notify"
)

type fakeQueue struct {
	mu   sync.Mutex
	jobs map[string]*jobqueue.Job
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{jobs: make(map[string]*jobqueue.Job)}
}

func (q *fakeQueue) Enqueue(job *jobqueue.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs[job.ID] = job
	return nil
}

func (q *fakeQueue) Get(id string) (*jobqueue.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.jobs[id], nil
}

func (q *fakeQueue) Remove(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.jobs, id)
	return nil
}

func (q *fakeQueue) has(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.jobs[id]
	return ok
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (n *recordingNotifier) Dispatch(event notify.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
}

func (n *recordingNotifier) types() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, len(n.events))
	for i, e := range n.events {
		out[i] = e.Type
	}
	return out
}

type fixture struct {
	manager  *Manager
	db       *gorm.DB
	queue    *fakeQueue
	notifier *recordingNotifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))

	queue := newFakeQueue()
	notifier := &recordingNotifier{}
	return &fixture{
		manager:  NewManager(db, jobqueue.NewCoordinator(queue, zerolog.Nop()), notifier, zerolog.Nop()),
		db:       db,
		queue:    queue,
		notifier: notifier,
	}
}

const testTeam = uint(7)

func (f *fixture) seedMerchant(t *testing.T, email string) *models.Merchant {
	t.Helper()
	m := &models.Merchant{TeamID: testTeam, Name: "Acme Consulting", Email: email}
	require.NoError(t, f.db.Create(m).Error)
	return m
}

func (f *fixture) seedDeal(t *testing.T, merchantID uint, issue time.Time) *models.Deal {
	t.Helper()
	d := &models.Deal{TeamID: testTeam, MerchantID: merchantID, IssueDate: issue, Status: models.DealStatusDraft}
	require.NoError(t, f.db.Create(d).Error)
	return d
}

func yesterdayUTC() time.Time {
	y, m, d := time.Now().UTC().AddDate(0, 0, -1).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func weeklyInput(merchantID uint, day int) *CreateInput {
	return &CreateInput{
		MerchantID:   merchantID,
		Frequency:    models.FrequencyWeekly,
		FrequencyDay: intPtr(day),
	}
}

func TestCreateIdempotentOnDeal(t *testing.T) {
	f := newFixture(t)
	merchant := f.seedMerchant(t, "billing@acme.test")
	deal := f.seedDeal(t, merchant.ID, yesterdayUTC())

	in := weeklyInput(merchant.ID, int(yesterdayUTC().Weekday()))
	in.DealID = &deal.ID

	first, err := f.manager.Create(testTeam, in)
	require.NoError(t, err)

	second, err := f.manager.Create(testTeam, in)
	require.NoError(t, err)
	assert.Equal(t, first.UUID, second.UUID)

	var count int64
	require.NoError(t, f.db.Model(&models.RecurringSeries{}).Count(&count).Error)
	assert.EqualValues(t, 1, count, "re-submitting the same link request must not create a second series")

	var linked models.Deal
	require.NoError(t, f.db.First(&linked, deal.ID).Error)
	require.NotNil(t, linked.RecurringSeriesID)
	assert.Equal(t, first.ID, *linked.RecurringSeriesID)
	assert.Equal(t, 1, linked.RecurringSequence)
}

func TestCreatePastAnchorConsumesFirstOccurrence(t *testing.T) {
	f := newFixture(t)
	merchant := f.seedMerchant(t, "billing@acme.test")
	issue := yesterdayUTC()
	deal := f.seedDeal(t, merchant.ID, issue)

	in := weeklyInput(merchant.ID, int(issue.Weekday()))
	in.DealID = &deal.ID

	s, err := f.manager.Create(testTeam, in)
	require.NoError(t, err)

	assert.Equal(t, 1, s.DealsGenerated)
	require.NotNil(t, s.LastGeneratedAt)
	require.NotNil(t, s.NextScheduledAt)
	assert.Equal(t, issue.AddDate(0, 0, 7), s.NextScheduledAt.UTC(),
		"next occurrence is one week after the issue date")

	assert.Equal(t, []string{notify.EventSeriesStarted}, f.notifier.types())
}

func TestCreateFutureAnchorStaysPrimed(t *testing.T) {
	f := newFixture(t)
	merchant := f.seedMerchant(t, "billing@acme.test")
	future := time.Now().UTC().AddDate(0, 0, 10)

	in := weeklyInput(merchant.ID, int(future.Weekday()))
	in.IssueDate = future

	s, err := f.manager.Create(testTeam, in)
	require.NoError(t, err)

	assert.Equal(t, 0, s.DealsGenerated)
	assert.Nil(t, s.LastGeneratedAt)
	require.NotNil(t, s.NextScheduledAt)
	assert.Equal(t, future.Truncate(time.Second), s.NextScheduledAt.UTC().Truncate(time.Second))
}

func TestCreateRequiresMerchantEmail(t *testing.T) {
	f := newFixture(t)
	merchant := f.seedMerchant(t, "")

	in := weeklyInput(merchant.ID, 2)
	in.IssueDate = time.Now().UTC()

	_, err := f.manager.Create(testTeam, in)
	var validation *ValidationError
	require.ErrorAs(t, err, &validation)
	assert.Equal(t, "merchant_id", validation.Field)
}

func TestCreateDealNotFound(t *testing.T) {
	f := newFixture(t)
	merchant := f.seedMerchant(t, "billing@acme.test")

	missing := uint(4242)
	in := weeklyInput(merchant.ID, 2)
	in.DealID = &missing

	_, err := f.manager.Create(testTeam, in)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateUnauthorizedWithoutTeam(t *testing.T) {
	f := newFixture(t)
	_, err := f.manager.Create(0, weeklyInput(1, 2))
	assert.ErrorIs(t, err, ErrUnauthorized)
}

// scheduleDeal fakes the generator: a linked deal in scheduled status with a
// live job in the queue.
func (f *fixture) scheduleDeal(t *testing.T, s *models.RecurringSeries, sequence int, at time.Time) (*models.Deal, string) {
	t.Helper()
	jobID := jobqueue.NewJobID()
	ref := jobqueue.EncodeRef(jobqueue.KindSendDeal, jobID)
	d := &models.Deal{
		TeamID:            s.TeamID,
		MerchantID:        s.MerchantID,
		IssueDate:         at,
		Status:            models.DealStatusScheduled,
		RecurringSeriesID: &s.ID,
		RecurringSequence: sequence,
		ScheduledAt:       &at,
		ScheduledJobRef:   &ref,
	}
	require.NoError(t, f.db.Create(d).Error)
	require.NoError(t, f.queue.Enqueue(&jobqueue.Job{ID: jobID, Kind: jobqueue.KindSendDeal, DealID: d.ID, RunAt: at}))
	return d, jobID
}

func TestPauseRevertsScheduledDealsAndCancelsJobs(t *testing.T) {
	f := newFixture(t)
	merchant := f.seedMerchant(t, "billing@acme.test")

	in := weeklyInput(merchant.ID, 2)
	in.IssueDate = yesterdayUTC()
	s, err := f.manager.Create(testTeam, in)
	require.NoError(t, err)

	_, jobA := f.scheduleDeal(t, s, 2, time.Now().UTC().AddDate(0, 0, 7))
	_, jobB := f.scheduleDeal(t, s, 3, time.Now().UTC().AddDate(0, 0, 14))
	paid := &models.Deal{
		TeamID: testTeam, MerchantID: merchant.ID,
		IssueDate: yesterdayUTC(), Status: models.DealStatusPaid,
		RecurringSeriesID: &s.ID, RecurringSequence: 1,
	}
	require.NoError(t, f.db.Create(paid).Error)

	paused, err := f.manager.Pause(testTeam, s.UUID)
	require.NoError(t, err)
	assert.Equal(t, models.SeriesStatusPaused, paused.Status)

	var reverted []models.Deal
	require.NoError(t, f.db.Where("recurring_series_id = ? AND recurring_sequence > 1", s.ID).
		Order("recurring_sequence").Find(&reverted).Error)
	require.Len(t, reverted, 2)
	for _, d := range reverted {
		assert.Equal(t, models.DealStatusDraft, d.Status)
		assert.Nil(t, d.ScheduledAt)
		assert.Nil(t, d.ScheduledJobRef)
	}

	// Settled deals are untouched.
	var settled models.Deal
	require.NoError(t, f.db.First(&settled, paid.ID).Error)
	assert.Equal(t, models.DealStatusPaid, settled.Status)

	assert.False(t, f.queue.has(jobA))
	assert.False(t, f.queue.has(jobB))
}

func TestPauseOnlyFromActive(t *testing.T) {
	f := newFixture(t)
	merchant := f.seedMerchant(t, "billing@acme.test")
	in := weeklyInput(merchant.ID, 2)
	in.IssueDate = yesterdayUTC()
	s, err := f.manager.Create(testTeam, in)
	require.NoError(t, err)

	_, err = f.manager.Pause(testTeam, s.UUID)
	require.NoError(t, err)

	_, err = f.manager.Pause(testTeam, s.UUID)
	var validation *ValidationError
	assert.ErrorAs(t, err, &validation)
}

func TestResume(t *testing.T) {
	f := newFixture(t)
	merchant := f.seedMerchant(t, "billing@acme.test")
	in := weeklyInput(merchant.ID, 2)
	in.IssueDate = yesterdayUTC()
	s, err := f.manager.Create(testTeam, in)
	require.NoError(t, err)

	// Resume only applies to a paused series.
	_, err = f.manager.Resume(testTeam, s.UUID)
	var validation *ValidationError
	require.ErrorAs(t, err, &validation)

	before := *s.NextScheduledAt
	_, err = f.manager.Pause(testTeam, s.UUID)
	require.NoError(t, err)

	resumed, err := f.manager.Resume(testTeam, s.UUID)
	require.NoError(t, err)
	assert.Equal(t, models.SeriesStatusActive, resumed.Status)

	// Resume does not recompute the schedule.
	reloaded, err := f.manager.Get(testTeam, s.UUID)
	require.NoError(t, err)
	require.NotNil(t, reloaded.NextScheduledAt)
	assert.Equal(t, before.UTC(), reloaded.NextScheduledAt.UTC())
}

func TestCancelIsTerminal(t *testing.T) {
	f := newFixture(t)
	merchant := f.seedMerchant(t, "billing@acme.test")
	in := weeklyInput(merchant.ID, 2)
	in.IssueDate = yesterdayUTC()
	s, err := f.manager.Create(testTeam, in)
	require.NoError(t, err)

	_, jobID := f.scheduleDeal(t, s, 2, time.Now().UTC().AddDate(0, 0, 7))

	canceled, err := f.manager.Cancel(testTeam, s.UUID)
	require.NoError(t, err)
	assert.Equal(t, models.SeriesStatusCanceled, canceled.Status)
	assert.False(t, f.queue.has(jobID))

	var validation *ValidationError
	_, err = f.manager.Cancel(testTeam, s.UUID)
	assert.ErrorAs(t, err, &validation)
	_, err = f.manager.Resume(testTeam, s.UUID)
	assert.ErrorAs(t, err, &validation)
}

func TestUpdateMonthlyWeekdayWithoutWeekRejected(t *testing.T) {
	f := newFixture(t)
	merchant := f.seedMerchant(t, "billing@acme.test")
	in := weeklyInput(merchant.ID, 2)
	in.IssueDate = yesterdayUTC()
	s, err := f.manager.Create(testTeam, in)
	require.NoError(t, err)

	_, err = f.manager.Update(testTeam, s.UUID, updateFrom(t, `{"frequency": "monthly_weekday"}`))
	var validation *ValidationError
	require.ErrorAs(t, err, &validation)
	assert.Equal(t, "frequency_week", validation.Field)
}

func TestUpdateClearsDependentFields(t *testing.T) {
	f := newFixture(t)
	merchant := f.seedMerchant(t, "billing@acme.test")
	in := &CreateInput{
		MerchantID:    merchant.ID,
		Frequency:     models.FrequencyMonthlyWeekday,
		FrequencyDay:  intPtr(2),
		FrequencyWeek: intPtr(2),
		IssueDate:     yesterdayUTC(),
	}
	s, err := f.manager.Create(testTeam, in)
	require.NoError(t, err)

	updated, err := f.manager.Update(testTeam, s.UUID,
		updateFrom(t, `{"frequency": "weekly", "frequency_day": 3}`))
	require.NoError(t, err)
	assert.Equal(t, models.FrequencyWeekly, updated.Frequency)
	require.NotNil(t, updated.FrequencyDay)
	assert.Equal(t, 3, *updated.FrequencyDay)
	assert.Nil(t, updated.FrequencyWeek, "week no longer applies after leaving monthly_weekday")
}

func TestUpdateToCustomClearsStaleDay(t *testing.T) {
	f := newFixture(t)
	merchant := f.seedMerchant(t, "billing@acme.test")
	in := weeklyInput(merchant.ID, 2)
	in.IssueDate = yesterdayUTC()
	s, err := f.manager.Create(testTeam, in)
	require.NoError(t, err)

	updated, err := f.manager.Update(testTeam, s.UUID,
		updateFrom(t, `{"frequency": "custom", "frequency_interval": 10}`))
	require.NoError(t, err)
	assert.Equal(t, models.FrequencyCustom, updated.Frequency)
	assert.Nil(t, updated.FrequencyDay, "day no longer applies on custom frequency")
	require.NotNil(t, updated.FrequencyInterval)
	assert.Equal(t, 10, *updated.FrequencyInterval)
}

func TestUpdateMerchantRequiresEmail(t *testing.T) {
	f := newFixture(t)
	merchant := f.seedMerchant(t, "billing@acme.test")
	silent := f.seedMerchant(t, "")
	in := weeklyInput(merchant.ID, 2)
	in.IssueDate = yesterdayUTC()
	s, err := f.manager.Create(testTeam, in)
	require.NoError(t, err)

	_, err = f.manager.Update(testTeam, s.UUID, &UpdateInput{
		MerchantID: OptUint{Set: true, Valid: true, Value: silent.ID},
	})
	var validation *ValidationError
	require.ErrorAs(t, err, &validation)
	assert.Equal(t, "merchant_id", validation.Field)

	unchanged, err := f.manager.Get(testTeam, s.UUID)
	require.NoError(t, err)
	assert.Equal(t, merchant.ID, unchanged.MerchantID)
}

func TestGetScopedToTeam(t *testing.T) {
	f := newFixture(t)
	merchant := f.seedMerchant(t, "billing@acme.test")
	in := weeklyInput(merchant.ID, 2)
	in.IssueDate = yesterdayUTC()
	s, err := f.manager.Create(testTeam, in)
	require.NoError(t, err)

	_, err = f.manager.Get(testTeam+1, s.UUID)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.manager.Get(testTeam, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListFiltersAndPagination(t *testing.T) {
	f := newFixture(t)
	merchant := f.seedMerchant(t, "billing@acme.test")
	other := f.seedMerchant(t, "ops@other.test")

	var created []*models.RecurringSeries
	for i := 0; i < 3; i++ {
		mid := merchant.ID
		if i == 2 {
			mid = other.ID
		}
		in := weeklyInput(mid, 2)
		in.IssueDate = yesterdayUTC()
		s, err := f.manager.Create(testTeam, in)
		require.NoError(t, err)
		created = append(created, s)
	}
	_, err := f.manager.Pause(testTeam, created[0].UUID)
	require.NoError(t, err)

	page, err := f.manager.List(testTeam, ListOptions{})
	require.NoError(t, err)
	assert.Len(t, page.Items, 3)
	assert.Zero(t, page.NextCursor)

	paused, err := f.manager.List(testTeam, ListOptions{Status: models.SeriesStatusPaused})
	require.NoError(t, err)
	require.Len(t, paused.Items, 1)
	assert.Equal(t, created[0].UUID, paused.Items[0].UUID)

	byMerchant, err := f.manager.List(testTeam, ListOptions{MerchantID: other.ID})
	require.NoError(t, err)
	require.Len(t, byMerchant.Items, 1)
	assert.Equal(t, created[2].UUID, byMerchant.Items[0].UUID)

	// Newest first, one per page, cursor walks backwards.
	first, err := f.manager.List(testTeam, ListOptions{PageSize: 1})
	require.NoError(t, err)
	require.Len(t, first.Items, 1)
	assert.Equal(t, created[2].UUID, first.Items[0].UUID)
	require.NotZero(t, first.NextCursor)

	second, err := f.manager.List(testTeam, ListOptions{PageSize: 1, Cursor: first.NextCursor})
	require.NoError(t, err)
	require.Len(t, second.Items, 1)
	assert.Equal(t, created[1].UUID, second.Items[0].UUID)

	empty, err := f.manager.List(testTeam+1, ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, empty.Items)
}

func TestUpcomingHonorsEndConditions(t *testing.T) {
	f := newFixture(t)
	merchant := f.seedMerchant(t, "billing@acme.test")

	in := weeklyInput(merchant.ID, int(yesterdayUTC().Weekday()))
	in.IssueDate = yesterdayUTC()
	in.EndType = models.EndTypeAfterCount
	in.EndCount = intPtr(3)
	s, err := f.manager.Create(testTeam, in)
	require.NoError(t, err)

	// One occurrence already consumed by the past anchor, two remain.
	_, dates, err := f.manager.Upcoming(testTeam, s.UUID, 10)
	require.NoError(t, err)
	require.Len(t, dates, 2)
	assert.True(t, dates[1].After(dates[0]))
	assert.Equal(t, yesterdayUTC().AddDate(0, 0, 7), dates[0].UTC())

	// on_date trims occurrences past the end date.
	in2 := weeklyInput(merchant.ID, int(yesterdayUTC().Weekday()))
	in2.IssueDate = yesterdayUTC()
	in2.EndType = models.EndTypeOnDate
	end := yesterdayUTC().AddDate(0, 0, 15)
	in2.EndDate = &end
	s2, err := f.manager.Create(testTeam, in2)
	require.NoError(t, err)

	_, dates, err = f.manager.Upcoming(testTeam, s2.UUID, 10)
	require.NoError(t, err)
	require.Len(t, dates, 2)
	assert.False(t, dates[len(dates)-1].After(end))

	// Terminal series project nothing.
	_, err = f.manager.Cancel(testTeam, s2.UUID)
	require.NoError(t, err)
	_, dates, err = f.manager.Upcoming(testTeam, s2.UUID, 10)
	require.NoError(t, err)
	assert.Empty(t, dates)
}

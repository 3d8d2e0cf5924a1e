// Package report renders periodic billing-activity summaries and emails them
// to the configured receivers. Delivery failures are logged only; reporting
// never blocks the scheduling engine.
package report

import (
	"bytes"
	"fmt"
	"text/template"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/gomail.v2"
	"gorm.io/gorm"

	"github.com/dealflow/internal/models"
)

type Generator struct {
	db     *gorm.DB
	dialer *gomail.Dialer
	from   string
	log    zerolog.Logger
}

type Data struct {
	StartTime       time.Time
	EndTime         time.Time
	ActiveSeries    int64
	PausedSeries    int64
	CompletedSeries int64
	DealsGenerated  int64
	Upcoming        []UpcomingRow
}

type UpcomingRow struct {
	SeriesUUID  string
	Frequency   models.Frequency
	ScheduledAt time.Time
}

var reportTemplate = template.Must(template.New("summary").Parse(`Recurring billing summary {{.StartTime.Format "2006-01-02"}} to {{.EndTime.Format "2006-01-02"}}

Active series:    {{.ActiveSeries}}
Paused series:    {{.PausedSeries}}
Completed series: {{.CompletedSeries}}
Deals generated:  {{.DealsGenerated}}

Next occurrences:
{{range .Upcoming}}  {{.ScheduledAt.Format "2006-01-02"}}  {{.Frequency}}  {{.SeriesUUID}}
{{end}}`))

func NewGenerator(db *gorm.DB, dialer *gomail.Dialer, from string, logger zerolog.Logger) *Generator {
	return &Generator{
		db:     db,
		dialer: dialer,
		from:   from,
		log:    logger.With().Str("component", "report").Logger(),
	}
}

// Generate renders the summary for the window as plain text.
func (g *Generator) Generate(startTime, endTime time.Time) (string, error) {
	data, err := g.collect(startTime, endTime)
	if err != nil {
		return "", fmt.Errorf("failed to collect report data: %w", err)
	}

	var buf bytes.Buffer
	if err := reportTemplate.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render report: %w", err)
	}
	return buf.String(), nil
}

// Send renders and emails the summary. Errors are returned for the caller to
// log; nothing is retried.
func (g *Generator) Send(startTime, endTime time.Time, receivers []string) error {
	body, err := g.Generate(startTime, endTime)
	if err != nil {
		return err
	}

	m := gomail.NewMessage()
	m.SetHeader("From", g.from)
	m.SetHeader("To", receivers...)
	m.SetHeader("Subject", fmt.Sprintf("Dealflow billing summary (%s - %s)",
		startTime.Format("2006-01-02"), endTime.Format("2006-01-02")))
	m.SetBody("text/plain", body)

	return g.dialer.DialAndSend(m)
}

func (g *Generator) collect(startTime, endTime time.Time) (*Data, error) {
	data := &Data{StartTime: startTime, EndTime: endTime}

	counts := []struct {
		status models.SeriesStatus
		dest   *int64
	}{
		{models.SeriesStatusActive, &data.ActiveSeries},
		{models.SeriesStatusPaused, &data.PausedSeries},
		{models.SeriesStatusCompleted, &data.CompletedSeries},
	}
	for _, c := range counts {
		if err := g.db.Model(&models.RecurringSeries{}).
			Where("status = ?", c.status).Count(c.dest).Error; err != nil {
			return nil, err
		}
	}

	if err := g.db.Model(&models.Deal{}).
		Where("recurring_series_id IS NOT NULL AND created_at BETWEEN ? AND ?", startTime, endTime).
		Count(&data.DealsGenerated).Error; err != nil {
		return nil, err
	}

	var next []models.RecurringSeries
	if err := g.db.Where("status = ? AND next_scheduled_at IS NOT NULL", models.SeriesStatusActive).
		Order("next_scheduled_at asc").Limit(10).Find(&next).Error; err != nil {
		return nil, err
	}
	for _, s := range next {
		data.Upcoming = append(data.Upcoming, UpcomingRow{
			SeriesUUID:  s.UUID,
			Frequency:   s.Frequency,
			ScheduledAt: *s.NextScheduledAt,
		})
	}

	return data, nil
}

package models

import (
	"time"

	"gorm.io/gorm"
)

type Frequency string

const (
	FrequencyWeekly         Frequency = "weekly"
	FrequencyBiweekly       Frequency = "biweekly"
	FrequencyMonthlyWeekday Frequency = "monthly_weekday"
	FrequencyMonthlyDate    Frequency = "monthly_date"
	FrequencyQuarterly      Frequency = "quarterly"
	FrequencySemiAnnual     Frequency = "semi_annual"
	FrequencyAnnual         Frequency = "annual"
	FrequencyCustom         Frequency = "custom"
)

type EndType string

const (
	EndTypeNever      EndType = "never"
	EndTypeOnDate     EndType = "on_date"
	EndTypeAfterCount EndType = "after_count"
)

type SeriesStatus string

const (
	SeriesStatusActive    SeriesStatus = "active"
	SeriesStatusPaused    SeriesStatus = "paused"
	SeriesStatusCanceled  SeriesStatus = "canceled"
	SeriesStatusCompleted SeriesStatus = "completed"
)

// RecurringSeries is a recurring-generation configuration producing a stream
// of deals over time. All date math for a series is anchored to its Timezone.
type RecurringSeries struct {
	gorm.Model
	UUID       string `json:"uuid" gorm:"uniqueIndex;not null"`
	TeamID     uint   `json:"team_id" gorm:"index;not null"`
	MerchantID uint   `json:"merchant_id" gorm:"index;not null"`

	Frequency         Frequency `json:"frequency" gorm:"not null"`
	FrequencyDay      *int      `json:"frequency_day"`      // weekday 0-6 or day-of-month 1-31, depending on Frequency
	FrequencyWeek     *int      `json:"frequency_week"`     // nth weekday occurrence 1-5, monthly_weekday only
	FrequencyInterval *int      `json:"frequency_interval"` // days, custom only
	Timezone          string    `json:"timezone" gorm:"not null;default:UTC"`

	EndType  EndType    `json:"end_type" gorm:"not null;default:never"`
	EndDate  *time.Time `json:"end_date"`
	EndCount *int       `json:"end_count"`

	IssueDate       time.Time  `json:"issue_date" gorm:"not null"`
	NextScheduledAt *time.Time `json:"next_scheduled_at"`
	LastGeneratedAt *time.Time `json:"last_generated_at"`
	DealsGenerated  int        `json:"deals_generated" gorm:"default:0"`

	Status SeriesStatus `json:"status" gorm:"index;not null;default:active"`
}

// RequiresDay reports whether the frequency needs a frequency_day value.
func (f Frequency) RequiresDay() bool {
	return f != FrequencyCustom
}

// DayIsWeekday reports whether frequency_day means a weekday (0-6) for this
// frequency, as opposed to a day of the month (1-31).
func (f Frequency) DayIsWeekday() bool {
	switch f {
	case FrequencyWeekly, FrequencyBiweekly, FrequencyMonthlyWeekday:
		return true
	default:
		return false
	}
}

func (f Frequency) Valid() bool {
	switch f {
	case FrequencyWeekly, FrequencyBiweekly, FrequencyMonthlyWeekday,
		FrequencyMonthlyDate, FrequencyQuarterly, FrequencySemiAnnual,
		FrequencyAnnual, FrequencyCustom:
		return true
	default:
		return false
	}
}

func (e EndType) Valid() bool {
	switch e {
	case EndTypeNever, EndTypeOnDate, EndTypeAfterCount:
		return true
	default:
		return false
	}
}

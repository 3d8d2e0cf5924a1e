package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type DealStatus string

const (
	DealStatusDraft     DealStatus = "draft"
	DealStatusScheduled DealStatus = "scheduled"
	DealStatusUnpaid    DealStatus = "unpaid"
	DealStatusOverdue   DealStatus = "overdue"
	DealStatusPaid      DealStatus = "paid"
	DealStatusCanceled  DealStatus = "canceled"
)

// Deal is one generated financial document. A deal with RecurringSeriesID set
// belongs to exactly one series; ScheduledJobRef is non-nil only while the
// deal is in scheduled status.
type Deal struct {
	gorm.Model
	TeamID     uint            `json:"team_id" gorm:"index;not null"`
	MerchantID uint            `json:"merchant_id" gorm:"index;not null"`
	Amount     decimal.Decimal `json:"amount" gorm:"type:decimal(20,4);default:0"`
	Currency   string          `json:"currency" gorm:"size:3;default:USD"`
	IssueDate  time.Time       `json:"issue_date" gorm:"not null"`
	Status     DealStatus      `json:"status" gorm:"index;not null;default:draft"`

	RecurringSeriesID *uint      `json:"recurring_series_id" gorm:"index"`
	RecurringSequence int        `json:"recurring_sequence"` // 1-based position in the series
	ScheduledAt       *time.Time `json:"scheduled_at"`
	ScheduledJobRef   *string    `json:"scheduled_job_ref"`
}

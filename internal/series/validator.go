package series

import (
	"time"

	"github.com/dealflow/internal/models"
)

// CreateInput is the full payload for creating a series. DealID optionally
// links an existing deal as the first occurrence; its issue date then becomes
// the anchor.
type CreateInput struct {
	MerchantID        uint             `json:"merchant_id"`
	DealID            *uint            `json:"deal_id"`
	Frequency         models.Frequency `json:"frequency"`
	FrequencyDay      *int             `json:"frequency_day"`
	FrequencyWeek     *int             `json:"frequency_week"`
	FrequencyInterval *int             `json:"frequency_interval"`
	Timezone          string           `json:"timezone"`
	EndType           models.EndType   `json:"end_type"`
	EndDate           *time.Time       `json:"end_date"`
	EndCount          *int             `json:"end_count"`
	IssueDate         time.Time        `json:"issue_date"`
}

// UpdateInput is a partial patch. Absent fields keep their persisted values;
// explicit nulls clear them, subject to cross-field validation.
type UpdateInput struct {
	MerchantID        OptUint   `json:"merchant_id"`
	Frequency         OptString `json:"frequency"`
	FrequencyDay      OptInt    `json:"frequency_day"`
	FrequencyWeek     OptInt    `json:"frequency_week"`
	FrequencyInterval OptInt    `json:"frequency_interval"`
	Timezone          OptString `json:"timezone"`
	EndType           OptString `json:"end_type"`
	EndDate           OptTime   `json:"end_date"`
	EndCount          OptInt    `json:"end_count"`
}

// ValidateCreate checks the full row invariants for a new series.
func ValidateCreate(in *CreateInput) error {
	if in.MerchantID == 0 {
		return invalidf("merchant_id", "merchant_id is required")
	}
	if !in.Frequency.Valid() {
		return invalidf("frequency", "unknown frequency %q", in.Frequency)
	}
	if in.Timezone != "" {
		if _, err := time.LoadLocation(in.Timezone); err != nil {
			return invalidf("timezone", "unknown IANA timezone %q", in.Timezone)
		}
	}
	if err := validateDay(in.Frequency, in.FrequencyDay, true); err != nil {
		return err
	}
	if err := validateWeek(in.Frequency, in.FrequencyWeek, true); err != nil {
		return err
	}
	if err := validateInterval(in.Frequency, in.FrequencyInterval, true); err != nil {
		return err
	}
	endType := in.EndType
	if endType == "" {
		endType = models.EndTypeNever
	}
	if !endType.Valid() {
		return invalidf("end_type", "unknown end type %q", in.EndType)
	}
	return validateEnd(endType, in.EndDate != nil, in.EndCount)
}

// ValidateUpdate checks the cross-field invariants of a partial patch against
// the persisted series. The fetch callback is invoked at most once, and only
// when a field in the payload depends on another field the payload does not
// carry; purely field-local constraints never trigger a lookup.
func ValidateUpdate(in *UpdateInput, fetch func() (*models.RecurringSeries, error)) error {
	var cached *models.RecurringSeries
	persisted := func() (*models.RecurringSeries, error) {
		if cached == nil {
			s, err := fetch()
			if err != nil {
				return nil, err
			}
			cached = s
		}
		return cached, nil
	}

	if in.MerchantID.Set && !in.MerchantID.Valid {
		return invalidf("merchant_id", "merchant_id cannot be null")
	}
	if in.Timezone.Set {
		if !in.Timezone.Valid || in.Timezone.Value == "" {
			return invalidf("timezone", "timezone cannot be null")
		}
		if _, err := time.LoadLocation(in.Timezone.Value); err != nil {
			return invalidf("timezone", "unknown IANA timezone %q", in.Timezone.Value)
		}
	}

	ruleTouched := in.Frequency.Set || in.FrequencyDay.Set || in.FrequencyWeek.Set || in.FrequencyInterval.Set
	if ruleTouched {
		var freq models.Frequency
		if in.Frequency.Set {
			if !in.Frequency.Valid {
				return invalidf("frequency", "frequency cannot be null")
			}
			freq = models.Frequency(in.Frequency.Value)
			if !freq.Valid() {
				return invalidf("frequency", "unknown frequency %q", in.Frequency.Value)
			}
		} else {
			s, err := persisted()
			if err != nil {
				return err
			}
			freq = s.Frequency
		}

		if in.FrequencyDay.Set || in.Frequency.Set {
			var day *int
			switch {
			case in.FrequencyDay.Set && in.FrequencyDay.Valid:
				day = &in.FrequencyDay.Value
			case in.FrequencyDay.Set:
				day = nil // explicit null
			default:
				if freq.RequiresDay() {
					s, err := persisted()
					if err != nil {
						return err
					}
					day = s.FrequencyDay
				}
			}
			if err := validateDay(freq, day, in.FrequencyDay.Set); err != nil {
				return err
			}
		}

		if in.FrequencyWeek.Set || in.Frequency.Set {
			var week *int
			switch {
			case in.FrequencyWeek.Set && in.FrequencyWeek.Valid:
				week = &in.FrequencyWeek.Value
			case in.FrequencyWeek.Set:
				week = nil
			default:
				if freq == models.FrequencyMonthlyWeekday {
					s, err := persisted()
					if err != nil {
						return err
					}
					week = s.FrequencyWeek
				}
			}
			if err := validateWeek(freq, week, in.FrequencyWeek.Set); err != nil {
				return err
			}
		}

		if in.FrequencyInterval.Set || in.Frequency.Set {
			var interval *int
			switch {
			case in.FrequencyInterval.Set && in.FrequencyInterval.Valid:
				interval = &in.FrequencyInterval.Value
			case in.FrequencyInterval.Set:
				interval = nil
			default:
				if freq == models.FrequencyCustom {
					s, err := persisted()
					if err != nil {
						return err
					}
					interval = s.FrequencyInterval
				}
			}
			if err := validateInterval(freq, interval, in.FrequencyInterval.Set); err != nil {
				return err
			}
		}
	}

	if in.EndCount.Set && in.EndCount.Valid && in.EndCount.Value < 1 {
		return invalidf("end_count", "end_count must be at least 1")
	}

	if in.EndType.Set {
		if !in.EndType.Valid {
			return invalidf("end_type", "end_type cannot be null")
		}
		endType := models.EndType(in.EndType.Value)
		if !endType.Valid() {
			return invalidf("end_type", "unknown end type %q", in.EndType.Value)
		}
		switch endType {
		case models.EndTypeOnDate:
			hasDate := in.EndDate.Set && in.EndDate.Valid
			if !in.EndDate.Set {
				s, err := persisted()
				if err != nil {
					return err
				}
				hasDate = s.EndDate != nil
			}
			if !hasDate {
				return invalidf("end_date", "end_date is required for on_date end type and cannot be null")
			}
		case models.EndTypeAfterCount:
			count := (*int)(nil)
			if in.EndCount.Set && in.EndCount.Valid {
				count = &in.EndCount.Value
			} else if !in.EndCount.Set {
				s, err := persisted()
				if err != nil {
					return err
				}
				count = s.EndCount
			}
			if count == nil {
				return invalidf("end_count", "end_count is required for after_count end type and cannot be null")
			}
		}
		return nil
	}

	// end_type absent: nulling a dependent field is only legal when the
	// persisted end type does not rely on it.
	if in.EndDate.Set && !in.EndDate.Valid {
		s, err := persisted()
		if err != nil {
			return err
		}
		if s.EndType == models.EndTypeOnDate {
			return invalidf("end_date", "end_date is required for on_date end type and cannot be null")
		}
	}
	if in.EndCount.Set && !in.EndCount.Valid {
		s, err := persisted()
		if err != nil {
			return err
		}
		if s.EndType == models.EndTypeAfterCount {
			return invalidf("end_count", "end_count is required for after_count end type and cannot be null")
		}
	}
	return nil
}

// validateDay checks the effective day. explicit reports whether the payload
// itself carried a day value; a stale persisted day on a frequency that does
// not use one is cleared by the patch, not rejected here.
func validateDay(freq models.Frequency, day *int, explicit bool) error {
	if !freq.RequiresDay() {
		if explicit && day != nil {
			return invalidf("frequency_day", "frequency_day is not used for %s frequency", freq)
		}
		return nil
	}
	if day == nil {
		return invalidf("frequency_day", "frequency_day is required for %s frequency and cannot be null", freq)
	}
	if freq.DayIsWeekday() {
		if *day < 0 || *day > 6 {
			return invalidf("frequency_day", "frequency_day must be a weekday 0-6 for %s frequency", freq)
		}
		return nil
	}
	if *day < 1 || *day > 31 {
		return invalidf("frequency_day", "frequency_day must be a day of month 1-31 for %s frequency", freq)
	}
	return nil
}

// validateWeek checks the effective week. explicit reports whether the payload
// itself carried a week value; a stale persisted week on a non-monthly_weekday
// frequency is cleared by the patch, not rejected here.
func validateWeek(freq models.Frequency, week *int, explicit bool) error {
	if freq != models.FrequencyMonthlyWeekday {
		if explicit && week != nil {
			return invalidf("frequency_week", "frequency_week is only valid for monthly_weekday frequency, not %s", freq)
		}
		return nil
	}
	if week == nil {
		return invalidf("frequency_week", "frequency_week is required for monthly_weekday frequency and cannot be null")
	}
	if *week < 1 || *week > 5 {
		return invalidf("frequency_week", "frequency_week must be between 1 and 5")
	}
	return nil
}

func validateInterval(freq models.Frequency, interval *int, explicit bool) error {
	if freq != models.FrequencyCustom {
		if explicit && interval != nil {
			return invalidf("frequency_interval", "frequency_interval is only valid for custom frequency, not %s", freq)
		}
		return nil
	}
	if interval == nil {
		return invalidf("frequency_interval", "frequency_interval is required for custom frequency and cannot be null")
	}
	if *interval < 1 {
		return invalidf("frequency_interval", "frequency_interval must be at least 1 day")
	}
	return nil
}

func validateEnd(endType models.EndType, hasDate bool, count *int) error {
	switch endType {
	case models.EndTypeOnDate:
		if !hasDate {
			return invalidf("end_date", "end_date is required for on_date end type and cannot be null")
		}
	case models.EndTypeAfterCount:
		if count == nil {
			return invalidf("end_count", "end_count is required for after_count end type and cannot be null")
		}
		if *count < 1 {
			return invalidf("end_count", "end_count must be at least 1")
		}
	}
	return nil
}

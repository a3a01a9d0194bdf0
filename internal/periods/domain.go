// Package periods owns the lifecycle of audit periods from OPEN through
// FINALIZED and the amendment branch.
package periods

import (
	"strings"
	"time"

	"github.com/odyssey-erp/audithub/internal/shared"
)

// Type enumerates period granularities.
type Type string

const (
	TypeMonthly   Type = "MONTHLY"
	TypeQuarterly Type = "QUARTERLY"
	TypeYearly    Type = "YEARLY"
)

// Status enumerates period lifecycle stages.
type Status string

const (
	StatusOpen      Status = "OPEN"
	StatusReview    Status = "REVIEW"
	StatusLocked    Status = "LOCKED"
	StatusFinalized Status = "FINALIZED"
	StatusAmended   Status = "AMENDED"
)

// Period is the scope over which module snapshots are taken.
type Period struct {
	ID                 int64      `json:"id"`
	CompanyID          int64      `json:"company_id"`
	Type               Type       `json:"period_type"`
	Year               int        `json:"year"`
	Month              int        `json:"month,omitempty"`
	Quarter            int        `json:"quarter,omitempty"`
	StartDate          time.Time  `json:"start_date"`
	EndDate            time.Time  `json:"end_date"`
	Status             Status     `json:"status"`
	PeriodHash         string     `json:"period_hash,omitempty"`
	LockedAt           *time.Time `json:"locked_at,omitempty"`
	FinalizedAt        *time.Time `json:"finalized_at,omitempty"`
	SupersedesPeriodID *int64     `json:"supersedes_period_id,omitempty"`
	AmendmentReason    string     `json:"amendment_reason,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// CreateInput describes a new period.
type CreateInput struct {
	CompanyID int64
	Type      Type
	Year      int
	Month     int
	Quarter   int
}

// Normalize upper-cases the period type.
func (in CreateInput) Normalize() CreateInput {
	in.Type = Type(strings.ToUpper(strings.TrimSpace(string(in.Type))))
	return in
}

// Validate checks the enum and range of every field.
func (in CreateInput) Validate() error {
	const op = "periods.Create"
	if err := shared.RequireCompany(op, in.CompanyID); err != nil {
		return err
	}
	if in.Year < 1900 || in.Year > 9999 {
		return shared.E(shared.KindValidation, op, "year %d out of range", in.Year)
	}
	switch in.Type {
	case TypeMonthly:
		if in.Month < 1 || in.Month > 12 {
			return shared.E(shared.KindValidation, op, "month must be 1..12 for MONTHLY periods")
		}
		if in.Quarter != 0 {
			return shared.E(shared.KindValidation, op, "quarter not allowed for MONTHLY periods")
		}
	case TypeQuarterly:
		if in.Quarter < 1 || in.Quarter > 4 {
			return shared.E(shared.KindValidation, op, "quarter must be 1..4 for QUARTERLY periods")
		}
		if in.Month != 0 {
			return shared.E(shared.KindValidation, op, "month not allowed for QUARTERLY periods")
		}
	case TypeYearly:
		if in.Month != 0 || in.Quarter != 0 {
			return shared.E(shared.KindValidation, op, "month and quarter not allowed for YEARLY periods")
		}
	default:
		return shared.E(shared.KindValidation, op, "unknown period type %q", in.Type)
	}
	return nil
}

// Range returns the first and last calendar day covered by the input.
func (in CreateInput) Range() (time.Time, time.Time) {
	var start time.Time
	var months int
	switch in.Type {
	case TypeMonthly:
		start = time.Date(in.Year, time.Month(in.Month), 1, 0, 0, 0, 0, time.UTC)
		months = 1
	case TypeQuarterly:
		start = time.Date(in.Year, time.Month((in.Quarter-1)*3+1), 1, 0, 0, 0, 0, time.UTC)
		months = 3
	default:
		start = time.Date(in.Year, time.January, 1, 0, 0, 0, 0, time.UTC)
		months = 12
	}
	return start, start.AddDate(0, months, -1)
}

// CloseResult is the outcome of closing a period.
type CloseResult struct {
	Period   Period           `json:"period"`
	Datasets []DatasetSummary `json:"datasets"`
}

// DatasetSummary is the per-module view returned by a close.
type DatasetSummary struct {
	ID          int64  `json:"id"`
	Module      string `json:"module_name"`
	RecordCount int    `json:"record_count"`
	TotalAmount string `json:"total_amount"`
	ModuleHash  string `json:"module_hash"`
}

// AmendResult pairs the amended original with its replacement.
type AmendResult struct {
	Original  Period `json:"original"`
	Amendment Period `json:"amendment"`
}

// ListResult is one page of periods.
type ListResult struct {
	Periods    []Period          `json:"periods"`
	Pagination shared.Pagination `json:"pagination"`
}

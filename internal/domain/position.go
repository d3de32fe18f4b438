package domain

import (
	"context"
	"time"
)

// PositionStatus mirrors the job status lifecycle of the recruiting system.
type PositionStatus string

const (
	StatusDraft         PositionStatus = "draft"
	StatusOpen          PositionStatus = "open"
	StatusOnHold        PositionStatus = "on_hold"
	StatusInReview      PositionStatus = "in_review"
	StatusInterviewing  PositionStatus = "interviewing"
	StatusOfferExtended PositionStatus = "offer_extended"
	StatusOfferAccepted PositionStatus = "offer_accepted"
	StatusClosed        PositionStatus = "closed"
	StatusArchived      PositionStatus = "archived"
	StatusOfferDeclined PositionStatus = "offer_declined"
	StatusReopened      PositionStatus = "reopened"
	StatusCancelled     PositionStatus = "cancelled"
)

// Valid reports whether s is one of the known statuses.
func (s PositionStatus) Valid() bool {
	switch s {
	case StatusDraft, StatusOpen, StatusOnHold, StatusInReview, StatusInterviewing,
		StatusOfferExtended, StatusOfferAccepted, StatusClosed, StatusArchived,
		StatusOfferDeclined, StatusReopened, StatusCancelled:
		return true
	}
	return false
}

// Position is an open job as exposed to the assistant.
type Position struct {
	ID           int64          `json:"id" yaml:"id"`
	Title        string         `json:"title" yaml:"title"`
	Description  string         `json:"description,omitempty" yaml:"description"`
	Benefits     string         `json:"benefits,omitempty" yaml:"benefits"`
	StartTime    *time.Time     `json:"start_time,omitempty" yaml:"start_time"`
	EndTime      *time.Time     `json:"end_time,omitempty" yaml:"end_time"`
	IntervalTime *int           `json:"interval_time,omitempty" yaml:"interval_time"`
	Status       PositionStatus `json:"-" yaml:"status"`
}

// Position field projections accepted by PositionStore.ListOpen.
const (
	FieldsSummary = "summary" // id, title
	FieldsFull    = "full"
)

// PositionStore answers the assistant's queries. Every read is restricted to
// positions in the open state.
type PositionStore interface {
	ListOpen(ctx context.Context, fields string) ([]Position, error)
	// FindOpen returns nil, nil when id is unknown or not open.
	FindOpen(ctx context.Context, id int64) (*Position, error)
	SearchOpenByTitle(ctx context.Context, query string) ([]Position, error)

	UpsertPosition(ctx context.Context, p Position) (int64, error)
}

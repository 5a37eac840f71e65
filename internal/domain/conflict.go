package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type ConflictType string

const (
	ConflictMissingDetector    ConflictType = "missing_detector"
	ConflictBroadPattern       ConflictType = "broad_pattern"
	ConflictInvalidPhaseTarget ConflictType = "invalid_phase_target"
	ConflictWeightSum          ConflictType = "weight_sum"
)

type Severity string

const (
	SeverityHigh   Severity = "HIGH"
	SeverityMedium Severity = "MEDIUM"
	SeverityLow    Severity = "LOW"
)

type ConflictStatus string

const (
	ConflictPending  ConflictStatus = "pending"
	ConflictApproved ConflictStatus = "approved"
	ConflictRejected ConflictStatus = "rejected"
)

// ValidTransition checks a conflict status transition. Review moves
// pending to approved or rejected; the reverse direction only exists as an
// explicit administrative reset, handled separately.
func (s ConflictStatus) ValidTransition(to ConflictStatus) bool {
	return s == ConflictPending && (to == ConflictApproved || to == ConflictRejected)
}

// TechniqueConfigConflict is an admin-reviewable flaw in the technique or
// detector configuration, not a runtime error. Advisory only: the live
// engine is never blocked by one.
type TechniqueConfigConflict struct {
	ID              uuid.UUID      `json:"id"`
	TechniqueNumber TechniqueID    `json:"techniqueNumber"`
	ConflictType    ConflictType   `json:"conflictType"`
	Severity        Severity       `json:"severity"`
	Phase           EpicPhase      `json:"phase,omitempty"` // phase the flaw was observed in, when phase-scoped
	Description     string         `json:"description"`
	Status          ConflictStatus `json:"status"`
	ReviewedBy      string         `json:"reviewedBy,omitempty"`
	ReviewReason    string         `json:"reviewReason,omitempty"`
	CreatedAt       time.Time      `json:"createdAt"`
	UpdatedAt       time.Time      `json:"updatedAt"`
}

// ConflictFilter narrows a conflict listing.
type ConflictFilter struct {
	Severity Severity
	Status   ConflictStatus
	Limit    int
	Offset   int
}

type ConflictRepository interface {
	Create(ctx context.Context, c *TechniqueConfigConflict) error
	GetByID(ctx context.Context, id uuid.UUID) (*TechniqueConfigConflict, error)
	List(ctx context.Context, filter ConflictFilter) ([]*TechniqueConfigConflict, error)
	// UpdateStatus applies a reviewed transition (pending -> approved|rejected).
	UpdateStatus(ctx context.Context, id uuid.UUID, status ConflictStatus, reviewedBy, reason string) error
	// Reset moves a reviewed conflict back to pending. Administrative only.
	Reset(ctx context.Context, id uuid.UUID, actor string) error
	// HasOpen reports whether a pending or approved conflict already
	// exists for the given technique/type/phase key, used to emit each
	// gap exactly once. Approved still counts as open: the flaw was
	// acknowledged but not yet fixed in the catalog, and piling up fresh
	// records for it helps nobody. Rejected does not count, so a
	// dismissed flaw that persists resurfaces on the next scan.
	HasOpen(ctx context.Context, technique TechniqueID, conflictType ConflictType, phase EpicPhase) (bool, error)
}

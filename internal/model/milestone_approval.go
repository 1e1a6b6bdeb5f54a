package model

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ApprovalState enum constants. UNLOCKED_* states accept edits and approvals;
// LOCKED is terminal.
const (
	ApprovalUnlockedNone     = "UNLOCKED_NONE"
	ApprovalUnlockedCompany  = "UNLOCKED_COMPANY"
	ApprovalUnlockedProvider = "UNLOCKED_PROVIDER"
	ApprovalLocked           = "LOCKED"
)

// ApprovalActor enum constants
const (
	ActorCompany  = "COMPANY"
	ActorProvider = "PROVIDER"
)

var (
	ErrApprovalLocked  = errors.New("milestones are locked")
	ErrUnknownActor    = errors.New("unknown approval actor")
	ErrUnknownApproval = errors.New("unknown approval state")
)

// MilestoneApproval holds the dual-approval gate of one project's milestone set.
type MilestoneApproval struct {
	ProjectID            uuid.UUID  `gorm:"type:uuid;primaryKey" json:"project_id"`
	State                string     `gorm:"type:varchar(20);not null;default:'UNLOCKED_NONE'" json:"state"`
	MilestonesApprovedAt *time.Time `json:"milestones_approved_at"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

func (a MilestoneApproval) CompanyApproved() bool {
	return a.State == ApprovalUnlockedCompany || a.State == ApprovalLocked
}

func (a MilestoneApproval) ProviderApproved() bool {
	return a.State == ApprovalUnlockedProvider || a.State == ApprovalLocked
}

func (a MilestoneApproval) Locked() bool {
	return a.State == ApprovalLocked
}

// NextApprovalState is the only transition of the approval gate. The second
// party's approval moves straight to LOCKED, so "both approved but unlocked"
// has no representation. Approving twice as the same party is a no-op.
func NextApprovalState(current, actor string) (string, error) {
	if actor != ActorCompany && actor != ActorProvider {
		return current, ErrUnknownActor
	}

	switch current {
	case ApprovalLocked:
		return current, ErrApprovalLocked
	case ApprovalUnlockedNone:
		if actor == ActorCompany {
			return ApprovalUnlockedCompany, nil
		}
		return ApprovalUnlockedProvider, nil
	case ApprovalUnlockedCompany:
		if actor == ActorCompany {
			return current, nil
		}
		return ApprovalLocked, nil
	case ApprovalUnlockedProvider:
		if actor == ActorProvider {
			return current, nil
		}
		return ApprovalLocked, nil
	default:
		return current, ErrUnknownApproval
	}
}

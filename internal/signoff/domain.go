// Package signoff records the PREPARED, REVIEWED and LOCKED approvals of a
// dataset.
package signoff

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/odyssey-erp/audithub/internal/shared"
)

// Stage is one step of the approval sequence.
type Stage string

const (
	StagePrepared Stage = "PREPARED"
	StageReviewed Stage = "REVIEWED"
	StageLocked   Stage = "LOCKED"
	// StagePending is reported when nothing has been signed yet.
	StagePending Stage = "PENDING"
)

// Stages lists the signable stages in order.
var Stages = []Stage{StagePrepared, StageReviewed, StageLocked}

// Roles permitted to sign.
const (
	RoleAccountant       = "ACCOUNTANT"
	RoleSeniorAccountant = "SENIOR_ACCOUNTANT"
	RoleFinanceManager   = "FINANCE_MANAGER"
)

var allowedRoles = map[Stage][]string{
	StagePrepared: {RoleAccountant, RoleSeniorAccountant, RoleFinanceManager},
	StageReviewed: {RoleSeniorAccountant, RoleFinanceManager},
	StageLocked:   {RoleFinanceManager},
}

// ParseStage validates a signable stage name.
func ParseStage(raw string) (Stage, error) {
	s := Stage(strings.ToUpper(strings.TrimSpace(raw)))
	switch s {
	case StagePrepared, StageReviewed, StageLocked:
		return s, nil
	default:
		return "", shared.E(shared.KindValidation, "signoff.ParseStage", "unknown stage %q", raw)
	}
}

// Predecessor returns the stage that must be signed before s.
func (s Stage) Predecessor() (Stage, bool) {
	switch s {
	case StageReviewed:
		return StagePrepared, true
	case StageLocked:
		return StageReviewed, true
	default:
		return "", false
	}
}

func (s Stage) rank() int {
	switch s {
	case StagePrepared:
		return 1
	case StageReviewed:
		return 2
	case StageLocked:
		return 3
	default:
		return 0
	}
}

// RoleAllowed reports whether role may sign stage.
func RoleAllowed(stage Stage, role string) bool {
	role = strings.ToUpper(strings.TrimSpace(role))
	for _, candidate := range allowedRoles[stage] {
		if candidate == role {
			return true
		}
	}
	return false
}

// SignOff is one immutable approval.
type SignOff struct {
	ID               int64     `json:"id"`
	DatasetID        int64     `json:"dataset_id"`
	Stage            Stage     `json:"stage"`
	UserID           int64     `json:"user_id"`
	UserRole         string    `json:"user_role"`
	Comments         string    `json:"comments"`
	DigitalSignature string    `json:"digital_signature"`
	SignedAt         time.Time `json:"signed_at"`
}

// Input carries a sign-off request.
type Input struct {
	CompanyID int64
	DatasetID int64
	Stage     Stage
	UserID    int64
	UserRole  string
	Comments  string
}

// Signature computes the tamper-evidence token of a sign-off. It proves the
// row was not edited after signing; it is not a non-repudiable signature.
func Signature(stage Stage, comments string, userID int64, signedAt time.Time) string {
	payload := strings.Join([]string{
		string(stage),
		comments,
		strconv.FormatInt(userID, 10),
		signedAt.UTC().Format(time.RFC3339Nano),
	}, "|")
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}

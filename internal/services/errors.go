package services

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	apperrors "github.com/seatsmith/seatsmith/pkg/errors"
)

// Domain outcomes surfaced to callers. Everything else propagates wrapped.
var (
	// ErrOrganizationFull signals the seat limit is reached; no mutation occurred.
	ErrOrganizationFull = apperrors.NewConflict("ORGANIZATION_FULL", "Organization has no free seats")
	// ErrAlreadyMember signals a duplicate admission attempt.
	ErrAlreadyMember = apperrors.NewConflict("ALREADY_MEMBER", "User is already a member of this organization")
	// ErrOrganizationNotFound indicates the organization does not exist.
	ErrOrganizationNotFound = apperrors.New("ORGANIZATION_NOT_FOUND", "Organization not found", http.StatusNotFound)
	// ErrMembershipNotFound indicates the target membership does not exist in the organization.
	ErrMembershipNotFound = apperrors.New("MEMBERSHIP_NOT_FOUND", "User is not a member of the organization", http.StatusBadRequest)
	// ErrInviteNotFound indicates no invite matches the provided token.
	ErrInviteNotFound = apperrors.New("INVITE_NOT_FOUND", "Invite not found", http.StatusNotFound)
	// ErrInviteExpired indicates the invite token has expired or was deactivated.
	ErrInviteExpired = apperrors.New("INVITE_EXPIRED", "Invite has expired", http.StatusGone)
)

// isUniqueConstraintError detects database uniqueness violations across
// vendors so the rule layer can switch on a structured condition instead of
// matching driver message substrings.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr != nil && pgErr.Code == "23505" {
		return true
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) && myErr != nil && myErr.Number == 1062 {
		return true
	}

	// SQLite reports violations as plain errors; fall back to the message.
	lower := strings.ToLower(err.Error())
	return strings.Contains(lower, "unique constraint")
}

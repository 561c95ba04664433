// Package profile layers the self-access exception for user profiles on top
// of ordinary permission checks.
package profile

import (
	"github.com/odyssey-erp/odyssey-access/internal/rbac"
	"github.com/odyssey-erp/odyssey-access/internal/shared"
)

// Checker answers permission checks for the current actor.
type Checker interface {
	Has(slug rbac.Slug) bool
	IsSuperAdmin() bool
}

// Guard decides profile access for one actor. Actors may always view and
// edit their own profile; the exception applies nowhere else.
type Guard struct {
	currentUserID int64
	checker       Checker
}

// NewGuard builds a Guard for the acting user.
func NewGuard(currentUserID int64, checker Checker) *Guard {
	return &Guard{currentUserID: currentUserID, checker: checker}
}

// CanViewProfile reports whether the actor may view target's profile.
func (g *Guard) CanViewProfile(targetUserID int64) bool {
	return g.allow(targetUserID, shared.PermProfileView)
}

// CanEditProfile reports whether the actor may edit target's profile.
func (g *Guard) CanEditProfile(targetUserID int64) bool {
	return g.allow(targetUserID, shared.PermProfileEdit)
}

func (g *Guard) allow(targetUserID int64, perm rbac.Slug) bool {
	if g.currentUserID != 0 && targetUserID == g.currentUserID {
		return true
	}
	if g.checker == nil {
		return false
	}
	if g.checker.IsSuperAdmin() {
		return true
	}
	return g.checker.Has(perm)
}

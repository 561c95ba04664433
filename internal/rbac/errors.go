package rbac

import (
	"errors"
	"fmt"

	"github.com/odyssey-erp/odyssey-access/internal/platform/httpx"
)

var (
	// ErrNotFound indicates that the requested role or user does not exist.
	ErrNotFound = fmt.Errorf("rbac: %w", httpx.ErrNotFound)
	// ErrForbidden is returned for writes against the super-admin role.
	ErrForbidden = fmt.Errorf("rbac: super-admin role is immutable: %w", httpx.ErrForbidden)
	// ErrRefreshFailed signals a transient failure fetching fresh permission data.
	ErrRefreshFailed = errors.New("rbac: permission refresh failed")
	// ErrStoreUnavailable wraps failures of the record store.
	ErrStoreUnavailable = fmt.Errorf("rbac: store: %w", httpx.ErrUnavailable)
	// ErrInvalidSlug rejects malformed slugs.
	ErrInvalidSlug = fmt.Errorf("rbac: invalid slug: %w", httpx.ErrValidation)
	// ErrUnknownPermission rejects slugs missing from the catalog.
	ErrUnknownPermission = fmt.Errorf("rbac: unknown permission: %w", httpx.ErrValidation)
)

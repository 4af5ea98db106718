package rbac

import "errors"

var (
	// ErrUnknownPermission indicates a key that is not part of the catalog.
	ErrUnknownPermission = errors.New("rbac: unknown permission")
	// ErrUnknownRole indicates a role outside the supported set.
	ErrUnknownRole = errors.New("rbac: unknown role")
	// ErrCatalogLoad indicates the permission catalog could not be loaded.
	ErrCatalogLoad = errors.New("rbac: catalog load failed")
	// ErrMembershipLoad indicates the membership record could not be loaded.
	ErrMembershipLoad = errors.New("rbac: membership load failed")
	// ErrInvalidCatalog indicates malformed catalog entries.
	ErrInvalidCatalog = errors.New("rbac: invalid catalog")
)

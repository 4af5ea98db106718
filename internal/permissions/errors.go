package permissions

import "errors"

var (
	// ErrForbidden indicates the actor lacks manage_permissions.
	ErrForbidden = errors.New("permissions: forbidden")
	// ErrOwnerTarget indicates an attempt to edit an owner membership.
	ErrOwnerTarget = errors.New("permissions: owner memberships cannot be edited")
	// ErrRoleProvenance indicates a toggle of a key implied by the member's role.
	ErrRoleProvenance = errors.New("permissions: key is granted by role")
	// ErrInvalidState indicates an operation not allowed in the editor's phase.
	ErrInvalidState = errors.New("permissions: invalid editor state")
	// ErrSaveConflict indicates the store rejected the edited grants.
	ErrSaveConflict = errors.New("permissions: save conflict")
	// ErrMemberNotFound indicates the target membership does not exist.
	ErrMemberNotFound = errors.New("permissions: member not found")
)

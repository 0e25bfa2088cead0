package domain

import "errors"

var (
	ErrTenantNotFound      = errors.New("tenant not found")
	ErrMembershipNotFound  = errors.New("membership not found")
	ErrInviteNotFound      = errors.New("invite not found")
	ErrInviteConsumed      = errors.New("invite already consumed")
	ErrInviteEmailMismatch = errors.New("invite does not belong to this account")
	ErrAlreadyMember       = errors.New("user is already a member of this tenant")
	ErrSlugTaken           = errors.New("tenant slug already in use")
	ErrInvalidName         = errors.New("tenant name is required")
	ErrInvalidRole         = errors.New("invalid tenant role")
	ErrInvalidStatus       = errors.New("invalid membership status")
	ErrInvalidContext      = errors.New("invalid portal context")
	ErrLastAdmin           = errors.New("tenant must retain at least one active admin")
)

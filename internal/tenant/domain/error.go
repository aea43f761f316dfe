package domain

import "errors"

var (
	ErrInvalidName          = errors.New("organization name is required")
	ErrInvalidRole          = errors.New("membership role is invalid")
	ErrHandleExhausted      = errors.New("could not allocate a unique handle")
	ErrOrganizationNotFound = errors.New("organization not found")
	ErrProfileNotFound      = errors.New("profile not found")
	ErrMembershipNotFound   = errors.New("membership not found")
	ErrMembershipExists     = errors.New("user already belongs to an organization")
)

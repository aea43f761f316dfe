package domain

import "errors"

var (
	ErrInviteNotFound = errors.New("invite not found")
	ErrInviteExpired  = errors.New("invite expired")
	ErrInviteUsed     = errors.New("invite already used")
	ErrInvalidEmail   = errors.New("invite email is invalid")
	ErrInvalidRole    = errors.New("invite role is invalid")
)

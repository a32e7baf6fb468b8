package domain

import "errors"

var (
	ErrMissingToken    = errors.New("missing token")
	ErrInvalidToken    = errors.New("invalid token")
	ErrTokenExpired    = errors.New("token expired")
	ErrNotConfigured   = errors.New("auth secret not configured")
	ErrInvalidAdminKey = errors.New("invalid admin token")
)

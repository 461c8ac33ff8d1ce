package store

import "errors"

var (
	ErrNotFound           = errors.New("store: not found")
	ErrAlreadyExists      = errors.New("store: already exists")
	ErrInvalidCredentials = errors.New("store: invalid credentials")
)

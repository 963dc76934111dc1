package model

import "errors"

var (
	ErrNotFound   = errors.New("not found")
	ErrDenied     = errors.New("permission denied")
	ErrValidation = errors.New("validation error")
)

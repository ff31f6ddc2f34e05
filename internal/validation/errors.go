package validation

import "errors"

var (
	ErrInvalidURL   = errors.New("validation: url must be http(s) with a host")
	ErrForbiddenURL = errors.New("validation: url resolves to a forbidden address")
)

package api

import "errors"

// ErrMissingSubject means the request did not pass through the auth middleware.
var ErrMissingSubject = errors.New("missing subject in context")

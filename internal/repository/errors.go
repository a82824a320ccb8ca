package repository

import "errors"

// ErrNotFound is returned by Directory lookups for an unknown identity.
var ErrNotFound = errors.New("not found")

package repository

import "errors"

// ErrNotFound is returned when a requested record is not found in the repository.
// This abstracts away the underlying storage implementation (SQL, NoSQL, etc.)
// from the service layer.
var ErrNotFound = errors.New("record not found")

// ErrDuplicate is returned when an insert-only record already exists.
var ErrDuplicate = errors.New("record already exists")

// ErrInvalidNamespace is returned when attempting to clear a namespace that is
// not whitelisted.
var ErrInvalidNamespace = errors.New("invalid namespace")

package docstore

import (
	"errors"

	"github.com/samber/oops"
)

var (
	// ErrNotFound is returned when no document exists at (partition, id).
	ErrNotFound = errors.New("document not found")
	// ErrConflict is returned when a create targets an occupied (partition, id).
	ErrConflict = errors.New("document already exists")
	// ErrInvalidQuery is returned for a query with neither a partition nor the cross-partition flag.
	ErrInvalidQuery = errors.New("query needs a partition or cross-partition scope")
)

// NotFoundError wraps ErrNotFound with the addressed document.
func NotFoundError(partition, id string) error {
	return oops.
		Code("NOT_FOUND").
		In("docstore").
		With("partition", partition).
		With("id", id).
		Wrap(ErrNotFound)
}

// ConflictError wraps ErrConflict with the addressed document.
func ConflictError(partition, id string) error {
	return oops.
		Code("CONFLICT").
		In("docstore").
		With("partition", partition).
		With("id", id).
		Wrap(ErrConflict)
}

// StoreError attaches the operation and address to a backend fault.
func StoreError(err error, op, partition, id string) error {
	return oops.
		Code("STORE_FAULT").
		In("docstore").
		With("op", op).
		With("partition", partition).
		With("id", id).
		Wrapf(err, "%s failed", op)
}

// IsNotFound reports whether err is, or wraps, ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict reports whether err is, or wraps, ErrConflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// internal/catalog/errors.go
package catalog

import (
	"errors"
	"fmt"
)

var (
	ErrResourceNotFound = errors.New("resource not found")
	ErrDuplicateName    = errors.New("duplicate catalog name")
	ErrMissingName      = errors.New("missing name")
)

// FetchErrorKind classifies why the source feed could not be read.
type FetchErrorKind string

const (
	FetchAuth             FetchErrorKind = "auth"
	FetchNetwork          FetchErrorKind = "network"
	FetchResourceNotFound FetchErrorKind = "resource_not_found"
)

// FetchError aborts the current cycle. It is retried on the next one.
type FetchError struct {
	Kind     FetchErrorKind
	Resource string
	Err      error
}

func (e *FetchError) Error() string {
	if e.Resource != "" {
		return fmt.Sprintf("fetch %s (%s): %v", e.Resource, e.Kind, e.Err)
	}
	return fmt.Sprintf("fetch (%s): %v", e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// MalformedRecordError marks a source row that was skipped.
type MalformedRecordError struct {
	Line   int
	Reason error
}

func (e *MalformedRecordError) Error() string {
	return fmt.Sprintf("Skipped row %d: %v", e.Line, e.Reason)
}

func (e *MalformedRecordError) Unwrap() error { return e.Reason }

// ApplyRecordError is a failed insert or update of a single record.
type ApplyRecordError struct {
	Name string
	Op   string
	Err  error
}

func (e *ApplyRecordError) Error() string {
	return fmt.Sprintf("Failed to process %s: %v", e.Name, e.Err)
}

func (e *ApplyRecordError) Unwrap() error { return e.Err }

// BulkDeleteError is a failed removal of stale entries. The delete phase is
// all-or-nothing.
type BulkDeleteError struct {
	Count int
	Err   error
}

func (e *BulkDeleteError) Error() string {
	return fmt.Sprintf("Failed to delete %d records: %v", e.Count, e.Err)
}

func (e *BulkDeleteError) Unwrap() error { return e.Err }

// GlobalSyncError wraps anything that stopped a cycle before it completed.
type GlobalSyncError struct {
	Err error
}

func (e *GlobalSyncError) Error() string {
	return fmt.Sprintf("Global sync error: %v", e.Err)
}

func (e *GlobalSyncError) Unwrap() error { return e.Err }

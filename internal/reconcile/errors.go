package reconcile

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingMarker marks a descriptor with neither marker form populated.
	ErrMissingMarker = errors.New("descriptor has no modification marker")
	// ErrMissingID marks a descriptor with an empty resource id.
	ErrMissingID = errors.New("descriptor has no resource id")
)

// ListingError wraps a lister failure. It aborts the whole run.
type ListingError struct {
	Tenant string
	Err    error
}

func (e *ListingError) Error() string {
	return fmt.Sprintf("listing resources for tenant %q: %v", e.Tenant, e.Err)
}

func (e *ListingError) Unwrap() error { return e.Err }

// InvariantViolation rejects a single malformed descriptor.
type InvariantViolation struct {
	ResourceID string
	Err        error
}

func (e *InvariantViolation) Error() string {
	return fmt.Sprintf("resource %q rejected: %v", e.ResourceID, e.Err)
}

func (e *InvariantViolation) Unwrap() error { return e.Err }

// DuplicateIDError reports a lister contract violation: the same resource id
// appeared more than once in a single listing.
type DuplicateIDError struct {
	ResourceID string
	Count      int
}

func (e *DuplicateIDError) Error() string {
	return fmt.Sprintf("resource %q listed %d times in one listing", e.ResourceID, e.Count)
}

// FetchError wraps a payload fetcher failure for one resource.
type FetchError struct {
	ResourceID string
	Err        error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetching resource %q: %v", e.ResourceID, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// ProcessorError wraps a processor failure for one resource. Processors
// registered after the failing one are not invoked.
type ProcessorError struct {
	ResourceID string
	Processor  string
	Err        error
}

func (e *ProcessorError) Error() string {
	return fmt.Sprintf("processor %q failed on resource %q: %v", e.Processor, e.ResourceID, e.Err)
}

func (e *ProcessorError) Unwrap() error { return e.Err }

// PersistenceError wraps a state store failure. Op is "bootstrap", "load"
// or "save".
type PersistenceError struct {
	Op     string
	Tenant string
	Count  int
	Err    error
}

func (e *PersistenceError) Error() string {
	if e.Count > 0 {
		return fmt.Sprintf("%s of %d states for tenant %q: %v", e.Op, e.Count, e.Tenant, e.Err)
	}
	return fmt.Sprintf("%s states for tenant %q: %v", e.Op, e.Tenant, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

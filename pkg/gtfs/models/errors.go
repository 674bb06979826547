package models

import (
	"fmt"
)

// AcquisitionKind classifies why acquiring a feed archive failed.
type AcquisitionKind string

const (
	AcquireNoFile         AcquisitionKind = "no_file"
	AcquireTransport      AcquisitionKind = "transport"
	AcquireInvalidArchive AcquisitionKind = "invalid_archive"
	AcquireAuth           AcquisitionKind = "auth"
)

// AcquisitionError is terminal for the import attempt; the core never
// retries acquisition.
type AcquisitionError struct {
	Kind   AcquisitionKind
	Source string
	Err    error
}

func (e *AcquisitionError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("acquiring %s: %s", e.Source, e.Kind)
	}
	return fmt.Sprintf("acquiring %s: %s: %v", e.Source, e.Kind, e.Err)
}

func (e *AcquisitionError) Unwrap() error { return e.Err }

// MissingRequiredTableError aborts the whole import: without one of the
// mandatory GTFS tables there is nothing meaningful to load.
type MissingRequiredTableError struct {
	Table string
}

func (e *MissingRequiredTableError) Error() string {
	return fmt.Sprintf("required table %s.txt missing from archive", e.Table)
}

// RowValidationError records a single cell that failed coercion or a
// required column that was empty. Row is 1-based over data rows.
type RowValidationError struct {
	Table  string
	Row    int
	Column string
	Value  string
	Reason string
}

func (e RowValidationError) Error() string {
	return fmt.Sprintf("%s row %d: column %s value %q: %s", e.Table, e.Row, e.Column, e.Value, e.Reason)
}

// DanglingReferenceError records a foreign-key-like value with no matching
// row in the referenced table within the same feed.
type DanglingReferenceError struct {
	Table    string
	Row      int
	Column   string
	RefTable string
	Key      string
}

func (e DanglingReferenceError) Error() string {
	return fmt.Sprintf("%s row %d: %s %q has no match in %s", e.Table, e.Row, e.Column, e.Key, e.RefTable)
}

// StorageWriteError wraps a failed batch write; the surrounding transaction
// is rolled back when it surfaces.
type StorageWriteError struct {
	Table string
	Err   error
}

func (e *StorageWriteError) Error() string {
	return fmt.Sprintf("writing %s: %v", e.Table, e.Err)
}

func (e *StorageWriteError) Unwrap() error { return e.Err }

// UnmappableEntityError records one GTFS entity no booking-system entity
// could be matched to. Collected per call, never fatal.
type UnmappableEntityError struct {
	EntityType MappingEntityType
	EntityID   string
	Reason     string
}

func (e UnmappableEntityError) Error() string {
	return fmt.Sprintf("%s %s: %s", e.EntityType, e.EntityID, e.Reason)
}

// Report accumulates row-level and referential errors across parsing and
// validation so the caller sees the complete picture rather than only the
// first failure. Under the strict import policy a non-empty report fails
// the import.
type Report struct {
	RowErrors []RowValidationError
	RefErrors []DanglingReferenceError
}

func (r *Report) AddRow(e RowValidationError)     { r.RowErrors = append(r.RowErrors, e) }
func (r *Report) AddRef(e DanglingReferenceError) { r.RefErrors = append(r.RefErrors, e) }

// Len is the total number of collected errors.
func (r *Report) Len() int {
	if r == nil {
		return 0
	}
	return len(r.RowErrors) + len(r.RefErrors)
}

func (r *Report) Empty() bool { return r.Len() == 0 }

// Messages flattens the report for logging and persistence on the feed row.
func (r *Report) Messages() []string {
	if r == nil {
		return nil
	}
	out := make([]string, 0, r.Len())
	for _, e := range r.RowErrors {
		out = append(out, e.Error())
	}
	for _, e := range r.RefErrors {
		out = append(out, e.Error())
	}
	return out
}

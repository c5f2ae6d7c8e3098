package lake

import (
	"errors"
	"fmt"
)

// Identifier validation errors. Endpoint and store IDs become path segments,
// so unsafe values are rejected rather than rewritten: rewriting could make
// two distinct partition keys collide.
var (
	ErrInvalidIdentifier = errors.New("invalid identifier")
	ErrPathTraversal     = errors.New("path traversal attempt detected")
)

// StorageError is a filesystem failure during a lake operation. Fatal for the
// operation in progress; never retried.
type StorageError struct {
	Op   string
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// SerializationError means the payload cannot be converted to its stored JSON
// form. Fatal for that store call.
type SerializationError struct {
	Err error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("serialize payload: %v", e.Err)
}

func (e *SerializationError) Unwrap() error { return e.Err }

// CorruptRecordError is a record file that fails to parse during a scan.
// Recovered locally: the file is skipped and reported, the scan continues.
type CorruptRecordError struct {
	Path string
	Err  error
}

func (e *CorruptRecordError) Error() string {
	return fmt.Sprintf("corrupt record %s: %v", e.Path, e.Err)
}

func (e *CorruptRecordError) Unwrap() error { return e.Err }

// InvalidPartitionDateError is a year=/month=/day= chain that does not name a
// real calendar date. Walks skip the directory and keep going; cleanup never
// deletes it.
type InvalidPartitionDateError struct {
	Dir string
	Err error
}

func (e *InvalidPartitionDateError) Error() string {
	return fmt.Sprintf("invalid partition date in %s: %v", e.Dir, e.Err)
}

func (e *InvalidPartitionDateError) Unwrap() error { return e.Err }

package store

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrVersionConflict = errors.New("version conflict")
)

// ConflictError reports a rejected conditional write: the document was no
// longer at the version the caller read.
type ConflictError struct {
	SubjectID string
	Expected  int64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("version conflict on subject %s: expected version %d", e.SubjectID, e.Expected)
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrVersionConflict
}

package splitter

import (
	"errors"
	"fmt"
)

var errEmptyDocument = errors.New("document contains no extractable text")

// Processing stage names carried by ProcessingError.
const (
	StageLoad  = "load"
	StageSplit = "split"
)

// UnsupportedFileTypeError reports an extension outside the supported set.
type UnsupportedFileTypeError struct {
	Path      string
	Extension string
}

func (e *UnsupportedFileTypeError) Error() string {
	return fmt.Sprintf("unsupported file type [%s]: %s", e.Path, e.Extension)
}

// ProcessingError reports a decode, parse, or split failure for one source.
type ProcessingError struct {
	Path  string
	Stage string // StageLoad or StageSplit
	Err   error
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("processing error [%s] (%s): %v", e.Path, e.Stage, e.Err)
}

func (e *ProcessingError) Unwrap() error { return e.Err }

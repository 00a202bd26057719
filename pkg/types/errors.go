package types

import (
	"errors"
	"fmt"
)

// Error kinds. Every structured error below matches exactly one of these
// with errors.Is.
var (
	ErrIo               = errors.New("io error")
	ErrParse            = errors.New("parse error")
	ErrResolution       = errors.New("resolution error")
	ErrCallGraph        = errors.New("call graph error")
	ErrConfig           = errors.New("config error")
	ErrSyntaxValidation = errors.New("syntax validation error")
)

// IoError is a filesystem failure carried with the path it concerns.
type IoError struct {
	Path string
	Op   string
	Err  error
}

func (e *IoError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IoError) Unwrap() error { return e.Err }

func (e *IoError) Is(target error) bool { return target == ErrIo }

// ParseError reports source that could not be parsed.
type ParseError struct {
	Path    string
	Message string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error in %s: %s", e.Path, e.Message)
}

func (e *ParseError) Is(target error) bool { return target == ErrParse }

// SyntaxError reports that a mutated file no longer parses.
type SyntaxError struct {
	Path    string
	Message string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("syntax validation failed for %s: %s", e.Path, e.Message)
}

func (e *SyntaxError) Is(target error) bool { return target == ErrSyntaxValidation }

// NewIoError wraps err with the operation and path. A nil err yields nil.
func NewIoError(op, path string, err error) error {
	if err == nil {
		return nil
	}
	return &IoError{Path: path, Op: op, Err: err}
}

// Failure records a file that could not be analyzed. Failures are
// collected and reported; they never abort a run.
type Failure struct {
	Path    string `json:"path"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// NewFailure classifies err into a Failure for path.
func NewFailure(path string, err error) Failure {
	kind := "unknown"
	switch {
	case errors.Is(err, ErrParse):
		kind = "parse"
	case errors.Is(err, ErrIo):
		kind = "io"
	case errors.Is(err, ErrSyntaxValidation):
		kind = "syntax"
	case errors.Is(err, ErrResolution):
		kind = "resolution"
	}
	return Failure{Path: path, Kind: kind, Message: err.Error()}
}

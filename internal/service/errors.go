package service

import (
	"errors"
	"fmt"
)

// Error kinds. Every pipeline failure wraps exactly one of these, so callers
// classify with errors.Is.
var (
	ErrValidation = errors.New("validation error")
	ErrDownload   = errors.New("download error")
	ErrExtraction = errors.New("extraction error")
	ErrParse      = errors.New("parse error")
	ErrEmbedding  = errors.New("embedding error")
	ErrRerank     = errors.New("rerank error")
	ErrGeneration = errors.New("generation error")
	ErrStore      = errors.New("store error")
	ErrRetrieval  = errors.New("retrieval error")

	ErrJobNotFound = errors.New("job not found")
)

// StageError is a collaborator failure during one pipeline stage.
type StageError struct {
	Kind  error  // one of the Err* kinds
	Stage string // "download", "rerank", ...
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Stage, e.Err)
}

// Is matches the error kind.
func (e *StageError) Is(target error) bool {
	return target == e.Kind
}

func (e *StageError) Unwrap() error {
	return e.Err
}

func stageErr(kind error, stage string, err error) error {
	return &StageError{Kind: kind, Stage: stage, Err: err}
}

func validationErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Kind returns the error kind wrapped by err, or nil for unclassified errors.
func Kind(err error) error {
	for _, k := range []error{
		ErrValidation, ErrDownload, ErrExtraction, ErrParse, ErrEmbedding,
		ErrRerank, ErrGeneration, ErrStore, ErrRetrieval, ErrJobNotFound,
	} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

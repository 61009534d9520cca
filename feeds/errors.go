package feeds

import (
	"fmt"
	"strings"
)

// SourceError is a failed fetch of a single source
type SourceError struct {
	Source string
	Err    error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("%s unavailable: %v", e.Source, e.Err)
}

func (e *SourceError) Unwrap() error {
	return e.Err
}

// FatalError is returned when every source failed in the same cycle
type FatalError struct {
	Failures []*SourceError
}

func (e *FatalError) Error() string {
	parts := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		parts[i] = f.Error()
	}
	return "failed to load insights, all sources failed: " + strings.Join(parts, "; ")
}

func (e *FatalError) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		errs[i] = f
	}
	return errs
}

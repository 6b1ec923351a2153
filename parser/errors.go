// Package parser turns manifest documents into ranged dependency declarations and resolves
// their transitive closures through the ecosystem build tools.
package parser

import (
	"errors"
	"fmt"
)

// ErrNoParserFound is returned when no registered parser handles a document
var ErrNoParserFound = errors.New("no parser found")

// ManifestParseError reports a manifest that could not be scanned into dependency declarations
type ManifestParseError struct {
	Manifest string
	Reason   string
	Err      error
}

func (e *ManifestParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parse %s: %s: %v", e.Manifest, e.Reason, e.Err)
	}
	return fmt.Sprintf("parse %s: %s", e.Manifest, e.Reason)
}

func (e *ManifestParseError) Unwrap() error {
	return e.Err
}

// BuildDependencyError reports a failed build tool invocation or unparsable build tool output
type BuildDependencyError struct {
	Tool string
	Err  error
}

func (e *BuildDependencyError) Error() string {
	return fmt.Sprintf("resolve dependencies with %s: %v", e.Tool, e.Err)
}

func (e *BuildDependencyError) Unwrap() error {
	return e.Err
}

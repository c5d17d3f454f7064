package core

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors.
var (
	// ErrNotFound is returned when a named datasource, thread, response or metric does not exist.
	ErrNotFound = errors.New("not found")
	// ErrFeedbackAlreadySet is returned on a second feedback annotation for one response.
	ErrFeedbackAlreadySet = errors.New("feedback already set for response")
)

// ConnectionKind classifies attach and connect failures.
type ConnectionKind string

// Connection failure kinds.
const (
	ConnNameCollision ConnectionKind = "name_collision"
	ConnInvalidURI    ConnectionKind = "invalid_uri"
	ConnUnreachable   ConnectionKind = "unreachable"
)

// ConnectionError reports a failure to attach or connect to a datasource.
// It is fatal until resolved and never retried.
type ConnectionError struct {
	DataSource string
	Kind       ConnectionKind
	Err        error
}

func (e *ConnectionError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("connection error for %q: %s", e.DataSource, e.Kind)
	}
	return fmt.Sprintf("connection error for %q (%s): %v", e.DataSource, e.Kind, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// DuplicateNameError reports a name collision on datasource or metric creation.
type DuplicateNameError struct {
	Kind string
	Name string
}

func (e *DuplicateNameError) Error() string {
	return fmt.Sprintf("%s %q already exists", e.Kind, e.Name)
}

// ExecutionError reports SQL that failed at runtime.
type ExecutionError struct {
	SQL string
	Err error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execution failed: %v", e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// OracleError reports a failed oracle call or output that violates the call site's schema.
type OracleError struct {
	CallSite string
	Err      error
}

func (e *OracleError) Error() string {
	return fmt.Sprintf("oracle %s failed: %v", e.CallSite, e.Err)
}

func (e *OracleError) Unwrap() error { return e.Err }

// ValidationError reports malformed catalog content.
type ValidationError struct {
	// Path is the offending file or field
	Path     string
	Problems []string
	Err      error
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	b.WriteString("validation failed")
	if e.Path != "" {
		fmt.Fprintf(&b, " for %s", e.Path)
	}
	if len(e.Problems) > 0 {
		b.WriteString(": ")
		b.WriteString(strings.Join(e.Problems, "; "))
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *ValidationError) Unwrap() error { return e.Err }

// DeployError reports a deployment failure. Metric is set when a single metric failed.
type DeployError struct {
	DataSource string
	Phase      string
	Metric     string
	Err        error
}

func (e *DeployError) Error() string {
	if e.Metric != "" {
		return fmt.Sprintf("deploy %s: %s failed for metric %q: %v", e.DataSource, e.Phase, e.Metric, e.Err)
	}
	return fmt.Sprintf("deploy %s: %s failed: %v", e.DataSource, e.Phase, e.Err)
}

func (e *DeployError) Unwrap() error { return e.Err }

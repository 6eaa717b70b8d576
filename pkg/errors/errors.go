package errors

import (
	stderrors "errors"
	"fmt"
	"net"
	"strings"
)

// ErrOffline is the canonical cause attached to ConnectivityError values
// created by the cache and the mutation queue while the device is offline.
var ErrOffline = stderrors.New("network unavailable")

// ParseError represents a YAML parsing failure with optional line metadata.
type ParseError struct {
	Path    string
	Line    int
	Message string
	Err     error
}

// NewParseError constructs a ParseError.
func NewParseError(path string, line int, err error) error {
	message := ""
	if err != nil {
		message = err.Error()
	}
	return &ParseError{Path: path, Line: line, Message: message, Err: err}
}

func (e *ParseError) Error() string {
	if e == nil {
		return ""
	}

	if e.Line > 0 {
		return fmt.Sprintf("parse error: %s:%d: %s", e.Path, e.Line, e.Message)
	}
	return fmt.Sprintf("parse error: %s: %s", e.Path, e.Message)
}

// Unwrap exposes the underlying error.
func (e *ParseError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// ValidationError captures configuration validation issues.
type ValidationError struct {
	Field   string
	Message string
	Err     error
}

// NewValidationError constructs a ValidationError.
func NewValidationError(field, message string, err error) error {
	return &ValidationError{Field: field, Message: message, Err: err}
}

func (e *ValidationError) Error() string {
	if e == nil {
		return ""
	}
	if e.Field != "" {
		return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

// Unwrap exposes the underlying error.
func (e *ValidationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NotFoundError is returned by required lookups when no scope in the chain
// holds a registration for the requested type and tag.
type NotFoundError struct {
	Type string
	Tag  string
}

// NewNotFoundError constructs a NotFoundError.
func NewNotFoundError(typeName, tag string) error {
	return &NotFoundError{Type: typeName, Tag: tag}
}

func (e *NotFoundError) Error() string {
	if e == nil {
		return ""
	}
	if e.Tag != "" {
		return fmt.Sprintf("dependency not found: %s (tag %q)\nHint: register it with Put or PutLazy in this scope or an ancestor", e.Type, e.Tag)
	}
	return fmt.Sprintf("dependency not found: %s\nHint: register it with Put or PutLazy in this scope or an ancestor", e.Type)
}

// ResolutionCycleError is returned when a lazy factory asks for the
// registration it is building, directly or through other factories.
type ResolutionCycleError struct {
	Dependency string
}

// NewResolutionCycleError constructs a ResolutionCycleError.
func NewResolutionCycleError(dependency string) error {
	return &ResolutionCycleError{Dependency: dependency}
}

func (e *ResolutionCycleError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("dependency %s requested while it is being built\nHint: a lazy factory must not resolve itself, directly or through its dependencies", e.Dependency)
}

// ScopeDisposedError reports an operation attempted on a disposed scope.
type ScopeDisposedError struct {
	ScopeID string
	Name    string
	Op      string
}

// NewScopeDisposedError constructs a ScopeDisposedError.
func NewScopeDisposedError(id, name, op string) error {
	return &ScopeDisposedError{ScopeID: id, Name: name, Op: op}
}

func (e *ScopeDisposedError) Error() string {
	if e == nil {
		return ""
	}
	label := e.ScopeID
	if e.Name != "" {
		label = fmt.Sprintf("%s (%s)", e.Name, e.ScopeID)
	}
	return fmt.Sprintf("scope %s is disposed: cannot %s", label, e.Op)
}

// ConflictError indicates a registration that clashes with an existing one.
type ConflictError struct {
	Subject string
	Message string
}

// NewConflictError constructs a ConflictError.
func NewConflictError(subject, message string) error {
	return &ConflictError{Subject: subject, Message: message}
}

func (e *ConflictError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("conflict on %s: %s", e.Subject, e.Message)
}

// CycleError is returned when module dependencies form a cycle.
type CycleError struct {
	Cycle []string
}

func (e *CycleError) Error() string {
	if e == nil {
		return ""
	}
	if len(e.Cycle) == 0 {
		return "circular module dependency detected"
	}
	sequence := append(append([]string{}, e.Cycle...), e.Cycle[0])
	return fmt.Sprintf(
		"circular module dependency detected: %s\nHint: break the cycle by removing or refactoring one of the dependencies",
		strings.Join(sequence, " -> "),
	)
}

// ModuleError wraps a failure raised by a module lifecycle phase.
type ModuleError struct {
	Module string
	Phase  string
	Err    error
}

// NewModuleError constructs a ModuleError for the given phase.
func NewModuleError(module, phase string, err error) error {
	return &ModuleError{Module: module, Phase: phase, Err: err}
}

func (e *ModuleError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("module %s failed during %s: %v", e.Module, e.Phase, e.Err)
}

// Unwrap exposes the underlying error.
func (e *ModuleError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// FetchError is the terminal error of a query once retries are exhausted.
type FetchError struct {
	Key      string
	Attempts int
	Err      error
}

func (e *FetchError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("fetch %s failed after %d attempt(s): %v", e.Key, e.Attempts, e.Err)
}

// Unwrap exposes the last fetcher error.
func (e *FetchError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// MutationError wraps a deterministic mutation failure.
type MutationError struct {
	Key string
	Err error
}

func (e *MutationError) Error() string {
	if e == nil {
		return ""
	}
	if e.Key != "" {
		return fmt.Sprintf("mutation %s failed: %v", e.Key, e.Err)
	}
	return fmt.Sprintf("mutation failed: %v", e.Err)
}

// Unwrap exposes the underlying error.
func (e *MutationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// ConnectivityError marks a failure caused by the network being unreachable
// rather than by the operation itself.
type ConnectivityError struct {
	Op  string
	Err error
}

// NewConnectivityError constructs a ConnectivityError. A nil cause defaults
// to ErrOffline.
func NewConnectivityError(op string, err error) error {
	if err == nil {
		err = ErrOffline
	}
	return &ConnectivityError{Op: op, Err: err}
}

func (e *ConnectivityError) Error() string {
	if e == nil {
		return ""
	}
	if e.Op != "" {
		return fmt.Sprintf("connectivity error during %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("connectivity error: %v", e.Err)
}

// Unwrap exposes the underlying error.
func (e *ConnectivityError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Connectivity lets ConnectivityError satisfy the classifier interface.
func (e *ConnectivityError) Connectivity() bool { return true }

// IsConnectivity classifies err as a connectivity failure. It recognises
// ConnectivityError, ErrOffline, net.Error values and any error in the chain
// exposing a Connectivity() bool method that returns true.
func IsConnectivity(err error) bool {
	if err == nil {
		return false
	}
	if stderrors.Is(err, ErrOffline) {
		return true
	}
	var classified interface{ Connectivity() bool }
	if stderrors.As(err, &classified) && classified.Connectivity() {
		return true
	}
	var netErr net.Error
	return stderrors.As(err, &netErr)
}

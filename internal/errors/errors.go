package errors

import "fmt"

// Config errors

type ErrConfigNotFound struct {
	Path string
}

func (e *ErrConfigNotFound) Error() string {
	return fmt.Sprintf("config file not found: %s", e.Path)
}

type ErrConfigParse struct {
	Err error
}

func (e *ErrConfigParse) Error() string {
	return fmt.Sprintf("failed to parse YAML: %v", e.Err)
}

func (e *ErrConfigParse) Unwrap() error {
	return e.Err
}

type ErrConfigValidation struct {
	Err error
}

func (e *ErrConfigValidation) Error() string {
	return fmt.Sprintf("config validation failed: %v", e.Err)
}

func (e *ErrConfigValidation) Unwrap() error {
	return e.Err
}

// Database errors

type ErrDatabaseOpen struct {
	Path string
	Err  error
}

func (e *ErrDatabaseOpen) Error() string {
	return fmt.Sprintf("failed to open database %s: %v", e.Path, e.Err)
}

func (e *ErrDatabaseOpen) Unwrap() error {
	return e.Err
}

type ErrDatabaseMigration struct {
	Version int
	Err     error
}

func (e *ErrDatabaseMigration) Error() string {
	return fmt.Sprintf("database migration %d failed: %v", e.Version, e.Err)
}

func (e *ErrDatabaseMigration) Unwrap() error {
	return e.Err
}

type ErrDatabaseQuery struct {
	Operation string
	Err       error
}

func (e *ErrDatabaseQuery) Error() string {
	return fmt.Sprintf("database query failed for operation %s: %v", e.Operation, e.Err)
}

func (e *ErrDatabaseQuery) Unwrap() error {
	return e.Err
}

// Validation errors

type ErrSlotValidation struct {
	Field string
	Err   error
}

func (e *ErrSlotValidation) Error() string {
	return fmt.Sprintf("slot request validation error for %s: %v", e.Field, e.Err)
}

func (e *ErrSlotValidation) Unwrap() error {
	return e.Err
}

// Scheduling errors. These are the only failures inside a scheduling
// request that escalate past per-user result flags; everything else is
// swallowed into booleans.

type ErrNoUsableCalendars struct {
	Total int
}

func (e *ErrNoUsableCalendars) Error() string {
	return fmt.Sprintf("none of the %d participants have a usable calendar integration", e.Total)
}

type ErrNoCandidateSlots struct {
	Reason string
}

func (e *ErrNoCandidateSlots) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("no candidate slots found: %s", e.Reason)
	}
	return "no candidate slots found"
}

// Provider errors

type ErrProviderRefresh struct {
	UserID string
	Err    error
}

func (e *ErrProviderRefresh) Error() string {
	return fmt.Sprintf("token refresh failed for user %s: %v", e.UserID, e.Err)
}

func (e *ErrProviderRefresh) Unwrap() error {
	return e.Err
}

type ErrProviderQuery struct {
	UserID    string
	Operation string
	Err       error
}

func (e *ErrProviderQuery) Error() string {
	return fmt.Sprintf("provider %s failed for user %s: %v", e.Operation, e.UserID, e.Err)
}

func (e *ErrProviderQuery) Unwrap() error {
	return e.Err
}

// Server errors

type ErrServerStart struct {
	Addr string
	Err  error
}

func (e *ErrServerStart) Error() string {
	return fmt.Sprintf("failed to start server on %s: %v", e.Addr, e.Err)
}

func (e *ErrServerStart) Unwrap() error {
	return e.Err
}

type ErrServerShutdown struct {
	Err error
}

func (e *ErrServerShutdown) Error() string {
	return fmt.Sprintf("server shutdown failed: %v", e.Err)
}

func (e *ErrServerShutdown) Unwrap() error {
	return e.Err
}

// Filesystem errors

type ErrDirectoryCreate struct {
	Path string
	Err  error
}

func (e *ErrDirectoryCreate) Error() string {
	return fmt.Sprintf("failed to create directory %s: %v", e.Path, e.Err)
}

func (e *ErrDirectoryCreate) Unwrap() error {
	return e.Err
}

type ErrFileRead struct {
	Path string
	Err  error
}

func (e *ErrFileRead) Error() string {
	return fmt.Sprintf("failed to read file %s: %v", e.Path, e.Err)
}

func (e *ErrFileRead) Unwrap() error {
	return e.Err
}

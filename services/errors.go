package services

import (
	"errors"
	"fmt"
)

// Sync failure codes reported to callers.
const (
	CodeSessionExpired        = "SESSION_EXPIRED"
	CodePermissionCheckFailed = "PERMISSION_CHECK_FAILED"
	CodeNotAdmin              = "NOT_ADMIN"
	CodeInvalidSnapshot       = "INVALID_SNAPSHOT"
	CodeTimeout               = "TIMEOUT"
	CodeUpdateFailed          = "MENU_DATA_UPDATE_FAILED"
	CodeDeleteFailed          = "DELETE_FAILED"
	CodeLoadFailed            = "LOAD_FAILED"
	CodeStoreUnavailable      = "STORE_UNAVAILABLE"
)

// SyncError is the error type returned by Engine loads and saves.
type SyncError struct {
	Code  string
	Table Table // set for store failures scoped to one table
	Err   error
}

func (e *SyncError) Error() string {
	if e.Err == nil {
		return e.Code
	}
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

func (e *SyncError) Unwrap() error { return e.Err }

// Is matches on Code so errors.Is(err, ErrNotAdmin) works for wrapped values.
func (e *SyncError) Is(target error) bool {
	t, ok := target.(*SyncError)
	if !ok {
		return false
	}
	return t.Code == e.Code && (t.Table == "" || t.Table == e.Table)
}

var (
	ErrSessionExpired        = &SyncError{Code: CodeSessionExpired}
	ErrPermissionCheckFailed = &SyncError{Code: CodePermissionCheckFailed}
	ErrNotAdmin              = &SyncError{Code: CodeNotAdmin}
	ErrInvalidSnapshot       = &SyncError{Code: CodeInvalidSnapshot}
	ErrTimeout               = &SyncError{Code: CodeTimeout}
	ErrDeleteFailed          = &SyncError{Code: CodeDeleteFailed}
	ErrStoreUnavailable      = &SyncError{Code: CodeStoreUnavailable}
)

// ErrIndexOutOfRange is returned by the local edit mutators.
var ErrIndexOutOfRange = errors.New("index out of range")

// InsertFailedCode returns the per-table insert failure code, e.g. MENU_ITEMS_INSERT_FAILED.
func InsertFailedCode(t Table) string {
	return t.Code() + "_INSERT_FAILED"
}

// ErrInsertFailed matches insert failures for the given table.
func ErrInsertFailed(t Table) error {
	return &SyncError{Code: InsertFailedCode(t), Table: t}
}

func syncErr(code string, err error) *SyncError {
	return &SyncError{Code: code, Err: err}
}

// ErrorCode returns the SyncError code carried by err, or "" when there is none.
func ErrorCode(err error) string {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}

// Retryable reports whether a failed save is worth repeating. Missing
// sessions, missing admin grants and invalid input do not change between
// attempts.
func Retryable(err error) bool {
	switch ErrorCode(err) {
	case CodeSessionExpired, CodeNotAdmin, CodeInvalidSnapshot:
		return false
	}
	return err != nil
}

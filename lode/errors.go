// Package lode persists runtime load events to a Lode dataset and reads
// them back.
//
// Storage failures are classified into sentinel kinds so callers can use
// errors.Is instead of matching backend-specific messages.
package lode

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for storage failure classification.
var (
	// ErrPermissionDenied indicates a local permission failure (EACCES).
	ErrPermissionDenied = errors.New("permission denied")

	// ErrNotFound indicates the target path or object does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDiskFull indicates storage is out of space (ENOSPC).
	ErrDiskFull = errors.New("no space left on device")

	// ErrTimeout indicates an operation timed out.
	ErrTimeout = errors.New("operation timed out")

	// ErrThrottled indicates rate limiting (429, SlowDown).
	ErrThrottled = errors.New("rate limited")

	// ErrAuth indicates missing or invalid credentials.
	ErrAuth = errors.New("authentication failed")

	// ErrAccessDenied indicates valid credentials without permission (403).
	ErrAccessDenied = errors.New("access denied")

	// ErrNetwork indicates a network-level failure.
	ErrNetwork = errors.New("network error")

	// ErrUnclassified is the kind of any storage failure matching no rule.
	ErrUnclassified = errors.New("storage error")
)

// StorageError wraps an underlying error with its classification.
type StorageError struct {
	// Kind is the sentinel the failure was classified as.
	Kind error
	// Op is the operation that failed ("write", "read", "init").
	Op string
	// Path is the dataset or object involved, if any.
	Path string
	// Err is the underlying error.
	Err error
}

func (e *StorageError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s %s: %v: %v", e.Op, e.Path, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As chain traversal.
func (e *StorageError) Unwrap() error {
	return e.Err
}

// Is reports whether the error matches the target sentinel.
func (e *StorageError) Is(target error) bool {
	return errors.Is(e.Kind, target)
}

// wrap classifies err for op. Returns nil if err is nil.
func wrap(op, path string, err error) error {
	if err == nil {
		return nil
	}
	var storageErr *StorageError
	if errors.As(err, &storageErr) {
		return err
	}
	return &StorageError{Kind: classify(err), Op: op, Path: path, Err: err}
}

// WrapWriteError classifies a write failure.
func WrapWriteError(err error, path string) error { return wrap("write", path, err) }

// WrapReadError classifies a read failure.
func WrapReadError(err error, path string) error { return wrap("read", path, err) }

// WrapInitError classifies a dataset initialization failure.
func WrapInitError(err error, dataset string) error { return wrap("init", dataset, err) }

// classifyRules are checked in order; the first match wins.
var classifyRules = []struct {
	kind     error
	patterns []string
}{
	{ErrAccessDenied, []string{"accessdenied", "forbidden", "403"}},
	{ErrPermissionDenied, []string{"permission denied", "eacces"}},
	{ErrNotFound, []string{"no such file", "does not exist", "not found", "enoent", "404", "nosuchkey", "nosuchbucket"}},
	{ErrDiskFull, []string{"no space left", "disk full", "enospc", "quota exceeded"}},
	{ErrTimeout, []string{"timeout", "timed out", "deadline exceeded"}},
	{ErrThrottled, []string{"slowdown", "rate exceeded", "throttl", "429", "toomanyrequests"}},
	{ErrAuth, []string{"nocredentialproviders", "credentials", "invalidaccesskeyid", "signaturedoesnotmatch", "expiredtoken", "401", "unauthorized"}},
	{ErrNetwork, []string{"connection refused", "no route to host", "network unreachable", "dns", "dial tcp"}},
}

// classify maps err to a sentinel kind by type, then by message.
func classify(err error) error {
	var timeoutErr interface{ Timeout() bool }
	if errors.As(err, &timeoutErr) && timeoutErr.Timeout() {
		return ErrTimeout
	}

	msg := strings.ToLower(err.Error())
	for _, rule := range classifyRules {
		for _, p := range rule.patterns {
			if strings.Contains(msg, p) {
				return rule.kind
			}
		}
	}
	return ErrUnclassified
}

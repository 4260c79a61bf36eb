package types

import (
	"errors"
	"fmt"
)

// Sentinel errors for federation failures.
// Use errors.Is(err, ErrXxx) for typed assertions.
var (
	// ErrUnknownRemote indicates the remote name was never configured.
	ErrUnknownRemote = errors.New("unknown remote")

	// ErrModuleNotExposed indicates the remote's manifest does not list the
	// requested path.
	ErrModuleNotExposed = errors.New("module not exposed")

	// ErrModuleNotFound indicates no installed chunk provided a factory for
	// the module id.
	ErrModuleNotFound = errors.New("module factory not found")

	// ErrNotFound indicates a local chunk file does not exist.
	ErrNotFound = errors.New("chunk not found")

	// ErrUnsupportedProtocol indicates a remote location whose scheme is not
	// http or https.
	ErrUnsupportedProtocol = errors.New("unsupported protocol")
)

// RequestFailedError is returned when a remote chunk fetch answers with a
// status other than 200.
type RequestFailedError struct {
	StatusCode int
	URL        string
}

func (e *RequestFailedError) Error() string {
	return fmt.Sprintf("request failed: status code %d (%s)", e.StatusCode, e.URL)
}

// EvaluationError wraps an error raised while evaluating chunk source or
// running a module factory.
type EvaluationError struct {
	// Chunk is the chunk being evaluated, if known.
	Chunk ChunkID
	// Filename is the logical filename used for diagnostics.
	Filename string
	// Module is set when the failure happened inside a module factory.
	Module ModuleID
	// Cause is the underlying error.
	Cause error
}

func (e *EvaluationError) Error() string {
	switch {
	case e.Module != "":
		return fmt.Sprintf("evaluation failed in module %s: %v", e.Module, e.Cause)
	case e.Filename != "":
		return fmt.Sprintf("evaluation failed in %s (chunk %s): %v", e.Filename, e.Chunk, e.Cause)
	default:
		return fmt.Sprintf("evaluation failed in chunk %s: %v", e.Chunk, e.Cause)
	}
}

// Unwrap returns the underlying error for errors.Is/As chain traversal.
func (e *EvaluationError) Unwrap() error {
	return e.Cause
}

// IsEvaluationError reports whether err carries an EvaluationError.
func IsEvaluationError(err error) bool {
	var evalErr *EvaluationError
	return errors.As(err, &evalErr)
}

// StatusCode extracts the HTTP status of a RequestFailedError in err's chain.
// Returns 0 when err is not a request failure.
func StatusCode(err error) int {
	var reqErr *RequestFailedError
	if errors.As(err, &reqErr) {
		return reqErr.StatusCode
	}
	return 0
}

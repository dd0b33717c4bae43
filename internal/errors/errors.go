package errors

import (
	"errors"
	"fmt"
)

// This package defines a centralized set of sentinel errors for the application.
// Services wrap these with `%w` and callers branch on them with `errors.Is()`,
// which keeps HTTP status codes and CLI wording out of the engine.

var (
	// ErrNotFound signifies that a requested resource could not be located.
	// This is typically mapped to a 404 Not Found HTTP status.
	ErrNotFound = errors.New("resource not found")

	// ErrValidation signifies that input data failed validation.
	// This is typically mapped to a 400 Bad Request HTTP status.
	ErrValidation = errors.New("validation failed")

	// ErrConflict signifies that an operation conflicts with the current state
	// of a resource. Mapped to 409 Conflict.
	ErrConflict = errors.New("resource conflict")

	// ErrInternal is a generic error used to avoid leaking implementation details.
	ErrInternal = errors.New("internal server error")
)

// Transport taxonomy for the local inference server.
var (
	// ErrUnreachable means the Ollama server did not answer at all (not running,
	// connection refused, timed out). Recoverable: the user can retry.
	ErrUnreachable = errors.New("ollama server unreachable")

	// ErrServer means Ollama answered with a non-2xx status.
	ErrServer = errors.New("ollama server error")

	// ErrDecode means a response body could not be decoded.
	ErrDecode = errors.New("malformed response from ollama")
)

// Engine conditions.
var (
	// ErrEmptyMessage is returned by a send whose text is blank after trimming.
	ErrEmptyMessage = fmt.Errorf("%w: message is empty", ErrValidation)

	// ErrAlreadyGenerating is returned by a send while a reply is in flight.
	ErrAlreadyGenerating = fmt.Errorf("%w: a reply is already being generated", ErrConflict)

	// ErrNotIdle is returned by commands that are only permitted while idle.
	ErrNotIdle = fmt.Errorf("%w: chat session is busy", ErrConflict)
)

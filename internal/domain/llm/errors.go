package llm

import (
	"errors"
	"fmt"
	"time"

	"github.com/matiasleandrokruk/nerve/internal/domain/orch"
)

// BuildErrorKind enumerates the closed set of request validation failures.
type BuildErrorKind int

const (
	MissingModel BuildErrorKind = iota
	UnknownModel
	UnknownWorkload
	WorkloadUnsupported
	WorkloadUnavailable
	InvalidTokenLimit
	TokenLimitExceededForModel
	TokenLimitExceededGlobal
)

var (
	ErrMissingModel               = errors.New("model id is required")
	ErrUnknownModel               = errors.New("unknown model")
	ErrUnknownWorkload            = errors.New("unknown workload")
	ErrWorkloadUnsupported        = errors.New("workload does not support model")
	ErrWorkloadUnavailable        = errors.New("no workload supports model")
	ErrInvalidTokenLimit          = errors.New("invalid token limit")
	ErrTokenLimitExceededForModel = errors.New("token limit exceeds model limit")
	ErrTokenLimitExceededGlobal   = errors.New("token limit exceeds global limit")
)

var buildSentinels = map[BuildErrorKind]error{
	MissingModel:               ErrMissingModel,
	UnknownModel:               ErrUnknownModel,
	UnknownWorkload:            ErrUnknownWorkload,
	WorkloadUnsupported:        ErrWorkloadUnsupported,
	WorkloadUnavailable:        ErrWorkloadUnavailable,
	InvalidTokenLimit:          ErrInvalidTokenLimit,
	TokenLimitExceededForModel: ErrTokenLimitExceededForModel,
	TokenLimitExceededGlobal:   ErrTokenLimitExceededGlobal,
}

// BuildError is returned by RequestBuilder.Build. Only the fields relevant
// to Kind are set.
type BuildError struct {
	Kind      BuildErrorKind
	Model     string
	Workload  orch.WorkloadKind
	Requested uint32
	Limit     uint32
}

func (e *BuildError) Error() string {
	switch e.Kind {
	case MissingModel:
		return "llm: model id is required"
	case UnknownModel:
		return fmt.Sprintf("llm: unknown model %q", e.Model)
	case UnknownWorkload:
		return fmt.Sprintf("llm: unknown workload %q", e.Workload)
	case WorkloadUnsupported:
		return fmt.Sprintf("llm: workload %q does not support model %q", e.Workload, e.Model)
	case WorkloadUnavailable:
		return fmt.Sprintf("llm: no workload supports model %q", e.Model)
	case InvalidTokenLimit:
		return fmt.Sprintf("llm: invalid token limit %d", e.Requested)
	case TokenLimitExceededForModel:
		return fmt.Sprintf("llm: %d tokens exceeds the limit of %d for model %q", e.Requested, e.Limit, e.Model)
	case TokenLimitExceededGlobal:
		return fmt.Sprintf("llm: %d tokens exceeds the global limit of %d", e.Requested, e.Limit)
	default:
		return "llm: invalid request"
	}
}

// Is matches the sentinel for e.Kind.
func (e *BuildError) Is(target error) bool {
	return buildSentinels[e.Kind] == target
}

// Op names the facade call an Error came from.
type Op string

const (
	OpCapabilities Op = "capabilities"
	OpEnqueue      Op = "enqueue"
	OpStream       Op = "stream"
	OpCancel       Op = "cancel"
)

// ErrorKind separates contract failures from in-stream failures.
type ErrorKind int

const (
	// KindOrchestrator is a failed contract call.
	KindOrchestrator ErrorKind = iota
	// KindStream is an Error event received mid-stream.
	KindStream
)

const (
	// CodeStream is the code of terminal in-stream errors.
	CodeStream = "orch.stream"
	// CodeUnknown marks contract failures that were not *orch.ServerError.
	CodeUnknown = "orch.unknown"
)

// Error is the facade's structured error. It keeps the orchestrator's code,
// message and retry hints and records which call failed.
type Error struct {
	Op           Op
	Kind         ErrorKind
	Code         string
	Message      string
	Retriable    *bool
	RetryAfterMs *uint64
	Err          error
}

func (e *Error) Error() string {
	return fmt.Sprintf("llm: %s: %s: %s", e.Op, e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// IsRetriable reports the orchestrator's retry hint. Absent means false.
func (e *Error) IsRetriable() bool { return e.Retriable != nil && *e.Retriable }

// RetryAfter returns the suggested delay, if the orchestrator sent one.
func (e *Error) RetryAfter() (time.Duration, bool) {
	if e.RetryAfterMs == nil {
		return 0, false
	}
	return time.Duration(*e.RetryAfterMs) * time.Millisecond, true
}

func wrapServerError(op Op, err error) error {
	if err == nil {
		return nil
	}
	var se *orch.ServerError
	if errors.As(err, &se) {
		return &Error{
			Op:           op,
			Kind:         KindOrchestrator,
			Code:         se.Code,
			Message:      se.Message,
			Retriable:    se.Retriable,
			RetryAfterMs: se.RetryAfterMs,
			Err:          err,
		}
	}
	return &Error{Op: op, Kind: KindOrchestrator, Code: CodeUnknown, Message: err.Error(), Err: err}
}

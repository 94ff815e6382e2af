package qa

import (
	"errors"
	"fmt"

	"github.com/sells-group/answer-cli/pkg/completion"
)

// Kind classifies why an Ask failed.
type Kind int

const (
	// KindInput is a user-correctable problem with the question.
	KindInput Kind = iota + 1
	// KindAuth is a missing or rejected credential.
	KindAuth
	// KindNetwork is a transport failure on any HTTP call.
	KindNetwork
	// KindDecode is a stream payload that could not be understood.
	KindDecode
	// KindUpstream is an explicit error from the completion API.
	KindUpstream
)

func (k Kind) String() string {
	switch k {
	case KindInput:
		return "input"
	case KindAuth:
		return "auth"
	case KindNetwork:
		return "network"
	case KindDecode:
		return "decode"
	case KindUpstream:
		return "upstream"
	default:
		return "unknown"
	}
}

// Error is a classified Ask failure.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("qa: %s: %s error", e.Op, e.Kind)
	}
	return fmt.Sprintf("qa: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the Kind of the first *Error in err's chain, or 0.
func KindOf(err error) Kind {
	var qe *Error
	if errors.As(err, &qe) {
		return qe.Kind
	}
	return 0
}

var (
	// ErrEmptyQuestion is returned for a blank question.
	ErrEmptyQuestion = errors.New("question is empty")
	// ErrUnauthenticated is returned when no credential is available.
	ErrUnauthenticated = errors.New("no credential available")
)

// classifyOpen maps a failure to open the completion stream.
func classifyOpen(err error) *Error {
	var statusErr *completion.StatusError
	switch {
	case errors.As(err, &statusErr) && statusErr.Auth():
		return &Error{Kind: KindAuth, Op: "open completion", Err: err}
	case errors.As(err, &statusErr):
		return &Error{Kind: KindUpstream, Op: "open completion", Err: err}
	default:
		return &Error{Kind: KindNetwork, Op: "open completion", Err: err}
	}
}

package dispatch

import (
	"errors"
	"fmt"

	"github.com/energizer-project/towerlink/internal/command"
	"github.com/energizer-project/towerlink/internal/protocol"
)

// Kind is the failure category of a CommandError.
type Kind int

const (
	// KindValidation: arguments did not match the descriptor. Nothing was sent.
	KindValidation Kind = iota
	// KindRejection: the server answered with a non-OK status.
	KindRejection
	// KindProtocol: the reply broke the envelope or return-shape contract.
	KindProtocol
	// KindCoercion: the payload could not be converted to the return type.
	KindCoercion
	// KindRetryExhausted: every attempt timed out.
	KindRetryExhausted
	// KindGatePollExhausted: the game stayed NOT_STARTED or PAUSED too long.
	KindGatePollExhausted
	// KindTransport: the connection failed.
	KindTransport
	// KindCanceled: the caller's context ended.
	KindCanceled
)

var kindNames = map[Kind]string{
	KindValidation:        "validation",
	KindRejection:         "rejection",
	KindProtocol:          "protocol",
	KindCoercion:          "coercion",
	KindRetryExhausted:    "retry_exhausted",
	KindGatePollExhausted: "gate_poll_exhausted",
	KindTransport:         "transport",
	KindCanceled:          "canceled",
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Sentinels matched by errors.Is against a *CommandError of the given kind.
var (
	ErrRetryLimitExceeded = errors.New("dispatch: retry limit exceeded")
	ErrGatePollLimit      = errors.New("dispatch: game did not start or resume in time")
	ErrProtocolViolation  = errors.New("dispatch: protocol violation")
	ErrTransportClosed    = errors.New("dispatch: transport failed")
)

// CommandError is the single error type returned by Invoke.
type CommandError struct {
	Command   string
	CommandID command.ID
	Code      protocol.StatusCode
	Kind      Kind
	Message   string
	Err       error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("API call %s(%d) fails with status code %s(%d): %s",
		e.Command, e.CommandID, e.Code, int64(e.Code), e.Message)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// Is matches the kind sentinels.
func (e *CommandError) Is(target error) bool {
	switch target {
	case ErrRetryLimitExceeded:
		return e.Kind == KindRetryExhausted
	case ErrGatePollLimit:
		return e.Kind == KindGatePollExhausted
	case ErrProtocolViolation:
		return e.Kind == KindProtocol
	case ErrTransportClosed:
		return e.Kind == KindTransport
	}
	return false
}

func newError(desc *command.Descriptor, code protocol.StatusCode, kind Kind, msg string, cause error) *CommandError {
	return &CommandError{
		Command:   desc.Name,
		CommandID: desc.ID,
		Code:      code,
		Kind:      kind,
		Message:   msg,
		Err:       cause,
	}
}

// Outcome is the three-way result of a call.
type Outcome int

const (
	// OutcomeDelivered: the call succeeded.
	OutcomeDelivered Outcome = iota
	// OutcomeRejected: the call failed but the session is still usable.
	OutcomeRejected
	// OutcomeFatal: the session is unusable or the retry budget is spent.
	OutcomeFatal
)

func (o Outcome) String() string {
	switch o {
	case OutcomeDelivered:
		return "delivered"
	case OutcomeRejected:
		return "rejected"
	default:
		return "fatal"
	}
}

// Classify maps an Invoke error to its outcome. Errors that are not
// CommandErrors are fatal.
func Classify(err error) Outcome {
	if err == nil {
		return OutcomeDelivered
	}
	var ce *CommandError
	if !errors.As(err, &ce) {
		return OutcomeFatal
	}
	switch ce.Kind {
	case KindValidation, KindRejection, KindProtocol, KindCoercion:
		return OutcomeRejected
	default:
		return OutcomeFatal
	}
}

// IsFatal reports whether err leaves the session unusable.
func IsFatal(err error) bool {
	return Classify(err) == OutcomeFatal
}

package protocol

import "fmt"

// StatusCode is the server-reported outcome of one command.
type StatusCode int64

const (
	StatusOK               StatusCode = 200
	StatusIllformedCommand StatusCode = 400
	StatusAuthFail         StatusCode = 401
	StatusIllegalArgument  StatusCode = 402
	StatusCommandErr       StatusCode = 403
	StatusNotFound         StatusCode = 404
	StatusTooFrequent      StatusCode = 405
	StatusNotStarted       StatusCode = 406
	StatusPaused           StatusCode = 407
	StatusInternalErr      StatusCode = 500
	StatusClientErr        StatusCode = 501
)

var statusNames = map[StatusCode]string{
	StatusOK:               "OK",
	StatusIllformedCommand: "ILLFORMED_COMMAND",
	StatusAuthFail:         "AUTH_FAIL",
	StatusIllegalArgument:  "ILLEGAL_ARGUMENT",
	StatusCommandErr:       "COMMAND_ERR",
	StatusNotFound:         "NOT_FOUND",
	StatusTooFrequent:      "TOO_FREQUENT",
	StatusNotStarted:       "NOT_STARTED",
	StatusPaused:           "PAUSED",
	StatusInternalErr:      "INTERNAL_ERR",
	StatusClientErr:        "CLIENT_ERR",
}

// AllStatusCodes lists every known status code in ascending order.
func AllStatusCodes() []StatusCode {
	return []StatusCode{
		StatusOK,
		StatusIllformedCommand,
		StatusAuthFail,
		StatusIllegalArgument,
		StatusCommandErr,
		StatusNotFound,
		StatusTooFrequent,
		StatusNotStarted,
		StatusPaused,
		StatusInternalErr,
		StatusClientErr,
	}
}

// Known reports whether s is one of the fixed status codes.
func (s StatusCode) Known() bool {
	_, ok := statusNames[s]
	return ok
}

// String returns the upper-case name of the status code.
func (s StatusCode) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN(%d)", int64(s))
}

// Disposition says what a client does with a reply carrying a status code.
type Disposition int

const (
	// DispositionDeliver hands the payload to the caller.
	DispositionDeliver Disposition = iota
	// DispositionResend sends the command again under a new request id.
	DispositionResend
	// DispositionPoll waits for the game to run again, then resends.
	DispositionPoll
	// DispositionSurface returns a rejection to the caller.
	DispositionSurface
)

func (d Disposition) String() string {
	switch d {
	case DispositionDeliver:
		return "deliver"
	case DispositionResend:
		return "resend"
	case DispositionPoll:
		return "poll"
	default:
		return "surface"
	}
}

// Disposition maps the status code to the client reaction. Unknown codes
// surface; envelopes carrying them are rejected earlier by ParseReply.
func (s StatusCode) Disposition() Disposition {
	switch s {
	case StatusOK:
		return DispositionDeliver
	case StatusTooFrequent:
		return DispositionResend
	case StatusNotStarted, StatusPaused:
		return DispositionPoll
	default:
		return DispositionSurface
	}
}

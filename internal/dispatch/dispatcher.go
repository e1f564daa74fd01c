// Package dispatch sends game commands over an authenticated transport and
// turns the correlated replies into typed results or CommandErrors.
//
// One Dispatcher owns one session: the request id counter, the time of the
// last send, and the retry budget. Calls are serialized; at most one request
// is in flight at a time.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/towerlink/internal/command"
	"github.com/energizer-project/towerlink/internal/protocol"
)

const (
	// MinCommandSpacing is the minimum time between two sends on a session.
	MinCommandSpacing = 10 * time.Millisecond
	// GatePollInterval is the wait before resending a command the game
	// answered with NOT_STARTED or PAUSED.
	GatePollInterval = 100 * time.Millisecond

	DefaultTimeout       = time.Second
	DefaultRetries       = 3
	DefaultMaxGatedPolls = 600

	emptyErrorMessage = "(empty or corrupted error message)"
)

// Transport moves whole binary messages. Receive must return when ctx ends.
type Transport interface {
	Send(ctx context.Context, data []byte) error
	Receive(ctx context.Context) ([]byte, error)
}

// Options configures a Dispatcher. Zero values take the defaults.
type Options struct {
	// Timeout bounds the wait for the reply to one attempt.
	Timeout time.Duration
	// Retries is the number of attempts allowed to time out per call.
	Retries int
	// MaxGatedPolls bounds NOT_STARTED/PAUSED resends per call. Negative
	// means unbounded.
	MaxGatedPolls int
	// SessionID labels logs and reports. A random UUID is used if empty.
	SessionID string
	// OnReport is called after every Invoke, on the caller's goroutine.
	OnReport func(Report)
}

// Report summarizes one Invoke call.
type Report struct {
	SessionID     string              `json:"session_id"`
	Command       string              `json:"command"`
	CommandID     command.ID          `json:"command_id"`
	Outcome       Outcome             `json:"-"`
	OutcomeName   string              `json:"outcome"`
	Status        protocol.StatusCode `json:"status"`
	Kind          string              `json:"kind,omitempty"`
	Message       string              `json:"message,omitempty"`
	Attempts      int                 `json:"attempts"`
	Timeouts      int                 `json:"timeouts"`
	Resends       int                 `json:"resends"`
	GatedPolls    int                 `json:"gated_polls"`
	StrayReplies  int                 `json:"stray_replies"`
	LastRequestID int64               `json:"last_request_id"`
	StartedAt     time.Time           `json:"started_at"`
	Duration      time.Duration       `json:"duration_ns"`
}

// Dispatcher is the per-connection command session.
type Dispatcher struct {
	mu        sync.Mutex
	transport Transport
	opts      Options
	sessionID string
	logger    zerolog.Logger

	// lastRequestID may be read while a call holds mu.
	lastRequestID atomic.Int64
	lastSend      time.Time
}

// New creates a Dispatcher over an authenticated transport.
func New(transport Transport, opts Options) *Dispatcher {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Retries <= 0 {
		opts.Retries = DefaultRetries
	}
	if opts.MaxGatedPolls == 0 {
		opts.MaxGatedPolls = DefaultMaxGatedPolls
	}
	if opts.SessionID == "" {
		opts.SessionID = uuid.New().String()
	}

	return &Dispatcher{
		transport: transport,
		opts:      opts,
		sessionID: opts.SessionID,
		logger: log.With().
			Str("component", "dispatcher").
			Str("session", opts.SessionID).
			Logger(),
	}
}

// SessionID returns the session label.
func (d *Dispatcher) SessionID() string {
	return d.sessionID
}

// LastRequestID returns the id of the most recent send.
func (d *Dispatcher) LastRequestID() int64 {
	return d.lastRequestID.Load()
}

// Invoke runs one command to completion: validate, send, await, resend as
// the status codes require, and coerce the payload to desc.Returns.
// Every failure is a *CommandError.
func (d *Dispatcher) Invoke(ctx context.Context, desc *command.Descriptor, args ...any) (any, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	rep := Report{
		SessionID: d.sessionID,
		Command:   desc.Name,
		CommandID: desc.ID,
		StartedAt: time.Now(),
	}

	result, err := d.invoke(ctx, desc, args, &rep)

	rep.Duration = time.Since(rep.StartedAt)
	rep.Outcome = Classify(err)
	rep.OutcomeName = rep.Outcome.String()
	rep.Status = protocol.StatusOK
	var ce *CommandError
	if errors.As(err, &ce) {
		rep.Status = ce.Code
		rep.Kind = ce.Kind.String()
		rep.Message = ce.Message
	}
	if d.opts.OnReport != nil {
		d.opts.OnReport(rep)
	}
	return result, err
}

func (d *Dispatcher) invoke(ctx context.Context, desc *command.Descriptor, args []any, rep *Report) (any, error) {
	wire, err := desc.Bind(args)
	if err != nil {
		var ae *command.ArgError
		if errors.As(err, &ae) {
			return nil, newError(desc, ae.Code, KindValidation, ae.Message, err)
		}
		return nil, newError(desc, protocol.StatusIllegalArgument, KindValidation, err.Error(), err)
	}

	budget := d.opts.Retries
	polls := 0
	for {
		requestID, err := d.send(ctx, desc, wire, rep)
		if err != nil {
			return nil, err
		}

		reply, err := d.await(ctx, desc, requestID, rep)
		if errors.Is(err, errAttemptTimeout) {
			rep.Timeouts++
			budget--
			d.logger.Warn().
				Str("command", desc.Name).
				Int64("request_id", requestID).
				Int("retries_left", budget).
				Msg("command timed out")
			if budget <= 0 {
				return nil, newError(desc, protocol.StatusClientErr, KindRetryExhausted,
					fmt.Sprintf("command %s timed out, retry limit %d exceeded", desc.Name, d.opts.Retries), nil)
			}
			continue
		}
		if err != nil {
			return nil, err
		}

		switch reply.Status.Disposition() {
		case protocol.DispositionDeliver:
			v, err := Coerce(desc.Returns, reply.Payload)
			if err != nil {
				var cerr *coerceError
				if !errors.As(err, &cerr) {
					return nil, newError(desc, protocol.StatusClientErr, KindCoercion, err.Error(), err)
				}
				if cerr.code == protocol.StatusInternalErr {
					return nil, newError(desc, cerr.code, KindProtocol, cerr.msg, cerr.err)
				}
				return nil, newError(desc, cerr.code, KindCoercion, cerr.msg, cerr.err)
			}
			return v, nil

		case protocol.DispositionResend:
			rep.Resends++
			d.logger.Debug().
				Str("command", desc.Name).
				Int64("request_id", requestID).
				Msg("server throttled command, resending")

		case protocol.DispositionPoll:
			polls++
			rep.GatedPolls++
			if d.opts.MaxGatedPolls > 0 && polls > d.opts.MaxGatedPolls {
				return nil, newError(desc, reply.Status, KindGatePollExhausted,
					fmt.Sprintf("game still %s after %d polls", reply.Status, d.opts.MaxGatedPolls), nil)
			}
			if polls == 1 {
				d.logger.Info().
					Str("command", desc.Name).
					Str("status", reply.Status.String()).
					Msg("game is not running, polling")
			}
			if err := sleepCtx(ctx, GatePollInterval); err != nil {
				return nil, d.canceled(desc, err)
			}

		default:
			msg, ok := reply.Payload.(string)
			if !ok || msg == "" {
				msg = emptyErrorMessage
			}
			return nil, newError(desc, reply.Status, KindRejection, msg, nil)
		}
	}
}

var errAttemptTimeout = errors.New("attempt timed out")

// send allocates a fresh request id, waits out the command spacing, and
// hands the envelope to the transport.
func (d *Dispatcher) send(ctx context.Context, desc *command.Descriptor, wire []any, rep *Report) (int64, error) {
	requestID := d.lastRequestID.Add(1)

	data, err := protocol.EncodeRequest(requestID, int32(desc.ID), wire)
	if err != nil {
		return 0, newError(desc, protocol.StatusIllegalArgument, KindValidation, err.Error(), err)
	}

	if wait := MinCommandSpacing - time.Since(d.lastSend); !d.lastSend.IsZero() && wait > 0 {
		if err := sleepCtx(ctx, wait); err != nil {
			return 0, d.canceled(desc, err)
		}
	}

	if err := d.transport.Send(ctx, data); err != nil {
		if ctx.Err() != nil {
			return 0, d.canceled(desc, ctx.Err())
		}
		return 0, newError(desc, protocol.StatusClientErr, KindTransport,
			fmt.Sprintf("failed to send request %d: %v", requestID, err), err)
	}
	d.lastSend = time.Now()
	rep.Attempts++
	rep.LastRequestID = requestID

	d.logger.Debug().
		Str("command", desc.Name).
		Int64("request_id", requestID).
		Int("bytes", len(data)).
		Msg("sent command")
	return requestID, nil
}

// await reads replies until one answers requestID (or carries the broadcast
// id) or the attempt times out. Other ids belong to abandoned attempts and
// are dropped.
func (d *Dispatcher) await(ctx context.Context, desc *command.Descriptor, requestID int64, rep *Report) (*protocol.Reply, error) {
	actx, cancel := context.WithTimeout(ctx, d.opts.Timeout)
	defer cancel()

	for {
		data, err := d.transport.Receive(actx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, d.canceled(desc, ctx.Err())
			}
			if actx.Err() != nil {
				return nil, errAttemptTimeout
			}
			return nil, newError(desc, protocol.StatusClientErr, KindTransport,
				fmt.Sprintf("failed to receive reply to request %d: %v", requestID, err), err)
		}

		reply, err := protocol.DecodeReply(data)
		if err != nil {
			return nil, newError(desc, protocol.StatusInternalErr, KindProtocol, err.Error(), err)
		}

		if reply.RequestID != requestID && reply.RequestID != protocol.BroadcastRequestID {
			rep.StrayReplies++
			d.logger.Debug().
				Str("command", desc.Name).
				Int64("request_id", requestID).
				Int64("reply_id", reply.RequestID).
				Str("status", reply.Status.String()).
				Msg("discarded reply to an earlier request")
			continue
		}
		return reply, nil
	}
}

func (d *Dispatcher) canceled(desc *command.Descriptor, err error) error {
	return newError(desc, protocol.StatusClientErr, KindCanceled, err.Error(), err)
}

func sleepCtx(ctx context.Context, dur time.Duration) error {
	timer := time.NewTimer(dur)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

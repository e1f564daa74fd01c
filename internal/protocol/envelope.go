package protocol

import (
	"errors"
	"fmt"
)

// ErrMalformedEnvelope is returned by ParseReply for replies that break the
// [request_id, status_code, payload...] contract.
var ErrMalformedEnvelope = errors.New("protocol: malformed reply envelope")

// BroadcastRequestID marks server-originated replies that answer whichever
// command is outstanding.
const BroadcastRequestID int64 = 0

// Reply is a decoded incoming envelope.
type Reply struct {
	RequestID int64
	Status    StatusCode
	// Payload is nil for two-element envelopes, the single value for three,
	// and a []any tuple for longer envelopes.
	Payload any
	// Arity is the number of trailing elements after the status code.
	Arity int
}

// EncodeRequest builds the outgoing envelope [request_id, command_id, args...].
func EncodeRequest(requestID int64, commandID int32, args []any) ([]byte, error) {
	envelope := make([]any, 0, 2+len(args))
	envelope = append(envelope, requestID, commandID)
	envelope = append(envelope, args...)

	data, err := Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request %d: %w", requestID, err)
	}
	return data, nil
}

// DecodeReply decodes raw bytes and validates the envelope shape.
func DecodeReply(data []byte) (*Reply, error) {
	v, err := Unmarshal(data)
	if err != nil {
		return nil, err
	}
	return ParseReply(v)
}

// ParseReply validates a decoded value as a reply envelope.
func ParseReply(v any) (*Reply, error) {
	list, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: object received from the game was not an array", ErrMalformedEnvelope)
	}
	if len(list) < 2 {
		return nil, fmt.Errorf("%w: did not receive a request id and a status code", ErrMalformedEnvelope)
	}

	requestID, ok := list[0].(int64)
	if !ok {
		return nil, fmt.Errorf("%w: the returned request id is not an integer", ErrMalformedEnvelope)
	}

	code, ok := list[1].(int64)
	if !ok || !StatusCode(code).Known() {
		return nil, fmt.Errorf("%w: unknown status code %v from the server", ErrMalformedEnvelope, list[1])
	}

	reply := &Reply{
		RequestID: requestID,
		Status:    StatusCode(code),
		Arity:     len(list) - 2,
	}
	switch reply.Arity {
	case 0:
	case 1:
		reply.Payload = list[2]
	default:
		reply.Payload = list[2:]
	}
	return reply, nil
}

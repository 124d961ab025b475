package kickstart

import (
	"errors"
	"fmt"

	"github.com/danmuck/kdctl/internal/protocol/pdu"
	"github.com/danmuck/kdctl/internal/record"
)

// Phase is the handshake state.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseICReqSent
	PhaseICRespOK
	PhaseKDReqSent
	PhaseDone
	PhaseRejected
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseICReqSent:
		return "icreq_sent"
	case PhaseICRespOK:
		return "icresp_ok"
	case PhaseKDReqSent:
		return "kdreq_sent"
	case PhaseDone:
		return "done"
	case PhaseRejected:
		return "rejected"
	case PhaseFailed:
		return "failed"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Outcome is how a handshake ended.
type Outcome int

const (
	OutcomeFailed Outcome = iota
	OutcomeRegistered
	OutcomeRejected
)

func (o Outcome) String() string {
	switch o {
	case OutcomeRegistered:
		return "registered"
	case OutcomeRejected:
		return "rejected"
	default:
		return "failed"
	}
}

var (
	ErrTransportWrite       = errors.New("kickstart: transport write failed")
	ErrTransportRead        = errors.New("kickstart: transport read failed")
	ErrPeerClosedConnection = errors.New("kickstart: peer closed connection")
)

// PhaseError is a terminal handshake failure. Kind is a package sentinel
// or a pdu decode/encode sentinel; Err carries the underlying cause.
type PhaseError struct {
	Phase Phase
	Kind  error
	Err   error
}

func (e *PhaseError) Error() string {
	if e.Err == nil || e.Err == e.Kind {
		return fmt.Sprintf("kickstart: %s: %v", e.Phase, e.Kind)
	}
	return fmt.Sprintf("kickstart: %s: %v: %v", e.Phase, e.Kind, e.Err)
}

func (e *PhaseError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Result is the outcome of one handshake.
type Result struct {
	Outcome Outcome
	// Phase is the last phase reached.
	Phase  Phase
	ICResp pdu.ICResp
	// CDCNQN is set when the CDC accepted the registration.
	CDCNQN        string
	Status        uint8
	FailureReason uint8
	Registered    []record.Port
	Skipped       []pdu.SkippedRecord
	BytesSent     int
	BytesReceived int
}

// Rejected reports a structurally valid refusal from the CDC.
func (r Result) Rejected() bool {
	return r.Outcome == OutcomeRejected
}

// session is the per-stream handshake state. It is owned by one Run call.
type session struct {
	phase  Phase
	result Result
}

func (s *session) advance(p Phase) {
	s.phase = p
	s.result.Phase = p
}

func (s *session) fail(kind, cause error) error {
	at := s.phase
	s.advance(PhaseFailed)
	s.result.Outcome = OutcomeFailed
	return &PhaseError{Phase: at, Kind: kind, Err: cause}
}

package pdu

import (
	"errors"
	"fmt"
)

var (
	ErrMalformedPDU       = errors.New("pdu: malformed pdu")
	ErrWrongPDUType       = errors.New("pdu: wrong pdu type")
	ErrLengthMismatch     = errors.New("pdu: length mismatch")
	ErrUnsupportedVersion = errors.New("pdu: unsupported version")
	ErrMalformedHeader    = errors.New("pdu: malformed header")
	ErrNoRecords          = errors.New("pdu: no encodable kickstart records")
	ErrTooManyRecords     = errors.New("pdu: too many kickstart records")
)

// DecodeError classifies a rejected PDU. Err is one of the package
// sentinels so callers can match with errors.Is.
type DecodeError struct {
	PDU   Type
	Field string
	Got   uint64
	Want  uint64
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%v: %s %s got=%d want=%d", e.Err, e.PDU, e.Field, e.Got, e.Want)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

func decodeErr(kind error, t Type, field string, got, want uint64) error {
	return &DecodeError{PDU: t, Field: field, Got: got, Want: want, Err: kind}
}

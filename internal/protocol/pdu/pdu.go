package pdu

import (
	"bytes"
	"fmt"

	"github.com/lunixbochs/struc"
)

// Type is the NVMe/TCP common header PDU type.
type Type uint8

const (
	TypeICReq  Type = 0x00
	TypeICResp Type = 0x01
	TypeKDReq  Type = 0x0A
	TypeKDResp Type = 0x0B
)

func (t Type) String() string {
	switch t {
	case TypeICReq:
		return "icreq"
	case TypeICResp:
		return "icresp"
	case TypeKDReq:
		return "kdreq"
	case TypeKDResp:
		return "kdresp"
	default:
		return fmt.Sprintf("pdu(0x%02x)", uint8(t))
	}
}

const (
	// FlagKickstart marks kickstart framing on ICReq and KDReq.
	FlagKickstart uint8 = 1 << 6

	// PFV10 is protocol format version 1.0.
	PFV10 uint16 = 0x0100

	ICReqSize  = 128
	ICRespSize = 128

	KDReqHeaderSize  = 12
	KDRespHeaderSize = 10
	KDRespSize       = 274
	NQNSize          = KDRespSize - KDRespHeaderSize

	// MaxKickstartRecords is the most records a 16-bit plen can describe.
	MaxKickstartRecords = (0xFFFF - KDReqHeaderSize) / kdRecordSize

	// KDReqDies is the only die count this client sends.
	KDReqDies = 1

	reservedICSize = 112
)

func pack(v any, size int) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(size)
	if err := struc.Pack(&buf, v); err != nil {
		return nil, fmt.Errorf("pdu: pack: %w", err)
	}
	if buf.Len() != size {
		return nil, fmt.Errorf("pdu: packed %d bytes, want %d", buf.Len(), size)
	}
	return buf.Bytes(), nil
}

func unpack(b []byte, size int, v any) error {
	if err := struc.Unpack(bytes.NewReader(b[:size]), v); err != nil {
		return fmt.Errorf("pdu: unpack: %w", err)
	}
	return nil
}

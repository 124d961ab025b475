package pdu

import (
	"fmt"

	"github.com/danmuck/kdctl/internal/record"
)

const kdRecordSize = record.Size

// kdreqHeader is the KDReq header. plen is 16-bit.
type kdreqHeader struct {
	Type     uint8   `struc:"uint8"`
	Flags    uint8   `struc:"uint8"`
	HLen     uint8   `struc:"uint8"`
	PDO      uint8   `struc:"uint8"`
	PLen     uint16  `struc:"uint16,little"`
	NumKR    uint16  `struc:"uint16,little"`
	NumDie   uint16  `struc:"uint16,little"`
	Reserved [2]byte `struc:"[2]byte"`
}

// kdrespWire is the fixed KDResp layout. plen is 16-bit.
type kdrespWire struct {
	Type     uint8   `struc:"uint8"`
	Flags    uint8   `struc:"uint8"`
	HLen     uint8   `struc:"uint8"`
	PDO      uint8   `struc:"uint8"`
	PLen     uint16  `struc:"uint16,little"`
	Status   uint8   `struc:"uint8"`
	Reason   uint8   `struc:"uint8"`
	Reserved [2]byte `struc:"[2]byte"`
	NQN      string  `struc:"[264]byte"`
}

// SkippedRecord is an input record left out of a KDReq.
type SkippedRecord struct {
	Index  int
	Record record.Port
	Err    error
}

// KDReqEncoding is an encoded KDReq and the records it carries.
type KDReqEncoding struct {
	Bytes   []byte
	Encoded []record.Port
	Skipped []SkippedRecord
}

// Count is the number of records on the wire.
func (e KDReqEncoding) Count() int {
	return len(e.Encoded)
}

// EncodeKDReq builds a KDReq from records. Records that fail validation are
// skipped and reported; numkr and plen only count encoded records.
func EncodeKDReq(records []record.Port) (KDReqEncoding, error) {
	var out KDReqEncoding
	blocks := make([][]byte, 0, len(records))
	for i, rec := range records {
		block, err := rec.MarshalBinary()
		if err != nil {
			out.Skipped = append(out.Skipped, SkippedRecord{Index: i, Record: rec, Err: err})
			continue
		}
		blocks = append(blocks, block)
		out.Encoded = append(out.Encoded, rec)
	}
	if len(blocks) == 0 {
		return out, ErrNoRecords
	}
	if len(blocks) > MaxKickstartRecords {
		return out, fmt.Errorf("%w: %d records, max %d", ErrTooManyRecords, len(blocks), MaxKickstartRecords)
	}

	plen := KDReqHeaderSize + kdRecordSize*len(blocks)
	h := kdreqHeader{
		Type:   uint8(TypeKDReq),
		Flags:  FlagKickstart,
		HLen:   KDReqHeaderSize,
		PDO:    KDReqHeaderSize,
		PLen:   uint16(plen),
		NumKR:  uint16(len(blocks)),
		NumDie: KDReqDies,
	}
	head, err := pack(&h, KDReqHeaderSize)
	if err != nil {
		return out, err
	}
	buf := make([]byte, 0, plen)
	buf = append(buf, head...)
	for _, block := range blocks {
		buf = append(buf, block...)
	}
	out.Bytes = buf
	return out, nil
}

// KDReq is a decoded kickstart discovery request.
type KDReq struct {
	Flags   uint8
	NumDies uint16
	Records []record.Port
}

// DecodeKDReq validates and decodes a KDReq as a CDC would receive it.
func DecodeKDReq(b []byte) (KDReq, error) {
	if len(b) < KDReqHeaderSize {
		return KDReq{}, decodeErr(ErrMalformedPDU, TypeKDReq, "size", uint64(len(b)), KDReqHeaderSize)
	}
	var h kdreqHeader
	if err := unpack(b, KDReqHeaderSize, &h); err != nil {
		return KDReq{}, &DecodeError{PDU: TypeKDReq, Field: "header", Err: ErrMalformedPDU}
	}
	if Type(h.Type) != TypeKDReq {
		return KDReq{}, decodeErr(ErrWrongPDUType, TypeKDReq, "type", uint64(h.Type), uint64(TypeKDReq))
	}
	if h.HLen != KDReqHeaderSize {
		return KDReq{}, decodeErr(ErrMalformedHeader, TypeKDReq, "hlen", uint64(h.HLen), KDReqHeaderSize)
	}
	if h.PDO != KDReqHeaderSize {
		return KDReq{}, decodeErr(ErrMalformedHeader, TypeKDReq, "pdo", uint64(h.PDO), KDReqHeaderSize)
	}
	want := uint64(KDReqHeaderSize) + uint64(kdRecordSize)*uint64(h.NumKR)
	if uint64(h.PLen) != want {
		return KDReq{}, decodeErr(ErrLengthMismatch, TypeKDReq, "plen", uint64(h.PLen), want)
	}
	if uint64(len(b)) < want {
		return KDReq{}, decodeErr(ErrMalformedPDU, TypeKDReq, "size", uint64(len(b)), want)
	}
	req := KDReq{
		Flags:   h.Flags,
		NumDies: h.NumDie,
		Records: make([]record.Port, 0, h.NumKR),
	}
	for i := 0; i < int(h.NumKR); i++ {
		off := KDReqHeaderSize + i*kdRecordSize
		var rec record.Port
		if err := rec.UnmarshalBinary(b[off : off+kdRecordSize]); err != nil {
			return KDReq{}, &DecodeError{PDU: TypeKDReq, Field: fmt.Sprintf("record[%d]", i), Err: ErrMalformedPDU}
		}
		req.Records = append(req.Records, rec)
	}
	return req, nil
}

// KDResp is a decoded kickstart discovery response.
type KDResp struct {
	Flags         uint8
	Status        uint8
	FailureReason uint8
	// NQN is the CDC NQN, set only when Status is zero.
	NQN string
}

// OK reports whether the CDC accepted the registration.
func (r KDResp) OK() bool {
	return r.Status == 0
}

// DecodeKDResp validates and decodes a received KDResp.
func DecodeKDResp(b []byte) (KDResp, error) {
	if len(b) < KDRespHeaderSize {
		return KDResp{}, decodeErr(ErrMalformedPDU, TypeKDResp, "size", uint64(len(b)), KDRespSize)
	}
	if Type(b[0]) != TypeKDResp {
		return KDResp{}, decodeErr(ErrWrongPDUType, TypeKDResp, "type", uint64(b[0]), uint64(TypeKDResp))
	}
	if b[2] != KDRespHeaderSize {
		return KDResp{}, decodeErr(ErrMalformedHeader, TypeKDResp, "hlen", uint64(b[2]), KDRespHeaderSize)
	}
	if plen := uint16(b[4]) | uint16(b[5])<<8; plen != KDRespSize {
		return KDResp{}, decodeErr(ErrLengthMismatch, TypeKDResp, "plen", uint64(plen), KDRespSize)
	}
	if len(b) < KDRespSize {
		return KDResp{}, decodeErr(ErrMalformedPDU, TypeKDResp, "size", uint64(len(b)), KDRespSize)
	}
	var w kdrespWire
	if err := unpack(b, KDRespSize, &w); err != nil {
		return KDResp{}, &DecodeError{PDU: TypeKDResp, Field: "body", Err: ErrMalformedPDU}
	}
	resp := KDResp{
		Flags:         w.Flags,
		Status:        w.Status,
		FailureReason: w.Reason,
	}
	if resp.OK() {
		resp.NQN = record.CString([]byte(w.NQN))
	}
	return resp, nil
}

// EncodeKDResp builds the CDC side response. The NQN is only carried when
// Status is zero.
func EncodeKDResp(resp KDResp) ([]byte, error) {
	w := kdrespWire{
		Type:   uint8(TypeKDResp),
		Flags:  resp.Flags,
		HLen:   KDRespHeaderSize,
		PLen:   KDRespSize,
		Status: resp.Status,
		Reason: resp.FailureReason,
	}
	if resp.OK() {
		if len(resp.NQN) > NQNSize {
			return nil, fmt.Errorf("%w: nqn is %d bytes, max %d", record.ErrFieldTooLong, len(resp.NQN), NQNSize)
		}
		w.NQN = resp.NQN
	}
	return pack(&w, KDRespSize)
}

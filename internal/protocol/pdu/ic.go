package pdu

// icWire is the shared ICReq/ICResp layout. plen is 32-bit here and only
// here; the kickstart PDUs carry a 16-bit plen.
type icWire struct {
	Type     uint8               `struc:"uint8"`
	Flags    uint8               `struc:"uint8"`
	HLen     uint8               `struc:"uint8"`
	PDO      uint8               `struc:"uint8"`
	PLen     uint32              `struc:"uint32,little"`
	PFV      uint16              `struc:"uint16,little"`
	Align    uint8               `struc:"uint8"`
	Digest   uint8               `struc:"uint8"`
	Limit    uint32              `struc:"uint32,little"`
	Reserved [reservedICSize]byte `struc:"[112]byte"`
}

// ICReq is the host initialize connection request.
type ICReq struct {
	Flags  uint8
	PFV    uint16
	HPDA   uint8
	Digest uint8
	MaxR2T uint32
}

// Kickstart reports whether the request opens a kickstart connection.
func (r ICReq) Kickstart() bool {
	return r.Flags&FlagKickstart != 0
}

// ICResp is the controller initialize connection response.
type ICResp struct {
	Flags   uint8
	PFV     uint16
	CPDA    uint8
	Digest  uint8
	MaxData uint32
}

// EncodeICReq builds the fixed size ICReq. kickstart sets the kickstart
// connection flag; without it the peer treats the connection as plain
// discovery.
func EncodeICReq(kickstart bool) ([]byte, error) {
	w := icWire{
		Type: uint8(TypeICReq),
		HLen: ICReqSize,
		PLen: ICReqSize,
		PFV:  PFV10,
	}
	if kickstart {
		w.Flags |= FlagKickstart
	}
	return pack(&w, ICReqSize)
}

// DecodeICResp validates and decodes a received ICResp.
func DecodeICResp(b []byte) (ICResp, error) {
	if len(b) < ICRespSize {
		return ICResp{}, decodeErr(ErrMalformedPDU, TypeICResp, "size", uint64(len(b)), ICRespSize)
	}
	var w icWire
	if err := unpack(b, ICRespSize, &w); err != nil {
		return ICResp{}, &DecodeError{PDU: TypeICResp, Field: "body", Err: ErrMalformedPDU}
	}
	if Type(w.Type) != TypeICResp {
		return ICResp{}, decodeErr(ErrWrongPDUType, TypeICResp, "type", uint64(w.Type), uint64(TypeICResp))
	}
	if w.PLen != ICRespSize {
		return ICResp{}, decodeErr(ErrLengthMismatch, TypeICResp, "plen", uint64(w.PLen), ICRespSize)
	}
	if w.PFV != PFV10 {
		return ICResp{}, decodeErr(ErrUnsupportedVersion, TypeICResp, "pfv", uint64(w.PFV), uint64(PFV10))
	}
	return ICResp{
		Flags:   w.Flags,
		PFV:     w.PFV,
		CPDA:    w.Align,
		Digest:  w.Digest,
		MaxData: w.Limit,
	}, nil
}

// EncodeICResp builds the controller side response. A zero PFV is sent as
// PFV10.
func EncodeICResp(resp ICResp) ([]byte, error) {
	pfv := resp.PFV
	if pfv == 0 {
		pfv = PFV10
	}
	w := icWire{
		Type:   uint8(TypeICResp),
		Flags:  resp.Flags,
		HLen:   ICRespSize,
		PLen:   ICRespSize,
		PFV:    pfv,
		Align:  resp.CPDA,
		Digest: resp.Digest,
		Limit:  resp.MaxData,
	}
	return pack(&w, ICRespSize)
}

// DecodeICReq validates and decodes a received ICReq.
func DecodeICReq(b []byte) (ICReq, error) {
	if len(b) < ICReqSize {
		return ICReq{}, decodeErr(ErrMalformedPDU, TypeICReq, "size", uint64(len(b)), ICReqSize)
	}
	var w icWire
	if err := unpack(b, ICReqSize, &w); err != nil {
		return ICReq{}, &DecodeError{PDU: TypeICReq, Field: "body", Err: ErrMalformedPDU}
	}
	if Type(w.Type) != TypeICReq {
		return ICReq{}, decodeErr(ErrWrongPDUType, TypeICReq, "type", uint64(w.Type), uint64(TypeICReq))
	}
	if w.HLen != ICReqSize {
		return ICReq{}, decodeErr(ErrMalformedHeader, TypeICReq, "hlen", uint64(w.HLen), ICReqSize)
	}
	if w.PLen != ICReqSize {
		return ICReq{}, decodeErr(ErrLengthMismatch, TypeICReq, "plen", uint64(w.PLen), ICReqSize)
	}
	if w.PFV != PFV10 {
		return ICReq{}, decodeErr(ErrUnsupportedVersion, TypeICReq, "pfv", uint64(w.PFV), uint64(PFV10))
	}
	return ICReq{
		Flags:  w.Flags,
		PFV:    w.PFV,
		HPDA:   w.Align,
		Digest: w.Digest,
		MaxR2T: w.Limit,
	}, nil
}

package record

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/lunixbochs/struc"
)

// Size is the on-wire length of one kickstart record block.
const Size = 1 + 1 + ServiceIDSize + TransportAddressSize

var ErrShortRecord = errors.New("record: short record block")

// wireRecord is the kickstart record block layout.
type wireRecord struct {
	TrType  uint8  `struc:"uint8"`
	AdrFam  uint8  `struc:"uint8"`
	TrSvcID string `struc:"[32]byte"`
	TrAddr  string `struc:"[256]byte"`
}

// MarshalBinary encodes p as a zero padded kickstart record block.
func (p Port) MarshalBinary() ([]byte, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	buf.Grow(Size)
	w := wireRecord{
		TrType:  uint8(p.TransportType),
		AdrFam:  uint8(p.AddressFamily),
		TrSvcID: p.ServiceID,
		TrAddr:  p.TransportAddress,
	}
	if err := struc.Pack(&buf, &w); err != nil {
		return nil, fmt.Errorf("record: pack: %w", err)
	}
	if buf.Len() != Size {
		return nil, fmt.Errorf("record: packed %d bytes, want %d", buf.Len(), Size)
	}
	return buf.Bytes(), nil
}

// UnmarshalBinary decodes one record block. PortID is left empty.
func (p *Port) UnmarshalBinary(b []byte) error {
	if len(b) < Size {
		return fmt.Errorf("%w: %d bytes", ErrShortRecord, len(b))
	}
	var w wireRecord
	if err := struc.Unpack(bytes.NewReader(b[:Size]), &w); err != nil {
		return fmt.Errorf("record: unpack: %w", err)
	}
	*p = Port{
		TransportType:    TransportType(w.TrType),
		AddressFamily:    AddressFamily(w.AdrFam),
		TransportAddress: CString([]byte(w.TrAddr)),
		ServiceID:        CString([]byte(w.TrSvcID)),
	}
	return nil
}

// CString returns b up to its first NUL, or all of b.
func CString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		return string(b[:i])
	}
	return string(b)
}

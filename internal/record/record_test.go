package record

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/danmuck/kdctl/internal/testutil/testlog"
)

func TestParseForms(t *testing.T) {
	testlog.Start(t)
	cases := []struct {
		in   string
		want Port
	}{
		{"10.0.0.1", Port{TransportType: TransportTCP, AddressFamily: FamilyIPv4, TransportAddress: "10.0.0.1", ServiceID: "8009"}},
		{"10.0.0.1:4420", Port{TransportType: TransportTCP, AddressFamily: FamilyIPv4, TransportAddress: "10.0.0.1", ServiceID: "4420"}},
		{"rdma,192.168.7.2:4420", Port{TransportType: TransportRDMA, AddressFamily: FamilyIPv4, TransportAddress: "192.168.7.2", ServiceID: "4420"}},
		{"TCP,[fe80::1]:4420", Port{TransportType: TransportTCP, AddressFamily: FamilyIPv6, TransportAddress: "fe80::1", ServiceID: "4420"}},
		{"tcp,[fe80::1]", Port{TransportType: TransportTCP, AddressFamily: FamilyIPv6, TransportAddress: "fe80::1", ServiceID: "8009"}},
		{"fe80::2", Port{TransportType: TransportTCP, AddressFamily: FamilyIPv6, TransportAddress: "fe80::2", ServiceID: "8009"}},
		{"fc,nn-0x1000:pn-0x2000", Port{TransportType: TransportFC, AddressFamily: FamilyFC, TransportAddress: "nn-0x1000:pn-0x2000", ServiceID: "none"}},
		{"3,tcp,10.1.1.1,ipv4,4420", Port{PortID: "3", TransportType: TransportTCP, AddressFamily: FamilyIPv4, TransportAddress: "10.1.1.1", ServiceID: "4420"}},
		{"4,rdma,10.1.1.2,ib,", Port{PortID: "4", TransportType: TransportRDMA, AddressFamily: FamilyIB, TransportAddress: "10.1.1.2", ServiceID: "8009"}},
	}
	for _, tc := range cases {
		got, err := Parse(tc.in)
		if err != nil {
			t.Fatalf("parse %q: %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("parse %q: got=%+v want=%+v", tc.in, got, tc.want)
		}
	}
}

func TestParseRejects(t *testing.T) {
	testlog.Start(t)
	cases := []struct {
		in   string
		want error
	}{
		{"", ErrMissingAddress},
		{"udp,10.0.0.1", ErrUnknownTransport},
		{"loop,10.0.0.1", ErrUnknownTransport},
		{"10.0.0.1:", ErrSyntax},
		{"10.0.0.1:http", ErrInvalidServiceID},
		{"[fe80::1", ErrSyntax},
		{"[fe80::1]x", ErrSyntax},
		{"a,b,c", ErrSyntax},
		{"x,tcp,10.0.0.1,ipv4,4420", ErrSyntax},
		{"1,tcp,10.0.0.1,ipx,4420", ErrUnknownAddressFamily},
		{"tcp," + strings.Repeat("a", TransportAddressSize+1), ErrFieldTooLong},
	}
	for _, tc := range cases {
		_, err := Parse(tc.in)
		if !errors.Is(err, tc.want) {
			t.Fatalf("parse %q: expected %v, got %v", tc.in, tc.want, err)
		}
		var perr *ParseError
		if !errors.As(err, &perr) || perr.Input != tc.in {
			t.Fatalf("parse %q: expected ParseError with input, got %v", tc.in, err)
		}
	}
}

func TestStringRoundTripsThroughParse(t *testing.T) {
	testlog.Start(t)
	for _, in := range []string{"tcp,10.0.0.1:4420", "tcp,[fe80::1]:4420", "rdma,10.2.0.1:8009", "fc,nn-0x1:pn-0x2"} {
		p, err := Parse(in)
		if err != nil {
			t.Fatalf("parse %q: %v", in, err)
		}
		if p.String() != in {
			t.Fatalf("string mismatch: got=%q want=%q", p.String(), in)
		}
		again, err := Parse(p.String())
		if err != nil || again != p {
			t.Fatalf("reparse %q: got=%+v err=%v", p.String(), again, err)
		}
	}
}

func TestMarshalBinaryLayout(t *testing.T) {
	testlog.Start(t)
	p := Port{TransportType: TransportTCP, AddressFamily: FamilyIPv4, TransportAddress: "10.0.0.1", ServiceID: "4420"}
	b, err := p.MarshalBinary()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if len(b) != Size || Size != 290 {
		t.Fatalf("unexpected size: len=%d Size=%d", len(b), Size)
	}
	if b[0] != 3 || b[1] != 1 {
		t.Fatalf("unexpected trtype/adrfam: %d/%d", b[0], b[1])
	}
	if !bytes.Equal(b[2:6], []byte("4420")) || !bytes.Equal(b[6:34], make([]byte, 28)) {
		t.Fatalf("trsvcid not zero padded: %v", b[2:34])
	}
	if !bytes.Equal(b[34:42], []byte("10.0.0.1")) || !bytes.Equal(b[42:], make([]byte, Size-42)) {
		t.Fatalf("traddr not zero padded")
	}

	var out Port
	if err := out.UnmarshalBinary(b); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out != p {
		t.Fatalf("round trip mismatch: got=%+v want=%+v", out, p)
	}
}

func TestMarshalBinaryFullWidthAddress(t *testing.T) {
	testlog.Start(t)
	addr := strings.Repeat("b", TransportAddressSize)
	p := Port{TransportType: TransportRDMA, AddressFamily: FamilyIB, TransportAddress: addr, ServiceID: "4420"}
	b, err := p.MarshalBinary()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out Port
	if err := out.UnmarshalBinary(b); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.TransportAddress != addr {
		t.Fatalf("full width address lost: len=%d", len(out.TransportAddress))
	}
}

func TestMarshalBinaryRejectsInvalid(t *testing.T) {
	testlog.Start(t)
	cases := []struct {
		p    Port
		want error
	}{
		{Port{TransportType: TransportLoop, TransportAddress: "x"}, ErrUnknownTransport},
		{Port{TransportType: 9, TransportAddress: "x"}, ErrUnknownTransport},
		{Port{TransportType: TransportTCP}, ErrMissingAddress},
		{Port{TransportType: TransportTCP, TransportAddress: "x", ServiceID: strings.Repeat("1", ServiceIDSize+1)}, ErrFieldTooLong},
	}
	for _, tc := range cases {
		if _, err := tc.p.MarshalBinary(); !errors.Is(err, tc.want) {
			t.Fatalf("marshal %+v: expected %v, got %v", tc.p, tc.want, err)
		}
	}
}

func TestUnmarshalBinaryShort(t *testing.T) {
	testlog.Start(t)
	var p Port
	if err := p.UnmarshalBinary(make([]byte, Size-1)); !errors.Is(err, ErrShortRecord) {
		t.Fatalf("expected ErrShortRecord, got %v", err)
	}
}

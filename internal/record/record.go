package record

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

const (
	// TransportAddressSize is the on-wire width of traddr.
	TransportAddressSize = 256
	// ServiceIDSize is the on-wire width of trsvcid.
	ServiceIDSize = 32

	// DefaultServiceID is the registered NVMe/TCP discovery service port.
	DefaultServiceID = "8009"
	// FCServiceID is the service id carried by fibre channel records.
	FCServiceID = "none"
)

var (
	ErrUnknownTransport     = errors.New("record: unknown transport type")
	ErrUnknownAddressFamily = errors.New("record: unknown address family")
	ErrMissingAddress       = errors.New("record: missing transport address")
	ErrFieldTooLong         = errors.New("record: field too long")
)

// TransportType is the NVMe-oF trtype value.
type TransportType uint8

const (
	TransportRDMA TransportType = 1
	TransportFC   TransportType = 2
	TransportTCP  TransportType = 3
	TransportLoop TransportType = 254
)

// AddressFamily is the NVMe-oF adrfam value.
type AddressFamily uint8

const (
	FamilyIPv4 AddressFamily = 1
	FamilyIPv6 AddressFamily = 2
	FamilyIB   AddressFamily = 3
	FamilyFC   AddressFamily = 4
	FamilyLoop AddressFamily = 254
)

// Remotable reports whether the CDC protocol accepts t in a kickstart record.
func (t TransportType) Remotable() bool {
	switch t {
	case TransportTCP, TransportRDMA, TransportFC:
		return true
	default:
		return false
	}
}

func (t TransportType) String() string {
	switch t {
	case TransportRDMA:
		return "rdma"
	case TransportFC:
		return "fc"
	case TransportTCP:
		return "tcp"
	case TransportLoop:
		return "loop"
	default:
		return fmt.Sprintf("trtype(%d)", uint8(t))
	}
}

// ParseTransportType maps a configfs or command line transport name.
func ParseTransportType(raw string) (TransportType, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "tcp":
		return TransportTCP, nil
	case "rdma":
		return TransportRDMA, nil
	case "fc":
		return TransportFC, nil
	case "loop":
		return TransportLoop, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownTransport, raw)
	}
}

func (f AddressFamily) String() string {
	switch f {
	case FamilyIPv4:
		return "ipv4"
	case FamilyIPv6:
		return "ipv6"
	case FamilyIB:
		return "ib"
	case FamilyFC:
		return "fc"
	case FamilyLoop:
		return "loop"
	default:
		return fmt.Sprintf("adrfam(%d)", uint8(f))
	}
}

// ParseAddressFamily maps a configfs or command line address family name.
func ParseAddressFamily(raw string) (AddressFamily, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "ipv4", "ip4":
		return FamilyIPv4, nil
	case "ipv6", "ip6":
		return FamilyIPv6, nil
	case "ib":
		return FamilyIB, nil
	case "fc":
		return FamilyFC, nil
	case "loop":
		return FamilyLoop, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownAddressFamily, raw)
	}
}

// FamilyForHost infers the address family of an IP host string.
// Anything containing a colon is treated as IPv6.
func FamilyForHost(host string) AddressFamily {
	if strings.Contains(host, ":") {
		return FamilyIPv6
	}
	return FamilyIPv4
}

// Port is one transport endpoint a local target exposes.
type Port struct {
	// PortID is the store port the record was read from. Empty for
	// records supplied on the command line.
	PortID           string
	TransportType    TransportType
	AddressFamily    AddressFamily
	TransportAddress string
	ServiceID        string
}

// Validate checks the record can be carried in a kickstart record block.
func (p Port) Validate() error {
	if !p.TransportType.Remotable() {
		return fmt.Errorf("%w: %s", ErrUnknownTransport, p.TransportType)
	}
	if strings.TrimSpace(p.TransportAddress) == "" {
		return ErrMissingAddress
	}
	if len(p.TransportAddress) > TransportAddressSize {
		return fmt.Errorf("%w: traddr is %d bytes, max %d", ErrFieldTooLong, len(p.TransportAddress), TransportAddressSize)
	}
	if len(p.ServiceID) > ServiceIDSize {
		return fmt.Errorf("%w: trsvcid is %d bytes, max %d", ErrFieldTooLong, len(p.ServiceID), ServiceIDSize)
	}
	return nil
}

// String renders the record in the [transport,]address[:port] grammar.
func (p Port) String() string {
	if p.TransportType == TransportFC {
		return p.TransportType.String() + "," + p.TransportAddress
	}
	hostPort := p.TransportAddress
	if p.ServiceID != "" {
		hostPort = net.JoinHostPort(p.TransportAddress, p.ServiceID)
	}
	return p.TransportType.String() + "," + hostPort
}

package record

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrSyntax           = errors.New("record: invalid syntax")
	ErrInvalidServiceID = errors.New("record: invalid service id")
)

// ParseError reports which input failed to parse and why.
type ParseError struct {
	Input string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("record: parse %q: %v", e.Input, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Parse reads one endpoint in either of the accepted forms:
//
//	[transport,]address[:port]
//	index,transport,address,adrfam,port
//
// Transport defaults to tcp and port to DefaultServiceID. IPv6 hosts are
// written in brackets when a port follows, or bare with no port.
func Parse(input string) (Port, error) {
	raw := strings.TrimSpace(input)
	if raw == "" {
		return Port{}, &ParseError{Input: input, Err: ErrMissingAddress}
	}
	parts := strings.Split(raw, ",")
	var (
		p   Port
		err error
	)
	switch len(parts) {
	case 1:
		p, err = parseEndpoint(TransportTCP, parts[0])
	case 2:
		var tr TransportType
		tr, err = ParseTransportType(parts[0])
		if err == nil {
			p, err = parseEndpoint(tr, parts[1])
		}
	case 5:
		p, err = parseLegacy(parts)
	default:
		err = fmt.Errorf("%w: expected 1, 2 or 5 comma separated fields, got %d", ErrSyntax, len(parts))
	}
	if err != nil {
		return Port{}, &ParseError{Input: input, Err: err}
	}
	if err := p.Validate(); err != nil {
		return Port{}, &ParseError{Input: input, Err: err}
	}
	return p, nil
}

// ParseAll parses every input, stopping at the first failure.
func ParseAll(inputs []string) ([]Port, error) {
	out := make([]Port, 0, len(inputs))
	for _, in := range inputs {
		p, err := Parse(in)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func parseEndpoint(tr TransportType, endpoint string) (Port, error) {
	endpoint = strings.TrimSpace(endpoint)
	if tr == TransportFC {
		if endpoint == "" {
			return Port{}, ErrMissingAddress
		}
		return Port{
			TransportType:    tr,
			AddressFamily:    FamilyFC,
			TransportAddress: endpoint,
			ServiceID:        FCServiceID,
		}, nil
	}

	host, svc, err := splitHostService(endpoint)
	if err != nil {
		return Port{}, err
	}
	if host == "" {
		return Port{}, ErrMissingAddress
	}
	if svc == "" {
		svc = DefaultServiceID
	}
	if err := checkServiceID(svc); err != nil {
		return Port{}, err
	}
	return Port{
		TransportType:    tr,
		AddressFamily:    FamilyForHost(host),
		TransportAddress: host,
		ServiceID:        svc,
	}, nil
}

// splitHostService separates host and service id. A bracketed host may be
// followed by :port. An unbracketed host with a single colon is host:port;
// more than one colon means a bare IPv6 literal.
func splitHostService(s string) (string, string, error) {
	if strings.HasPrefix(s, "[") {
		end := strings.Index(s, "]")
		if end < 0 {
			return "", "", fmt.Errorf("%w: missing ']'", ErrSyntax)
		}
		host := s[1:end]
		rest := s[end+1:]
		switch {
		case rest == "":
			return host, "", nil
		case strings.HasPrefix(rest, ":") && len(rest) > 1:
			return host, rest[1:], nil
		default:
			return "", "", fmt.Errorf("%w: unexpected %q after ']'", ErrSyntax, rest)
		}
	}

	switch strings.Count(s, ":") {
	case 0:
		return s, "", nil
	case 1:
		i := strings.Index(s, ":")
		if i == len(s)-1 {
			return "", "", fmt.Errorf("%w: empty port", ErrSyntax)
		}
		return s[:i], s[i+1:], nil
	default:
		return s, "", nil
	}
}

func checkServiceID(svc string) error {
	n, err := strconv.ParseUint(svc, 10, 16)
	if err != nil || n == 0 {
		return fmt.Errorf("%w: %q", ErrInvalidServiceID, svc)
	}
	return nil
}

func parseLegacy(parts []string) (Port, error) {
	index := strings.TrimSpace(parts[0])
	if _, err := strconv.ParseUint(index, 10, 16); err != nil {
		return Port{}, fmt.Errorf("%w: index %q", ErrSyntax, index)
	}
	tr, err := ParseTransportType(parts[1])
	if err != nil {
		return Port{}, err
	}
	addr := strings.TrimSpace(parts[2])
	addr = strings.TrimSuffix(strings.TrimPrefix(addr, "["), "]")
	if addr == "" {
		return Port{}, ErrMissingAddress
	}
	fam, err := ParseAddressFamily(parts[3])
	if err != nil {
		return Port{}, err
	}
	svc := strings.TrimSpace(parts[4])
	if svc == "" {
		svc = DefaultServiceID
		if tr == TransportFC {
			svc = FCServiceID
		}
	}
	if tr != TransportFC {
		if err := checkServiceID(svc); err != nil {
			return Port{}, err
		}
	}
	return Port{
		PortID:           index,
		TransportType:    tr,
		AddressFamily:    fam,
		TransportAddress: addr,
		ServiceID:        svc,
	}, nil
}

// Package transport opens the stream a kickstart handshake runs over.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/danmuck/kdctl/internal/record"
	logs "github.com/danmuck/smplog"
)

const (
	DefaultConnectTimeout = 5 * time.Second
	DefaultIOTimeout      = 10 * time.Second
)

var (
	ErrInvalidAddress = errors.New("transport: invalid address")
	ErrResolve        = errors.New("transport: resolve failed")
	ErrConnect        = errors.New("transport: connect failed")
)

// Options bounds the dial and the exchange that follows it.
type Options struct {
	// ConnectTimeout applies to each candidate address.
	ConnectTimeout time.Duration
	// IOTimeout is set as a deadline on the returned connection. Zero
	// leaves the connection without a deadline.
	IOTimeout time.Duration
	Resolver  *net.Resolver
}

// Conn is a connected CDC stream.
type Conn struct {
	net.Conn
	Family record.AddressFamily
}

// Dial resolves host and connects to the first address that accepts,
// trying every resolved address in order. host may be a bracketed IPv6
// literal.
func Dial(ctx context.Context, host, port string, opts Options) (*Conn, error) {
	host = strings.TrimSuffix(strings.TrimPrefix(strings.TrimSpace(host), "["), "]")
	if host == "" {
		return nil, fmt.Errorf("%w: empty host", ErrInvalidAddress)
	}
	if n, err := strconv.ParseUint(port, 10, 16); err != nil || n == 0 {
		return nil, fmt.Errorf("%w: port %q", ErrInvalidAddress, port)
	}

	addrs, err := resolve(ctx, opts.Resolver, host)
	if err != nil {
		return nil, err
	}

	dialer := net.Dialer{Timeout: opts.ConnectTimeout}
	var attempts []error
	for _, ip := range addrs {
		target := net.JoinHostPort(ip.String(), port)
		raw, err := dialer.DialContext(ctx, "tcp", target)
		if err != nil {
			logs.Debugf("transport.Dial target=%s err=%v", target, err)
			attempts = append(attempts, err)
			continue
		}
		if opts.IOTimeout > 0 {
			if err := raw.SetDeadline(time.Now().Add(opts.IOTimeout)); err != nil {
				_ = raw.Close()
				return nil, err
			}
		}
		fam := record.FamilyIPv4
		if ip.To4() == nil {
			fam = record.FamilyIPv6
		}
		logs.Infof("transport.Dial connected target=%s family=%s", target, fam)
		return &Conn{Conn: raw, Family: fam}, nil
	}
	return nil, fmt.Errorf("%w: %s port %s: %w", ErrConnect, host, port, errors.Join(attempts...))
}

func resolve(ctx context.Context, r *net.Resolver, host string) ([]net.IP, error) {
	if ip := net.ParseIP(host); ip != nil {
		return []net.IP{ip}, nil
	}
	if r == nil {
		r = net.DefaultResolver
	}
	found, err := r.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrResolve, host, err)
	}
	if len(found) == 0 {
		return nil, fmt.Errorf("%w: %s: no addresses", ErrResolve, host)
	}
	out := make([]net.IP, 0, len(found))
	for _, a := range found {
		out = append(out, a.IP)
	}
	return out, nil
}

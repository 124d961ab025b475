package transport

import (
	"context"
	"errors"
	"net"
	"os"
	"testing"
	"time"

	"github.com/danmuck/kdctl/internal/record"
	"github.com/danmuck/kdctl/internal/testutil/testlog"
)

func listen(t *testing.T) (net.Listener, string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })
	_, port, err := net.SplitHostPort(ln.Addr().String())
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	return ln, port
}

func TestDialLoopbackIPv4(t *testing.T) {
	testlog.Start(t)
	ln, port := listen(t)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			_, _ = conn.Write([]byte("ok"))
			_ = conn.Close()
		}
	}()

	conn, err := Dial(context.Background(), "127.0.0.1", port, Options{ConnectTimeout: time.Second})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	if conn.Family != record.FamilyIPv4 {
		t.Fatalf("unexpected family: got=%s want=%s", conn.Family, record.FamilyIPv4)
	}
	buf := make([]byte, 2)
	if _, err := conn.Read(buf); err != nil || string(buf) != "ok" {
		t.Fatalf("read: %q %v", buf, err)
	}
}

func TestDialIOTimeoutSetsDeadline(t *testing.T) {
	testlog.Start(t)
	ln, port := listen(t)
	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			accepted <- conn
		}
	}()

	conn, err := Dial(context.Background(), "127.0.0.1", port, Options{ConnectTimeout: time.Second, IOTimeout: 50 * time.Millisecond})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	defer func() {
		select {
		case c := <-accepted:
			_ = c.Close()
		default:
		}
	}()

	_, err = conn.Read(make([]byte, 1))
	if !errors.Is(err, os.ErrDeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestDialRefused(t *testing.T) {
	testlog.Start(t)
	ln, port := listen(t)
	_ = ln.Close()

	_, err := Dial(context.Background(), "127.0.0.1", port, Options{ConnectTimeout: time.Second})
	if !errors.Is(err, ErrConnect) {
		t.Fatalf("expected ErrConnect, got %v", err)
	}
}

func TestDialInvalidAddress(t *testing.T) {
	testlog.Start(t)
	cases := []struct {
		host string
		port string
	}{
		{"", "8009"},
		{"[]", "8009"},
		{"10.0.0.1", ""},
		{"10.0.0.1", "0"},
		{"10.0.0.1", "70000"},
		{"10.0.0.1", "http"},
	}
	for _, tc := range cases {
		if _, err := Dial(context.Background(), tc.host, tc.port, Options{}); !errors.Is(err, ErrInvalidAddress) {
			t.Fatalf("host=%q port=%q: expected ErrInvalidAddress, got %v", tc.host, tc.port, err)
		}
	}
}

func TestResolveLiteralSkipsLookup(t *testing.T) {
	testlog.Start(t)
	ips, err := resolve(context.Background(), nil, "fd00::1")
	if err != nil || len(ips) != 1 || !ips[0].Equal(net.ParseIP("fd00::1")) {
		t.Fatalf("unexpected resolve: %v %v", ips, err)
	}
}

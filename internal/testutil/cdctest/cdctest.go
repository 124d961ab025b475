// Package cdctest runs a scripted discovery controller for tests.
package cdctest

import (
	"errors"
	"fmt"
	"io"
	"net"
	"testing"
	"time"

	"github.com/danmuck/kdctl/internal/protocol/pdu"
)

const DefaultNQN = "nqn.2024-01.org.example:cdc"

// Script controls how the controller answers. Zero values answer a
// well-formed ICResp and accept the registration with DefaultNQN.
type Script struct {
	// ICResp replaces the encoded ICResp when set.
	ICResp []byte
	// KDResp replaces the encoded KDResp when set.
	KDResp []byte
	Status uint8
	Reason uint8
	NQN    string
	// CloseAfterICResp drops the connection before reading a KDReq.
	CloseAfterICResp bool
	// CloseAfterKDReq reads the KDReq and drops the connection unanswered.
	CloseAfterKDReq bool
}

// Exchange is what the controller saw on one connection.
type Exchange struct {
	ICReq pdu.ICReq
	KDReq pdu.KDReq
	Err   error
}

// Serve answers one handshake on conn in a goroutine and closes conn when
// done. The returned channel yields exactly one Exchange.
func Serve(t testing.TB, conn net.Conn, script Script) <-chan Exchange {
	t.Helper()
	out := make(chan Exchange, 1)
	go func() {
		defer conn.Close()
		out <- serve(conn, script)
	}()
	return out
}

// Listen accepts a single TCP connection on loopback and serves script on
// it. The listener is closed by test cleanup.
func Listen(t testing.TB, script Script) (string, <-chan Exchange) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })

	out := make(chan Exchange, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			out <- Exchange{Err: err}
			return
		}
		defer conn.Close()
		_ = conn.SetDeadline(time.Now().Add(5 * time.Second))
		out <- serve(conn, script)
	}()
	return ln.Addr().String(), out
}

// Wait returns the Exchange or fails the test after timeout.
func Wait(t testing.TB, ch <-chan Exchange, timeout time.Duration) Exchange {
	t.Helper()
	select {
	case ex := <-ch:
		return ex
	case <-time.After(timeout):
		t.Fatalf("controller did not finish within %s", timeout)
		return Exchange{}
	}
}

func serve(conn net.Conn, script Script) Exchange {
	var ex Exchange

	buf := make([]byte, pdu.ICReqSize)
	if _, err := io.ReadFull(conn, buf); err != nil {
		ex.Err = fmt.Errorf("read icreq: %w", err)
		return ex
	}
	req, err := pdu.DecodeICReq(buf)
	if err != nil {
		ex.Err = err
		return ex
	}
	ex.ICReq = req

	icresp := script.ICResp
	if icresp == nil {
		if icresp, err = pdu.EncodeICResp(pdu.ICResp{MaxData: 8192}); err != nil {
			ex.Err = err
			return ex
		}
	}
	if _, err := conn.Write(icresp); err != nil {
		ex.Err = fmt.Errorf("write icresp: %w", err)
		return ex
	}
	if script.CloseAfterICResp {
		return ex
	}

	kdreq, err := readKDReq(conn)
	if err != nil {
		ex.Err = err
		return ex
	}
	ex.KDReq = kdreq
	if script.CloseAfterKDReq {
		return ex
	}

	kdresp := script.KDResp
	if kdresp == nil {
		nqn := script.NQN
		if nqn == "" {
			nqn = DefaultNQN
		}
		kdresp, err = pdu.EncodeKDResp(pdu.KDResp{
			Status:        script.Status,
			FailureReason: script.Reason,
			NQN:           nqn,
		})
		if err != nil {
			ex.Err = err
			return ex
		}
	}
	if _, err := conn.Write(kdresp); err != nil {
		ex.Err = fmt.Errorf("write kdresp: %w", err)
	}
	return ex
}

func readKDReq(r io.Reader) (pdu.KDReq, error) {
	head := make([]byte, pdu.KDReqHeaderSize)
	if _, err := io.ReadFull(r, head); err != nil {
		return pdu.KDReq{}, fmt.Errorf("read kdreq header: %w", err)
	}
	plen := int(head[4]) | int(head[5])<<8
	if plen < pdu.KDReqHeaderSize {
		return pdu.KDReq{}, errors.New("cdctest: kdreq plen shorter than header")
	}
	b := make([]byte, plen)
	copy(b, head)
	if _, err := io.ReadFull(r, b[pdu.KDReqHeaderSize:]); err != nil {
		return pdu.KDReq{}, fmt.Errorf("read kdreq records: %w", err)
	}
	return pdu.DecodeKDReq(b)
}

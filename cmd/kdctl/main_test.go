package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/kdctl/internal/nvmet"
	"github.com/danmuck/kdctl/internal/testutil/cdctest"
	"github.com/danmuck/kdctl/internal/testutil/testlog"
)

func runJSON(t *testing.T, args ...string) (int, map[string]any) {
	t.Helper()
	var stdout bytes.Buffer
	code := run(context.Background(), append([]string{"-json"}, args...), &stdout, io.Discard)
	var m map[string]any
	if stdout.Len() > 0 {
		if err := json.Unmarshal(stdout.Bytes(), &m); err != nil {
			t.Fatalf("decode report %q: %v", stdout.String(), err)
		}
	}
	return code, m
}

func splitAddr(t *testing.T, addr string) (string, string) {
	t.Helper()
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("split %q: %v", addr, err)
	}
	return host, port
}

func makeTarget(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	ports := map[string]map[string]string{
		"1": {nvmet.AttrTransportType: "tcp", nvmet.AttrAddressFamily: "ipv4", nvmet.AttrTransportAddress: "10.0.0.1", nvmet.AttrServiceID: "4420"},
		"2": {nvmet.AttrTransportType: "loop"},
	}
	for id, attrs := range ports {
		dir := filepath.Join(root, "ports", id)
		if err := os.MkdirAll(filepath.Join(dir, "referrals"), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		for name, value := range attrs {
			if err := os.WriteFile(filepath.Join(dir, name), []byte(value+"\n"), 0o644); err != nil {
				t.Fatalf("write: %v", err)
			}
		}
	}
	return root
}

func TestRunExplicitRegistration(t *testing.T) {
	testlog.Start(t)
	addr, done := cdctest.Listen(t, cdctest.Script{})
	host, port := splitAddr(t, addr)
	dir := t.TempDir()
	tracePath := filepath.Join(dir, "kd.pcap")
	metricsPath := filepath.Join(dir, "kdctl.prom")

	code, m := runJSON(t, "-a", host, "-p", port, "-r", "tcp,10.0.0.1:4420", "-r", "fd00::2", "-trace", tracePath, "-metrics", metricsPath)
	if code != exitOK {
		t.Fatalf("exit code got=%d want=%d report=%v", code, exitOK, m)
	}
	if m["outcome"] != "registered" || m["cdc_nqn"] != cdctest.DefaultNQN || m["mode"] != "explicit" {
		t.Fatalf("unexpected report: %v", m)
	}
	ex := cdctest.Wait(t, done, 2*time.Second)
	if ex.Err != nil || len(ex.KDReq.Records) != 2 || ex.KDReq.Records[1].ServiceID != "8009" {
		t.Fatalf("unexpected exchange: %+v", ex)
	}
	for _, path := range []string{tracePath, metricsPath} {
		if info, err := os.Stat(path); err != nil || info.Size() == 0 {
			t.Fatalf("expected %s written: %v", path, err)
		}
	}
}

func TestRunAutoWritesReferrals(t *testing.T) {
	testlog.Start(t)
	root := makeTarget(t)
	addr, done := cdctest.Listen(t, cdctest.Script{})
	host, port := splitAddr(t, addr)

	code, m := runJSON(t, "-a", host, "-p", port, "-auto", "-root", root)
	if code != exitOK || m["referrals"] != float64(1) || m["referral_failures"] != float64(0) {
		t.Fatalf("unexpected result: code=%d report=%v", code, m)
	}
	ex := cdctest.Wait(t, done, 2*time.Second)
	if len(ex.KDReq.Records) != 1 || ex.KDReq.Records[0].TransportAddress != "10.0.0.1" {
		t.Fatalf("loop port must not be registered: %+v", ex.KDReq.Records)
	}
	data, err := os.ReadFile(filepath.Join(root, "ports", "1", "referrals", "cdc", nvmet.AttrServiceID))
	if err != nil || strings.TrimSpace(string(data)) != port {
		t.Fatalf("referral trsvcid got=%q err=%v want=%q", data, err, port)
	}
	if _, err := os.Stat(filepath.Join(root, "ports", "2", "referrals", "cdc")); !os.IsNotExist(err) {
		t.Fatalf("loop port must not get a referral: %v", err)
	}
}

func TestRunRejectionSkipsReferrals(t *testing.T) {
	testlog.Start(t)
	root := makeTarget(t)
	addr, _ := cdctest.Listen(t, cdctest.Script{Status: 3, Reason: 7})
	host, port := splitAddr(t, addr)

	code, m := runJSON(t, "-a", host, "-p", port, "-auto", "-root", root)
	if code != exitOK {
		t.Fatalf("rejection exit code got=%d want=%d", code, exitOK)
	}
	if m["outcome"] != "rejected" || m["failure_reason"] != float64(7) || m["level"] != "warn" {
		t.Fatalf("unexpected report: %v", m)
	}
	entries, err := os.ReadDir(filepath.Join(root, "ports", "1", "referrals"))
	if err != nil || len(entries) != 0 {
		t.Fatalf("no referral may be written after a rejection: %v %v", entries, err)
	}
}

func TestRunFailureExitCodes(t *testing.T) {
	testlog.Start(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	_, port := splitAddr(t, ln.Addr().String())
	_ = ln.Close()

	code, m := runJSON(t, "-a", "127.0.0.1", "-p", port, "-r", "10.0.0.1", "-connect-timeout", "500ms")
	if code != exitFailure || m["level"] != "error" {
		t.Fatalf("refused connect: code=%d report=%v", code, m)
	}

	code, m = runJSON(t, "-a", "127.0.0.1", "-auto", "-root", filepath.Join(t.TempDir(), "missing"))
	if code != exitFailure || m["outcome"] != "failed" {
		t.Fatalf("missing store: code=%d report=%v", code, m)
	}

	if code := run(context.Background(), []string{"-auto"}, io.Discard, io.Discard); code != exitUsage {
		t.Fatalf("usage error code got=%d want=%d", code, exitUsage)
	}
}

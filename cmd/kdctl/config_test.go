package main

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/kdctl/internal/testutil/testlog"
)

func TestLoadRunConfigDefaultsAndOverrides(t *testing.T) {
	testlog.Start(t)
	cfg, err := loadRunConfig("ex.config.toml", defaultRunConfig())
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.CDCAddress != "fd00::10" || cfg.CDCPort != "8010" {
		t.Fatalf("unexpected cdc: %q %q", cfg.CDCAddress, cfg.CDCPort)
	}
	if !cfg.Auto || len(cfg.Records) != 0 {
		t.Fatalf("expected auto mode: %+v", cfg)
	}
	if cfg.NvmetRoot != "/tmp/nvmet" || cfg.ReferralName != "parent-cdc" || cfg.ReferralEnable {
		t.Fatalf("unexpected referral settings: %+v", cfg)
	}
	if cfg.ConnectTimeout != 2*time.Second || cfg.IOTimeout != 3*time.Second {
		t.Fatalf("unexpected timeouts: %v %v", cfg.ConnectTimeout, cfg.IOTimeout)
	}
	if cfg.Trace != "kd.pcapng" || !cfg.JSON || cfg.LogLevel != "debug" {
		t.Fatalf("unexpected output settings: %+v", cfg)
	}
	if cfg.Metrics != "" {
		t.Fatalf("metrics must keep its default: %q", cfg.Metrics)
	}
}

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "kdctl.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadRunConfigKeepsUnsetDefaults(t *testing.T) {
	testlog.Start(t)
	cfg, err := loadRunConfig(writeFile(t, "cdc_address = \"10.0.0.9\"\nrecords = [\" tcp,10.0.0.1 \", \"\"]\n"), defaultRunConfig())
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	def := defaultRunConfig()
	if cfg.CDCPort != def.CDCPort || cfg.NvmetRoot != def.NvmetRoot || !cfg.ReferralEnable || cfg.IOTimeout != def.IOTimeout {
		t.Fatalf("defaults lost: %+v", cfg)
	}
	if cfg.Auto || len(cfg.Records) != 1 || cfg.Records[0] != "tcp,10.0.0.1" {
		t.Fatalf("unexpected records: %+v", cfg)
	}
}

func TestLoadRunConfigRejects(t *testing.T) {
	testlog.Start(t)
	cases := map[string]string{
		"unknown key": "cdc_address = \"x\"\nbogus = 1\n",
		"bad mode":    "mode = \"manual\"\n",
		"bad timeout": "io_timeout = \"soon\"\n",
		"bad syntax":  "cdc_address = \n",
	}
	for name, body := range cases {
		if _, err := loadRunConfig(writeFile(t, body), defaultRunConfig()); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestParseArgsFlagsOverrideFile(t *testing.T) {
	testlog.Start(t)
	path := writeFile(t, "cdc_address = \"10.0.0.9\"\nmode = \"auto\"\nio_timeout = \"3s\"\n")
	cfg, err := parseArgs([]string{"-c", path, "-a", "10.0.0.8", "-r", "10.0.0.1", "-r", "rdma,10.0.0.2:4420", "-io-timeout", "1s"}, io.Discard)
	if err != nil {
		t.Fatalf("parse args: %v", err)
	}
	if cfg.CDCAddress != "10.0.0.8" || cfg.Auto || len(cfg.Records) != 2 || cfg.IOTimeout != time.Second {
		t.Fatalf("flags must override the file: %+v", cfg)
	}
}

func TestParseArgsUsageErrors(t *testing.T) {
	testlog.Start(t)
	cases := [][]string{
		{},
		{"-a", "10.0.0.9"},
		{"-a", "10.0.0.9", "-auto", "-r", "10.0.0.1"},
		{"-a", "10.0.0.9", "-p", "0", "-auto"},
		{"-a", "10.0.0.9", "-r", "bogus,10.0.0.1"},
		{"-a", "10.0.0.9", "-auto", "extra"},
		{"-unknown"},
	}
	for _, args := range cases {
		if _, err := parseArgs(args, io.Discard); err == nil {
			t.Fatalf("args %q: expected usage error", strings.Join(args, " "))
		}
	}
}

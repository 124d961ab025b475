package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/kdctl/internal/config"
	"github.com/danmuck/kdctl/internal/nvmet"
	"github.com/danmuck/kdctl/internal/record"
	"github.com/danmuck/kdctl/internal/transport"
)

// runConfig is one kdctl invocation after defaults, file and flags.
type runConfig struct {
	CDCAddress     string
	CDCPort        string
	Auto           bool
	Records        []string
	NvmetRoot      string
	ReferralName   string
	ReferralEnable bool
	ConnectTimeout time.Duration
	IOTimeout      time.Duration
	Trace          string
	Metrics        string
	JSON           bool
	LogLevel       string
}

func defaultRunConfig() runConfig {
	return runConfig{
		CDCPort:        record.DefaultServiceID,
		NvmetRoot:      nvmet.DefaultRoot,
		ReferralName:   nvmet.DefaultReferralName,
		ReferralEnable: true,
		ConnectTimeout: transport.DefaultConnectTimeout,
		IOTimeout:      transport.DefaultIOTimeout,
	}
}

// kdctl config.toml keys; see internal/config for the template.
type fileConfig struct {
	CDCAddress     string   `toml:"cdc_address"`
	CDCPort        string   `toml:"cdc_port"`
	Mode           string   `toml:"mode"`
	Records        []string `toml:"records"`
	NvmetRoot      string   `toml:"nvmet_root"`
	ReferralName   string   `toml:"referral_name"`
	ReferralEnable bool     `toml:"referral_enable"`
	ConnectTimeout string   `toml:"connect_timeout"`
	IOTimeout      string   `toml:"io_timeout"`
	Trace          string   `toml:"trace"`
	Metrics        string   `toml:"metrics"`
	JSON           bool     `toml:"json"`
	LogLevel       string   `toml:"log_level"`
}

// loadRunConfig overlays the keys present in path onto cfg.
func loadRunConfig(path string, cfg runConfig) (runConfig, error) {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return runConfig{}, fmt.Errorf("load kdctl config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return runConfig{}, fmt.Errorf("load kdctl config: unknown keys %s", strings.Join(keys, ", "))
	}

	if meta.IsDefined("cdc_address") {
		cfg.CDCAddress = strings.TrimSpace(raw.CDCAddress)
	}
	if meta.IsDefined("cdc_port") {
		cfg.CDCPort = strings.TrimSpace(raw.CDCPort)
	}
	if meta.IsDefined("records") {
		cfg.Records = normalizeRecords(raw.Records)
	}
	if meta.IsDefined("mode") {
		switch strings.TrimSpace(raw.Mode) {
		case config.ModeAuto:
			cfg.Auto = true
		case config.ModeExplicit:
			cfg.Auto = false
		default:
			return runConfig{}, fmt.Errorf("parse mode: %q", raw.Mode)
		}
	} else if meta.IsDefined("records") {
		cfg.Auto = len(cfg.Records) == 0
	}
	if meta.IsDefined("nvmet_root") {
		cfg.NvmetRoot = strings.TrimSpace(raw.NvmetRoot)
	}
	if meta.IsDefined("referral_name") {
		cfg.ReferralName = strings.TrimSpace(raw.ReferralName)
	}
	if meta.IsDefined("referral_enable") {
		cfg.ReferralEnable = raw.ReferralEnable
	}
	if meta.IsDefined("connect_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.ConnectTimeout))
		if err != nil {
			return runConfig{}, fmt.Errorf("parse connect_timeout: %w", err)
		}
		cfg.ConnectTimeout = d
	}
	if meta.IsDefined("io_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.IOTimeout))
		if err != nil {
			return runConfig{}, fmt.Errorf("parse io_timeout: %w", err)
		}
		cfg.IOTimeout = d
	}
	if meta.IsDefined("trace") {
		cfg.Trace = strings.TrimSpace(raw.Trace)
	}
	if meta.IsDefined("metrics") {
		cfg.Metrics = strings.TrimSpace(raw.Metrics)
	}
	if meta.IsDefined("json") {
		cfg.JSON = raw.JSON
	}
	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}
	return cfg, nil
}

func normalizeRecords(in []string) []string {
	out := make([]string, 0, len(in))
	for _, r := range in {
		v := strings.TrimSpace(r)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}

func (c runConfig) validate() error {
	if c.CDCAddress == "" {
		return fmt.Errorf("cdc address is required (-a or cdc_address)")
	}
	if n, err := strconv.ParseUint(c.CDCPort, 10, 16); err != nil || n == 0 {
		return fmt.Errorf("invalid cdc port %q", c.CDCPort)
	}
	if c.Auto && len(c.Records) > 0 {
		return fmt.Errorf("-auto and explicit records are mutually exclusive")
	}
	if !c.Auto && len(c.Records) == 0 {
		return fmt.Errorf("either -auto or at least one -r record is required")
	}
	if c.ConnectTimeout < 0 || c.IOTimeout < 0 {
		return fmt.Errorf("timeouts must not be negative")
	}
	if _, err := record.ParseAll(c.Records); err != nil {
		return err
	}
	return nil
}

func (c runConfig) mode() string {
	if c.Auto {
		return config.ModeAuto
	}
	return config.ModeExplicit
}

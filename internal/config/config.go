package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/danmuck/kdctl/internal/record"
	"github.com/pelletier/go-toml/v2"
)

const (
	ModeAuto     = "auto"
	ModeExplicit = "explicit"
)

var ErrInvalidConfig = errors.New("config: invalid")

// KickstartConfig is the kdctl config file. Durations are Go duration
// strings.
type KickstartConfig struct {
	CDCAddress     string   `toml:"cdc_address"`
	CDCPort        string   `toml:"cdc_port"`
	Mode           string   `toml:"mode"`
	Records        []string `toml:"records"`
	NvmetRoot      string   `toml:"nvmet_root"`
	ReferralName   string   `toml:"referral_name"`
	ReferralEnable *bool    `toml:"referral_enable"`
	ConnectTimeout string   `toml:"connect_timeout"`
	IOTimeout      string   `toml:"io_timeout"`
	Trace          string   `toml:"trace"`
	Metrics        string   `toml:"metrics"`
	JSON           bool     `toml:"json"`
	LogLevel       string   `toml:"log_level"`
}

// LoadKickstartConfig reads path strictly: unknown keys are an error.
func LoadKickstartConfig(path string) (KickstartConfig, error) {
	var cfg KickstartConfig
	if err := loadToml(path, &cfg); err != nil {
		return KickstartConfig{}, err
	}
	if cfg.Mode == "" {
		if len(cfg.Records) > 0 {
			cfg.Mode = ModeExplicit
		} else {
			cfg.Mode = ModeAuto
		}
	}
	if err := ValidateKickstartConfig(cfg); err != nil {
		return KickstartConfig{}, err
	}
	return cfg, nil
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			keys := make([]string, 0, len(strict.Errors))
			for _, e := range strict.Errors {
				keys = append(keys, strings.Join(e.Key(), "."))
			}
			return fmt.Errorf("config parse failed (%s): %w: unknown keys %s", path, ErrInvalidConfig, strings.Join(keys, ", "))
		}
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

func ValidateKickstartConfig(cfg KickstartConfig) error {
	if strings.TrimSpace(cfg.CDCAddress) == "" {
		return fmt.Errorf("%w: cdc_address is required", ErrInvalidConfig)
	}
	if cfg.CDCPort != "" {
		if n, err := strconv.ParseUint(cfg.CDCPort, 10, 16); err != nil || n == 0 {
			return fmt.Errorf("%w: cdc_port %q", ErrInvalidConfig, cfg.CDCPort)
		}
	}
	switch cfg.Mode {
	case ModeAuto:
		if len(cfg.Records) > 0 {
			return fmt.Errorf("%w: records are not used in auto mode", ErrInvalidConfig)
		}
	case ModeExplicit:
		if len(cfg.Records) == 0 {
			return fmt.Errorf("%w: explicit mode needs records", ErrInvalidConfig)
		}
		for i, raw := range cfg.Records {
			if _, err := record.Parse(raw); err != nil {
				return fmt.Errorf("%w: records[%d]: %w", ErrInvalidConfig, i, err)
			}
		}
	default:
		return fmt.Errorf("%w: mode %q", ErrInvalidConfig, cfg.Mode)
	}
	for key, raw := range map[string]string{"connect_timeout": cfg.ConnectTimeout, "io_timeout": cfg.IOTimeout} {
		if raw == "" {
			continue
		}
		d, err := time.ParseDuration(raw)
		if err != nil || d < 0 {
			return fmt.Errorf("%w: %s %q", ErrInvalidConfig, key, raw)
		}
	}
	if strings.ContainsRune(cfg.ReferralName, '/') {
		return fmt.Errorf("%w: referral_name %q", ErrInvalidConfig, cfg.ReferralName)
	}
	return nil
}

package config

import (
	"fmt"
	"os"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case ModeAuto:
		return autoTemplate, nil
	case ModeExplicit:
		return explicitTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const autoTemplate = `cdc_address = "192.168.10.5"
cdc_port = "8009"
mode = "auto"
nvmet_root = "/sys/kernel/config/nvmet"
referral_name = "cdc"
referral_enable = true
connect_timeout = "5s"
io_timeout = "10s"
metrics = "/var/lib/node_exporter/textfile/kdctl.prom"
json = false
log_level = "info"
`

const explicitTemplate = `cdc_address = "192.168.10.5"
cdc_port = "8009"
mode = "explicit"
records = [
  "tcp,192.168.10.20:4420",
  "tcp,[fd00::20]:4420",
]
connect_timeout = "5s"
io_timeout = "10s"
json = true
log_level = "info"
`

package main

import (
	"flag"
	"os"

	"github.com/danmuck/kdctl/internal/config"
	"github.com/danmuck/kdctl/internal/logging"
	logs "github.com/danmuck/smplog"
)

const defaultPath = "cmd/kdctl/config.toml"

func main() {
	logging.ConfigureRuntime()

	kind := flag.String("kind", config.ModeAuto, "config kind: auto|explicit")
	output := flag.String("output", "", "output path for config template")
	validate := flag.Bool("validate", false, "validate an existing config file")
	input := flag.String("input", "", "config path for validation (defaults to "+defaultPath+")")
	force := flag.Bool("force", false, "overwrite existing config file")
	flag.Parse()

	if *validate {
		path := *input
		if path == "" {
			path = defaultPath
		}
		cfg, err := config.LoadKickstartConfig(path)
		if err != nil {
			logs.Errorf(err, "configgen: validate %s", path)
			os.Exit(1)
		}
		logs.Infof("Validated %s config at %s", cfg.Mode, path)
		return
	}

	target := *output
	if target == "" {
		target = defaultPath
	}
	if err := config.WriteTemplate(target, *kind, *force); err != nil {
		logs.Errorf(err, "configgen: write %s", target)
		os.Exit(1)
	}
	logs.Infof("Wrote %s config template to %s", *kind, target)
}

package main

import (
	"fmt"
	"os"

	"github.com/core-tools/hsu-limits/pkg/config"
	"github.com/core-tools/hsu-limits/pkg/daemon"
	"github.com/core-tools/hsu-limits/pkg/logging"

	flags "github.com/jessevdk/go-flags"
)

type flagOptions struct {
	Config   string `long:"config" short:"c" description:"path to YAML configuration file"`
	Duration int    `long:"duration" description:"stop after this many seconds; 0 runs until signalled"`
	LogLevel string `long:"log-level" description:"override the configured log level"`
	Validate bool   `long:"validate" description:"validate the configuration file and exit"`
}

func logPrefix(module string) string {
	return fmt.Sprintf("module: %s-server , ", module)
}

func main() {
	var opts flagOptions
	var argv []string = os.Args[1:]
	var parser = flags.NewParser(&opts, flags.HelpFlag)
	var err error
	_, err = parser.ParseArgs(argv)
	if err != nil {
		fmt.Printf("Command line flags parsing failed: %v\n", err)
		os.Exit(1)
	}

	if opts.Validate {
		if err := daemon.ValidateConfigFile(opts.Config); err != nil {
			fmt.Printf("Configuration is invalid: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Configuration is valid")
		return
	}

	cfg, err := config.Load(opts.Config)
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if opts.LogLevel != "" {
		cfg.Logging.Level = opts.LogLevel
	}

	sugar, err := logging.NewZapSugaredLogger(cfg.Logging)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer sugar.Sync()

	logger := logging.NewZapLogger(logPrefix("hsu-limits"), sugar)
	logger.Infof("opts: %+v", opts)
	logger.Infof("Configuration: %+v", daemon.GetConfigSummary(cfg))

	if err := daemon.Run(opts.Duration, cfg, logger); err != nil {
		logger.Errorf("Reconcile daemon failed: %v", err)
		_ = sugar.Sync()
		os.Exit(1)
	}
}

package main

import (
	"fmt"
	"os"

	"github.com/core-tools/hsu-limits/pkg/cgroup"
	"github.com/core-tools/hsu-limits/pkg/config"
	"github.com/core-tools/hsu-limits/pkg/logging"

	flags "github.com/jessevdk/go-flags"
	"go.uber.org/zap"
)

type flagOptions struct {
	Config   string `long:"config" short:"c" description:"path to YAML configuration file"`
	LogLevel string `long:"log-level" description:"debug, info, warn or error"`
}

func logPrefix(module string) string {
	return fmt.Sprintf("module: %s-client , ", module)
}

// app carries what every subcommand needs; it is built on first use so
// that --help works without a cgroup hierarchy.
type app struct {
	opts     flagOptions
	config   *config.Config
	sugar    *zap.SugaredLogger
	logger   logging.Logger
	exitCode int
}

func (a *app) setup() error {
	if a.logger != nil {
		return nil
	}

	cfg, err := config.Load(a.opts.Config)
	if err != nil {
		return err
	}
	if a.opts.LogLevel != "" {
		if _, err := logging.ParseLevel(a.opts.LogLevel); err != nil {
			return err
		}
		cfg.Logging.Level = a.opts.LogLevel
	}

	sugar, err := logging.NewZapSugaredLogger(cfg.Logging)
	if err != nil {
		return err
	}

	a.config = cfg
	a.sugar = sugar
	a.logger = logging.NewZapLogger(logPrefix("hsu-limits"), sugar)
	return nil
}

func (a *app) manager() (*cgroup.Manager, error) {
	if err := a.setup(); err != nil {
		return nil, err
	}
	return cgroup.NewManager(a.config.ManagerOptions(), a.logger)
}

func (a *app) close() {
	if a.sugar != nil {
		_ = a.sugar.Sync()
	}
}

func main() {
	a := &app{}
	var argv []string = os.Args[1:]
	var parser = flags.NewParser(&a.opts, flags.HelpFlag|flags.PassDoubleDash)

	mustAddCommand(parser, "limit", "Limit running processes",
		"Moves the processes selected by --pid or --name into their own cgroup and applies the given limits.",
		&limitCommand{app: a})
	mustAddCommand(parser, "unlimit", "Remove limits from running processes",
		"Evacuates and removes the cgroups created by limit for the selected processes.",
		&unlimitCommand{app: a})
	mustAddCommand(parser, "run", "Run a command under limits",
		"Prepares a cgroup, starts the command after -- inside it and waits for it to exit.",
		&runCommand{app: a})
	mustAddCommand(parser, "status", "Show managed processes",
		"Lists live managed processes with their limits and removes cgroups whose process is gone.",
		&statusCommand{app: a})
	mustAddCommand(parser, "ps", "List visible processes",
		"Lists every process with a readable short name, sorted by name.",
		&psCommand{app: a})
	mustAddCommand(parser, "doctor", "Check the host for cgroup v2 support",
		"Checks the unified hierarchy, controllers, user delegation and base path permissions.",
		&doctorCommand{app: a})

	_, err := parser.ParseArgs(argv)
	a.close()
	if err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			fmt.Println(flagsErr.Message)
			os.Exit(0)
		}
		if _, ok := err.(*flags.Error); ok {
			fmt.Fprintf(os.Stderr, "Command line flags parsing failed: %v\n", err)
			os.Exit(2)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	os.Exit(a.exitCode)
}

func mustAddCommand(parser *flags.Parser, name, short, long string, data interface{}) {
	if _, err := parser.AddCommand(name, short, long, data); err != nil {
		panic(err)
	}
}

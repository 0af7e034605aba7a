package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/core-tools/hsu-limits/pkg/cgroup"
	"github.com/core-tools/hsu-limits/pkg/doctor"
	"github.com/core-tools/hsu-limits/pkg/errors"
	"github.com/core-tools/hsu-limits/pkg/launch"
	"github.com/core-tools/hsu-limits/pkg/limits"
	"github.com/core-tools/hsu-limits/pkg/process"
	"github.com/core-tools/hsu-limits/pkg/status"
)

// TargetFlags selects running processes.
type TargetFlags struct {
	PID  string `long:"pid" short:"p" description:"target process id"`
	Name string `long:"name" short:"n" description:"target every process with this short or executable name"`
}

type LimitFlags struct {
	Memory  string `long:"memory" short:"m" description:"memory ceiling, e.g. 512M or 2G"`
	CPU     string `long:"cpu" description:"CPU share in percent of one core, e.g. 50% or 150"`
	IORead  string `long:"io-read" description:"read bandwidth per second on every disk, e.g. 10M"`
	IOWrite string `long:"io-write" description:"write bandwidth per second on every disk, e.g. 5M"`
}

func (f LimitFlags) build() (limits.Limit, error) {
	return limits.Build(f.Memory, f.CPU, f.IORead, f.IOWrite)
}

func (a *app) resolveTargets(target TargetFlags) ([]int, error) {
	if err := a.setup(); err != nil {
		return nil, err
	}
	pid := 0
	if target.PID != "" {
		parsed, err := process.ValidatePID(target.PID)
		if err != nil {
			return nil, err
		}
		pid = parsed
	}
	return process.NewResolver(a.config.Cgroup.ProcRoot, a.logger).ResolvePIDs(pid, target.Name)
}

type limitCommand struct {
	TargetFlags
	LimitFlags
	DryRun bool `long:"dry-run" description:"print what would be applied without touching cgroups"`

	app *app
}

func (c *limitCommand) Execute(args []string) error {
	limit, err := c.build()
	if err != nil {
		return err
	}
	if limit.IsEmpty() {
		return errors.NewValidationError("no limits specified", nil).
			WithHint("pass at least one of --memory, --cpu, --io-read or --io-write")
	}

	pids, err := c.app.resolveTargets(c.TargetFlags)
	if err != nil {
		return err
	}
	resolver := process.NewResolver(c.app.config.Cgroup.ProcRoot, c.app.logger)

	if c.DryRun {
		for _, pid := range pids {
			fmt.Printf("would limit %d (%s): %s\n", pid, resolver.Name(pid), limit)
		}
		return nil
	}

	manager, err := c.app.manager()
	if err != nil {
		return err
	}

	failures := errors.NewErrorCollection()
	for _, pid := range pids {
		if err := manager.ApplyLimit(pid, limit); err != nil {
			c.app.logger.Errorf("Failed to limit process, pid: %d, error: %v", pid, err)
			failures.Add(err)
			continue
		}
		fmt.Printf("limited %d (%s): %s\n", pid, resolver.Name(pid), limit)
	}
	return failures.ToError()
}

type unlimitCommand struct {
	TargetFlags

	app *app
}

func (c *unlimitCommand) Execute(args []string) error {
	pids, err := c.app.resolveTargets(c.TargetFlags)
	if err != nil {
		return err
	}
	manager, err := c.app.manager()
	if err != nil {
		return err
	}

	failures := errors.NewErrorCollection()
	for _, pid := range pids {
		if err := manager.RemoveLimit(pid); err != nil {
			failures.Add(err)
			continue
		}
		fmt.Printf("unlimited %d\n", pid)
	}
	return failures.ToError()
}

type runCommand struct {
	LimitFlags
	NewProcessGroup bool `long:"new-process-group" description:"start the command in its own process group"`
	Args            struct {
		Command []string `positional-arg-name:"command" required:"1"`
	} `positional-args:"yes"`

	app *app
}

func (c *runCommand) Execute(args []string) error {
	limit, err := c.build()
	if err != nil {
		return err
	}

	manager, err := c.app.manager()
	if err != nil {
		return err
	}
	if limit.IsEmpty() {
		limit = c.app.config.DefaultLimit()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	command := append(c.Args.Command, args...)
	code, err := launch.NewLauncher(manager, c.app.logger).Run(ctx, launch.RunOptions{
		Name:  launch.RunName(os.Getpid()),
		Limit: limit,
		Execution: process.ExecutionConfig{
			ExecutablePath:  command[0],
			Args:            command[1:],
			NewProcessGroup: c.NewProcessGroup,
		},
	})
	if err != nil {
		return err
	}
	c.app.exitCode = code
	return nil
}

type statusCommand struct {
	app *app
}

func (c *statusCommand) Execute(args []string) error {
	manager, err := c.app.manager()
	if err != nil {
		return err
	}
	statuses, err := status.NewReconciler(manager, c.app.logger).Reconcile()
	if err != nil {
		return err
	}

	if len(statuses) == 0 {
		fmt.Println("no managed processes")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PID\tNAME\tCGROUP\tMEMORY\tCPU\tIO READ\tIO WRITE")
	for _, s := range statuses {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", s.PID, s.Name, s.Cgroup, formatLimitColumns(s.Limit))
	}
	return w.Flush()
}

func formatLimitColumns(limit limits.Limit) string {
	memory, cpu, read, write := "-", "-", "-", "-"
	if limit.Memory != nil {
		memory = limit.Memory.String()
	}
	if limit.CPU != nil {
		cpu = limit.CPU.String()
	}
	if limit.IO != nil {
		if limit.IO.ReadBPS != nil {
			read = limits.FormatBytes(*limit.IO.ReadBPS) + "/s"
		}
		if limit.IO.WriteBPS != nil {
			write = limits.FormatBytes(*limit.IO.WriteBPS) + "/s"
		}
	}
	return fmt.Sprintf("%s\t%s\t%s\t%s", memory, cpu, read, write)
}

type psCommand struct {
	app *app
}

func (c *psCommand) Execute(args []string) error {
	if err := c.app.setup(); err != nil {
		return err
	}
	processes, err := process.NewResolver(c.app.config.Cgroup.ProcRoot, c.app.logger).ListAll()
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PID\tNAME")
	for _, p := range processes {
		fmt.Fprintf(w, "%d\t%s\n", p.PID, p.Name)
	}
	return w.Flush()
}

type doctorCommand struct {
	app *app
}

func (c *doctorCommand) Execute(args []string) error {
	if err := c.app.setup(); err != nil {
		return err
	}

	opts := c.app.config.ManagerOptions()
	if opts.UID < 0 {
		opts.UID = cgroup.HostUID(opts.ProcRoot)
	}
	basePath := opts.BasePath
	if manager, err := cgroup.NewManager(opts, c.app.logger); err == nil {
		basePath = manager.BasePath()
	}

	report := doctor.Check(doctor.Options{
		Root:        opts.Root,
		UID:         opts.UID,
		Controllers: opts.Controllers,
		BasePath:    basePath,
	})

	for _, check := range report.Checks {
		if check.OK {
			fmt.Printf("[ok]   %s\n", check.Name)
			continue
		}
		fmt.Printf("[FAIL] %s\n", check.Name)
		if check.Hint != "" {
			fmt.Printf("       %s\n", check.Hint)
		}
	}

	if !report.AllOK() {
		c.app.exitCode = 1
	}
	return nil
}

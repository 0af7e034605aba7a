package daemon

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/core-tools/hsu-limits/pkg/cgroup"
	"github.com/core-tools/hsu-limits/pkg/config"
	"github.com/core-tools/hsu-limits/pkg/errors"
	"github.com/core-tools/hsu-limits/pkg/logging"
	"github.com/core-tools/hsu-limits/pkg/processfile"
	"github.com/core-tools/hsu-limits/pkg/status"
)

// PIDFileName names the daemon PID file inside the PID directory.
const PIDFileName = "rlmsrv"

// Run serves until SIGINT/SIGTERM, or until runDuration seconds pass when
// runDuration is positive. Only one daemon runs per PID directory.
func Run(runDuration int, cfg *config.Config, logger logging.Logger) error {
	logger.Infof("Reconcile daemon starting...")

	pidFiles := processfile.NewProcessFileManager(processfile.ProcessFileConfig{
		BaseDirectory:   cfg.Daemon.PIDDirectory,
		UseSubdirectory: cfg.Daemon.PIDDirectory == "",
	}, logger)
	pid := os.Getpid()
	if _, err := pidFiles.AcquirePIDFile(PIDFileName, pid); err != nil {
		return err
	}
	defer func() {
		if err := pidFiles.ReleasePIDFile(PIDFileName, pid); err != nil {
			logger.Warnf("Failed to release PID file, error: %v", err)
		}
	}()

	// Create context with run duration
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if runDuration > 0 {
		duration := time.Duration(runDuration) * time.Second
		logger.Infof("Using RUN DURATION of %v", duration)
		ctx, cancel = context.WithTimeout(ctx, duration)
		defer cancel()
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sig)

	go func() {
		select {
		case receivedSignal := <-sig:
			logger.Infof("Reconcile daemon received signal: %v", receivedSignal)
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := Serve(ctx, cfg, logger); err != nil {
		return err
	}

	logger.Infof("Reconcile daemon stopped")
	return nil
}

// Serve reconciles once immediately, then on the configured schedule until
// ctx is done.
func Serve(ctx context.Context, cfg *config.Config, logger logging.Logger) error {
	logger = logging.OrNop(logger)

	manager, err := cgroup.NewManager(cfg.ManagerOptions(), logger)
	if err != nil {
		return err
	}
	logger.Infof("Managing cgroups under %s", manager.BasePath())

	scheduler, err := status.NewScheduler(status.NewReconciler(manager, logger), cfg.Reconcile.Schedule, logger)
	if err != nil {
		return err
	}
	scheduler.SetCallback(func(statuses []status.ProcessStatus) {
		logStatuses(logger, statuses)
	})

	scheduler.RunOnce()
	if err := scheduler.Start(ctx); err != nil {
		return errors.NewInternalError("failed to start reconcile scheduler", err)
	}

	<-ctx.Done()

	// Stop is idempotent and waits for a run in progress.
	scheduler.Stop()
	return nil
}

func logStatuses(logger logging.Logger, statuses []status.ProcessStatus) {
	logger.Infof("Managed processes: %d", len(statuses))
	for _, s := range statuses {
		logger.Infof("Managed process, pid: %d, name: %s, cgroup: %s, limits: %s", s.PID, s.Name, s.Cgroup, s.Limit)
	}
}

// ValidateConfigFile validates a configuration file without running.
func ValidateConfigFile(configFile string) error {
	_, err := config.Load(configFile)
	return err
}

// GetConfigSummary returns a human-readable summary of the configuration.
func GetConfigSummary(cfg *config.Config) ConfigSummary {
	if cfg == nil {
		return ConfigSummary{Error: "configuration is nil"}
	}

	summary := ConfigSummary{
		Root:        cfg.Cgroup.Root,
		BasePath:    cfg.Cgroup.BasePath,
		GroupName:   cfg.Cgroup.GroupName,
		Controllers: strings.Join(cfg.Cgroup.Controllers, ","),
		Schedule:    cfg.Reconcile.Schedule,
		LogLevel:    cfg.Logging.Level,
		Defaults:    cfg.DefaultLimit().String(),
	}
	if summary.BasePath == "" {
		summary.BasePath = "auto"
	}
	return summary
}

// ConfigSummary provides a high-level overview of configuration
type ConfigSummary struct {
	Root        string `json:"root"`
	BasePath    string `json:"base_path"`
	GroupName   string `json:"group_name"`
	Controllers string `json:"controllers"`
	Schedule    string `json:"schedule"`
	LogLevel    string `json:"log_level"`
	Defaults    string `json:"defaults"`
	Error       string `json:"error,omitempty"`
}
